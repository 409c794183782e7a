// Package sso implements single sign-on via OpenID Connect.
//
// The flow is the standard authorization-code exchange: /auth/sso/login
// redirects to the identity provider with a random state bound to a
// cookie, and /auth/sso/callback verifies the returned ID token, maps
// the (issuer, subject) pair to a local account, and answers with the
// same opaque API token a password login would produce. Accounts are
// provisioned just-in-time on first login; SSO accounts carry no usable
// password, so they can only sign in through the provider.
package sso
