// Package api assembles the HTTP surface: it mounts every feature
// package's routes on one gorilla/mux router and layers the shared
// middleware (request IDs, recovery, CORS, logging, metrics, auth,
// rate limiting) around them.
//
// Routes split into three tiers. Public routes carry no auth:
// credential endpoints and the SSO flow. Authenticated routes sit
// behind the bearer-token middleware and rate limiting. Admin routes
// additionally require the is_admin flag.
package api
