package sso

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/cloudrounds/rounds/pkg/apperrors"
	"github.com/cloudrounds/rounds/pkg/config"
)

// Identity is the verified claim set extracted from a provider's ID
// token. Issuer and Subject together identify one external account.
type Identity struct {
	Issuer   string
	Subject  string
	Email    string
	Username string
	FullName string
}

// Exchanger is the part of the OIDC flow the handlers depend on; tests
// substitute a stub so no identity provider is needed.
type Exchanger interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// OIDCProvider performs the authorization-code exchange against a
// discovered OpenID Connect issuer.
type OIDCProvider struct {
	issuer       string
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewOIDCProvider discovers the issuer's endpoints and builds the
// verifier and OAuth2 client for it.
func NewOIDCProvider(ctx context.Context, cfg config.OIDCConfig) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}

	return &OIDCProvider{
		issuer:       cfg.IssuerURL,
		verifier:     verifier,
		oauth2Config: oauth2Config,
	}, nil
}

// AuthCodeURL returns the provider's authorization URL for state.
func (p *OIDCProvider) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state)
}

// Exchange trades the authorization code for tokens, verifies the ID
// token's signature and audience, and returns the identity it asserts.
func (p *OIDCProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	oauth2Token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, apperrors.Unauthenticatedf("code exchange failed: %v", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, apperrors.Unauthenticatedf("provider response missing id_token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, apperrors.Unauthenticatedf("id token verification failed: %v", err)
	}

	var claims struct {
		Email             string `json:"email"`
		PreferredUsername string `json:"preferred_username"`
		Name              string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse id token claims: %w", err)
	}

	return &Identity{
		Issuer:   idToken.Issuer,
		Subject:  idToken.Subject,
		Email:    claims.Email,
		Username: claims.PreferredUsername,
		FullName: claims.Name,
	}, nil
}
