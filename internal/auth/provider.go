package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/MrSnakeDoc/shelf/internal/domain"
	"github.com/MrSnakeDoc/shelf/internal/logger"
)

// Provider is the external OAuth/OIDC collaborator.
type Provider interface {
	// Name identifies the provider in owner ids ("google").
	Name() string

	// AuthCodeURL builds the redirect to the provider consent page with a
	// S256 PKCE challenge derived from verifier.
	AuthCodeURL(state, verifier string) string

	// Exchange trades the callback code for a verified identity.
	Exchange(ctx context.Context, code, verifier string) (domain.Identity, error)
}

// OIDCOptions configures an OIDC provider.
type OIDCOptions struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// OIDCProvider signs users in with an OpenID Connect issuer (Google by default).
type OIDCProvider struct {
	name        string
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	logger      logger.Logger
}

// NewOIDC discovers the issuer configuration and builds the provider.
func NewOIDC(ctx context.Context, opts OIDCOptions, log logger.Logger) (*OIDCProvider, error) {
	if opts.Issuer == "" || opts.ClientID == "" || opts.ClientSecret == "" || opts.RedirectURL == "" {
		return nil, errors.New("oidc config missing required fields")
	}

	oidcProvider, err := oidc.NewProvider(ctx, opts.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to init oidc provider %s: %w", opts.Issuer, err)
	}

	return &OIDCProvider{
		name:     providerName(opts.Issuer),
		verifier: oidcProvider.Verifier(&oidc.Config{ClientID: opts.ClientID}),
		oauthConfig: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint:     oidcProvider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		logger: log.With(logger.String("component", "oidc")),
	}, nil
}

func (p *OIDCProvider) Name() string { return p.name }

func (p *OIDCProvider) AuthCodeURL(state, verifier string) string {
	return p.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
}

func (p *OIDCProvider) Exchange(ctx context.Context, code, verifier string) (domain.Identity, error) {
	token, err := p.oauthConfig.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return domain.Identity{}, &domain.AuthError{Reason: "token exchange failed", Err: err}
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return domain.Identity{}, &domain.AuthError{Reason: "provider did not return an id_token"}
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return domain.Identity{}, &domain.AuthError{Reason: "id_token verification failed", Err: err}
	}

	var c claims
	if err := idToken.Claims(&c); err != nil {
		return domain.Identity{}, &domain.AuthError{Reason: "id_token claims unreadable", Err: err}
	}

	identity, err := c.identity(p.name)
	if err != nil {
		return domain.Identity{}, err
	}

	p.logger.Debug("oidc identity verified",
		logger.String("issuer", idToken.Issuer),
		logger.String("owner_id", identity.ID),
		logger.Bool("email_verified", c.EmailVerified))
	return identity, nil
}

type claims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (c claims) identity(provider string) (domain.Identity, error) {
	if c.Subject == "" {
		return domain.Identity{}, &domain.AuthError{Reason: "id_token missing subject"}
	}
	return domain.Identity{
		ID:        domain.OwnerID(provider, c.Subject),
		Provider:  provider,
		Subject:   c.Subject,
		Email:     c.Email,
		Name:      c.Name,
		AvatarURL: c.Picture,
	}, nil
}

// providerName maps an issuer URL to a short provider name.
func providerName(issuer string) string {
	u, err := url.Parse(issuer)
	if err != nil || u.Host == "" {
		return issuer
	}
	host := strings.ToLower(u.Hostname())
	if host == "accounts.google.com" {
		return "google"
	}
	return host
}
