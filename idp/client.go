// Package idp talks to the OpenID identity provider: password, authorization
// code and refresh grants, and refresh token revocation at logout.
package idp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	apperrors "github.com/jrsteele09/go-session-gateway/internal/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// TokenBundle is what a successful grant returns.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time
}

// Provider is the subset of the identity provider the gateway depends on.
type Provider interface {
	Token(ctx context.Context, username, password string) (*TokenBundle, error)
	ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenBundle, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenBundle, error)
	Revoke(ctx context.Context, refreshToken string) error
	AuthCodeURL(state, nonce, redirectURI string) string
}

type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// HTTPClient defaults to a pooled cleanhttp client.
	HTTPClient *http.Client
}

type Client struct {
	provider   *oidc.Provider
	oauth      oauth2.Config
	httpClient *http.Client
	logoutURL  string
}

var _ Provider = (*Client)(nil)

type providerEndpoints struct {
	EndSession string `json:"end_session_endpoint"`
	Revocation string `json:"revocation_endpoint"`
}

// New runs OIDC discovery against cfg.IssuerURL.
func New(ctx context.Context, cfg Config) (*Client, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: discovery %s: %v", apperrors.ErrIdPUnavailable, cfg.IssuerURL, err)
	}

	var endpoints providerEndpoints
	if err := provider.Claims(&endpoints); err != nil {
		return nil, fmt.Errorf("decode discovery document: %w", err)
	}
	logoutURL := endpoints.EndSession
	if logoutURL == "" {
		logoutURL = endpoints.Revocation
	}

	endpoint := provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID}
	}

	return &Client{
		provider:   provider,
		httpClient: httpClient,
		logoutURL:  logoutURL,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
	}, nil
}

// OIDCProvider exposes the discovered provider for token verification.
func (c *Client) OIDCProvider() *oidc.Provider {
	return c.provider
}

func (c *Client) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// Token performs the resource owner password grant.
func (c *Client) Token(ctx context.Context, username, password string) (*TokenBundle, error) {
	tok, err := c.oauth.PasswordCredentialsToken(c.context(ctx), username, password)
	if err != nil {
		return nil, grantError(err, apperrors.ErrInvalidCredentials)
	}
	return bundle(tok), nil
}

// ExchangeCode redeems an authorization code issued for redirectURI.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenBundle, error) {
	cfg := c.oauth
	cfg.RedirectURL = redirectURI
	tok, err := cfg.Exchange(c.context(ctx), code)
	if err != nil {
		return nil, grantError(err, apperrors.ErrInvalidCredentials)
	}
	return bundle(tok), nil
}

// Refresh redeems refreshToken for a new token set. A rejected refresh token
// means the user must authenticate again.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenBundle, error) {
	src := c.oauth.TokenSource(c.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, grantError(err, apperrors.ErrSessionExpired)
	}
	return bundle(tok), nil
}

// Revoke ends the provider side session that owns refreshToken.
func (c *Client) Revoke(ctx context.Context, refreshToken string) error {
	if c.logoutURL == "" {
		return fmt.Errorf("%w: provider advertises no logout endpoint", apperrors.ErrLogoutFailure)
	}

	form := url.Values{
		"client_id":     {c.oauth.ClientID},
		"client_secret": {c.oauth.ClientSecret},
		"refresh_token": {refreshToken},
		"token":         {refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.logoutURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrLogoutFailure, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w: %v", apperrors.ErrLogoutFailure, apperrors.ErrIdPUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := string(body)
	if err != nil {
		log.Warn().Err(err).Int("status", resp.StatusCode).Msg("reading logout response body")
		detail = fmt.Sprintf("%s (body read: %v)", body, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %w: status %d: %s", apperrors.ErrLogoutFailure, apperrors.ErrIdPUnavailable, resp.StatusCode, detail)
	default:
		return fmt.Errorf("%w: status %d: %s", apperrors.ErrLogoutFailure, resp.StatusCode, detail)
	}
}

// AuthCodeURL builds the provider login URL for the authorization code flow.
func (c *Client) AuthCodeURL(state, nonce, redirectURI string) string {
	cfg := c.oauth
	cfg.RedirectURL = redirectURI
	return cfg.AuthCodeURL(state, oidc.Nonce(nonce))
}

func bundle(tok *oauth2.Token) *TokenBundle {
	idToken, _ := tok.Extra("id_token").(string)
	return &TokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      idToken,
		Expiry:       tok.Expiry,
	}
}

// grantError maps a failed grant onto the error taxonomy. rejected is used when
// the provider refused the grant itself (bad password, used or revoked token).
func grantError(err error, rejected error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		switch {
		case re.ErrorCode == "invalid_client" || re.ErrorCode == "unauthorized_client":
			return fmt.Errorf("%w: client rejected: %s", apperrors.ErrIdPUnavailable, re.ErrorCode)
		case status >= 500:
			return fmt.Errorf("%w: status %d", apperrors.ErrIdPUnavailable, status)
		case status >= 400 || re.ErrorCode != "":
			return fmt.Errorf("%w: %s", rejected, re.ErrorCode)
		}
	}
	return fmt.Errorf("%w: %v", apperrors.ErrIdPUnavailable, err)
}
