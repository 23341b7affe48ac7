// Package auth establishes sessions for incoming requests. It validates
// bearer tokens, refreshes expired ones (at most one refresh per token across
// all gateway instances), orchestrates login and logout against the identity
// provider and evaluates role guards.
package auth

import (
	"context"
	"time"

	"github.com/jrsteele09/go-session-gateway/idp"
	"github.com/jrsteele09/go-session-gateway/internal/metrics"
	"github.com/jrsteele09/go-session-gateway/sessions"
	"github.com/jrsteele09/go-session-gateway/token"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	defaultIdPTimeout   = 10 * time.Second
	defaultLockTTL      = 15 * time.Second
	defaultPollInterval = 50 * time.Millisecond

	// lockTTLMargin covers the store round trips around the IdP call while a lease is held.
	lockTTLMargin = 2 * time.Second
)

// TokenDecoder is implemented by *token.Validator.
type TokenDecoder interface {
	Decode(ctx context.Context, raw string) (token.Claims, error)
	DecodeIgnoringExpiry(ctx context.Context, raw string) (token.Claims, error)
	DecodeIDToken(ctx context.Context, raw string) (token.Claims, error)
}

// Deps holds the collaborators, constructed once at start-up.
type Deps struct {
	IdP      idp.Provider
	Tokens   TokenDecoder
	Sessions *sessions.Manager
	Lock     sessions.RefreshLock
	Metrics  *metrics.Recorder // optional
}

type Config struct {
	// RoleGroup is the resource_access entry holding the application roles.
	RoleGroup string
	// RequiredRole must be present for a session to be created or refreshed.
	RequiredRole string
	IdPTimeout   time.Duration
	// LockTTL bounds how long a request waits for a concurrent refresh. It is
	// raised to MinLockTTL(IdPTimeout) when shorter.
	LockTTL      time.Duration
	PollInterval time.Duration
}

type Authenticator struct {
	deps     Deps
	cfg      Config
	inflight singleflight.Group
}

func NewAuthenticator(deps Deps, cfg Config) *Authenticator {
	if cfg.IdPTimeout <= 0 {
		cfg.IdPTimeout = defaultIdPTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if floor := MinLockTTL(cfg.IdPTimeout); cfg.LockTTL < floor {
		log.Warn().
			Dur("lock_ttl", cfg.LockTTL).
			Dur("idp_timeout", cfg.IdPTimeout).
			Dur("raised_to", floor).
			Msg("refresh lock TTL shorter than the IdP timeout")
		cfg.LockTTL = floor
	}
	return &Authenticator{
		deps: deps,
		cfg:  cfg,
	}
}

// LockTTL is the effective wait bound for concurrent refreshes.
func (a *Authenticator) LockTTL() time.Duration {
	return a.cfg.LockTTL
}

// MinLockTTL is the shortest refresh lock lease that outlives an IdP call
// bounded by idpTimeout. Shorter leases let waiters give up while the holder
// is still refreshing.
func MinLockTTL(idpTimeout time.Duration) time.Duration {
	if idpTimeout <= 0 {
		idpTimeout = defaultIdPTimeout
	}
	return idpTimeout + lockTTLMargin
}

// RefreshState is the position of a request in the refresh state machine.
type RefreshState int

const (
	StateValid RefreshState = iota
	StateExpired
	StateRefreshing
	StateRefreshed
	StateFailed
)

func (s RefreshState) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateExpired:
		return "expired"
	case StateRefreshing:
		return "refreshing"
	case StateRefreshed:
		return "refreshed"
	default:
		return "failed"
	}
}

// Session is an established session for one request.
type Session struct {
	Record *sessions.Record
	// State is StateValid or StateRefreshed.
	State RefreshState
}

func (s *Session) Claims() token.Claims {
	return s.Record.Decoded.AccessToken
}

func (s *Session) AccessToken() string {
	return s.Record.AccessToken
}

// RewriteCookie reports whether the caller's token was replaced and the
// session cookie has to carry the new one.
func (s *Session) RewriteCookie() bool {
	return s.State == StateRefreshed
}

func transition(key string, from, to RefreshState) {
	log.Debug().Str("session", key).Stringer("from", from).Stringer("to", to).Msg("session state")
}
