package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/go-session-gateway/idp"
	apperrors "github.com/jrsteele09/go-session-gateway/internal/errors"
	"github.com/jrsteele09/go-session-gateway/internal/metrics"
	"github.com/jrsteele09/go-session-gateway/sessions"
	"github.com/rs/zerolog/log"
)

// SessionData resolves a raw bearer token to its session, refreshing the
// session when the token has expired.
func (a *Authenticator) SessionData(ctx context.Context, raw string) (*Session, error) {
	claims, err := a.deps.Tokens.Decode(ctx, raw)
	if err != nil {
		if errors.Is(err, apperrors.ErrTokenExpired) {
			return a.refresh(ctx, raw)
		}
		return nil, err
	}

	rec, err := a.deps.Sessions.Load(ctx, claims.ID)
	if err != nil {
		transition(sessions.Key(claims.ID), StateValid, StateFailed)
		return nil, err
	}
	return &Session{Record: rec, State: StateValid}, nil
}

func (a *Authenticator) refresh(ctx context.Context, raw string) (*Session, error) {
	expired, err := a.deps.Tokens.DecodeIgnoringExpiry(ctx, raw)
	if err != nil {
		return nil, err
	}
	jti := expired.ID
	transition(sessions.Key(jti), StateValid, StateExpired)

	// A client going away must not interrupt the store writes below.
	ctx = context.WithoutCancel(ctx)

	v, err, _ := a.inflight.Do(jti, func() (any, error) {
		return a.refreshOnce(ctx, jti)
	})
	if err != nil {
		return nil, err
	}
	return &Session{Record: v.(*sessions.Record), State: StateRefreshed}, nil
}

// refreshOnce replaces the session of jti. Exactly one caller across all
// instances holds the lease and talks to the provider; the others adopt the
// session it publishes.
func (a *Authenticator) refreshOnce(ctx context.Context, jti string) (*sessions.Record, error) {
	key := sessions.Key(jti)
	deadline := time.Now().Add(a.cfg.LockTTL)

	for {
		if rec, done, err := a.adopt(ctx, jti); done {
			return rec, err
		}

		lease, err := a.deps.Lock.Acquire(ctx, jti)
		if err != nil {
			transition(key, StateExpired, StateFailed)
			return nil, err
		}
		if lease != nil {
			return a.refreshHeld(ctx, lease)
		}

		if err := a.awaitRelease(ctx, jti, deadline); err != nil {
			transition(key, StateExpired, StateFailed)
			a.deps.Metrics.Refresh(metrics.OutcomeFailure)
			return nil, err
		}
	}
}

// adopt loads the replacement published for jti, if any.
func (a *Authenticator) adopt(ctx context.Context, jti string) (*sessions.Record, bool, error) {
	newJTI, ok, err := a.deps.Lock.Result(ctx, jti)
	if err != nil {
		return nil, true, err
	}
	if !ok {
		return nil, false, nil
	}

	rec, err := a.deps.Sessions.Load(ctx, newJTI)
	if err != nil {
		transition(sessions.Key(jti), StateExpired, StateFailed)
		a.deps.Metrics.Refresh(metrics.OutcomeFailure)
		return nil, true, fmt.Errorf("%w: replacement session %s is gone", apperrors.ErrSessionExpired, sessions.Key(newJTI))
	}
	transition(sessions.Key(jti), StateExpired, StateRefreshed)
	a.deps.Metrics.Refresh(metrics.OutcomeAdopted)
	return rec, true, nil
}

// awaitRelease waits for another holder to finish refreshing jti.
func (a *Authenticator) awaitRelease(ctx context.Context, jti string, deadline time.Time) error {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		held, err := a.deps.Lock.Held(ctx, jti)
		if err != nil {
			return err
		}
		if !held {
			return nil
		}
		if _, ok, err := a.deps.Lock.Result(ctx, jti); err != nil || ok {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: timed out waiting for concurrent refresh of %s", apperrors.ErrIdPUnavailable, sessions.Key(jti))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Authenticator) refreshHeld(ctx context.Context, lease *sessions.Lease) (*sessions.Record, error) {
	jti := lease.JTI
	key := sessions.Key(jti)
	defer func() {
		if err := a.deps.Lock.Release(ctx, lease); err != nil {
			log.Warn().Err(err).Str("session", key).Msg("releasing refresh lock")
		}
	}()

	// The previous holder may have published between our check and Acquire.
	if rec, done, err := a.adopt(ctx, jti); done {
		return rec, err
	}

	rec, err := a.rotate(ctx, jti)
	if err != nil {
		transition(key, StateRefreshing, StateFailed)
		log.Warn().Err(err).Str("session", key).Msg("session refresh failed")
		a.deps.Metrics.Refresh(metrics.OutcomeFailure)
		return nil, err
	}

	if err := a.deps.Lock.Publish(ctx, jti, rec.JTI()); err != nil {
		log.Warn().Err(err).Str("session", key).Msg("publishing refreshed session")
	}
	transition(key, StateRefreshing, StateRefreshed)
	a.deps.Metrics.Refresh(metrics.OutcomeSuccess)
	return rec, nil
}

// rotate exchanges the refresh token of jti's session and replaces the
// record. The new record is written before the old one is removed.
func (a *Authenticator) rotate(ctx context.Context, jti string) (*sessions.Record, error) {
	key := sessions.Key(jti)

	old, err := a.deps.Sessions.Load(ctx, jti)
	if err != nil {
		if errors.Is(err, apperrors.ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: no session to refresh for %s", apperrors.ErrSessionExpired, key)
		}
		return nil, err
	}
	transition(key, StateExpired, StateRefreshing)

	tokens, err := a.callIdP(ctx, func(ctx context.Context) (*idp.TokenBundle, error) {
		return a.deps.IdP.Refresh(ctx, old.RefreshToken)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrSessionExpired) {
			a.dropStale(ctx, jti)
		}
		return nil, err
	}

	rec, err := a.newRecord(ctx, tokens)
	if err != nil {
		// The refresh token was consumed, so the old record is useless.
		a.dropStale(ctx, jti)
		return nil, err
	}

	if err := a.deps.Sessions.Save(ctx, rec); err != nil {
		return nil, err
	}
	a.dropStale(ctx, jti)
	return rec, nil
}

func (a *Authenticator) dropStale(ctx context.Context, jti string) {
	if err := a.deps.Sessions.Delete(ctx, jti); err != nil {
		log.Warn().Err(err).Str("session", sessions.Key(jti)).Msg("deleting replaced session")
	}
}

func (a *Authenticator) callIdP(ctx context.Context, call func(context.Context) (*idp.TokenBundle, error)) (*idp.TokenBundle, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.IdPTimeout)
	defer cancel()

	tokens, err := call(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, apperrors.ErrIdPUnavailable) {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrIdPUnavailable, err)
	}
	return tokens, err
}

// newRecord decodes a fresh token bundle and checks the required role.
// Nothing is persisted here.
func (a *Authenticator) newRecord(ctx context.Context, tokens *idp.TokenBundle) (*sessions.Record, error) {
	access, err := a.deps.Tokens.Decode(ctx, tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("decode issued access token: %w", err)
	}

	rec := &sessions.Record{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		IDToken:      tokens.IDToken,
		Decoded:      sessions.Decoded{AccessToken: access},
	}
	if tokens.IDToken != "" {
		id, err := a.deps.Tokens.DecodeIDToken(ctx, tokens.IDToken)
		if err != nil {
			return nil, fmt.Errorf("decode issued id token: %w", err)
		}
		rec.Decoded.IDToken = &id
	}

	if d := RequireRole(a.cfg.RoleGroup, a.cfg.RequiredRole)(access); !d.Allowed {
		return nil, d.Err
	}
	return rec, nil
}
