package auth

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-session-gateway/idp"
	apperrors "github.com/jrsteele09/go-session-gateway/internal/errors"
	"github.com/jrsteele09/go-session-gateway/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Login authenticates with the password grant. The session is persisted only
// after the issued tokens are verified and carry the required role.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*Session, error) {
	tokens, err := a.callIdP(ctx, func(ctx context.Context) (*idp.TokenBundle, error) {
		return a.deps.IdP.Token(ctx, username, password)
	})
	if err != nil {
		a.deps.Metrics.Login(metrics.OutcomeFailure)
		return nil, err
	}

	s, err := a.establish(ctx, tokens, "")
	a.deps.Metrics.Login(metrics.Outcome(err))
	if err != nil {
		log.Info().Str("user", username).Str("reason", apperrors.Code(err)).Msg("login rejected")
		return nil, err
	}
	return s, nil
}

// ExchangeCode completes the authorization code flow. When nonce is set the
// ID token must carry it.
func (a *Authenticator) ExchangeCode(ctx context.Context, code, redirectURI, nonce string) (*Session, error) {
	tokens, err := a.callIdP(ctx, func(ctx context.Context) (*idp.TokenBundle, error) {
		return a.deps.IdP.ExchangeCode(ctx, code, redirectURI)
	})
	if err != nil {
		a.deps.Metrics.Login(metrics.OutcomeFailure)
		return nil, err
	}

	s, err := a.establish(ctx, tokens, nonce)
	a.deps.Metrics.Login(metrics.Outcome(err))
	if err != nil {
		log.Info().Str("reason", apperrors.Code(err)).Msg("code exchange rejected")
		return nil, err
	}
	return s, nil
}

// LoginURL is where browsers are sent to authenticate at the provider.
func (a *Authenticator) LoginURL(state, nonce, redirectURI string) string {
	return a.deps.IdP.AuthCodeURL(state, nonce, redirectURI)
}

func (a *Authenticator) establish(ctx context.Context, tokens *idp.TokenBundle, nonce string) (*Session, error) {
	rec, err := a.newRecord(ctx, tokens)
	if err != nil {
		return nil, err
	}
	if nonce != "" {
		if rec.Decoded.IDToken == nil || rec.Decoded.IDToken.Nonce != nonce {
			return nil, fmt.Errorf("%w: id token nonce mismatch", apperrors.ErrTokenInvalid)
		}
	}

	if err := a.deps.Sessions.Save(ctx, rec); err != nil {
		return nil, err
	}
	log.Debug().Str("session", rec.Key()).Msg("session created")
	return &Session{Record: rec, State: StateValid}, nil
}

// Logout revokes the refresh token at the provider and deletes the session.
// The record is deleted even when revocation fails; that failure is still
// returned as ErrLogoutFailure.
func (a *Authenticator) Logout(ctx context.Context, s *Session) error {
	key := s.Record.Key()
	ctx = context.WithoutCancel(ctx)

	var revokeErr error
	if s.Record.RefreshToken != "" {
		revokeCtx, cancel := context.WithTimeout(ctx, a.cfg.IdPTimeout)
		revokeErr = a.deps.IdP.Revoke(revokeCtx, s.Record.RefreshToken)
		cancel()
		if revokeErr != nil && !apperrors.Is(revokeErr, apperrors.ErrLogoutFailure) {
			revokeErr = fmt.Errorf("%w: %w", apperrors.ErrLogoutFailure, revokeErr)
		}
		if revokeErr != nil {
			log.Warn().Err(revokeErr).Str("session", key).Msg("refresh token revocation failed")
		}
	}

	if err := a.deps.Sessions.Delete(ctx, s.Record.JTI()); err != nil {
		a.deps.Metrics.Logout(metrics.OutcomeFailure)
		return err
	}

	a.deps.Metrics.Logout(metrics.Outcome(revokeErr))
	if revokeErr != nil {
		return apperrors.Wrapf(revokeErr, "logout %s", key)
	}
	log.Debug().Str("session", key).Msg("session deleted")
	return nil
}
