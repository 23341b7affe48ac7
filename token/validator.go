package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	apperrors "github.com/jrsteele09/go-session-gateway/internal/errors"
)

// Validator verifies tokens issued by the identity provider against its published signing keys.
type Validator struct {
	access        *oidc.IDTokenVerifier
	accessExpired *oidc.IDTokenVerifier
	id            *oidc.IDTokenVerifier
	now           func() time.Time
}

type Option func(*Validator)

// WithClock replaces time.Now for both the verifier's lifetime check and the explicit exp check.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// NewValidator builds verifiers from a discovered provider. Access tokens are
// addressed to resource servers, so only ID tokens are checked against clientID.
func NewValidator(provider *oidc.Provider, clientID string, opts ...Option) *Validator {
	v := &Validator{now: time.Now}
	for _, opt := range opts {
		opt(v)
	}

	v.access = provider.Verifier(&oidc.Config{SkipClientIDCheck: true, Now: v.now})
	v.accessExpired = provider.Verifier(&oidc.Config{SkipClientIDCheck: true, SkipExpiryCheck: true, Now: v.now})
	v.id = provider.Verifier(&oidc.Config{ClientID: clientID, Now: v.now})
	return v
}

func (v *Validator) Now() time.Time {
	return v.now()
}

// Decode verifies an access token and returns its claims. ErrTokenExpired is
// returned when either the verifier's lifetime check or the exp comparison fails.
func (v *Validator) Decode(ctx context.Context, raw string) (Claims, error) {
	claims, err := v.verify(ctx, v.access, raw)
	if err != nil {
		return Claims{}, err
	}
	if err := claims.validateAccess(); err != nil {
		return Claims{}, err
	}
	if claims.ExpiredAt(v.now()) {
		return Claims{}, fmt.Errorf("%w: exp %s has passed", apperrors.ErrTokenExpired, claims.ExpiresAt.Time.Format(time.RFC3339))
	}
	return claims, nil
}

// DecodeIgnoringExpiry verifies the signature of a possibly expired access token.
// It exists to recover the jti of an expired session and must not be used to authenticate.
func (v *Validator) DecodeIgnoringExpiry(ctx context.Context, raw string) (Claims, error) {
	claims, err := v.verify(ctx, v.accessExpired, raw)
	if err != nil {
		return Claims{}, err
	}
	if err := claims.validateAccess(); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

// DecodeIDToken verifies an ID token issued to this client.
func (v *Validator) DecodeIDToken(ctx context.Context, raw string) (Claims, error) {
	claims, err := v.verify(ctx, v.id, raw)
	if err != nil {
		return Claims{}, err
	}
	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: id token without sub claim", apperrors.ErrTokenInvalid)
	}
	return claims, nil
}

func (v *Validator) verify(ctx context.Context, verifier *oidc.IDTokenVerifier, raw string) (Claims, error) {
	if raw == "" {
		return Claims{}, fmt.Errorf("%w: empty token", apperrors.ErrTokenInvalid)
	}

	tok, err := verifier.Verify(ctx, raw)
	if err != nil {
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return Claims{}, fmt.Errorf("%w: %v", apperrors.ErrTokenExpired, err)
		}
		return Claims{}, fmt.Errorf("%w: %v", apperrors.ErrTokenInvalid, err)
	}

	var claims Claims
	if err := tok.Claims(&claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", apperrors.ErrTokenInvalid, err)
	}
	return claims, nil
}
