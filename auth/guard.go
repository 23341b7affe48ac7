package auth

import (
	"fmt"

	apperrors "github.com/jrsteele09/go-session-gateway/internal/errors"
	"github.com/jrsteele09/go-session-gateway/token"
)

// Decision is the outcome of a guard. A denied decision names the missing
// role and carries an error wrapping ErrRoleMissing.
type Decision struct {
	Allowed bool
	Role    string
	Err     error
}

func Authorized() Decision {
	return Decision{Allowed: true}
}

func Denied(role string) Decision {
	return Decision{
		Role: role,
		Err:  fmt.Errorf("%w: %s", apperrors.ErrRoleMissing, role),
	}
}

// Guard inspects the claims of an established session. Guards never mutate state.
type Guard func(claims token.Claims) Decision

// RequireRole passes when role is granted in the group's resource_access entry.
func RequireRole(group, role string) Guard {
	return func(claims token.Claims) Decision {
		if !claims.HasRole(group, role) {
			return Denied(role)
		}
		return Authorized()
	}
}

// All passes when every guard passes, and returns the first denial otherwise.
func All(guards ...Guard) Guard {
	return func(claims token.Claims) Decision {
		for _, g := range guards {
			if d := g(claims); !d.Allowed {
				return d
			}
		}
		return Authorized()
	}
}

// RequireRole is a guard on the configured role group.
func (a *Authenticator) RequireRole(role string) Guard {
	return RequireRole(a.cfg.RoleGroup, role)
}

// Authorize evaluates guards against the session and records denials.
func (a *Authenticator) Authorize(s *Session, guards ...Guard) Decision {
	d := All(guards...)(s.Claims())
	if !d.Allowed {
		a.deps.Metrics.GuardDenied(d.Role)
	}
	return d
}
