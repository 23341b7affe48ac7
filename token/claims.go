package token

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/go-session-gateway/internal/errors"
)

// RoleGroup is one entry of a Keycloak style role mapping.
type RoleGroup struct {
	Roles []string `json:"roles"`
}

// Claims is the decoded payload of an access or ID token.
type Claims struct {
	jwt.RegisteredClaims

	Type              string `json:"typ,omitempty"`
	AuthorizedParty   string `json:"azp,omitempty"`
	Nonce             string `json:"nonce,omitempty"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	GivenName         string `json:"given_name,omitempty"`
	FamilyName        string `json:"family_name,omitempty"`
	Email             string `json:"email,omitempty"`
	EmailVerified     bool   `json:"email_verified,omitempty"`

	RealmAccess    RoleGroup            `json:"realm_access"`
	ResourceAccess map[string]RoleGroup `json:"resource_access,omitempty"`
}

// Roles returns the roles granted within the named role group.
func (c Claims) Roles(group string) []string {
	return c.ResourceAccess[group].Roles
}

func (c Claims) HasRole(group, role string) bool {
	return slices.Contains(c.Roles(group), role)
}

// ExpiredAt reports whether the exp claim lies before now. A token without exp counts as expired.
func (c Claims) ExpiredAt(now time.Time) bool {
	return c.ExpiresAt == nil || c.ExpiresAt.Time.Before(now)
}

func (c Claims) validateAccess() error {
	switch {
	case c.Subject == "":
		return fmt.Errorf("%w: missing sub claim", apperrors.ErrTokenInvalid)
	case c.ID == "":
		return fmt.Errorf("%w: missing jti claim", apperrors.ErrTokenInvalid)
	case c.ExpiresAt == nil:
		return fmt.Errorf("%w: missing exp claim", apperrors.ErrTokenInvalid)
	}
	return nil
}
