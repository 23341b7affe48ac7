package token

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/go-session-gateway/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestClaims_Roles(t *testing.T) {
	var c Claims
	err := json.Unmarshal([]byte(`{
		"sub": "user-1",
		"jti": "abc",
		"exp": 1700000000,
		"resource_access": {"fastapi-keycloak": {"roles": ["read-data"]}, "account": {"roles": ["manage-account"]}}
	}`), &c)
	require.NoError(t, err)

	require.Equal(t, []string{"read-data"}, c.Roles("fastapi-keycloak"))
	require.True(t, c.HasRole("fastapi-keycloak", "read-data"))
	require.False(t, c.HasRole("fastapi-keycloak", "write-data"))
	require.False(t, c.HasRole("account", "read-data"))
	require.Nil(t, c.Roles("missing"))
}

func TestClaims_ExpiredAt(t *testing.T) {
	now := time.Unix(1700000000, 0)

	require.True(t, Claims{}.ExpiredAt(now))

	c := Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(-time.Second))}}
	require.True(t, c.ExpiredAt(now))

	c.ExpiresAt = jwt.NewNumericDate(now.Add(time.Second))
	require.False(t, c.ExpiredAt(now))
}

func TestClaims_ValidateAccess(t *testing.T) {
	exp := jwt.NewNumericDate(time.Now().Add(time.Minute))

	tests := []struct {
		name   string
		claims jwt.RegisteredClaims
		ok     bool
	}{
		{"complete", jwt.RegisteredClaims{Subject: "s", ID: "j", ExpiresAt: exp}, true},
		{"no subject", jwt.RegisteredClaims{ID: "j", ExpiresAt: exp}, false},
		{"no jti", jwt.RegisteredClaims{Subject: "s", ExpiresAt: exp}, false},
		{"no exp", jwt.RegisteredClaims{Subject: "s", ID: "j"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Claims{RegisteredClaims: tt.claims}.validateAccess()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
		})
	}
}
