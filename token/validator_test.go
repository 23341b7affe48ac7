package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	apperrors "github.com/jrsteele09/go-session-gateway/internal/errors"
	"github.com/jrsteele09/go-session-gateway/internal/testidp"
	"github.com/jrsteele09/go-session-gateway/token"
	"github.com/stretchr/testify/require"
)

func setupValidator(t *testing.T) (*testidp.IdP, *token.Validator) {
	t.Helper()

	idp := testidp.New(t)
	idp.AddUser(testidp.User{
		Username:   "alice",
		Password:   "wonderland",
		Email:      "alice@example.com",
		GivenName:  "Alice",
		FamilyName: "Liddell",
		Roles:      []string{"read-data", "write-data"},
	})

	provider, err := oidc.NewProvider(context.Background(), idp.Issuer())
	require.NoError(t, err)

	return idp, token.NewValidator(provider, idp.ClientID, token.WithClock(idp.Clock.Now))
}

func TestValidator_Decode(t *testing.T) {
	ctx := context.Background()

	t.Run("valid access token", func(t *testing.T) {
		idp, v := setupValidator(t)

		claims, err := v.Decode(ctx, idp.AccessToken("alice", time.Minute))
		require.NoError(t, err)
		require.Equal(t, "user-alice", claims.Subject)
		require.NotEmpty(t, claims.ID)
		require.Equal(t, "alice@example.com", claims.Email)
		require.Equal(t, "alice", claims.PreferredUsername)
		require.True(t, claims.HasRole(testidp.DefaultRoleGroup, "write-data"))
	})

	t.Run("expired access token", func(t *testing.T) {
		idp, v := setupValidator(t)
		raw := idp.AccessToken("alice", time.Minute)
		idp.Clock.Advance(2 * time.Minute)

		_, err := v.Decode(ctx, raw)
		require.ErrorIs(t, err, apperrors.ErrTokenExpired)

		claims, err := v.DecodeIgnoringExpiry(ctx, raw)
		require.NoError(t, err)
		require.NotEmpty(t, claims.ID)
	})

	t.Run("unknown signing key", func(t *testing.T) {
		idp, v := setupValidator(t)

		_, err := v.Decode(ctx, idp.ForeignAccessToken("alice"))
		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)

		_, err = v.DecodeIgnoringExpiry(ctx, idp.ForeignAccessToken("alice"))
		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	})

	t.Run("garbage", func(t *testing.T) {
		_, v := setupValidator(t)

		for _, raw := range []string{"", "not-a-jwt", "a.b.c"} {
			_, err := v.Decode(ctx, raw)
			require.ErrorIs(t, err, apperrors.ErrTokenInvalid, raw)
		}
	})
}

func TestValidator_DecodeIDToken(t *testing.T) {
	ctx := context.Background()
	idp, v := setupValidator(t)

	claims, err := v.DecodeIDToken(ctx, idp.IDToken("alice"))
	require.NoError(t, err)
	require.Equal(t, "Alice", claims.GivenName)
	require.Equal(t, "Liddell", claims.FamilyName)

	// Access tokens are addressed to "account", not to this client.
	_, err = v.DecodeIDToken(ctx, idp.AccessToken("alice", time.Minute))
	require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
}
