package authflowrepo_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-session-gateway/server/authflowrepo"
	"github.com/stretchr/testify/require"
)

func TestTakeRedeemsOnce(t *testing.T) {
	repo := authflowrepo.NewInMemoryRepo()
	require.NoError(t, repo.Upsert("state-1", &authflowrepo.AuthFlowState{Nonce: "n-1", RedirectURI: "http://gw/auth/redirect"}))

	flow, err := repo.Take("state-1")
	require.NoError(t, err)
	require.Equal(t, "n-1", flow.Nonce)
	require.False(t, flow.CreatedAt.IsZero())

	_, err = repo.Take("state-1")
	require.ErrorIs(t, err, authflowrepo.ErrStateNotFound)
}

func TestExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	repo := authflowrepo.NewInMemoryRepo(authflowrepo.WithLifetime(time.Minute), authflowrepo.WithNowTime(clock))

	require.NoError(t, repo.Upsert("old", &authflowrepo.AuthFlowState{Nonce: "n"}))
	now = now.Add(2 * time.Minute)

	_, err := repo.Take("old")
	require.ErrorIs(t, err, authflowrepo.ErrStateExpired)

	require.NoError(t, repo.Upsert("a", &authflowrepo.AuthFlowState{}))
	now = now.Add(2 * time.Minute)
	require.NoError(t, repo.Upsert("b", &authflowrepo.AuthFlowState{}))
	require.Equal(t, 1, repo.Len())
}

func TestValidation(t *testing.T) {
	repo := authflowrepo.NewInMemoryRepo()
	require.Error(t, repo.Upsert("", &authflowrepo.AuthFlowState{}))
	require.Error(t, repo.Upsert("s", nil))
	require.Error(t, repo.Delete(""))
	_, err := repo.Take("")
	require.ErrorIs(t, err, authflowrepo.ErrStateNotFound)
}
