package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-session-gateway/auth"
	"github.com/jrsteele09/go-session-gateway/idp"
	apperrors "github.com/jrsteele09/go-session-gateway/internal/errors"
	"github.com/jrsteele09/go-session-gateway/internal/metrics"
	"github.com/jrsteele09/go-session-gateway/internal/testidp"
	"github.com/jrsteele09/go-session-gateway/sessions"
	"github.com/jrsteele09/go-session-gateway/token"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const (
	readRole  = "read-data"
	writeRole = "write-data"
)

type fixture struct {
	idp *testidp.IdP
	mr  *miniredis.Miniredis
	rdb *redis.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	provider := testidp.New(t)
	provider.AddUser(testidp.User{Username: "alice", Password: "wonderland", Email: "alice@example.com", Roles: []string{readRole}})
	provider.AddUser(testidp.User{Username: "bob", Password: "builder"})
	provider.AddUser(testidp.User{Username: "carol", Password: "singer", Roles: []string{readRole, writeRole}})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return &fixture{idp: provider, mr: mr, rdb: rdb}
}

// instance builds one gateway instance on the shared provider and Redis.
func (f *fixture) instance(t *testing.T) *auth.Authenticator {
	t.Helper()
	return f.instanceWith(t, auth.Config{
		IdPTimeout: 5 * time.Second,
		LockTTL:    5 * time.Second,
	})
}

// instanceWith is instance with the timeouts taken from cfg.
func (f *fixture) instanceWith(t *testing.T, cfg auth.Config) *auth.Authenticator {
	t.Helper()

	client, err := idp.New(context.Background(), idp.Config{
		IssuerURL:    f.idp.Issuer(),
		ClientID:     f.idp.ClientID,
		ClientSecret: f.idp.ClientSecret,
	})
	require.NoError(t, err)

	return auth.NewAuthenticator(auth.Deps{
		IdP:      client,
		Tokens:   token.NewValidator(client.OIDCProvider(), f.idp.ClientID, token.WithClock(f.idp.Clock.Now)),
		Sessions: sessions.NewManager(sessions.NewRedisStore(f.rdb, 0)),
		Lock:     sessions.NewRedisRefreshLock(f.rdb, 5*time.Second, 30*time.Second),
		Metrics:  metrics.New(),
	}, auth.Config{
		RoleGroup:    f.idp.RoleGroup,
		RequiredRole: readRole,
		IdPTimeout:   cfg.IdPTimeout,
		LockTTL:      cfg.LockTTL,
		PollInterval: 10 * time.Millisecond,
	})
}

func (f *fixture) stored(jti string) bool {
	return f.mr.Exists(sessions.Key(jti))
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	a := f.instance(t)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		s, err := a.Login(ctx, "alice", "wonderland")
		require.NoError(t, err)
		require.True(t, f.stored(s.Claims().ID))
		require.NotNil(t, s.Record.Decoded.IDToken)
		require.Equal(t, "alice@example.com", s.Claims().Email)

		next, err := a.SessionData(ctx, s.AccessToken())
		require.NoError(t, err)
		require.Equal(t, auth.StateValid, next.State)
		require.False(t, next.RewriteCookie())
		require.Equal(t, s.Claims().ID, next.Claims().ID)
		require.Equal(t, s.Claims().Subject, next.Claims().Subject)
	})

	t.Run("role missing persists nothing", func(t *testing.T) {
		before := len(f.mr.Keys())
		_, err := a.Login(ctx, "bob", "builder")
		require.ErrorIs(t, err, apperrors.ErrRoleMissing)
		require.Len(t, f.mr.Keys(), before)
	})

	t.Run("invalid credentials", func(t *testing.T) {
		_, err := a.Login(ctx, "alice", "wrong")
		require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
		require.NotErrorIs(t, err, apperrors.ErrRoleMissing)
	})

	t.Run("provider unavailable", func(t *testing.T) {
		f.idp.FailTokens(true)
		defer f.idp.FailTokens(false)
		_, err := a.Login(ctx, "alice", "wonderland")
		require.ErrorIs(t, err, apperrors.ErrIdPUnavailable)
	})

	t.Run("provider timeout", func(t *testing.T) {
		f := newFixture(t)
		a := f.instanceWith(t, auth.Config{IdPTimeout: 100 * time.Millisecond})
		f.idp.PasswordDelay = 500 * time.Millisecond

		_, err := a.Login(ctx, "alice", "wonderland")
		require.ErrorIs(t, err, apperrors.ErrIdPUnavailable)
		require.Equal(t, "idp_unavailable", apperrors.Code(err))
		require.Empty(t, f.mr.Keys())
	})
}

func TestExchangeCode(t *testing.T) {
	f := newFixture(t)
	a := f.instance(t)
	ctx := context.Background()
	redirectURI := "http://gateway.test/auth/redirect"

	code := f.idp.IssueCode("alice", redirectURI, "nonce-1")
	s, err := a.ExchangeCode(ctx, code, redirectURI, "nonce-1")
	require.NoError(t, err)
	require.True(t, f.stored(s.Claims().ID))
	require.Equal(t, "nonce-1", s.Record.Decoded.IDToken.Nonce)

	before := len(f.mr.Keys())
	code = f.idp.IssueCode("alice", redirectURI, "nonce-2")
	_, err = a.ExchangeCode(ctx, code, redirectURI, "nonce-other")
	require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	require.Len(t, f.mr.Keys(), before)

	code = f.idp.IssueCode("bob", redirectURI, "")
	_, err = a.ExchangeCode(ctx, code, redirectURI, "")
	require.ErrorIs(t, err, apperrors.ErrRoleMissing)
	require.Len(t, f.mr.Keys(), before)
}

func TestSessionDataRejections(t *testing.T) {
	f := newFixture(t)
	a := f.instance(t)
	ctx := context.Background()

	t.Run("valid token without session", func(t *testing.T) {
		_, err := a.SessionData(ctx, f.idp.AccessToken("alice", time.Minute))
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
	})

	t.Run("foreign signature", func(t *testing.T) {
		_, err := a.SessionData(ctx, f.idp.ForeignAccessToken("alice"))
		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := a.SessionData(ctx, "not-a-jwt")
		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	})
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	a := f.instance(t)
	ctx := context.Background()

	s, err := a.Login(ctx, "alice", "wonderland")
	require.NoError(t, err)
	oldJTI := s.Claims().ID

	f.idp.Clock.Advance(10 * time.Minute)

	refreshed, err := a.SessionData(ctx, s.AccessToken())
	require.NoError(t, err)
	require.Equal(t, auth.StateRefreshed, refreshed.State)
	require.True(t, refreshed.RewriteCookie())
	require.NotEqual(t, oldJTI, refreshed.Claims().ID)
	require.NotEqual(t, s.AccessToken(), refreshed.AccessToken())
	require.False(t, f.stored(oldJTI))
	require.True(t, f.stored(refreshed.Claims().ID))
	require.Equal(t, 1, f.idp.RefreshCalls())

	// A straggler still holding the old token adopts the replacement.
	late, err := a.SessionData(ctx, s.AccessToken())
	require.NoError(t, err)
	require.Equal(t, refreshed.Claims().ID, late.Claims().ID)
	require.Equal(t, 1, f.idp.RefreshCalls())

	// The new token is a plain valid session.
	again, err := a.SessionData(ctx, refreshed.AccessToken())
	require.NoError(t, err)
	require.Equal(t, auth.StateValid, again.State)
}

func TestRefreshFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("session already deleted", func(t *testing.T) {
		f := newFixture(t)
		a := f.instance(t)
		s, err := a.Login(ctx, "alice", "wonderland")
		require.NoError(t, err)
		f.mr.Del(sessions.Key(s.Claims().ID))

		f.idp.Clock.Advance(10 * time.Minute)
		_, err = a.SessionData(ctx, s.AccessToken())
		require.ErrorIs(t, err, apperrors.ErrSessionExpired)
		require.Equal(t, 0, f.idp.RefreshCalls())
	})

	t.Run("refresh token revoked at provider", func(t *testing.T) {
		f := newFixture(t)
		a := f.instance(t)
		s, err := a.Login(ctx, "alice", "wonderland")
		require.NoError(t, err)
		f.idp.RevokeRefreshTokens()

		f.idp.Clock.Advance(10 * time.Minute)
		_, err = a.SessionData(ctx, s.AccessToken())
		require.ErrorIs(t, err, apperrors.ErrSessionExpired)
		require.False(t, f.stored(s.Claims().ID))
	})

	t.Run("entitlement lost", func(t *testing.T) {
		f := newFixture(t)
		a := f.instance(t)
		s, err := a.Login(ctx, "alice", "wonderland")
		require.NoError(t, err)
		f.idp.SetRoles("alice")

		f.idp.Clock.Advance(10 * time.Minute)
		_, err = a.SessionData(ctx, s.AccessToken())
		require.ErrorIs(t, err, apperrors.ErrRoleMissing)
		require.False(t, f.stored(s.Claims().ID))
		require.Empty(t, f.mr.Keys())
	})

	t.Run("provider unavailable keeps the session", func(t *testing.T) {
		f := newFixture(t)
		a := f.instance(t)
		s, err := a.Login(ctx, "alice", "wonderland")
		require.NoError(t, err)
		f.idp.FailTokens(true)

		f.idp.Clock.Advance(10 * time.Minute)
		_, err = a.SessionData(ctx, s.AccessToken())
		require.ErrorIs(t, err, apperrors.ErrIdPUnavailable)
		require.True(t, f.stored(s.Claims().ID))

		f.idp.FailTokens(false)
		refreshed, err := a.SessionData(ctx, s.AccessToken())
		require.NoError(t, err)
		require.Equal(t, auth.StateRefreshed, refreshed.State)
	})

	t.Run("provider timeout keeps the session", func(t *testing.T) {
		f := newFixture(t)
		a := f.instanceWith(t, auth.Config{IdPTimeout: 100 * time.Millisecond})
		s, err := a.Login(ctx, "alice", "wonderland")
		require.NoError(t, err)
		f.idp.RefreshDelay = 500 * time.Millisecond

		f.idp.Clock.Advance(10 * time.Minute)
		_, err = a.SessionData(ctx, s.AccessToken())
		require.ErrorIs(t, err, apperrors.ErrIdPUnavailable)
		require.Equal(t, "idp_unavailable", apperrors.Code(err))
		require.True(t, f.stored(s.Claims().ID))
	})

	t.Run("cancelled request still completes the refresh", func(t *testing.T) {
		f := newFixture(t)
		a := f.instance(t)
		s, err := a.Login(ctx, "alice", "wonderland")
		require.NoError(t, err)

		f.idp.Clock.Advance(10 * time.Minute)
		reqCtx, cancel := context.WithCancel(ctx)
		f.idp.RefreshDelay = 100 * time.Millisecond
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		refreshed, err := a.SessionData(reqCtx, s.AccessToken())
		require.NoError(t, err)
		require.True(t, f.stored(refreshed.Claims().ID))
		require.False(t, f.stored(s.Claims().ID))
	})
}

func TestConcurrentRefresh(t *testing.T) {
	ctx := context.Background()

	run := func(t *testing.T, f *fixture, instances []*auth.Authenticator, raw string) []string {
		t.Helper()
		const perInstance = 4

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			jtis []string
			errs []error
		)
		for _, a := range instances {
			for i := 0; i < perInstance; i++ {
				wg.Add(1)
				go func(a *auth.Authenticator) {
					defer wg.Done()
					s, err := a.SessionData(ctx, raw)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						errs = append(errs, err)
						return
					}
					jtis = append(jtis, s.Claims().ID)
				}(a)
			}
		}
		wg.Wait()

		require.Empty(t, errs)
		require.Len(t, jtis, perInstance*len(instances))
		return jtis
	}

	t.Run("one instance", func(t *testing.T) {
		f := newFixture(t)
		a := f.instance(t)
		s, err := a.Login(ctx, "alice", "wonderland")
		require.NoError(t, err)

		f.idp.RefreshDelay = 200 * time.Millisecond
		f.idp.Clock.Advance(10 * time.Minute)

		jtis := run(t, f, []*auth.Authenticator{a}, s.AccessToken())
		require.Equal(t, 1, f.idp.RefreshCalls())
		for _, jti := range jtis {
			require.Equal(t, jtis[0], jti)
		}
	})

	t.Run("instances sharing one store", func(t *testing.T) {
		f := newFixture(t)
		first, second := f.instance(t), f.instance(t)
		s, err := first.Login(ctx, "alice", "wonderland")
		require.NoError(t, err)

		f.idp.RefreshDelay = 200 * time.Millisecond
		f.idp.Clock.Advance(10 * time.Minute)

		jtis := run(t, f, []*auth.Authenticator{first, second}, s.AccessToken())
		require.Equal(t, 1, f.idp.RefreshCalls())
		for _, jti := range jtis {
			require.Equal(t, jtis[0], jti)
		}
		require.False(t, f.stored(s.Claims().ID))
		require.True(t, f.stored(jtis[0]))
	})

	t.Run("lock TTL shorter than the provider call", func(t *testing.T) {
		f := newFixture(t)
		cfg := auth.Config{IdPTimeout: time.Second, LockTTL: 100 * time.Millisecond}
		first, second := f.instanceWith(t, cfg), f.instanceWith(t, cfg)
		require.Equal(t, auth.MinLockTTL(time.Second), first.LockTTL())

		s, err := first.Login(ctx, "alice", "wonderland")
		require.NoError(t, err)

		f.idp.RefreshDelay = 400 * time.Millisecond
		f.idp.Clock.Advance(10 * time.Minute)

		jtis := run(t, f, []*auth.Authenticator{first, second}, s.AccessToken())
		require.Equal(t, 1, f.idp.RefreshCalls())
		for _, jti := range jtis {
			require.Equal(t, jtis[0], jti)
		}
	})
}

func TestMinLockTTL(t *testing.T) {
	require.Greater(t, auth.MinLockTTL(10*time.Second), 10*time.Second)
	require.Greater(t, auth.MinLockTTL(0), 10*time.Second)

	a := auth.NewAuthenticator(auth.Deps{}, auth.Config{IdPTimeout: time.Second, LockTTL: time.Minute})
	require.Equal(t, time.Minute, a.LockTTL())
}

func TestLogout(t *testing.T) {
	ctx := context.Background()

	t.Run("revokes and deletes", func(t *testing.T) {
		f := newFixture(t)
		a := f.instance(t)
		s, err := a.Login(ctx, "alice", "wonderland")
		require.NoError(t, err)

		require.NoError(t, a.Logout(ctx, s))
		require.False(t, f.stored(s.Claims().ID))
		require.Equal(t, []string{s.Record.RefreshToken}, f.idp.Revoked())

		// The token is still cryptographically valid, but the session is gone.
		_, err = a.SessionData(ctx, s.AccessToken())
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
	})

	t.Run("revocation failure still deletes", func(t *testing.T) {
		f := newFixture(t)
		a := f.instance(t)
		s, err := a.Login(ctx, "alice", "wonderland")
		require.NoError(t, err)
		f.idp.FailRevoke(true)

		err = a.Logout(ctx, s)
		require.ErrorIs(t, err, apperrors.ErrLogoutFailure)
		require.False(t, f.stored(s.Claims().ID))
	})

	t.Run("no refresh token skips revocation", func(t *testing.T) {
		f := newFixture(t)
		a := f.instance(t)
		s, err := a.Login(ctx, "alice", "wonderland")
		require.NoError(t, err)
		s.Record.RefreshToken = ""

		require.NoError(t, a.Logout(ctx, s))
		require.Empty(t, f.idp.Revoked())
		require.False(t, f.stored(s.Claims().ID))
	})
}
