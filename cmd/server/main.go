package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/jrsteele09/go-session-gateway/auth"
	"github.com/jrsteele09/go-session-gateway/idp"
	"github.com/jrsteele09/go-session-gateway/internal/config"
	"github.com/jrsteele09/go-session-gateway/internal/metrics"
	"github.com/jrsteele09/go-session-gateway/server"
	"github.com/jrsteele09/go-session-gateway/server/authflowrepo"
	"github.com/jrsteele09/go-session-gateway/sessions"
	"github.com/jrsteele09/go-session-gateway/token"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	setupLogging(c)
	displayAppname(c.GetAppName())

	rdb := redis.NewClient(&redis.Options{
		Addr:     c.GetRedisAddr(),
		Password: c.GetRedisPassword(),
		DB:       c.GetRedisDB(),
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("closing redis client")
		}
	}()

	handler, err := newHandler(context.Background(), c, rdb)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(httpServer) }()

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(httpServer)
}

// newHandler wires the gateway: IdP client, session store, validator,
// authenticator and HTTP routes.
func newHandler(ctx context.Context, c config.Config, rdb redis.UniversalClient) (http.Handler, error) {
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = c.GetIdPTimeout()

	idpClient, err := idp.New(ctx, idp.Config{
		IssuerURL:    c.GetIssuerURL(),
		ClientID:     c.GetClientID(),
		ClientSecret: c.GetClientSecret(),
		Scopes:       c.GetScopes(),
		HTTPClient:   httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("identity provider: %w", err)
	}

	store := sessions.NewRedisStore(rdb, c.GetSessionTTL())
	if err := store.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("addr", c.GetRedisAddr()).Msg("session store not reachable yet")
	}

	// The lease has to outlive the IdP call it guards.
	lockTTL := max(c.GetRefreshLockTTL(), auth.MinLockTTL(c.GetIdPTimeout()))

	recorder := metrics.New()
	authenticator := auth.NewAuthenticator(auth.Deps{
		IdP:      idpClient,
		Tokens:   token.NewValidator(idpClient.OIDCProvider(), c.GetClientID()),
		Sessions: sessions.NewManager(store),
		Lock:     sessions.NewRedisRefreshLock(rdb, lockTTL, c.GetRefreshHandoffTTL()),
		Metrics:  recorder,
	}, auth.Config{
		RoleGroup:    c.GetRoleGroup(),
		RequiredRole: c.GetRequiredRole(),
		IdPTimeout:   c.GetIdPTimeout(),
		LockTTL:      lockTTL,
	})

	return server.New(c, server.Deps{
		Auth:      authenticator,
		AuthFlows: authflowrepo.NewInMemoryRepo(),
		Metrics:   recorder,
		Health:    store,
	}), nil
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
