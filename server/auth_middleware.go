package server

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-session-gateway/auth"
	"github.com/jrsteele09/go-session-gateway/credentials"
	apperrors "github.com/jrsteele09/go-session-gateway/internal/errors"
	"github.com/rs/zerolog/log"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// ContextKeySession stores the established *auth.Session
const ContextKeySession ContextKey = "session"

// RequireSession establishes the caller's session from the access_token
// cookie or the Authorization header, refreshing it when the token expired.
// A refreshed token is written back to the cookie.
func (s *Server) RequireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cred, err := credentials.Extract(r)
		if err != nil {
			writeError(w, err)
			return
		}

		session, err := s.auth.SessionData(r.Context(), cred.Token)
		if err != nil {
			if apperrors.ClassOf(err) != apperrors.ClassAuthentication {
				log.Error().Err(err).Str("path", r.URL.Path).Msg("establishing session")
			}
			writeError(w, err)
			return
		}

		if session.RewriteCookie() {
			s.setSessionCookie(w, session.AccessToken())
		}

		ctx := context.WithValue(r.Context(), ContextKeySession, session)
		next(w, r.WithContext(ctx))
	}
}

// RequireRole is middleware that requires every role on the established session.
// It must run after RequireSession.
func (s *Server) RequireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	guards := make([]auth.Guard, 0, len(roles))
	for _, role := range roles {
		guards = append(guards, s.auth.RequireRole(role))
	}

	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			session, ok := sessionFromContext(r.Context())
			if !ok {
				writeError(w, apperrors.ErrNoCredential)
				return
			}

			if d := s.auth.Authorize(session, guards...); !d.Allowed {
				log.Info().Str("user", session.Claims().PreferredUsername).Str("role", d.Role).Msg("role missing")
				writeError(w, d.Err)
				return
			}
			next(w, r)
		}
	}
}

func sessionFromContext(ctx context.Context) (*auth.Session, bool) {
	session, ok := ctx.Value(ContextKeySession).(*auth.Session)
	return session, ok && session != nil
}
