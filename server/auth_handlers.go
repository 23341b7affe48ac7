package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-session-gateway/internal/errors"
	"github.com/jrsteele09/go-session-gateway/server/authflowrepo"
	"github.com/rs/zerolog/log"
)

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

// LoginHandler authenticates with a username and password posted as JSON.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
			return
		}
		if req.User == "" || req.Password == "" {
			writeJSONError(w, http.StatusBadRequest, "bad_request", "user and password are required")
			return
		}

		session, err := s.auth.Login(r.Context(), req.User, req.Password)
		if err != nil {
			if apperrors.ClassOf(err) == apperrors.ClassUpstream || apperrors.ClassOf(err) == apperrors.ClassInternal {
				log.Error().Err(err).Msg("login")
			}
			writeError(w, err)
			return
		}

		s.setSessionCookie(w, session.AccessToken())
		writeJSON(w, http.StatusOK, loginResponse{AccessToken: session.AccessToken()})
	}
}

// LoginRedirectHandler sends the browser to the identity provider login page.
func (s *Server) LoginRedirectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := uuid.NewString()
		nonce := generateRandomString(32)
		redirectURI := s.redirectURI()

		if err := s.authFlows.Upsert(state, &authflowrepo.AuthFlowState{Nonce: nonce, RedirectURI: redirectURI}); err != nil {
			log.Error().Err(err).Msg("storing login state")
			writeError(w, err)
			return
		}

		http.Redirect(w, r, s.auth.LoginURL(state, nonce, redirectURI), http.StatusFound)
	}
}

// AuthRedirectHandler is the provider callback of the authorization code flow.
func (s *Server) AuthRedirectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if errorParam := query.Get("error"); errorParam != "" {
			log.Info().Str("error", errorParam).Str("description", query.Get("error_description")).Msg("provider refused login")
			writeJSONError(w, http.StatusUnauthorized, "login_not_authorized", "Login not authorized")
			return
		}

		code, state := query.Get("code"), query.Get("state")
		if code == "" || state == "" {
			writeJSONError(w, http.StatusBadRequest, "bad_request", "Missing code or state parameter")
			return
		}

		flow, err := s.authFlows.Take(state)
		if err != nil {
			if !errors.Is(err, authflowrepo.ErrStateNotFound) && !errors.Is(err, authflowrepo.ErrStateExpired) {
				log.Error().Err(err).Msg("loading login state")
			}
			writeJSONError(w, http.StatusBadRequest, "invalid_state", "Invalid state parameter")
			return
		}

		session, err := s.auth.ExchangeCode(r.Context(), code, flow.RedirectURI, flow.Nonce)
		if err != nil {
			if apperrors.ClassOf(err) == apperrors.ClassUpstream || apperrors.ClassOf(err) == apperrors.ClassInternal {
				log.Error().Err(err).Msg("code exchange")
			}
			writeError(w, err)
			return
		}

		s.setSessionCookie(w, session.AccessToken())
		redirectSuccess(w, r, s.config.GetBaseURL()+PageHome)
	}
}

// LogoutHandler ends the session at the provider and locally. The cookie is
// cleared even when the provider could not be reached, because the local
// session is gone either way.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := sessionFromContext(r.Context())
		if !ok {
			writeError(w, apperrors.ErrNoCredential)
			return
		}

		err := s.auth.Logout(r.Context(), session)
		if err != nil && !apperrors.Is(err, apperrors.ErrLogoutFailure) {
			log.Error().Err(err).Msg("logout")
			writeError(w, err)
			return
		}

		s.clearSessionCookie(w)
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
