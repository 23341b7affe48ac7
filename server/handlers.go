package server

import (
	"net/http"
	"time"
)

func (s *Server) IndexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Login through browser using " + RouteAuthLogin + " (GET method) or through API using " + RouteAuthLogin + " (POST method)",
		})
	}
}

type UserInfo struct {
	Roles          []string  `json:"roles"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Expiration     time.Time `json:"expiration"`
	ProfileBaseURL string    `json:"profile_base_url"`
	BaseURL        string    `json:"base_url"`
}

func (s *Server) UserInformationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := sessionFromContext(r.Context())
		if !ok {
			writeJSONError(w, http.StatusInternalServerError, "internal", "session missing from request context")
			return
		}

		claims := session.Claims()
		info := UserInfo{
			Roles:          claims.Roles(s.config.GetRoleGroup()),
			Username:       claims.PreferredUsername,
			Email:          claims.Email,
			FirstName:      claims.GivenName,
			LastName:       claims.FamilyName,
			ProfileBaseURL: s.config.GetIssuerURL() + "/account",
			BaseURL:        s.config.GetBaseURL(),
		}
		if claims.ExpiresAt != nil {
			info.Expiration = claims.ExpiresAt.Time.UTC()
		}
		writeJSON(w, http.StatusOK, info)
	}
}

func (s *Server) WriteDataHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Data was written"})
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.health != nil {
			if err := s.health.Ping(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not_found", "Not found")
	}
}
