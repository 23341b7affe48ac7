package server

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-session-gateway/credentials"
	apperrors "github.com/jrsteele09/go-session-gateway/internal/errors"
)

// generateRandomString creates a random base64url string
func generateRandomString(length int) string {
	b := make([]byte, length)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, accessToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     credentials.CookieName,
		Value:    credentials.CookieValue(accessToken),
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.GetCookieSecure(),
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     credentials.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.GetCookieSecure(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func redirectSuccess(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, path, http.StatusSeeOther)
}

// errorDetails are the caller facing messages per error code.
var errorDetails = map[string]string{
	"no_credential":       "Not authenticated",
	"token_invalid":       "Invalid token",
	"token_expired":       "Token expired",
	"session_not_found":   "Session not found, please log in again",
	"session_expired":     "Session expired, please log in again",
	"invalid_credentials": "Invalid username or password",
	"role_missing":        "User doesn't have access to the application",
	"idp_unavailable":     "Identity provider unavailable",
	"logout_failure":      "Could not execute user logout",
}

// writeError answers with the status and code of err's class. Internal
// details never reach the caller.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.Code(err)
	detail, ok := errorDetails[code]
	if !ok {
		detail = "Internal server error"
	}

	status := apperrors.HTTPStatus(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer`)
	}
	writeJSONError(w, status, code, detail)
}

func writeJSONError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail, "code": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
