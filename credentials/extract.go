// Package credentials pulls the bearer token of an inbound request out of the
// session cookie or the Authorization header.
package credentials

import (
	"net/http"
	"strings"

	apperrors "github.com/jrsteele09/go-session-gateway/internal/errors"
)

const (
	// CookieName holds "<scheme> <token>", written on login and refresh.
	CookieName = "access_token"

	SchemeBearer = "Bearer"
)

// Credential is a raw token together with the scheme it was presented with.
type Credential struct {
	Scheme string
	Token  string
	// FromCookie is true when the session cookie supplied the token.
	FromCookie bool
}

// Extract returns the request's credential. The cookie wins when it is present
// and splits into scheme and token; otherwise the Authorization header is used.
func Extract(r *http.Request) (Credential, error) {
	if cookie, err := r.Cookie(CookieName); err == nil {
		if scheme, token, ok := split(cookie.Value); ok {
			return Credential{Scheme: scheme, Token: token, FromCookie: true}, nil
		}
	}

	if scheme, token, ok := split(r.Header.Get("Authorization")); ok && strings.EqualFold(scheme, SchemeBearer) {
		return Credential{Scheme: scheme, Token: token}, nil
	}

	return Credential{}, apperrors.ErrNoCredential
}

// CookieValue formats a token the way the session cookie carries it.
func CookieValue(token string) string {
	return SchemeBearer + " " + token
}

func split(value string) (scheme, token string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(value), " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	scheme, token = parts[0], strings.TrimSpace(parts[1])
	if scheme == "" || token == "" {
		return "", "", false
	}
	return scheme, token, true
}
