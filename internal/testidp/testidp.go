// Package testidp runs an in-process OpenID provider for tests. It serves
// discovery, JWKS, a token endpoint (password, authorization_code and rotating
// refresh_token grants) and a Keycloak style logout endpoint, and signs RS256
// tokens whose timestamps follow a controllable Clock.
package testidp

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultClientID     = "fastapi-keycloak"
	DefaultClientSecret = "test-secret"
	DefaultRoleGroup    = "fastapi-keycloak"

	keyID = "test-key-1"
)

// Clock is a manually advanced time source shared by the provider and the
// code under test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// User is an account known to the provider.
type User struct {
	Username   string
	Password   string
	Email      string
	GivenName  string
	FamilyName string
	Roles      []string
}

type authCode struct {
	username    string
	redirectURI string
	nonce       string
}

// IdP is the fake provider. Exported fields may be changed before the first request.
type IdP struct {
	Server *httptest.Server
	Clock  *Clock

	ClientID     string
	ClientSecret string
	RoleGroup    string
	AccessTTL    time.Duration
	// RefreshDelay holds refresh_token grants open, widening race windows in tests.
	RefreshDelay time.Duration
	// PasswordDelay holds password grants open.
	PasswordDelay time.Duration

	key        *rsa.PrivateKey
	foreignKey *rsa.PrivateKey

	mu            sync.Mutex
	users         map[string]User
	refreshTokens map[string]string // refresh token -> username, single use
	codes         map[string]authCode
	refreshCalls  int
	revoked       []string
	failRevoke    bool
	failTokens    bool
}

// New starts a provider that is shut down when the test ends.
func New(t testing.TB) *IdP {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	foreign, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate foreign key: %v", err)
	}

	p := &IdP{
		Clock:         NewClock(time.Now()),
		ClientID:      DefaultClientID,
		ClientSecret:  DefaultClientSecret,
		RoleGroup:     DefaultRoleGroup,
		AccessTTL:     5 * time.Minute,
		key:           key,
		foreignKey:    foreign,
		users:         make(map[string]User),
		refreshTokens: make(map[string]string),
		codes:         make(map[string]authCode),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("GET /certs", p.handleJWKS)
	mux.HandleFunc("POST /token", p.handleToken)
	mux.HandleFunc("POST /logout", p.handleLogout)
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)

	return p
}

func (p *IdP) Issuer() string {
	return p.Server.URL
}

func (p *IdP) AddUser(u User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[u.Username] = u
}

// SetRoles replaces a user's application roles, e.g. to revoke an entitlement between refreshes.
func (p *IdP) SetRoles(username string, roles ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := p.users[username]
	u.Roles = roles
	p.users[username] = u
}

// IssueCode returns an authorization code as if the user had logged in at the provider.
func (p *IdP) IssueCode(username, redirectURI, nonce string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	code := uuid.NewString()
	p.codes[code] = authCode{username: username, redirectURI: redirectURI, nonce: nonce}
	return code
}

// RevokeRefreshTokens invalidates every outstanding refresh token, as an administrator
// ending all sessions at the provider would.
func (p *IdP) RevokeRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshTokens = make(map[string]string)
}

func (p *IdP) RefreshCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCalls
}

func (p *IdP) Revoked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.revoked...)
}

func (p *IdP) FailRevoke(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failRevoke = fail
}

// FailTokens makes the token endpoint answer 503.
func (p *IdP) FailTokens(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failTokens = fail
}

// AccessToken mints an access token for username without a matching refresh token.
func (p *IdP) AccessToken(username string, ttl time.Duration) string {
	p.mu.Lock()
	u := p.users[username]
	p.mu.Unlock()
	return p.sign(p.key, p.accessClaims(u, ttl))
}

// IDToken mints an ID token for username addressed to the client.
func (p *IdP) IDToken(username string) string {
	p.mu.Lock()
	u := p.users[username]
	p.mu.Unlock()
	return p.sign(p.key, p.identityClaims(u, "ID", p.ClientID, p.AccessTTL))
}

// ForeignAccessToken mints a well-formed token signed by a key the provider never published.
func (p *IdP) ForeignAccessToken(username string) string {
	p.mu.Lock()
	u := p.users[username]
	p.mu.Unlock()
	return p.sign(p.foreignKey, p.accessClaims(u, p.AccessTTL))
}

func (p *IdP) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                p.Issuer(),
		"authorization_endpoint":                p.Issuer() + "/auth",
		"token_endpoint":                        p.Issuer() + "/token",
		"jwks_uri":                              p.Issuer() + "/certs",
		"end_session_endpoint":                  p.Issuer() + "/logout",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"grant_types_supported":                 []string{"authorization_code", "password", "refresh_token"},
	})
}

func (p *IdP) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &p.key.PublicKey,
		KeyID:     keyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}})
}

func (p *IdP) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !p.clientAuthenticated(r) {
		oauthError(w, http.StatusUnauthorized, "invalid_client", "Invalid client credentials")
		return
	}

	p.mu.Lock()
	failing := p.failTokens
	p.mu.Unlock()
	if failing {
		oauthError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "provider is down")
		return
	}

	switch r.PostFormValue("grant_type") {
	case "password":
		p.mu.Lock()
		u, ok := p.users[r.PostFormValue("username")]
		delay := p.PasswordDelay
		p.mu.Unlock()
		time.Sleep(delay)
		if !ok || u.Password != r.PostFormValue("password") {
			oauthError(w, http.StatusUnauthorized, "invalid_grant", "Invalid user credentials")
			return
		}
		p.issue(w, u, "")

	case "authorization_code":
		p.mu.Lock()
		grant, ok := p.codes[r.PostFormValue("code")]
		delete(p.codes, r.PostFormValue("code"))
		u := p.users[grant.username]
		p.mu.Unlock()
		if !ok || grant.redirectURI != r.PostFormValue("redirect_uri") {
			oauthError(w, http.StatusBadRequest, "invalid_grant", "Code not valid")
			return
		}
		p.issue(w, u, grant.nonce)

	case "refresh_token":
		p.mu.Lock()
		p.refreshCalls++
		username, ok := p.refreshTokens[r.PostFormValue("refresh_token")]
		delete(p.refreshTokens, r.PostFormValue("refresh_token"))
		u := p.users[username]
		delay := p.RefreshDelay
		p.mu.Unlock()
		time.Sleep(delay)
		if !ok {
			oauthError(w, http.StatusBadRequest, "invalid_grant", "Token is not active")
			return
		}
		p.issue(w, u, "")

	default:
		oauthError(w, http.StatusBadRequest, "unsupported_grant_type", r.PostFormValue("grant_type"))
	}
}

func (p *IdP) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || !p.clientAuthenticated(r) {
		oauthError(w, http.StatusUnauthorized, "invalid_client", "Invalid client credentials")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failRevoke {
		oauthError(w, http.StatusInternalServerError, "server_error", "logout failed")
		return
	}
	refreshToken := r.PostFormValue("refresh_token")
	if _, ok := p.refreshTokens[refreshToken]; !ok {
		oauthError(w, http.StatusBadRequest, "invalid_grant", "Invalid refresh token")
		return
	}
	delete(p.refreshTokens, refreshToken)
	p.revoked = append(p.revoked, refreshToken)
	w.WriteHeader(http.StatusNoContent)
}

func (p *IdP) clientAuthenticated(r *http.Request) bool {
	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostFormValue("client_id"), r.PostFormValue("client_secret")
	}
	return id == p.ClientID && secret == p.ClientSecret
}

func (p *IdP) issue(w http.ResponseWriter, u User, nonce string) {
	refreshToken := uuid.NewString()
	p.mu.Lock()
	p.refreshTokens[refreshToken] = u.Username
	p.mu.Unlock()

	idClaims := p.identityClaims(u, "ID", p.ClientID, p.AccessTTL)
	if nonce != "" {
		idClaims["nonce"] = nonce
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  p.sign(p.key, p.accessClaims(u, p.AccessTTL)),
		"token_type":    "Bearer",
		"expires_in":    int(p.AccessTTL.Seconds()),
		"refresh_token": refreshToken,
		"id_token":      p.sign(p.key, idClaims),
		"scope":         "openid email profile",
	})
}

func (p *IdP) accessClaims(u User, ttl time.Duration) jwt.MapClaims {
	claims := p.identityClaims(u, "Bearer", "account", ttl)
	claims["realm_access"] = map[string]any{"roles": []string{"offline_access", "uma_authorization"}}
	if len(u.Roles) > 0 {
		claims["resource_access"] = map[string]any{p.RoleGroup: map[string]any{"roles": u.Roles}}
	}
	return claims
}

func (p *IdP) identityClaims(u User, typ, audience string, ttl time.Duration) jwt.MapClaims {
	now := p.Clock.Now()
	return jwt.MapClaims{
		"iss":                p.Issuer(),
		"sub":                "user-" + u.Username,
		"aud":                audience,
		"exp":                now.Add(ttl).Unix(),
		"iat":                now.Unix(),
		"jti":                uuid.NewString(),
		"typ":                typ,
		"azp":                p.ClientID,
		"preferred_username": u.Username,
		"email":              u.Email,
		"given_name":         u.GivenName,
		"family_name":        u.FamilyName,
		"name":               u.GivenName + " " + u.FamilyName,
	}
}

func (p *IdP) sign(key *rsa.PrivateKey, claims jwt.MapClaims) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = keyID
	signed, err := tok.SignedString(key)
	if err != nil {
		panic("testidp: sign token: " + err.Error())
	}
	return signed
}

func oauthError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": description})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
