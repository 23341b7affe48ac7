// Package sessions persists session records in a shared key-value store and
// coordinates token refreshes across gateway instances.
package sessions

import "github.com/jrsteele09/go-session-gateway/token"

// KeyPrefix namespaces session records in the shared store.
const KeyPrefix = "userinfo-"

// Key derives the store key for the session whose access token carries jti.
func Key(jti string) string {
	return KeyPrefix + jti
}

// Record is the persisted unit: raw tokens plus their decoded claims. A record
// is keyed by the access token's jti, which the IdP never reuses.
type Record struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	IDToken      string  `json:"id_token,omitempty"`
	Decoded      Decoded `json:"decoded"`
}

type Decoded struct {
	AccessToken token.Claims  `json:"access_token"`
	IDToken     *token.Claims `json:"id_token,omitempty"`
}

// JTI is the unique identifier of the record's access token.
func (r *Record) JTI() string {
	return r.Decoded.AccessToken.ID
}

// Key is the store key of the record.
func (r *Record) Key() string {
	return Key(r.JTI())
}
