// Package authflowrepo keeps the state and nonce of browser logins between
// the redirect to the identity provider and the callback.
package authflowrepo

import (
	"errors"
	"time"
)

// DefaultLifetime bounds how long a user may take at the provider login page.
const DefaultLifetime = 10 * time.Minute

var (
	ErrStateNotFound = errors.New("state not found")
	ErrStateExpired  = errors.New("state expired")
)

type AuthFlowState struct {
	Nonce       string
	RedirectURI string
	CreatedAt   time.Time
}

type Repo interface {
	Upsert(state string, authState *AuthFlowState) error
	// Take returns the flow for state and removes it, so that a state is
	// redeemed at most once.
	Take(state string) (*AuthFlowState, error)
	Delete(state string) error
}
