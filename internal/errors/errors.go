package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types for the session gateway
var (
	// Credential and token errors
	ErrNoCredential = errors.New("no credential")
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")

	// Authorization errors
	ErrRoleMissing = errors.New("role missing")

	// Identity provider errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrIdPUnavailable     = errors.New("identity provider unavailable")
	ErrLogoutFailure      = errors.New("logout failure")

	// Store errors
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Class groups errors by who is expected to act on them.
type Class int

const (
	ClassInternal Class = iota
	ClassAuthentication
	ClassAuthorization
	ClassUpstream
)

func (c Class) String() string {
	switch c {
	case ClassAuthentication:
		return "authentication"
	case ClassAuthorization:
		return "authorization"
	case ClassUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// HTTPStatus is the status code a request boundary should answer with for the class.
func (c Class) HTTPStatus() int {
	switch c {
	case ClassAuthentication:
		return http.StatusUnauthorized
	case ClassAuthorization:
		return http.StatusForbidden
	case ClassUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type kind struct {
	err   error
	class Class
	code  string
}

// Order matters: the first match in an error chain wins. LogoutFailure wraps
// IdP errors, so it is checked first.
var kinds = []kind{
	{ErrLogoutFailure, ClassUpstream, "logout_failure"},
	{ErrNoCredential, ClassAuthentication, "no_credential"},
	{ErrTokenExpired, ClassAuthentication, "token_expired"},
	{ErrTokenInvalid, ClassAuthentication, "token_invalid"},
	{ErrSessionNotFound, ClassAuthentication, "session_not_found"},
	{ErrSessionExpired, ClassAuthentication, "session_expired"},
	{ErrInvalidCredentials, ClassAuthentication, "invalid_credentials"},
	{ErrRoleMissing, ClassAuthorization, "role_missing"},
	{ErrIdPUnavailable, ClassUpstream, "idp_unavailable"},
	{ErrStoreUnavailable, ClassInternal, "store_unavailable"},
}

// ClassOf reports the class of the first known error in err's chain.
func ClassOf(err error) Class {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.class
		}
	}
	return ClassInternal
}

// Code returns a stable snake_case label for err, suitable for JSON bodies and metric labels.
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "internal"
}

// HTTPStatus maps err to the status code returned to the caller
func HTTPStatus(err error) int {
	return ClassOf(err).HTTPStatus()
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
