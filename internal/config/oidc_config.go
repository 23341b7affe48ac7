package config

import (
	"strings"
	"time"
)

type OIDC struct{}

var _ OIDCConfig = OIDC{}

// GetIssuerURL returns OIDC_ISSUER_URL, or the Keycloak realm issuer built from
// KEYCLOAK_SERVER_URL and KEYCLOAK_REALM.
func (OIDC) GetIssuerURL() string {
	if issuer := GetEnv("OIDC_ISSUER_URL", ""); issuer != "" {
		return strings.TrimSuffix(issuer, "/")
	}
	server := strings.TrimSuffix(GetEnv("KEYCLOAK_SERVER_URL", "http://localhost:8081"), "/")
	return server + "/realms/" + GetEnv("KEYCLOAK_REALM", "master")
}

func (OIDC) GetClientID() string {
	return GetEnv("KEYCLOAK_CLIENT_ID", "fastapi-keycloak")
}

func (OIDC) GetClientSecret() string {
	return GetEnv("KEYCLOAK_CLIENT_SECRET", "")
}

func (OIDC) GetScopes() []string {
	return strings.Fields(GetEnv("OIDC_SCOPES", "openid email profile"))
}

// GetRoleGroup is the resource_access entry holding the application's roles.
func (OIDC) GetRoleGroup() string {
	return GetEnv("APP_ROLE_GROUP", "fastapi-keycloak")
}

// GetRequiredRole must be granted before a session is ever persisted.
func (OIDC) GetRequiredRole() string {
	return GetEnv("APP_REQUIRED_ROLE", "read-data")
}

func (OIDC) GetWriteRole() string {
	return GetEnv("APP_WRITE_ROLE", "write-data")
}

func (OIDC) GetIdPTimeout() time.Duration {
	return GetDurationEnv("IDP_TIMEOUT", 10*time.Second)
}
