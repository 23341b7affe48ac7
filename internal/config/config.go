package config

import "time"

type Config interface {
	EnvConfig
	CorsConfig
	OIDCConfig
	SessionConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetBaseURL() string
	GetForceHTTPS() bool
	GetLogLevel() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type OIDCConfig interface {
	GetIssuerURL() string
	GetClientID() string
	GetClientSecret() string
	GetScopes() []string
	GetRoleGroup() string
	GetRequiredRole() string
	GetWriteRole() string
	GetIdPTimeout() time.Duration
}

type SessionConfig interface {
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetSessionTTL() time.Duration
	GetRefreshLockTTL() time.Duration
	GetRefreshHandoffTTL() time.Duration
	GetCookieSecure() bool
}

type mainConfig struct {
	EnvVars
	Cors
	OIDC
	Session
}

func New() Config {
	return mainConfig{}
}
