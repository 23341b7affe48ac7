package config

import (
	"net"
	"time"
)

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetRedisAddr() string {
	return net.JoinHostPort(GetEnv("REDIS_HOST", "localhost"), GetEnv("REDIS_PORT", "6379"))
}

func (Session) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Session) GetRedisDB() int {
	return GetIntEnv("REDIS_DB", 0)
}

// GetSessionTTL bounds how long an abandoned session survives in the store. Zero keeps
// records until logout or refresh deletes them.
func (Session) GetSessionTTL() time.Duration {
	return GetDurationEnv("SESSION_TTL", 0)
}

func (Session) GetRefreshLockTTL() time.Duration {
	return GetDurationEnv("REFRESH_LOCK_TTL", 15*time.Second)
}

func (Session) GetRefreshHandoffTTL() time.Duration {
	return GetDurationEnv("REFRESH_HANDOFF_TTL", 30*time.Second)
}

func (Session) GetCookieSecure() bool {
	return GetBoolEnv("COOKIE_SECURE", false)
}
