package config

import "time"

type SecurityConfig interface {
	GetRefreshThreshold() time.Duration
	GetMaxSessionAge() time.Duration
	GetAccessTokenSecret() []byte
	GetCookieSecret() []byte
	GetAccessCookieName() string
	GetRefreshCookieName() string
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetRefreshThreshold is how long before expiry a session is proactively renewed.
func (Security) GetRefreshThreshold() time.Duration {
	return GetEnvDuration("SESSION_REFRESH_THRESHOLD", 5*time.Minute)
}

func (Security) GetMaxSessionAge() time.Duration {
	return GetEnvDuration("SESSION_MAX_AGE", 24*time.Hour)
}

// GetAccessTokenSecret is the HS256 secret the identity provider signs access tokens with.
func (Security) GetAccessTokenSecret() []byte {
	return []byte(GetEnv("ACCESS_TOKEN_SECRET", ""))
}

// GetCookieSecret seals the refresh token cookie. Only the first 32 bytes are used.
func (Security) GetCookieSecret() []byte {
	return []byte(GetEnv("COOKIE_SECRET", ""))
}

func (Security) GetAccessCookieName() string {
	return GetEnv("ACCESS_COOKIE_NAME", "sb-access-token")
}

func (Security) GetRefreshCookieName() string {
	return GetEnv("REFRESH_COOKIE_NAME", "sb-refresh-token")
}
