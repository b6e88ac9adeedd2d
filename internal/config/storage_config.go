package config

import "time"

type StorageConfig interface {
	GetDatabaseURL() string
	GetRedisAddr() string
	GetProfileCacheTTL() time.Duration
}

type Storage struct{}

var _ StorageConfig = Storage{}

// GetDatabaseURL is the PostgreSQL DSN. Empty selects the in-memory profile store.
func (Storage) GetDatabaseURL() string {
	return GetEnv("DATABASE_URL", "")
}

// GetRedisAddr enables the profile cache when set.
func (Storage) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "")
}

func (Storage) GetProfileCacheTTL() time.Duration {
	return GetEnvDuration("PROFILE_CACHE_TTL", 30*time.Second)
}
