package config

import "github.com/joho/godotenv"

type Config interface {
	EnvConfig
	CorsConfig
	OAuthConfig
	SecurityConfig
	StorageConfig
	PolicyConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetBaseURL() string
	GetLogLevel() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() []string
	GetAllowedHeaders() []string
}

type mainConfig struct {
	EnvVars
	Cors
	OAuth
	Security
	Storage
	Policy
}

// New loads a .env file when one is present and returns the env backed configuration.
// A missing .env file is not an error; production sets real environment variables.
func New() Config {
	_ = godotenv.Load()
	return mainConfig{}
}
