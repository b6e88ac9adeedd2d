package config

import "strings"

type OAuthConfig interface {
	GetIssuerURL() string
	GetClientID() string
	GetClientSecret() string
	GetAuthURL() string
	GetTokenURL() string
	GetLogoutURL() string
	GetProviders() []string
	GetProviderScopes(provider string) []string
	GetProviderParams(provider string) map[string]string
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

// GetIssuerURL is the OIDC issuer of the identity provider fronting Google/Discord.
func (OAuth) GetIssuerURL() string {
	return GetEnv("OAUTH_ISSUER_URL", "")
}

func (OAuth) GetClientID() string {
	return GetEnv("OAUTH_CLIENT_ID", "")
}

func (OAuth) GetClientSecret() string {
	return GetEnv("OAUTH_CLIENT_SECRET", "")
}

// GetAuthURL and GetTokenURL override discovery when the provider has no OIDC metadata.
func (OAuth) GetAuthURL() string {
	return GetEnv("OAUTH_AUTH_URL", "")
}

func (OAuth) GetTokenURL() string {
	return GetEnv("OAUTH_TOKEN_URL", "")
}

// GetLogoutURL is called with the bearer access token on sign-out. Empty skips the call.
func (OAuth) GetLogoutURL() string {
	return GetEnv("OAUTH_LOGOUT_URL", "")
}

func (OAuth) GetProviders() []string {
	return GetEnvList("OAUTH_PROVIDERS", []string{"google", "discord"})
}

func (OAuth) GetProviderScopes(provider string) []string {
	switch provider {
	case "google":
		return GetEnvList("OAUTH_GOOGLE_SCOPES", []string{
			"openid", "email", "profile", "https://www.googleapis.com/auth/calendar",
		})
	case "discord":
		return GetEnvList("OAUTH_DISCORD_SCOPES", []string{"identify", "email"})
	default:
		return GetEnvList("OAUTH_"+strings.ToUpper(provider)+"_SCOPES", []string{"openid", "email"})
	}
}

func (OAuth) GetProviderParams(provider string) map[string]string {
	if provider == "google" {
		return map[string]string{"access_type": "offline", "prompt": "consent"}
	}
	return map[string]string{}
}
