// Package identity describes the credentials the gateway consumes from the external
// identity provider. The gateway reads and refreshes sessions; it never mints them.
package identity

import "time"

// Identity is the provider's view of an authenticated user.
type Identity struct {
	ID           string         // Provider subject id; primary key of the profile
	Email        string         // Contact email
	Provider     string         // Upstream provider the user signed in with (google, discord)
	UserMetadata map[string]any // Provider supplied profile data (full_name, avatar_url, ...)
}

// Session is an ephemeral credential bundle.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64 // Absolute expiry in epoch seconds; zero when unknown
	User         Identity
}

// Expiry returns ExpiresAt as a time.
func (s *Session) Expiry() time.Time {
	return time.Unix(s.ExpiresAt, 0)
}

// ExpiresIn is the time left before the access token expires, negative once expired.
func (s *Session) ExpiresIn(now time.Time) time.Duration {
	return time.Duration(s.ExpiresAt-now.Unix()) * time.Second
}

// Expired reports whether the access token can no longer be used.
func (s *Session) Expired(now time.Time) bool {
	return s.AccessToken == "" || s.ExpiresAt <= now.Unix()
}

// NeedsRefresh reports whether the session is within threshold of expiry.
func (s *Session) NeedsRefresh(now time.Time, threshold time.Duration) bool {
	return s.ExpiresIn(now) < threshold
}

// CanRefresh reports whether a refresh token is available.
func (s *Session) CanRefresh() bool {
	return s.RefreshToken != ""
}
