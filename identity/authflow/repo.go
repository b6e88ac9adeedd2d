// Package authflow keeps the per-attempt state of an OAuth authorization code flow
// between the sign-in redirect and the provider callback.
package authflow

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"time"
)

// State is what the gateway remembers about one sign-in attempt, keyed by the
// OAuth state parameter.
type State struct {
	Provider     string
	CodeVerifier string
	RedirectURI  string
	CreatedAt    time.Time
}

type Repo interface {
	Upsert(state string, flow *State) error
	// Take returns the flow for state and removes it: a state is single use.
	Take(state string) (*State, error)
	Delete(state string) error
}

// RandomString creates a random base64url string from length bytes of entropy.
func RandomString(length int) string {
	b := make([]byte, length)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// CodeChallenge derives the S256 PKCE challenge for verifier.
func CodeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
