package postgres_test

import "github.com/jrsteele09/volunteer-gateway/identity"

func identityFixture() identity.Identity {
	return identity.Identity{
		ID:           "sub-3",
		Email:        "w@example.com",
		Provider:     "discord",
		UserMetadata: map[string]any{"name": "w"},
	}
}
