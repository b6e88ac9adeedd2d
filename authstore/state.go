package authstore

import (
	"github.com/jrsteele09/volunteer-gateway/identity"
	"github.com/jrsteele09/volunteer-gateway/policy"
	"github.com/jrsteele09/volunteer-gateway/profiles"
)

type Status string

const (
	StatusLoading         Status = "loading"
	StatusUnauthenticated Status = "unauthenticated"
	StatusAuthenticated   Status = "authenticated"
	StatusError           Status = "error"
)

const (
	reasonFetchProfile  = "Failed to fetch user profile"
	reasonCreateProfile = "Failed to create user profile"
	reasonInitSession   = "Failed to initialize session"
)

// State is an immutable snapshot of the store. Profile is set only when Status is
// StatusAuthenticated; Reason only when it is StatusError.
type State struct {
	Status  Status
	Profile *profiles.Profile
	Session *identity.Session
	Reason  string
	Version uint64 // Increases with every transition
}

// Role is the authenticated profile's role, empty otherwise.
func (s State) Role() policy.Role {
	if s.Status != StatusAuthenticated || s.Profile == nil {
		return ""
	}
	return s.Profile.Role
}

func (s State) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.Profile != nil
}

func (s State) String() string {
	switch {
	case s.Authenticated():
		return string(s.Status) + "(" + s.Profile.ID + ", " + string(s.Profile.Role) + ")"
	case s.Status == StatusError:
		return string(s.Status) + "(" + s.Reason + ")"
	default:
		return string(s.Status)
	}
}
