// Package profiles holds the application's own record of a volunteer, keyed by the
// identity provider's subject id.
package profiles

import (
	"context"
	"slices"
	"time"

	"github.com/jrsteele09/volunteer-gateway/policy"
)

type Profile struct {
	ID             string         `json:"id"`                        // Provider subject id
	Email          string         `json:"email"`                     // Contact email
	Name           string         `json:"name"`                      // Display name
	Phone          string         `json:"phone,omitempty"`           // Optional, filled in by the user
	Role           policy.Role    `json:"role"`                      // Privilege level; changed only by managers
	GoogleProfile  map[string]any `json:"google_profile,omitempty"`  // Provider metadata when linked to Google
	DiscordProfile map[string]any `json:"discord_profile,omitempty"` // Provider metadata when linked to Discord
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Email          *string
	Name           *string
	Phone          *string
	Role           *policy.Role
	GoogleProfile  map[string]any
	DiscordProfile map[string]any
}

// Repo is the persistent profile store.
type Repo interface {
	// Get returns ErrNotFound when no profile has id.
	Get(ctx context.Context, id string) (*Profile, error)
	// Create returns ErrAlreadyExists when a profile with the same id exists.
	Create(ctx context.Context, p *Profile) error
	// Update applies patch and returns the stored result.
	Update(ctx context.Context, id string, patch Patch) (*Profile, error)
}

// Apply writes the non-nil fields of patch onto p.
func (patch Patch) Apply(p *Profile) {
	if patch.Email != nil {
		p.Email = *patch.Email
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Phone != nil {
		p.Phone = *patch.Phone
	}
	if patch.Role != nil {
		p.Role = *patch.Role
	}
	if patch.GoogleProfile != nil {
		p.GoogleProfile = patch.GoogleProfile
	}
	if patch.DiscordProfile != nil {
		p.DiscordProfile = patch.DiscordProfile
	}
}

func (p *Profile) HasRole(role policy.Role) bool {
	return p != nil && p.Role == role
}

func (p *Profile) HasAnyRole(roles ...policy.Role) bool {
	return p != nil && slices.Contains(roles, p.Role)
}

// CanManageEvents is true for managers and leads.
func (p *Profile) CanManageEvents() bool {
	return p.HasAnyRole(policy.RoleManager, policy.RoleLead)
}

// CanViewAllEvents is true for managers only.
func (p *Profile) CanViewAllEvents() bool {
	return p.HasRole(policy.RoleManager)
}
