package profiles

import (
	"context"
	"strings"
	"time"

	"github.com/jrsteele09/volunteer-gateway/identity"
	gwerrors "github.com/jrsteele09/volunteer-gateway/internal/errors"
	"github.com/jrsteele09/volunteer-gateway/internal/utils"
	"github.com/jrsteele09/volunteer-gateway/policy"
	"github.com/rs/zerolog/log"
)

// DefaultRole is assigned to every first-seen identity.
const DefaultRole = policy.RoleVolunteer

const (
	ProviderGoogle  = "google"
	ProviderDiscord = "discord"
)

// NowTimeFunc can be overridden in tests
var NowTimeFunc = time.Now

// DisplayName picks full_name, then name, then the local part of the email.
func DisplayName(id identity.Identity) string {
	if name := utils.FirstString(id.UserMetadata, "full_name", "name"); name != "" {
		return name
	}
	local, _, _ := strings.Cut(id.Email, "@")
	return local
}

// NewFromIdentity builds the profile created on first sign-in.
func NewFromIdentity(id identity.Identity) *Profile {
	now := NowTimeFunc().UTC()
	p := &Profile{
		ID:        id.ID,
		Email:     id.Email,
		Name:      DisplayName(id),
		Role:      DefaultRole,
		CreatedAt: now,
		UpdatedAt: now,
	}
	switch id.Provider {
	case ProviderGoogle:
		p.GoogleProfile = utils.CloneMap(id.UserMetadata)
	case ProviderDiscord:
		p.DiscordProfile = utils.CloneMap(id.UserMetadata)
	}
	return p
}

// linkagePatch carries the fields refreshed on every sign-in. Role is never part of it.
func linkagePatch(id identity.Identity) Patch {
	patch := Patch{
		Email: utils.Ptr(id.Email),
		Name:  utils.Ptr(DisplayName(id)),
	}
	metadata := utils.CloneMap(id.UserMetadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	switch id.Provider {
	case ProviderGoogle:
		patch.GoogleProfile = metadata
	case ProviderDiscord:
		patch.DiscordProfile = metadata
	}
	return patch
}

// Provision returns the profile for id, creating it with DefaultRole when it does
// not exist. created reports whether this call inserted the row. A create that
// loses a race with a concurrent first sign-in returns the winner's profile.
func Provision(ctx context.Context, repo Repo, id identity.Identity) (p *Profile, created bool, err error) {
	p, err = repo.Get(ctx, id.ID)
	if err == nil {
		return p, false, nil
	}
	if !gwerrors.Is(err, gwerrors.ErrNotFound) {
		return nil, false, err
	}
	return create(ctx, repo, id)
}

// Sync runs on every completed sign-in: it creates the profile for a new identity,
// otherwise refreshes name, email and provider linkage while preserving the role.
func Sync(ctx context.Context, repo Repo, id identity.Identity) (*Profile, error) {
	_, err := repo.Get(ctx, id.ID)
	switch {
	case gwerrors.Is(err, gwerrors.ErrNotFound):
		p, created, err := create(ctx, repo, id)
		if err != nil || created {
			return p, err
		}
	case err != nil:
		return nil, err
	}

	p, err := repo.Update(ctx, id.ID, linkagePatch(id))
	if err != nil {
		return nil, gwerrors.Wrapf(err, "updating profile %s", id.ID)
	}
	return p, nil
}

func create(ctx context.Context, repo Repo, id identity.Identity) (*Profile, bool, error) {
	p := NewFromIdentity(id)
	err := repo.Create(ctx, p)
	switch {
	case err == nil:
		log.Info().Str("id", p.ID).Str("provider", id.Provider).Msg("[profiles] provisioned new volunteer")
		return p, true, nil
	case gwerrors.Is(err, gwerrors.ErrAlreadyExists):
		existing, err := repo.Get(ctx, id.ID)
		if err != nil {
			return nil, false, gwerrors.Wrapf(err, "re-reading profile %s after create conflict", id.ID)
		}
		return existing, false, nil
	default:
		return nil, false, gwerrors.Wrapf(err, "creating profile %s", id.ID)
	}
}
