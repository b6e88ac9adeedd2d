package repofake

import (
	"context"
	"sync"

	gwerrors "github.com/jrsteele09/volunteer-gateway/internal/errors"
	"github.com/jrsteele09/volunteer-gateway/internal/utils"
	"github.com/jrsteele09/volunteer-gateway/profiles"
)

var _ profiles.Repo = (*FakeProfileRepo)(nil)

// FakeProfileRepo is an in-memory profile store. Calls can be made to fail with
// FailGet, FailCreate and FailUpdate.
type FakeProfileRepo struct {
	profiles map[string]*profiles.Profile
	lock     sync.RWMutex

	getErr, createErr, updateErr error

	gets, creates, updates int
}

func NewFakeProfileRepo(seed ...*profiles.Profile) *FakeProfileRepo {
	r := &FakeProfileRepo{profiles: make(map[string]*profiles.Profile)}
	for _, p := range seed {
		r.profiles[p.ID] = clone(p)
	}
	return r
}

func (r *FakeProfileRepo) Get(_ context.Context, id string) (*profiles.Profile, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.gets++
	if r.getErr != nil {
		return nil, r.getErr
	}
	p, ok := r.profiles[id]
	if !ok {
		return nil, gwerrors.Wrapf(gwerrors.ErrNotFound, "profile %s", id)
	}
	return clone(p), nil
}

func (r *FakeProfileRepo) Create(_ context.Context, p *profiles.Profile) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.creates++
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.profiles[p.ID]; ok {
		return gwerrors.Wrapf(gwerrors.ErrAlreadyExists, "profile %s", p.ID)
	}
	r.profiles[p.ID] = clone(p)
	return nil
}

func (r *FakeProfileRepo) Update(_ context.Context, id string, patch profiles.Patch) (*profiles.Profile, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.updates++
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	p, ok := r.profiles[id]
	if !ok {
		return nil, gwerrors.Wrapf(gwerrors.ErrNotFound, "profile %s", id)
	}
	patch.Apply(p)
	p.UpdatedAt = profiles.NowTimeFunc().UTC()
	return clone(p), nil
}

func (r *FakeProfileRepo) FailGet(err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.getErr = err
}

func (r *FakeProfileRepo) FailCreate(err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.createErr = err
}

func (r *FakeProfileRepo) FailUpdate(err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.updateErr = err
}

// Len returns the number of stored profiles.
func (r *FakeProfileRepo) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.profiles)
}

// Calls returns how many times Get, Create and Update were called.
func (r *FakeProfileRepo) Calls() (gets, creates, updates int) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.gets, r.creates, r.updates
}

func clone(p *profiles.Profile) *profiles.Profile {
	out := *p
	out.GoogleProfile = utils.CloneMap(p.GoogleProfile)
	out.DiscordProfile = utils.CloneMap(p.DiscordProfile)
	return &out
}
