package authflow

import (
	"errors"
	"sync"
	"time"

	gwerrors "github.com/jrsteele09/volunteer-gateway/internal/errors"
)

// DefaultTTL bounds how long a user may take at the provider's consent screen.
const DefaultTTL = 10 * time.Minute

// NowTimeFunc can be overridden in tests
var NowTimeFunc = time.Now

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface.
// Expired states are dropped lazily on write.
type InMemoryRepo struct {
	mu     sync.RWMutex
	ttl    time.Duration
	states map[string]*State
}

// NewInMemoryRepo creates a new in-memory flow state repository
func NewInMemoryRepo(ttl time.Duration) *InMemoryRepo {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InMemoryRepo{
		ttl:    ttl,
		states: make(map[string]*State),
	}
}

// Upsert stores or updates a flow state
func (r *InMemoryRepo) Upsert(state string, flow *State) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if flow == nil {
		return errors.New("flow cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := NowTimeFunc()
	for k, v := range r.states {
		if now.Sub(v.CreatedAt) > r.ttl {
			delete(r.states, k)
		}
	}

	// Copy so callers cannot mutate stored state
	stored := *flow
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	r.states[state] = &stored
	return nil
}

func (r *InMemoryRepo) Take(state string) (*State, error) {
	if state == "" {
		return nil, gwerrors.ErrInvalidState
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	flow, exists := r.states[state]
	if !exists {
		return nil, gwerrors.Wrapf(gwerrors.ErrInvalidState, "state not found")
	}
	delete(r.states, state)

	if NowTimeFunc().Sub(flow.CreatedAt) > r.ttl {
		return nil, gwerrors.Wrapf(gwerrors.ErrInvalidState, "state expired")
	}
	out := *flow
	return &out, nil
}

// Delete removes a flow state
func (r *InMemoryRepo) Delete(state string) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.states, state)
	return nil
}

// Len reports the number of stored states.
func (r *InMemoryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}
