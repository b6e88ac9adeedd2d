// Package refresh keeps a session alive by renewing it shortly before it expires.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultThreshold is how long before expiry the refresh fires.
const DefaultThreshold = 5 * time.Minute

// Func performs one refresh. A successful refresh is expected to lead back to Arm
// with the new expiry, normally through the provider's token refreshed event.
type Func func(ctx context.Context) error

// Timer is the part of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d, like time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

// Scheduler owns at most one pending refresh timer. Arm and Cancel are atomic
// with respect to each other; a timer that was replaced or cancelled never calls
// the refresh function even if it already fired.
type Scheduler struct {
	refresh   Func
	threshold time.Duration
	now       func() time.Time
	afterFunc AfterFunc

	mu       sync.Mutex
	timer    Timer
	gen      uint64
	inflight *attempt
}

// attempt is a refresh call in progress.
type attempt struct {
	cancel context.CancelFunc
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithAfterFunc(f AfterFunc) Option {
	return func(s *Scheduler) { s.afterFunc = f }
}

// New creates a Scheduler. A non-positive threshold selects DefaultThreshold.
func New(refresh Func, threshold time.Duration, opts ...Option) *Scheduler {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	s := &Scheduler{
		refresh:   refresh,
		threshold: threshold,
		now:       time.Now,
		afterFunc: func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Threshold returns the configured refresh lead time.
func (s *Scheduler) Threshold() time.Duration {
	return s.threshold
}

// Arm replaces any pending timer with one that fires threshold before expiresAt.
// A session already inside the threshold is refreshed immediately on the timer
// goroutine. It returns the delay used.
func (s *Scheduler) Arm(expiresAt time.Time) time.Duration {
	delay := expiresAt.Sub(s.now()) - s.threshold
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.gen++
	gen := s.gen
	s.timer = s.afterFunc(delay, func() { s.fire(gen) })

	log.Debug().Dur("delay", delay).Time("expires_at", expiresAt).Msg("[refresh] timer armed")
	return delay
}

// Cancel clears the pending timer and cancels a refresh that is in flight.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.gen++
	if s.inflight != nil {
		s.inflight.cancel()
		s.inflight = nil
	}
}

// IsArmed reports whether a timer is pending.
func (s *Scheduler) IsArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	ctx, cancel := context.WithCancel(context.Background())
	current := &attempt{cancel: cancel}
	s.inflight = current
	s.mu.Unlock()

	err := s.refresh(ctx)

	s.mu.Lock()
	if s.inflight == current {
		s.inflight = nil
	}
	s.mu.Unlock()
	cancel()

	if err != nil {
		// No retry: the next request or sign-in re-establishes the session.
		log.Err(err).Msg("[refresh] session refresh failed")
		return
	}
	log.Debug().Msg("[refresh] session refreshed")
}
