// Package authstore is the long-lived client side view of authentication. It turns
// provider notifications into one ordered sequence of states and keeps the session
// alive through a refresh.Scheduler.
package authstore

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/volunteer-gateway/identity"
	gwerrors "github.com/jrsteele09/volunteer-gateway/internal/errors"
	"github.com/jrsteele09/volunteer-gateway/profiles"
	"github.com/jrsteele09/volunteer-gateway/refresh"
	"github.com/rs/zerolog/log"
)

// Store is safe for concurrent use. Provider events and the initial session fetch
// are applied by a single goroutine in arrival order; commands (sign-in, sign-out,
// profile refresh) run on the caller's goroutine and go through the same
// transition function.
type Store struct {
	client    identity.Client
	repo      profiles.Repo
	scheduler *refresh.Scheduler
	threshold time.Duration
	now       func() time.Time
	scopes    func(provider string) []string

	schedulerOpts []refresh.Option

	mu    sync.RWMutex
	state State

	notifier *notifier

	queueMu sync.Mutex
	queue   []queued
	wake    chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}

	sub       identity.Subscription
	startOnce sync.Once
	closeOnce sync.Once
}

// queued is a unit of work for the event loop. initial marks the startup fetch.
type queued struct {
	initial bool
	event   identity.Event
	done    chan struct{}
}

type Option func(*Store)

// WithThreshold sets how long before expiry sessions are refreshed.
func WithThreshold(d time.Duration) Option {
	return func(s *Store) { s.threshold = d }
}

// WithClock overrides the clock for expiry checks and the scheduler.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithScopes supplies the OAuth scopes requested for each provider.
func WithScopes(scopes func(provider string) []string) Option {
	return func(s *Store) { s.scopes = scopes }
}

// WithSchedulerOptions passes options to the refresh scheduler the store creates.
func WithSchedulerOptions(opts ...refresh.Option) Option {
	return func(s *Store) { s.schedulerOpts = append(s.schedulerOpts, opts...) }
}

// New creates a Store in the loading state. Nothing happens until Start.
func New(client identity.Client, repo profiles.Repo, opts ...Option) *Store {
	s := &Store{
		client:    client,
		repo:      repo,
		threshold: refresh.DefaultThreshold,
		now:       time.Now,
		scopes:    func(string) []string { return nil },
		state:     State{Status: StatusLoading},
		notifier:  newNotifier(),
		wake:      make(chan struct{}, 1),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	schedulerOpts := append([]refresh.Option{refresh.WithClock(s.now)}, s.schedulerOpts...)
	s.scheduler = refresh.New(s.refreshSession, s.threshold, schedulerOpts...)
	return s
}

// Start subscribes to the provider and runs the initial transition. It returns
// once the store has left the loading state, or when ctx is done.
func (s *Store) Start(ctx context.Context) error {
	var done chan struct{}
	s.startOnce.Do(func() {
		s.sub = s.client.OnAuthStateChange(s.enqueue)
		go s.loop()

		done = make(chan struct{})
		s.push(queued{initial: true, done: done})
	})
	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close unsubscribes from the provider, cancels the scheduler and stops the event
// loop. The last state is kept.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		if s.sub != nil {
			s.sub.Unsubscribe()
		}
		s.scheduler.Cancel()
		s.cancel()

		started := true
		s.startOnce.Do(func() { started = false })
		if started {
			<-s.stopped
		}
		s.notifier.close()
	})
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers fn for every later state. Callbacks run one at a time, in
// transition order, and may call back into the store.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	return s.notifier.subscribe(fn)
}

// Scheduler exposes the refresh scheduler, mainly for inspection.
func (s *Store) Scheduler() *refresh.Scheduler {
	return s.scheduler
}

// SignInWith starts an OAuth sign-in and returns the URL to open. The store is
// loading for the duration of the call and then returns to its previous state;
// the provider's sign-in event completes the transition.
func (s *Store) SignInWith(ctx context.Context, provider, redirectTo string) (string, error) {
	if s.closed() {
		return "", gwerrors.ErrClosed
	}
	prev := s.transition(func(State) State { return State{Status: StatusLoading} })

	authURL, err := s.client.SignInWithOAuth(ctx, provider, redirectTo, s.scopes(provider))
	s.restore(prev)
	if err != nil {
		log.Err(err).Str("provider", provider).Msg("[authstore] sign in failed")
		return "", err
	}
	return authURL, nil
}

// SignOut cancels the refresh timer before contacting the provider. On failure
// the previous state is restored and the timer re-armed.
func (s *Store) SignOut(ctx context.Context) error {
	if s.closed() {
		return gwerrors.ErrClosed
	}
	s.scheduler.Cancel()
	prev := s.transition(func(State) State { return State{Status: StatusLoading} })

	if err := s.client.SignOut(ctx); err != nil {
		log.Err(err).Msg("[authstore] sign out failed")
		if s.restore(prev) && prev.Session != nil {
			s.scheduler.Arm(prev.Session.Expiry())
		}
		return err
	}

	s.transition(func(State) State { return State{Status: StatusUnauthenticated} })
	return nil
}

// RefreshProfile re-reads the profile of the current session. The result is
// applied only while the store still holds a session for the same subject, so a
// sign-out that lands during the lookup wins.
func (s *Store) RefreshProfile(ctx context.Context) error {
	if s.closed() {
		return gwerrors.ErrClosed
	}
	session, err := s.client.GetSession(ctx)
	if err != nil {
		return err
	}
	next := s.resolve(ctx, session)
	_, applied := s.transitionIf(func(cur State) (State, bool) {
		if session == nil {
			return next, cur.Session != nil
		}
		if cur.Session == nil || cur.Session.User.ID != session.User.ID {
			return cur, false
		}
		next.Session = cur.Session
		return next, true
	})
	if !applied {
		log.Debug().Msg("[authstore] profile refresh superseded")
	}
	if next.Status == StatusError {
		return gwerrors.New(next.Reason)
	}
	return nil
}

// ClearError leaves the error state for unauthenticated. Other states are untouched.
func (s *Store) ClearError() {
	s.transitionIf(func(cur State) (State, bool) {
		if cur.Status != StatusError {
			return cur, false
		}
		return State{Status: StatusUnauthenticated, Session: cur.Session}, true
	})
}

func (s *Store) closed() bool {
	return s.ctx.Err() != nil
}

func (s *Store) enqueue(e identity.Event) {
	s.push(queued{event: e})
}

func (s *Store) push(q queued) {
	s.queueMu.Lock()
	s.queue = append(s.queue, q)
	s.queueMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) pop() (queued, bool) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if len(s.queue) == 0 {
		return queued{}, false
	}
	q := s.queue[0]
	s.queue[0] = queued{}
	s.queue = s.queue[1:]
	return q, true
}

func (s *Store) loop() {
	defer close(s.stopped)
	defer s.drain()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		for {
			q, ok := s.pop()
			if !ok {
				break
			}
			if s.ctx.Err() != nil {
				if q.done != nil {
					close(q.done)
				}
				return
			}
			s.apply(q)
			if q.done != nil {
				close(q.done)
			}
		}
	}
}

// drain releases anyone waiting on work that will never run.
func (s *Store) drain() {
	for {
		q, ok := s.pop()
		if !ok {
			return
		}
		if q.done != nil {
			close(q.done)
		}
	}
}

// apply is the event loop's transition function.
func (s *Store) apply(q queued) {
	ctx := s.ctx

	if q.initial {
		session, err := s.validSession(ctx)
		if err != nil {
			log.Err(err).Msg("[authstore] initial session")
			s.transition(func(State) State { return State{Status: StatusError, Reason: reasonInitSession} })
			return
		}
		s.establish(ctx, session)
		return
	}

	e := q.event
	log.Debug().Str("event", string(e.Kind)).Msg("[authstore] auth state change")

	switch e.Kind {
	case identity.EventSignedOut:
		s.scheduler.Cancel()
		s.transition(func(State) State { return State{Status: StatusUnauthenticated} })

	case identity.EventTokenRefreshed:
		if e.Session != nil && s.sameSubject(e.Session) {
			s.scheduler.Arm(e.Session.Expiry())
			s.transition(func(cur State) State {
				cur.Session = e.Session
				return cur
			})
			return
		}
		s.establish(ctx, e.Session)

	case identity.EventSignedIn, identity.EventUserUpdated:
		s.establish(ctx, e.Session)

	default:
		log.Warn().Str("event", string(e.Kind)).Msg("[authstore] ignoring unknown event")
	}
}

// establish arms the scheduler for session and resolves its profile.
func (s *Store) establish(ctx context.Context, session *identity.Session) {
	if session == nil {
		s.scheduler.Cancel()
		s.transition(func(State) State { return State{Status: StatusUnauthenticated} })
		return
	}
	s.scheduler.Arm(session.Expiry())
	next := s.resolve(ctx, session)
	s.transition(func(State) State { return next })
}

// resolve computes the state for session, provisioning a profile for a new identity.
func (s *Store) resolve(ctx context.Context, session *identity.Session) State {
	if session == nil {
		return State{Status: StatusUnauthenticated}
	}

	p, err := s.repo.Get(ctx, session.User.ID)
	if gwerrors.Is(err, gwerrors.ErrNotFound) {
		p, _, err = profiles.Provision(ctx, s.repo, session.User)
		if err != nil {
			log.Err(err).Str("id", session.User.ID).Msg("[authstore] creating profile")
			return State{Status: StatusError, Session: session, Reason: reasonCreateProfile}
		}
	} else if err != nil {
		log.Err(err).Str("id", session.User.ID).Msg("[authstore] fetching profile")
		return State{Status: StatusError, Session: session, Reason: reasonFetchProfile}
	}
	return State{Status: StatusAuthenticated, Profile: p, Session: session}
}

// validSession returns the provider's session, refreshing it first when it is
// within the threshold. A failed refresh keeps the session it had.
func (s *Store) validSession(ctx context.Context) (*identity.Session, error) {
	session, err := s.client.GetSession(ctx)
	if err != nil || session == nil {
		return nil, err
	}
	if !session.NeedsRefresh(s.now(), s.threshold) || !session.CanRefresh() {
		return session, nil
	}

	refreshed, err := s.client.RefreshSession(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("[authstore] refresh of initial session failed, keeping current session")
		return session, nil
	}
	return refreshed, nil
}

func (s *Store) refreshSession(ctx context.Context) error {
	_, err := s.client.RefreshSession(ctx)
	return err
}

func (s *Store) sameSubject(session *identity.Session) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Authenticated() && s.state.Profile.ID == session.User.ID
}

// transition replaces the state with fn(current) and notifies subscribers. It
// returns the state that was replaced.
func (s *Store) transition(fn func(State) State) State {
	prev, _ := s.transitionIf(func(cur State) (State, bool) { return fn(cur), true })
	return prev
}

func (s *Store) transitionIf(fn func(State) (State, bool)) (State, bool) {
	s.mu.Lock()
	prev := s.state
	next, ok := fn(prev)
	if !ok {
		s.mu.Unlock()
		return prev, false
	}
	next.Version = prev.Version + 1
	s.state = next
	s.notifier.add(next)
	s.mu.Unlock()

	if prev.Status != next.Status {
		log.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("[authstore] transition")
	}
	s.notifier.flush()
	return prev, true
}

// restore puts prev back if nothing else changed the state since the loading
// transition that followed it. It reports whether it did.
func (s *Store) restore(prev State) bool {
	_, ok := s.transitionIf(func(cur State) (State, bool) {
		if cur.Version != prev.Version+1 {
			return cur, false
		}
		return prev, true
	})
	return ok
}
