package authstore_test

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/volunteer-gateway/identity"
	gwerrors "github.com/jrsteele09/volunteer-gateway/internal/errors"
	"github.com/jrsteele09/volunteer-gateway/refresh"
)

// fakeClient is an identity.Client holding one session and emitting events
// synchronously, as the real client does.
type fakeClient struct {
	mu         sync.Mutex
	session    *identity.Session
	refreshed  *identity.Session
	refreshErr error
	signInErr  error
	signOutErr error
	onSignOut  func()

	refreshCalls int
	signOutCalls int
	subscribes   int

	subs   map[int]func(identity.Event)
	nextID int
}

func newFakeClient(session *identity.Session) *fakeClient {
	return &fakeClient{session: session, subs: make(map[int]func(identity.Event))}
}

func (c *fakeClient) GetSession(context.Context) (*identity.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, nil
}

func (c *fakeClient) RefreshSession(context.Context) (*identity.Session, error) {
	c.mu.Lock()
	c.refreshCalls++
	if c.refreshErr != nil {
		err := c.refreshErr
		c.mu.Unlock()
		return nil, err
	}
	if c.session == nil {
		c.mu.Unlock()
		return nil, gwerrors.ErrSessionNotFound
	}
	next := c.refreshed
	if next == nil {
		cp := *c.session
		cp.ExpiresAt = time.Now().Add(time.Hour).Unix()
		next = &cp
	}
	c.session = next
	c.mu.Unlock()

	c.emit(identity.Event{Kind: identity.EventTokenRefreshed, Session: next})
	return next, nil
}

func (c *fakeClient) OnAuthStateChange(fn func(identity.Event)) identity.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribes++
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	return identity.SubscriptionFunc(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	})
}

func (c *fakeClient) SignInWithOAuth(_ context.Context, provider, redirectTo string, _ []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signInErr != nil {
		return "", c.signInErr
	}
	return "https://idp.example.com/authorize?provider=" + provider + "&redirect_to=" + redirectTo, nil
}

func (c *fakeClient) ExchangeCodeForSession(context.Context, string, string) (*identity.Session, error) {
	return nil, gwerrors.ErrProviderExchange
}

func (c *fakeClient) SignOut(context.Context) error {
	c.mu.Lock()
	c.signOutCalls++
	hook := c.onSignOut
	if c.signOutErr != nil {
		err := c.signOutErr
		c.mu.Unlock()
		if hook != nil {
			hook()
		}
		return err
	}
	c.session = nil
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	c.emit(identity.Event{Kind: identity.EventSignedOut})
	return nil
}

// signIn simulates the provider completing a sign-in elsewhere.
func (c *fakeClient) signIn(s *identity.Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	c.emit(identity.Event{Kind: identity.EventSignedIn, Session: s})
}

func (c *fakeClient) emit(e identity.Event) {
	c.mu.Lock()
	fns := make([]func(identity.Event), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

func (c *fakeClient) set(fn func(c *fakeClient)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

func (c *fakeClient) counts() (refreshes, signOuts, subscribers int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshCalls, c.signOutCalls, len(c.subs)
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (f *fakeTimers) afterFunc(d time.Duration, fn func()) refresh.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	f.timers = append(f.timers, t)
	return t
}

func (f *fakeTimers) all() []*fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeTimer(nil), f.timers...)
}

func (f *fakeTimers) last() *fakeTimer {
	all := f.all()
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}
