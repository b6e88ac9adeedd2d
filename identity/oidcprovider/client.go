package oidcprovider

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/volunteer-gateway/identity"
	gwerrors "github.com/jrsteele09/volunteer-gateway/internal/errors"
	"github.com/rs/zerolog/log"
)

// Client is the client side adapter. It owns one in-memory session and notifies
// subscribers of every change, in order, from the goroutine that made the change.
type Client struct {
	provider *Provider
	now      func() time.Time

	mu      sync.Mutex
	session *identity.Session

	subsMu sync.Mutex
	subs   map[int]func(identity.Event)
	nextID int
}

var _ identity.Client = (*Client)(nil)

type ClientOption func(*Client)

// WithSession seeds the client with a previously obtained session.
func WithSession(s *identity.Session) ClientOption {
	return func(c *Client) { c.session = s }
}

// WithClientClock overrides the clock used to detect expired sessions.
func WithClientClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

func NewClient(provider *Provider, opts ...ClientOption) *Client {
	c := &Client{
		provider: provider,
		now:      time.Now,
		subs:     make(map[int]func(identity.Event)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetSession returns the current session, nil when signed out. A hard-expired
// session is refreshed once; if that fails the client reports no session.
func (c *Client) GetSession(ctx context.Context) (*identity.Session, error) {
	c.mu.Lock()
	current := c.session
	c.mu.Unlock()

	if current == nil {
		return nil, nil
	}
	if !current.Expired(c.now()) {
		return copySession(current), nil
	}
	if !current.CanRefresh() {
		return nil, nil
	}
	refreshed, err := c.RefreshSession(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("[oidcprovider] expired session could not be refreshed")
		return nil, nil
	}
	return refreshed, nil
}

// RefreshSession renews the current session and publishes TOKEN_REFRESHED.
func (c *Client) RefreshSession(ctx context.Context) (*identity.Session, error) {
	c.mu.Lock()
	current := c.session
	c.mu.Unlock()
	if current == nil {
		return nil, gwerrors.ErrSessionNotFound
	}

	refreshed, err := c.provider.RefreshSession(ctx, current.RefreshToken)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	// A sign-out that raced the refresh wins.
	if c.session == nil {
		c.mu.Unlock()
		return nil, gwerrors.ErrSessionNotFound
	}
	c.session = refreshed
	c.mu.Unlock()

	c.emit(identity.Event{Kind: identity.EventTokenRefreshed, Session: copySession(refreshed)})
	return copySession(refreshed), nil
}

func (c *Client) SignInWithOAuth(ctx context.Context, provider, redirectTo string, scopes []string) (string, error) {
	return c.provider.SignInWithOAuth(ctx, provider, redirectTo, scopes)
}

// ExchangeCodeForSession completes sign-in and publishes SIGNED_IN.
func (c *Client) ExchangeCodeForSession(ctx context.Context, code, state string) (*identity.Session, error) {
	session, err := c.provider.ExchangeCodeForSession(ctx, code, state)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	c.emit(identity.Event{Kind: identity.EventSignedIn, Session: copySession(session)})
	return copySession(session), nil
}

// SignOut revokes the session at the broker, forgets it and publishes SIGNED_OUT.
// When revocation fails the session is kept and the error returned.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	current := c.session
	c.mu.Unlock()

	if current != nil {
		if err := c.provider.Revoke(ctx, current.AccessToken); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()

	c.emit(identity.Event{Kind: identity.EventSignedOut})
	return nil
}

// OnAuthStateChange registers fn for every subsequent event.
func (c *Client) OnAuthStateChange(fn func(identity.Event)) identity.Subscription {
	c.subsMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subsMu.Unlock()

	var once sync.Once
	return identity.SubscriptionFunc(func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.subs, id)
			c.subsMu.Unlock()
		})
	})
}

func (c *Client) emit(e identity.Event) {
	c.subsMu.Lock()
	fns := make([]func(identity.Event), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subsMu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

func copySession(s *identity.Session) *identity.Session {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}
