package identity

import "context"

// EventKind names an authentication state change pushed by the provider.
type EventKind string

const (
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
	EventUserUpdated    EventKind = "USER_UPDATED"
)

// Event is a provider notification. Session is nil for EventSignedOut.
type Event struct {
	Kind    EventKind
	Session *Session
}

// Subscription is returned by OnAuthStateChange.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }

// Refresher renews a session from its refresh token.
type Refresher interface {
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)
}

// Provider is the server side identity-provider adapter: stateless per call.
type Provider interface {
	Refresher

	// SignInWithOAuth returns the URL the browser must visit to authenticate with
	// provider. redirectTo is the callback URL the provider returns to.
	SignInWithOAuth(ctx context.Context, provider, redirectTo string, scopes []string) (string, error)

	// ExchangeCodeForSession completes the authorization code flow started with state.
	ExchangeCodeForSession(ctx context.Context, code, state string) (*Session, error)
}

// Client is the client side adapter: it owns the current session and pushes state
// changes to subscribers.
type Client interface {
	GetSession(ctx context.Context) (*Session, error)
	RefreshSession(ctx context.Context) (*Session, error)
	OnAuthStateChange(fn func(Event)) Subscription
	SignInWithOAuth(ctx context.Context, provider, redirectTo string, scopes []string) (string, error)
	ExchangeCodeForSession(ctx context.Context, code, state string) (*Session, error)
	SignOut(ctx context.Context) error
}
