package gatekeeper

import (
	"context"

	"github.com/jrsteele09/volunteer-gateway/identity"
	"github.com/jrsteele09/volunteer-gateway/profiles"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyProfile stores the resolved profile
	ContextKeyProfile ContextKey = "profile"
	// ContextKeySession stores the request's session
	ContextKeySession ContextKey = "session"
	// ContextKeyRequestID stores the id used in gatekeeper logs
	ContextKeyRequestID ContextKey = "request_id"
)

// ProfileFromContext returns the profile the gatekeeper resolved, if any.
func ProfileFromContext(ctx context.Context) (*profiles.Profile, bool) {
	p, ok := ctx.Value(ContextKeyProfile).(*profiles.Profile)
	return p, ok && p != nil
}

// SessionFromContext returns the session the gatekeeper resolved, if any.
func SessionFromContext(ctx context.Context) (*identity.Session, bool) {
	s, ok := ctx.Value(ContextKeySession).(*identity.Session)
	return s, ok && s != nil
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyRequestID).(string)
	return id
}

func withDecision(ctx context.Context, d Decision) context.Context {
	ctx = context.WithValue(ctx, ContextKeyRequestID, d.RequestID)
	if d.Session != nil {
		ctx = context.WithValue(ctx, ContextKeySession, d.Session)
	}
	if d.Profile != nil {
		ctx = context.WithValue(ctx, ContextKeyProfile, d.Profile)
	}
	return ctx
}
