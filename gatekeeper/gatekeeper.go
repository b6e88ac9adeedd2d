// Package gatekeeper runs before every page request: it resolves and refreshes the
// session from cookies, provisions first-time users and enforces the role policy.
// It never fails a request; every problem ends in a redirect or in letting the
// request through.
package gatekeeper

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/volunteer-gateway/identity"
	gwerrors "github.com/jrsteele09/volunteer-gateway/internal/errors"
	"github.com/jrsteele09/volunteer-gateway/policy"
	"github.com/jrsteele09/volunteer-gateway/profiles"
	"github.com/jrsteele09/volunteer-gateway/refresh"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultCallbackPath = "/auth/callback"

// SessionStore reads and writes the request's session cookies.
type SessionStore interface {
	Read(r *http.Request) (*identity.Session, error)
	Write(w http.ResponseWriter, s *identity.Session) error
	Clear(w http.ResponseWriter)
}

type Outcome string

const (
	OutcomeBypass   Outcome = "bypass"   // Not a page request; untouched
	OutcomeContinue Outcome = "continue" // Render the page
	OutcomeRedirect Outcome = "redirect" // Send the browser to Location
)

// Decision is the result of evaluating one request.
type Decision struct {
	Outcome   Outcome
	Location  string
	Reason    string
	RequestID string
	Session   *identity.Session
	Profile   *profiles.Profile
	Created   bool // The profile was provisioned by this request
	Err       error
}

// Gatekeeper holds no per-request state and is safe for concurrent use.
type Gatekeeper struct {
	policy       *policy.Policy
	sessions     SessionStore
	refresher    identity.Refresher
	profiles     profiles.Repo
	threshold    time.Duration
	now          func() time.Time
	callbackPath string
	bypass       []string
}

type Option func(*Gatekeeper)

func WithThreshold(d time.Duration) Option {
	return func(g *Gatekeeper) {
		if d > 0 {
			g.threshold = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gatekeeper) { g.now = now }
}

// WithCallbackPath sets the OAuth callback route, which is never gated.
func WithCallbackPath(p string) Option {
	return func(g *Gatekeeper) { g.callbackPath = p }
}

// WithBypassPrefixes adds path prefixes that are never gated.
func WithBypassPrefixes(prefixes ...string) Option {
	return func(g *Gatekeeper) { g.bypass = append(g.bypass, prefixes...) }
}

func New(p *policy.Policy, sessions SessionStore, refresher identity.Refresher, repo profiles.Repo, opts ...Option) *Gatekeeper {
	g := &Gatekeeper{
		policy:       p,
		sessions:     sessions,
		refresher:    refresher,
		profiles:     repo,
		threshold:    refresh.DefaultThreshold,
		now:          time.Now,
		callbackPath: DefaultCallbackPath,
		bypass:       []string{"/api/", "/_next/", "/static/"},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Middleware gates next.
func (g *Gatekeeper) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(g.Handler(next.ServeHTTP))
}

// Handler is Middleware in the func(http.HandlerFunc) http.HandlerFunc shape used
// by ChainMiddleware.
func (g *Gatekeeper) Handler(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d := g.Evaluate(w, r)
		switch d.Outcome {
		case OutcomeBypass:
			next(w, r)
		case OutcomeRedirect:
			http.Redirect(w, r, d.Location, http.StatusSeeOther)
		default:
			setSecurityHeaders(w)
			next(w, r.WithContext(withDecision(r.Context(), d)))
		}
	}
}

// Evaluate decides what to do with r. Cookie changes are written to w; the
// redirect itself is left to the caller.
func (g *Gatekeeper) Evaluate(w http.ResponseWriter, r *http.Request) (d Decision) {
	p := r.URL.Path
	if g.bypassed(p) {
		return Decision{Outcome: OutcomeBypass}
	}

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := log.With().Str("request_id", requestID).Str("path", p).Logger()

	defer func() {
		if rec := recover(); rec != nil {
			err := gwerrors.Wrapf(gwerrors.ErrInternal, "recovered panic %q", fmt.Sprint(rec))
			logger.Err(err).Msg("[gatekeeper] recovered")
			g.sessions.Clear(w)
			d = g.fallback(p, "internal error")
			d.Err = err
		}
		d.RequestID = requestID
		logger.Debug().Str("outcome", string(d.Outcome)).Str("location", d.Location).Str("reason", d.Reason).Msg("[gatekeeper] decision")
	}()

	return g.evaluate(r.Context(), w, r, p, logger)
}

func (g *Gatekeeper) evaluate(ctx context.Context, w http.ResponseWriter, r *http.Request, p string, logger zerolog.Logger) Decision {
	session, err := g.sessions.Read(r)
	if err != nil {
		logger.Warn().Err(err).Msg("[gatekeeper] unreadable session, clearing cookies")
		g.sessions.Clear(w)
		d := g.fallback(p, "invalid session")
		d.Err = err
		return d
	}

	if session != nil {
		session = g.refreshIfNeeded(ctx, w, session, logger)
	}

	if session == nil {
		if g.policy.RequiresSignIn(p) {
			return g.redirect(g.policy.LoginRedirect(p), "not signed in")
		}
		return Decision{Outcome: OutcomeContinue}
	}

	profile, created, err := profiles.Provision(ctx, g.profiles, session.User)
	if err != nil {
		logger.Err(err).Str("sub", session.User.ID).Msg("[gatekeeper] profile lookup failed")
		landing := g.policy.DefaultRedirect(profiles.DefaultRole)
		if p == landing {
			return Decision{Outcome: OutcomeContinue, Session: session, Reason: "profile unavailable"}
		}
		return g.redirect(landing, "profile unavailable")
	}

	if created {
		landing := g.policy.DefaultRedirect(profile.Role)
		if p != landing {
			d := g.redirect(landing, "new user")
			d.Session, d.Profile, d.Created = session, profile, true
			return d
		}
		return Decision{Outcome: OutcomeContinue, Session: session, Profile: profile, Created: true}
	}

	if !g.policy.HasAccess(profile.Role, p) {
		target := g.policy.DefaultRedirect(profile.Role)
		if target != p {
			return g.redirect(target, "insufficient role")
		}
		// The role cannot reach its own landing page. Send it to sign in again
		// unless this is already the login page.
		if !g.policy.IsLoginPath(p) {
			g.sessions.Clear(w)
			return g.redirect(g.policy.LoginRedirect(p), "insufficient role")
		}
		return Decision{Outcome: OutcomeContinue, Session: session, Reason: "insufficient role"}
	}

	if g.policy.IsLoginPath(p) && profile.Role.Valid() {
		return g.redirect(g.policy.DefaultRedirect(profile.Role), "already signed in")
	}

	return Decision{Outcome: OutcomeContinue, Session: session, Profile: profile}
}

// refreshIfNeeded renews a session inside the refresh threshold. A failed refresh
// is not fatal unless the session is already expired, in which case it is dropped
// and its cookies cleared.
func (g *Gatekeeper) refreshIfNeeded(ctx context.Context, w http.ResponseWriter, session *identity.Session, logger zerolog.Logger) *identity.Session {
	now := g.now()
	if !session.NeedsRefresh(now, g.threshold) {
		return session
	}

	if session.CanRefresh() {
		refreshed, err := g.refresher.RefreshSession(ctx, session.RefreshToken)
		if err == nil {
			if err := g.sessions.Write(w, refreshed); err != nil {
				logger.Err(err).Msg("[gatekeeper] writing refreshed session")
			}
			return refreshed
		}
		logger.Warn().Err(err).Msg("[gatekeeper] token refresh failed")
	}

	if session.Expired(now) {
		g.sessions.Clear(w)
		return nil
	}
	return session
}

// fallback is the decision when the session cannot be trusted.
func (g *Gatekeeper) fallback(p, reason string) Decision {
	if g.policy.RequiresSignIn(p) {
		return g.redirect(g.policy.LoginRedirect(p), reason)
	}
	return Decision{Outcome: OutcomeContinue, Reason: reason}
}

func (g *Gatekeeper) redirect(location, reason string) Decision {
	return Decision{Outcome: OutcomeRedirect, Location: location, Reason: reason}
}

func (g *Gatekeeper) bypassed(p string) bool {
	if p == "/favicon.ico" || p == g.callbackPath || strings.HasPrefix(p, g.callbackPath+"/") {
		return true
	}
	for _, prefix := range g.bypass {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	// Files such as /robots.txt or /images/logo.png, outside anything the policy guards
	return strings.Contains(path.Base(p), ".") && !g.policy.RequiresSignIn(p)
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
}
