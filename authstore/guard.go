package authstore

import "github.com/jrsteele09/volunteer-gateway/policy"

// Action is what a page guard tells its caller to do.
type Action string

const (
	ActionWait      Action = "wait"       // Auth state still loading; render nothing yet
	ActionAllow     Action = "allow"      // Render the protected content
	ActionRedirect  Action = "redirect"   // Navigate to Target
	ActionShowError Action = "show_error" // Render the error with a retry link to Target
	ActionDeny      Action = "deny"       // Access refused and redirects are disabled; render a denial
)

// GuardOptions tune a guard the way individual pages need.
type GuardOptions struct {
	// RequiredRole additionally demands at least this role, on top of the policy.
	RequiredRole policy.Role
	// RedirectTo replaces the computed redirect target.
	RedirectTo string
	// DisableRedirect reports denial as ActionDeny instead of redirecting.
	DisableRedirect bool
}

// GuardDecision is the outcome of a guard.
type GuardDecision struct {
	Action     Action
	Target     string
	Reason     string
	Authorized bool
}

// Guard decides what a page at path should do for state. It uses the same policy
// as the gatekeeper, so a page the gatekeeper let through is allowed here too.
func Guard(state State, path string, p *policy.Policy, opts GuardOptions) GuardDecision {
	switch state.Status {
	case StatusLoading:
		return GuardDecision{Action: ActionWait}

	case StatusError:
		return GuardDecision{Action: ActionShowError, Target: p.LoginPath, Reason: state.Reason}

	case StatusAuthenticated:
		if !state.Authenticated() {
			break
		}
		role := state.Role()
		if p.HasAccess(role, path) && (opts.RequiredRole == "" || role.AtLeast(opts.RequiredRole)) {
			return GuardDecision{Action: ActionAllow, Authorized: true}
		}
		return deny(opts, p.DefaultRedirect(role), "insufficient role")
	}

	if p.HasAccess("", path) && opts.RequiredRole == "" {
		return GuardDecision{Action: ActionAllow, Authorized: true}
	}
	return deny(opts, p.LoginRedirect(path), "not signed in")
}

// Guard evaluates the store's current state for path.
func (s *Store) Guard(path string, p *policy.Policy, opts GuardOptions) GuardDecision {
	return Guard(s.State(), path, p, opts)
}

// HasRole reports whether the signed-in user has exactly role.
func (s *Store) HasRole(role policy.Role) bool {
	st := s.State()
	return st.Authenticated() && st.Profile.HasRole(role)
}

// HasAnyRole reports whether the signed-in user has one of roles.
func (s *Store) HasAnyRole(roles ...policy.Role) bool {
	st := s.State()
	return st.Authenticated() && st.Profile.HasAnyRole(roles...)
}

func deny(opts GuardOptions, target, reason string) GuardDecision {
	switch {
	case opts.DisableRedirect:
		return GuardDecision{Action: ActionDeny, Reason: reason}
	case opts.RedirectTo != "":
		target = opts.RedirectTo
	}
	return GuardDecision{Action: ActionRedirect, Target: target, Reason: reason}
}
