// Package policy maps a role and a request path to an access decision.
// It has no environment dependency so the request gatekeeper and the client side
// auth store evaluate exactly the same table.
package policy

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	gwerrors "github.com/jrsteele09/volunteer-gateway/internal/errors"
)

const (
	DefaultLoginPath   = "/login"
	DefaultReturnParam = "redirectTo"
)

// Route binds a path prefix to the minimal role allowed to visit it.
type Route struct {
	Prefix string `yaml:"prefix"`
	Role   Role   `yaml:"role"`
}

// Policy is an immutable role policy table. Build one with Default, Parse or Load
// and do not mutate it afterwards; all methods are safe for concurrent use.
type Policy struct {
	LoginPath   string
	ReturnParam string
	Protected   []string
	Landing     map[Role]string

	// routes is sorted by descending prefix length for longest-prefix matching.
	routes []Route
}

// New builds a policy from its parts, normalising prefixes.
func New(loginPath string, protected []string, routes []Route, landing map[Role]string) *Policy {
	p := &Policy{
		LoginPath:   cleanPrefix(loginPath),
		ReturnParam: DefaultReturnParam,
		Landing:     make(map[Role]string, len(landing)),
	}
	if p.LoginPath == "" {
		p.LoginPath = DefaultLoginPath
	}
	for _, prefix := range protected {
		p.Protected = append(p.Protected, cleanPrefix(prefix))
	}
	for _, r := range routes {
		p.routes = append(p.routes, Route{Prefix: cleanPrefix(r.Prefix), Role: r.Role})
	}
	sort.SliceStable(p.routes, func(i, j int) bool {
		return len(p.routes[i].Prefix) > len(p.routes[j].Prefix)
	})
	for role, path := range landing {
		p.Landing[role] = path
	}
	return p
}

// Default is the volunteer application's built-in table.
func Default() *Policy {
	return New(DefaultLoginPath,
		[]string{"/dashboard", "/profile", "/events"},
		[]Route{
			{Prefix: "/dashboard/manager", Role: RoleManager},
			{Prefix: "/admin", Role: RoleManager},
			{Prefix: "/reports", Role: RoleManager},
			{Prefix: "/users", Role: RoleManager},
			{Prefix: "/dashboard/lead", Role: RoleLead},
			{Prefix: "/events/manage", Role: RoleLead},
			{Prefix: "/dashboard", Role: RoleVolunteer},
			{Prefix: "/profile", Role: RoleVolunteer},
			{Prefix: "/events/signup", Role: RoleVolunteer},
		},
		map[Role]string{
			RoleManager:   "/dashboard/manager",
			RoleLead:      "/dashboard/lead",
			RoleVolunteer: "/dashboard",
		},
	)
}

// Routes returns a copy of the role routes in match order.
func (p *Policy) Routes() []Route {
	return append([]Route(nil), p.routes...)
}

// IsProtected reports whether path requires an authenticated caller.
func (p *Policy) IsProtected(path string) bool {
	for _, prefix := range p.Protected {
		if matchPrefix(prefix, path) {
			return true
		}
	}
	return false
}

// RequiresSignIn reports whether an anonymous caller is denied path, either because
// it is protected or because a role route covers it.
func (p *Policy) RequiresSignIn(path string) bool {
	return !p.HasAccess("", path)
}

// RequiredRole returns the minimal role for path using the longest matching prefix.
// The boolean is false for public routes.
func (p *Policy) RequiredRole(path string) (Role, bool) {
	for _, r := range p.routes {
		if matchPrefix(r.Prefix, path) {
			return r.Role, true
		}
	}
	return "", false
}

// HasAccess reports whether role may visit path. An empty or unknown role is treated
// as unauthenticated: denied on protected and role-bearing paths, allowed elsewhere.
func (p *Policy) HasAccess(role Role, path string) bool {
	required, hasRequirement := p.RequiredRole(path)
	if !role.Valid() {
		return !hasRequirement && !p.IsProtected(path)
	}
	if !hasRequirement {
		return true
	}
	return role.AtLeast(required)
}

// DefaultRedirect returns the landing path for role, or the login path when the role
// has none.
func (p *Policy) DefaultRedirect(role Role) string {
	if path, ok := p.Landing[role]; ok && path != "" {
		return path
	}
	return p.LoginPath
}

// LoginRedirect builds the login URL carrying returnTo as the return target.
func (p *Policy) LoginRedirect(returnTo string) string {
	if returnTo == "" {
		return p.LoginPath
	}
	q := url.Values{}
	q.Set(p.ReturnParam, returnTo)
	return p.LoginPath + "?" + q.Encode()
}

// IsLoginPath reports whether path is the login page.
func (p *Policy) IsLoginPath(path string) bool {
	return cleanPrefix(path) == p.LoginPath
}

// Validate checks that every known role has a landing path it can access and that
// each route names a known role. A role denied its own landing page would loop.
func (p *Policy) Validate() error {
	for _, r := range p.routes {
		if !r.Role.Valid() {
			return fmt.Errorf("%w: route %q has unknown role %q", gwerrors.ErrInvalidPolicy, r.Prefix, r.Role)
		}
		if r.Prefix == "" || !strings.HasPrefix(r.Prefix, "/") {
			return fmt.Errorf("%w: route prefix %q must start with /", gwerrors.ErrInvalidPolicy, r.Prefix)
		}
	}
	for _, role := range Roles() {
		landing, ok := p.Landing[role]
		if !ok || landing == "" {
			return fmt.Errorf("%w: role %q has no landing path", gwerrors.ErrInvalidPolicy, role)
		}
		if !p.HasAccess(role, landing) {
			return fmt.Errorf("%w: role %q cannot access its landing path %q", gwerrors.ErrInvalidPolicy, role, landing)
		}
		if p.IsLoginPath(landing) {
			return fmt.Errorf("%w: role %q lands on the login path", gwerrors.ErrInvalidPolicy, role)
		}
	}
	return nil
}

// matchPrefix matches whole path segments: /admin covers /admin and /admin/x but not /administrator.
func matchPrefix(prefix, path string) bool {
	if prefix == "" {
		return false
	}
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

func cleanPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if len(prefix) > 1 {
		prefix = strings.TrimSuffix(prefix, "/")
	}
	return prefix
}
