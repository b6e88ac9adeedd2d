package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes
	RouteLogin         = "/login"
	RouteSignIn        = "/auth/signin/{provider}"
	RouteCallback      = "/auth/callback"
	RouteAuthCodeError = "/auth/auth-code-error"
	RouteSignOut       = "/auth/signout"

	// API Routes
	RouteHealth = "/api/health"

	// Static Asset Routes (patterns)
	RouteStatic = "/static/{file}"
)

// pageRoutes render the placeholder page. A trailing slash covers the subtree.
var pageRoutes = []string{
	"/dashboard", "/dashboard/",
	"/profile", "/profile/",
	"/events", "/events/",
	"/admin", "/admin/",
	"/reports", "/reports/",
	"/users", "/users/",
}
