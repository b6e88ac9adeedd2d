package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/jrsteele09/volunteer-gateway/gatekeeper"
	"github.com/jrsteele09/volunteer-gateway/profiles"
	"github.com/rs/zerolog/log"
)

const contentTypeHTML = "text/html; charset=utf-8"

// PageData is rendered by every application page.
type PageData struct {
	AppName       string
	Title         string
	Path          string
	Profile       *profiles.Profile
	SignOutPath   string
	LoginPath     string
	CanManage     bool
	CanViewEvents bool
}

// PageHandlers renders the application pages. Access has already been decided by
// the gatekeeper; the page only shows who is signed in.
func (s *Server) PageHandlers() (http.HandlerFunc, error) {
	tmpl, err := ParseTemplate("page.html")
	if err != nil {
		return nil, err
	}

	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := gatekeeper.ProfileFromContext(r.Context())
		data := PageData{
			AppName:       s.config.GetAppName(),
			Title:         pageTitle(r.URL.Path),
			Path:          r.URL.Path,
			Profile:       p,
			SignOutPath:   RouteSignOut,
			LoginPath:     s.policy.LoginPath,
			CanManage:     p.CanManageEvents(),
			CanViewEvents: p.CanViewAllEvents(),
		}

		w.Header().Set("Content-Type", contentTypeHTML)
		if err := tmpl.Execute(w, data); err != nil {
			log.Err(err).Str("path", r.URL.Path).Msg("[server] failed to render page")
		}
	}, nil
}

// HealthHandler reports liveness (GET /api/health)
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "ok",
			"env":    s.env,
		})
	}
}

func pageTitle(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return "Home"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part != "" {
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, " / ")
}
