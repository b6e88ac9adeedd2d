package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/volunteer-gateway/gatekeeper"
	"github.com/jrsteele09/volunteer-gateway/identity"
	"github.com/jrsteele09/volunteer-gateway/internal/config"
	"github.com/jrsteele09/volunteer-gateway/policy"
	"github.com/jrsteele09/volunteer-gateway/profiles"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// Provider is the identity provider as the server uses it: the OAuth flow plus
// revocation of the access token on sign-out.
type Provider interface {
	identity.Provider
	Revoke(ctx context.Context, accessToken string) error
}

// Deps are the collaborators the server is built from. InitialiseSystem builds
// them from configuration.
type Deps struct {
	Policy   *policy.Policy
	Provider Provider
	Sessions gatekeeper.SessionStore
	Profiles profiles.Repo
}

type Server struct {
	env     string // Environment (e.g., "DEV", "PROD")
	mux     *http.ServeMux
	routes  []string
	handler http.Handler
	config  config.Config

	policy   *policy.Policy
	provider Provider
	sessions gatekeeper.SessionStore
	profiles profiles.Repo
	gate     *gatekeeper.Gatekeeper
}

func New(c config.Config, deps Deps) (*Server, error) {
	if deps.Policy == nil || deps.Provider == nil || deps.Sessions == nil || deps.Profiles == nil {
		return nil, fmt.Errorf("[Server New] missing dependencies")
	}

	s := &Server{
		env:      c.GetEnv(),
		mux:      http.NewServeMux(),
		config:   c,
		policy:   deps.Policy,
		provider: deps.Provider,
		sessions: deps.Sessions,
		profiles: deps.Profiles,
	}
	s.gate = gatekeeper.New(s.policy, s.sessions, s.provider, s.profiles,
		gatekeeper.WithThreshold(c.GetRefreshThreshold()),
		gatekeeper.WithCallbackPath(RouteCallback),
	)

	if err := s.initRoutes(); err != nil {
		return nil, fmt.Errorf("[Server New] %w", err)
	}
	s.logRoutes()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   c.GetAllowedOrigins().List(),
		AllowedMethods:   c.GetAllowedMethods(),
		AllowedHeaders:   c.GetAllowedHeaders(),
		AllowCredentials: true,
		MaxAge:           86400,
	})
	s.handler = corsHandler.Handler(ChainMiddleware(s.mux.ServeHTTP, s.PageMiddleware()...))

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		method, path, found := strings.Cut(route, " ")
		if !found {
			method, path = "", route
		}
		log.Debug().Str("method", method).Str("path", path).Msg("[server] route")
	}
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
