package server

import (
	"net/http"
)

func (s *Server) initRoutes() error {
	pages, err := s.PageHandlers()
	if err != nil {
		return err
	}
	login, err := s.LoginPageHandler()
	if err != nil {
		return err
	}
	authError, err := s.AuthCodeErrorHandler()
	if err != nil {
		return err
	}

	s.RegisterRouteFunc("GET /{$}", pages)
	for _, route := range pageRoutes {
		s.RegisterRouteFunc("GET "+route, pages)
	}

	s.RegisterRouteFunc("GET "+RouteLogin, login)
	s.RegisterRouteFunc("GET "+RouteSignIn, s.SignInHandler())
	s.RegisterRouteFunc("GET "+RouteCallback, s.OAuthCallbackHandler())
	s.RegisterRouteFunc("GET "+RouteAuthCodeError, authError)
	s.RegisterRouteFunc("GET "+RouteSignOut, s.SignOutHandler())
	s.RegisterRouteFunc("POST "+RouteSignOut, s.SignOutHandler())

	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())

	s.RegisterRouteHandler("GET "+RouteStatic, ChainMiddleware(s.serveFileHandler(), s.CacheMiddleware))
	return nil
}

func (s *Server) serveFileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filePath := r.PathValue("file")
		if filePath == "" {
			http.NotFound(w, r)
			return
		}
		if err := StreamFile(w, r, filePath); err != nil {
			logError(r.Method, r.URL.Path, err)
			http.NotFound(w, r)
		}
	}
}
