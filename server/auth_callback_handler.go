package server

import (
	"net/http"

	"github.com/jrsteele09/volunteer-gateway/profiles"
	"github.com/rs/zerolog/log"
)

// OAuthCallbackHandler completes sign-in (GET /auth/callback). The code is
// exchanged for a session, the session cookies are written and the profile is
// created or its provider linkage refreshed.
func (s *Server) OAuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if errorParam := r.FormValue("error"); errorParam != "" {
			log.Warn().Str("error", errorParam).Str("description", r.FormValue("error_description")).Msg("[server] provider returned an error")
			http.Redirect(w, r, RouteAuthCodeError, http.StatusSeeOther)
			return
		}

		code := r.FormValue("code")
		if code == "" {
			http.Redirect(w, r, RouteAuthCodeError, http.StatusSeeOther)
			return
		}

		session, err := s.provider.ExchangeCodeForSession(r.Context(), code, r.FormValue("state"))
		if err != nil {
			log.Err(err).Msg("[server] code exchange failed")
			http.Redirect(w, r, RouteAuthCodeError, http.StatusSeeOther)
			return
		}

		if err := s.sessions.Write(w, session); err != nil {
			log.Err(err).Msg("[server] writing session cookies")
			http.Redirect(w, r, RouteAuthCodeError, http.StatusSeeOther)
			return
		}

		p, err := profiles.Sync(r.Context(), s.profiles, session.User)
		if err != nil {
			log.Err(err).Str("sub", session.User.ID).Msg("[server] syncing profile after sign-in")
			http.Redirect(w, r, s.redirectTarget(r, s.policy.DefaultRedirect(profiles.DefaultRole)), http.StatusSeeOther)
			return
		}

		target := safeNext(r.URL.Query().Get("next"))
		if target == "" {
			target = s.policy.DefaultRedirect(p.Role)
		}
		http.Redirect(w, r, s.redirectTarget(r, target), http.StatusSeeOther)
	}
}

// AuthCodeErrorHandler renders the sign-in failure page (GET /auth/auth-code-error)
func (s *Server) AuthCodeErrorHandler() (http.HandlerFunc, error) {
	tmpl, err := ParseTemplate("auth_error.html")
	if err != nil {
		return nil, err
	}
	return func(w http.ResponseWriter, r *http.Request) {
		data := map[string]any{
			"AppName":   s.config.GetAppName(),
			"LoginPath": s.policy.LoginPath,
		}
		w.Header().Set("Content-Type", contentTypeHTML)
		if err := tmpl.Execute(w, data); err != nil {
			log.Err(err).Msg("[server] failed to render auth error template")
		}
	}, nil
}
