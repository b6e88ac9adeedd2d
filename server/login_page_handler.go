package server

import (
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
)

// LoginPageData contains data for rendering the login page
type LoginPageData struct {
	AppName    string
	Providers  []ProviderLink
	RedirectTo string
	Error      string
}

type ProviderLink struct {
	Name string
	URL  string
}

// LoginPageHandler displays the login page (GET /login)
func (s *Server) LoginPageHandler() (http.HandlerFunc, error) {
	loginTmpl, err := ParseTemplate("login.html")
	if err != nil {
		return nil, err
	}

	return func(w http.ResponseWriter, r *http.Request) {
		next := safeNext(r.URL.Query().Get(s.policy.ReturnParam))

		data := LoginPageData{
			AppName:    s.config.GetAppName(),
			RedirectTo: next,
			Error:      r.URL.Query().Get("error"),
		}
		for _, name := range s.config.GetProviders() {
			link := "/auth/signin/" + url.PathEscape(name)
			if next != "" {
				link += "?" + url.Values{s.policy.ReturnParam: {next}}.Encode()
			}
			data.Providers = append(data.Providers, ProviderLink{Name: name, URL: link})
		}

		w.Header().Set("Content-Type", contentTypeHTML)
		if err := loginTmpl.Execute(w, data); err != nil {
			log.Err(err).Msg("[server] failed to render login template")
		}
	}, nil
}

// SignInHandler starts the OAuth flow for the provider in the path (GET /auth/signin/{provider})
func (s *Server) SignInHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := r.PathValue("provider")
		next := safeNext(r.URL.Query().Get(s.policy.ReturnParam))

		authURL, err := s.provider.SignInWithOAuth(r.Context(), provider, s.callbackURL(next), s.config.GetProviderScopes(provider))
		if err != nil {
			log.Err(err).Str("provider", provider).Msg("[server] sign-in failed")
			redirectWithError(w, r, s.policy.LoginRedirect(next), "Sign-in with "+provider+" is not available")
			return
		}
		http.Redirect(w, r, authURL, http.StatusSeeOther)
	}
}

// SignOutHandler revokes the session at the provider, clears the cookies and
// returns to the login page. Revocation failures only get logged.
func (s *Server) SignOutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := s.sessions.Read(r)
		if err != nil {
			log.Warn().Err(err).Msg("[server] sign-out with unreadable session")
		}
		if session != nil && session.AccessToken != "" {
			if err := s.provider.Revoke(r.Context(), session.AccessToken); err != nil {
				log.Warn().Err(err).Str("sub", session.User.ID).Msg("[server] token revocation failed")
			}
		}
		s.sessions.Clear(w)
		http.Redirect(w, r, s.policy.LoginPath, http.StatusSeeOther)
	}
}
