package server

import (
	"net/http"
	"net/url"
	"strings"
)

// safeNext returns next when it is a local absolute path and "" otherwise, so a
// crafted link cannot send the user to another site after sign-in.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return next
}

// redirectTarget turns a local path into the Location sent after the callback.
// Behind a proxy the forwarded host is used outside DEV.
func (s *Server) redirectTarget(r *http.Request, path string) string {
	if s.env == "DEV" {
		return path
	}
	if host := r.Header.Get("X-Forwarded-Host"); host != "" {
		return "https://" + host + path
	}
	return path
}

// callbackURL is where the provider sends the browser back to, carrying the
// post sign-in destination.
func (s *Server) callbackURL(next string) string {
	callback := s.config.GetBaseURL() + RouteCallback
	if next == "" {
		return callback
	}
	return callback + "?" + url.Values{"next": {next}}.Encode()
}

// redirectWithError sends the browser to path with an error message
func redirectWithError(w http.ResponseWriter, r *http.Request, path, errorMsg string) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	http.Redirect(w, r, path+sep+"error="+url.QueryEscape(errorMsg), http.StatusSeeOther)
}
