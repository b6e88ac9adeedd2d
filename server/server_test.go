package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/volunteer-gateway/identity"
	"github.com/jrsteele09/volunteer-gateway/identity/cookie"
	"github.com/jrsteele09/volunteer-gateway/internal/config"
	gwerrors "github.com/jrsteele09/volunteer-gateway/internal/errors"
	"github.com/jrsteele09/volunteer-gateway/policy"
	"github.com/jrsteele09/volunteer-gateway/profiles"
	"github.com/jrsteele09/volunteer-gateway/profiles/repofake"
	"github.com/jrsteele09/volunteer-gateway/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenSecret  = []byte("server-test-access-secret")
	cookieSecret = []byte("server-test-cookie-secret")
)

type fakeProvider struct {
	mu          sync.Mutex
	session     *identity.Session
	exchangeErr error
	redirectTo  string
	scopes      []string
	revoked     []string
}

var _ server.Provider = (*fakeProvider)(nil)

func (p *fakeProvider) SignInWithOAuth(_ context.Context, provider, redirectTo string, scopes []string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if provider != "google" && provider != "discord" {
		return "", gwerrors.ErrUnknownProvider
	}
	p.redirectTo = redirectTo
	p.scopes = scopes
	return "https://idp.test/authorize?provider=" + provider, nil
}

func (p *fakeProvider) ExchangeCodeForSession(_ context.Context, code, _ string) (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	if code != "good-code" {
		return nil, gwerrors.ErrProviderExchange
	}
	return p.session, nil
}

func (p *fakeProvider) RefreshSession(context.Context, string) (*identity.Session, error) {
	return nil, gwerrors.ErrRefreshFailed
}

func (p *fakeProvider) Revoke(_ context.Context, accessToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked = append(p.revoked, accessToken)
	return nil
}

type fixture struct {
	srv      *server.Server
	provider *fakeProvider
	repo     *repofake.FakeProfileRepo
	sessions *cookie.Store
}

func newFixture(t *testing.T, env string, seed ...*profiles.Profile) *fixture {
	t.Helper()
	t.Setenv("ENV", env)
	t.Setenv("BASE_URL", "http://gateway.test")
	t.Setenv("OAUTH_PROVIDERS", "google,discord")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")

	sessions, err := cookie.New(identity.NewTokenParser(tokenSecret), cookieSecret)
	require.NoError(t, err)

	f := &fixture{
		provider: &fakeProvider{},
		repo:     repofake.NewFakeProfileRepo(seed...),
		sessions: sessions,
	}
	f.srv, err = server.New(config.New(), server.Deps{
		Policy:   policy.Default(),
		Provider: f.provider,
		Sessions: sessions,
		Profiles: f.repo,
	})
	require.NoError(t, err)
	return f
}

func newSession(t *testing.T, sub string) *identity.Session {
	t.Helper()
	id := identity.Identity{ID: sub, Email: sub + "@example.org", Provider: "google", UserMetadata: map[string]any{"full_name": "Sam " + sub}}
	expiresAt := time.Now().Add(time.Hour)
	token, err := identity.SignAccessToken(tokenSecret, id, expiresAt)
	require.NoError(t, err)
	return &identity.Session{AccessToken: token, RefreshToken: "rt-" + sub, ExpiresAt: expiresAt.Unix(), User: id}
}

func (f *fixture) do(t *testing.T, method, target string, s *identity.Session, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		r.Header.Set(k, v)
	}
	if s != nil {
		rec := httptest.NewRecorder()
		require.NoError(t, f.sessions.Write(rec, s))
		for _, c := range rec.Result().Cookies() {
			r.AddCookie(c)
		}
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, r)
	return rec
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "DEV")
	rec := f.do(t, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestLoginPage(t *testing.T) {
	f := newFixture(t, "DEV")

	t.Run("lists providers carrying the return target", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/login?redirectTo=%2Fevents", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, `/auth/signin/google?redirectTo=%2Fevents`)
		assert.Contains(t, body, `/auth/signin/discord?redirectTo=%2Fevents`)
		assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	})

	t.Run("drops off-site return targets", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/login?redirectTo=https%3A%2F%2Fevil.example", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "evil.example")
	})

	t.Run("signed in users are sent to their landing page", func(t *testing.T) {
		f := newFixture(t, "DEV", &profiles.Profile{ID: "lead-1", Email: "lead-1@example.org", Role: policy.RoleLead})
		rec := f.do(t, http.MethodGet, "/login", newSession(t, "lead-1"), nil)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/dashboard/lead", rec.Header().Get("Location"))
	})
}

func TestSignIn(t *testing.T) {
	f := newFixture(t, "DEV")

	t.Run("redirects to the provider", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/auth/signin/google?redirectTo=%2Fevents%2Fsignup", nil, nil)
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "https://idp.test/authorize?provider=google", rec.Header().Get("Location"))

		f.provider.mu.Lock()
		defer f.provider.mu.Unlock()
		assert.Equal(t, "http://gateway.test/auth/callback?next=%2Fevents%2Fsignup", f.provider.redirectTo)
		assert.Equal(t, config.New().GetProviderScopes("google"), f.provider.scopes)
	})

	t.Run("unknown provider returns to login with an error", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/auth/signin/myspace", nil, nil)
		require.Equal(t, http.StatusSeeOther, rec.Code)
		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "/login", loc.Path)
		assert.NotEmpty(t, loc.Query().Get("error"))
	})
}

func TestOAuthCallback(t *testing.T) {
	t.Run("new user is provisioned and sent to the volunteer landing", func(t *testing.T) {
		f := newFixture(t, "DEV")
		f.provider.session = newSession(t, "new-1")

		rec := f.do(t, http.MethodGet, "/auth/callback?code=good-code&state=s1", nil, nil)
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/dashboard", rec.Header().Get("Location"))

		access := findCookie(rec, cookie.DefaultAccessName)
		require.NotNil(t, access)
		assert.Equal(t, f.provider.session.AccessToken, access.Value)
		assert.NotNil(t, findCookie(rec, cookie.DefaultRefreshName))

		p, err := f.repo.Get(context.Background(), "new-1")
		require.NoError(t, err)
		assert.Equal(t, policy.RoleVolunteer, p.Role)
		assert.Equal(t, "Sam new-1", p.Name)
		assert.NotNil(t, p.GoogleProfile)
	})

	t.Run("existing user keeps role and linkage is refreshed", func(t *testing.T) {
		f := newFixture(t, "DEV", &profiles.Profile{ID: "lead-1", Email: "old@example.org", Name: "Old Name", Role: policy.RoleLead})
		f.provider.session = newSession(t, "lead-1")

		rec := f.do(t, http.MethodGet, "/auth/callback?code=good-code&state=s1", nil, nil)
		assert.Equal(t, "/dashboard/lead", rec.Header().Get("Location"))

		p, err := f.repo.Get(context.Background(), "lead-1")
		require.NoError(t, err)
		assert.Equal(t, policy.RoleLead, p.Role)
		assert.Equal(t, "Sam lead-1", p.Name)
		assert.Equal(t, "lead-1@example.org", p.Email)
	})

	t.Run("next is honoured when local", func(t *testing.T) {
		f := newFixture(t, "DEV")
		f.provider.session = newSession(t, "vol-1")
		rec := f.do(t, http.MethodGet, "/auth/callback?code=good-code&state=s1&next=%2Fevents%2Fsignup", nil, nil)
		assert.Equal(t, "/events/signup", rec.Header().Get("Location"))
	})

	t.Run("next is ignored when off-site", func(t *testing.T) {
		f := newFixture(t, "DEV")
		f.provider.session = newSession(t, "vol-1")
		for _, next := range []string{"//evil.example/x", "https://evil.example", "/\\evil.example", "events"} {
			rec := f.do(t, http.MethodGet, "/auth/callback?code=good-code&state=s1&next="+url.QueryEscape(next), nil, nil)
			assert.Equal(t, "/dashboard", rec.Header().Get("Location"), next)
		}
	})

	t.Run("forwarded host is used outside DEV", func(t *testing.T) {
		f := newFixture(t, "PROD")
		f.provider.session = newSession(t, "vol-1")
		rec := f.do(t, http.MethodGet, "/auth/callback?code=good-code&state=s1", nil, map[string]string{"X-Forwarded-Host": "volunteers.example"})
		assert.Equal(t, "https://volunteers.example/dashboard", rec.Header().Get("Location"))
	})

	t.Run("profile sync failure still lands on the dashboard", func(t *testing.T) {
		f := newFixture(t, "DEV")
		f.provider.session = newSession(t, "vol-1")
		f.repo.FailGet(gwerrors.New("database down"))
		rec := f.do(t, http.MethodGet, "/auth/callback?code=good-code&state=s1", nil, nil)
		assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
		assert.NotNil(t, findCookie(rec, cookie.DefaultAccessName))
	})

	for name, target := range map[string]string{
		"missing code":    "/auth/callback?state=s1",
		"exchange failed": "/auth/callback?code=bad-code&state=s1",
		"provider error":  "/auth/callback?error=access_denied",
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, "DEV")
			f.provider.session = newSession(t, "vol-1")
			rec := f.do(t, http.MethodGet, target, nil, nil)
			assert.Equal(t, server.RouteAuthCodeError, rec.Header().Get("Location"))
			assert.Nil(t, findCookie(rec, cookie.DefaultAccessName))
			assert.Zero(t, f.repo.Len())
		})
	}
}

func TestAuthCodeErrorPage(t *testing.T) {
	f := newFixture(t, "DEV")
	rec := f.do(t, http.MethodGet, server.RouteAuthCodeError, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `href="/login"`)
}

func TestSignOut(t *testing.T) {
	f := newFixture(t, "DEV", &profiles.Profile{ID: "vol-1", Role: policy.RoleVolunteer})
	s := newSession(t, "vol-1")

	rec := f.do(t, http.MethodPost, server.RouteSignOut, s, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	access := findCookie(rec, cookie.DefaultAccessName)
	require.NotNil(t, access)
	assert.Equal(t, -1, access.MaxAge)

	f.provider.mu.Lock()
	defer f.provider.mu.Unlock()
	assert.Equal(t, []string{s.AccessToken}, f.provider.revoked)
}

func TestPages(t *testing.T) {
	f := newFixture(t, "DEV",
		&profiles.Profile{ID: "lead-1", Name: "Lee", Email: "lee@example.org", Role: policy.RoleLead},
	)

	t.Run("home is public", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `href="/login"`)
	})

	t.Run("protected page requires sign in", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/dashboard/lead", nil, nil)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/login?redirectTo=%2Fdashboard%2Flead", rec.Header().Get("Location"))
	})

	t.Run("page shows the resolved profile", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/dashboard/lead", newSession(t, "lead-1"), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "Lee")
		assert.Contains(t, body, "lead")
		assert.Contains(t, body, "/events/manage")
		assert.NotContains(t, body, `href="/reports"`)
	})

	t.Run("insufficient role is redirected", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/admin", newSession(t, "lead-1"), nil)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/dashboard/lead", rec.Header().Get("Location"))
	})

	t.Run("manager pages require sign in", func(t *testing.T) {
		for _, path := range []string{"/admin", "/reports", "/users/42", "/admin/report.pdf", "/users/jane.doe"} {
			rec := f.do(t, http.MethodGet, path, nil, nil)
			assert.Equal(t, http.StatusSeeOther, rec.Code, path)
			assert.Equal(t, "/login?redirectTo="+url.QueryEscape(path), rec.Header().Get("Location"), path)
		}
	})

	t.Run("dotted path keeps the role check", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/admin/users.csv", newSession(t, "lead-1"), nil)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/dashboard/lead", rec.Header().Get("Location"))
	})

	t.Run("unknown page is not found", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/nowhere", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestStaticAndCors(t *testing.T) {
	f := newFixture(t, "DEV")

	t.Run("static file", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/static/app.css", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")
		assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	})

	t.Run("missing static file", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/static/missing.css", nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("cors allows configured origin", func(t *testing.T) {
		rec := f.do(t, http.MethodOptions, "/api/health", nil, map[string]string{
			"Origin":                        "http://localhost:3000",
			"Access-Control-Request-Method": http.MethodGet,
		})
		assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("cors ignores other origins", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/health", nil, map[string]string{"Origin": "https://evil.example"})
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}
