package oidcprovider_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/volunteer-gateway/identity"
	"github.com/jrsteele09/volunteer-gateway/identity/authflow"
	"github.com/jrsteele09/volunteer-gateway/identity/oidcprovider"
	gwerrors "github.com/jrsteele09/volunteer-gateway/internal/errors"
	"github.com/stretchr/testify/require"
)

const clientID = "volunteer-app"

var tokenSecret = []byte("0123456789abcdef0123456789abcdef")

// fakeBroker is a minimal OAuth token endpoint issuing HS256 access tokens.
type fakeBroker struct {
	t   *testing.T
	srv *httptest.Server
	key *rsa.PrivateKey

	mu            sync.Mutex
	challenge     string
	withIDToken   bool
	logoutStatus  int
	logoutBearer  string
	refreshCalls  int
	exchangeCalls int
}

func newFakeBroker(t *testing.T) *fakeBroker {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	b := &fakeBroker{t: t, key: key, logoutStatus: http.StatusNoContent}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", b.token)
	mux.HandleFunc("/logout", b.logout)
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBroker) settings() oidcprovider.Settings {
	return oidcprovider.Settings{
		ClientID:     clientID,
		ClientSecret: "secret",
		AuthURL:      b.srv.URL + "/authorize",
		TokenURL:     b.srv.URL + "/token",
		LogoutURL:    b.srv.URL + "/logout",
		Providers:    []string{"google", "discord"},
		Params: func(provider string) map[string]string {
			if provider == "google" {
				return map[string]string{"access_type": "offline"}
			}
			return nil
		},
	}
}

func (b *fakeBroker) verifier() *oidc.IDTokenVerifier {
	return oidc.NewVerifier(b.srv.URL, &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&b.key.PublicKey}}, &oidc.Config{ClientID: clientID})
}

func (b *fakeBroker) token(w http.ResponseWriter, r *http.Request) {
	require.NoError(b.t, r.ParseForm())
	b.mu.Lock()
	defer b.mu.Unlock()

	var refreshToken string
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		b.exchangeCalls++
		if r.PostForm.Get("code") != "good-code" || authflow.CodeChallenge(r.PostForm.Get("code_verifier")) != b.challenge {
			writeOAuthError(w)
			return
		}
		refreshToken = "rt-1"
	case "refresh_token":
		b.refreshCalls++
		if r.PostForm.Get("refresh_token") != "rt-1" {
			writeOAuthError(w)
			return
		}
		refreshToken = "rt-2"
	default:
		writeOAuthError(w)
		return
	}

	access, err := identity.SignAccessToken(tokenSecret, identity.Identity{
		ID:           "sub-1",
		Email:        "ada@example.com",
		Provider:     "google",
		UserMetadata: map[string]any{"full_name": "Ada Lovelace"},
	}, time.Now().Add(time.Hour))
	require.NoError(b.t, err)

	body := map[string]any{
		"access_token":  access,
		"refresh_token": refreshToken,
		"token_type":    "bearer",
		"expires_in":    3600,
	}
	if b.withIDToken {
		idToken, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"iss":     b.srv.URL,
			"aud":     clientID,
			"sub":     "sub-1",
			"exp":     time.Now().Add(time.Hour).Unix(),
			"iat":     time.Now().Unix(),
			"picture": "https://example.com/ada.png",
		}).SignedString(b.key)
		require.NoError(b.t, err)
		body["id_token"] = idToken
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (b *fakeBroker) logout(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logoutBearer = r.Header.Get("Authorization")
	w.WriteHeader(b.logoutStatus)
}

func (b *fakeBroker) set(fn func(b *fakeBroker)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *fakeBroker) get(fn func(b *fakeBroker)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func writeOAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
}

// startFlow begins sign-in and returns the state parameter of the auth URL.
func startFlow(t *testing.T, b *fakeBroker, p interface {
	SignInWithOAuth(context.Context, string, string, []string) (string, error)
}) string {
	t.Helper()
	authURL, err := p.SignInWithOAuth(context.Background(), "google", "http://localhost/auth/callback?next=%2Fevents", []string{"openid", "email"})
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	b.mu.Lock()
	b.challenge = q.Get("code_challenge")
	b.mu.Unlock()
	return q.Get("state")
}

func newProvider(t *testing.T, b *fakeBroker, opts ...oidcprovider.Option) *oidcprovider.Provider {
	t.Helper()
	p, err := oidcprovider.New(context.Background(), b.settings(), identity.NewTokenParser(tokenSecret), opts...)
	require.NoError(t, err)
	return p
}

func TestNewRequiresEndpoints(t *testing.T) {
	_, err := oidcprovider.New(context.Background(), oidcprovider.Settings{ClientID: clientID}, identity.NewTokenParser(tokenSecret))
	require.Error(t, err)
}

func TestSignInWithOAuth(t *testing.T) {
	b := newFakeBroker(t)
	p := newProvider(t, b)

	authURL, err := p.SignInWithOAuth(context.Background(), "google", "http://localhost/auth/callback", []string{"openid", "email"})
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "/authorize", u.Path)
	require.Equal(t, "google", q.Get("provider"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.NotEmpty(t, q.Get("code_challenge"))
	require.NotEmpty(t, q.Get("state"))
	require.Equal(t, "offline", q.Get("access_type"))
	require.Equal(t, "openid email", q.Get("scope"))
	require.Equal(t, "http://localhost/auth/callback", q.Get("redirect_uri"))
	require.Equal(t, clientID, q.Get("client_id"))

	_, err = p.SignInWithOAuth(context.Background(), "myspace", "http://localhost/auth/callback", nil)
	require.ErrorIs(t, err, gwerrors.ErrUnknownProvider)

	require.True(t, p.Supports("discord"))
	require.Equal(t, []string{"google", "discord"}, p.Providers())
}

func TestExchangeCodeForSession(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		b := newFakeBroker(t)
		p := newProvider(t, b)
		state := startFlow(t, b, p)

		s, err := p.ExchangeCodeForSession(context.Background(), "good-code", state)
		require.NoError(t, err)
		require.Equal(t, "sub-1", s.User.ID)
		require.Equal(t, "google", s.User.Provider)
		require.Equal(t, "rt-1", s.RefreshToken)
		require.False(t, s.Expired(time.Now()))

		_, err = p.ExchangeCodeForSession(context.Background(), "good-code", state)
		require.ErrorIs(t, err, gwerrors.ErrInvalidState, "state is single use")
	})

	t.Run("unknown state", func(t *testing.T) {
		b := newFakeBroker(t)
		p := newProvider(t, b)

		_, err := p.ExchangeCodeForSession(context.Background(), "good-code", "forged")
		require.ErrorIs(t, err, gwerrors.ErrInvalidState)
		b.get(func(b *fakeBroker) { require.Zero(t, b.exchangeCalls) })
	})

	t.Run("rejected code", func(t *testing.T) {
		b := newFakeBroker(t)
		p := newProvider(t, b)
		state := startFlow(t, b, p)

		_, err := p.ExchangeCodeForSession(context.Background(), "bad-code", state)
		require.ErrorIs(t, err, gwerrors.ErrProviderExchange)
	})

	t.Run("verified id token enriches metadata", func(t *testing.T) {
		b := newFakeBroker(t)
		b.set(func(b *fakeBroker) { b.withIDToken = true })
		p := newProvider(t, b, oidcprovider.WithVerifier(b.verifier()), oidcprovider.WithHTTPClient(b.srv.Client()))
		state := startFlow(t, b, p)

		s, err := p.ExchangeCodeForSession(context.Background(), "good-code", state)
		require.NoError(t, err)
		require.Equal(t, "https://example.com/ada.png", s.User.UserMetadata["picture"])
		require.Equal(t, "Ada Lovelace", s.User.UserMetadata["full_name"])
	})

	t.Run("id token from another issuer", func(t *testing.T) {
		b := newFakeBroker(t)
		b.set(func(b *fakeBroker) { b.withIDToken = true })
		other := newFakeBroker(t)
		p := newProvider(t, b, oidcprovider.WithVerifier(other.verifier()))
		state := startFlow(t, b, p)

		_, err := p.ExchangeCodeForSession(context.Background(), "good-code", state)
		require.ErrorIs(t, err, gwerrors.ErrProviderExchange)
	})
}

func TestRefreshSession(t *testing.T) {
	b := newFakeBroker(t)
	p := newProvider(t, b)

	s, err := p.RefreshSession(context.Background(), "rt-1")
	require.NoError(t, err)
	require.Equal(t, "rt-2", s.RefreshToken)
	require.Equal(t, "sub-1", s.User.ID)

	_, err = p.RefreshSession(context.Background(), "revoked")
	require.ErrorIs(t, err, gwerrors.ErrRefreshFailed)

	_, err = p.RefreshSession(context.Background(), "")
	require.ErrorIs(t, err, gwerrors.ErrRefreshFailed)
	b.get(func(b *fakeBroker) { require.Equal(t, 2, b.refreshCalls) })
}

func TestRevoke(t *testing.T) {
	b := newFakeBroker(t)
	p := newProvider(t, b)

	require.NoError(t, p.Revoke(context.Background(), "access"))
	b.get(func(b *fakeBroker) { require.Equal(t, "Bearer access", b.logoutBearer) })

	b.set(func(b *fakeBroker) { b.logoutStatus = http.StatusUnauthorized })
	require.NoError(t, p.Revoke(context.Background(), "stale"))

	b.set(func(b *fakeBroker) { b.logoutStatus = http.StatusBadGateway })
	require.ErrorIs(t, p.Revoke(context.Background(), "access"), gwerrors.ErrSignOutFailed)
}
