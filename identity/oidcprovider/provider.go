// Package oidcprovider adapts an OAuth2/OIDC identity broker (one that fronts Google
// and Discord sign-in and issues HS256 access tokens) to the identity interfaces.
package oidcprovider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/volunteer-gateway/identity"
	"github.com/jrsteele09/volunteer-gateway/identity/authflow"
	"github.com/jrsteele09/volunteer-gateway/internal/config"
	gwerrors "github.com/jrsteele09/volunteer-gateway/internal/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Settings describe the identity broker.
type Settings struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	AuthURL      string // Overrides discovery together with TokenURL
	TokenURL     string
	LogoutURL    string
	Providers    []string
	Params       func(provider string) map[string]string
}

// SettingsFromConfig reads Settings from the OAuth configuration.
func SettingsFromConfig(cfg config.OAuthConfig) Settings {
	return Settings{
		IssuerURL:    cfg.GetIssuerURL(),
		ClientID:     cfg.GetClientID(),
		ClientSecret: cfg.GetClientSecret(),
		AuthURL:      cfg.GetAuthURL(),
		TokenURL:     cfg.GetTokenURL(),
		LogoutURL:    cfg.GetLogoutURL(),
		Providers:    cfg.GetProviders(),
		Params:       cfg.GetProviderParams,
	}
}

// SessionParser builds a session from the broker's tokens.
type SessionParser interface {
	SessionFromTokens(accessToken, refreshToken string) (*identity.Session, error)
}

// Provider implements identity.Provider. It holds no per-user state besides the
// pending authorization flows.
type Provider struct {
	settings   Settings
	oauth      oauth2.Config
	verifier   *oidc.IDTokenVerifier
	parser     SessionParser
	flows      authflow.Repo
	httpClient *http.Client
}

var _ identity.Provider = (*Provider)(nil)

type Option func(*Provider)

// WithVerifier verifies ID tokens returned alongside access tokens.
func WithVerifier(v *oidc.IDTokenVerifier) Option {
	return func(p *Provider) { p.verifier = v }
}

// WithHTTPClient sets the client used for every call to the broker.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithFlows replaces the in-memory flow state repository.
func WithFlows(repo authflow.Repo) Option {
	return func(p *Provider) { p.flows = repo }
}

// New creates a Provider. With AuthURL and TokenURL set the endpoints are used as
// given; otherwise they are discovered from IssuerURL, which also enables ID token
// verification.
func New(ctx context.Context, settings Settings, parser SessionParser, opts ...Option) (*Provider, error) {
	p := &Provider{
		settings: settings,
		parser:   parser,
		flows:    authflow.NewInMemoryRepo(authflow.DefaultTTL),
		oauth: oauth2.Config{
			ClientID:     settings.ClientID,
			ClientSecret: settings.ClientSecret,
		},
	}
	for _, opt := range opts {
		opt(p)
	}

	switch {
	case settings.AuthURL != "" && settings.TokenURL != "":
		p.oauth.Endpoint = oauth2.Endpoint{AuthURL: settings.AuthURL, TokenURL: settings.TokenURL}
	case settings.IssuerURL != "":
		discovered, err := oidc.NewProvider(p.clientContext(ctx), settings.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
		}
		p.oauth.Endpoint = discovered.Endpoint()
		if p.verifier == nil {
			p.verifier = discovered.Verifier(&oidc.Config{ClientID: settings.ClientID})
		}
	default:
		return nil, errors.New("oauth: either an issuer URL or auth and token URLs are required")
	}
	return p, nil
}

// SignInWithOAuth records a new flow and returns the broker's authorization URL.
func (p *Provider) SignInWithOAuth(_ context.Context, provider, redirectTo string, scopes []string) (string, error) {
	if !p.Supports(provider) {
		return "", gwerrors.Wrapf(gwerrors.ErrUnknownProvider, "%q", provider)
	}

	state := authflow.RandomString(32)
	verifier := authflow.RandomString(32)
	if err := p.flows.Upsert(state, &authflow.State{
		Provider:     provider,
		CodeVerifier: verifier,
		RedirectURI:  redirectTo,
	}); err != nil {
		return "", gwerrors.Wrapf(err, "storing auth flow")
	}

	cfg := p.oauth
	cfg.RedirectURL = redirectTo
	cfg.Scopes = scopes

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("provider", provider),
		oauth2.SetAuthURLParam("code_challenge", authflow.CodeChallenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	if p.settings.Params != nil {
		for k, v := range p.settings.Params(provider) {
			opts = append(opts, oauth2.SetAuthURLParam(k, v))
		}
	}
	return cfg.AuthCodeURL(state, opts...), nil
}

// ExchangeCodeForSession redeems code for the flow identified by state.
func (p *Provider) ExchangeCodeForSession(ctx context.Context, code, state string) (*identity.Session, error) {
	flow, err := p.flows.Take(state)
	if err != nil {
		return nil, err
	}

	cfg := p.oauth
	cfg.RedirectURL = flow.RedirectURI
	token, err := cfg.Exchange(p.clientContext(ctx), code, oauth2.SetAuthURLParam("code_verifier", flow.CodeVerifier))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gwerrors.ErrProviderExchange, err)
	}

	session, err := p.sessionFromToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gwerrors.ErrProviderExchange, err)
	}
	if session.User.Provider == "" {
		session.User.Provider = flow.Provider
	}
	return session, nil
}

// RefreshSession trades refreshToken for a new session.
func (p *Provider) RefreshSession(ctx context.Context, refreshToken string) (*identity.Session, error) {
	if refreshToken == "" {
		return nil, gwerrors.Wrapf(gwerrors.ErrRefreshFailed, "no refresh token")
	}

	token, err := p.oauth.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gwerrors.ErrRefreshFailed, err)
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}

	session, err := p.sessionFromToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gwerrors.ErrRefreshFailed, err)
	}
	return session, nil
}

// Revoke ends the broker session for accessToken. Without a logout URL it is a no-op.
func (p *Provider) Revoke(ctx context.Context, accessToken string) error {
	if p.settings.LogoutURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.settings.LogoutURL, nil)
	if err != nil {
		return gwerrors.Wrapf(err, "building logout request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	client := p.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", gwerrors.ErrSignOutFailed, err)
	}
	defer resp.Body.Close()

	// An already invalid token has nothing left to revoke.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusUnauthorized {
		return fmt.Errorf("%w: logout returned %s", gwerrors.ErrSignOutFailed, resp.Status)
	}
	return nil
}

// Supports reports whether provider is an enabled upstream sign-in provider.
func (p *Provider) Supports(provider string) bool {
	return slices.Contains(p.settings.Providers, provider)
}

// Providers lists the enabled upstream providers.
func (p *Provider) Providers() []string {
	return slices.Clone(p.settings.Providers)
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return oidc.ClientContext(ctx, p.httpClient)
}

func (p *Provider) sessionFromToken(ctx context.Context, token *oauth2.Token) (*identity.Session, error) {
	session, err := p.parser.SessionFromTokens(token.AccessToken, token.RefreshToken)
	if err != nil {
		return nil, err
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" || p.verifier == nil {
		return session, nil
	}

	idToken, err := p.verifier.Verify(p.clientContext(ctx), rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("ID token verification failed: %w", err)
	}
	if idToken.Subject != session.User.ID {
		return nil, fmt.Errorf("ID token subject %q does not match access token subject %q", idToken.Subject, session.User.ID)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to extract claims: %w", err)
	}
	mergeProfileClaims(&session.User, claims)
	log.Debug().Str("sub", idToken.Subject).Msg("[oidcprovider] verified id token")
	return session, nil
}

// mergeProfileClaims fills identity fields the access token left empty.
func mergeProfileClaims(id *identity.Identity, claims map[string]any) {
	if id.Email == "" {
		id.Email, _ = claims["email"].(string)
	}
	if id.UserMetadata == nil {
		id.UserMetadata = map[string]any{}
	}
	for _, k := range []string{"name", "full_name", "picture", "avatar_url"} {
		if v, ok := claims[k]; ok {
			if _, exists := id.UserMetadata[k]; !exists {
				id.UserMetadata[k] = v
			}
		}
	}
}
