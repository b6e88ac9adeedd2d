package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gwerrors "github.com/jrsteele09/volunteer-gateway/internal/errors"
)

// AccessClaims are the claims carried by the provider's access tokens.
type AccessClaims struct {
	Email        string         `json:"email,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts the claims to an Identity.
func (c *AccessClaims) Identity() Identity {
	provider, _ := c.AppMetadata["provider"].(string)
	return Identity{
		ID:           c.Subject,
		Email:        c.Email,
		Provider:     provider,
		UserMetadata: c.UserMetadata,
	}
}

// TokenParser verifies HS256 access tokens signed by the identity provider.
type TokenParser struct {
	secret []byte
	parser *jwt.Parser
}

// NewTokenParser creates a parser for tokens signed with secret.
func NewTokenParser(secret []byte) *TokenParser {
	return &TokenParser{
		secret: secret,
		// Expiry is checked by callers: an expired but authentic token still
		// identifies the session that needs refreshing.
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation()),
	}
}

// Parse verifies the signature of raw and returns its claims. Tokens without a
// subject or an expiry are rejected.
func (p *TokenParser) Parse(raw string) (*AccessClaims, error) {
	if len(p.secret) == 0 {
		return nil, fmt.Errorf("%w: no verification secret configured", gwerrors.ErrInvalidToken)
	}
	claims := &AccessClaims{}
	_, err := p.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gwerrors.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", gwerrors.ErrInvalidToken)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing exp", gwerrors.ErrInvalidToken)
	}
	return claims, nil
}

// SessionFromTokens builds a session from a verified access token and its refresh token.
func (p *TokenParser) SessionFromTokens(accessToken, refreshToken string) (*Session, error) {
	claims, err := p.Parse(accessToken)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    claims.ExpiresAt.Unix(),
		User:         claims.Identity(),
	}, nil
}

// SignAccessToken issues an HS256 token for tests and local development fixtures.
func SignAccessToken(secret []byte, id Identity, expiresAt time.Time) (string, error) {
	claims := AccessClaims{
		Email:        id.Email,
		AppMetadata:  map[string]any{"provider": id.Provider},
		UserMetadata: id.UserMetadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
