// Package cookie stores the provider session in two fixed-name request cookies.
// The access token is stored as issued; the refresh token is sealed with secretbox
// so it never leaves the gateway readable.
package cookie

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jrsteele09/volunteer-gateway/identity"
	gwerrors "github.com/jrsteele09/volunteer-gateway/internal/errors"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	DefaultAccessName  = "sb-access-token"
	DefaultRefreshName = "sb-refresh-token"

	nonceSize = 24
	keySize   = 32
)

// TokenParser turns an access token into a session.
type TokenParser interface {
	SessionFromTokens(accessToken, refreshToken string) (*identity.Session, error)
}

// Store reads and writes the session cookies of a request.
type Store struct {
	parser      TokenParser
	key         [keySize]byte
	accessName  string
	refreshName string
	maxAge      time.Duration
	secure      bool
}

type Option func(*Store)

// WithNames overrides the cookie names.
func WithNames(access, refresh string) Option {
	return func(s *Store) {
		if access != "" {
			s.accessName = access
		}
		if refresh != "" {
			s.refreshName = refresh
		}
	}
}

// WithMaxAge sets how long the browser keeps the cookies.
func WithMaxAge(d time.Duration) Option {
	return func(s *Store) { s.maxAge = d }
}

// WithSecure marks the cookies as HTTPS only.
func WithSecure(secure bool) Option {
	return func(s *Store) { s.secure = secure }
}

// New creates a Store. secret is stretched into the secretbox key with HKDF.
func New(parser TokenParser, secret []byte, opts ...Option) (*Store, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("cookie secret must be at least 16 bytes, got %d", len(secret))
	}
	s := &Store{
		parser:      parser,
		accessName:  DefaultAccessName,
		refreshName: DefaultRefreshName,
		maxAge:      24 * time.Hour,
	}
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte("refresh-cookie")), s.key[:]); err != nil {
		return nil, gwerrors.Wrapf(err, "deriving cookie key")
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Read resolves the session carried by r. It returns (nil, nil) when the request
// has no session cookies. A session with only a refresh token has an empty access
// token and a zero expiry, so callers see it as due for refresh.
func (s *Store) Read(r *http.Request) (*identity.Session, error) {
	var access, refresh string
	if c, err := r.Cookie(s.accessName); err == nil {
		access = c.Value
	}
	if c, err := r.Cookie(s.refreshName); err == nil && c.Value != "" {
		rt, err := s.open(c.Value)
		if err != nil {
			return nil, err
		}
		refresh = rt
	}

	switch {
	case access == "" && refresh == "":
		return nil, nil
	case access == "":
		return &identity.Session{RefreshToken: refresh}, nil
	}
	return s.parser.SessionFromTokens(access, refresh)
}

// Write sets both cookies for session.
func (s *Store) Write(w http.ResponseWriter, session *identity.Session) error {
	if session == nil {
		s.Clear(w)
		return nil
	}
	sealed := ""
	if session.RefreshToken != "" {
		var err error
		if sealed, err = s.seal(session.RefreshToken); err != nil {
			return err
		}
	}
	http.SetCookie(w, s.cookie(s.accessName, session.AccessToken, int(s.maxAge.Seconds())))
	http.SetCookie(w, s.cookie(s.refreshName, sealed, int(s.maxAge.Seconds())))
	return nil
}

// Clear expires both cookies.
func (s *Store) Clear(w http.ResponseWriter) {
	http.SetCookie(w, s.cookie(s.accessName, "", -1))
	http.SetCookie(w, s.cookie(s.refreshName, "", -1))
}

// Names returns the access and refresh cookie names.
func (s *Store) Names() (string, string) {
	return s.accessName, s.refreshName
}

func (s *Store) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
}

func (s *Store) seal(plain string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", gwerrors.Wrapf(err, "generating cookie nonce")
	}
	box := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.key)
	return base64.RawURLEncoding.EncodeToString(box), nil
}

func (s *Store) open(value string) (string, error) {
	box, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil || len(box) < nonceSize+secretbox.Overhead {
		return "", gwerrors.ErrInvalidCookie
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", gwerrors.ErrInvalidCookie
	}
	return string(plain), nil
}
