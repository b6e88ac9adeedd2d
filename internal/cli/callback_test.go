package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/volunteer-gateway/identity"
	gwerrors "github.com/jrsteele09/volunteer-gateway/internal/errors"
	"github.com/stretchr/testify/assert"
)

type exchangeClient struct {
	identity.Client
	codes []string
}

func (c *exchangeClient) ExchangeCodeForSession(_ context.Context, code, _ string) (*identity.Session, error) {
	c.codes = append(c.codes, code)
	if code != "good-code" {
		return nil, gwerrors.ErrProviderExchange
	}
	return &identity.Session{AccessToken: "at"}, nil
}

func TestCallbackHandler(t *testing.T) {
	client := &exchangeClient{}
	signedIn := make(chan struct{}, 1)
	h := callbackHandler(client, signedIn)

	serve := func(target string) int {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusNotFound, serve("/favicon.ico"))
	assert.Equal(t, http.StatusBadRequest, serve("/callback?error=access_denied"))
	assert.Equal(t, http.StatusBadRequest, serve("/callback?state=s"))
	assert.Equal(t, http.StatusBadRequest, serve("/callback?code=bad-code&state=s"))
	assert.Empty(t, signedIn)

	assert.Equal(t, http.StatusOK, serve("/callback?code=good-code&state=s"))
	assert.Len(t, signedIn, 1)

	// A second success does not block on the full channel.
	assert.Equal(t, http.StatusOK, serve("/callback?code=good-code&state=s"))
	assert.Equal(t, []string{"bad-code", "good-code", "good-code"}, client.codes)
}
