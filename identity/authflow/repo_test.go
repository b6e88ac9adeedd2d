package authflow_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/volunteer-gateway/identity/authflow"
	gwerrors "github.com/jrsteele09/volunteer-gateway/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRepo(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	authflow.NowTimeFunc = func() time.Time { return now }
	t.Cleanup(func() { authflow.NowTimeFunc = time.Now })

	repo := authflow.NewInMemoryRepo(time.Minute)

	t.Run("take is single use", func(t *testing.T) {
		flow := &authflow.State{Provider: "google", CodeVerifier: "v", RedirectURI: "http://localhost/auth/callback"}
		require.NoError(t, repo.Upsert("s1", flow))
		flow.Provider = "mutated"

		got, err := repo.Take("s1")
		require.NoError(t, err)
		require.Equal(t, "google", got.Provider)
		require.Equal(t, now, got.CreatedAt)

		_, err = repo.Take("s1")
		require.ErrorIs(t, err, gwerrors.ErrInvalidState)
	})

	t.Run("expired", func(t *testing.T) {
		require.NoError(t, repo.Upsert("s2", &authflow.State{Provider: "discord"}))
		now = now.Add(2 * time.Minute)

		_, err := repo.Take("s2")
		require.ErrorIs(t, err, gwerrors.ErrInvalidState)
	})

	t.Run("expired states are swept on write", func(t *testing.T) {
		require.NoError(t, repo.Upsert("old", &authflow.State{}))
		now = now.Add(2 * time.Minute)
		require.NoError(t, repo.Upsert("new", &authflow.State{}))
		require.Equal(t, 1, repo.Len())
		require.NoError(t, repo.Delete("new"))
		require.Equal(t, 0, repo.Len())
	})

	t.Run("invalid input", func(t *testing.T) {
		require.Error(t, repo.Upsert("", &authflow.State{}))
		require.Error(t, repo.Upsert("x", nil))
		require.Error(t, repo.Delete(""))
		_, err := repo.Take("")
		require.ErrorIs(t, err, gwerrors.ErrInvalidState)
	})
}

func TestPKCE(t *testing.T) {
	// RFC 7636 appendix B
	require.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		authflow.CodeChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r7wW1gFWFOEjXk"))

	a, b := authflow.RandomString(32), authflow.RandomString(32)
	require.Len(t, a, 43)
	require.NotEqual(t, a, b)
}
