package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jrsteele09/volunteer-gateway/identity"
	"github.com/jrsteele09/volunteer-gateway/identity/cookie"
	"github.com/jrsteele09/volunteer-gateway/identity/oidcprovider"
	"github.com/jrsteele09/volunteer-gateway/internal/config"
	"github.com/jrsteele09/volunteer-gateway/internal/database/migrate"
	"github.com/jrsteele09/volunteer-gateway/policy"
	"github.com/jrsteele09/volunteer-gateway/profiles"
	"github.com/jrsteele09/volunteer-gateway/profiles/cache"
	"github.com/jrsteele09/volunteer-gateway/profiles/postgres"
	"github.com/jrsteele09/volunteer-gateway/profiles/repofake"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// InitialiseSystem builds the server's dependencies from configuration: the role
// policy, the cookie session store, the identity provider and the profile store.
// The returned cleanup releases database and Redis connections.
func InitialiseSystem(ctx context.Context, c config.Config) (Deps, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Err(err).Msg("[Server InitialiseSystem] cleanup")
			}
		}
	}
	fail := func(err error) (Deps, func(), error) {
		cleanup()
		return Deps{}, func() {}, fmt.Errorf("[Server InitialiseSystem] %w", err)
	}

	p, err := policy.Load(c.GetPolicyFile())
	if err != nil {
		return fail(err)
	}
	if err := p.Validate(); err != nil {
		return fail(err)
	}

	secret := c.GetAccessTokenSecret()
	if len(secret) == 0 {
		return fail(fmt.Errorf("ACCESS_TOKEN_SECRET is required"))
	}
	parser := identity.NewTokenParser(secret)

	sessions, err := cookie.New(parser, c.GetCookieSecret(),
		cookie.WithNames(c.GetAccessCookieName(), c.GetRefreshCookieName()),
		cookie.WithMaxAge(c.GetMaxSessionAge()),
		cookie.WithSecure(strings.HasPrefix(c.GetBaseURL(), "https://")),
	)
	if err != nil {
		return fail(err)
	}

	provider, err := oidcprovider.New(ctx, oidcprovider.SettingsFromConfig(c), parser)
	if err != nil {
		return fail(err)
	}

	repo, closeRepo, err := OpenProfileRepo(ctx, c)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeRepo)

	log.Info().
		Str("env", c.GetEnv()).
		Str("base_url", c.GetBaseURL()).
		Strs("providers", provider.Providers()).
		Int("routes", len(p.Routes())).
		Msg("[Server InitialiseSystem] gateway configured")

	return Deps{Policy: p, Provider: provider, Sessions: sessions, Profiles: repo}, cleanup, nil
}

// OpenProfileRepo selects PostgreSQL when a database URL is configured and the
// in-memory store otherwise, optionally fronted by the Redis cache. The returned
// close func releases the connections.
func OpenProfileRepo(ctx context.Context, c config.Config) (profiles.Repo, func() error, error) {
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	var repo profiles.Repo
	if dsn := c.GetDatabaseURL(); dsn != "" {
		db, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, db.Close)
		if err := migrate.Run(db); err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		repo = postgres.New(db)
	} else {
		if c.GetEnv() != "DEV" {
			log.Warn().Msg("[Server OpenProfileRepo] DATABASE_URL not set, profiles are kept in memory")
		}
		repo = repofake.NewFakeProfileRepo()
	}

	if addr := c.GetRedisAddr(); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", addr).Msg("[Server OpenProfileRepo] redis unavailable, profile cache disabled")
			_ = rdb.Close()
			return repo, closeAll, nil
		}
		closers = append(closers, rdb.Close)
		repo = cache.New(repo, rdb, c.GetProfileCacheTTL())
	}
	return repo, closeAll, nil
}
