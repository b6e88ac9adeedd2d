// Package cache is a Redis read-through cache in front of a profiles.Repo. The
// gatekeeper looks a profile up on every page request, so hits skip the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jrsteele09/volunteer-gateway/profiles"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTTL    = 30 * time.Second
	defaultPrefix = "profile:"
)

// Repo wraps another Repo. Redis failures are logged and fall through to the
// wrapped store; they never fail a call. Not-found results are not cached so a
// freshly provisioned profile is visible immediately.
type Repo struct {
	next   profiles.Repo
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

var _ profiles.Repo = (*Repo)(nil)

func New(next profiles.Repo, rdb redis.Cmdable, ttl time.Duration) *Repo {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Repo{next: next, rdb: rdb, ttl: ttl, prefix: defaultPrefix}
}

func (c *Repo) Get(ctx context.Context, id string) (*profiles.Profile, error) {
	b, err := c.rdb.Get(ctx, c.key(id)).Bytes()
	switch {
	case err == nil:
		var p profiles.Profile
		if err := json.Unmarshal(b, &p); err == nil {
			return &p, nil
		}
		log.Warn().Str("id", id).Msg("[cache] dropping undecodable profile entry")
		c.evict(ctx, id)
	case !errors.Is(err, redis.Nil):
		log.Warn().Err(err).Str("id", id).Msg("[cache] profile read failed")
	}

	p, err := c.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, p)
	return p, nil
}

func (c *Repo) Create(ctx context.Context, p *profiles.Profile) error {
	if err := c.next.Create(ctx, p); err != nil {
		return err
	}
	c.store(ctx, p)
	return nil
}

func (c *Repo) Update(ctx context.Context, id string, patch profiles.Patch) (*profiles.Profile, error) {
	p, err := c.next.Update(ctx, id, patch)
	if err != nil {
		c.evict(ctx, id)
		return nil, err
	}
	c.store(ctx, p)
	return p, nil
}

// Invalidate drops the cached entry for id.
func (c *Repo) Invalidate(ctx context.Context, id string) {
	c.evict(ctx, id)
}

func (c *Repo) store(ctx context.Context, p *profiles.Profile) {
	b, err := json.Marshal(p)
	if err != nil {
		log.Err(err).Str("id", p.ID).Msg("[cache] encoding profile")
		return
	}
	if err := c.rdb.Set(ctx, c.key(p.ID), b, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("id", p.ID).Msg("[cache] profile write failed")
	}
}

func (c *Repo) evict(ctx context.Context, id string) {
	if err := c.rdb.Del(ctx, c.key(id)).Err(); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("[cache] profile evict failed")
	}
}

func (c *Repo) key(id string) string {
	return c.prefix + id
}
