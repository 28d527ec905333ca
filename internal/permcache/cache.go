// Package permcache implements the shared permission decision cache. Every
// entry is tagged with the entity scopes it was derived from (user, role,
// group, page) so a mutation can purge exactly the decisions it affects
// without enumerating users.
package permcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL bounds staleness when an invalidation is ever missed.
const DefaultTTL = 30 * time.Minute

// scopeIndexSlack keeps the reverse index alive slightly longer than the
// entries it points at, so invalidation can still find live keys.
const scopeIndexSlack = 5 * time.Minute

// Scope tags a cache entry with the entity it depends on, e.g. "user:42".
type Scope string

// UserScope tags entries derived from a user's memberships or roles.
func UserScope(id int64) Scope { return Scope(fmt.Sprintf("user:%d", id)) }

// RoleScope tags entries derived from a role's grants.
func RoleScope(id int64) Scope { return Scope(fmt.Sprintf("role:%d", id)) }

// GroupScope tags entries derived from a group's ACL rules or membership.
func GroupScope(id int64) Scope { return Scope(fmt.Sprintf("group:%d", id)) }

// PageScope tags entries derived from a page's ACL rules or flags.
func PageScope(id int64) Scope { return Scope(fmt.Sprintf("page:%d", id)) }

// Recorder receives cache effectiveness signals.
type Recorder interface {
	CacheHit(category string)
	CacheMiss(category string)
}

// Cache is a Redis backed, scope-tagged cache. Entry keys embed the current
// generation of every scope they depend on; invalidation bumps the scope's
// generation, so a compute that was in flight when the invalidation ran
// stores under a key no later read will use. A nil client degrades to
// compute-always, which keeps resolvers usable in tests without Redis.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
	rec    Recorder
}

// Option customises cache construction.
type Option func(*Cache)

// WithRecorder wires hit/miss metrics.
func WithRecorder(rec Recorder) Option {
	return func(c *Cache) { c.rec = rec }
}

// New instantiates the cache. A non-positive ttl falls back to DefaultTTL.
func New(client *redis.Client, ttl time.Duration, logger *slog.Logger, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{client: client, ttl: ttl, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCompute returns the cached value for (category, key), computing and
// storing it tagged with scopes on a miss. Concurrent misses for the same key
// collapse into a single compute via singleflight; a lost race degrades to
// computing twice, never to returning a value newer invalidation removed.
func (c *Cache) GetOrCompute(ctx context.Context, category, key string, scopes []Scope, dest any, compute func(context.Context) (any, error)) error {
	return c.fetch(ctx, category, key, scopes, false, dest, compute)
}

// GetOrComputeList behaves like GetOrCompute but additionally registers the
// entry in the category's list index so InvalidateCategoryLists can purge it.
func (c *Cache) GetOrComputeList(ctx context.Context, category, key string, scopes []Scope, dest any, compute func(context.Context) (any, error)) error {
	return c.fetch(ctx, category, key, scopes, true, dest, compute)
}

func (c *Cache) fetch(ctx context.Context, category, key string, scopes []Scope, isList bool, dest any, compute func(context.Context) (any, error)) error {
	if compute == nil {
		return errors.New("permcache: compute required")
	}
	if c == nil || c.client == nil {
		value, err := compute(ctx)
		if err != nil {
			return err
		}
		return remarshal(value, dest)
	}

	full, err := c.taggedKey(ctx, category, key, scopes)
	if err != nil {
		return err
	}
	payload, err := c.client.Get(ctx, full).Bytes()
	if err == nil {
		if c.rec != nil {
			c.rec.CacheHit(category)
		}
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}
	if c.rec != nil {
		c.rec.CacheMiss(category)
	}

	raw, err, _ := c.group.Do(full, func() (any, error) {
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.store(ctx, category, full, scopes, isList, data); err != nil {
			// The computed value is still good; a failed store only costs
			// the next caller a recompute.
			c.logger.Warn("permcache store failed", slog.String("key", full), slog.Any("error", err))
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw.([]byte), dest)
}

// taggedKey composes the entry key with each scope's current generation.
// IncrBy 0 reads the generation and creates it at zero when missing, so an
// invalidation's Incr always lands on a strictly higher value.
func (c *Cache) taggedKey(ctx context.Context, category, key string, scopes []Scope) (string, error) {
	base := entryKey(category, key)
	if len(scopes) == 0 {
		return base, nil
	}
	pipe := c.client.Pipeline()
	gens := make([]*redis.IntCmd, len(scopes))
	for i, scope := range scopes {
		gens[i] = pipe.IncrBy(ctx, genKey(scope), 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("permcache: read scope generations: %w", err)
	}
	var b strings.Builder
	b.WriteString(base)
	for _, gen := range gens {
		b.WriteString(":g")
		b.WriteString(strconv.FormatInt(gen.Val(), 10))
	}
	return b.String(), nil
}

func (c *Cache) store(ctx context.Context, category, full string, scopes []Scope, isList bool, data []byte) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, full, data, c.ttl)
	for _, scope := range scopes {
		idx := scopeKey(scope)
		pipe.SAdd(ctx, idx, full)
		pipe.Expire(ctx, idx, c.ttl+scopeIndexSlack)
		pipe.Expire(ctx, genKey(scope), c.ttl+scopeIndexSlack)
	}
	if isList {
		idx := listIndexKey(category)
		pipe.SAdd(ctx, idx, full)
		pipe.Expire(ctx, idx, c.ttl+scopeIndexSlack)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// InvalidateScope removes every entry tagged with scope, across categories.
// Once it returns, no read observes a value derived before the call, even
// when a concurrent compute finishes storing afterwards.
func (c *Cache) InvalidateScope(ctx context.Context, scope Scope) error {
	if c == nil || c.client == nil {
		return nil
	}
	// Bump the generation first: entries stored by in-flight computes land
	// under a key no later read uses. The deletes below are cleanup.
	if err := c.client.Incr(ctx, genKey(scope)).Err(); err != nil {
		return fmt.Errorf("permcache: bump scope generation %s: %w", scope, err)
	}
	idx := scopeKey(scope)
	members, err := c.client.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("permcache: read scope index %s: %w", scope, err)
	}
	keys := append(members, idx)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("permcache: invalidate scope %s: %w", scope, err)
	}
	return nil
}

// InvalidateScopes purges multiple scopes, keeping going on partial failure
// and reporting the first error.
func (c *Cache) InvalidateScopes(ctx context.Context, scopes ...Scope) error {
	var first error
	for _, scope := range scopes {
		if err := c.InvalidateScope(ctx, scope); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// InvalidateCategoryLists removes every list-shaped entry in a category,
// regardless of scope. Used when a mutation's blast radius is not cleanly
// expressible as a small scope set.
func (c *Cache) InvalidateCategoryLists(ctx context.Context, category string) error {
	if c == nil || c.client == nil {
		return nil
	}
	idx := listIndexKey(category)
	members, err := c.client.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("permcache: read list index %s: %w", category, err)
	}
	keys := append(members, idx)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("permcache: invalidate lists %s: %w", category, err)
	}
	return nil
}

// TTL exposes the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func entryKey(category, key string) string {
	return "perm:" + category + ":" + key
}

func scopeKey(scope Scope) string {
	return "perm:scope:" + string(scope)
}

func genKey(scope Scope) string {
	return "perm:gen:" + string(scope)
}

func listIndexKey(category string) string {
	return "perm:lists:" + category
}

func remarshal(value, dest any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
