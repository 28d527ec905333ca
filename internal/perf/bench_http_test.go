package perf

import (
	"context"
	"log/slog"
	"sort"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-cms/meridian/internal/acl"
	"github.com/meridian-cms/meridian/internal/permcache"
	"github.com/meridian-cms/meridian/internal/permission"
)

type staticACLRepo struct{}

func (staticACLRepo) GroupsForUser(ctx context.Context, userID int64) ([]int64, error) {
	return []int64{1}, nil
}

func (staticACLRepo) RulesForPage(ctx context.Context, groupIDs []int64, pageID int64) ([]acl.Rule, error) {
	return []acl.Rule{{GroupID: 1, PageID: pageID, Select: true}}, nil
}

func (staticACLRepo) PageOpenAccess(ctx context.Context, pageID int64) (bool, error) {
	return false, nil
}

func TestPermissionLatencyTargets(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := permcache.New(client, time.Minute, slog.Default())
	resolver := acl.NewResolver(staticACLRepo{}, cache, nil, slog.Default())
	ctx := context.Background()

	const rounds = 200

	// Warm the entry once, then measure resolutions served from cache.
	require.True(t, resolver.HasPageAccess(ctx, 7, 42, permission.ActionSelect))
	cached := make([]time.Duration, 0, rounds)
	for i := 0; i < rounds; i++ {
		start := time.Now()
		require.True(t, resolver.HasPageAccess(ctx, 7, 42, permission.ActionSelect))
		cached = append(cached, time.Since(start))
	}

	// Invalidate before every call to force a full recompute and store.
	cold := make([]time.Duration, 0, rounds)
	for i := 0; i < rounds; i++ {
		require.NoError(t, cache.InvalidateScope(ctx, permcache.PageScope(42)))
		start := time.Now()
		require.True(t, resolver.HasPageAccess(ctx, 7, 42, permission.ActionSelect))
		cold = append(cold, time.Since(start))
	}

	if p95 := percentile95(cached); p95 > 10*time.Millisecond {
		t.Fatalf("cached latency regression: p95=%s", p95)
	}
	if p95 := percentile95(cold); p95 > 100*time.Millisecond {
		t.Fatalf("cold latency regression: p95=%s", p95)
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
