package e2e

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-cms/meridian/internal/acl"
	"github.com/meridian-cms/meridian/internal/observability"
	"github.com/meridian-cms/meridian/internal/permcache"
	"github.com/meridian-cms/meridian/internal/permission"
)

type stubACLRepo struct{}

func (stubACLRepo) GroupsForUser(context.Context, int64) ([]int64, error) {
	return []int64{1}, nil
}

func (stubACLRepo) RulesForPage(_ context.Context, _ []int64, pageID int64) ([]acl.Rule, error) {
	return []acl.Rule{{GroupID: 1, PageID: pageID, Select: true}}, nil
}

func (stubACLRepo) PageOpenAccess(context.Context, int64) (bool, error) {
	return false, nil
}

// A resolver decision must surface on the scrape endpoint, otherwise the
// denial-rate alerts have nothing to rate.
func TestResolverDecisionsReachScrapeEndpoint(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	metrics := observability.NewMetrics()
	cache := permcache.New(client, time.Minute, slog.Default(), permcache.WithRecorder(metrics))
	resolver := acl.NewResolver(stubACLRepo{}, cache, nil, slog.Default(), acl.WithDecisionRecorder(metrics))
	ctx := context.Background()

	if !resolver.HasPageAccess(ctx, 7, 42, permission.ActionSelect) {
		t.Fatal("expected select grant")
	}
	if resolver.HasPageAccess(ctx, 7, 42, permission.ActionDelete) {
		t.Fatal("expected delete denial")
	}

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	for _, line := range []string{
		`meridian_permission_decisions_total{axis="acl",result="granted"} 1`,
		`meridian_permission_decisions_total{axis="acl",result="denied"} 1`,
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("scrape output missing %q:\n%s", line, body)
		}
	}
}
