package acl

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-cms/meridian/internal/audit"
	"github.com/meridian-cms/meridian/internal/permcache"
	"github.com/meridian-cms/meridian/internal/permission"
	"github.com/meridian-cms/meridian/internal/shared"
)

type mockRepo struct {
	groups     map[int64][]int64
	rules      map[int64][]Rule // keyed by page id
	openAccess map[int64]bool

	groupsErr error
	rulesErr  error
	pageErr   error

	ruleCalls int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		groups:     make(map[int64][]int64),
		rules:      make(map[int64][]Rule),
		openAccess: make(map[int64]bool),
	}
}

func (m *mockRepo) GroupsForUser(ctx context.Context, userID int64) ([]int64, error) {
	if m.groupsErr != nil {
		return nil, m.groupsErr
	}
	return m.groups[userID], nil
}

func (m *mockRepo) RulesForPage(ctx context.Context, groupIDs []int64, pageID int64) ([]Rule, error) {
	if m.rulesErr != nil {
		return nil, m.rulesErr
	}
	m.ruleCalls++
	member := make(map[int64]struct{}, len(groupIDs))
	for _, id := range groupIDs {
		member[id] = struct{}{}
	}
	var matched []Rule
	for _, rule := range m.rules[pageID] {
		if _, ok := member[rule.GroupID]; ok {
			matched = append(matched, rule)
		}
	}
	return matched, nil
}

func (m *mockRepo) PageOpenAccess(ctx context.Context, pageID int64) (bool, error) {
	if m.pageErr != nil {
		return false, m.pageErr
	}
	open, ok := m.openAccess[pageID]
	if !ok {
		return false, shared.ErrNotFound
	}
	return open, nil
}

type recordingStore struct {
	records []audit.Record
}

func (s *recordingStore) InsertDecision(ctx context.Context, rec audit.Record) error {
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingStore) TimelineWindow(ctx context.Context, f audit.TimelineFilters, limit, offset int) ([]audit.Record, error) {
	return nil, nil
}

func (s *recordingStore) TimelineAll(ctx context.Context, f audit.TimelineFilters) ([]audit.Record, error) {
	return nil, nil
}

func newTestResolver(t *testing.T, repo Repository) (*Resolver, *recordingStore, *permcache.Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := permcache.New(client, time.Minute, slog.Default())
	store := &recordingStore{}
	audits := audit.NewLogger(store, slog.Default(), nil)
	return NewResolver(repo, cache, audits, slog.Default()), store, cache
}

func TestDefaultDeny(t *testing.T) {
	repo := newMockRepo()
	repo.openAccess[10] = false
	repo.groups[7] = []int64{1}

	resolver, store, _ := newTestResolver(t, repo)
	ctx := context.Background()

	for _, action := range []permission.Action{permission.ActionSelect, permission.ActionInsert, permission.ActionUpdate, permission.ActionDelete} {
		assert.False(t, resolver.HasPageAccess(ctx, 7, 10, action), "no rule must deny %s", action)
	}
	require.Len(t, store.records, 4)
	for _, rec := range store.records {
		assert.Equal(t, audit.ResultDenied, rec.Result)
	}
}

func TestGroupORAggregation(t *testing.T) {
	repo := newMockRepo()
	repo.openAccess[10] = false
	repo.groups[7] = []int64{1, 2}
	repo.rules[10] = []Rule{
		{GroupID: 1, PageID: 10, Update: true},
		{GroupID: 2, PageID: 10, Update: false, Select: true},
	}

	resolver, _, _ := newTestResolver(t, repo)
	ctx := context.Background()

	assert.True(t, resolver.HasPageAccess(ctx, 7, 10, permission.ActionUpdate), "OR across groups, not AND")
	assert.True(t, resolver.HasPageAccess(ctx, 7, 10, permission.ActionSelect))
	assert.False(t, resolver.HasPageAccess(ctx, 7, 10, permission.ActionDelete))
}

func TestOpenAccessBypass(t *testing.T) {
	repo := newMockRepo()
	repo.openAccess[10] = true
	// Principal 9 has no group memberships at all.

	resolver, store, _ := newTestResolver(t, repo)
	ctx := context.Background()

	assert.True(t, resolver.HasPageAccess(ctx, 9, 10, permission.ActionSelect))
	assert.False(t, resolver.HasPageAccess(ctx, 9, 10, permission.ActionUpdate), "open access covers select only")

	require.NotEmpty(t, store.records)
	assert.Equal(t, "open access", store.records[0].Note)
}

func TestLookupFailureDenies(t *testing.T) {
	repo := newMockRepo()
	repo.pageErr = errors.New("connection refused")

	resolver, store, _ := newTestResolver(t, repo)

	assert.False(t, resolver.HasPageAccess(context.Background(), 7, 10, permission.ActionSelect))
	require.Len(t, store.records, 1)
	assert.Equal(t, audit.ResultDenied, store.records[0].Result)
	assert.Contains(t, store.records[0].Note, "lookup failed")
}

func TestMissingPageDenies(t *testing.T) {
	repo := newMockRepo()

	resolver, _, _ := newTestResolver(t, repo)

	assert.False(t, resolver.HasPageAccess(context.Background(), 7, 999, permission.ActionSelect))
}

func TestUnknownActionDenies(t *testing.T) {
	repo := newMockRepo()
	repo.openAccess[10] = true

	resolver, _, _ := newTestResolver(t, repo)

	assert.False(t, resolver.HasPageAccess(context.Background(), 7, 10, permission.Action("publish")))
}

func TestCacheCoherenceAfterInvalidation(t *testing.T) {
	repo := newMockRepo()
	repo.openAccess[10] = false
	repo.groups[7] = []int64{1}

	resolver, _, cache := newTestResolver(t, repo)
	ctx := context.Background()

	assert.False(t, resolver.HasPageAccess(ctx, 7, 10, permission.ActionUpdate))
	assert.Equal(t, 1, repo.ruleCalls)

	// Cached: no extra repository hit.
	assert.False(t, resolver.HasPageAccess(ctx, 7, 10, permission.ActionUpdate))
	assert.Equal(t, 1, repo.ruleCalls)

	// Grant the rule and invalidate the page scope, as the admin surface does.
	repo.rules[10] = []Rule{{GroupID: 1, PageID: 10, Update: true}}
	require.NoError(t, cache.InvalidateScope(ctx, permcache.PageScope(10)))

	assert.True(t, resolver.HasPageAccess(ctx, 7, 10, permission.ActionUpdate), "must observe new rule without waiting for TTL")
	assert.Equal(t, 2, repo.ruleCalls)
}

func TestResolveMergesOpenAccess(t *testing.T) {
	repo := newMockRepo()
	repo.openAccess[10] = true
	repo.groups[7] = []int64{1}
	repo.rules[10] = []Rule{{GroupID: 1, PageID: 10, Update: true}}

	resolver, _, _ := newTestResolver(t, repo)

	flags, err := resolver.Resolve(context.Background(), 7, 10)
	require.NoError(t, err)
	assert.True(t, flags.Select)
	assert.True(t, flags.Update)
	assert.False(t, flags.Delete)
}

type countingRecorder struct {
	granted int
	denied  int
}

func (c *countingRecorder) CountDecision(axis, result string) {
	switch result {
	case "granted":
		c.granted++
	default:
		c.denied++
	}
}

func TestDecisionsAreCounted(t *testing.T) {
	repo := newMockRepo()
	repo.openAccess[10] = false
	repo.groups[7] = []int64{1}
	repo.rules[10] = []Rule{{GroupID: 1, PageID: 10, Select: true}}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := permcache.New(client, time.Minute, slog.Default())

	rec := &countingRecorder{}
	resolver := NewResolver(repo, cache, nil, slog.Default(), WithDecisionRecorder(rec))
	ctx := context.Background()

	assert.True(t, resolver.HasPageAccess(ctx, 7, 10, permission.ActionSelect))
	assert.False(t, resolver.HasPageAccess(ctx, 7, 10, permission.ActionDelete))

	assert.Equal(t, 1, rec.granted)
	assert.Equal(t, 1, rec.denied)
}
