package dataaccess

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

type grantKey struct {
	roleID     int64
	typeID     int64
	resourceID int64
}

type mockRepo struct {
	roles      map[int64][]int64
	admins     map[int64]bool
	types      map[string]ResourceType
	grants     map[grantKey]permission.Bitmask
	sqlRows    []Item
	allRows    []Item
	grantCalls int

	rolesErr  error
	grantsErr error
	sqlErr    error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		roles:  make(map[int64][]int64),
		admins: make(map[int64]bool),
		types:  make(map[string]ResourceType),
		grants: make(map[grantKey]permission.Bitmask),
	}
}

func (m *mockRepo) RoleIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	if m.rolesErr != nil {
		return nil, m.rolesErr
	}
	return m.roles[userID], nil
}

func (m *mockRepo) UserHasRole(ctx context.Context, userID int64, roleName string) (bool, error) {
	return m.admins[userID], nil
}

func (m *mockRepo) ResourceTypeByName(ctx context.Context, name string) (ResourceType, error) {
	rt, ok := m.types[name]
	if !ok {
		return ResourceType{}, shared.ErrNotFound
	}
	return rt, nil
}

func (m *mockRepo) GrantMask(ctx context.Context, roleIDs []int64, resourceTypeID int64, resourceIDs []int64) (permission.Bitmask, error) {
	if m.grantsErr != nil {
		return permission.None, m.grantsErr
	}
	m.grantCalls++
	mask := permission.None
	for _, roleID := range roleIDs {
		for _, resID := range resourceIDs {
			mask = mask.Union(m.grants[grantKey{roleID, resourceTypeID, resID}])
		}
	}
	return mask, nil
}

func (m *mockRepo) MasksForType(ctx context.Context, roleIDs []int64, resourceTypeID int64) (map[int64]permission.Bitmask, error) {
	masks := make(map[int64]permission.Bitmask)
	for key, mask := range m.grants {
		if key.typeID != resourceTypeID {
			continue
		}
		for _, roleID := range roleIDs {
			if key.roleID == roleID {
				masks[key.resourceID] = masks[key.resourceID].Union(mask)
			}
		}
	}
	return masks, nil
}

func (m *mockRepo) AuthorizedResources(ctx context.Context, roleIDs []int64, rt ResourceType) ([]Item, error) {
	if m.sqlErr != nil {
		return nil, m.sqlErr
	}
	return m.sqlRows, nil
}

func (m *mockRepo) AllResources(ctx context.Context, rt ResourceType, mask permission.Bitmask) ([]Item, error) {
	return m.allRows, nil
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
	return NewResolver(repo, cache, audits, slog.Default(), "admin"), store, cache
}

func pagesType() ResourceType {
	return ResourceType{ID: 1, Name: "pages", Strategy: StrategyMemory}
}

func TestDefaultDeny(t *testing.T) {
	repo := newMockRepo()
	repo.types["pages"] = pagesType()
	repo.roles[7] = []int64{3}

	resolver, store, _ := newTestResolver(t, repo)

	assert.False(t, resolver.HasPermission(context.Background(), 7, "pages", 42, permission.Read))
	require.Len(t, store.records, 1)
	assert.Equal(t, audit.ResultDenied, store.records[0].Result)
}

func TestUnknownResourceTypeDenies(t *testing.T) {
	repo := newMockRepo()
	repo.roles[7] = []int64{3}

	resolver, store, _ := newTestResolver(t, repo)

	assert.False(t, resolver.HasPermission(context.Background(), 7, "widgets", 1, permission.Read))
	require.Len(t, store.records, 1)
	assert.Contains(t, store.records[0].Note, "lookup failed")
}

func TestRoleBitwiseORAggregation(t *testing.T) {
	repo := newMockRepo()
	repo.types["pages"] = pagesType()
	repo.roles[7] = []int64{1, 2}
	repo.grants[grantKey{1, 1, 42}] = permission.Read
	repo.grants[grantKey{2, 1, 42}] = permission.Update

	resolver, _, _ := newTestResolver(t, repo)
	ctx := context.Background()

	mask, err := resolver.EffectiveMask(ctx, 7, "pages", 42)
	require.NoError(t, err)
	assert.Equal(t, permission.Read|permission.Update, mask)

	assert.True(t, resolver.HasPermission(ctx, 7, "pages", 42, permission.Read))
	assert.True(t, resolver.HasPermission(ctx, 7, "pages", 42, permission.Update))
	assert.False(t, resolver.HasPermission(ctx, 7, "pages", 42, permission.Delete))
}

func TestWildcardGrantCoversEveryResource(t *testing.T) {
	repo := newMockRepo()
	repo.types["pages"] = pagesType()
	repo.roles[7] = []int64{3}
	repo.grants[grantKey{3, 1, permission.AllResources}] = permission.Read

	resolver, _, _ := newTestResolver(t, repo)
	ctx := context.Background()

	assert.True(t, resolver.HasPermission(ctx, 7, "pages", 42, permission.Read))
	assert.True(t, resolver.HasPermission(ctx, 7, "pages", 9000, permission.Read))
	assert.False(t, resolver.HasPermission(ctx, 7, "pages", 42, permission.Update))
}

func TestAdminOverride(t *testing.T) {
	repo := newMockRepo()
	repo.types["pages"] = pagesType()
	repo.admins[1] = true

	resolver, store, _ := newTestResolver(t, repo)
	ctx := context.Background()

	for _, bit := range []permission.Bitmask{permission.Create, permission.Read, permission.Update, permission.Delete} {
		assert.True(t, resolver.HasPermission(ctx, 1, "pages", 42, bit))
	}
	require.Len(t, store.records, 4)
	for _, rec := range store.records {
		assert.Equal(t, audit.ResultGranted, rec.Result)
		assert.Equal(t, "admin override", rec.Note)
	}
}

func TestNoRolesDenies(t *testing.T) {
	repo := newMockRepo()
	repo.types["pages"] = pagesType()

	resolver, _, _ := newTestResolver(t, repo)

	assert.False(t, resolver.HasPermission(context.Background(), 7, "pages", 42, permission.Read))
}

func TestLookupFailureDenies(t *testing.T) {
	repo := newMockRepo()
	repo.types["pages"] = pagesType()
	repo.roles[7] = []int64{3}
	repo.grantsErr = errors.New("connection refused")

	resolver, store, _ := newTestResolver(t, repo)

	assert.False(t, resolver.HasPermission(context.Background(), 7, "pages", 42, permission.Read))
	require.Len(t, store.records, 1)
	assert.Equal(t, audit.ResultDenied, store.records[0].Result)
}

func TestCacheCoherenceAfterGrantChange(t *testing.T) {
	repo := newMockRepo()
	repo.types["pages"] = pagesType()
	repo.roles[7] = []int64{3}

	resolver, _, cache := newTestResolver(t, repo)
	ctx := context.Background()

	// Miss, caches the zero mask.
	assert.False(t, resolver.HasPermission(ctx, 7, "pages", 42, permission.Read))
	assert.Equal(t, 1, repo.grantCalls)

	// Grant READ and invalidate the role scope, as the admin service does.
	repo.grants[grantKey{3, 1, 42}] = permission.Read
	require.NoError(t, cache.InvalidateScope(ctx, permcache.RoleScope(3)))

	assert.True(t, resolver.HasPermission(ctx, 7, "pages", 42, permission.Read),
		"must observe the new grant without waiting for TTL expiry")
	assert.Equal(t, 2, repo.grantCalls)
}

func TestEndToEndEditorScenario(t *testing.T) {
	repo := newMockRepo()
	repo.types["pages"] = pagesType()
	repo.roles[7] = []int64{5} // editor only
	repo.grants[grantKey{5, 1, 42}] = permission.Read | permission.Update

	resolver, _, _ := newTestResolver(t, repo)
	ctx := context.Background()

	assert.False(t, resolver.HasPermission(ctx, 7, "pages", 42, permission.Create))
	assert.True(t, resolver.HasPermission(ctx, 7, "pages", 42, permission.Update))

	fetchAll := func(context.Context) ([]Item, error) {
		return []Item{
			{"id": int64(42), "title": "Welcome"},
			{"id": int64(43), "title": "Hidden"},
		}, nil
	}
	items, err := resolver.FilterCollection(ctx, 7, "pages", fetchAll)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(42), items[0]["id"])
	assert.Equal(t, 6, items[0][CrudField])
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
	repo.types["pages"] = pagesType()
	repo.roles[7] = []int64{3}
	repo.grants[grantKey{3, 1, 42}] = permission.Read

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := permcache.New(client, time.Minute, slog.Default())

	rec := &countingRecorder{}
	resolver := NewResolver(repo, cache, nil, slog.Default(), "admin", WithDecisionRecorder(rec))
	ctx := context.Background()

	assert.True(t, resolver.HasPermission(ctx, 7, "pages", 42, permission.Read))
	assert.False(t, resolver.HasPermission(ctx, 7, "pages", 42, permission.Delete))

	assert.Equal(t, 1, rec.granted)
	assert.Equal(t, 1, rec.denied)
}
