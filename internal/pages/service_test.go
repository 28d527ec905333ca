package pages

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
	"github.com/meridian-cms/meridian/internal/dataaccess"
	"github.com/meridian-cms/meridian/internal/permcache"
	"github.com/meridian-cms/meridian/internal/permission"
	"github.com/meridian-cms/meridian/internal/shared"
)

type memRepo struct {
	pages  map[int64]Page
	nextID int64
}

func newMemRepo() *memRepo {
	return &memRepo{pages: make(map[int64]Page), nextID: 1}
}

func (r *memRepo) Page(_ context.Context, id int64) (*Page, error) {
	p, ok := r.pages[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &p, nil
}

func (r *memRepo) PageBySlug(_ context.Context, slug string) (*Page, error) {
	for _, p := range r.pages {
		if p.Slug == slug {
			return &p, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memRepo) Pages(_ context.Context) ([]Page, error) {
	out := make([]Page, 0, len(r.pages))
	for _, p := range r.pages {
		out = append(out, p)
	}
	return out, nil
}

func (r *memRepo) SlugTaken(_ context.Context, slug string, excludeID int64) (bool, error) {
	for _, p := range r.pages {
		if p.Slug == slug && p.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) Insert(_ context.Context, p Page) (int64, error) {
	p.ID = r.nextID
	r.nextID++
	r.pages[p.ID] = p
	return p.ID, nil
}

func (r *memRepo) Update(_ context.Context, p Page) error {
	if _, ok := r.pages[p.ID]; !ok {
		return shared.ErrNotFound
	}
	r.pages[p.ID] = p
	return nil
}

func (r *memRepo) Delete(_ context.Context, id int64) error {
	if _, ok := r.pages[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.pages, id)
	return nil
}

func (r *memRepo) HasChildren(_ context.Context, id int64) (bool, error) {
	for _, p := range r.pages {
		if p.ParentID != nil && *p.ParentID == id {
			return true, nil
		}
	}
	return false, nil
}

// accessRepo is a fixed-data grant repository backing the tree filter.
type accessRepo struct {
	roles map[int64][]int64
	masks map[int64]permission.Bitmask
}

func (r *accessRepo) RoleIDsForUser(_ context.Context, userID int64) ([]int64, error) {
	return r.roles[userID], nil
}

func (r *accessRepo) UserHasRole(context.Context, int64, string) (bool, error) {
	return false, nil
}

func (r *accessRepo) ResourceTypeByName(_ context.Context, name string) (dataaccess.ResourceType, error) {
	if name != ResourceTypeName {
		return dataaccess.ResourceType{}, shared.ErrNotFound
	}
	return dataaccess.ResourceType{ID: 1, Name: name, Strategy: dataaccess.StrategyMemory}, nil
}

func (r *accessRepo) GrantMask(_ context.Context, roleIDs []int64, _ int64, resourceIDs []int64) (permission.Bitmask, error) {
	mask := permission.None
	if len(roleIDs) == 0 {
		return mask, nil
	}
	for _, id := range resourceIDs {
		mask = mask.Union(r.masks[id])
	}
	return mask, nil
}

func (r *accessRepo) MasksForType(_ context.Context, roleIDs []int64, _ int64) (map[int64]permission.Bitmask, error) {
	if len(roleIDs) == 0 {
		return map[int64]permission.Bitmask{}, nil
	}
	return r.masks, nil
}

func (r *accessRepo) AuthorizedResources(context.Context, []int64, dataaccess.ResourceType) ([]dataaccess.Item, error) {
	return nil, errors.New("not backed by sql")
}

func (r *accessRepo) AllResources(context.Context, dataaccess.ResourceType, permission.Bitmask) ([]dataaccess.Item, error) {
	return nil, errors.New("not backed by sql")
}

type nopStore struct{}

func (nopStore) InsertDecision(context.Context, audit.Record) error { return nil }
func (nopStore) TimelineWindow(context.Context, audit.TimelineFilters, int, int) ([]audit.Record, error) {
	return nil, nil
}
func (nopStore) TimelineAll(context.Context, audit.TimelineFilters) ([]audit.Record, error) {
	return nil, nil
}

func newTestService(t *testing.T, access *accessRepo) (*Service, *memRepo, *permcache.Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := permcache.New(client, time.Minute, slog.Default())
	audits := audit.NewLogger(nopStore{}, slog.Default(), nil)
	resolver := dataaccess.NewResolver(access, cache, audits, slog.Default(), "admin")

	repo := newMemRepo()
	return NewService(repo, resolver, cache, slog.Default()), repo, cache
}

func defaultAccess() *accessRepo {
	return &accessRepo{
		roles: map[int64][]int64{7: {3}},
		masks: map[int64]permission.Bitmask{},
	}
}

func TestCreateNormalizesAndChecksSlug(t *testing.T) {
	svc, repo, _ := newTestService(t, defaultAccess())
	ctx := context.Background()

	page, err := svc.Create(ctx, CreatePageRequest{Slug: "  About-Us ", Title: "About"}, 7)
	require.NoError(t, err)
	assert.Equal(t, "about-us", page.Slug)
	assert.Equal(t, int64(7), page.CreatedBy)

	_, err = svc.Create(ctx, CreatePageRequest{Slug: "about-us", Title: "Dup"}, 7)
	require.ErrorIs(t, err, ErrSlugTaken)

	_, err = svc.Create(ctx, CreatePageRequest{Slug: "no spaces!", Title: "Bad"}, 7)
	require.Error(t, err)

	assert.Len(t, repo.pages, 1)
}

func TestCreateRejectsUnknownParent(t *testing.T) {
	svc, _, _ := newTestService(t, defaultAccess())

	missing := int64(99)
	_, err := svc.Create(context.Background(), CreatePageRequest{Slug: "child", Title: "c", ParentID: &missing}, 7)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateRejectsCycle(t *testing.T) {
	svc, _, _ := newTestService(t, defaultAccess())
	ctx := context.Background()

	root, err := svc.Create(ctx, CreatePageRequest{Slug: "root", Title: "r"}, 7)
	require.NoError(t, err)
	child, err := svc.Create(ctx, CreatePageRequest{Slug: "child", Title: "c", ParentID: &root.ID}, 7)
	require.NoError(t, err)

	_, err = svc.Update(ctx, root.ID, UpdatePageRequest{ParentID: &child.ID})
	require.ErrorIs(t, err, ErrCycle)

	_, err = svc.Update(ctx, root.ID, UpdatePageRequest{ParentID: &root.ID})
	require.ErrorIs(t, err, ErrCycle)
}

func TestDeleteBlockedByChildren(t *testing.T) {
	svc, repo, _ := newTestService(t, defaultAccess())
	ctx := context.Background()

	root, err := svc.Create(ctx, CreatePageRequest{Slug: "root", Title: "r"}, 7)
	require.NoError(t, err)
	child, err := svc.Create(ctx, CreatePageRequest{Slug: "child", Title: "c", ParentID: &root.ID}, 7)
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(ctx, root.ID), ErrHasChildren)
	require.NoError(t, svc.Delete(ctx, child.ID))
	require.NoError(t, svc.Delete(ctx, root.ID))
	assert.Empty(t, repo.pages)
}

func TestTreeNestsAndPrunes(t *testing.T) {
	access := defaultAccess()
	svc, _, _ := newTestService(t, access)
	ctx := context.Background()

	root, err := svc.Create(ctx, CreatePageRequest{Slug: "root", Title: "r"}, 7)
	require.NoError(t, err)
	visible, err := svc.Create(ctx, CreatePageRequest{Slug: "visible", Title: "v", ParentID: &root.ID}, 7)
	require.NoError(t, err)
	hidden, err := svc.Create(ctx, CreatePageRequest{Slug: "hidden", Title: "h", ParentID: &root.ID}, 7)
	require.NoError(t, err)

	access.masks[root.ID] = permission.Read | permission.Update
	access.masks[visible.ID] = permission.Read
	access.masks[hidden.ID] = permission.Create // no READ bit

	tree, err := svc.Tree(ctx, 7)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	assert.Equal(t, root.ID, tree[0]["id"])
	assert.Equal(t, int((permission.Read | permission.Update)), tree[0][dataaccess.CrudField])

	children, ok := tree[0][dataaccess.ChildrenField].([]dataaccess.Item)
	require.True(t, ok)
	require.Len(t, children, 1, "children without a READ grant must be pruned")
	assert.Equal(t, visible.ID, children[0]["id"])
	_ = hidden
}

func TestTreeWildcardGrant(t *testing.T) {
	access := defaultAccess()
	svc, _, _ := newTestService(t, access)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreatePageRequest{Slug: "a", Title: "a"}, 7)
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreatePageRequest{Slug: "b", Title: "b"}, 7)
	require.NoError(t, err)

	access.masks[permission.AllResources] = permission.Read

	tree, err := svc.Tree(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, tree, 2)
}

func TestMutationInvalidatesPageScope(t *testing.T) {
	svc, _, cache := newTestService(t, defaultAccess())
	ctx := context.Background()

	page, err := svc.Create(ctx, CreatePageRequest{Slug: "news", Title: "News"}, 7)
	require.NoError(t, err)

	var allowed bool
	require.NoError(t, cache.GetOrCompute(ctx, "acl", "u7:p1", []permcache.Scope{permcache.PageScope(page.ID)}, &allowed,
		func(context.Context) (any, error) { return true, nil }))

	open := false
	_, err = svc.Update(ctx, page.ID, UpdatePageRequest{OpenAccess: &open})
	require.NoError(t, err)

	calls := 0
	require.NoError(t, cache.GetOrCompute(ctx, "acl", "u7:p1", []permcache.Scope{permcache.PageScope(page.ID)}, &allowed,
		func(context.Context) (any, error) { calls++; return false, nil }))
	assert.Equal(t, 1, calls, "acl decisions for the page must recompute after an update")
}
