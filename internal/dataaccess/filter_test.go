package dataaccess

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-cms/meridian/internal/permission"
)

func TestMemoryFilterDropsUnreadable(t *testing.T) {
	repo := newMockRepo()
	repo.types["pages"] = pagesType()
	repo.roles[7] = []int64{3}
	repo.grants[grantKey{3, 1, 42}] = permission.Read | permission.Update

	resolver, _, _ := newTestResolver(t, repo)

	items, err := resolver.FilterCollection(context.Background(), 7, "pages", func(context.Context) ([]Item, error) {
		return []Item{
			{"id": int64(42), "title": "Visible"},
			{"id": int64(43), "title": "Dropped"},
		}, nil
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Visible", items[0]["title"])
	assert.Equal(t, 6, items[0][CrudField])
}

func TestMemoryFilterFieldNameConventions(t *testing.T) {
	repo := newMockRepo()
	repo.types["news"] = ResourceType{ID: 2, Name: "news", Strategy: StrategyMemory}
	repo.roles[7] = []int64{3}
	repo.grants[grantKey{3, 2, 5}] = permission.Read
	repo.grants[grantKey{3, 2, 6}] = permission.Read
	repo.grants[grantKey{3, 2, 7}] = permission.Read

	resolver, _, _ := newTestResolver(t, repo)

	items, err := resolver.FilterCollection(context.Background(), 7, "news", func(context.Context) ([]Item, error) {
		return []Item{
			{"id": int64(5)},
			{"id_news": int64(6)},
			{"news_id": int64(7)},
			{"label": "no id at all"},
		}, nil
	})
	require.NoError(t, err)
	assert.Len(t, items, 3, "all three id conventions must resolve; id-less items are dropped")
}

func TestMemoryFilterRecursesChildren(t *testing.T) {
	repo := newMockRepo()
	repo.types["pages"] = pagesType()
	repo.roles[7] = []int64{3}
	repo.grants[grantKey{3, 1, 1}] = permission.Read
	repo.grants[grantKey{3, 1, 2}] = permission.Read | permission.Update

	resolver, _, _ := newTestResolver(t, repo)

	items, err := resolver.FilterCollection(context.Background(), 7, "pages", func(context.Context) ([]Item, error) {
		return []Item{
			{"id": int64(1), "children": []Item{
				{"id": int64(2)},
				{"id": int64(3)}, // no grant, must vanish from children
			}},
		}, nil
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	children, ok := items[0][ChildrenField].([]Item)
	require.True(t, ok)
	require.Len(t, children, 1)
	assert.Equal(t, int64(2), children[0]["id"])
	assert.Equal(t, 6, children[0][CrudField])
}

func TestMemoryFilterWildcardAnnotates(t *testing.T) {
	repo := newMockRepo()
	repo.types["pages"] = pagesType()
	repo.roles[7] = []int64{3}
	repo.grants[grantKey{3, 1, permission.AllResources}] = permission.Read
	repo.grants[grantKey{3, 1, 42}] = permission.Update

	resolver, _, _ := newTestResolver(t, repo)

	items, err := resolver.FilterCollection(context.Background(), 7, "pages", func(context.Context) ([]Item, error) {
		return []Item{
			{"id": int64(42)},
			{"id": int64(99)},
		}, nil
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, (permission.Read | permission.Update).Int(), items[0][CrudField])
	assert.Equal(t, permission.Read.Int(), items[1][CrudField])
}

func TestAdminSeesEverythingWithFullMask(t *testing.T) {
	repo := newMockRepo()
	repo.types["pages"] = pagesType()
	repo.admins[1] = true

	resolver, _, _ := newTestResolver(t, repo)

	items, err := resolver.FilterCollection(context.Background(), 1, "pages", func(context.Context) ([]Item, error) {
		return []Item{
			{"id": int64(42), "children": []Item{{"id": int64(43)}}},
		}, nil
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, permission.Full.Int(), items[0][CrudField])
	children := items[0][ChildrenField].([]Item)
	assert.Equal(t, permission.Full.Int(), children[0][CrudField])
}

func TestSQLStrategyUsesJoinedRows(t *testing.T) {
	repo := newMockRepo()
	repo.types["pages"] = ResourceType{ID: 1, Name: "pages", Strategy: StrategySQL}
	repo.roles[7] = []int64{3}
	repo.sqlRows = []Item{{"id": int64(42), "title": "Welcome", CrudField: 6}}

	resolver, _, _ := newTestResolver(t, repo)

	// fetchAll must not be needed on the SQL path.
	items, err := resolver.FilterCollection(context.Background(), 7, "pages", nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 6, items[0][CrudField])
}

func TestSQLStrategyFallsBackToMemory(t *testing.T) {
	repo := newMockRepo()
	repo.types["pages"] = ResourceType{ID: 1, Name: "pages", Strategy: StrategySQL}
	repo.roles[7] = []int64{3}
	repo.grants[grantKey{3, 1, 42}] = permission.Read
	repo.sqlErr = errors.New("no sql filter table")

	resolver, _, _ := newTestResolver(t, repo)

	items, err := resolver.FilterCollection(context.Background(), 7, "pages", func(context.Context) ([]Item, error) {
		return []Item{{"id": int64(42)}}, nil
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, permission.Read.Int(), items[0][CrudField])
}
