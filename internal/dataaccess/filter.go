package dataaccess

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/meridian-cms/meridian/internal/permission"
)

// FetchAll materializes the unfiltered candidate collection for the
// in-memory strategy.
type FetchAll func(ctx context.Context) ([]Item, error)

// FilterCollection returns the subset of a resource type's collection the
// principal may read, each surviving item annotated with its aggregate CRUD
// mask. The strategy is chosen per resource type: flat joinable tables are
// filtered inside postgres, nested collections in-process. Both paths
// produce the same external contract.
func (r *Resolver) FilterCollection(ctx context.Context, principalID int64, resourceType string, fetchAll FetchAll) ([]Item, error) {
	rt, err := r.repo.ResourceTypeByName(ctx, resourceType)
	if err != nil {
		return nil, fmt.Errorf("dataaccess: resource type %q: %w", resourceType, err)
	}

	admin, err := r.isAdmin(ctx, principalID)
	if err != nil {
		return nil, err
	}

	roleIDs, err := r.repo.RoleIDsForUser(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("dataaccess: roles for user %d: %w", principalID, err)
	}

	if rt.Strategy == StrategySQL {
		items, err := r.filterSQL(ctx, principalID, rt, roleIDs, admin)
		if err == nil {
			return items, nil
		}
		// A type misconfigured for SQL filtering still has a correct
		// answer through the in-memory path.
		r.logger.Warn("sql filter unavailable, falling back to memory",
			slog.String("resource_type", rt.Name),
			slog.Any("error", err))
	}
	return r.filterMemory(ctx, rt, roleIDs, admin, fetchAll)
}

func (r *Resolver) filterSQL(ctx context.Context, principalID int64, rt ResourceType, roleIDs []int64, admin bool) ([]Item, error) {
	if admin {
		return r.repo.AllResources(ctx, rt, permission.Full)
	}
	key := fmt.Sprintf("list:%s:u%d", rt.Name, principalID)
	var items []Item
	err := r.cache.GetOrComputeList(ctx, cacheCategory, key, scopesFor(principalID, roleIDs), &items, func(ctx context.Context) (any, error) {
		return r.repo.AuthorizedResources(ctx, roleIDs, rt)
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *Resolver) filterMemory(ctx context.Context, rt ResourceType, roleIDs []int64, admin bool, fetchAll FetchAll) ([]Item, error) {
	if fetchAll == nil {
		return nil, fmt.Errorf("dataaccess: fetchAll required for in-memory filtering of %q", rt.Name)
	}
	items, err := fetchAll(ctx)
	if err != nil {
		return nil, err
	}

	if admin {
		return annotateAll(items, permission.Full), nil
	}

	masks, err := r.repo.MasksForType(ctx, roleIDs, rt.ID)
	if err != nil {
		return nil, err
	}
	wildcard := masks[permission.AllResources]
	return filterItems(items, rt.Name, masks, wildcard), nil
}

// filterItems drops items without READ permission, annotates survivors with
// their mask, and recurses into children collections.
func filterItems(items []Item, typeName string, masks map[int64]permission.Bitmask, wildcard permission.Bitmask) []Item {
	filtered := make([]Item, 0, len(items))
	for _, item := range items {
		id, ok := resourceID(item, typeName)
		if !ok {
			continue
		}
		mask := masks[id].Union(wildcard)
		if !mask.Has(permission.Read) {
			continue
		}
		if children, ok := childItems(item); ok {
			item[ChildrenField] = filterItems(children, typeName, masks, wildcard)
		}
		item[CrudField] = mask.Int()
		filtered = append(filtered, item)
	}
	return filtered
}

func annotateAll(items []Item, mask permission.Bitmask) []Item {
	for _, item := range items {
		if children, ok := childItems(item); ok {
			item[ChildrenField] = annotateAll(children, mask)
		}
		item[CrudField] = mask.Int()
	}
	return items
}

// resourceID reads the item's id under one of the accepted field-name
// conventions: "id", "id_<type>", "<type>_id".
func resourceID(item Item, typeName string) (int64, bool) {
	for _, field := range []string{"id", "id_" + typeName, typeName + "_id"} {
		if raw, ok := item[field]; ok {
			if id, ok := asInt64(raw); ok {
				return id, true
			}
		}
	}
	return 0, false
}

func childItems(item Item) ([]Item, bool) {
	raw, ok := item[ChildrenField]
	if !ok || raw == nil {
		return nil, false
	}
	switch v := raw.(type) {
	case []Item:
		return v, true
	case []any:
		children := make([]Item, 0, len(v))
		for _, c := range v {
			if m, ok := c.(map[string]any); ok {
				children = append(children, m)
			}
		}
		return children, true
	}
	return nil, false
}

func asInt64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		id, err := v.Int64()
		return id, err == nil
	}
	return 0, false
}
