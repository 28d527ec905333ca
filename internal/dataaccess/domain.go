// Package dataaccess resolves admin-side, resource-scoped CRUD permission.
// Grants attach to roles, not groups, and aggregate by bitwise OR across
// every role the principal holds.
package dataaccess

import "github.com/meridian-cms/meridian/internal/permission"

// FilterStrategy selects how a resource type's collections are filtered.
type FilterStrategy string

const (
	// StrategySQL filters in the persistence layer with a grant join.
	// Suited to flat, high-cardinality tables.
	StrategySQL FilterStrategy = "sql"
	// StrategyMemory fetches the candidate set and applies the aggregated
	// bitmask in-process. Suited to nested or derived collections.
	StrategyMemory FilterStrategy = "memory"
)

// ResourceType is a row of the resource type lookup table.
type ResourceType struct {
	ID       int64
	Name     string
	Strategy FilterStrategy
}

// Grant is one (role, resourceType, resourceId) CRUD bitmask row.
// ResourceID permission.AllResources marks a wildcard grant covering every
// resource of the type.
type Grant struct {
	RoleID         int64
	ResourceTypeID int64
	ResourceID     int64
	Mask           permission.Bitmask
}

// Item is a collection element as it will be serialized to the client. The
// filter annotates surviving items with a "crud" field.
type Item = map[string]any

// CrudField is the annotation key attached to filtered items.
const CrudField = "crud"

// ChildrenField names the nested collection the memory filter recurses into.
const ChildrenField = "children"
