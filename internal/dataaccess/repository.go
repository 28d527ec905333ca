package dataaccess

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-cms/meridian/internal/permission"
	"github.com/meridian-cms/meridian/internal/shared"
)

// Repository provides the lookups and joins the resolver builds on.
type Repository interface {
	RoleIDsForUser(ctx context.Context, userID int64) ([]int64, error)
	UserHasRole(ctx context.Context, userID int64, roleName string) (bool, error)
	ResourceTypeByName(ctx context.Context, name string) (ResourceType, error)
	// GrantMask aggregates the OR of every grant the roles hold on the
	// given resource ids of one type.
	GrantMask(ctx context.Context, roleIDs []int64, resourceTypeID int64, resourceIDs []int64) (permission.Bitmask, error)
	// MasksForType returns the per-resource aggregate for every granted id,
	// keyed by resource id. The wildcard id maps to permission.AllResources.
	MasksForType(ctx context.Context, roleIDs []int64, resourceTypeID int64) (map[int64]permission.Bitmask, error)
	// AuthorizedResources performs the SQL-joined filter: only rows with a
	// READ grant come back, each carrying its aggregate in CrudField.
	AuthorizedResources(ctx context.Context, roleIDs []int64, rt ResourceType) ([]Item, error)
	// AllResources fetches every row of the type with the given mask
	// attached, used for the admin override path.
	AllResources(ctx context.Context, rt ResourceType, mask permission.Bitmask) ([]Item, error)
}

// sqlFilterTables whitelists the base table per SQL-strategy resource type.
// A type missing here silently degrades to the in-memory strategy.
var sqlFilterTables = map[string]string{
	"pages": "pages",
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// RoleIDsForUser returns ids of every role the user holds.
func (r *PGRepository) RoleIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT role_id FROM user_roles WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UserHasRole reports whether the user holds the named role.
func (r *PGRepository) UserHasRole(ctx context.Context, userID int64, roleName string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_roles ur
			JOIN roles ro ON ro.id = ur.role_id
			WHERE ur.user_id = $1 AND ro.name = $2
		)`, userID, roleName).Scan(&exists)
	return exists, err
}

// ResourceTypeByName resolves a type name against the lookup table.
func (r *PGRepository) ResourceTypeByName(ctx context.Context, name string) (ResourceType, error) {
	var rt ResourceType
	var strategy string
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, filter_strategy FROM resource_types WHERE name = $1`, name).
		Scan(&rt.ID, &rt.Name, &strategy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ResourceType{}, shared.ErrNotFound
		}
		return ResourceType{}, err
	}
	rt.Strategy = FilterStrategy(strategy)
	return rt, nil
}

// GrantMask aggregates grants held by roles on the given resource ids.
func (r *PGRepository) GrantMask(ctx context.Context, roleIDs []int64, resourceTypeID int64, resourceIDs []int64) (permission.Bitmask, error) {
	if len(roleIDs) == 0 || len(resourceIDs) == 0 {
		return permission.None, nil
	}
	var mask int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(BIT_OR(crud_mask), 0)
		FROM resource_grants
		WHERE role_id = ANY($1) AND resource_type_id = $2 AND resource_id = ANY($3)`,
		roleIDs, resourceTypeID, resourceIDs).Scan(&mask)
	if err != nil {
		return permission.None, err
	}
	return permission.FromInt(mask)
}

// MasksForType returns the aggregated mask per granted resource id.
func (r *PGRepository) MasksForType(ctx context.Context, roleIDs []int64, resourceTypeID int64) (map[int64]permission.Bitmask, error) {
	masks := make(map[int64]permission.Bitmask)
	if len(roleIDs) == 0 {
		return masks, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT resource_id, BIT_OR(crud_mask)
		FROM resource_grants
		WHERE role_id = ANY($1) AND resource_type_id = $2
		GROUP BY resource_id`, roleIDs, resourceTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var raw int
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		mask, err := permission.FromInt(raw)
		if err != nil {
			return nil, err
		}
		masks[id] = mask
	}
	return masks, rows.Err()
}

// AuthorizedResources joins the base table against resource_grants so only
// READ-granted rows are materialized, each annotated with its aggregate.
func (r *PGRepository) AuthorizedResources(ctx context.Context, roleIDs []int64, rt ResourceType) ([]Item, error) {
	table, ok := sqlFilterTables[rt.Name]
	if !ok {
		return nil, fmt.Errorf("dataaccess: resource type %q has no sql filter table", rt.Name)
	}
	if len(roleIDs) == 0 {
		return []Item{}, nil
	}
	query := fmt.Sprintf(`
		SELECT t.id, t.title, t.slug, BIT_OR(g.crud_mask) AS crud
		FROM %s t
		JOIN resource_grants g
		  ON g.resource_type_id = $1
		 AND (g.resource_id = t.id OR g.resource_id = 0)
		 AND g.role_id = ANY($2)
		GROUP BY t.id, t.title, t.slug
		HAVING BIT_OR(g.crud_mask) & $3 = $3
		ORDER BY t.id`, table)
	rows, err := r.pool.Query(ctx, query, rt.ID, roleIDs, permission.Read.Int())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// AllResources fetches every row with a fixed mask, for admin callers.
func (r *PGRepository) AllResources(ctx context.Context, rt ResourceType, mask permission.Bitmask) ([]Item, error) {
	table, ok := sqlFilterTables[rt.Name]
	if !ok {
		return nil, fmt.Errorf("dataaccess: resource type %q has no sql filter table", rt.Name)
	}
	query := fmt.Sprintf(`SELECT id, title, slug, $1::int AS crud FROM %s ORDER BY id`, table)
	rows, err := r.pool.Query(ctx, query, mask.Int())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func scanItems(rows pgx.Rows) ([]Item, error) {
	items := []Item{}
	for rows.Next() {
		var id int64
		var title, slug string
		var crud int
		if err := rows.Scan(&id, &title, &slug, &crud); err != nil {
			return nil, err
		}
		items = append(items, Item{"id": id, "title": title, "slug": slug, CrudField: crud})
	}
	return items, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
