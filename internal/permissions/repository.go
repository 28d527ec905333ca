package permissions

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-cms/meridian/internal/dataaccess"
	"github.com/meridian-cms/meridian/internal/permission"
	"github.com/meridian-cms/meridian/internal/platform/db"
	"github.com/meridian-cms/meridian/internal/shared"
)

// Tx is the grant write surface available inside a reconciliation
// transaction.
type Tx interface {
	GrantsForRole(ctx context.Context, roleID int64) ([]dataaccess.Grant, error)
	InsertGrant(ctx context.Context, g dataaccess.Grant) error
	UpdateGrantMask(ctx context.Context, roleID, typeID, resourceID int64, mask permission.Bitmask) error
	DeleteGrant(ctx context.Context, roleID, typeID, resourceID int64) error
	LogChange(ctx context.Context, ch Change) error
}

// Repository persists resource grants and their change log.
type Repository interface {
	ResourceTypeIDByName(ctx context.Context, name string) (int64, error)
	RoleExists(ctx context.Context, roleID int64) (bool, error)
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Changes(ctx context.Context, roleID int64, limit int) ([]Change, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) ResourceTypeIDByName(ctx context.Context, name string) (int64, error) {
	const q = `SELECT id FROM resource_types WHERE name = $1`

	var id int64
	if err := r.pool.QueryRow(ctx, q, name).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("resource type %q: %w", name, shared.ErrNotFound)
		}
		return 0, fmt.Errorf("permissions: resource type %q: %w", name, err)
	}
	return id, nil
}

func (r *PGRepository) RoleExists(ctx context.Context, roleID int64) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, q, roleID).Scan(&exists); err != nil {
		return false, fmt.Errorf("permissions: role exists: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

func (r *PGRepository) Changes(ctx context.Context, roleID int64, limit int) ([]Change, error) {
	const q = `
		SELECT id, role_id, resource_type_id, resource_id, op, old_mask, new_mask, changed_at
		FROM permission_changes
		WHERE role_id = $1
		ORDER BY changed_at DESC, id DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, q, roleID, limit)
	if err != nil {
		return nil, fmt.Errorf("permissions: list changes: %w", err)
	}
	defer rows.Close()

	var out []Change
	for rows.Next() {
		var (
			ch               Change
			oldMask, newMask int
		)
		if err := rows.Scan(&ch.ID, &ch.RoleID, &ch.ResourceTypeID, &ch.ResourceID, &ch.Op, &oldMask, &newMask, &ch.ChangedAt); err != nil {
			return nil, fmt.Errorf("permissions: scan change: %w", err)
		}
		ch.OldMask = permission.Bitmask(oldMask)
		ch.NewMask = permission.Bitmask(newMask)
		out = append(out, ch)
	}
	return out, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GrantsForRole(ctx context.Context, roleID int64) ([]dataaccess.Grant, error) {
	const q = `
		SELECT role_id, resource_type_id, resource_id, crud_mask
		FROM resource_grants
		WHERE role_id = $1
		FOR UPDATE`

	rows, err := t.tx.Query(ctx, q, roleID)
	if err != nil {
		return nil, fmt.Errorf("permissions: grants for role: %w", err)
	}
	defer rows.Close()

	var out []dataaccess.Grant
	for rows.Next() {
		var (
			g    dataaccess.Grant
			mask int
		)
		if err := rows.Scan(&g.RoleID, &g.ResourceTypeID, &g.ResourceID, &mask); err != nil {
			return nil, fmt.Errorf("permissions: scan grant: %w", err)
		}
		g.Mask = permission.Bitmask(mask)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertGrant(ctx context.Context, g dataaccess.Grant) error {
	const q = `
		INSERT INTO resource_grants (role_id, resource_type_id, resource_id, crud_mask)
		VALUES ($1, $2, $3, $4)`

	if _, err := t.tx.Exec(ctx, q, g.RoleID, g.ResourceTypeID, g.ResourceID, int(g.Mask)); err != nil {
		return fmt.Errorf("permissions: insert grant: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateGrantMask(ctx context.Context, roleID, typeID, resourceID int64, mask permission.Bitmask) error {
	const q = `
		UPDATE resource_grants
		SET crud_mask = $4
		WHERE role_id = $1 AND resource_type_id = $2 AND resource_id = $3`

	if _, err := t.tx.Exec(ctx, q, roleID, typeID, resourceID, int(mask)); err != nil {
		return fmt.Errorf("permissions: update grant: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteGrant(ctx context.Context, roleID, typeID, resourceID int64) error {
	const q = `
		DELETE FROM resource_grants
		WHERE role_id = $1 AND resource_type_id = $2 AND resource_id = $3`

	if _, err := t.tx.Exec(ctx, q, roleID, typeID, resourceID); err != nil {
		return fmt.Errorf("permissions: delete grant: %w", err)
	}
	return nil
}

func (t *pgTx) LogChange(ctx context.Context, ch Change) error {
	const q = `
		INSERT INTO permission_changes (role_id, resource_type_id, resource_id, op, old_mask, new_mask, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := t.tx.Exec(ctx, q, ch.RoleID, ch.ResourceTypeID, ch.ResourceID, ch.Op, int(ch.OldMask), int(ch.NewMask), ch.ChangedAt); err != nil {
		return fmt.Errorf("permissions: log change: %w", err)
	}
	return nil
}
