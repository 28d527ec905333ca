package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-cms/meridian/internal/platform/db"
	"github.com/meridian-cms/meridian/internal/shared"
)

// Repository persists roles and the capability names attached to them.
type Repository interface {
	Role(ctx context.Context, id int64) (*Role, error)
	Roles(ctx context.Context) ([]Role, error)
	NameTaken(ctx context.Context, name string) (bool, error)
	Insert(ctx context.Context, role Role) (int64, error)
	Delete(ctx context.Context, id int64) error

	Capabilities(ctx context.Context, roleID int64) ([]string, error)
	ReplaceCapabilities(ctx context.Context, roleID int64, names []string) error
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Role(ctx context.Context, id int64) (*Role, error) {
	const q = `SELECT id, name, description, created_at, updated_at FROM roles WHERE id = $1`

	var role Role
	err := r.pool.QueryRow(ctx, q, id).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("roles: get: %w", err)
	}
	return &role, nil
}

func (r *PGRepository) Roles(ctx context.Context) ([]Role, error) {
	const q = `SELECT id, name, description, created_at, updated_at FROM roles ORDER BY name`

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("roles: scan: %w", err)
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (r *PGRepository) NameTaken(ctx context.Context, name string) (bool, error) {
	var taken bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM roles WHERE lower(name) = lower($1))`, name).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("roles: name taken: %w", err)
	}
	return taken, nil
}

func (r *PGRepository) Insert(ctx context.Context, role Role) (int64, error) {
	const q = `
		INSERT INTO roles (name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING id`

	var id int64
	if err := r.pool.QueryRow(ctx, q, role.Name, role.Description, role.CreatedAt).Scan(&id); err != nil {
		return 0, fmt.Errorf("roles: insert: %w", err)
	}
	return id, nil
}

func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("roles: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("role %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *PGRepository) Capabilities(ctx context.Context, roleID int64) ([]string, error) {
	const q = `
		SELECT p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.name`

	rows, err := r.pool.Query(ctx, q, roleID)
	if err != nil {
		return nil, fmt.Errorf("roles: capabilities: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("roles: scan capability: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ReplaceCapabilities swaps the role's capability set in one transaction,
// creating capability rows for names seen for the first time.
func (r *PGRepository) ReplaceCapabilities(ctx context.Context, roleID int64, names []string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("roles: clear capabilities: %w", err)
		}
		for _, name := range names {
			var permID int64
			err := tx.QueryRow(ctx, `
				INSERT INTO permissions (name)
				VALUES ($1)
				ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
				RETURNING id`, name).Scan(&permID)
			if err != nil {
				return fmt.Errorf("roles: upsert capability %q: %w", name, err)
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO role_permissions (role_id, permission_id)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING`, roleID, permID); err != nil {
				return fmt.Errorf("roles: attach capability %q: %w", name, err)
			}
		}
		return nil
	})
}
