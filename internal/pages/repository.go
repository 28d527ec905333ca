package pages

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-cms/meridian/internal/shared"
)

// Repository persists the content tree.
type Repository interface {
	Page(ctx context.Context, id int64) (*Page, error)
	PageBySlug(ctx context.Context, slug string) (*Page, error)
	Pages(ctx context.Context) ([]Page, error)
	SlugTaken(ctx context.Context, slug string, excludeID int64) (bool, error)
	Insert(ctx context.Context, p Page) (int64, error)
	Update(ctx context.Context, p Page) error
	Delete(ctx context.Context, id int64) error
	HasChildren(ctx context.Context, id int64) (bool, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const pageColumns = `id, parent_id, slug, title, body, open_access, sort_order, created_by, created_at, updated_at`

func (r *PGRepository) Page(ctx context.Context, id int64) (*Page, error) {
	q := `SELECT ` + pageColumns + ` FROM pages WHERE id = $1 AND deleted_at IS NULL`
	return r.scanOne(r.pool.QueryRow(ctx, q, id))
}

func (r *PGRepository) PageBySlug(ctx context.Context, slug string) (*Page, error) {
	q := `SELECT ` + pageColumns + ` FROM pages WHERE slug = $1 AND deleted_at IS NULL`
	return r.scanOne(r.pool.QueryRow(ctx, q, slug))
}

func (r *PGRepository) Pages(ctx context.Context) ([]Page, error) {
	q := `SELECT ` + pageColumns + ` FROM pages WHERE deleted_at IS NULL ORDER BY sort_order, id`

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("pages: list: %w", err)
	}
	defer rows.Close()

	var out []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.ID, &p.ParentID, &p.Slug, &p.Title, &p.Body, &p.OpenAccess, &p.SortOrder, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pages: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PGRepository) SlugTaken(ctx context.Context, slug string, excludeID int64) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM pages WHERE slug = $1 AND id <> $2 AND deleted_at IS NULL)`

	var taken bool
	if err := r.pool.QueryRow(ctx, q, slug, excludeID).Scan(&taken); err != nil {
		return false, fmt.Errorf("pages: slug taken: %w", err)
	}
	return taken, nil
}

func (r *PGRepository) Insert(ctx context.Context, p Page) (int64, error) {
	const q = `
		INSERT INTO pages (parent_id, slug, title, body, open_access, sort_order, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id`

	var id int64
	if err := r.pool.QueryRow(ctx, q, p.ParentID, p.Slug, p.Title, p.Body, p.OpenAccess, p.SortOrder, p.CreatedBy, p.CreatedAt).Scan(&id); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrSlugTaken
		}
		return 0, fmt.Errorf("pages: insert: %w", err)
	}
	return id, nil
}

func (r *PGRepository) Update(ctx context.Context, p Page) error {
	const q = `
		UPDATE pages
		SET parent_id = $2, slug = $3, title = $4, body = $5, open_access = $6, sort_order = $7, updated_at = $8
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.pool.Exec(ctx, q, p.ID, p.ParentID, p.Slug, p.Title, p.Body, p.OpenAccess, p.SortOrder, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pages: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("page %d: %w", p.ID, shared.ErrNotFound)
	}
	return nil
}

func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	const q = `UPDATE pages SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("pages: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("page %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *PGRepository) HasChildren(ctx context.Context, id int64) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM pages WHERE parent_id = $1 AND deleted_at IS NULL)`

	var has bool
	if err := r.pool.QueryRow(ctx, q, id).Scan(&has); err != nil {
		return false, fmt.Errorf("pages: has children: %w", err)
	}
	return has, nil
}

func (r *PGRepository) scanOne(row pgx.Row) (*Page, error) {
	var p Page
	err := row.Scan(&p.ID, &p.ParentID, &p.Slug, &p.Title, &p.Body, &p.OpenAccess, &p.SortOrder, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("pages: get: %w", err)
	}
	return &p, nil
}
