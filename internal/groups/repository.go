package groups

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-cms/meridian/internal/acl"
	"github.com/meridian-cms/meridian/internal/shared"
)

// Repository persists groups, memberships, and their ACL rules.
type Repository interface {
	Group(ctx context.Context, id int64) (*Group, error)
	Groups(ctx context.Context) ([]Group, error)
	Insert(ctx context.Context, g Group) (int64, error)
	Delete(ctx context.Context, id int64) error

	Members(ctx context.Context, groupID int64) ([]Member, error)
	AddMember(ctx context.Context, groupID, userID int64) error
	RemoveMember(ctx context.Context, groupID, userID int64) error

	Rules(ctx context.Context, groupID int64) ([]acl.Rule, error)
	UpsertRule(ctx context.Context, rule acl.Rule) error
	DeleteRule(ctx context.Context, groupID, pageID int64) error
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Group(ctx context.Context, id int64) (*Group, error) {
	const q = `SELECT id, name, description, created_at FROM groups WHERE id = $1`

	var g Group
	err := r.pool.QueryRow(ctx, q, id).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("groups: get: %w", err)
	}
	return &g, nil
}

func (r *PGRepository) Groups(ctx context.Context) ([]Group, error) {
	const q = `SELECT id, name, description, created_at FROM groups ORDER BY name`

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("groups: list: %w", err)
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("groups: scan: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *PGRepository) Insert(ctx context.Context, g Group) (int64, error) {
	const q = `INSERT INTO groups (name, description, created_at) VALUES ($1, $2, $3) RETURNING id`

	var id int64
	if err := r.pool.QueryRow(ctx, q, g.Name, g.Description, g.CreatedAt).Scan(&id); err != nil {
		return 0, fmt.Errorf("groups: insert: %w", err)
	}
	return id, nil
}

func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("groups: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *PGRepository) Members(ctx context.Context, groupID int64) ([]Member, error) {
	const q = `SELECT user_id, group_id, added_at FROM group_members WHERE group_id = $1 ORDER BY added_at`

	rows, err := r.pool.Query(ctx, q, groupID)
	if err != nil {
		return nil, fmt.Errorf("groups: members: %w", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.GroupID, &m.AddedAt); err != nil {
			return nil, fmt.Errorf("groups: scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PGRepository) AddMember(ctx context.Context, groupID, userID int64) error {
	const q = `
		INSERT INTO group_members (group_id, user_id, added_at)
		VALUES ($1, $2, now())
		ON CONFLICT (group_id, user_id) DO NOTHING`

	if _, err := r.pool.Exec(ctx, q, groupID, userID); err != nil {
		return fmt.Errorf("groups: add member: %w", err)
	}
	return nil
}

func (r *PGRepository) RemoveMember(ctx context.Context, groupID, userID int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return fmt.Errorf("groups: remove member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("membership (%d, %d): %w", groupID, userID, shared.ErrNotFound)
	}
	return nil
}

func (r *PGRepository) Rules(ctx context.Context, groupID int64) ([]acl.Rule, error) {
	const q = `
		SELECT group_id, page_id, can_select, can_insert, can_update, can_delete
		FROM acl_rules
		WHERE group_id = $1
		ORDER BY page_id`

	rows, err := r.pool.Query(ctx, q, groupID)
	if err != nil {
		return nil, fmt.Errorf("groups: rules: %w", err)
	}
	defer rows.Close()

	var out []acl.Rule
	for rows.Next() {
		var rule acl.Rule
		if err := rows.Scan(&rule.GroupID, &rule.PageID, &rule.Select, &rule.Insert, &rule.Update, &rule.Delete); err != nil {
			return nil, fmt.Errorf("groups: scan rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *PGRepository) UpsertRule(ctx context.Context, rule acl.Rule) error {
	const q = `
		INSERT INTO acl_rules (group_id, page_id, can_select, can_insert, can_update, can_delete)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (group_id, page_id) DO UPDATE
		SET can_select = EXCLUDED.can_select,
		    can_insert = EXCLUDED.can_insert,
		    can_update = EXCLUDED.can_update,
		    can_delete = EXCLUDED.can_delete`

	if _, err := r.pool.Exec(ctx, q, rule.GroupID, rule.PageID, rule.Select, rule.Insert, rule.Update, rule.Delete); err != nil {
		return fmt.Errorf("groups: upsert rule: %w", err)
	}
	return nil
}

func (r *PGRepository) DeleteRule(ctx context.Context, groupID, pageID int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM acl_rules WHERE group_id = $1 AND page_id = $2`, groupID, pageID)
	if err != nil {
		return fmt.Errorf("groups: delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule (%d, %d): %w", groupID, pageID, shared.ErrNotFound)
	}
	return nil
}
