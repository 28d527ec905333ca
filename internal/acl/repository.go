package acl

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-cms/meridian/internal/shared"
)

// Repository provides the lookups the resolver aggregates over.
type Repository interface {
	GroupsForUser(ctx context.Context, userID int64) ([]int64, error)
	RulesForPage(ctx context.Context, groupIDs []int64, pageID int64) ([]Rule, error)
	PageOpenAccess(ctx context.Context, pageID int64) (bool, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// GroupsForUser returns ids of every group the user belongs to.
func (r *PGRepository) GroupsForUser(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT group_id FROM group_members WHERE user_id = $1`, userID)
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

// RulesForPage fetches every ACL rule on the page held by the given groups.
func (r *PGRepository) RulesForPage(ctx context.Context, groupIDs []int64, pageID int64) ([]Rule, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT group_id, page_id, can_select, can_insert, can_update, can_delete
		FROM acl_rules
		WHERE page_id = $1 AND group_id = ANY($2)`, pageID, groupIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []Rule
	for rows.Next() {
		var rule Rule
		if err := rows.Scan(&rule.GroupID, &rule.PageID, &rule.Select, &rule.Insert, &rule.Update, &rule.Delete); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// PageOpenAccess reads the page's open-access flag.
func (r *PGRepository) PageOpenAccess(ctx context.Context, pageID int64) (bool, error) {
	var open bool
	err := r.pool.QueryRow(ctx, `SELECT open_access FROM pages WHERE id = $1`, pageID).Scan(&open)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, shared.ErrNotFound
		}
		return false, err
	}
	return open, nil
}

var _ Repository = (*PGRepository)(nil)
