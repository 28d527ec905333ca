package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists decision records.
type Store interface {
	InsertDecision(ctx context.Context, rec Record) error
	TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Record, error)
	TimelineAll(ctx context.Context, filters TimelineFilters) ([]Record, error)
}

// PGStore implements Store on PostgreSQL. InsertDecision opens its own
// transaction on the pool, deliberately independent of any transaction the
// calling request may be running.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// InsertDecision appends one decision row in an isolated transaction.
func (s *PGStore) InsertDecision(ctx context.Context, rec Record) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("audit: begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_decisions
			(principal_id, resource_type, resource_id, action, bit, result,
			 note, http_method, request_uri, ip, user_agent, body_sha256, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.PrincipalID, rec.ResourceType, rec.ResourceID, rec.Action, rec.Bit,
		string(rec.Result), rec.Note, rec.HTTPMethod, rec.RequestURI, rec.IP,
		rec.UserAgent, rec.BodySHA256, rec.OccurredAt)
	if err != nil {
		return fmt.Errorf("audit: insert decision: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("audit: commit: %w", err)
	}
	return nil
}

const timelineColumns = `id, principal_id, resource_type, resource_id, action, bit, result,
	note, http_method, request_uri, ip, user_agent, body_sha256, occurred_at`

// TimelineWindow returns a page of decisions, newest first.
func (s *PGStore) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Record, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM audit_decisions
		WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
		  AND ($2::timestamptz IS NULL OR occurred_at <= $2)
		  AND ($3::bigint = 0 OR principal_id = $3)
		  AND ($4::text = '' OR resource_type = $4)
		  AND ($5::text = '' OR result = $5)
		ORDER BY occurred_at DESC, id DESC
		LIMIT $6 OFFSET $7`, timelineColumns)
	rows, err := s.pool.Query(ctx, query,
		nullableTime(filters.From), nullableTime(filters.To),
		filters.PrincipalID, filters.ResourceType, string(filters.Result),
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// TimelineAll returns every matching decision for export.
func (s *PGStore) TimelineAll(ctx context.Context, filters TimelineFilters) ([]Record, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM audit_decisions
		WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
		  AND ($2::timestamptz IS NULL OR occurred_at <= $2)
		  AND ($3::bigint = 0 OR principal_id = $3)
		  AND ($4::text = '' OR resource_type = $4)
		  AND ($5::text = '' OR result = $5)
		ORDER BY occurred_at DESC, id DESC`, timelineColumns)
	rows, err := s.pool.Query(ctx, query,
		nullableTime(filters.From), nullableTime(filters.To),
		filters.PrincipalID, filters.ResourceType, string(filters.Result))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var rec Record
		var result string
		if err := rows.Scan(&rec.ID, &rec.PrincipalID, &rec.ResourceType, &rec.ResourceID,
			&rec.Action, &rec.Bit, &result, &rec.Note, &rec.HTTPMethod, &rec.RequestURI,
			&rec.IP, &rec.UserAgent, &rec.BodySHA256, &rec.OccurredAt); err != nil {
			return nil, err
		}
		rec.Result = Result(result)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ Store = (*PGStore)(nil)
