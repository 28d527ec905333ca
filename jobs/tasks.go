package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-cms/meridian/internal/audit"
	jobmetrics "github.com/meridian-cms/meridian/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditReplay retries audit decision rows that failed their
	// synchronous insert.
	TaskAuditReplay = "audit:replay"
	// TaskAuditPrune trims decision rows past the retention window.
	TaskAuditPrune = "audit:prune"
)

// auditRetention is how long decision rows are kept before pruning.
const auditRetention = 180 * 24 * time.Hour

// NewAuditReplayTask wraps a decision record for deferred insertion.
func NewAuditReplayTask(rec audit.Record) (*asynq.Task, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditReplay, data, asynq.MaxRetry(10)), nil
}

// NewAuditPruneTask constructs the retention task for cron registration.
func NewAuditPruneTask() *asynq.Task {
	return asynq.NewTask(TaskAuditPrune, nil)
}

// AuditReplayHandler returns the handler that re-inserts failed decision
// records. Records are idempotent facts so a duplicate replay after a race
// with the original insert only adds a second identical row.
func AuditReplayHandler(store audit.Store, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("audit_replay")
		var rec audit.Record
		if err := json.Unmarshal(t.Payload(), &rec); err != nil {
			_ = tracker.End(err)
			return asynq.SkipRetry
		}
		if err := store.InsertDecision(ctx, rec); err != nil {
			logger.Warn("audit replay insert failed", slog.Any("error", err))
			return tracker.End(err)
		}
		return tracker.End(nil)
	}
}

// AuditPruneHandler returns the handler that deletes decision rows older
// than the retention window.
func AuditPruneHandler(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("audit_prune")
		cutoff := time.Now().Add(-auditRetention)
		tag, err := pool.Exec(ctx, `DELETE FROM audit_decisions WHERE occurred_at < $1`, cutoff)
		if err != nil {
			return tracker.End(err)
		}
		logger.Info("audit prune complete", slog.Int64("deleted", tag.RowsAffected()))
		return tracker.End(nil)
	}
}
