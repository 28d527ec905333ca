package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridian-cms/meridian/internal/shared"
)

// writeTimeout bounds the isolated audit transaction so a wedged database
// cannot hang the request that triggered the decision.
const writeTimeout = 5 * time.Second

// Enqueuer hands a failed record to a best-effort side channel for replay.
type Enqueuer interface {
	EnqueueReplay(ctx context.Context, rec Record) error
}

// Logger records permission decisions. Record never returns an error: audit
// failure must not flip or block a decision that has already been made.
type Logger struct {
	store    Store
	logger   *slog.Logger
	enqueuer Enqueuer
	now      func() time.Time
}

// NewLogger constructs a decision logger. enqueuer may be nil, in which case
// failed writes degrade to structured log output only.
func NewLogger(store Store, logger *slog.Logger, enqueuer Enqueuer) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{store: store, logger: logger, enqueuer: enqueuer, now: time.Now}
}

// Record persists one decision. A principal without a durable identity
// (id <= 0) yields a no-op, there is nothing to attribute the record to.
// The write runs detached from the caller's cancellation so an aborted
// request still leaves its decision on file.
func (l *Logger) Record(ctx context.Context, rec Record) {
	if l == nil || l.store == nil {
		return
	}
	if rec.PrincipalID <= 0 {
		return
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = l.now().UTC()
	}
	if meta := shared.RequestMetaFromContext(ctx); meta != nil {
		if rec.HTTPMethod == "" {
			rec.HTTPMethod = meta.Method
		}
		if rec.RequestURI == "" {
			rec.RequestURI = meta.URI
		}
		if rec.IP == "" {
			rec.IP = meta.IP
		}
		if rec.UserAgent == "" {
			rec.UserAgent = meta.UserAgent
		}
		if rec.BodySHA256 == "" {
			rec.BodySHA256 = meta.BodySHA256
		}
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	err := l.store.InsertDecision(writeCtx, rec)
	if err == nil {
		return
	}
	l.logger.Error("audit decision write failed",
		slog.Int64("principal", rec.PrincipalID),
		slog.String("resource_type", rec.ResourceType),
		slog.Int64("resource_id", rec.ResourceID),
		slog.String("result", string(rec.Result)),
		slog.Any("error", err))

	if l.enqueuer == nil {
		return
	}
	if err := l.enqueuer.EnqueueReplay(writeCtx, rec); err != nil {
		l.logger.Error("audit replay enqueue failed", slog.Any("error", err))
	}
}
