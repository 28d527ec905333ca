package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/meridian-cms/meridian/internal/audit"
)

type captureStore struct {
	records []audit.Record
	err     error
}

func (s *captureStore) InsertDecision(_ context.Context, rec audit.Record) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *captureStore) TimelineWindow(context.Context, audit.TimelineFilters, int, int) ([]audit.Record, error) {
	return nil, nil
}

func (s *captureStore) TimelineAll(context.Context, audit.TimelineFilters) ([]audit.Record, error) {
	return nil, nil
}

func TestAuditReplayHandlerInserts(t *testing.T) {
	store := &captureStore{}
	handler := AuditReplayHandler(store, slog.Default(), nil)

	task, err := NewAuditReplayTask(audit.Record{
		PrincipalID:  7,
		ResourceType: "pages",
		ResourceID:   3,
		Action:       "update",
		Result:       audit.ResultDenied,
	})
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), task))
	require.Len(t, store.records, 1)
	require.Equal(t, int64(7), store.records[0].PrincipalID)
	require.Equal(t, audit.ResultDenied, store.records[0].Result)
}

func TestAuditReplayHandlerSkipsBadPayload(t *testing.T) {
	store := &captureStore{}
	handler := AuditReplayHandler(store, slog.Default(), nil)

	err := handler(context.Background(), asynq.NewTask(TaskAuditReplay, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, store.records)
}

func TestAuditReplayHandlerPropagatesStoreError(t *testing.T) {
	store := &captureStore{err: errors.New("connection refused")}
	handler := AuditReplayHandler(store, slog.Default(), nil)

	task, err := NewAuditReplayTask(audit.Record{PrincipalID: 1})
	require.NoError(t, err)
	require.Error(t, handler(context.Background(), task))
}
