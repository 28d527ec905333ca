package e2e

import (
	"context"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/meridian-cms/meridian/internal/audit"
	jobmetrics "github.com/meridian-cms/meridian/internal/jobs"
	"github.com/meridian-cms/meridian/jobs"
)

type stubAuditStore struct {
	records []audit.Record
	err     error
}

func (s *stubAuditStore) InsertDecision(_ context.Context, rec audit.Record) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *stubAuditStore) TimelineWindow(context.Context, audit.TimelineFilters, int, int) ([]audit.Record, error) {
	return nil, nil
}

func (s *stubAuditStore) TimelineAll(context.Context, audit.TimelineFilters) ([]audit.Record, error) {
	return nil, nil
}

func TestAuditReplayJobRecordsMetrics(t *testing.T) {
	store := &stubAuditStore{}
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	handler := jobs.AuditReplayHandler(store, slog.Default(), metrics)

	task, err := jobs.NewAuditReplayTask(audit.Record{
		PrincipalID:  42,
		ResourceType: "pages",
		ResourceID:   9,
		Action:       "delete",
		Result:       audit.ResultGranted,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if err := handler(context.Background(), task); err != nil {
		t.Fatalf("handle task: %v", err)
	}
	if len(store.records) != 1 {
		t.Fatalf("expected 1 replayed record, got %d", len(store.records))
	}
	if store.records[0].PrincipalID != 42 {
		t.Fatalf("expected principal 42, got %d", store.records[0].PrincipalID)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if !assertCounter(t, families, "meridian_jobs_total", map[string]string{"job": "audit_replay", "status": "success"}, 1) {
		t.Fatalf("expected meridian_jobs_total increment for audit replay")
	}
	if !metricExists(families, "meridian_job_duration_seconds") {
		t.Fatalf("expected meridian_job_duration_seconds to be recorded")
	}
}

func assertCounter(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string, expected float64) bool {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matchLabels(metric.GetLabel(), labels) {
				if metric.GetCounter() == nil {
					return false
				}
				if metric.GetCounter().GetValue() == expected {
					return true
				}
			}
		}
	}
	return false
}

func metricExists(families []*dto.MetricFamily, name string) bool {
	for _, fam := range families {
		if fam.GetName() == name {
			return true
		}
	}
	return false
}

func matchLabels(pairs []*dto.LabelPair, expected map[string]string) bool {
	if len(expected) == 0 {
		return true
	}
	seen := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		seen[pair.GetName()] = pair.GetValue()
	}
	for k, v := range expected {
		if seen[k] != v {
			return false
		}
	}
	return true
}
