package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := New(reg)

	rec.AdvisoryFailure("lineage")
	rec.AdvisoryFailure("lineage")
	rec.Reconciliation("upgraded")
	rec.BulkItems(3, 2)

	if got := testutil.ToFloat64(rec.advisoryFailures.WithLabelValues("lineage")); got != 2 {
		t.Fatalf("expected 2 lineage failures, got %v", got)
	}
	if got := testutil.ToFloat64(rec.reconciliations.WithLabelValues("upgraded")); got != 1 {
		t.Fatalf("expected 1 upgraded reconciliation, got %v", got)
	}
	if got := testutil.ToFloat64(rec.bulkItems.WithLabelValues("failed")); got != 2 {
		t.Fatalf("expected 2 failed bulk items, got %v", got)
	}
}

func TestNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := New(reg)
	second := New(reg)

	first.Compensation("failed")
	second.Compensation("failed")

	if got := testutil.ToFloat64(first.compensations.WithLabelValues("failed")); got != 2 {
		t.Fatalf("expected shared counter to reach 2, got %v", got)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.AdvisoryFailure("policy")
	rec.Reconciliation("ambiguous")
	rec.Compensation("ok")
	rec.BulkItems(1, 1)
}
