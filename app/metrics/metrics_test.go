package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRefresh(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordRefresh(true, 3, 200*time.Millisecond)
	m.RecordRefresh(true, 0, 100*time.Millisecond)
	m.RecordRefresh(false, 0, time.Second)

	if got := testutil.ToFloat64(m.refreshTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("Expected 2 successful refreshes, got %v", got)
	}
	if got := testutil.ToFloat64(m.refreshTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("Expected 1 failed refresh, got %v", got)
	}
	if got := testutil.ToFloat64(m.newArticlesTotal); got != 3 {
		t.Errorf("Expected 3 new articles, got %v", got)
	}
}

func TestCyclesAndBreaker(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordCycle(CycleFailed)
	m.RecordCycle(CycleFailed)
	m.RecordCycle(CycleCompleted)
	m.SetBreaker(true, 3)

	if got := testutil.ToFloat64(m.cyclesTotal.WithLabelValues(CycleFailed)); got != 2 {
		t.Errorf("Expected 2 failed cycles, got %v", got)
	}
	if got := testutil.ToFloat64(m.breakerOpen); got != 1 {
		t.Errorf("Expected breaker gauge 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.consecutiveFailures); got != 3 {
		t.Errorf("Expected 3 consecutive failures, got %v", got)
	}

	m.SetBreaker(false, 0)
	if got := testutil.ToFloat64(m.breakerOpen); got != 0 {
		t.Errorf("Expected breaker gauge 0, got %v", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	m.RecordRefresh(true, 1, time.Second)
	m.RecordCycle(CycleCompleted)
	m.SetBreaker(true, 3)
	m.RecordRuleExecution(false)
}
