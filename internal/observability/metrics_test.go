package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordRunLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordRunStarted("gpt-4o")
	m.RecordRunStarted("gpt-4o")
	m.RecordRunCompleted("gpt-4o", 2*time.Second)
	m.RecordRunFailed("server_error", time.Second)

	if got := testutil.ToFloat64(m.RunsStarted.WithLabelValues("gpt-4o")); got != 2 {
		t.Errorf("runs started = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RunsCompleted.WithLabelValues("gpt-4o")); got != 1 {
		t.Errorf("runs completed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RunsFailed.WithLabelValues("server_error")); got != 1 {
		t.Errorf("runs failed = %v, want 1", got)
	}
}

func TestMetricsQueueGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.QueueDepth.Set(5)
	m.LeaseRenewals.Inc()
	m.Redeliveries.Inc()
	m.Redeliveries.Inc()

	if got := testutil.ToFloat64(m.QueueDepth); got != 5 {
		t.Errorf("queue depth = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.Redeliveries); got != 2 {
		t.Errorf("redeliveries = %v, want 2", got)
	}
}

func TestMetricsToolExecution(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordToolExecution("retrieval", "ok", 50*time.Millisecond)
	m.RecordToolExecution("retrieval", "error", 10*time.Millisecond)

	if got := testutil.ToFloat64(m.ToolExecutions.WithLabelValues("retrieval", "ok")); got != 1 {
		t.Errorf("tool ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutions.WithLabelValues("retrieval", "error")); got != 1 {
		t.Errorf("tool error = %v, want 1", got)
	}
}
