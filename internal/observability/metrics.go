package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the run engine, queue, model
// client, and tool dispatcher.
type Metrics struct {
	// Run lifecycle
	RunsStarted   *prometheus.CounterVec
	RunsCompleted *prometheus.CounterVec
	RunsFailed    *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	RunsExpired   prometheus.Counter

	// Queue
	QueueDepth    prometheus.Gauge
	LeaseRenewals prometheus.Counter
	Redeliveries  prometheus.Counter

	// Model client
	ModelRequests prometheus.CounterVec
	ModelLatency  *prometheus.HistogramVec
	ModelRetries  prometheus.Counter

	// Tool execution
	ToolExecutions *prometheus.CounterVec
	ToolLatency    *prometheus.HistogramVec

	// API surface
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// NewMetrics registers the collectors on the given registerer. Pass nil to
// use the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistantd_runs_started_total",
			Help: "Runs claimed from the queue and started processing.",
		}, []string{"model"}),
		RunsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistantd_runs_completed_total",
			Help: "Runs that reached the completed state.",
		}, []string{"model"}),
		RunsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistantd_runs_failed_total",
			Help: "Runs that reached the failed state, by error kind.",
		}, []string{"kind"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assistantd_run_duration_seconds",
			Help:    "Wall-clock processing time per run, by terminal status.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"status"}),
		RunsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "assistantd_runs_expired_total",
			Help: "Runs moved to expired by the sweeper or a worker checkpoint.",
		}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "assistantd_queue_depth",
			Help: "Runs waiting in the queue.",
		}),
		LeaseRenewals: factory.NewCounter(prometheus.CounterOpts{
			Name: "assistantd_queue_lease_renewals_total",
			Help: "Successful lease renewals by workers.",
		}),
		Redeliveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "assistantd_queue_redeliveries_total",
			Help: "Items reclaimed after a lease expired.",
		}),

		ModelRequests: *factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistantd_model_requests_total",
			Help: "Model completion requests, by model and outcome.",
		}, []string{"model", "outcome"}),
		ModelLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assistantd_model_request_duration_seconds",
			Help:    "Model completion request latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"model"}),
		ModelRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "assistantd_model_retries_total",
			Help: "Model requests retried after a transient failure.",
		}),

		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistantd_tool_executions_total",
			Help: "Tool executions, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ToolLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assistantd_tool_duration_seconds",
			Help:    "Tool execution latency, by kind.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"kind"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assistantd_http_requests_total",
			Help: "HTTP requests, by route and status class.",
		}, []string{"route", "status"}),
		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assistantd_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// RecordRunStarted increments the started counter for a model.
func (m *Metrics) RecordRunStarted(model string) {
	m.RunsStarted.WithLabelValues(model).Inc()
}

// RecordRunCompleted records a completed run and its duration.
func (m *Metrics) RecordRunCompleted(model string, elapsed time.Duration) {
	m.RunsCompleted.WithLabelValues(model).Inc()
	m.RunDuration.WithLabelValues("completed").Observe(elapsed.Seconds())
}

// RecordRunFailed records a failed run by error kind.
func (m *Metrics) RecordRunFailed(kind string, elapsed time.Duration) {
	m.RunsFailed.WithLabelValues(kind).Inc()
	m.RunDuration.WithLabelValues("failed").Observe(elapsed.Seconds())
}

// RecordModelRequest records one model completion attempt.
func (m *Metrics) RecordModelRequest(model, outcome string, elapsed time.Duration) {
	m.ModelRequests.WithLabelValues(model, outcome).Inc()
	m.ModelLatency.WithLabelValues(model).Observe(elapsed.Seconds())
}

// RecordToolExecution records one tool execution.
func (m *Metrics) RecordToolExecution(kind, outcome string, elapsed time.Duration) {
	m.ToolExecutions.WithLabelValues(kind, outcome).Inc()
	m.ToolLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// RecordHTTPRequest records one API request.
func (m *Metrics) RecordHTTPRequest(route, status string, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(route, status).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}
