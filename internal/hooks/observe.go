package hooks

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects runtime counters and timings from the hook bus.
//
// Tracked series:
//   - tool executions by tool and status, with latency histogram
//   - completed runs by status, with duration histogram
//   - streamed response chunks
type Metrics struct {
	ToolExecutions *prometheus.CounterVec
	ToolDuration   *prometheus.HistogramVec
	RunsCompleted  *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	StreamChunks   prometheus.Counter
}

// NewMetrics registers the runtime metric series on reg. Passing nil uses
// the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crewline_tool_executions_total",
			Help: "Tool executions by tool id and status.",
		}, []string{"tool", "status"}),
		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crewline_tool_duration_seconds",
			Help:    "Tool execution latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),
		RunsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crewline_runs_total",
			Help: "Agent runs by terminal status.",
		}, []string{"status"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "crewline_run_duration_seconds",
			Help:    "End-to-end agent run duration.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		StreamChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "crewline_response_chunks_total",
			Help: "Streamed response chunks.",
		}),
	}
}

// Attach subscribes the metrics collector to a bus.
func (m *Metrics) Attach(bus *Bus) []string {
	ids := []string{
		bus.Subscribe(TopicToolAfter, m.onToolAfter, WithName("observability")),
		bus.Subscribe(TopicResponseStream, m.onStream, WithName("observability")),
		bus.Subscribe(TopicRunEnd, m.onRunEnd, WithName("observability")),
	}
	return ids
}

func (m *Metrics) onToolAfter(_ context.Context, event *Event) error {
	status := "success"
	if event.Result == nil || !event.Result.OK {
		status = "error"
	}
	m.ToolExecutions.WithLabelValues(event.ToolID, status).Inc()
	m.ToolDuration.WithLabelValues(event.ToolID).Observe(event.Duration.Seconds())
	return nil
}

func (m *Metrics) onStream(context.Context, *Event) error {
	m.StreamChunks.Inc()
	return nil
}

func (m *Metrics) onRunEnd(_ context.Context, event *Event) error {
	m.RunsCompleted.WithLabelValues(event.Status).Inc()
	m.RunDuration.Observe(event.Duration.Seconds())
	return nil
}
