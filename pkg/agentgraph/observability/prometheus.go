package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/event"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/rollback"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tool"
)

// PrometheusSubscriber exposes pipeline events as Prometheus metrics.
//
// Metrics (namespace "agentgraph"):
//   - events_total{kind}
//   - runs_total{status}
//   - node_duration_ms{node_id, status} (histogram)
//   - tool_calls_total{tool, status}
//   - tool_duration_ms{tool} (histogram)
//   - checkpoints_total{kind}
//   - rollback_steps_total{status}
//
// Expose with promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).
type PrometheusSubscriber struct {
	events        *prometheus.CounterVec
	runs          *prometheus.CounterVec
	nodeDuration  *prometheus.HistogramVec
	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	checkpoints   *prometheus.CounterVec
	rollbackSteps *prometheus.CounterVec
}

// NewPrometheusSubscriber registers the metrics on registry.
// A nil registry uses prometheus.DefaultRegisterer.
func NewPrometheusSubscriber(registry prometheus.Registerer) *PrometheusSubscriber {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)
	buckets := []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000} // 1ms to 10s

	return &PrometheusSubscriber{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "events_total",
			Help:      "Pipeline events by kind",
		}, []string{"kind"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "runs_total",
			Help:      "Finished agent runs by status",
		}, []string{"status"}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentgraph",
			Name:      "node_duration_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   buckets,
		}, []string{"node_id", "status"}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and status (success, failed, rejected)",
		}, []string{"tool", "status"}),
		toolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentgraph",
			Name:      "tool_duration_ms",
			Help:      "Tool call duration in milliseconds",
			Buckets:   buckets,
		}, []string{"tool"}),
		checkpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "checkpoints_total",
			Help:      "Checkpoints saved by kind (manual, auto)",
		}, []string{"kind"}),
		rollbackSteps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgraph",
			Name:      "rollback_steps_total",
			Help:      "Rollback compensation steps by status",
		}, []string{"status"}),
	}
}

// Name implements event.Named.
func (p *PrometheusSubscriber) Name() string { return "prometheus" }

// OnEvent implements event.Subscriber.
func (p *PrometheusSubscriber) OnEvent(_ context.Context, evt event.Event) error {
	p.events.WithLabelValues(evt.Kind.String()).Inc()

	switch evt.Kind {
	case event.AgentCompleted:
		p.runs.WithLabelValues("success").Inc()
	case event.AgentFailed:
		p.runs.WithLabelValues("error").Inc()
	case event.NodeCompleted:
		p.nodeDuration.WithLabelValues(evt.NodeID, "success").Observe(float64(evt.Duration.Milliseconds()))
	case event.NodeFailed:
		p.nodeDuration.WithLabelValues(evt.NodeID, "error").Observe(float64(evt.Duration.Milliseconds()))
	case event.ToolCallCompleted, event.ToolCallFailed, event.ToolValidationFailed:
		rec, ok := evt.Data.(tool.Record)
		if !ok {
			break
		}
		p.toolCalls.WithLabelValues(rec.Name, toolOutcome(rec)).Inc()
		p.toolDuration.WithLabelValues(rec.Name).Observe(float64(rec.Duration.Milliseconds()))
	case event.CheckpointCreated:
		if cp, ok := evt.Data.(*checkpoint.Checkpoint); ok {
			p.checkpoints.WithLabelValues(checkpointKind(cp)).Inc()
		}
	case event.RollbackCompleted:
		if report, ok := evt.Data.(rollback.Report); ok {
			for _, step := range report.Steps {
				p.rollbackSteps.WithLabelValues(string(step.Status)).Inc()
			}
		}
	}
	return nil
}

// Close implements event.Subscriber.
func (p *PrometheusSubscriber) Close() error { return nil }

var _ event.Subscriber = (*PrometheusSubscriber)(nil)
