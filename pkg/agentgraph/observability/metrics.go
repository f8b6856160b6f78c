package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/event"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/rollback"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tool"
)

// Metric names recorded by Metrics.
const (
	MetricRuns          = "agentgraph.runs"
	MetricRunDuration   = "agentgraph.run.duration"
	MetricNodes         = "agentgraph.nodes"
	MetricNodeDuration  = "agentgraph.node.duration"
	MetricModelCalls    = "agentgraph.model.calls"
	MetricModelTokens   = "agentgraph.model.tokens"
	MetricToolCalls     = "agentgraph.tool.calls"
	MetricToolDuration  = "agentgraph.tool.duration"
	MetricCheckpoints   = "agentgraph.checkpoints"
	MetricRollbacks     = "agentgraph.rollbacks"
	MetricRollbackSteps = "agentgraph.rollback.steps"
)

// Metrics turns pipeline events into OpenTelemetry instruments. It is an
// event.Subscriber; subscribe it to the pipeline of the runs to measure.
type Metrics struct {
	runs, nodes, modelCalls, modelTokens    metric.Int64Counter
	toolCalls, checkpoints                  metric.Int64Counter
	rollbacks, rollbackSteps                metric.Int64Counter
	runDuration, nodeDuration, toolDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.runs, MetricRuns, "Agent runs by outcome"},
		{&m.nodes, MetricNodes, "Node executions by node and outcome"},
		{&m.modelCalls, MetricModelCalls, "Model calls by outcome"},
		{&m.modelTokens, MetricModelTokens, "Tokens exchanged with the model by direction"},
		{&m.toolCalls, MetricToolCalls, "Tool calls by tool and outcome"},
		{&m.checkpoints, MetricCheckpoints, "Checkpoints saved by kind"},
		{&m.rollbacks, MetricRollbacks, "Completed rollbacks"},
		{&m.rollbackSteps, MetricRollbackSteps, "Rollback compensation steps by status"},
	}
	for _, c := range counters {
		inst, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = inst
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&m.runDuration, MetricRunDuration, "Agent run duration"},
		{&m.nodeDuration, MetricNodeDuration, "Node execution duration"},
		{&m.toolDuration, MetricToolDuration, "Tool call duration"},
	}
	for _, h := range histograms {
		inst, err := meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("s"))
		if err != nil {
			return nil, err
		}
		*h.dst = inst
	}
	return m, nil
}

var globalMetrics = sync.OnceValue(func() *Metrics {
	m, err := NewMetrics(otel.Meter(instrumentationName))
	if err != nil {
		slog.Warn("metrics disabled", "error", err)
		return nil
	}
	return m
})

// GlobalMetrics returns Metrics on the global meter provider, created once.
// It returns nil if the instruments could not be created.
func GlobalMetrics() *Metrics { return globalMetrics() }

// Name implements event.Named.
func (m *Metrics) Name() string { return "metrics" }

// OnEvent implements event.Subscriber.
func (m *Metrics) OnEvent(ctx context.Context, evt event.Event) error {
	switch evt.Kind {
	case event.AgentCompleted, event.AgentFailed:
		attrs := metric.WithAttributes(outcome(evt.Kind != event.AgentFailed))
		m.runs.Add(ctx, 1, attrs)
		m.runDuration.Record(ctx, seconds(evt.Duration), attrs)

	case event.NodeCompleted, event.NodeFailed:
		attrs := metric.WithAttributes(attribute.String("node", evt.NodeID), outcome(evt.Kind == event.NodeCompleted))
		m.nodes.Add(ctx, 1, attrs)
		m.nodeDuration.Record(ctx, seconds(evt.Duration), attrs)

	case event.ModelCallCompleted, event.ModelCallFailed:
		m.modelCalls.Add(ctx, 1, metric.WithAttributes(outcome(evt.Kind == event.ModelCallCompleted)))
		if resp, ok := evt.Data.(llm.Response); ok {
			m.modelTokens.Add(ctx, int64(resp.Usage.InputTokens), metric.WithAttributes(attribute.String("direction", "input")))
			m.modelTokens.Add(ctx, int64(resp.Usage.OutputTokens), metric.WithAttributes(attribute.String("direction", "output")))
		}

	case event.ToolCallCompleted, event.ToolCallFailed, event.ToolValidationFailed:
		rec, ok := evt.Data.(tool.Record)
		if !ok {
			return nil
		}
		attrs := metric.WithAttributes(attribute.String("tool", rec.Name), attribute.String("outcome", toolOutcome(rec)))
		m.toolCalls.Add(ctx, 1, attrs)
		if !rec.Rejected {
			m.toolDuration.Record(ctx, seconds(rec.Duration), attrs)
		}

	case event.CheckpointCreated:
		if cp, ok := evt.Data.(*checkpoint.Checkpoint); ok {
			m.checkpoints.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", checkpointKind(cp))))
		}

	case event.RollbackCompleted:
		report, ok := evt.Data.(rollback.Report)
		if !ok {
			return nil
		}
		m.rollbacks.Add(ctx, 1)
		for _, status := range []rollback.Status{rollback.StatusCompensated, rollback.StatusSkipped, rollback.StatusFailed} {
			if n := report.Count(status); n > 0 {
				m.rollbackSteps.Add(ctx, int64(n), metric.WithAttributes(attribute.String("status", string(status))))
			}
		}
	}
	return nil
}

// Close implements event.Subscriber.
func (m *Metrics) Close() error { return nil }

func outcome(ok bool) attribute.KeyValue {
	if ok {
		return attribute.String("outcome", "success")
	}
	return attribute.String("outcome", "error")
}

func toolOutcome(rec tool.Record) string {
	switch {
	case rec.Rejected:
		return "rejected"
	case rec.Failed:
		return "failed"
	default:
		return "success"
	}
}

func checkpointKind(cp *checkpoint.Checkpoint) string {
	if cp.Auto {
		return "auto"
	}
	return "manual"
}

func seconds(d time.Duration) float64 { return d.Seconds() }

var _ event.Subscriber = (*Metrics)(nil)
