package observability

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/event"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tool"
)

const instrumentationName = "github.com/randalmurphal/agentgraph"

// EndFunc ends a span, marking it failed when err is not nil.
type EndFunc func(err error)

// Tracer opens a span per run and a child span per node execution. As an
// event.Subscriber it also records model, tool, checkpoint and rollback
// events on the span of the emitting node.
//
// A nil *Tracer opens no spans.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer on tp, or on the global provider when tp is nil.
func NewTracer(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracer{tracer: tp.Tracer(instrumentationName)}
}

// StartRun opens the root span of a run.
func (t *Tracer) StartRun(ctx context.Context, strategy, runID, agentID string) (context.Context, EndFunc) {
	if t == nil {
		return ctx, func(error) {}
	}
	ctx, span := t.tracer.Start(ctx, "run "+strategy,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("agentgraph.strategy", strategy),
			attribute.String("agentgraph.run_id", runID),
			attribute.String("agentgraph.agent_id", agentID),
		),
	)
	return ctx, endSpan(span)
}

// StartNode opens a span for the node at path, a child of the span in ctx.
func (t *Tracer) StartNode(ctx context.Context, path []string) (context.Context, EndFunc) {
	if t == nil || len(path) == 0 {
		return ctx, func(error) {}
	}
	ctx, span := t.tracer.Start(ctx, "node "+path[len(path)-1],
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("agentgraph.node_path", strings.Join(path, "/"))),
	)
	return ctx, endSpan(span)
}

func endSpan(span trace.Span) EndFunc {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// Name implements event.Named.
func (t *Tracer) Name() string { return "tracing" }

// OnEvent implements event.Subscriber. Lifecycle events of runs and nodes
// are already spans and are not repeated.
func (t *Tracer) OnEvent(ctx context.Context, evt event.Event) error {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return nil
	}
	switch evt.Kind {
	case event.AgentStarting, event.AgentCompleted, event.AgentFailed,
		event.NodeStarting, event.NodeCompleted, event.NodeFailed, event.StreamFrame:
		return nil
	}

	var attrs []attribute.KeyValue
	if evt.Err != nil {
		attrs = append(attrs, attribute.String("error", evt.Err.Error()))
	}
	switch data := evt.Data.(type) {
	case tool.Record:
		attrs = append(attrs,
			attribute.String("tool.name", data.Name),
			attribute.String("tool.call_id", data.CallID),
			attribute.String("tool.outcome", toolOutcome(data)),
		)
	case llm.Response:
		attrs = append(attrs,
			attribute.String("model.name", data.Model),
			attribute.Int("model.input_tokens", data.Usage.InputTokens),
			attribute.Int("model.output_tokens", data.Usage.OutputTokens),
		)
	case *checkpoint.Checkpoint:
		attrs = append(attrs,
			attribute.String("checkpoint.id", data.ID),
			attribute.Int64("checkpoint.version", data.Version),
		)
	}
	span.AddEvent(evt.Kind.String(), trace.WithAttributes(attrs...))
	return nil
}

// Close implements event.Subscriber.
func (t *Tracer) Close() error { return nil }

var _ event.Subscriber = (*Tracer)(nil)
