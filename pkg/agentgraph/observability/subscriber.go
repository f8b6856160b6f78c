package observability

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/event"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/rollback"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tool"
)

// LogSubscriber writes pipeline events as slog records.
// Failures log at warn, lifecycle milestones at info, the rest at debug.
type LogSubscriber struct {
	logger *slog.Logger
}

// NewLogSubscriber creates a LogSubscriber. A nil logger uses slog.Default().
func NewLogSubscriber(logger *slog.Logger) *LogSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSubscriber{logger: logger}
}

// Name implements event.Named.
func (s *LogSubscriber) Name() string { return "log" }

// OnEvent implements event.Subscriber.
func (s *LogSubscriber) OnEvent(ctx context.Context, evt event.Event) error {
	attrs := []slog.Attr{
		slog.String("event", evt.Kind.String()),
		slog.String("run_id", evt.RunID),
	}
	if evt.NodeID != "" {
		attrs = append(attrs, slog.String("node_id", evt.NodeID))
	}
	if evt.Duration > 0 {
		attrs = append(attrs, slog.Float64("duration_ms", float64(evt.Duration.Milliseconds())))
	}
	if evt.Err != nil {
		attrs = append(attrs, slog.String("error", evt.Err.Error()))
	}

	switch data := evt.Data.(type) {
	case tool.Record:
		attrs = append(attrs, slog.String("tool", data.Name), slog.String("call_id", data.CallID))
		if data.Failed {
			attrs = append(attrs, slog.String("tool_error", data.Error))
		}
	case *checkpoint.Checkpoint:
		attrs = append(attrs, slog.String("checkpoint_id", data.ID), slog.Int64("version", data.Version))
	case rollback.Report:
		attrs = append(attrs,
			slog.Int("compensated", data.Count(rollback.StatusCompensated)),
			slog.Int("skipped", data.Count(rollback.StatusSkipped)),
			slog.Int("failed", data.Count(rollback.StatusFailed)),
		)
	}

	s.logger.LogAttrs(ctx, levelFor(evt.Kind), "agent event", attrs...)
	return nil
}

// Close implements event.Subscriber.
func (s *LogSubscriber) Close() error { return nil }

func levelFor(k event.Kind) slog.Level {
	switch {
	case k.IsFailure(), k == event.RollbackSkipped:
		return slog.LevelWarn
	case k == event.AgentStarting, k == event.AgentCompleted,
		k == event.CheckpointCreated, k == event.RollbackCompleted:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

var _ event.Subscriber = (*LogSubscriber)(nil)
