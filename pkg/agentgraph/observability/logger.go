// Package observability connects agent runs to slog, OpenTelemetry and
// Prometheus.
//
// Logging helpers here are called by the engine directly. Metrics, tracing
// annotations and the log and Prometheus exporters consume the run's
// event.Pipeline instead, so they can be attached to any run:
//
//	pipeline.Subscribe(observability.NewLogSubscriber(logger))
//	pipeline.Subscribe(observability.NewPrometheusSubscriber(registry))
//
// Nothing is recorded unless asked for.
package observability

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/rollback"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tool"
)

// Scope returns logger annotated with the run, the agent and, when path is
// not empty, the node path joined with "/".
func Scope(logger *slog.Logger, runID, agentID string, path []string) *slog.Logger {
	if logger == nil {
		return nil
	}
	if len(path) == 0 {
		return logger.With(slog.String("run_id", runID), slog.String("agent_id", agentID))
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("agent_id", agentID),
		slog.String("node_id", strings.Join(path, "/")),
	)
}

func ms(d time.Duration) slog.Attr {
	return slog.Float64("duration_ms", float64(d.Microseconds())/1000)
}

// RunStarted logs the start of a run.
func RunStarted(logger *slog.Logger, runID, strategy string) {
	if logger == nil {
		return
	}
	logger.Info("agent run starting", slog.String("run_id", runID), slog.String("strategy", strategy))
}

// RunFinished logs the end of a run: at info with the transition count on
// success, at error with the last node reached otherwise.
func RunFinished(logger *slog.Logger, runID string, elapsed time.Duration, transitions int, lastNode string, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Error("agent run failed",
			slog.String("run_id", runID),
			slog.String("last_node", lastNode),
			slog.String("error", err.Error()),
			ms(elapsed),
		)
		return
	}
	logger.Info("agent run completed",
		slog.String("run_id", runID),
		slog.Int("transitions", transitions),
		ms(elapsed),
	)
}

// NodeFinished logs one node execution. Failures log at error.
func NodeFinished(logger *slog.Logger, nodeID string, elapsed time.Duration, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Error("node failed", slog.String("node_id", nodeID), slog.String("error", err.Error()), ms(elapsed))
		return
	}
	logger.Debug("node completed", slog.String("node_id", nodeID), ms(elapsed))
}

// ToolFinished logs a tool call outcome. Failed and rejected calls are
// warnings since the model sees them as results.
func ToolFinished(logger *slog.Logger, rec tool.Record) {
	if logger == nil {
		return
	}
	attrs := []slog.Attr{
		slog.String("tool", rec.Name),
		slog.String("call_id", rec.CallID),
		slog.String("outcome", toolOutcome(rec)),
		ms(rec.Duration),
	}
	level := slog.LevelDebug
	if rec.Failed {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", rec.Error), slog.String("class", rec.Class))
	}
	logger.LogAttrs(context.Background(), level, "tool call finished", attrs...)
}

// CheckpointSaved logs a stored checkpoint.
func CheckpointSaved(logger *slog.Logger, cp *checkpoint.Checkpoint) {
	if logger == nil || cp == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("checkpoint_id", cp.ID),
		slog.String("node_id", cp.NodeID()),
		slog.Int64("version", cp.Version),
		slog.String("kind", checkpointKind(cp)),
	)
}

// CheckpointFailed logs a checkpoint that could not be encoded or stored.
func CheckpointFailed(logger *slog.Logger, nodeID, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint failed",
		slog.String("node_id", nodeID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// RolledBack logs a finished rollback. Any failed compensation raises the
// record to a warning.
func RolledBack(logger *slog.Logger, checkpointID string, report rollback.Report) {
	if logger == nil {
		return
	}
	failed := report.Count(rollback.StatusFailed)
	level := slog.LevelInfo
	if failed > 0 {
		level = slog.LevelWarn
	}
	logger.LogAttrs(context.Background(), level, "rolled back to checkpoint",
		slog.String("checkpoint_id", checkpointID),
		slog.Int("compensated", report.Count(rollback.StatusCompensated)),
		slog.Int("skipped", report.Count(rollback.StatusSkipped)),
		slog.Int("failed", failed),
	)
}
