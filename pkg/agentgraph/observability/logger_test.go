package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/rollback"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tool"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// lastRecord decodes the last JSON log line in buf.
func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &rec))
	return rec
}

func TestScope(t *testing.T) {
	var buf bytes.Buffer

	Scope(newTestLogger(&buf), "run-1", "agent-1", []string{"outer", "callLLM"}).Info("work")
	rec := lastRecord(t, &buf)
	assert.Equal(t, "run-1", rec["run_id"])
	assert.Equal(t, "agent-1", rec["agent_id"])
	assert.Equal(t, "outer/callLLM", rec["node_id"])

	Scope(newTestLogger(&buf), "run-1", "agent-1", nil).Info("work")
	assert.NotContains(t, lastRecord(t, &buf), "node_id")

	assert.Nil(t, Scope(nil, "r", "a", nil))
}

func TestRunFinished(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	RunFinished(logger, "run-1", 1500*time.Microsecond, 4, "__finish__", nil)
	rec := lastRecord(t, &buf)
	assert.Equal(t, "INFO", rec["level"])
	assert.EqualValues(t, 4, rec["transitions"])
	assert.EqualValues(t, 1.5, rec["duration_ms"])

	RunFinished(logger, "run-1", time.Millisecond, 2, "verify", errors.New("unhealthy"))
	rec = lastRecord(t, &buf)
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, "verify", rec["last_node"])
	assert.Equal(t, "unhealthy", rec["error"])
}

func TestToolFinished(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	ToolFinished(logger, tool.Record{Name: "add", CallID: "c1", Failed: true, Error: "bad", Class: "fatal"})
	rec := lastRecord(t, &buf)
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "add", rec["tool"])
	assert.Equal(t, "failed", rec["outcome"])
	assert.Equal(t, "fatal", rec["class"])

	ToolFinished(logger, tool.Record{Name: "add", CallID: "c2"})
	rec = lastRecord(t, &buf)
	assert.Equal(t, "DEBUG", rec["level"])
	assert.Equal(t, "success", rec["outcome"])
}

func TestCheckpointLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	CheckpointSaved(logger, &checkpoint.Checkpoint{ID: "cp-1", Version: 3, NodePath: []string{"callLLM"}, Auto: true})
	rec := lastRecord(t, &buf)
	assert.Equal(t, "cp-1", rec["checkpoint_id"])
	assert.Equal(t, "callLLM", rec["node_id"])
	assert.Equal(t, "auto", rec["kind"])

	CheckpointFailed(logger, "callLLM", "save", errors.New("disk full"))
	assert.Equal(t, "WARN", lastRecord(t, &buf)["level"])
}

func TestRolledBack(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	RolledBack(logger, "cp-1", rollback.Report{Steps: []rollback.StepResult{
		{Status: rollback.StatusCompensated},
		{Status: rollback.StatusCompensated},
		{Status: rollback.StatusSkipped},
	}})
	rec := lastRecord(t, &buf)
	assert.Equal(t, "INFO", rec["level"])
	assert.EqualValues(t, 2, rec["compensated"])
	assert.EqualValues(t, 1, rec["skipped"])

	RolledBack(logger, "cp-1", rollback.Report{Steps: []rollback.StepResult{{Status: rollback.StatusFailed}}})
	assert.Equal(t, "WARN", lastRecord(t, &buf)["level"])
}

func TestLogHelpers_NilLogger(t *testing.T) {
	err := errors.New("x")
	assert.NotPanics(t, func() {
		RunStarted(nil, "r", "s")
		RunFinished(nil, "r", time.Second, 1, "n", err)
		NodeFinished(nil, "n", time.Second, err)
		ToolFinished(nil, tool.Record{})
		CheckpointSaved(nil, &checkpoint.Checkpoint{})
		CheckpointFailed(nil, "n", "save", err)
		RolledBack(nil, "id", rollback.Report{})
	})
}
