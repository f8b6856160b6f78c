package event

import (
	"time"
)

// Kind identifies an event type.
type Kind int

// Event kinds emitted during a run.
const (
	AgentStarting Kind = iota + 1
	AgentCompleted
	AgentFailed
	NodeStarting
	NodeCompleted
	NodeFailed
	ToolCallStarting
	ToolCallCompleted
	ToolCallFailed
	ToolValidationFailed
	ModelCallStarting
	ModelCallCompleted
	ModelCallFailed
	StreamFrame
	CheckpointCreated
	RollbackStarted
	RollbackSkipped
	RollbackCompleted
)

var kindNames = map[Kind]string{
	AgentStarting:        "agent.starting",
	AgentCompleted:       "agent.completed",
	AgentFailed:          "agent.failed",
	NodeStarting:         "node.starting",
	NodeCompleted:        "node.completed",
	NodeFailed:           "node.failed",
	ToolCallStarting:     "tool.starting",
	ToolCallCompleted:    "tool.completed",
	ToolCallFailed:       "tool.failed",
	ToolValidationFailed: "tool.validation_failed",
	ModelCallStarting:    "model.starting",
	ModelCallCompleted:   "model.completed",
	ModelCallFailed:      "model.failed",
	StreamFrame:          "model.stream_frame",
	CheckpointCreated:    "checkpoint.created",
	RollbackStarted:      "rollback.started",
	RollbackSkipped:      "rollback.skipped",
	RollbackCompleted:    "rollback.completed",
}

// String returns the dotted event name, e.g. "node.completed".
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsFailure reports whether the kind signals a failure.
func (k Kind) IsFailure() bool {
	switch k {
	case AgentFailed, NodeFailed, ToolCallFailed, ToolValidationFailed, ModelCallFailed:
		return true
	}
	return false
}

// Kinds returns every defined kind in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(kindNames))
	for k := AgentStarting; k <= RollbackCompleted; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Event is a single observation from a run.
//
// Data carries a kind-specific payload: tool.Record for tool events,
// llm.Frame for stream frames, llm.Response for completed model calls,
// *checkpoint.Checkpoint for checkpoint events, rollback.StepResult or
// rollback.Report for rollback events. Subscribers type-switch on it.
type Event struct {
	ID        string
	Kind      Kind
	RunID     string
	AgentID   string
	NodeID    string
	Timestamp time.Time
	Duration  time.Duration
	Err       error
	Data      any
}
