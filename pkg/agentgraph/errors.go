package agentgraph

import (
	"errors"
	"fmt"
)

// Compile errors. Compile joins every problem it finds, so callers test
// membership with errors.Is.
var (
	ErrNodeNotFound      = errors.New("node not found")
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrNoOutgoingEdge    = errors.New("no outgoing edge")
	ErrFinishUnreachable = errors.New("finish not reachable from start")
	ErrDuplicateNodeName = errors.New("duplicate node name")
)

// Run errors.
var (
	ErrNoMatchingEdge = errors.New("no matching edge")
	ErrBudgetExceeded = errors.New("iteration budget exceeded")
	ErrNilContext     = errors.New("context cannot be nil")
	// ErrInvalidJumpTarget is returned when a checkpoint names a node path
	// the strategy does not contain.
	ErrInvalidJumpTarget = errors.New("invalid jump target")
	// ErrNoCheckpointManager is returned for WithResume without WithCheckpoints.
	ErrNoCheckpointManager = errors.New("no checkpoint manager configured")
	ErrNoModel             = errors.New("no model configured")
)

// NoMatchingEdgeError reports a node none of whose Edges accepted its output.
type NoMatchingEdgeError struct {
	NodeID string
	Edges  int
}

func (e *NoMatchingEdgeError) Error() string {
	return fmt.Sprintf("node %s: none of %d outgoing edges matched", e.NodeID, e.Edges)
}

func (e *NoMatchingEdgeError) Unwrap() error { return ErrNoMatchingEdge }

// BudgetExceededError reports the transition out of NodeID that would have
// gone past Max.
type BudgetExceededError struct {
	Max    int
	NodeID string
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("iteration budget of %d transitions exceeded at node %s", e.Max, e.NodeID)
}

func (e *BudgetExceededError) Unwrap() error { return ErrBudgetExceeded }

// EdgeError carries a failure from an edge condition or transform. Op is
// "condition" or "transform".
type EdgeError struct {
	From, To string
	Op       string
	Err      error
}

func (e *EdgeError) Error() string {
	return fmt.Sprintf("edge %s -> %s: %s: %v", e.From, e.To, e.Op, e.Err)
}

func (e *EdgeError) Unwrap() error { return e.Err }

// CheckpointError carries a failure from the checkpoint manager. Op is one
// of "encode", "save", "load", "decode", "rollback" or "jump".
type CheckpointError struct {
	NodeID string
	Op     string
	Err    error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s at node %s: %v", e.Op, e.NodeID, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }

// NodeError is what a failing node function's error becomes.
type NodeError struct {
	NodeID string
	Op     string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// PanicError is what a panicking node function becomes. Stack is the
// goroutine stack captured in the recover.
type PanicError struct {
	NodeID string
	Value  any
	Stack  string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// CancellationError records where the run observed its context ending.
// WasExecuting distinguishes a node interrupted mid-call from one that
// never started.
type CancellationError struct {
	NodeID       string
	Cause        error
	WasExecuting bool
}

func (e *CancellationError) Error() string {
	where := "before"
	if e.WasExecuting {
		where = "during"
	}
	return fmt.Sprintf("cancelled %s node %s: %v", where, e.NodeID, e.Cause)
}

func (e *CancellationError) Unwrap() error { return e.Cause }

// RunError is the single error type Run returns. NodeID is the last node
// the run reached.
type RunError struct {
	RunID  string
	NodeID string
	Err    error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed at node %s: %v", e.RunID, e.NodeID, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
