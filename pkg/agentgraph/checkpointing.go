package agentgraph

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/event"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/rollback"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tool"
)

// Compiled is implemented by every *Strategy regardless of its types.
type Compiled interface {
	compiled() *graph
}

func (s *Strategy[In, Out]) compiled() *graph { return s.g }

// CheckpointManager snapshots agent runs and rolls them back.
//
// A checkpoint holds the conversation history, the node to continue at and
// that node's input. Rolling back compensates the tool calls made after the
// checkpoint, newest first, restores the history and makes the interpreter
// continue at the checkpointed node.
//
// A CheckpointManager may be shared by concurrent runs of different agents.
type CheckpointManager struct {
	store      checkpoint.Store
	rollbacks  *rollback.Registry
	continuous bool
	logger     *slog.Logger

	// mu serializes version assignment.
	mu sync.Mutex
}

// ManagerOption configures a CheckpointManager.
type ManagerOption func(*CheckpointManager)

// WithContinuous makes the interpreter checkpoint after every transition,
// pointing at the next node with the transformed edge value as its input.
func WithContinuous(enabled bool) ManagerOption {
	return func(m *CheckpointManager) {
		m.continuous = enabled
	}
}

// WithManagerLogger sets the logger for checkpoint and rollback logs.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *CheckpointManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewCheckpointManager creates a manager persisting to store. A nil store
// uses an in-memory store; a nil rollback registry reverts nothing.
func NewCheckpointManager(store checkpoint.Store, rollbacks *rollback.Registry, opts ...ManagerOption) *CheckpointManager {
	if store == nil {
		store = checkpoint.NewMemoryStore()
	}
	m := &CheckpointManager{
		store:     store,
		rollbacks: rollbacks,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying checkpoint store.
func (m *CheckpointManager) Store() checkpoint.Store { return m.store }

// Continuous reports whether continuous checkpointing is enabled.
func (m *CheckpointManager) Continuous() bool { return m.continuous }

// Install prepares the manager for runs of s. Checkpoints address nodes by
// name, so every node name in s and its subgraphs must be unique.
func (m *CheckpointManager) Install(s Compiled) error {
	if err := s.compiled().validateUniqueNames(); err != nil {
		return fmt.Errorf("install checkpoints on %s: %w", s.compiled().name, err)
	}
	return nil
}

// CreateCheckpoint stores a snapshot of the agent's history with nodePath as
// the node to continue at and input as that node's input. A version of 0
// assigns the latest version of the agent plus one.
func (m *CheckpointManager) CreateCheckpoint(ctx Context, nodePath []string, input any, version int64) (*checkpoint.Checkpoint, error) {
	return m.create(ctx, nodePath, input, version, false)
}

// createAuto records a continuous-mode checkpoint.
func (m *CheckpointManager) createAuto(ctx Context, nodePath []string, input any) (*checkpoint.Checkpoint, error) {
	return m.create(ctx, nodePath, input, 0, true)
}

func (m *CheckpointManager) create(ctx Context, nodePath []string, input any, version int64, auto bool) (*checkpoint.Checkpoint, error) {
	nodeID := ""
	if len(nodePath) > 0 {
		nodeID = nodePath[len(nodePath)-1]
	}

	raw, err := json.Marshal(input)
	if err != nil {
		observability.CheckpointFailed(m.logger, nodeID, "encode", err)
		return nil, &CheckpointError{NodeID: nodeID, Op: "encode", Err: err}
	}

	cp := checkpoint.New(ctx.AgentID(), ctx.RunID(), nodePath, ctx.History(), raw)
	cp.Auto = auto

	m.mu.Lock()
	if version == 0 {
		version, err = m.nextVersion(ctx, ctx.AgentID())
	}
	if err == nil {
		cp.Version = version
		err = m.store.Save(ctx, ctx.AgentID(), cp)
	}
	m.mu.Unlock()

	if err != nil {
		observability.CheckpointFailed(m.logger, nodeID, "save", err)
		return nil, &CheckpointError{NodeID: nodeID, Op: "save", Err: err}
	}

	observability.CheckpointSaved(m.logger, cp)
	emit(ctx, event.Event{Kind: event.CheckpointCreated, Data: cp})
	return cp, nil
}

func (m *CheckpointManager) nextVersion(ctx Context, agentID string) (int64, error) {
	latest, err := m.store.Latest(ctx, agentID, checkpoint.Filter{})
	if errors.Is(err, checkpoint.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return latest.Version + 1, nil
}

// RollbackToCheckpoint rolls the agent back to the checkpoint with the given
// id.
//
// The tool calls recorded after the checkpoint are compensated newest first
// by invoking their registered inverses with the original arguments. A call
// without an inverse is skipped with a warning and a RollbackSkipped event;
// its effect stays in place. Calls that failed are not compensated. Every
// inverse runs even if an earlier one failed, and the failures are returned
// joined.
//
// The history is then replaced by the checkpoint's copy and the interpreter
// continues at the checkpointed node once the current node returns, or at
// the start of the next run.
func (m *CheckpointManager) RollbackToCheckpoint(ctx Context, id string) (rollback.Report, error) {
	cp, err := m.store.Get(ctx, ctx.AgentID(), id)
	if err != nil {
		return rollback.Report{}, &CheckpointError{NodeID: ctx.NodeID(), Op: "load", Err: err}
	}
	return m.rollbackTo(ctx, cp)
}

// RollbackToLatest rolls back to the agent's newest checkpoint. It returns
// an error wrapping checkpoint.ErrNotFound when the agent has none.
func (m *CheckpointManager) RollbackToLatest(ctx Context) (rollback.Report, error) {
	cp, err := m.store.Latest(ctx, ctx.AgentID(), checkpoint.Filter{})
	if errors.Is(err, checkpoint.ErrNotFound) {
		return rollback.Report{}, err
	}
	if err != nil {
		return rollback.Report{}, &CheckpointError{NodeID: ctx.NodeID(), Op: "load", Err: err}
	}
	return m.rollbackTo(ctx, cp)
}

func (m *CheckpointManager) rollbackTo(ctx Context, cp *checkpoint.Checkpoint) (rollback.Report, error) {
	ec, ok := ctx.(*executionContext)
	if !ok {
		return rollback.Report{}, &CheckpointError{
			NodeID: cp.NodeID(),
			Op:     "rollback",
			Err:    errors.New("context was not created by agentgraph.NewContext"),
		}
	}

	emit(ec, event.Event{Kind: event.RollbackStarted, Data: cp})

	records := tool.RecordsSince(ec.History(), len(cp.History))
	report, compErr := m.rollbacks.Compensate(ec, records,
		rollback.WithLogger(m.logger),
		rollback.OnSkip(func(rec tool.Record) {
			emit(ec, event.Event{Kind: event.RollbackSkipped, Data: rec})
		}),
	)

	ec.replaceHistory(cp.History)
	ec.setPending(&executionPoint{
		path:  append([]string(nil), cp.NodePath...),
		input: append([]byte(nil), cp.Input...),
	})

	emit(ec, event.Event{Kind: event.RollbackCompleted, Err: compErr, Data: report})
	observability.RolledBack(m.logger, cp.ID, report)

	return report, compErr
}
