package agentgraph

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/event"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
)

// errUnwind is returned from a subgraph whose pending jump targets a node
// outside it. The enclosing level resolves the jump.
var errUnwind = errors.New("agentgraph: unwinding to jump target")

// runState is the per-run bookkeeping shared by every level of nesting.
type runState struct {
	mu          sync.Mutex
	transitions int
	max         int
	lastNode    string
	nodeState   map[string]any
}

// consume counts one transition leaving nodeID against the budget.
func (r *runState) consume(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transitions >= r.max {
		return &BudgetExceededError{Max: r.max, NodeID: nodeID}
	}
	r.transitions++
	return nil
}

func (r *runState) visit(nodeID string) {
	r.mu.Lock()
	r.lastNode = nodeID
	r.mu.Unlock()
}

func (r *runState) snapshot() (transitions int, lastNode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitions, r.lastNode
}

// runner executes one run of a strategy.
type runner struct {
	cfg    *runConfig
	logger *slog.Logger
	state  *runState
}

// Run executes the strategy with the given input and returns the value that
// reached Finish.
//
// Execution flow, repeated until Finish:
//  1. Check for cancellation
//  2. Execute the current node (panics are recovered)
//  3. If a rollback scheduled a jump, continue at the restored node
//  4. Otherwise take the first outgoing edge whose conditions pass
//  5. Apply the edge transform and count one transition
//
// Every engine failure is returned as a *RunError carrying the run ID and
// the last node reached. Use errors.Is / errors.As to inspect the cause.
//
// A pipeline supplied through WithEvents belongs to the caller: Run detaches
// the observers it attached but never closes the pipeline or its
// subscribers. Only a pipeline the run created for metrics or tracing is
// closed when the run ends.
//
// Example:
//
//	ctx := agentgraph.NewContext(context.Background(), agentgraph.WithModel(model))
//	answer, err := strategy.Run(ctx, "What is 2+3?")
func (s *Strategy[In, Out]) Run(ctx Context, input In, opts ...RunOption) (result Out, runErr error) {
	if ctx == nil {
		return result, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	base := adopt(ctx)
	logger := cfg.logger
	if logger == nil {
		logger = base.Logger()
	}

	if cfg.resume && cfg.checkpoints == nil {
		return result, &RunError{RunID: base.runID, Err: ErrNoCheckpointManager}
	}
	if cfg.checkpoints != nil {
		if err := cfg.checkpoints.Install(s); err != nil {
			return result, &RunError{RunID: base.runID, Err: err}
		}
	}

	state := &runState{max: cfg.maxIterations, nodeState: make(map[string]any)}
	rc := base.derive()
	rc.run = state
	if cfg.checkpoints != nil {
		rc.checkpoints = cfg.checkpoints
	}

	release := attachObservers(rc, &cfg, logger)
	defer release()

	startTime := time.Now()
	observability.RunStarted(logger, rc.runID, s.g.name)

	if cfg.tracer != nil {
		spanCtx, endRun := cfg.tracer.StartRun(rc, s.g.name, rc.runID, rc.agentID)
		rc = rc.withGoContext(spanCtx)
		defer func() { endRun(runErr) }()
	}

	emit(rc, event.Event{Kind: event.AgentStarting, Data: input})

	r := &runner{cfg: &cfg, logger: logger, state: state}
	out, err := r.start(rc, s.g, input)

	duration := time.Since(startTime)
	transitions, lastNode := state.snapshot()

	if err != nil {
		var re *RunError
		if !errors.As(err, &re) {
			err = &RunError{RunID: rc.runID, NodeID: lastNode, Err: err}
		}
		emit(rc, event.Event{Kind: event.AgentFailed, NodeID: lastNode, Duration: duration, Err: err})
		observability.RunFinished(logger, rc.runID, duration, transitions, lastNode, err)
		return result, err
	}

	result = as[Out](out)
	emit(rc, event.Event{Kind: event.AgentCompleted, Duration: duration, Data: result})
	observability.RunFinished(logger, rc.runID, duration, transitions, lastNode, nil)
	return result, nil
}

// attachObservers subscribes the metrics and tracing subscribers requested
// by cfg. When the context has no pipeline, one is created for the run.
// The returned func detaches them again.
func attachObservers(rc *executionContext, cfg *runConfig, logger *slog.Logger) func() {
	if cfg.metrics == nil && cfg.tracer == nil {
		return func() {}
	}

	owned := rc.events == nil
	if owned {
		rc.events = event.NewPipeline(event.WithLogger(logger))
	}

	var subs []event.Subscription
	if cfg.metrics != nil {
		subs = append(subs, rc.events.Subscribe(cfg.metrics))
	}
	if cfg.tracer != nil {
		subs = append(subs, rc.events.Subscribe(cfg.tracer))
	}

	return func() {
		if owned {
			if err := rc.events.Close(); err != nil {
				logger.Warn("closing run event pipeline", "error", err)
			}
			return
		}
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}
}

// start runs the root strategy, rolling back first when resuming.
func (r *runner) start(rc *executionContext, g *graph, input any) (any, error) {
	if r.cfg.resume {
		_, err := r.cfg.checkpoints.RollbackToLatest(rc)
		var cpErr *CheckpointError
		switch {
		case errors.Is(err, checkpoint.ErrNotFound):
			r.logger.Info("no checkpoint to resume from, starting fresh", "agent_id", rc.agentID)
		case errors.As(err, &cpErr):
			return nil, err
		case err != nil:
			// The state was restored; only some inverses failed.
			r.logger.Warn("resumed with incomplete compensation", "error", err)
		}
	}
	return r.exec(rc, g, nil, input)
}

// exec drives one level of nesting from Start (or from a pending jump) to
// Finish.
func (r *runner) exec(ctx *executionContext, g *graph, level []string, input any) (any, error) {
	current, value := g.start, input
	if ctx.peekPending() != nil {
		n, v, err := resolveJump(ctx, g, level)
		if err != nil {
			return nil, err
		}
		current, value = n, v
	}

	for {
		if current.kind == kindFinish {
			return value, nil
		}

		path := childPath(level, current.name)
		r.state.visit(current.name)

		// Check for cancellation before executing node
		if err := ctx.Err(); err != nil {
			return nil, &CancellationError{NodeID: current.name, Cause: err}
		}

		out, err := r.runNode(ctx, path, current, value)
		if err != nil && !errors.Is(err, errUnwind) {
			return nil, err
		}

		// A rollback requested by the node takes precedence over edges.
		if ctx.peekPending() != nil {
			n, v, err := resolveJump(ctx, g, level)
			if err != nil {
				return nil, err
			}
			current, value = n, v
			continue
		}

		nodeCtx := ctx.withNode(path)
		e, next, err := selectEdge(nodeCtx, current, out)
		if err != nil {
			return nil, err
		}
		if err := r.state.consume(current.name); err != nil {
			return nil, err
		}
		target := g.nodes[e.to]
		next = coerce(next, target.inType)

		if m := ctx.checkpoints; m != nil && m.continuous {
			if _, err := m.createAuto(nodeCtx, childPath(level, target.name), next); err != nil {
				return nil, err
			}
		}

		current, value = target, next
	}
}

// runNode executes one node with logging, tracing and events around it.
func (r *runner) runNode(ctx *executionContext, path []string, n *node, value any) (any, error) {
	if n.kind == kindStart {
		return value, nil
	}

	nodeCtx := ctx.withNode(path)

	endSpan := func(error) {}
	if r.cfg.tracer != nil {
		var spanCtx context.Context
		spanCtx, endSpan = r.cfg.tracer.StartNode(nodeCtx, path)
		nodeCtx = nodeCtx.withGoContext(spanCtx)
	}

	emit(nodeCtx, event.Event{Kind: event.NodeStarting, Data: value})
	nodeStart := time.Now()

	out, err := r.invoke(nodeCtx, n, value)

	duration := time.Since(nodeStart)
	if errors.Is(err, errUnwind) {
		// Interrupted by a jump to an outer level: not a failure.
		endSpan(nil)
		emit(nodeCtx, event.Event{Kind: event.NodeCompleted, Duration: duration})
		return nil, err
	}
	endSpan(err)
	observability.NodeFinished(r.logger, n.name, duration, err)

	if err != nil {
		emit(nodeCtx, event.Event{Kind: event.NodeFailed, Duration: duration, Err: err})
		return nil, err
	}
	emit(nodeCtx, event.Event{Kind: event.NodeCompleted, Duration: duration, Data: out})
	return out, nil
}

// invoke runs the node's action or subgraph. Action errors are wrapped in
// *NodeError and panics are converted to *PanicError.
func (r *runner) invoke(ctx *executionContext, n *node, value any) (out any, err error) {
	if n.kind == kindSubgraph {
		sub := ctx
		if n.viewSet {
			sub = ctx.withTools(ctx.tools.View(n.toolView...))
		}
		return r.exec(sub, n.sub, ctx.path, value)
	}

	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = &PanicError{
				NodeID: n.name,
				Value:  p,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	out, err = n.run(ctx, value)
	if err != nil {
		if cause := ctx.Err(); cause != nil && errors.Is(err, cause) {
			return nil, &CancellationError{NodeID: n.name, Cause: cause, WasExecuting: true}
		}
		return nil, &NodeError{NodeID: n.name, Op: "execute", Err: err}
	}
	return out, nil
}

func childPath(level []string, name string) []string {
	path := make([]string, len(level)+1)
	copy(path, level)
	path[len(level)] = name
	return path
}

func hasPrefix(path, prefix []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}
