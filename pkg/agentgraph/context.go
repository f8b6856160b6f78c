package agentgraph

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/event"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tool"
)

// Context provides execution context to nodes.
// It extends context.Context with agent services, the conversation history
// and run metadata.
//
// The interpreter derives a Context for each node with updated NodeID and an
// enriched logger. History and Storage are shared by every derived Context
// of the same agent.
type Context interface {
	context.Context

	// Services

	// Logger returns the configured logger, enriched with run and node context.
	// Never returns nil - defaults to slog.Default() if not configured.
	Logger() *slog.Logger

	// Model returns the language model, or nil if not configured.
	Model() llm.Model

	// Tools returns the tools visible to the current node. Inside a subgraph
	// with a tool view this is the restricted registry. Never nil.
	Tools() *tool.Registry

	// Events returns the event pipeline, or nil if not configured.
	Events() *event.Pipeline

	// Checkpoints returns the checkpoint manager of the current run, or nil.
	Checkpoints() *CheckpointManager

	// Facts returns the long-term memory lookup, or nil if not configured.
	Facts() FactLookup

	// Storage returns the agent's feature storage. Never nil.
	Storage() *Storage

	// Conversation

	// History returns a copy of the conversation history.
	History() []llm.Message

	// AppendHistory appends msgs to the history as one atomic step.
	AppendHistory(msgs ...llm.Message)

	// Metadata

	// RunID returns the unique identifier for this execution run.
	// Auto-generated if not configured.
	RunID() string

	// AgentID identifies the agent whose checkpoints this run reads and
	// writes. Defaults to the run ID.
	AgentID() string

	// NodeID returns the current node being executed.
	// Empty string before execution starts.
	NodeID() string

	// NodePath returns the names of the enclosing subgraph nodes followed by
	// the current node, from the root strategy down.
	NodePath() []string
}

// FactLookup is the long-term memory boundary. Lookup returns the values
// known for subject under the requested keys; missing keys are omitted.
type FactLookup interface {
	Lookup(ctx context.Context, subject string, keys ...string) (map[string]string, error)
}

// agentState is shared by every Context derived from the same NewContext call.
type agentState struct {
	mu      sync.Mutex
	history []llm.Message
	pending *executionPoint
	storage *Storage
}

// executionContext is the internal implementation of Context.
type executionContext struct {
	context.Context

	baseLogger  *slog.Logger
	logger      *slog.Logger
	model       llm.Model
	tools       *tool.Registry
	events      *event.Pipeline
	checkpoints *CheckpointManager
	facts       FactLookup
	runID       string
	agentID     string
	path        []string

	agent *agentState
	run   *runState
}

// Logger returns the configured logger.
func (c *executionContext) Logger() *slog.Logger { return c.logger }

// Model returns the language model.
func (c *executionContext) Model() llm.Model { return c.model }

// Tools returns the visible tools.
func (c *executionContext) Tools() *tool.Registry { return c.tools }

// Events returns the event pipeline.
func (c *executionContext) Events() *event.Pipeline { return c.events }

// Checkpoints returns the checkpoint manager.
func (c *executionContext) Checkpoints() *CheckpointManager { return c.checkpoints }

// Facts returns the fact lookup.
func (c *executionContext) Facts() FactLookup { return c.facts }

// Storage returns the feature storage.
func (c *executionContext) Storage() *Storage { return c.agent.storage }

// RunID returns the run identifier.
func (c *executionContext) RunID() string { return c.runID }

// AgentID returns the agent identifier.
func (c *executionContext) AgentID() string { return c.agentID }

// NodeID returns the current node identifier.
func (c *executionContext) NodeID() string {
	if len(c.path) == 0 {
		return ""
	}
	return c.path[len(c.path)-1]
}

// NodePath returns a copy of the current node path.
func (c *executionContext) NodePath() []string {
	return append([]string(nil), c.path...)
}

// History returns a copy of the conversation history.
func (c *executionContext) History() []llm.Message {
	c.agent.mu.Lock()
	defer c.agent.mu.Unlock()
	return llm.CloneMessages(c.agent.history)
}

// AppendHistory appends msgs atomically.
func (c *executionContext) AppendHistory(msgs ...llm.Message) {
	if len(msgs) == 0 {
		return
	}
	c.agent.mu.Lock()
	defer c.agent.mu.Unlock()
	c.agent.history = append(c.agent.history, llm.CloneMessages(msgs)...)
}

// updateHistory applies fn to the history under the agent lock. fn returns
// the messages to append.
func (c *executionContext) updateHistory(fn func(history []llm.Message) []llm.Message) {
	c.agent.mu.Lock()
	defer c.agent.mu.Unlock()
	c.agent.history = append(c.agent.history, fn(c.agent.history)...)
}

// replaceHistory swaps the history for msgs. Only rollback does this.
func (c *executionContext) replaceHistory(msgs []llm.Message) {
	c.agent.mu.Lock()
	defer c.agent.mu.Unlock()
	c.agent.history = llm.CloneMessages(msgs)
}

func (c *executionContext) historyLen() int {
	c.agent.mu.Lock()
	defer c.agent.mu.Unlock()
	return len(c.agent.history)
}

func (c *executionContext) setPending(p *executionPoint) {
	c.agent.mu.Lock()
	defer c.agent.mu.Unlock()
	c.agent.pending = p
}

func (c *executionContext) peekPending() *executionPoint {
	c.agent.mu.Lock()
	defer c.agent.mu.Unlock()
	return c.agent.pending
}

func (c *executionContext) takePending() *executionPoint {
	c.agent.mu.Lock()
	defer c.agent.mu.Unlock()
	p := c.agent.pending
	c.agent.pending = nil
	return p
}

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context.
// The logger will be enriched with run_id, agent_id and node_id during execution.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.baseLogger = logger
		}
	}
}

// WithRunID sets the run identifier. If not set, a UUID is generated.
func WithRunID(id string) ContextOption {
	return func(c *executionContext) {
		c.runID = id
	}
}

// WithAgentID sets the agent identifier used to key checkpoints.
func WithAgentID(id string) ContextOption {
	return func(c *executionContext) {
		c.agentID = id
	}
}

// WithModel sets the language model.
func WithModel(model llm.Model) ContextOption {
	return func(c *executionContext) {
		c.model = model
	}
}

// WithTools sets the tool registry.
func WithTools(tools *tool.Registry) ContextOption {
	return func(c *executionContext) {
		if tools != nil {
			c.tools = tools
		}
	}
}

// WithFacts sets the long-term memory lookup.
func WithFacts(facts FactLookup) ContextOption {
	return func(c *executionContext) {
		c.facts = facts
	}
}

// WithEvents sets the event pipeline. The caller owns it and closes it.
func WithEvents(p *event.Pipeline) ContextOption {
	return func(c *executionContext) {
		c.events = p
	}
}

// WithHistory seeds the conversation history, for example with a system
// prompt.
func WithHistory(msgs ...llm.Message) ContextOption {
	return func(c *executionContext) {
		c.agent.history = llm.CloneMessages(msgs)
	}
}

// NewContext creates an execution context from a standard context.
//
// Example:
//
//	ctx := agentgraph.NewContext(context.Background(),
//	    agentgraph.WithModel(model),
//	    agentgraph.WithTools(tools),
//	    agentgraph.WithAgentID("support-bot"))
func NewContext(parent context.Context, opts ...ContextOption) Context {
	c := &executionContext{
		Context:    parent,
		baseLogger: slog.Default(),
		tools:      tool.NewRegistry(),
		runID:      uuid.New().String(),
		agent:      &agentState{storage: NewStorage()},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.agentID == "" {
		c.agentID = c.runID
	}
	c.logger = observability.Scope(c.baseLogger, c.runID, c.agentID, nil)
	return c
}

// adopt returns ctx as an executionContext. Foreign Context implementations
// are copied into a fresh one seeded with their history.
func adopt(ctx Context) *executionContext {
	if ec, ok := ctx.(*executionContext); ok {
		return ec
	}
	ec := NewContext(ctx,
		WithLogger(ctx.Logger()),
		WithRunID(ctx.RunID()),
		WithAgentID(ctx.AgentID()),
		WithModel(ctx.Model()),
		WithTools(ctx.Tools()),
		WithFacts(ctx.Facts()),
		WithEvents(ctx.Events()),
		WithHistory(ctx.History()...),
	).(*executionContext)
	ec.agent.storage = ctx.Storage()
	return ec
}

// derive returns a shallow copy sharing agent and run state.
func (c *executionContext) derive() *executionContext {
	cp := *c
	return &cp
}

// withNode returns a context for the node at path, with an enriched logger.
func (c *executionContext) withNode(path []string) *executionContext {
	cp := c.derive()
	cp.path = path
	cp.logger = observability.Scope(c.baseLogger, c.runID, c.agentID, path)
	return cp
}

// withGoContext returns a copy carrying parent, typically a span context.
func (c *executionContext) withGoContext(parent context.Context) *executionContext {
	cp := c.derive()
	cp.Context = parent
	return cp
}

// withTools returns a copy seeing only the given tools.
func (c *executionContext) withTools(tools *tool.Registry) *executionContext {
	cp := c.derive()
	cp.tools = tools
	return cp
}

// emit publishes evt on the context's pipeline, filling in run, agent and
// node identifiers that the caller left empty.
func emit(ctx Context, evt event.Event) {
	p := ctx.Events()
	if p == nil {
		return
	}
	if evt.RunID == "" {
		evt.RunID = ctx.RunID()
	}
	if evt.AgentID == "" {
		evt.AgentID = ctx.AgentID()
	}
	if evt.NodeID == "" {
		evt.NodeID = ctx.NodeID()
	}
	p.Emit(ctx, evt)
}
