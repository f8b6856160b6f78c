package agentgraph

import (
	"fmt"
	"strings"
)

// Composer is implemented by Builder. The package-level AddNode, AddEdge and
// AddSubgraph functions take a Composer so that nodes of any type can be
// added to a builder of any strategy type.
type Composer interface {
	composer() *graphBuilder
}

// Builder is a mutable builder for a Strategy[In, Out].
// Use NewBuilder to create one, add nodes and edges with the package-level
// functions, then call Compile to obtain an immutable Strategy.
//
// Builder is NOT thread-safe. Use a single goroutine to construct the
// strategy; the compiled Strategy can be shared freely.
//
// Example:
//
//	b := agentgraph.NewBuilder[string, string]("echo")
//	ask := agentgraph.AddNode(b, "ask", askModel)
//	agentgraph.AddEdge(b, b.Start(), ask)
//	agentgraph.AddEdge(b, ask, b.Finish())
//	strategy, err := b.Compile()
type Builder[In, Out any] struct {
	gb *graphBuilder
}

type graphBuilder struct {
	name   string
	nodes  map[string]*node
	order  []string
	edges  []*edge
	start  *node
	finish *node
}

// NewBuilder creates a builder for a strategy taking In and producing Out.
func NewBuilder[In, Out any](name string) *Builder[In, Out] {
	if strings.TrimSpace(name) == "" {
		panic("agentgraph: strategy name cannot be empty")
	}
	start := &node{name: StartName, kind: kindStart, inType: typeOf[In](), outType: typeOf[In]()}
	finish := &node{name: FinishName, kind: kindFinish, inType: typeOf[Out](), outType: typeOf[Out]()}
	return &Builder[In, Out]{gb: &graphBuilder{
		name:   name,
		nodes:  map[string]*node{StartName: start, FinishName: finish},
		start:  start,
		finish: finish,
	}}
}

func (b *Builder[In, Out]) composer() *graphBuilder { return b.gb }

// Start returns the entry pseudo-node. It passes the run input through.
func (b *Builder[In, Out]) Start() NodeRef[In, In] {
	return NodeRef[In, In]{name: StartName}
}

// Finish returns the terminal pseudo-node. The value delivered to it is the
// output of the run.
func (b *Builder[In, Out]) Finish() NodeRef[Out, Out] {
	return NodeRef[Out, Out]{name: FinishName}
}

// AddNode adds a named node to the strategy and returns its typed handle.
//
// Panics if:
//   - name is empty or contains whitespace
//   - name is one of the reserved pseudo-node names
//   - fn is nil
//   - name already exists in the strategy
func AddNode[In, Out any](b Composer, name string, fn NodeFunc[In, Out]) NodeRef[In, Out] {
	if fn == nil {
		panic("agentgraph: node function cannot be nil")
	}
	b.composer().add(&node{
		name:    name,
		kind:    kindAction,
		inType:  typeOf[In](),
		outType: typeOf[Out](),
		run: func(ctx Context, in any) (any, error) {
			return fn(ctx, as[In](in))
		},
	})
	return NodeRef[In, Out]{name: name}
}

// SubgraphOption configures a subgraph node.
type SubgraphOption func(*node)

// WithToolView restricts the tools visible inside the subgraph to names.
func WithToolView(names ...string) SubgraphOption {
	return func(n *node) {
		n.toolView = append([]string(nil), names...)
		n.viewSet = true
	}
}

// AddSubgraph adds a node that runs a compiled strategy as a single step.
// The subgraph shares the run's history and iteration budget.
func AddSubgraph[In, Out any](b Composer, name string, sub *Strategy[In, Out], opts ...SubgraphOption) NodeRef[In, Out] {
	if sub == nil {
		panic("agentgraph: subgraph strategy cannot be nil")
	}
	n := &node{
		name:    name,
		kind:    kindSubgraph,
		inType:  typeOf[In](),
		outType: typeOf[Out](),
		sub:     sub.g,
	}
	for _, opt := range opts {
		opt(n)
	}
	b.composer().add(n)
	return NodeRef[In, Out]{name: name}
}

// AddEdge adds an edge between two nodes. Edges leaving a node are tried in
// the order they were added; the first whose conditions all pass is taken.
//
// Edge validation happens at Compile() time, not here.
// This allows edges to be added in any order.
func AddEdge(b Composer, from, to Ref, opts ...EdgeOption) {
	if from == nil || to == nil {
		panic("agentgraph: edge endpoints cannot be nil")
	}
	if from.nodeName() == FinishName {
		panic("agentgraph: finish node cannot have outgoing edges")
	}
	if to.nodeName() == StartName {
		panic("agentgraph: start node cannot be an edge target")
	}
	e := &edge{from: from.nodeName(), to: to.nodeName()}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	gb := b.composer()
	gb.edges = append(gb.edges, e)
}

func (gb *graphBuilder) add(n *node) {
	if n.name == "" {
		panic("agentgraph: node name cannot be empty")
	}
	if n.name == StartName || n.name == FinishName {
		panic(fmt.Sprintf("agentgraph: node name cannot be reserved name %q", n.name))
	}
	if strings.ContainsAny(n.name, " \t\n\r") {
		panic("agentgraph: node name cannot contain whitespace")
	}
	if _, exists := gb.nodes[n.name]; exists {
		panic(fmt.Sprintf("agentgraph: duplicate node name: %s", n.name))
	}
	gb.nodes[n.name] = n
	gb.order = append(gb.order, n.name)
}
