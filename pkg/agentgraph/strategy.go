package agentgraph

import (
	"errors"
	"fmt"
)

// graph is a compiled, immutable strategy graph.
type graph struct {
	name   string
	nodes  map[string]*node
	order  []string
	start  *node
	finish *node
}

// Strategy is a compiled strategy graph taking In and producing Out.
//
// Strategy is immutable and safe for concurrent use: several runs, each with
// its own Context, may execute the same Strategy at once.
type Strategy[In, Out any] struct {
	g *graph
}

// Name returns the strategy name.
func (s *Strategy[In, Out]) Name() string {
	return s.g.name
}

// NodeNames returns the names of the strategy's own nodes in the order they
// were added. Start, Finish and the contents of subgraphs are not included.
func (s *Strategy[In, Out]) NodeNames() []string {
	return append([]string(nil), s.g.order...)
}

// HasNode reports whether the strategy has a node with the given name at
// its top level.
func (s *Strategy[In, Out]) HasNode(name string) bool {
	_, ok := s.g.nodes[name]
	return ok
}

// Successors returns the edge targets of the named node in declaration order.
func (s *Strategy[In, Out]) Successors(name string) []string {
	n, ok := s.g.nodes[name]
	if !ok {
		return nil
	}
	out := make([]string, len(n.edges))
	for i, e := range n.edges {
		out[i] = e.to
	}
	return out
}

// AllNodeNames returns every node name of the strategy, descending into
// subgraphs depth-first.
func (s *Strategy[In, Out]) AllNodeNames() []string {
	var names []string
	s.g.walk(func(n *node) { names = append(names, n.name) })
	return names
}

// ValidateUniqueNames returns ErrDuplicateNodeName if a node name appears
// more than once across the strategy and its subgraphs. Checkpoints address
// nodes by name, so rollback requires unique names.
func (s *Strategy[In, Out]) ValidateUniqueNames() error {
	return s.g.validateUniqueNames()
}

func (g *graph) validateUniqueNames() error {
	seen := make(map[string]bool)
	var errs []error
	g.walk(func(n *node) {
		if seen[n.name] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateNodeName, n.name))
			return
		}
		seen[n.name] = true
	})
	return errors.Join(errs...)
}

// walk visits the graph's own nodes in insertion order, descending into each
// subgraph right after its node. A subgraph used more than once is visited
// every time.
func (g *graph) walk(fn func(*node)) {
	for _, name := range g.order {
		n := g.nodes[name]
		fn(n)
		if n.kind == kindSubgraph {
			n.sub.walk(fn)
		}
	}
}
