package agentgraph

import (
	"errors"
	"fmt"
	"log/slog"
)

// Compile validates the strategy and returns an immutable Strategy.
// Returns an error if validation fails. Multiple errors are joined together.
//
// Validation checks:
//  1. Every edge source and target references an existing node
//  2. Edge conditions, transforms and endpoints have compatible types
//  3. Every node reachable from Start, except Finish, has an outgoing edge
//  4. Finish is reachable from Start
//
// Unreachable nodes are logged as warnings but do not cause compilation
// to fail.
func (b *Builder[In, Out]) Compile() (*Strategy[In, Out], error) {
	g, err := b.gb.compile()
	if err != nil {
		return nil, err
	}
	return &Strategy[In, Out]{g: g}, nil
}

func (gb *graphBuilder) compile() (*graph, error) {
	var errs []error

	g := &graph{
		name:  gb.name,
		nodes: make(map[string]*node, len(gb.nodes)),
		order: append([]string(nil), gb.order...),
	}
	for name, n := range gb.nodes {
		cp := *n
		cp.edges = nil
		g.nodes[name] = &cp
	}
	g.start = g.nodes[StartName]
	g.finish = g.nodes[FinishName]

	// 1 & 2. Validate edge references and types
	for _, e := range gb.edges {
		src, ok := g.nodes[e.from]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: edge source '%s' does not exist", ErrNodeNotFound, e.from))
			continue
		}
		dst, ok := g.nodes[e.to]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: edge target '%s' does not exist", ErrNodeNotFound, e.to))
			continue
		}
		if err := checkEdgeTypes(e, src, dst); err != nil {
			errs = append(errs, err)
			continue
		}
		src.edges = append(src.edges, e)
	}

	reachable := g.reachable()

	// 3. Reachable nodes must be able to continue
	for _, name := range append([]string{StartName}, g.order...) {
		n := g.nodes[name]
		if reachable[name] && len(n.edges) == 0 {
			errs = append(errs, fmt.Errorf("%w: node '%s'", ErrNoOutgoingEdge, name))
		}
	}

	// 4. Finish must be reachable
	if !reachable[FinishName] {
		errs = append(errs, fmt.Errorf("%w: strategy '%s'", ErrFinishUnreachable, gb.name))
	}

	// Unreachable nodes are a warning only
	for _, name := range g.order {
		if !reachable[name] {
			slog.Warn("node is unreachable from start", "strategy", gb.name, "node_id", name)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return g, nil
}

// checkEdgeTypes verifies that values flowing along e fit every consumer.
func checkEdgeTypes(e *edge, src, dst *node) error {
	for _, c := range e.conds {
		if !src.outType.AssignableTo(c.inType) {
			return fmt.Errorf("%w: edge %s -> %s: condition expects %s, node produces %s",
				ErrTypeMismatch, e.from, e.to, c.inType, src.outType)
		}
	}
	if t := e.transform; t != nil {
		if !src.outType.AssignableTo(t.inType) {
			return fmt.Errorf("%w: edge %s -> %s: transform expects %s, node produces %s",
				ErrTypeMismatch, e.from, e.to, t.inType, src.outType)
		}
		if !t.outType.AssignableTo(dst.inType) {
			return fmt.Errorf("%w: edge %s -> %s: transform produces %s, target expects %s",
				ErrTypeMismatch, e.from, e.to, t.outType, dst.inType)
		}
		return nil
	}
	if !src.outType.AssignableTo(dst.inType) {
		return fmt.Errorf("%w: edge %s -> %s: node produces %s, target expects %s",
			ErrTypeMismatch, e.from, e.to, src.outType, dst.inType)
	}
	return nil
}

// reachable returns the set of nodes reachable from Start.
func (g *graph) reachable() map[string]bool {
	reachable := map[string]bool{StartName: true}
	queue := []string{StartName}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, e := range g.nodes[current].edges {
			if !reachable[e.to] {
				reachable[e.to] = true
				queue = append(queue, e.to)
			}
		}
	}
	return reachable
}
