package agentgraph

import (
	"reflect"
)

// edge joins two nodes. Conditions are AND-ed; a transform, when present,
// maps the source output to the target input.
type edge struct {
	from, to  string
	conds     []condition
	transform *transform
}

type condition struct {
	inType reflect.Type
	eval   func(ctx Context, out any) (bool, error)
}

type transform struct {
	inType  reflect.Type
	outType reflect.Type
	apply   func(ctx Context, out any) (any, error)
}

// EdgeOption configures an edge.
type EdgeOption func(*edge)

// When adds a condition on the source node's output. The edge is taken only
// if every condition passes. Conditions may be evaluated more than once for
// the same output and must not have side effects.
func When[O any](fn func(ctx Context, out O) bool) EdgeOption {
	if fn == nil {
		panic("agentgraph: condition cannot be nil")
	}
	return WhenE(func(ctx Context, out O) (bool, error) {
		return fn(ctx, out), nil
	})
}

// WhenE is When for conditions that can fail, for example because they
// consult an external service. A condition error fails the run.
func WhenE[O any](fn func(ctx Context, out O) (bool, error)) EdgeOption {
	if fn == nil {
		panic("agentgraph: condition cannot be nil")
	}
	c := condition{
		inType: typeOf[O](),
		eval: func(ctx Context, out any) (bool, error) {
			return fn(ctx, as[O](out))
		},
	}
	return func(e *edge) {
		e.conds = append(e.conds, c)
	}
}

// Transform maps the source output O to the target input I when the edge is
// taken. An edge carries at most one transform.
func Transform[O, I any](fn func(ctx Context, out O) (I, error)) EdgeOption {
	if fn == nil {
		panic("agentgraph: transform cannot be nil")
	}
	t := &transform{
		inType:  typeOf[O](),
		outType: typeOf[I](),
		apply: func(ctx Context, out any) (any, error) {
			return fn(ctx, as[O](out))
		},
	}
	return func(e *edge) {
		if e.transform != nil {
			panic("agentgraph: edge " + e.from + " -> " + e.to + " already has a transform")
		}
		e.transform = t
	}
}

// Map is Transform for functions that cannot fail.
func Map[O, I any](fn func(out O) I) EdgeOption {
	if fn == nil {
		panic("agentgraph: transform cannot be nil")
	}
	return Transform(func(_ Context, out O) (I, error) {
		return fn(out), nil
	})
}

// matches reports whether every condition of e accepts out.
func (e *edge) matches(ctx Context, out any) (bool, error) {
	for _, c := range e.conds {
		ok, err := c.eval(ctx, out)
		if err != nil {
			return false, &EdgeError{From: e.from, To: e.to, Op: "condition", Err: err}
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// apply runs the edge transform, or passes out through unchanged.
func (e *edge) apply(ctx Context, out any) (any, error) {
	if e.transform == nil {
		return out, nil
	}
	v, err := e.transform.apply(ctx, out)
	if err != nil {
		return nil, &EdgeError{From: e.from, To: e.to, Op: "transform", Err: err}
	}
	return v, nil
}

// selectEdge scans the edges of n in declaration order and returns the first
// whose conditions pass together with the transformed value.
func selectEdge(ctx Context, n *node, out any) (*edge, any, error) {
	for _, e := range n.edges {
		ok, err := e.matches(ctx, out)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			continue
		}
		v, err := e.apply(ctx, out)
		if err != nil {
			return nil, nil, err
		}
		return e, v, nil
	}
	return nil, nil, &NoMatchingEdgeError{NodeID: n.name, Edges: len(n.edges)}
}
