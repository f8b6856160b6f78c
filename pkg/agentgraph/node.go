package agentgraph

import (
	"fmt"
	"reflect"
)

// Reserved names of the pseudo-nodes every strategy owns.
const (
	StartName  = "__start__"
	FinishName = "__finish__"
)

// NodeFunc is the signature of a node action. It receives the value
// delivered by the incoming edge and returns the value handed to the
// outgoing edges.
type NodeFunc[In, Out any] func(ctx Context, in In) (Out, error)

// NodeRef is a typed handle on a node of a strategy under construction.
// The type parameters are the node's input and output types; AddEdge uses
// them to check edges at Compile time.
type NodeRef[In, Out any] struct {
	name string
}

// Name returns the node name.
func (r NodeRef[In, Out]) Name() string {
	return r.name
}

func (r NodeRef[In, Out]) nodeName() string { return r.name }

// Ref is implemented by every NodeRef regardless of its types.
type Ref interface {
	nodeName() string
}

type nodeKind int

const (
	kindAction nodeKind = iota
	kindStart
	kindFinish
	kindSubgraph
)

// node is the type-erased form of a strategy step.
type node struct {
	name    string
	kind    nodeKind
	inType  reflect.Type
	outType reflect.Type

	run      func(ctx Context, in any) (any, error)
	sub      *graph
	toolView []string // nil keeps the parent's tools
	viewSet  bool

	edges []*edge
}

// typeOf returns the reflect type tag of T, including interface types.
func typeOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// coerce converts v to t when the static types differ but are assignable.
// nil values and interface targets pass through unchanged.
func coerce(v any, t reflect.Type) any {
	if v == nil || t.Kind() == reflect.Interface {
		return v
	}
	rv := reflect.ValueOf(v)
	if rv.Type() == t {
		return v
	}
	if rv.Type().ConvertibleTo(t) {
		return rv.Convert(t).Interface()
	}
	return v
}

// as converts an erased value back to T. A nil value yields T's zero value.
func as[T any](v any) T {
	if v == nil {
		var zero T
		return zero
	}
	if t, ok := v.(T); ok {
		return t
	}
	c := coerce(v, typeOf[T]())
	t, ok := c.(T)
	if !ok {
		panic(fmt.Sprintf("agentgraph: value of type %T is not assignable to %s", v, typeOf[T]()))
	}
	return t
}

// zeroOf returns the zero value of t as an interface value.
func zeroOf(t reflect.Type) any {
	if t == nil || t.Kind() == reflect.Interface {
		return nil
	}
	return reflect.Zero(t).Interface()
}
