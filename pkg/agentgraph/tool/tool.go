// Package tool defines the tool boundary: invocable tools with JSON
// arguments, a registry resolving tools by name, and the records produced
// by executing the calls a model requests.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
)

// Tool is an external capability the model may invoke.
type Tool interface {
	// Spec describes the tool to the model.
	Spec() llm.ToolSpec

	// Invoke runs the tool with JSON-encoded arguments and returns a
	// JSON-encoded result.
	Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Func adapts a typed Go function to Tool. Arguments are decoded into A
// (repairing malformed JSON when possible); the result R is JSON-encoded.
type Func[A, R any] struct {
	spec llm.ToolSpec
	fn   func(ctx context.Context, args A) (R, error)
}

// Option configures a Func tool.
type Option func(*llm.ToolSpec)

// WithSchema overrides the parameter schema derived from the argument type.
func WithSchema(schema json.RawMessage) Option {
	return func(s *llm.ToolSpec) {
		s.Parameters = schema
	}
}

// New creates a tool from fn. The parameter schema is reflected from A.
//
// Panics if name is empty or fn is nil.
func New[A, R any](name, description string, fn func(ctx context.Context, args A) (R, error), opts ...Option) *Func[A, R] {
	if name == "" {
		panic("tool: name cannot be empty")
	}
	if fn == nil {
		panic("tool: function cannot be nil")
	}

	spec := llm.ToolSpec{
		Name:        name,
		Description: description,
		Parameters:  SchemaFor(reflect.TypeFor[A]()),
	}
	for _, opt := range opts {
		opt(&spec)
	}
	return &Func[A, R]{spec: spec, fn: fn}
}

// Spec implements Tool.
func (f *Func[A, R]) Spec() llm.ToolSpec {
	return f.spec
}

// Invoke implements Tool.
func (f *Func[A, R]) Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	in, err := DecodeArgs[A](args)
	if err != nil {
		return nil, err
	}

	out, err := f.fn(ctx, in)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", f.spec.Name, err)
	}
	return data, nil
}

// SchemaFor reflects a JSON Schema for t. Struct fields follow their json
// tags; jsonschema tags refine descriptions and constraints. Types the
// reflector cannot describe get a bare object schema.
func SchemaFor(t reflect.Type) (schema json.RawMessage) {
	fallback := json.RawMessage(`{"type":"object"}`)
	defer func() {
		if recover() != nil {
			schema = fallback
		}
	}()

	base := t
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	r := &jsonschema.Reflector{
		DoNotReference: true,
		// Only named structs have a definition to expand.
		ExpandedStruct: base.Kind() == reflect.Struct && base.Name() != "",
	}
	s := r.ReflectFromType(base)
	if s == nil {
		return fallback
	}
	s.Version = ""

	data, err := json.Marshal(s)
	if err != nil {
		return fallback
	}
	return data
}
