package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/registry"
)

// ErrUnknownTool indicates a call named a tool that is not registered
// (or not visible in the current view).
var ErrUnknownTool = agerrors.ErrUnknownTool

// Registry resolves tools by name. It is read-only once a run starts and may
// be shared by concurrent runs.
type Registry struct {
	tools *registry.Registry[string, Tool]
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: registry.New[string, Tool]()}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool. Panics on a nil tool, an empty name or a duplicate.
func (r *Registry) Register(t Tool) *Registry {
	if t == nil {
		panic("tool: cannot register nil tool")
	}
	name := t.Spec().Name
	if name == "" {
		panic("tool: cannot register tool with empty name")
	}
	if !r.tools.Add(name, t) {
		panic(fmt.Sprintf("tool: duplicate tool name: %s", name))
	}
	return r
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	return r.tools.Get(name)
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return r.tools.Keys()
}

// Specs returns the specifications of all tools in registration order.
func (r *Registry) Specs() []llm.ToolSpec {
	if r == nil {
		return nil
	}
	tools := r.tools.Values()
	specs := make([]llm.ToolSpec, len(tools))
	for i, t := range tools {
		specs[i] = t.Spec()
	}
	return specs
}

// View returns a registry restricted to the named tools.
func (r *Registry) View(names ...string) *Registry {
	if r == nil {
		return NewRegistry()
	}
	return &Registry{tools: r.tools.Subset(names...)}
}

// Invoke runs the named tool. An unregistered name yields ErrUnknownTool.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, &agerrors.UnknownToolError{Name: name}
	}
	return t.Invoke(ctx, args)
}

// Execute runs one model-requested call and folds the outcome into a Record.
// Failures never escape as errors: an unknown tool or undecodable arguments
// produce a rejected record, any other error a failed record. Only ctx
// cancellation is reported through the record's Err for the caller to act on.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) (rec Record) {
	rec = Record{CallID: call.ID, Name: call.Name, Args: call.Arguments}
	start := time.Now()
	defer func() { rec.Duration = time.Since(start) }()

	t, ok := r.Get(call.Name)
	if !ok {
		rec.reject(&agerrors.UnknownToolError{Name: call.Name})
		return rec
	}

	out, err := invokeSafely(ctx, t, call.Arguments)
	switch {
	case err == nil:
		rec.Output = ResultText(out)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		rec.fail(err)
		rec.Err = err
	default:
		var argErr *agerrors.ArgumentError
		if errors.As(err, &argErr) {
			rec.reject(err)
		} else {
			rec.fail(err)
		}
	}
	return rec
}

// invokeSafely converts a panicking tool into a failed invocation.
func invokeSafely(ctx context.Context, t Tool, args json.RawMessage) (out json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool %s panicked: %v", t.Spec().Name, p)
		}
	}()
	return t.Invoke(ctx, args)
}
