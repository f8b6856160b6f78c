package agentgraph

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/event"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tool"
)

// quietLogger discards everything.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testCtx creates a context with a silent logger.
func testCtx(opts ...ContextOption) Context {
	return NewContext(context.Background(), append([]ContextOption{WithLogger(quietLogger())}, opts...)...)
}

// recordingCtx creates a context whose events are captured by the returned recorder.
func recordingCtx(opts ...ContextOption) (Context, *event.Recorder) {
	rec := event.NewRecorder()
	p := event.NewPipeline(event.WithLogger(quietLogger()))
	p.Subscribe(rec)
	return testCtx(append([]ContextOption{WithEvents(p)}, opts...)...), rec
}

// Helper node functions

// increment adds one to its input.
func increment(_ Context, n int) (int, error) {
	return n + 1, nil
}

// passthrough returns its input unchanged.
func passthrough[T any](_ Context, v T) (T, error) {
	return v, nil
}

// makeTrackingNode creates a node that records its execution.
func makeTrackingNode(name string, mu *sync.Mutex, tracker *[]string) NodeFunc[int, int] {
	return func(_ Context, n int) (int, error) {
		mu.Lock()
		*tracker = append(*tracker, name)
		mu.Unlock()
		return n, nil
	}
}

// linearStrategy builds Start -> inc1 -> inc2 -> Finish over ints.
func linearStrategy() *Strategy[int, int] {
	b := NewBuilder[int, int]("linear")
	inc1 := AddNode(b, "inc1", increment)
	inc2 := AddNode(b, "inc2", increment)
	AddEdge(b, b.Start(), inc1)
	AddEdge(b, inc1, inc2)
	AddEdge(b, inc2, b.Finish())
	s, err := b.Compile()
	if err != nil {
		panic(err)
	}
	return s
}

// Test tools

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

func addTool() tool.Tool {
	return tool.New("add", "Adds two integers", func(_ context.Context, args addArgs) (int, error) {
		return args.A + args.B, nil
	})
}

func failingTool(name string, err error) tool.Tool {
	return tool.New(name, "Always fails", func(_ context.Context, _ struct{}) (string, error) {
		return "", err
	})
}

type userArgs struct {
	Name string `json:"name"`
}

// userDirectory is a fake external system with create and remove operations.
type userDirectory struct {
	mu      sync.Mutex
	users   []string
	removed []string
}

func (d *userDirectory) createTool() tool.Tool {
	return tool.New("createUser", "Creates a user", func(_ context.Context, args userArgs) (string, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.users = append(d.users, args.Name)
		return "created " + args.Name, nil
	})
}

func (d *userDirectory) removeTool() tool.Tool {
	return tool.New("removeUser", "Removes a user", func(_ context.Context, args userArgs) (string, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, u := range d.users {
			if u == args.Name {
				d.users = append(d.users[:i], d.users[i+1:]...)
				break
			}
		}
		d.removed = append(d.removed, args.Name)
		return "removed " + args.Name, nil
	})
}

func (d *userDirectory) snapshot() (users, removed []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.users...), append([]string(nil), d.removed...)
}

// call builds a tool call with JSON arguments.
func call(id, name string, args any) llm.ToolCall {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return llm.ToolCall{ID: id, Name: name, Arguments: raw}
}

var errBoom = errors.New("boom")
