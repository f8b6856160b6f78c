package main

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/rollback"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tool"
)

type addArgs struct {
	A float64 `json:"a" jsonschema:"description=First addend"`
	B float64 `json:"b" jsonschema:"description=Second addend"`
}

type clockArgs struct {
	Zone string `json:"zone,omitempty" jsonschema:"description=IANA time zone (UTC when empty)"`
}

type noteArgs struct {
	Title string `json:"title" jsonschema:"description=Note title"`
	Body  string `json:"body,omitempty" jsonschema:"description=Note text"`
}

// notebook is the side-effecting demo tool set. Writing a note is undone by
// deleting it when a run rolls back.
type notebook struct {
	mu    sync.Mutex
	notes map[string]string
}

func newNotebook() *notebook {
	return &notebook{notes: make(map[string]string)}
}

func (n *notebook) write(_ context.Context, args noteArgs) (string, error) {
	if args.Title == "" {
		return "", fmt.Errorf("title is required")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes[args.Title] = args.Body
	return "saved " + args.Title, nil
}

func (n *notebook) remove(_ context.Context, args noteArgs) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.notes[args.Title]; !ok {
		return "", fmt.Errorf("no note %q", args.Title)
	}
	delete(n.notes, args.Title)
	return "deleted " + args.Title, nil
}

func (n *notebook) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.notes))
	for title := range n.notes {
		out = append(out, title)
	}
	slices.Sort(out)
	return out
}

// builtinTools returns the tools offered to the model and the inverses used
// on rollback.
func builtinTools(nb *notebook) (*tool.Registry, *rollback.Registry) {
	add := tool.New("add", "Adds two numbers", func(_ context.Context, args addArgs) (float64, error) {
		return args.A + args.B, nil
	})
	clock := tool.New("clock", "Returns the current time", func(_ context.Context, args clockArgs) (string, error) {
		loc := time.UTC
		if args.Zone != "" {
			var err error
			if loc, err = time.LoadLocation(args.Zone); err != nil {
				return "", err
			}
		}
		return time.Now().In(loc).Format(time.RFC3339), nil
	})
	write := tool.New("write_note", "Saves a note under a title", nb.write)
	del := tool.New("delete_note", "Deletes the note with a title", nb.remove)

	tools := tool.NewRegistry(add, clock, write, del)
	inverses := rollback.NewRegistry().Register("write_note", del)
	return tools, inverses
}
