package agentgraph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/event"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tool"
)

// ToolMode selects how simultaneous tool calls are dispatched.
type ToolMode int

const (
	// Sequential runs calls one after another in call order.
	Sequential ToolMode = iota
	// Parallel runs calls concurrently and waits for all of them.
	Parallel
)

// String returns the mode name.
func (m ToolMode) String() string {
	switch m {
	case Sequential:
		return "sequential"
	case Parallel:
		return "parallel"
	default:
		return "unknown"
	}
}

// ParseToolMode is the inverse of ToolMode.String.
func ParseToolMode(s string) (ToolMode, error) {
	switch strings.ToLower(s) {
	case "", "sequential":
		return Sequential, nil
	case "parallel":
		return Parallel, nil
	default:
		return Sequential, fmt.Errorf("unknown tool mode %q", s)
	}
}

// historyUpdater is implemented by contexts that can append to the history
// based on its current contents in one atomic step.
type historyUpdater interface {
	updateHistory(fn func(history []llm.Message) []llm.Message)
}

// runToolCalls executes calls with the context's tools and folds the results
// into the history. Tool failures become failed records; only cancellation
// is returned as an error, in which case the history is left untouched.
//
// In Parallel mode at most limit calls run at once (0 means no limit). The
// records are returned, and appended to history, in call order regardless of
// completion order.
func runToolCalls(ctx Context, calls []llm.ToolCall, mode ToolMode, limit int) ([]tool.Record, error) {
	calls = llm.WithCallIDs(calls)
	records := make([]tool.Record, len(calls))

	run := func(callCtx context.Context, i int) error {
		records[i] = executeCall(ctx, callCtx, calls[i])
		return records[i].Err
	}

	var err error
	switch mode {
	case Parallel:
		g, gctx := errgroup.WithContext(ctx)
		if limit > 0 {
			g.SetLimit(limit)
		}
		for i := range calls {
			g.Go(func() error { return run(gctx, i) })
		}
		err = g.Wait()
	default:
		for i := range calls {
			if err = ctx.Err(); err != nil {
				break
			}
			if err = run(ctx, i); err != nil {
				break
			}
		}
	}
	if err != nil {
		if cause := ctx.Err(); cause != nil {
			return nil, cause
		}
		return nil, err
	}

	recordResults(ctx, calls, records, true)
	return records, nil
}

// executeCall runs a single call, emitting its lifecycle events.
func executeCall(ctx Context, callCtx context.Context, call llm.ToolCall) tool.Record {
	emit(ctx, event.Event{
		Kind: event.ToolCallStarting,
		Data: tool.Record{CallID: call.ID, Name: call.Name, Args: call.Arguments},
	})

	rec := ctx.Tools().Execute(callCtx, call)
	if rec.Err != nil {
		return rec
	}

	observability.ToolFinished(ctx.Logger(), rec)

	evt := event.Event{Kind: event.ToolCallCompleted, Duration: rec.Duration, Data: rec}
	switch {
	case rec.Rejected:
		evt.Kind = event.ToolValidationFailed
		evt.Err = errors.New(rec.Error)
	case rec.Failed:
		evt.Kind = event.ToolCallFailed
		evt.Err = errors.New(rec.Error)
	}
	emit(ctx, evt)
	return rec
}

// recordResults appends, atomically, the messages recording records.
//
// When the trailing assistant turn of the history requested every one of
// calls, only the results are appended. Otherwise a tool-call message for
// calls is appended first. Results already answering the trailing turn are
// skipped, unless executed is set: freshly executed calls whose IDs were
// already answered are a new turn reusing the IDs.
func recordResults(ctx Context, calls []llm.ToolCall, records []tool.Record, executed bool) {
	if len(calls) == 0 {
		return
	}
	build := func(history []llm.Message) []llm.Message {
		requested, answered := trailingTurn(history)
		reuse := requested != nil
		for _, c := range calls {
			if !requested[c.ID] || (executed && answered[c.ID]) {
				reuse = false
				break
			}
		}

		var out []llm.Message
		if !reuse {
			out = append(out, llm.ToolCallMessage(calls...))
			answered = nil
		}
		for _, rec := range records {
			if !answered[rec.CallID] {
				out = append(out, rec.Message())
			}
		}
		return out
	}

	if u, ok := ctx.(historyUpdater); ok {
		u.updateHistory(build)
		return
	}
	ctx.AppendHistory(build(ctx.History())...)
}

// trailingTurn returns the call IDs requested by the last assistant message
// and the IDs answered by the tool messages after it. Both are nil unless
// the history ends with a tool-call message followed only by tool results.
func trailingTurn(history []llm.Message) (requested, answered map[string]bool) {
	for i := len(history) - 1; i >= 0; i-- {
		switch m := history[i]; m.Role {
		case llm.RoleTool:
			continue
		case llm.RoleAssistant:
			if !m.HasToolCalls() {
				return nil, nil
			}
			requested = make(map[string]bool, len(m.ToolCalls))
			for _, c := range m.ToolCalls {
				requested[c.ID] = true
			}
			answered = make(map[string]bool)
			for _, r := range history[i+1:] {
				answered[r.ToolCallID] = true
			}
			return requested, answered
		default:
			return nil, nil
		}
	}
	return nil, nil
}
