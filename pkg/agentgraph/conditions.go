package agentgraph

import (
	"errors"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tool"
)

// ErrNoToolCall is returned by ToolCallOf for a response without tool calls.
var ErrNoToolCall = errors.New("response has no tool call")

// OnToolCall passes model responses requesting exactly one tool call.
func OnToolCall() EdgeOption {
	return When(func(_ Context, resp llm.Response) bool {
		return len(resp.ToolCalls()) == 1
	})
}

// OnToolCalls passes model responses requesting at least one tool call.
func OnToolCalls() EdgeOption {
	return When(func(_ Context, resp llm.Response) bool {
		return len(resp.ToolCalls()) > 0
	})
}

// OnAssistantMessage passes model responses that request no tool call.
func OnAssistantMessage() EdgeOption {
	return When(func(_ Context, resp llm.Response) bool {
		return len(resp.ToolCalls()) == 0
	})
}

// OnToolResult passes tool records that succeeded (succeeded=true) or
// failed (succeeded=false).
func OnToolResult(succeeded bool) EdgeOption {
	return When(func(_ Context, rec tool.Record) bool {
		return rec.Failed != succeeded
	})
}

// OnToolResults passes batches whose records all succeeded (succeeded=true)
// or that contain at least one failure (succeeded=false).
func OnToolResults(succeeded bool) EdgeOption {
	return When(func(_ Context, recs []tool.Record) bool {
		for _, rec := range recs {
			if rec.Failed {
				return !succeeded
			}
		}
		return succeeded
	})
}

// OnHistoryLongerThan passes when the conversation history holds more than
// n messages. It accepts the output of any node.
func OnHistoryLongerThan(n int) EdgeOption {
	return When(func(ctx Context, _ any) bool {
		if ec, ok := ctx.(*executionContext); ok {
			return ec.historyLen() > n
		}
		return len(ctx.History()) > n
	})
}

// ToolCallOf extracts the first tool call of a model response. Use it with
// Transform after OnToolCall.
func ToolCallOf(_ Context, resp llm.Response) (llm.ToolCall, error) {
	calls := resp.ToolCalls()
	if len(calls) == 0 {
		return llm.ToolCall{}, ErrNoToolCall
	}
	return calls[0], nil
}

// ToolCallsOf extracts every tool call of a model response.
func ToolCallsOf(_ Context, resp llm.Response) ([]llm.ToolCall, error) {
	if len(resp.ToolCalls()) == 0 {
		return nil, ErrNoToolCall
	}
	return append([]llm.ToolCall(nil), resp.ToolCalls()...), nil
}

// ContentOf extracts the assistant text of a model response.
func ContentOf(_ Context, resp llm.Response) (string, error) {
	return resp.Content(), nil
}
