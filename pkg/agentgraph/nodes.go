package agentgraph

import (
	"time"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/event"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tool"
)

// RequestOption adjusts the model request built by the model nodes.
type RequestOption func(*llm.Request)

// WithRequestModel sets the model name sent with the request.
func WithRequestModel(name string) RequestOption {
	return func(r *llm.Request) { r.Model = name }
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int) RequestOption {
	return func(r *llm.Request) { r.MaxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) RequestOption {
	return func(r *llm.Request) { r.Temperature = t }
}

// WithoutTools hides the tools from the model for this request.
func WithoutTools() RequestOption {
	return func(r *llm.Request) { r.Tools = nil }
}

// RequestLLM returns a node that appends its input as a user message (when
// not empty), asks the model for a completion over the whole history and the
// visible tools, and appends the assistant reply to the history.
//
// A model failure is returned as the node's error.
func RequestLLM(opts ...RequestOption) NodeFunc[string, llm.Response] {
	return func(ctx Context, prompt string) (llm.Response, error) {
		if prompt != "" {
			ctx.AppendHistory(llm.UserMessage(prompt))
		}
		return requestModel(ctx, false, opts)
	}
}

// RequestLLMStreaming is RequestLLM using the model's streaming API. Every
// received frame is published as a StreamFrame event.
func RequestLLMStreaming(opts ...RequestOption) NodeFunc[string, llm.Response] {
	return func(ctx Context, prompt string) (llm.Response, error) {
		if prompt != "" {
			ctx.AppendHistory(llm.UserMessage(prompt))
		}
		return requestModel(ctx, true, opts)
	}
}

// SendToolResult returns a node that makes sure the record is in the
// history and asks the model to continue.
func SendToolResult(opts ...RequestOption) NodeFunc[tool.Record, llm.Response] {
	return func(ctx Context, rec tool.Record) (llm.Response, error) {
		recordResults(ctx, []llm.ToolCall{rec.Call()}, []tool.Record{rec}, false)
		return requestModel(ctx, false, opts)
	}
}

// SendToolResults is SendToolResult for a batch of records.
func SendToolResults(opts ...RequestOption) NodeFunc[[]tool.Record, llm.Response] {
	return func(ctx Context, recs []tool.Record) (llm.Response, error) {
		calls := make([]llm.ToolCall, len(recs))
		for i, rec := range recs {
			calls[i] = rec.Call()
		}
		recordResults(ctx, calls, recs, false)
		return requestModel(ctx, false, opts)
	}
}

// ExecuteTool returns a node that runs one tool call and returns its record.
// The call and its result are appended to the history.
func ExecuteTool() NodeFunc[llm.ToolCall, tool.Record] {
	return func(ctx Context, call llm.ToolCall) (tool.Record, error) {
		recs, err := runToolCalls(ctx, []llm.ToolCall{call}, Sequential, 0)
		if err != nil {
			return tool.Record{}, err
		}
		return recs[0], nil
	}
}

// ToolsOption configures ExecuteTools.
type ToolsOption func(*toolsConfig)

type toolsConfig struct {
	limit int
}

// WithParallelism caps the number of calls running at once in Parallel
// mode. Zero or less means no cap.
func WithParallelism(n int) ToolsOption {
	return func(c *toolsConfig) { c.limit = n }
}

// ExecuteTools returns a node that runs a batch of tool calls in the given
// mode and returns their records in call order.
func ExecuteTools(mode ToolMode, opts ...ToolsOption) NodeFunc[[]llm.ToolCall, []tool.Record] {
	var cfg toolsConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(ctx Context, calls []llm.ToolCall) ([]tool.Record, error) {
		return runToolCalls(ctx, calls, mode, cfg.limit)
	}
}

// requestModel sends the history to the model and records the reply.
func requestModel(ctx Context, stream bool, opts []RequestOption) (llm.Response, error) {
	model := ctx.Model()
	if model == nil {
		return llm.Response{}, ErrNoModel
	}

	req := llm.Request{Messages: ctx.History(), Tools: ctx.Tools().Specs()}
	for _, opt := range opts {
		opt(&req)
	}

	emit(ctx, event.Event{Kind: event.ModelCallStarting})
	start := time.Now()

	var (
		resp llm.Response
		err  error
	)
	if stream {
		var frames <-chan llm.Frame
		frames, err = model.Stream(ctx, req)
		if err == nil {
			resp, err = llm.Collect(ctx, frames, func(f llm.Frame) {
				emit(ctx, event.Event{Kind: event.StreamFrame, Data: f})
			})
		}
	} else {
		resp, err = model.Complete(ctx, req)
	}

	duration := time.Since(start)
	if err != nil {
		emit(ctx, event.Event{Kind: event.ModelCallFailed, Duration: duration, Err: err})
		return llm.Response{}, err
	}

	resp.Message.Role = llm.RoleAssistant
	// IDs must be in place before the message enters the history so the
	// results can answer it.
	resp.Message.ToolCalls = llm.WithCallIDs(resp.Message.ToolCalls)
	if resp.Duration == 0 {
		resp.Duration = duration
	}
	ctx.AppendHistory(resp.Message)
	emit(ctx, event.Event{Kind: event.ModelCallCompleted, Duration: duration, Data: resp})
	return resp, nil
}
