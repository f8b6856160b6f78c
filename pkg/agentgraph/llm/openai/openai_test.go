package openai_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm/openai"
)

var fastRetry = agerrors.RetryPolicy{
	Attempts:   3,
	Base:       time.Millisecond,
	Cap:        5 * time.Millisecond,
	Multiplier: 2,
}

func newTestModel(t *testing.T, handler http.HandlerFunc, opts ...openai.Option) *openai.Model {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	opts = append([]openai.Option{openai.WithBaseURL(server.URL + "/v1"), openai.WithRetry(fastRetry)}, opts...)
	return openai.New("sk-test", opts...)
}

func TestModel_Complete(t *testing.T) {
	var captured map[string]any
	model := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "add", "arguments": "{\"a\":2,\"b\":3}"}}]
				}
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	}, openai.WithModel("gpt-4o-mini"))

	resp, err := model.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{llm.SystemMessage("be brief"), llm.UserMessage("add 2 and 3")},
		Tools: []llm.ToolSpec{{
			Name:        "add",
			Description: "adds numbers",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"a":{"type":"integer"},"b":{"type":"integer"}}}`),
		}},
	})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls(), 1)
	call := resp.ToolCalls()[0]
	assert.Equal(t, "call_1", call.ID)
	assert.Equal(t, "add", call.Name)
	assert.JSONEq(t, `{"a":2,"b":3}`, string(call.Arguments))
	assert.Equal(t, "tool_calls", resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	assert.Equal(t, "gpt-4o-mini", captured["model"])
	msgs := captured["messages"].([]any)
	assert.Len(t, msgs, 2)
	tools := captured["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "add", fn["name"])
}

func TestModel_Complete_SendsToolHistory(t *testing.T) {
	var captured struct {
		Messages []struct {
			Role       string `json:"role"`
			Content    string `json:"content"`
			ToolCallID string `json:"tool_call_id"`
			ToolCalls  []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"messages"`
	}
	model := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, `{"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"5"}}]}`)
	})

	call := llm.ToolCall{ID: "call_1", Name: "add", Arguments: json.RawMessage(`{"a":2,"b":3}`)}
	resp, err := model.Complete(context.Background(), llm.Request{Messages: []llm.Message{
		llm.UserMessage("add"),
		llm.ToolCallMessage(call),
		llm.ToolResultMessage(call, "5", false),
	}})
	require.NoError(t, err)
	assert.Equal(t, "5", resp.Content())

	require.Len(t, captured.Messages, 3)
	assert.Equal(t, "add", captured.Messages[1].ToolCalls[0].Function.Name)
	assert.Equal(t, "tool", captured.Messages[2].Role)
	assert.Equal(t, "call_1", captured.Messages[2].ToolCallID)
}

func TestModel_Complete_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	model := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit_error"}}`)
			return
		}
		fmt.Fprint(w, `{"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"ok"}}]}`)
	})

	resp, err := model.Complete(context.Background(), llm.Request{Messages: []llm.Message{llm.UserMessage("hi")}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content())
	assert.Equal(t, int32(2), calls.Load())
}

func TestModel_Complete_PermanentError(t *testing.T) {
	var calls atomic.Int32
	model := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	})

	_, err := model.Complete(context.Background(), llm.Request{Messages: []llm.Message{llm.UserMessage("hi")}})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "permanent errors are not retried")

	var provErr *agerrors.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, http.StatusUnauthorized, provErr.Status)
	assert.Equal(t, agerrors.Fatal, agerrors.ClassOf(err))
}

func TestModel_Stream(t *testing.T) {
	model := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"choices":[{"index":0,"delta":{"role":"assistant","content":"Let me "}}]}`,
			`{"choices":[{"index":0,"delta":{"content":"check."}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"add","arguments":"{\"a\":"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"2}"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
			`{"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	frames, err := model.Stream(context.Background(), llm.Request{Messages: []llm.Message{llm.UserMessage("hi")}})
	require.NoError(t, err)

	var texts int
	resp, err := llm.Collect(context.Background(), frames, func(f llm.Frame) {
		if f.Kind == llm.FrameText {
			texts++
		}
	})
	require.NoError(t, err)

	assert.Equal(t, 2, texts)
	assert.Equal(t, "Let me check.", resp.Content())
	require.Len(t, resp.ToolCalls(), 1)
	assert.Equal(t, "call_1", resp.ToolCalls()[0].ID)
	assert.JSONEq(t, `{"a":2}`, string(resp.ToolCalls()[0].Arguments))
	assert.Equal(t, "tool_calls", resp.FinishReason)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
}

func TestModel_RateLimit(t *testing.T) {
	model := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"ok"}}]}`)
	}, openai.WithRateLimit(0.001, 1))

	_, err := model.Complete(context.Background(), llm.Request{})
	require.NoError(t, err)

	// The second call must wait far longer than the deadline allows.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = model.Complete(ctx, llm.Request{})
	assert.Error(t, err)
}
