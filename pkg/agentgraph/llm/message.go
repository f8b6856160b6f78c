// Package llm defines the model boundary used by agentgraph: conversation
// messages, tool specifications, completion and streaming responses, and the
// Model interface that provider adapters implement.
package llm

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies the message sender.
type Role string

// Standard message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// NewCallID returns a generated tool call ID.
func NewCallID() string {
	return "call_" + uuid.NewString()
}

// WithCallIDs returns calls with a generated ID on every call that lacks
// one. Tool results are matched to their calls by ID.
func WithCallIDs(calls []ToolCall) []ToolCall {
	if len(calls) == 0 {
		return calls
	}
	out := make([]ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = NewCallID()
		}
		out[i] = c
	}
	return out
}

// Message is a single conversation turn.
//
// Assistant messages may carry ToolCalls. Tool messages carry the result of
// exactly one call, identified by ToolCallID; Failed marks results produced by
// a failed or rejected invocation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	Failed     bool       `json:"failed,omitempty"`
}

// HasToolCalls reports whether the message requests any tool invocation.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// SystemMessage returns a system prompt message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage returns a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage returns a plain assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolCallMessage returns an assistant message requesting the given calls.
func ToolCallMessage(calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, ToolCalls: calls}
}

// ToolResultMessage returns the tool message answering call.
func ToolResultMessage(call ToolCall, content string, failed bool) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		Name:       call.Name,
		Failed:     failed,
	}
}

// CloneMessages returns a deep copy of msgs.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.ToolCalls != nil {
			out[i].ToolCalls = make([]ToolCall, len(m.ToolCalls))
			for j, c := range m.ToolCalls {
				out[i].ToolCalls[j] = c
				if c.Arguments != nil {
					out[i].ToolCalls[j].Arguments = append(json.RawMessage(nil), c.Arguments...)
				}
			}
		}
	}
	return out
}

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// Request configures a model call.
type Request struct {
	Messages    []Message  `json:"messages"`
	Tools       []ToolSpec `json:"tools,omitempty"`
	Model       string     `json:"model,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
	Temperature float64    `json:"temperature,omitempty"`
}

// Response is the result of a completed model call.
type Response struct {
	Message      Message       `json:"message"`
	Usage        TokenUsage    `json:"usage"`
	Model        string        `json:"model,omitempty"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
}

// Content returns the assistant text.
func (r Response) Content() string {
	return r.Message.Content
}

// ToolCalls returns the tool calls requested by the model.
func (r Response) ToolCalls() []ToolCall {
	return r.Message.ToolCalls
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}
