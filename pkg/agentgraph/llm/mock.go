package llm

import (
	"context"
	"strings"
	"sync"
)

// MockModel is a scripted Model for tests and examples.
//
// Responses are returned in order and cycle once exhausted. A responder
// function, when set, takes precedence over the script.
type MockModel struct {
	mu        sync.Mutex
	responses []Response
	next      int
	err       error
	responder func(Request) (Response, error)

	// Calls records every request received, in order.
	Calls []Request
}

// NewMockModel creates a mock returning the given responses in order.
func NewMockModel(responses ...Response) *MockModel {
	return &MockModel{responses: responses}
}

// NewMockText creates a mock returning plain assistant messages.
func NewMockText(contents ...string) *MockModel {
	responses := make([]Response, len(contents))
	for i, c := range contents {
		responses[i] = TextResponse(c)
	}
	return NewMockModel(responses...)
}

// TextResponse builds a response holding a plain assistant message.
func TextResponse(content string) Response {
	return Response{Message: AssistantMessage(content), FinishReason: "stop"}
}

// ToolCallResponse builds a response requesting the given tool calls.
func ToolCallResponse(calls ...ToolCall) Response {
	return Response{Message: ToolCallMessage(calls...), FinishReason: "tool_calls"}
}

// WithError makes every call fail with err.
func (m *MockModel) WithError(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithResponder computes responses from the request.
func (m *MockModel) WithResponder(fn func(Request) (Response, error)) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = fn
	return m
}

// Complete implements Model.
func (m *MockModel) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	req.Messages = CloneMessages(req.Messages)
	m.Calls = append(m.Calls, req)

	if m.err != nil {
		return Response{}, m.err
	}
	if m.responder != nil {
		return m.responder(req)
	}
	if len(m.responses) == 0 {
		return TextResponse(""), nil
	}

	resp := m.responses[m.next%len(m.responses)]
	m.next++
	resp.Message = CloneMessages([]Message{resp.Message})[0]
	return resp, nil
}

// Stream implements Model by splitting the scripted response into frames.
func (m *MockModel) Stream(ctx context.Context, req Request) (<-chan Frame, error) {
	resp, err := m.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	var frames []Frame
	for _, word := range strings.SplitAfter(resp.Message.Content, " ") {
		if word != "" {
			frames = append(frames, Frame{Kind: FrameText, Text: word})
		}
	}
	for i := range resp.Message.ToolCalls {
		call := resp.Message.ToolCalls[i]
		frames = append(frames, Frame{Kind: FrameToolCall, ToolCall: &call})
	}
	usage := resp.Usage
	frames = append(frames, Frame{Kind: FrameEnd, FinishReason: resp.FinishReason, Usage: &usage})

	ch := make(chan Frame, len(frames))
	for _, f := range frames {
		ch <- f
	}
	close(ch)
	return ch, nil
}

// CallCount returns the number of requests received.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request, or nil before any call.
func (m *MockModel) LastCall() *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	req := m.Calls[len(m.Calls)-1]
	return &req
}

var _ Model = (*MockModel)(nil)
