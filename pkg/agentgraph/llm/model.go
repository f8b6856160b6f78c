package llm

import (
	"context"
	"errors"
	"strings"
)

// Model is a language model client.
//
// Complete returns the full assistant response. Stream returns a channel of
// frames that is closed after the end frame or after a frame carrying Err.
// Both must honour ctx cancellation.
type Model interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request) (<-chan Frame, error)
}

// FrameKind identifies a streaming frame.
type FrameKind int

// Stream frame kinds.
const (
	FrameText FrameKind = iota
	FrameToolCall
	FrameEnd
)

// String returns the frame kind name.
func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameToolCall:
		return "tool_call"
	case FrameEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Frame is one piece of a streamed response.
type Frame struct {
	Kind         FrameKind
	Text         string      // FrameText: appended text
	ToolCall     *ToolCall   // FrameToolCall: a complete tool call
	FinishReason string      // FrameEnd
	Usage        *TokenUsage // FrameEnd, optional
	Err          error       // set when streaming failed
}

// ErrStreamIncomplete indicates a stream closed without an end frame.
var ErrStreamIncomplete = errors.New("stream closed before end frame")

// Collect drains frames into a Response. The optional onFrame callback
// observes each frame before it is folded in.
func Collect(ctx context.Context, frames <-chan Frame, onFrame func(Frame)) (Response, error) {
	var (
		text  strings.Builder
		resp  Response
		ended bool
	)
	resp.Message.Role = RoleAssistant

	for !ended {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return Response{}, ErrStreamIncomplete
			}
			if f.Err != nil {
				return Response{}, f.Err
			}
			if f.Kind == FrameToolCall && f.ToolCall != nil && f.ToolCall.ID == "" {
				call := *f.ToolCall
				call.ID = NewCallID()
				f.ToolCall = &call
			}
			if onFrame != nil {
				onFrame(f)
			}
			switch f.Kind {
			case FrameText:
				text.WriteString(f.Text)
			case FrameToolCall:
				if f.ToolCall != nil {
					resp.Message.ToolCalls = append(resp.Message.ToolCalls, *f.ToolCall)
				}
			case FrameEnd:
				resp.FinishReason = f.FinishReason
				if f.Usage != nil {
					resp.Usage = *f.Usage
				}
				ended = true
			}
		}
	}

	resp.Message.Content = text.String()
	return resp, nil
}
