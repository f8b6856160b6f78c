package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
)

// partialCall accumulates one streamed tool call.
type partialCall struct {
	id   string
	name string
	args strings.Builder
}

// pump reads the stream into frames and closes frames when done.
func pump(ctx context.Context, stream *goopenai.ChatCompletionStream, frames chan<- llm.Frame) {
	defer close(frames)
	defer stream.Close()

	send := func(f llm.Frame) bool {
		select {
		case frames <- f:
			return true
		case <-ctx.Done():
			return false
		}
	}

	calls := map[int]*partialCall{}
	var (
		finish string
		usage  *llm.TokenUsage
	)

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			send(llm.Frame{Err: mapError(err)})
			return
		}

		if chunk.Usage != nil {
			u := fromUsage(*chunk.Usage)
			usage = &u
		}
		for _, choice := range chunk.Choices {
			if choice.FinishReason != "" {
				finish = string(choice.FinishReason)
			}
			if choice.Delta.Content != "" {
				if !send(llm.Frame{Kind: llm.FrameText, Text: choice.Delta.Content}) {
					return
				}
			}
			for i, tc := range choice.Delta.ToolCalls {
				idx := i
				if tc.Index != nil {
					idx = *tc.Index
				}
				pc, ok := calls[idx]
				if !ok {
					pc = &partialCall{}
					calls[idx] = pc
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				pc.args.WriteString(tc.Function.Arguments)
			}
		}
	}

	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		pc := calls[idx]
		call := llm.ToolCall{ID: pc.id, Name: pc.name, Arguments: json.RawMessage(pc.args.String())}
		if !send(llm.Frame{Kind: llm.FrameToolCall, ToolCall: &call}) {
			return
		}
	}

	send(llm.Frame{Kind: llm.FrameEnd, FinishReason: finish, Usage: usage})
}
