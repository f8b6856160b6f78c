package agentgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/event"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tool"
)

func TestConditions_ModelResponses(t *testing.T) {
	ctx := testCtx()
	text := llm.TextResponse("hello")
	one := llm.ToolCallResponse(call("c1", "add", addArgs{}))
	two := llm.ToolCallResponse(call("c1", "add", addArgs{}), call("c2", "add", addArgs{}))

	tests := []struct {
		name string
		opt  EdgeOption
		resp llm.Response
		want bool
	}{
		{"tool call on text", OnToolCall(), text, false},
		{"tool call on one", OnToolCall(), one, true},
		{"tool call on two", OnToolCall(), two, false},
		{"tool calls on one", OnToolCalls(), one, true},
		{"tool calls on two", OnToolCalls(), two, true},
		{"tool calls on text", OnToolCalls(), text, false},
		{"assistant message on text", OnAssistantMessage(), text, true},
		{"assistant message on one", OnAssistantMessage(), one, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &edge{}
			tt.opt(e)
			ok, err := e.matches(ctx, tt.resp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestConditions_ToolResults(t *testing.T) {
	ctx := testCtx()
	good := tool.Record{Name: "add", Output: "5"}
	bad := tool.Record{Name: "add", Failed: true, Error: "boom"}

	match := func(opt EdgeOption, out any) bool {
		e := &edge{}
		opt(e)
		ok, err := e.matches(ctx, out)
		require.NoError(t, err)
		return ok
	}

	assert.True(t, match(OnToolResult(true), good))
	assert.False(t, match(OnToolResult(true), bad))
	assert.True(t, match(OnToolResult(false), bad))

	assert.True(t, match(OnToolResults(true), []tool.Record{good, good}))
	assert.False(t, match(OnToolResults(true), []tool.Record{good, bad}))
	assert.True(t, match(OnToolResults(false), []tool.Record{good, bad}))
	assert.False(t, match(OnToolResults(false), []tool.Record{good}))
}

func TestConditions_HistoryLength(t *testing.T) {
	ctx := testCtx(WithHistory(llm.UserMessage("a"), llm.AssistantMessage("b")))

	e := &edge{}
	OnHistoryLongerThan(1)(e)
	ok, err := e.matches(ctx, 42)
	require.NoError(t, err)
	assert.True(t, ok)

	e = &edge{}
	OnHistoryLongerThan(2)(e)
	ok, err = e.matches(ctx, "anything")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransforms(t *testing.T) {
	ctx := testCtx()
	resp := llm.ToolCallResponse(call("c1", "add", addArgs{A: 1}), call("c2", "add", addArgs{A: 2}))

	first, err := ToolCallOf(ctx, resp)
	require.NoError(t, err)
	assert.Equal(t, "c1", first.ID)

	all, err := ToolCallsOf(ctx, resp)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = ToolCallOf(ctx, llm.TextResponse("no calls"))
	assert.ErrorIs(t, err, ErrNoToolCall)
	_, err = ToolCallsOf(ctx, llm.TextResponse("no calls"))
	assert.ErrorIs(t, err, ErrNoToolCall)

	content, err := ContentOf(ctx, llm.TextResponse("text"))
	require.NoError(t, err)
	assert.Equal(t, "text", content)
}

func TestRequestLLM_NoModel(t *testing.T) {
	_, err := RequestLLM()(testCtx(), "hello")

	assert.ErrorIs(t, err, ErrNoModel)
}

func TestRequestLLM_Options(t *testing.T) {
	model := llm.NewMockText("ok")
	ctx := testCtx(WithModel(model), WithTools(tool.NewRegistry(addTool())))

	_, err := RequestLLM(WithRequestModel("small"), WithMaxTokens(64), WithTemperature(0.2), WithoutTools())(ctx, "")
	require.NoError(t, err)

	req := model.LastCall()
	require.NotNil(t, req)
	assert.Equal(t, "small", req.Model)
	assert.Equal(t, 64, req.MaxTokens)
	assert.InDelta(t, 0.2, req.Temperature, 1e-9)
	assert.Empty(t, req.Tools)
	// An empty prompt adds no user message.
	assert.Empty(t, req.Messages)
}

func TestRequestLLM_ModelFailure(t *testing.T) {
	model := llm.NewMockModel().WithError(errBoom)
	ctx, rec := recordingCtx(WithModel(model))

	_, err := RequestLLM()(ctx, "hello")

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, []event.Kind{event.ModelCallStarting, event.ModelCallFailed}, rec.Kinds())
	// The prompt stays in the history; no assistant message was added.
	assert.Len(t, ctx.History(), 1)
}

func TestRequestLLMStreaming(t *testing.T) {
	model := llm.NewMockText("one two three")
	ctx, rec := recordingCtx(WithModel(model))

	resp, err := RequestLLMStreaming()(ctx, "count")

	require.NoError(t, err)
	assert.Equal(t, "one two three", resp.Content())

	frames := rec.OfKind(event.StreamFrame)
	require.Len(t, frames, 4) // three words and the end frame
	assert.Equal(t, "one ", frames[0].Data.(llm.Frame).Text)

	history := ctx.History()
	require.Len(t, history, 2)
	assert.Equal(t, "one two three", history[1].Content)
	assert.Equal(t, llm.RoleAssistant, history[1].Role)
}

func TestSingleRunStrategy_Streaming(t *testing.T) {
	model := llm.NewMockModel(
		llm.ToolCallResponse(call("c1", "add", addArgs{A: 2, B: 3})),
		llm.TextResponse("the answer is 5"),
	)
	ctx, rec := recordingCtx(WithModel(model), WithTools(tool.NewRegistry(addTool())))

	s := SingleRunStrategy(Parallel, WithStrategyName("streamed"), WithStreaming(true), WithToolParallelism(2))
	answer, err := s.Run(ctx, "2+3?")

	require.NoError(t, err)
	assert.Equal(t, "streamed", s.Name())
	assert.Equal(t, "the answer is 5", answer)
	assert.NotEmpty(t, rec.OfKind(event.StreamFrame))
}

func TestSingleRunStrategy_Shape(t *testing.T) {
	s := SingleRunStrategy(Sequential)

	assert.Equal(t, "single_run", s.Name())
	assert.Equal(t, []string{NodeCallLLM, NodeExecuteTools, NodeSendToolResults}, s.NodeNames())
	assert.Equal(t, []string{NodeExecuteTools, FinishName}, s.Successors(NodeCallLLM))
	assert.Equal(t, []string{NodeExecuteTools, FinishName}, s.Successors(NodeSendToolResults))
	assert.NoError(t, s.ValidateUniqueNames())
}

func TestSingleRunStrategy_FailingToolReportedToModel(t *testing.T) {
	model := llm.NewMockModel(
		llm.ToolCallResponse(call("c1", "broken", struct{}{})),
		llm.TextResponse("the tool failed"),
	)
	ctx := testCtx(WithModel(model), WithTools(tool.NewRegistry(failingTool("broken", errBoom))))

	answer, err := SingleRunStrategy(Sequential).Run(ctx, "try it")

	require.NoError(t, err)
	assert.Equal(t, "the tool failed", answer)
	msgs := model.LastCall().Messages
	assert.Equal(t, "error: boom", msgs[len(msgs)-1].Content)
	assert.True(t, msgs[len(msgs)-1].Failed)
}
