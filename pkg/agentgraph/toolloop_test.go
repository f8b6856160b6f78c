package agentgraph

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/event"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tool"
)

type sleepArgs struct {
	Label string `json:"label"`
	Ms    int    `json:"ms"`
}

// sleepTool waits for the requested time and reports its label. It tracks
// the highest number of concurrent invocations in peak.
func sleepTool(order *[]string, mu *sync.Mutex, peak *int32) tool.Tool {
	var running int32
	return tool.New("sleep", "Sleeps", func(ctx context.Context, args sleepArgs) (string, error) {
		n := atomic.AddInt32(&running, 1)
		defer atomic.AddInt32(&running, -1)
		for {
			p := atomic.LoadInt32(peak)
			if n <= p || atomic.CompareAndSwapInt32(peak, p, n) {
				break
			}
		}

		select {
		case <-time.After(time.Duration(args.Ms) * time.Millisecond):
		case <-ctx.Done():
			return "", ctx.Err()
		}

		mu.Lock()
		*order = append(*order, args.Label)
		mu.Unlock()
		return args.Label, nil
	})
}

func sleepCalls() []llm.ToolCall {
	return []llm.ToolCall{
		call("c1", "sleep", sleepArgs{Label: "slow", Ms: 60}),
		call("c2", "sleep", sleepArgs{Label: "medium", Ms: 30}),
		call("c3", "sleep", sleepArgs{Label: "fast", Ms: 1}),
	}
}

// TestToolMode_Parse tests mode names.
func TestToolMode_Parse(t *testing.T) {
	for _, mode := range []ToolMode{Sequential, Parallel} {
		got, err := ParseToolMode(mode.String())
		require.NoError(t, err)
		assert.Equal(t, mode, got)
	}

	got, err := ParseToolMode("")
	require.NoError(t, err)
	assert.Equal(t, Sequential, got)

	_, err = ParseToolMode("bogus")
	assert.Error(t, err)
	assert.Equal(t, "unknown", ToolMode(9).String())
}

// TestRunToolCalls_Sequential tests in-order execution.
func TestRunToolCalls_Sequential(t *testing.T) {
	var mu sync.Mutex
	var order []string
	var peak int32
	ctx := testCtx(WithTools(tool.NewRegistry(sleepTool(&order, &mu, &peak))))

	recs, err := runToolCalls(ctx, sleepCalls(), Sequential, 0)

	require.NoError(t, err)
	assert.Equal(t, []string{"slow", "medium", "fast"}, order)
	assert.Equal(t, int32(1), peak)
	require.Len(t, recs, 3)
	assert.Equal(t, "slow", recs[0].Output)
	assert.Equal(t, "fast", recs[2].Output)
}

// TestRunToolCalls_ParallelKeepsCallOrder tests that results follow call
// order even though calls complete in a different order.
func TestRunToolCalls_ParallelKeepsCallOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	var peak int32
	ctx := testCtx(WithTools(tool.NewRegistry(sleepTool(&order, &mu, &peak))))

	recs, err := runToolCalls(ctx, sleepCalls(), Parallel, 0)

	require.NoError(t, err)
	assert.Equal(t, []string{"fast", "medium", "slow"}, order)
	assert.Equal(t, int32(3), peak)

	require.Len(t, recs, 3)
	assert.Equal(t, []string{"c1", "c2", "c3"}, []string{recs[0].CallID, recs[1].CallID, recs[2].CallID})

	history := ctx.History()
	require.Len(t, history, 4)
	assert.Len(t, history[0].ToolCalls, 3)
	assert.Equal(t, "c1", history[1].ToolCallID)
	assert.Equal(t, "slow", history[1].Content)
	assert.Equal(t, "c2", history[2].ToolCallID)
	assert.Equal(t, "c3", history[3].ToolCallID)
}

// TestRunToolCalls_ParallelRunsConcurrently tests that parallel calls are
// in flight at the same time.
func TestRunToolCalls_ParallelRunsConcurrently(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	barrier := tool.New("barrier", "Waits for the other call", func(ctx context.Context, _ struct{}) (string, error) {
		arrived.Done()
		done := make(chan struct{})
		go func() {
			arrived.Wait()
			close(done)
		}()
		select {
		case <-done:
			return "ok", nil
		case <-time.After(2 * time.Second):
			return "", errBoom
		}
	})
	ctx := testCtx(WithTools(tool.NewRegistry(barrier)))

	recs, err := runToolCalls(ctx, []llm.ToolCall{
		{ID: "a", Name: "barrier"},
		{ID: "b", Name: "barrier"},
	}, Parallel, 0)

	require.NoError(t, err)
	assert.False(t, recs[0].Failed)
	assert.False(t, recs[1].Failed)
}

// TestRunToolCalls_ParallelismLimit tests the concurrency cap.
func TestRunToolCalls_ParallelismLimit(t *testing.T) {
	var mu sync.Mutex
	var order []string
	var peak int32
	ctx := testCtx(WithTools(tool.NewRegistry(sleepTool(&order, &mu, &peak))))

	calls := make([]llm.ToolCall, 6)
	for i := range calls {
		calls[i] = call("", "sleep", sleepArgs{Label: "x", Ms: 10})
	}

	recs, err := runToolCalls(ctx, calls, Parallel, 2)

	require.NoError(t, err)
	assert.Len(t, recs, 6)
	assert.LessOrEqual(t, peak, int32(2))
}

// TestRunToolCalls_AssignsCallIDs tests calls without IDs.
func TestRunToolCalls_AssignsCallIDs(t *testing.T) {
	ctx := testCtx(WithTools(tool.NewRegistry(addTool())))

	recs, err := runToolCalls(ctx, []llm.ToolCall{call("", "add", addArgs{A: 1, B: 1})}, Sequential, 0)

	require.NoError(t, err)
	assert.Regexp(t, `^call_`, recs[0].CallID)
	history := ctx.History()
	require.Len(t, history, 2)
	assert.Equal(t, recs[0].CallID, history[0].ToolCalls[0].ID)
	assert.Equal(t, recs[0].CallID, history[1].ToolCallID)
}

// TestRunToolCalls_UnknownTool tests that unknown tools produce a rejected
// record instead of an error.
func TestRunToolCalls_UnknownTool(t *testing.T) {
	ctx, rec := recordingCtx(WithTools(tool.NewRegistry(addTool())))

	recs, err := runToolCalls(ctx, []llm.ToolCall{call("c1", "subtract", addArgs{A: 1, B: 1})}, Sequential, 0)

	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Failed)
	assert.True(t, recs[0].Rejected)
	assert.Contains(t, recs[0].Error, "subtract")

	assert.Equal(t, []event.Kind{event.ToolCallStarting, event.ToolValidationFailed}, rec.Kinds())
	validation := rec.OfKind(event.ToolValidationFailed)[0]
	assert.Error(t, validation.Err)

	history := ctx.History()
	require.Len(t, history, 2)
	assert.True(t, history[1].Failed)
	assert.Contains(t, history[1].Content, "error: ")
}

// TestRunToolCalls_InvalidArguments tests arguments that do not decode.
func TestRunToolCalls_InvalidArguments(t *testing.T) {
	ctx, rec := recordingCtx(WithTools(tool.NewRegistry(addTool())))

	recs, err := runToolCalls(ctx, []llm.ToolCall{
		{ID: "c1", Name: "add", Arguments: json.RawMessage(`{"a": "two", "b": 3}`)},
	}, Sequential, 0)

	require.NoError(t, err)
	assert.True(t, recs[0].Rejected)
	assert.Len(t, rec.OfKind(event.ToolValidationFailed), 1)
}

// TestRunToolCalls_ToolFailure tests that failing tools do not fail the batch.
func TestRunToolCalls_ToolFailure(t *testing.T) {
	ctx, rec := recordingCtx(WithTools(tool.NewRegistry(addTool(), failingTool("broken", errBoom))))

	recs, err := runToolCalls(ctx, []llm.ToolCall{
		call("c1", "broken", struct{}{}),
		call("c2", "add", addArgs{A: 2, B: 3}),
	}, Parallel, 0)

	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Failed)
	assert.False(t, recs[0].Rejected)
	assert.Equal(t, "boom", recs[0].Error)
	assert.False(t, recs[1].Failed)
	assert.Equal(t, "5", recs[1].Output)

	assert.Len(t, rec.OfKind(event.ToolCallStarting), 2)
	assert.Len(t, rec.OfKind(event.ToolCallFailed), 1)
	assert.Len(t, rec.OfKind(event.ToolCallCompleted), 1)

	history := ctx.History()
	require.Len(t, history, 3)
	assert.Equal(t, "error: boom", history[1].Content)
	assert.Equal(t, "5", history[2].Content)
}

// TestRunToolCalls_CancellationAppendsNothing tests that a cancelled batch
// leaves the history untouched.
func TestRunToolCalls_CancellationAppendsNothing(t *testing.T) {
	for _, mode := range []ToolMode{Sequential, Parallel} {
		t.Run(mode.String(), func(t *testing.T) {
			goCtx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var mu sync.Mutex
			var order []string
			var peak int32
			ctx := NewContext(goCtx,
				WithLogger(quietLogger()),
				WithTools(tool.NewRegistry(sleepTool(&order, &mu, &peak))),
				WithHistory(llm.UserMessage("go")))

			go func() {
				time.Sleep(10 * time.Millisecond)
				cancel()
			}()

			_, err := runToolCalls(ctx, []llm.ToolCall{
				call("c1", "sleep", sleepArgs{Label: "a", Ms: 5000}),
				call("c2", "sleep", sleepArgs{Label: "b", Ms: 5000}),
			}, mode, 0)

			assert.ErrorIs(t, err, context.Canceled)
			assert.Len(t, ctx.History(), 1)
		})
	}
}

// TestRunToolCalls_CallMessageNotDuplicated tests that calls already
// requested by the model are not requested again.
func TestRunToolCalls_CallMessageNotDuplicated(t *testing.T) {
	c := call("c1", "add", addArgs{A: 2, B: 3})
	ctx := testCtx(
		WithTools(tool.NewRegistry(addTool())),
		WithHistory(llm.UserMessage("add"), llm.ToolCallMessage(c)))

	_, err := runToolCalls(ctx, []llm.ToolCall{c}, Sequential, 0)
	require.NoError(t, err)

	history := ctx.History()
	require.Len(t, history, 3)
	assert.Equal(t, llm.RoleTool, history[2].Role)
	assert.Equal(t, "c1", history[2].ToolCallID)
}

// TestSendToolResults_DoesNotDuplicate tests that results already in the
// history are not added twice.
func TestSendToolResults_DoesNotDuplicate(t *testing.T) {
	model := llm.NewMockText("done")
	ctx := testCtx(WithModel(model), WithTools(tool.NewRegistry(addTool())))

	recs, err := ExecuteTools(Sequential)(ctx, []llm.ToolCall{call("c1", "add", addArgs{A: 2, B: 3})})
	require.NoError(t, err)

	resp, err := SendToolResults()(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content())

	history := ctx.History()
	require.Len(t, history, 3)
	assert.Equal(t, llm.RoleAssistant, history[0].Role)
	assert.Equal(t, llm.RoleTool, history[1].Role)
	assert.Equal(t, "done", history[2].Content)

	// The model saw the call and its result.
	assert.Len(t, model.LastCall().Messages, 2)
}

// TestSendToolResult_RecordsMissingResult tests records produced outside
// ExecuteTool.
func TestSendToolResult_RecordsMissingResult(t *testing.T) {
	model := llm.NewMockText("ok")
	ctx := testCtx(WithModel(model))

	rec := tool.Record{CallID: "c9", Name: "lookup", Output: "42"}
	_, err := SendToolResult()(ctx, rec)
	require.NoError(t, err)

	history := ctx.History()
	require.Len(t, history, 3)
	assert.Equal(t, "c9", history[0].ToolCalls[0].ID)
	assert.Equal(t, "42", history[1].Content)
}

// TestExecuteTool_Single tests the single-call node.
func TestExecuteTool_Single(t *testing.T) {
	ctx := testCtx(WithTools(tool.NewRegistry(addTool())))

	rec, err := ExecuteTool()(ctx, call("c1", "add", addArgs{A: 20, B: 22}))

	require.NoError(t, err)
	assert.Equal(t, "42", rec.Output)
	assert.Equal(t, "add", rec.Name)
}

// TestSingleRun_RepeatedCallIDs tests a model that reuses the same call ID
// on consecutive turns. Each turn gets its own result.
func TestSingleRun_RepeatedCallIDs(t *testing.T) {
	model := llm.NewMockModel(
		llm.ToolCallResponse(call("call_0", "add", addArgs{A: 1, B: 2})),
		llm.ToolCallResponse(call("call_0", "add", addArgs{A: 3, B: 4})),
		llm.TextResponse("done"),
	)
	ctx := testCtx(WithModel(model), WithTools(tool.NewRegistry(addTool())))

	answer, err := SingleRunStrategy(Sequential).Run(ctx, "add twice")
	require.NoError(t, err)
	assert.Equal(t, "done", answer)
	assert.Equal(t, 3, model.CallCount())

	msgs := model.LastCall().Messages
	require.Len(t, msgs, 5)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
	assert.Equal(t, "call_0", msgs[1].ToolCalls[0].ID)
	assert.Equal(t, "3", msgs[2].Content)
	assert.Equal(t, "call_0", msgs[3].ToolCalls[0].ID)
	assert.Equal(t, llm.RoleTool, msgs[4].Role)
	assert.Equal(t, "call_0", msgs[4].ToolCallID)
	assert.Equal(t, "7", msgs[4].Content)
}

// TestSingleRun_ModelCallWithoutID tests that a tool call the model sends
// without an ID is requested once and answered under a generated ID.
func TestSingleRun_ModelCallWithoutID(t *testing.T) {
	model := llm.NewMockModel(
		llm.ToolCallResponse(call("", "add", addArgs{A: 2, B: 3})),
		llm.TextResponse("5"),
	)
	ctx := testCtx(WithModel(model), WithTools(tool.NewRegistry(addTool())))

	answer, err := SingleRunStrategy(Sequential).Run(ctx, "What is 2+3?")
	require.NoError(t, err)
	assert.Equal(t, "5", answer)

	history := ctx.History()
	require.Len(t, history, 4)
	var requests int
	for _, m := range history {
		if len(m.ToolCalls) > 0 {
			requests++
		}
	}
	assert.Equal(t, 1, requests)

	id := history[1].ToolCalls[0].ID
	assert.Regexp(t, `^call_`, id)
	assert.Equal(t, llm.RoleTool, history[2].Role)
	assert.Equal(t, id, history[2].ToolCallID)
}

// TestRunToolCalls_RerunAfterAnsweredTurn tests executing a call whose ID
// was already answered: it is requested again with its new result.
func TestRunToolCalls_RerunAfterAnsweredTurn(t *testing.T) {
	c := call("c1", "add", addArgs{A: 2, B: 3})
	ctx := testCtx(
		WithTools(tool.NewRegistry(addTool())),
		WithHistory(llm.UserMessage("add"), llm.ToolCallMessage(c), llm.ToolResultMessage(c, "5", false)))

	_, err := runToolCalls(ctx, []llm.ToolCall{c}, Sequential, 0)
	require.NoError(t, err)

	history := ctx.History()
	require.Len(t, history, 5)
	assert.Equal(t, "c1", history[3].ToolCalls[0].ID)
	assert.Equal(t, "c1", history[4].ToolCallID)
}
