package agentgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/event"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/rollback"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tool"
)

// TestAcceptance_Echo runs a one-node strategy against a scripted model.
func TestAcceptance_Echo(t *testing.T) {
	b := NewBuilder[string, string]("echo")
	ask := AddNode(b, "ask", RequestLLM())
	AddEdge(b, b.Start(), ask)
	AddEdge(b, ask, b.Finish(), Transform(ContentOf))
	s, err := b.Compile()
	require.NoError(t, err)

	model := llm.NewMockText("hi")
	ctx := testCtx(WithModel(model))

	answer, err := s.Run(ctx, "hello")

	require.NoError(t, err)
	assert.Equal(t, "hi", answer)
	assert.Equal(t, 1, model.CallCount())
	assert.Equal(t, []llm.Message{llm.UserMessage("hello")}, model.LastCall().Messages)
	assert.Equal(t, []llm.Message{llm.UserMessage("hello"), llm.AssistantMessage("hi")}, ctx.History())
}

// TestAcceptance_ToolLoop runs the single-run strategy through one tool call.
func TestAcceptance_ToolLoop(t *testing.T) {
	for _, mode := range []ToolMode{Sequential, Parallel} {
		t.Run(mode.String(), func(t *testing.T) {
			model := llm.NewMockModel(
				llm.ToolCallResponse(call("call_1", "add", addArgs{A: 2, B: 3})),
				llm.TextResponse("5"),
			)
			ctx, rec := recordingCtx(WithModel(model), WithTools(tool.NewRegistry(addTool())))

			answer, err := SingleRunStrategy(mode).Run(ctx, "What is 2+3?")

			require.NoError(t, err)
			assert.Equal(t, "5", answer)
			assert.Equal(t, 2, model.CallCount())

			// The second request carries the tool result.
			msgs := model.LastCall().Messages
			require.Len(t, msgs, 3)
			assert.Equal(t, llm.RoleTool, msgs[2].Role)
			assert.Equal(t, "call_1", msgs[2].ToolCallID)
			assert.Equal(t, "5", msgs[2].Content)

			assert.Len(t, model.LastCall().Tools, 1)
			assert.Len(t, ctx.History(), 4)
			assert.Len(t, rec.OfKind(event.ToolCallCompleted), 1)
			assert.Len(t, rec.OfKind(event.ModelCallCompleted), 2)
		})
	}
}

// TestAcceptance_BudgetExceeded runs a self-loop that never finishes.
func TestAcceptance_BudgetExceeded(t *testing.T) {
	b := NewBuilder[string, string]("spin")
	spin := AddNode(b, "spin", passthrough[string])
	AddEdge(b, b.Start(), spin)
	AddEdge(b, spin, b.Finish(), When(func(_ Context, s string) bool { return s == "never" }))
	AddEdge(b, spin, spin)
	s, err := b.Compile()
	require.NoError(t, err)

	ctx, rec := recordingCtx()
	_, err = s.Run(ctx, "x", WithMaxIterations(3))

	require.ErrorIs(t, err, ErrBudgetExceeded)
	// Start -> spin plus two self-loops: spin ran three times.
	assert.Len(t, rec.OfKind(event.NodeStarting), 3)
	assert.Len(t, rec.OfKind(event.AgentFailed), 1)
}

// TestAcceptance_RollbackCreatedUsers checkpoints after n1, creates two
// users, then rolls back: the users are removed newest first and the run
// continues at n1.
func TestAcceptance_RollbackCreatedUsers(t *testing.T) {
	dir := &userDirectory{}
	inverses := rollback.NewRegistry().Register("createUser", dir.removeTool())
	m := NewCheckpointManager(nil, inverses, WithManagerLogger(quietLogger()))

	n1Runs := 0
	b := NewBuilder[string, string]("users")
	n1 := AddNode(b, "n1", func(ctx Context, prompt string) (string, error) {
		n1Runs++
		if n1Runs == 1 {
			if _, err := ctx.Checkpoints().CreateCheckpoint(ctx, ctx.NodePath(), prompt, 0); err != nil {
				return "", err
			}
		}
		return prompt, nil
	})
	create := AddNode(b, "create", ExecuteTools(Sequential))
	verify := AddNode(b, "verify", func(ctx Context, recs []tool.Record) (string, error) {
		st := NodeState(ctx, func() int { return 0 })
		*st++
		if *st == 1 {
			if _, err := ctx.Checkpoints().RollbackToLatest(ctx); err != nil {
				return "", err
			}
			return "", nil
		}
		return recs[1].Output, nil
	})
	AddEdge(b, b.Start(), n1)
	AddEdge(b, n1, create, Map(func(string) []llm.ToolCall {
		return []llm.ToolCall{
			call("c1", "createUser", userArgs{Name: "A"}),
			call("c2", "createUser", userArgs{Name: "B"}),
		}
	}))
	AddEdge(b, create, verify)
	AddEdge(b, verify, b.Finish())
	s, err := b.Compile()
	require.NoError(t, err)

	ctx, rec := recordingCtx(
		WithAgentID("user-admin"),
		WithTools(tool.NewRegistry(dir.createTool())),
		WithHistory(llm.UserMessage("create A and B")))

	out, err := s.Run(ctx, "go", WithCheckpoints(m))

	require.NoError(t, err)
	assert.Equal(t, "created B", out)
	assert.Equal(t, 2, n1Runs)

	users, removed := dir.snapshot()
	assert.Equal(t, []string{"B", "A"}, removed)
	assert.Equal(t, []string{"A", "B"}, users)

	// Only the second round of calls remains in the history.
	created := 0
	for _, msg := range ctx.History() {
		if msg.Role == llm.RoleTool && msg.Name == "createUser" {
			created++
		}
	}
	assert.Equal(t, 2, created)

	completed := rec.OfKind(event.RollbackCompleted)
	require.Len(t, completed, 1)
	report := completed[0].Data.(rollback.Report)
	assert.Equal(t, 2, report.Count(rollback.StatusCompensated))
}
