package agentgraph

// Node names used by SingleRunStrategy.
const (
	NodeCallLLM         = "callLLM"
	NodeExecuteTools    = "executeTools"
	NodeSendToolResults = "sendToolResults"
)

// SingleRunOption configures SingleRunStrategy.
type SingleRunOption func(*singleRunConfig)

type singleRunConfig struct {
	name        string
	stream      bool
	parallelism int
	request     []RequestOption
}

// WithStrategyName overrides the strategy name.
func WithStrategyName(name string) SingleRunOption {
	return func(c *singleRunConfig) { c.name = name }
}

// WithStreaming makes the first model call stream its response.
func WithStreaming(enabled bool) SingleRunOption {
	return func(c *singleRunConfig) { c.stream = enabled }
}

// WithToolParallelism caps concurrent tool calls in Parallel mode.
func WithToolParallelism(n int) SingleRunOption {
	return func(c *singleRunConfig) { c.parallelism = n }
}

// WithRequestOptions applies opts to every model request.
func WithRequestOptions(opts ...RequestOption) SingleRunOption {
	return func(c *singleRunConfig) { c.request = append(c.request, opts...) }
}

// SingleRunStrategy returns the canonical tool-using agent loop:
//
//	Start -> callLLM
//	callLLM -> executeTools       (tool calls)
//	callLLM -> Finish             (plain answer, its text is the output)
//	executeTools -> sendToolResults
//	sendToolResults -> executeTools (more tool calls)
//	sendToolResults -> Finish     (plain answer)
//
// Simultaneous tool calls are dispatched according to mode.
func SingleRunStrategy(mode ToolMode, opts ...SingleRunOption) *Strategy[string, string] {
	cfg := singleRunConfig{name: "single_run"}
	for _, opt := range opts {
		opt(&cfg)
	}

	b := NewBuilder[string, string](cfg.name)

	request := RequestLLM(cfg.request...)
	if cfg.stream {
		request = RequestLLMStreaming(cfg.request...)
	}
	call := AddNode(b, NodeCallLLM, request)
	execute := AddNode(b, NodeExecuteTools, ExecuteTools(mode, WithParallelism(cfg.parallelism)))
	send := AddNode(b, NodeSendToolResults, SendToolResults(cfg.request...))

	AddEdge(b, b.Start(), call)
	AddEdge(b, call, execute, OnToolCalls(), Transform(ToolCallsOf))
	AddEdge(b, call, b.Finish(), OnAssistantMessage(), Transform(ContentOf))
	AddEdge(b, execute, send)
	AddEdge(b, send, execute, OnToolCalls(), Transform(ToolCallsOf))
	AddEdge(b, send, b.Finish(), OnAssistantMessage(), Transform(ContentOf))

	s, err := b.Compile()
	if err != nil {
		panic("agentgraph: single run strategy: " + err.Error())
	}
	return s
}
