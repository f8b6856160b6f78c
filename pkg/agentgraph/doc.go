/*
Package agentgraph runs conversational AI agents as typed strategy graphs.

# Overview

A strategy is a statically composed graph of nodes joined by conditional,
typed edges. Each node is a function from an input to an output; the
interpreter runs the current node, picks the first outgoing edge whose
conditions accept the output, applies the edge's transform and moves on,
until the Finish node is reached. Agents alternate between a language model
and tools this way until the model answers without asking for a tool.

agentgraph provides:
  - Generic node and edge types checked when the strategy is compiled
  - Nested strategies (subgraphs) with restricted tool views
  - Sequential or parallel execution of simultaneous tool calls
  - Checkpoints with rollback of tool side effects
  - A failure-isolated event pipeline feeding logs, traces and metrics

# Basic Usage

	b := agentgraph.NewBuilder[string, string]("echo")
	ask := agentgraph.AddNode(b, "ask", agentgraph.RequestLLM())
	agentgraph.AddEdge(b, b.Start(), ask)
	agentgraph.AddEdge(b, ask, b.Finish(), agentgraph.Transform(agentgraph.ContentOf))

	strategy, err := b.Compile()
	if err != nil {
	    log.Fatal(err)
	}

	ctx := agentgraph.NewContext(context.Background(), agentgraph.WithModel(model))
	answer, err := strategy.Run(ctx, "hello")

# Edges

Edges leaving a node are tried in the order they were added. The first one
whose conditions all pass is taken; an edge without conditions always
passes, so it works as a default when added last. If no edge passes the run
fails with a *NoMatchingEdgeError.

	agentgraph.AddEdge(b, call, exec, agentgraph.OnToolCalls(), agentgraph.Transform(agentgraph.ToolCallsOf))
	agentgraph.AddEdge(b, call, b.Finish(), agentgraph.OnAssistantMessage(), agentgraph.Transform(agentgraph.ContentOf))

Conditions receive the Context and may block, for example to consult the
fact lookup, but must not have side effects.

# Tools

ExecuteTool and ExecuteTools dispatch model-requested calls to the tools of
the Context. Failing tools do not fail the run: their records are marked
failed and reported to the model so the graph can decide what to do.

	exec := agentgraph.AddNode(b, "executeTools", agentgraph.ExecuteTools(agentgraph.Parallel))

# Iteration Budget

Every edge traversal counts against the run's budget (default 1000, see
WithMaxIterations). A run that would exceed it fails with a
*BudgetExceededError, which distinguishes a looping agent from other
failures.

# Checkpoints

A CheckpointManager snapshots the history together with the node to
continue at. RollbackToCheckpoint reverts the tool calls made since the
snapshot using the inverses registered in a rollback.Registry, restores
the history and continues the run at the checkpointed node.

	mgr := agentgraph.NewCheckpointManager(store, inverses, agentgraph.WithContinuous(true))
	answer, err := strategy.Run(ctx, prompt, agentgraph.WithCheckpoints(mgr), agentgraph.WithResume())

# Observability

Runs log through slog (see WithObservabilityLogger) and publish events on
the Context's event.Pipeline. WithTracing and WithMetrics enable
OpenTelemetry spans and metrics; the observability package also provides
log and Prometheus subscribers.
*/
package agentgraph
