package agentgraph

import (
	"log/slog"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
)

// runConfig holds configuration for strategy execution.
type runConfig struct {
	maxIterations int
	checkpoints   *CheckpointManager
	resume        bool
	logger        *slog.Logger

	tracer  *observability.Tracer
	metrics *observability.Metrics
}

// defaultRunConfig returns the default execution configuration.
func defaultRunConfig() runConfig {
	return runConfig{maxIterations: 1000}
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithMaxIterations sets the maximum number of edge transitions per run,
// counted across subgraphs.
// Default: 1000
//
// This prevents badly wired conditions from looping forever. A run that
// would exceed the budget fails with a *BudgetExceededError.
//
// Example:
//
//	out, err := strategy.Run(ctx, "hello", agentgraph.WithMaxIterations(50))
func WithMaxIterations(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithCheckpoints installs a checkpoint manager for the run. Nodes reach it
// through Context.Checkpoints; in continuous mode the interpreter also
// checkpoints after every transition.
func WithCheckpoints(m *CheckpointManager) RunOption {
	return func(c *runConfig) {
		c.checkpoints = m
	}
}

// WithResume rolls the agent back to its latest checkpoint before the run
// starts and continues from there. Without checkpoints the run starts from
// the beginning. Requires WithCheckpoints.
func WithResume() RunOption {
	return func(c *runConfig) {
		c.resume = true
	}
}

// WithObservabilityLogger sets the logger for run and node lifecycle logs.
// Defaults to the context's logger.
func WithObservabilityLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithTracing enables OpenTelemetry spans for the run and each node, using
// the global tracer provider.
func WithTracing(enabled bool) RunOption {
	return func(c *runConfig) {
		c.tracer = nil
		if enabled {
			c.tracer = observability.NewTracer(nil)
		}
	}
}

// WithTracer enables tracing with the given tracer.
func WithTracer(t *observability.Tracer) RunOption {
	return func(c *runConfig) {
		c.tracer = t
	}
}

// WithMetrics enables OpenTelemetry metrics on the global meter provider.
// Metrics are fed from the run's events.
func WithMetrics(enabled bool) RunOption {
	return func(c *runConfig) {
		c.metrics = nil
		if enabled {
			c.metrics = observability.GlobalMetrics()
		}
	}
}

// WithInstruments enables metrics recorded on m.
func WithInstruments(m *observability.Metrics) RunOption {
	return func(c *runConfig) {
		c.metrics = m
	}
}
