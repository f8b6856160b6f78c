// Package rollback reverses tool side effects.
//
// A Registry maps tool names to inverse tools. When a run is rolled back to
// a checkpoint, the tool calls executed after it are compensated in reverse
// order by invoking each call's inverse with the original arguments.
//
// Compensation is best-effort: calls without a registered inverse are
// skipped and reported, and a failing inverse does not stop the remaining
// ones. All inverse failures are returned together.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/registry"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tool"
)

// Status is the outcome of compensating one tool call.
type Status string

// Compensation status constants.
const (
	StatusCompensated Status = "compensated"
	StatusSkipped     Status = "skipped"      // no inverse registered
	StatusNotExecuted Status = "not_executed" // original call failed, nothing to undo
	StatusFailed      Status = "failed"
)

// Registry maps tool names to their inverse tools.
type Registry struct {
	inverses *registry.Registry[string, tool.Tool]
}

// NewRegistry creates an empty rollback registry.
func NewRegistry() *Registry {
	return &Registry{inverses: registry.New[string, tool.Tool]()}
}

// Register sets the inverse of toolName. Panics on an empty name or nil inverse.
func (r *Registry) Register(toolName string, inverse tool.Tool) *Registry {
	if toolName == "" {
		panic("rollback: tool name cannot be empty")
	}
	if inverse == nil {
		panic("rollback: inverse tool cannot be nil")
	}
	r.inverses.Set(toolName, inverse)
	return r
}

// Inverse returns the inverse registered for toolName.
func (r *Registry) Inverse(toolName string) (tool.Tool, bool) {
	if r == nil {
		return nil, false
	}
	return r.inverses.Get(toolName)
}

// Len returns the number of registered inverses.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return r.inverses.Len()
}

// StepResult records what happened to one call during compensation.
type StepResult struct {
	Record  tool.Record
	Inverse string
	Status  Status
	Err     error
}

// Report lists compensation results in the order they were processed,
// which is the reverse of the original call order.
type Report struct {
	Steps []StepResult
}

// Count returns the number of steps with the given status.
func (r Report) Count(status Status) int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == status {
			n++
		}
	}
	return n
}

// Option configures a Compensate call.
type Option func(*compensateConfig)

type compensateConfig struct {
	logger        *slog.Logger
	onSkip        func(tool.Record)
	onCompensated func(tool.Record, error)
}

// WithLogger sets the logger used for compensation progress.
func WithLogger(logger *slog.Logger) Option {
	return func(c *compensateConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// OnSkip is called for every call that has no registered inverse.
func OnSkip(fn func(tool.Record)) Option {
	return func(c *compensateConfig) { c.onSkip = fn }
}

// OnCompensated is called after each inverse invocation with its error.
func OnCompensated(fn func(tool.Record, error)) Option {
	return func(c *compensateConfig) { c.onCompensated = fn }
}

// Compensate invokes the inverses of records in reverse order. The returned
// error joins every inverse failure; it is nil when all inverses succeeded
// or were skipped.
func (r *Registry) Compensate(ctx context.Context, records []tool.Record, opts ...Option) (Report, error) {
	cfg := compensateConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	report := Report{Steps: make([]StepResult, 0, len(records))}
	var errs []error

	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		step := StepResult{Record: rec}

		if rec.Failed {
			step.Status = StatusNotExecuted
			report.Steps = append(report.Steps, step)
			continue
		}

		inverse, ok := r.Inverse(rec.Name)
		if !ok {
			cfg.logger.Warn("no inverse registered, tool effect not reverted",
				"tool", rec.Name,
				"call_id", rec.CallID,
			)
			step.Status = StatusSkipped
			report.Steps = append(report.Steps, step)
			if cfg.onSkip != nil {
				cfg.onSkip(rec)
			}
			continue
		}

		step.Inverse = inverse.Spec().Name
		cfg.logger.Debug("compensating tool call",
			"tool", rec.Name,
			"inverse", step.Inverse,
			"call_id", rec.CallID,
		)

		_, err := invoke(ctx, inverse, rec)
		if err != nil {
			step.Status = StatusFailed
			step.Err = err
			errs = append(errs, fmt.Errorf("compensate %s (call %s) with %s: %w", rec.Name, rec.CallID, step.Inverse, err))
			cfg.logger.Error("compensation failed",
				"tool", rec.Name,
				"inverse", step.Inverse,
				"call_id", rec.CallID,
				"error", err,
			)
		} else {
			step.Status = StatusCompensated
		}
		report.Steps = append(report.Steps, step)
		if cfg.onCompensated != nil {
			cfg.onCompensated(rec, err)
		}
	}

	if len(errs) > 0 {
		return report, errors.Join(errs...)
	}
	return report, nil
}

// invoke runs an inverse, converting a panic into an error.
func invoke(ctx context.Context, inverse tool.Tool, rec tool.Record) (_ []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("inverse %s panicked: %v", inverse.Spec().Name, p)
		}
	}()
	return inverse.Invoke(ctx, rec.Args)
}
