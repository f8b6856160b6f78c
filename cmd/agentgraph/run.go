package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/config"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/event"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
)

type runFlags struct {
	resume        bool
	mock          bool
	stream        bool
	toolMode      string
	maxIterations int
	runID         string
	vars          []string
}

func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run [prompt...]",
		Short: "Run the single-run strategy on a prompt",
		Long: `Run sends the prompt to the model, executes the tool calls it requests
and feeds the results back until the model answers without tools.

With --resume the run continues from the agent's latest checkpoint; the
prompt may then be omitted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" && !flags.resume {
				return errors.New("a prompt is required unless --resume is set")
			}

			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAgent(ctx, settings, flags, text, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&flags.resume, "resume", false, "Resume from the latest checkpoint")
	cmd.Flags().BoolVar(&flags.mock, "mock", false, "Use an offline echo model instead of the configured one")
	cmd.Flags().BoolVar(&flags.stream, "stream", false, "Stream model output as it arrives")
	cmd.Flags().StringVar(&flags.toolMode, "tool-mode", "", "Tool execution mode: sequential or parallel (overrides strategy.tool_mode)")
	cmd.Flags().IntVar(&flags.maxIterations, "max-iterations", 0, "Transition budget (overrides strategy.max_iterations)")
	cmd.Flags().StringVar(&flags.runID, "run-id", "", "Run ID (generated when empty)")
	cmd.Flags().StringArrayVar(&flags.vars, "var", nil, "Prompt variable name=value, repeatable")
	return cmd
}

func runAgent(ctx context.Context, settings config.Settings, flags runFlags, text string, stdout, stderr io.Writer) error {
	logger, err := newLogger(settings.Log, stderr)
	if err != nil {
		return err
	}

	if flags.toolMode != "" {
		settings.Strategy.ToolMode = flags.toolMode
	}
	if flags.maxIterations > 0 {
		settings.Strategy.MaxIterations = flags.maxIterations
	}
	mode, err := agentgraph.ParseToolMode(settings.Strategy.ToolMode)
	if err != nil {
		return err
	}

	var model llm.Model
	if flags.mock {
		model = mockModel()
	} else if model, err = newModel(settings.Model, logger); err != nil {
		return err
	}

	store, err := openStore(ctx, settings.Checkpoint, logger)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("closing checkpoint store", "error", err)
			}
		}()
	}
	if flags.resume && store == nil {
		return errors.New("--resume needs a checkpoint backend")
	}

	notes := newNotebook()
	tools, inverses := builtinTools(notes)

	pipeline := event.NewPipeline(event.WithLogger(logger))
	defer func() {
		if err := pipeline.Close(); err != nil {
			logger.Warn("closing event pipeline", "error", err)
		}
	}()
	pipeline.Subscribe(observability.NewLogSubscriber(logger))

	if addr := settings.Telemetry.PrometheusAddr; addr != "" {
		registry := prometheus.NewRegistry()
		pipeline.Subscribe(observability.NewPrometheusSubscriber(registry))
		servePrometheus(ctx, addr, registry, logger)
	}

	if flags.stream {
		pipeline.Subscribe(event.SubscriberFunc(func(_ context.Context, evt event.Event) error {
			frame, ok := evt.Data.(llm.Frame)
			if !ok {
				return nil
			}
			switch frame.Kind {
			case llm.FrameText:
				_, err := io.WriteString(stdout, frame.Text)
				return err
			case llm.FrameEnd:
				_, err := io.WriteString(stdout, "\n")
				return err
			}
			return nil
		}), event.StreamFrame)
	}

	runID := flags.runID
	if runID == "" {
		runID = uuid.NewString()
	}

	userVars, err := prompt.ParseVars(flags.vars)
	if err != nil {
		return err
	}
	vars := prompt.Vars{
		"agent_id": settings.Checkpoint.AgentID,
		"run_id":   runID,
		"date":     time.Now().Format(time.DateOnly),
	}.Merge(userVars)

	// Unknown placeholders in the user prompt are kept as typed.
	input, err := prompt.Render(text, vars, prompt.WithMissing(prompt.KeepMissing))
	if err != nil {
		return err
	}

	ctxOpts := []agentgraph.ContextOption{
		agentgraph.WithLogger(logger),
		agentgraph.WithRunID(runID),
		agentgraph.WithAgentID(settings.Checkpoint.AgentID),
		agentgraph.WithModel(model),
		agentgraph.WithTools(tools),
		agentgraph.WithEvents(pipeline),
	}
	if sp := settings.Strategy.SystemPrompt; sp != "" && !flags.resume {
		system, err := prompt.Render(sp, vars)
		if err != nil {
			return fmt.Errorf("system prompt: %w", err)
		}
		ctxOpts = append(ctxOpts, agentgraph.WithHistory(llm.SystemMessage(system)))
	}
	actx := agentgraph.NewContext(ctx, ctxOpts...)

	strategy := agentgraph.SingleRunStrategy(mode,
		agentgraph.WithStreaming(flags.stream),
		agentgraph.WithToolParallelism(settings.Strategy.Parallelism),
	)

	runOpts := []agentgraph.RunOption{
		agentgraph.WithMaxIterations(settings.Strategy.MaxIterations),
		agentgraph.WithMetrics(settings.Telemetry.Metrics),
		agentgraph.WithTracing(settings.Telemetry.Tracing),
	}
	if store != nil {
		manager := agentgraph.NewCheckpointManager(store, inverses,
			agentgraph.WithContinuous(settings.Checkpoint.Continuous),
			agentgraph.WithManagerLogger(logger))
		runOpts = append(runOpts, agentgraph.WithCheckpoints(manager))
	}
	if flags.resume {
		runOpts = append(runOpts, agentgraph.WithResume())
	}

	answer, err := strategy.Run(actx, input, runOpts...)
	if err != nil {
		return err
	}

	logger.Debug("run finished", slog.String("run_id", runID), slog.Any("notes", notes.titles()))
	if !flags.stream {
		_, err = fmt.Fprintln(stdout, answer)
	}
	return err
}
