package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/config"
	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm/openai"
)

const defaultAgentID = "default"

// newLogger builds the process logger from the log settings.
func newLogger(s config.LogSettings, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch s.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", s.Format)
	}
}

// openStore opens the configured checkpoint store.
// Returns a nil store for the "none" backend.
func openStore(ctx context.Context, s config.CheckpointSettings, logger *slog.Logger) (checkpoint.Store, error) {
	switch s.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendMemory:
		return checkpoint.NewMemoryStore(), nil
	case config.BackendSQLite:
		return checkpoint.NewSQLiteStore(s.Path)
	case config.BackendBadger:
		return checkpoint.NewBadgerStore(checkpoint.BadgerConfig{
			Path:       s.Path,
			SyncWrites: true,
			Logger:     logger.With("component", "badger"),
		})
	case config.BackendMySQL:
		return checkpoint.NewMySQLStore(ctx, s.DSN)
	case config.BackendRedis:
		var opts []checkpoint.RedisOption
		if s.TTL > 0 {
			opts = append(opts, checkpoint.WithRedisTTL(s.TTL))
		}
		return checkpoint.NewRedisStore(s.Addr, s.Password, s.DB, opts...), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", s.Backend)
	}
}

var errNoAPIKey = errors.New("no API key: set the variable named by model.api_key_env or use a model.base_url")

// newModel builds the OpenAI-compatible model client.
func newModel(s config.ModelSettings, logger *slog.Logger) (llm.Model, error) {
	key := s.APIKey()
	if key == "" && s.BaseURL == "" {
		return nil, errNoAPIKey
	}

	retry := agerrors.DefaultRetry
	retry.Attempts = s.MaxRetries + 1

	opts := []openai.Option{
		openai.WithModel(s.Name),
		openai.WithRetry(retry),
		openai.WithLogger(logger),
		openai.WithRateLimit(s.RequestsPerSecond, 1),
	}
	if s.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(s.BaseURL))
	}
	if s.Timeout > 0 {
		opts = append(opts, openai.WithHTTPClient(&http.Client{Timeout: s.Timeout}))
	}
	if s.MaxTokens > 0 {
		opts = append(opts, openai.WithMaxTokens(s.MaxTokens))
	}
	if s.Temperature > 0 {
		opts = append(opts, openai.WithTemperature(s.Temperature))
	}
	return openai.New(key, opts...), nil
}

// mockModel answers without a network: tool results are reported back,
// anything else is echoed.
func mockModel() llm.Model {
	return llm.NewMockModel().WithResponder(func(req llm.Request) (llm.Response, error) {
		if len(req.Messages) == 0 {
			return llm.TextResponse("nothing to say"), nil
		}
		last := req.Messages[len(req.Messages)-1]
		if last.Role == llm.RoleTool {
			return llm.TextResponse(last.Name + " returned " + last.Content), nil
		}
		return llm.TextResponse("echo: " + last.Content), nil
	})
}

// servePrometheus serves registry on addr/metrics until ctx is done.
func servePrometheus(ctx context.Context, addr string, registry *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}()
}
