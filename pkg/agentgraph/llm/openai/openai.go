// Package openai adapts the OpenAI chat completions API to llm.Model.
//
// Works with any OpenAI-compatible endpoint (set WithBaseURL). Transient
// failures (429, 5xx, timeouts) are retried with backoff; requests can be
// rate limited client-side.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
)

// DefaultModel is used when neither the Model nor the request names one.
const DefaultModel = "gpt-4o-mini"

// Model is an llm.Model backed by the OpenAI chat completions API.
type Model struct {
	client      *goopenai.Client
	model       string
	maxTokens   int
	temperature float32
	retry       agerrors.RetryPolicy
	limiter     *rate.Limiter
	logger      *slog.Logger
}

type options struct {
	baseURL    string
	httpClient *http.Client
	model      *Model
}

// Option configures a Model.
type Option func(*options)

// WithBaseURL targets an OpenAI-compatible endpoint, e.g. "http://localhost:11434/v1".
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithHTTPClient sets the HTTP client (timeouts, transport).
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithModel sets the default model name.
func WithModel(name string) Option {
	return func(o *options) { o.model.model = name }
}

// WithMaxTokens sets the default completion token limit.
func WithMaxTokens(n int) Option {
	return func(o *options) { o.model.maxTokens = n }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *options) { o.model.temperature = float32(t) }
}

// WithRetry sets the retry policy. Defaults to errors.DefaultRetry.
func WithRetry(p agerrors.RetryPolicy) Option {
	return func(o *options) { o.model.retry = p }
}

// WithRateLimit allows at most rps requests per second, with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		if rps <= 0 {
			o.model.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.model.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger for retries and failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.model.logger = logger }
}

// New creates a Model authenticating with apiKey.
func New(apiKey string, opts ...Option) *Model {
	o := applyOptions(opts)
	cfg := goopenai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.httpClient != nil {
		cfg.HTTPClient = o.httpClient
	}
	o.model.client = goopenai.NewClientWithConfig(cfg)
	return o.model
}

// NewFromClient wraps an existing client. WithBaseURL and WithHTTPClient
// are ignored.
func NewFromClient(client *goopenai.Client, opts ...Option) *Model {
	o := applyOptions(opts)
	o.model.client = client
	return o.model
}

func applyOptions(opts []Option) *options {
	o := &options{model: &Model{
		model:  DefaultModel,
		retry:  agerrors.DefaultRetry,
		logger: slog.Default(),
	}}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Complete implements llm.Model.
func (m *Model) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	start := time.Now()
	chatReq := m.buildRequest(req)

	resp, err := agerrors.Retry(ctx, m.retryPolicy(), func(ctx context.Context) (goopenai.ChatCompletionResponse, error) {
		if err := m.wait(ctx); err != nil {
			return goopenai.ChatCompletionResponse{}, err
		}
		resp, err := m.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return resp, mapError(err)
		}
		return resp, nil
	})
	if err != nil {
		return llm.Response{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.Response{}, errors.New("openai chat completion: no choices returned")
	}
	choice := resp.Choices[0]
	return llm.Response{
		Message:      fromChatMessage(choice.Message),
		Usage:        fromUsage(resp.Usage),
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		Duration:     time.Since(start),
	}, nil
}

// Stream implements llm.Model. Text deltas are forwarded as they arrive;
// tool calls are assembled from their deltas and sent whole before the end
// frame.
func (m *Model) Stream(ctx context.Context, req llm.Request) (<-chan llm.Frame, error) {
	chatReq := m.buildRequest(req)
	chatReq.Stream = true
	chatReq.StreamOptions = &goopenai.StreamOptions{IncludeUsage: true}

	stream, err := agerrors.Retry(ctx, m.retryPolicy(), func(ctx context.Context) (*goopenai.ChatCompletionStream, error) {
		if err := m.wait(ctx); err != nil {
			return nil, err
		}
		stream, err := m.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return nil, mapError(err)
		}
		return stream, nil
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat stream: %w", err)
	}

	frames := make(chan llm.Frame, 16)
	go pump(ctx, stream, frames)
	return frames, nil
}

func (m *Model) wait(ctx context.Context) error {
	if m.limiter == nil {
		return nil
	}
	return m.limiter.Wait(ctx)
}

func (m *Model) retryPolicy() agerrors.RetryPolicy {
	p := m.retry
	if p.Notify == nil {
		logger := m.logger
		p.Notify = func(attempt int, err error, wait time.Duration) {
			logger.Warn("retrying model call",
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()),
			)
		}
	}
	return p
}

func (m *Model) buildRequest(req llm.Request) goopenai.ChatCompletionRequest {
	chatReq := goopenai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    toChatMessages(req.Messages),
		Tools:       toTools(req.Tools),
		MaxTokens:   m.maxTokens,
		Temperature: m.temperature,
	}
	if req.Model != "" {
		chatReq.Model = req.Model
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	return chatReq
}

func toChatMessages(msgs []llm.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		cm := goopenai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		if msg.Role == llm.RoleTool {
			cm.Name = msg.Name
		}
		for _, call := range msg.ToolCalls {
			args := string(call.Arguments)
			if args == "" {
				args = "{}"
			}
			cm.ToolCalls = append(cm.ToolCalls, goopenai.ToolCall{
				ID:   call.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      call.Name,
					Arguments: args,
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func toTools(specs []llm.ToolSpec) []goopenai.Tool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]goopenai.Tool, 0, len(specs))
	for _, spec := range specs {
		var params any = json.RawMessage(`{"type":"object","properties":{}}`)
		if len(spec.Parameters) > 0 {
			params = spec.Parameters
		}
		out = append(out, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func fromChatMessage(cm goopenai.ChatCompletionMessage) llm.Message {
	msg := llm.Message{
		Role:    llm.RoleAssistant,
		Content: cm.Content,
	}
	for _, tc := range cm.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return msg
}

func fromUsage(u goopenai.Usage) llm.TokenUsage {
	return llm.TokenUsage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
}

// mapError converts go-openai failures into *errors.ProviderError so the
// retry loop can classify them by status.
func mapError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &agerrors.ProviderError{Provider: "openai", Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return &agerrors.ProviderError{Provider: "openai", Status: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return err
}

var _ llm.Model = (*Model)(nil)
