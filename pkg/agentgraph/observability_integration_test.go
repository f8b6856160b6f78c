package agentgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/event"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/llm"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tool"
)

// testLogHandler captures log records for testing.
type testLogHandler struct {
	buf   *bytes.Buffer
	level slog.Level
}

func newTestLogHandler() *testLogHandler {
	return &testLogHandler{
		buf:   &bytes.Buffer{},
		level: slog.LevelDebug,
	}
}

func (h *testLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *testLogHandler) Handle(_ context.Context, r slog.Record) error {
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})
	return json.NewEncoder(h.buf).Encode(data)
}

func (h *testLogHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *testLogHandler) WithGroup(_ string) slog.Handler {
	return h
}

func (h *testLogHandler) getRecords() []map[string]any {
	var records []map[string]any
	for _, line := range bytes.Split(h.buf.Bytes(), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err == nil {
			records = append(records, m)
		}
	}
	return records
}

func messages(records []map[string]any) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i], _ = r["msg"].(string)
	}
	return out
}

func TestRun_WithObservabilityLogger(t *testing.T) {
	h := newTestLogHandler()

	_, err := linearStrategy().Run(testCtx(WithRunID("run-logs")), 0,
		WithObservabilityLogger(slog.New(h)))
	require.NoError(t, err)

	records := h.getRecords()
	assert.Equal(t, []string{
		"agent run starting",
		"node starting", "node completed",
		"node starting", "node completed",
		"agent run completed",
	}, messages(records))

	assert.Equal(t, "run-logs", records[0]["run_id"])
	assert.Equal(t, "linear", records[0]["strategy"])
	assert.Equal(t, "inc1", records[1]["node_id"])
	assert.EqualValues(t, 3, records[5]["transitions"])
}

func TestRun_ObservabilityLoggerOnError(t *testing.T) {
	h := newTestLogHandler()

	b := NewBuilder[int, int]("failing")
	fail := AddNode(b, "fail", func(_ Context, _ int) (int, error) { return 0, errBoom })
	AddEdge(b, b.Start(), fail)
	AddEdge(b, fail, b.Finish())
	s, err := b.Compile()
	require.NoError(t, err)

	_, err = s.Run(testCtx(), 0, WithObservabilityLogger(slog.New(h)))
	require.Error(t, err)

	records := h.getRecords()
	msgs := messages(records)
	assert.Contains(t, msgs, "node failed")
	assert.Equal(t, "agent run failed", msgs[len(msgs)-1])
	assert.Equal(t, "fail", records[len(records)-1]["last_node"])
	assert.Equal(t, "ERROR", records[len(records)-1]["level"])
}

func TestRun_ContextLoggerIsDefault(t *testing.T) {
	h := newTestLogHandler()

	_, err := linearStrategy().Run(NewContext(context.Background(), WithLogger(slog.New(h))), 0)
	require.NoError(t, err)

	assert.Contains(t, messages(h.getRecords()), "agent run completed")
}

func TestRun_LogSubscriber(t *testing.T) {
	h := newTestLogHandler()
	ctx, _ := recordingCtx(WithTools(tool.NewRegistry(addTool())))
	ctx.Events().Subscribe(observability.NewLogSubscriber(slog.New(h)), event.ToolCallCompleted)

	_, err := ExecuteTools(Sequential)(ctx, []llm.ToolCall{call("c1", "add", addArgs{A: 1, B: 2})})
	require.NoError(t, err)

	records := h.getRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "agent event", records[0]["msg"])
	assert.Equal(t, "tool.completed", records[0]["event"])
	assert.Equal(t, "add", records[0]["tool"])
}

// setupRunMetrics creates a recorder on a private meter provider.
func setupRunMetrics(t *testing.T) (*observability.Metrics, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	})

	rec, err := observability.NewMetrics(provider.Meter("test"))
	require.NoError(t, err)
	return rec, reader
}

func metricTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "expected int64 sum, got %T", m.Data)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestRun_WithMetrics(t *testing.T) {
	rec, reader := setupRunMetrics(t)
	model := llm.NewMockModel(
		llm.ToolCallResponse(call("c1", "add", addArgs{A: 2, B: 3})),
		llm.TextResponse("5"),
	)

	// No pipeline on the context: the run creates one for the metrics.
	ctx := testCtx(WithModel(model), WithTools(tool.NewRegistry(addTool())))
	_, err := SingleRunStrategy(Sequential).Run(ctx, "2+3?", WithInstruments(rec))
	require.NoError(t, err)

	assert.Equal(t, int64(3), metricTotal(t, reader, observability.MetricNodes))
	assert.Equal(t, int64(1), metricTotal(t, reader, observability.MetricRuns))
	assert.Equal(t, int64(1), metricTotal(t, reader, observability.MetricToolCalls))
	assert.Nil(t, ctx.Events())
}

func TestRun_MetricsSubscriberDetached(t *testing.T) {
	rec, reader := setupRunMetrics(t)
	ctx, _ := recordingCtx()

	_, err := linearStrategy().Run(ctx, 0, WithInstruments(rec))
	require.NoError(t, err)

	// Only the recorder from recordingCtx remains subscribed.
	assert.Equal(t, 1, ctx.Events().Len())
	assert.Equal(t, int64(2), metricTotal(t, reader, observability.MetricNodes))
}

func TestRun_CallerPipelineStaysOpen(t *testing.T) {
	rec, _ := setupRunMetrics(t)
	ctx, events := recordingCtx()

	_, err := linearStrategy().Run(ctx, 0, WithInstruments(rec))
	require.NoError(t, err)
	assert.Zero(t, events.Closed())

	// The caller can keep using its pipeline after the run.
	before := len(events.Events())
	ctx.Events().Emit(context.Background(), event.Event{Kind: event.AgentStarting})
	assert.Len(t, events.Events(), before+1)
}

// setupRunTracing creates a tracer exporting to memory.
func setupRunTracing(t *testing.T) (*observability.Tracer, *tracetest.InMemoryExporter) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down tracer provider: %v", err)
		}
	})
	return observability.NewTracer(tp), exporter
}

func TestRun_WithTracing(t *testing.T) {
	tracer, exporter := setupRunTracing(t)

	_, err := linearStrategy().Run(testCtx(), 0, WithTracer(tracer))
	require.NoError(t, err)

	got := exporter.GetSpans()
	require.Len(t, got, 3)
	assert.Equal(t, "node inc1", got[0].Name)
	assert.Equal(t, "node inc2", got[1].Name)
	assert.Equal(t, "run linear", got[2].Name)

	run := got[2]
	for _, node := range got[:2] {
		assert.Equal(t, run.SpanContext.SpanID(), node.Parent.SpanID())
		assert.Equal(t, run.SpanContext.TraceID(), node.SpanContext.TraceID())
	}
}

func TestRun_TracingToolEvents(t *testing.T) {
	tracer, exporter := setupRunTracing(t)
	model := llm.NewMockModel(
		llm.ToolCallResponse(call("c1", "add", addArgs{A: 2, B: 3})),
		llm.TextResponse("5"),
	)
	ctx := testCtx(WithModel(model), WithTools(tool.NewRegistry(addTool())))

	_, err := SingleRunStrategy(Sequential).Run(ctx, "2+3?", WithTracer(tracer))
	require.NoError(t, err)

	var execSpan *tracetest.SpanStub
	for i, s := range exporter.GetSpans() {
		if s.Name == "node "+NodeExecuteTools {
			execSpan = &exporter.GetSpans()[i]
		}
	}
	require.NotNil(t, execSpan)

	var names []string
	for _, e := range execSpan.Events {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"tool.starting", "tool.completed"}, names)
}

func TestRun_TracingDisabledByDefault(t *testing.T) {
	_, exporter := setupRunTracing(t)

	_, err := linearStrategy().Run(testCtx(), 0, WithTracing(false))
	require.NoError(t, err)

	assert.Empty(t, exporter.GetSpans())
}
