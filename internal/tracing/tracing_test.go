package tracing

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return recorder
}

func attrs(kvs []attribute.KeyValue) map[string]attribute.Value {
	out := make(map[string]attribute.Value, len(kvs))
	for _, kv := range kvs {
		out[string(kv.Key)] = kv.Value
	}
	return out
}

func TestInitializeDisabled(t *testing.T) {
	shutdown, err := Initialize(Config{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	h := http.Header{}
	InjectHeaders(context.Background(), h)
	assert.Empty(t, h.Get("traceparent"))
}

func TestRunAndProviderSpans(t *testing.T) {
	recorder := installRecorder(t)

	ctx, run := StartRunSpan(context.Background(), "run-1", "act-1", "extraction", "gpt-4o")
	pctx, call := StartProviderSpan(ctx, "openai", "gpt-4o", 1228)

	h := http.Header{}
	InjectHeaders(pctx, h)
	sc := trace.SpanContextFromContext(pctx)
	assert.Equal(t, "00-"+sc.TraceID().String()+"-"+sc.SpanID().String()+"-01", h.Get("traceparent"))

	EndSpan(call, errors.New("boom"))
	EndSpan(run, nil)

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	callSpan, runSpan := ended[0], ended[1]

	assert.Equal(t, "llm.complete", callSpan.Name())
	assert.Equal(t, trace.SpanKindClient, callSpan.SpanKind())
	assert.Equal(t, "boom", callSpan.Status().Description)
	assert.Equal(t, runSpan.SpanContext().SpanID(), callSpan.Parent().SpanID())
	assert.Equal(t, int64(1228), attrs(callSpan.Attributes())["llm.completion_budget"].AsInt64())

	assert.Equal(t, "refineflow.run", runSpan.Name())
	runAttrs := attrs(runSpan.Attributes())
	assert.Equal(t, "extraction", runAttrs["refineflow.task_kind"].AsString())
	assert.Equal(t, "act-1", runAttrs["refineflow.activity_id"].AsString())
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(0).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}
