package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/refineflow/orchestrator/internal/llm"
	"github.com/refineflow/orchestrator/internal/models"
	"github.com/refineflow/orchestrator/internal/state"
)

// spanRecordingProvider remembers the span context each call ran under.
type spanRecordingProvider struct {
	*fakeProvider
	seen []trace.SpanContext
}

func (p *spanRecordingProvider) Complete(ctx context.Context, req llm.Request) (llm.RawResponse, error) {
	p.seen = append(p.seen, trace.SpanContextFromContext(ctx))
	return p.fakeProvider.Complete(ctx, req)
}

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func attr(span sdktrace.ReadOnlySpan, key string) attribute.Value {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func TestRunSpanCoversWholeRun(t *testing.T) {
	spans := installRecorder(t)
	p := &spanRecordingProvider{fakeProvider: &fakeProvider{reply: replyText(`{"summary":"Invoices move to the ledger","risks":["Vendor lock-in"]}`)}}
	o, _ := newTestOrchestrator(t, p, nil)

	old := state.New("billing")
	res, err := o.Run(context.Background(), RunRequest{
		ActivityID: "billing",
		Kind:       models.TaskExtraction,
		ModelID:    "gpt-4o",
		Variables:  extractionVars("x"),
		State:      &old,
	})
	require.NoError(t, err)
	require.NotNil(t, res.State)

	ended := spans.Ended()
	require.Len(t, ended, 1)
	run := ended[0]
	assert.Equal(t, "refineflow.run", run.Name())
	assert.Equal(t, StatusOK, attr(run, "refineflow.status").AsString())
	assert.Equal(t, int64(1000), attr(run, "refineflow.tokens_used").AsInt64())
	assert.Equal(t, codes.Unset, run.Status().Code)

	require.Len(t, p.seen, 1)
	assert.Equal(t, run.SpanContext().TraceID(), p.seen[0].TraceID())
	assert.Equal(t, run.SpanContext().SpanID(), p.seen[0].SpanID())
}

func TestRunSpanRecordsEarlyFailure(t *testing.T) {
	spans := installRecorder(t)
	p := &spanRecordingProvider{fakeProvider: &fakeProvider{reply: replyText("x")}}
	o, _ := newTestOrchestrator(t, p, nil)

	_, err := o.Run(context.Background(), RunRequest{
		Kind:      models.TaskChat,
		ModelID:   "gpt-4o",
		Variables: map[string]string{"activity_title": "x"},
	})
	require.Error(t, err)
	assert.Empty(t, p.seen)

	ended := spans.Ended()
	require.Len(t, ended, 1)
	run := ended[0]
	assert.Equal(t, "refineflow.run", run.Name())
	assert.Equal(t, StatusError, attr(run, "refineflow.status").AsString())
	assert.Equal(t, codes.Error, run.Status().Code)
}
