package tracing

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	instrumentationName = "github.com/refineflow/orchestrator"
	defaultServiceName  = "refineflow"
	defaultEndpoint     = "localhost:4317"
)

// Config holds tracing configuration
type Config struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRatio  float64 `mapstructure:"sample_ratio"` // outside (0,1) samples everything
}

var propagator = propagation.TraceContext{}

func tracer() trace.Tracer { return otel.Tracer(instrumentationName) }

// Initialize installs an OTLP gRPC tracer provider. The returned function
// flushes and stops the exporter; it is a no-op when tracing is disabled,
// in which case spans go to the global no-op provider.
func Initialize(cfg Config, logger *zap.Logger) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Debug("Tracing disabled")
		return noop, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	if cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = defaultEndpoint
	}

	exporter, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return noop, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return noop, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagator)

	logger.Info("Tracing initialized",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service", cfg.ServiceName),
		zap.Float64("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// StartRunSpan opens the root span of one orchestrated run.
func StartRunSpan(ctx context.Context, runID, activityID, taskKind, modelID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "refineflow.run", trace.WithAttributes(
		attribute.String("refineflow.run_id", runID),
		attribute.String("refineflow.activity_id", activityID),
		attribute.String("refineflow.task_kind", taskKind),
		attribute.String("refineflow.model", modelID),
	))
}

// EndRunSpan records the outcome of a run on span and ends it.
func EndRunSpan(span trace.Span, status string, tokensUsed int, err error) {
	span.SetAttributes(
		attribute.String("refineflow.status", status),
		attribute.Int("refineflow.tokens_used", tokensUsed),
	)
	EndSpan(span, err)
}

// StartProviderSpan opens a client span around one provider call.
func StartProviderSpan(ctx context.Context, provider, modelID string, budget int) (context.Context, trace.Span) {
	return tracer().Start(ctx, "llm.complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("refineflow.model", modelID),
			attribute.Int("llm.completion_budget", budget),
		))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// InjectHeaders writes the W3C trace context of ctx into h.
func InjectHeaders(ctx context.Context, h http.Header) {
	propagator.Inject(ctx, propagation.HeaderCarrier(h))
}
