package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/refineflow/orchestrator/internal/db"
	"github.com/refineflow/orchestrator/internal/metrics"
	"github.com/refineflow/orchestrator/internal/models"
)

// Run statuses.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusFallback = "fallback"
)

// ExecutionRecord is the observability artifact every run emits, whether
// it succeeded or not. The orchestrator never reads it back.
type ExecutionRecord struct {
	ModelID       string          `json:"model_id"`
	TaskKind      models.TaskKind `json:"task_kind"`
	Budget        int             `json:"budget"`
	ReasoningMode bool            `json:"reasoning_mode"`
	TokensUsed    int             `json:"tokens_used"`
	FinishReason  string          `json:"finish_reason"`

	RunID          string        `json:"run_id"`
	ActivityID     string        `json:"activity_id,omitempty"`
	Provider       string        `json:"provider"`
	Status         string        `json:"status"`
	Error          string        `json:"error,omitempty"`
	Stage          Stage         `json:"stage,omitempty"`
	Latency        time.Duration `json:"latency"`
	Repaired       bool          `json:"repaired"`
	EstimatedInput int           `json:"estimated_input_tokens"`
	CostUSD        float64       `json:"cost_usd"`
	Fallback       string        `json:"fallback,omitempty"`
	Warnings       []string      `json:"warnings,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Sink receives execution records. Emit must not block for long and has
// no way to fail the run.
type Sink interface {
	Emit(ctx context.Context, rec ExecutionRecord)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec ExecutionRecord)

func (f SinkFunc) Emit(ctx context.Context, rec ExecutionRecord) { f(ctx, rec) }

// MultiSink fans a record out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, rec ExecutionRecord) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, rec)
		}
	}
}

// LogSink writes each record as one structured log line.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Emit(_ context.Context, rec ExecutionRecord) {
	if s.Logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("run_id", rec.RunID),
		zap.String("activity_id", rec.ActivityID),
		zap.String("model_id", rec.ModelID),
		zap.String("task_kind", string(rec.TaskKind)),
		zap.String("provider", rec.Provider),
		zap.Int("budget", rec.Budget),
		zap.Bool("reasoning_mode", rec.ReasoningMode),
		zap.Int("tokens_used", rec.TokensUsed),
		zap.String("finish_reason", rec.FinishReason),
		zap.String("status", rec.Status),
		zap.Duration("latency", rec.Latency),
		zap.Bool("repaired", rec.Repaired),
		zap.Int("estimated_input_tokens", rec.EstimatedInput),
		zap.Float64("cost_usd", rec.CostUSD),
	}
	if rec.Fallback != "" {
		fields = append(fields, zap.String("fallback", rec.Fallback))
	}
	if len(rec.Warnings) > 0 {
		fields = append(fields, zap.Strings("warnings", rec.Warnings))
	}

	switch rec.Status {
	case StatusError:
		fields = append(fields, zap.String("stage", string(rec.Stage)), zap.String("error", rec.Error))
		s.Logger.Warn("Run failed", fields...)
	case StatusFallback:
		fields = append(fields, zap.String("error", rec.Error))
		s.Logger.Info("Run served by fallback", fields...)
	default:
		s.Logger.Info("Run completed", fields...)
	}
}

// MetricsSink exports records as Prometheus run metrics.
type MetricsSink struct{}

func (MetricsSink) Emit(_ context.Context, rec ExecutionRecord) {
	metrics.RecordRunMetrics(string(rec.TaskKind), rec.Provider, rec.ModelID, rec.Status,
		rec.Latency.Seconds(), rec.TokensUsed, rec.CostUSD)
}

// RecordSink queues records on a SQL record writer.
type RecordSink struct {
	Writer *db.RecordWriter
	Logger *zap.Logger
}

func (s RecordSink) Emit(_ context.Context, rec ExecutionRecord) {
	if s.Writer == nil {
		return
	}
	if err := s.Writer.Enqueue(toRunRecord(rec), nil); err != nil && s.Logger != nil {
		s.Logger.Warn("Execution record dropped",
			zap.String("run_id", rec.RunID),
			zap.Error(err),
		)
	}
}

func toRunRecord(rec ExecutionRecord) *db.RunRecord {
	meta := db.JSONB{}
	if rec.Stage != "" {
		meta["stage"] = string(rec.Stage)
	}
	if rec.Fallback != "" {
		meta["fallback"] = rec.Fallback
	}
	if len(rec.Warnings) > 0 {
		meta["warnings"] = rec.Warnings
	}
	return &db.RunRecord{
		RunID:          rec.RunID,
		ActivityID:     rec.ActivityID,
		TaskKind:       string(rec.TaskKind),
		ModelID:        rec.ModelID,
		Provider:       rec.Provider,
		Budget:         rec.Budget,
		ReasoningMode:  rec.ReasoningMode,
		TokensUsed:     rec.TokensUsed,
		FinishReason:   rec.FinishReason,
		Status:         rec.Status,
		ErrorMessage:   rec.Error,
		LatencyMs:      rec.Latency.Milliseconds(),
		Repaired:       rec.Repaired,
		EstimatedInput: rec.EstimatedInput,
		CostUSD:        rec.CostUSD,
		Metadata:       meta,
		CreatedAt:      rec.CreatedAt,
	}
}
