package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/refineflow/orchestrator/internal/circuitbreaker"
	"github.com/refineflow/orchestrator/internal/metrics"
)

const insertRunRecord = `
	INSERT INTO run_records (
		run_id, activity_id, task_kind, model_id, provider, budget,
		reasoning_mode, tokens_used, finish_reason, status, error_message,
		latency_ms, repaired, estimated_input_tokens, cost_usd, metadata,
		created_at
	) VALUES (
		:run_id, :activity_id, :task_kind, :model_id, :provider, :budget,
		:reasoning_mode, :tokens_used, :finish_reason, :status, :error_message,
		:latency_ms, :repaired, :estimated_input_tokens, :cost_usd, :metadata,
		:created_at
	)
	ON CONFLICT (run_id) DO NOTHING`

const selectRecentRunRecords = `
	SELECT run_id, activity_id, task_kind, model_id, provider, budget,
		reasoning_mode, tokens_used, finish_reason, status, error_message,
		latency_ms, repaired, estimated_input_tokens, cost_usd, metadata,
		created_at
	FROM run_records
	WHERE activity_id = ?
	ORDER BY created_at DESC
	LIMIT ?`

// Save writes rec synchronously. Saving an existing run id is a no-op.
func (w *RecordWriter) Save(ctx context.Context, rec *RunRecord) error {
	if rec == nil {
		return nil
	}
	if rec.RunID == "" {
		return errors.New("run record has no run id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	err := w.cb.Execute(ctx, func() error {
		_, err := w.db.NamedExecContext(ctx, insertRunRecord, rec)
		return err
	})
	circuitbreaker.GlobalMetricsCollector.RecordRequest("database", "records", w.cb.State(), err == nil)
	if err != nil {
		reason := "insert"
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			reason = "breaker_open"
		}
		metrics.RecordWriteErrors.WithLabelValues(reason).Inc()
		w.logger.Error("Failed to save run record",
			zap.String("run_id", rec.RunID),
			zap.String("activity_id", rec.ActivityID),
			zap.Error(err),
		)
		return fmt.Errorf("save run record %s: %w", rec.RunID, err)
	}
	return nil
}

// Recent returns up to limit records for an activity, newest first.
func (w *RecordWriter) Recent(ctx context.Context, activityID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []RunRecord
	err := w.cb.Execute(ctx, func() error {
		return w.db.SelectContext(ctx, &out, w.db.Rebind(selectRecentRunRecords), activityID, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("load run records for %s: %w", activityID, err)
	}
	return out, nil
}
