package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/refineflow/orchestrator/internal/activity"
	"github.com/refineflow/orchestrator/internal/lease"
	"github.com/refineflow/orchestrator/internal/models"
	"github.com/refineflow/orchestrator/internal/state"
	"github.com/refineflow/orchestrator/internal/store"
)

// ActivityRunner applies the single-writer discipline around Run: it holds
// the activity's lease while it loads the state, runs and saves the result.
type ActivityRunner struct {
	orch    *Orchestrator
	store   store.StateStore
	locker  lease.Locker
	entries activity.EntrySource
	logger  *zap.Logger
	now     func() time.Time
}

// NewActivityRunner creates a runner. entries may be nil, in which case
// the activity status gate relies on the stored state alone.
func NewActivityRunner(orch *Orchestrator, st store.StateStore, locker lease.Locker, entries activity.EntrySource, logger *zap.Logger) *ActivityRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityRunner{
		orch:    orch,
		store:   st,
		locker:  locker,
		entries: entries,
		logger:  logger,
		now:     time.Now,
	}
}

// Run executes req against the stored state of req.ActivityID. The new
// state is saved only when the run succeeds.
func (r *ActivityRunner) Run(ctx context.Context, req RunRequest) (ExecutionResult, error) {
	if req.ActivityID == "" {
		return ExecutionResult{}, errors.New("activity id is required")
	}

	var res ExecutionResult
	err := lease.With(ctx, r.locker, req.ActivityID, func(ctx context.Context, l lease.Lease) error {
		if err := r.gate(ctx, req.ActivityID, req.Kind); err != nil {
			return err
		}

		current, err := store.LoadOrNew(ctx, r.store, req.ActivityID)
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		req.State = &current

		var runErr error
		res, runErr = r.orch.Run(ctx, req)
		if runErr != nil {
			return runErr
		}
		if res.State == nil || !res.Merge.Changed() {
			return nil
		}
		return r.save(ctx, l, *res.State)
	})
	return res, err
}

// State returns the stored state of an activity, or an empty one.
func (r *ActivityRunner) State(ctx context.Context, activityID string) (state.ActivityState, error) {
	return store.LoadOrNew(ctx, r.store, activityID)
}

// Finalize retires the activity's state under its lease. Finalizing an
// already finalized state is a no-op.
func (r *ActivityRunner) Finalize(ctx context.Context, activityID string) (state.ActivityState, error) {
	var out state.ActivityState
	err := lease.With(ctx, r.locker, activityID, func(ctx context.Context, l lease.Lease) error {
		current, err := store.LoadOrNew(ctx, r.store, activityID)
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		if current.Finalized {
			out = current
			return nil
		}
		out = state.Finalize(current, r.now())
		if err := r.save(ctx, l, out); err != nil {
			return err
		}
		r.logger.Info("Activity finalized", zap.String("activity_id", activityID))
		return nil
	})
	return out, err
}

// save writes st after renewing l, so a holder whose lease lapsed during
// the run never overwrites the state of the writer that took over.
func (r *ActivityRunner) save(ctx context.Context, l lease.Lease, st state.ActivityState) error {
	if err := r.locker.Extend(ctx, l); err != nil {
		r.logger.Warn("Lease lost, discarding state update",
			zap.String("activity_id", l.ActivityID),
			zap.Error(err),
		)
		return fmt.Errorf("save state: %w", err)
	}
	if err := r.store.Save(ctx, st); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// gate refuses extraction for activities the entry source reports as
// finalized.
func (r *ActivityRunner) gate(ctx context.Context, activityID string, kind models.TaskKind) error {
	if r.entries == nil || kind.Shape() != models.ShapeStateDelta {
		return nil
	}
	a, err := r.entries.Activity(ctx, activityID)
	if errors.Is(err, activity.ErrActivityNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("activity status: %w", err)
	}
	if a.Finalized() {
		return &state.FinalizedStateError{ActivityID: activityID}
	}
	return nil
}
