package orchestrator

import (
	"fmt"

	"github.com/refineflow/orchestrator/internal/models"
)

// Stage names the step of a run that failed.
type Stage string

const (
	StageRequest  Stage = "request"
	StageCompose  Stage = "compose"
	StageBudget   Stage = "budget"
	StageProvider Stage = "provider"
	StageValidate Stage = "validate"
	StageMerge    Stage = "merge"
	StageFallback Stage = "fallback"
)

// RunError wraps the typed cause of a failed run with the run's identity.
// Use errors.As on the cause types (ParseError, ProviderTimeout, ...).
type RunError struct {
	RunID    string
	ModelID  string
	TaskKind models.TaskKind
	Stage    Stage
	Err      error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s (%s, model %s) failed at %s: %v", e.RunID, e.TaskKind, e.ModelID, e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// MissingStateError reports an extraction run without a prior state to
// merge into.
type MissingStateError struct {
	ActivityID string
}

func (e *MissingStateError) Error() string {
	if e.ActivityID == "" {
		return "extraction requires the activity's current state"
	}
	return fmt.Sprintf("extraction for activity %q requires its current state", e.ActivityID)
}
