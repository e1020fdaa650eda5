package validation

import (
	"fmt"

	"github.com/refineflow/orchestrator/internal/models"
)

// ParseError reports extraction output that could not be decoded. Raw is
// the response exactly as received.
type ParseError struct {
	TaskKind models.TaskKind
	Raw      string
	// Repaired is true when the repair pass ran and its result failed too.
	Repaired bool
	Err      error
}

func (e *ParseError) Error() string {
	stage := "strict parse"
	if e.Repaired {
		stage = "parse after repair"
	}
	return fmt.Sprintf("%s response: %s failed: %v", e.TaskKind, stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SchemaError reports decoded output whose structure does not match a
// state delta. It is a ParseError: errors.As with *ParseError matches it.
type SchemaError struct {
	*ParseError
	// Field is the offending key, with an index for list elements, e.g. "risks[2]".
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s response: schema: %s", e.TaskKind, e.Reason)
	}
	return fmt.Sprintf("%s response: schema: field %s: %s", e.TaskKind, e.Field, e.Reason)
}

func (e *SchemaError) Unwrap() error { return e.ParseError }

// EmptyResponseError reports a text response with no content after trimming.
type EmptyResponseError struct {
	TaskKind     models.TaskKind
	FinishReason string
}

func (e *EmptyResponseError) Error() string {
	if e.FinishReason != "" {
		return fmt.Sprintf("%s response is empty (finish reason %q)", e.TaskKind, e.FinishReason)
	}
	return fmt.Sprintf("%s response is empty", e.TaskKind)
}
