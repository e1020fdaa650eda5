package models

import (
	"fmt"
	"strings"
)

// TaskKind identifies what a run produces. The set is closed; unknown
// values are rejected by ParseTaskKind.
type TaskKind string

const (
	TaskExtraction TaskKind = "extraction"
	TaskChat       TaskKind = "chat"
	TaskExport     TaskKind = "export"
	TaskCanvas     TaskKind = "canvas"
)

// OutputShape is the form a validated response takes for a task kind.
type OutputShape int

const (
	// ShapeText is deliverable text returned to the caller as-is.
	ShapeText OutputShape = iota
	// ShapeStateDelta is a structured partial state update.
	ShapeStateDelta
)

func (s OutputShape) String() string {
	switch s {
	case ShapeStateDelta:
		return "state_delta"
	default:
		return "text"
	}
}

var taskShapes = map[TaskKind]OutputShape{
	TaskExtraction: ShapeStateDelta,
	TaskChat:       ShapeText,
	TaskExport:     ShapeText,
	TaskCanvas:     ShapeText,
}

// TaskKinds returns every task kind in a stable order.
func TaskKinds() []TaskKind {
	return []TaskKind{TaskExtraction, TaskChat, TaskExport, TaskCanvas}
}

// ParseTaskKind converts user input (case-insensitive) into a TaskKind.
func ParseTaskKind(s string) (TaskKind, error) {
	k := TaskKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown task kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of the closed set of task kinds.
func (k TaskKind) Valid() bool {
	_, ok := taskShapes[k]
	return ok
}

// Shape returns the expected output shape for k.
func (k TaskKind) Shape() OutputShape {
	return taskShapes[k]
}

func (k TaskKind) String() string { return string(k) }

// ModelProfile describes the token economics and parameter quirks of one
// model. Profiles are values; a Registry hands out copies.
type ModelProfile struct {
	ID                  string `json:"id" yaml:"id"`
	Provider            string `json:"provider" yaml:"provider"`
	InputTokenLimit     int    `json:"input_token_limit" yaml:"input_token_limit"`
	OutputTokenLimit    int    `json:"output_token_limit" yaml:"output_token_limit"`
	SupportsTemperature bool   `json:"supports_temperature" yaml:"supports_temperature"`
}

// ReasoningMode reports whether the model rejects temperature tuning.
func (p ModelProfile) ReasoningMode() bool {
	return !p.SupportsTemperature
}

// ContextWindow is the combined input and output allowance.
func (p ModelProfile) ContextWindow() int {
	return p.InputTokenLimit + p.OutputTokenLimit
}

func (p ModelProfile) validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("model profile has empty id")
	}
	if p.InputTokenLimit <= 0 {
		return fmt.Errorf("model %s: input_token_limit must be positive, got %d", p.ID, p.InputTokenLimit)
	}
	if p.OutputTokenLimit <= 0 {
		return fmt.Errorf("model %s: output_token_limit must be positive, got %d", p.ID, p.OutputTokenLimit)
	}
	return nil
}
