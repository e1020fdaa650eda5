package templates

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/refineflow/orchestrator/internal/models"
)

// Template is the on-disk form of a prompt template. Each task kind has
// exactly one active template. Templates are pure data: the only dynamic
// element is {{name}} placeholder substitution.
type Template struct {
	Name        string          `yaml:"name"`
	TaskKind    models.TaskKind `yaml:"task_kind"`
	Version     string          `yaml:"version"`
	Description string          `yaml:"description"`
	// Variables declares every placeholder the segments may reference.
	Variables   []string `yaml:"variables"`
	Instruction string   `yaml:"instruction"`
	Content     string   `yaml:"content"`
	// Fallback is optional text served by a template fallback strategy
	// when the provider cannot produce a deliverable.
	Fallback string `yaml:"fallback"`
}

// PromptSpec is a composed request payload. The two segments stay separate
// so they can be logged and asserted independently.
type PromptSpec struct {
	Instruction string `json:"instruction"`
	Content     string `json:"content"`
}

// Segment names used in errors and metrics.
const (
	SegmentInstruction = "instruction"
	SegmentContent     = "content"
	SegmentFallback    = "fallback"
)

// ParseTemplate decodes one YAML template document. Unknown keys and
// trailing documents are errors.
func ParseTemplate(data []byte) (*Template, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var tpl Template
	if err := dec.Decode(&tpl); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode template: expected a single document")
	}
	return &tpl, nil
}
