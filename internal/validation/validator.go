package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/refineflow/orchestrator/internal/llm"
	"github.com/refineflow/orchestrator/internal/metrics"
	"github.com/refineflow/orchestrator/internal/models"
	"github.com/refineflow/orchestrator/internal/state"
)

// ValidatedOutput is a response checked against its task kind. Exactly one
// of Text and Delta is set, according to the kind's output shape.
type ValidatedOutput struct {
	Kind  models.TaskKind
	Text  string
	Delta *state.StateDelta
	// Repaired is true when the structured output needed the repair pass.
	Repaired bool
}

// Validator checks raw provider output per task kind.
type Validator struct {
	logger *zap.Logger
}

// NewValidator creates a validator.
func NewValidator(logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{logger: logger}
}

// Validate dispatches on the output shape of kind.
func (v *Validator) Validate(kind models.TaskKind, raw llm.RawResponse) (ValidatedOutput, error) {
	if !kind.Valid() {
		return ValidatedOutput{}, fmt.Errorf("unknown task kind %q", kind)
	}
	switch kind.Shape() {
	case models.ShapeStateDelta:
		return v.validateDelta(kind, raw)
	default:
		return v.validateText(kind, raw)
	}
}

func (v *Validator) validateText(kind models.TaskKind, raw llm.RawResponse) (ValidatedOutput, error) {
	text := strings.TrimSpace(raw.Text)
	if text == "" {
		metrics.ParseFailures.WithLabelValues(string(kind), "empty").Inc()
		return ValidatedOutput{}, &EmptyResponseError{TaskKind: kind, FinishReason: raw.FinishReason}
	}
	return ValidatedOutput{Kind: kind, Text: text}, nil
}

var errBlank = errors.New("response is blank")

func (v *Validator) validateDelta(kind models.TaskKind, raw llm.RawResponse) (ValidatedOutput, error) {
	if strings.TrimSpace(raw.Text) == "" {
		metrics.ParseFailures.WithLabelValues(string(kind), "blank").Inc()
		return ValidatedOutput{}, &ParseError{TaskKind: kind, Raw: raw.Text, Err: errBlank}
	}

	repaired := false
	var doc any
	err := json.Unmarshal([]byte(raw.Text), &doc)
	if err != nil {
		fixed := Repair(raw.Text)
		if fixed == "" {
			metrics.ResponseRepairs.WithLabelValues(string(kind), "no_object").Inc()
			metrics.ParseFailures.WithLabelValues(string(kind), "syntax").Inc()
			v.logger.Warn("Extraction response has no JSON object",
				zap.String("task_kind", string(kind)),
				zap.Int("raw_len", len(raw.Text)),
			)
			return ValidatedOutput{}, &ParseError{TaskKind: kind, Raw: raw.Text, Repaired: true, Err: err}
		}
		repaired = true
		if err = json.Unmarshal([]byte(fixed), &doc); err != nil {
			metrics.ResponseRepairs.WithLabelValues(string(kind), "failed").Inc()
			metrics.ParseFailures.WithLabelValues(string(kind), "syntax").Inc()
			v.logger.Warn("Extraction response still invalid after repair",
				zap.String("task_kind", string(kind)),
				zap.Error(err),
			)
			return ValidatedOutput{}, &ParseError{TaskKind: kind, Raw: raw.Text, Repaired: true, Err: err}
		}
		metrics.ResponseRepairs.WithLabelValues(string(kind), "ok").Inc()
		v.logger.Debug("Extraction response repaired", zap.String("task_kind", string(kind)))
	}

	delta, schemaErr := decodeDelta(doc)
	if schemaErr != nil {
		schemaErr.ParseError = &ParseError{
			TaskKind: kind,
			Raw:      raw.Text,
			Repaired: repaired,
			Err:      errors.New(schemaErr.Reason),
		}
		metrics.ParseFailures.WithLabelValues(string(kind), "schema").Inc()
		return ValidatedOutput{}, schemaErr
	}
	return ValidatedOutput{Kind: kind, Delta: &delta, Repaired: repaired}, nil
}
