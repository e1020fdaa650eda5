package validation

import (
	"fmt"
	"strings"

	"github.com/refineflow/orchestrator/internal/state"
)

// listKeys maps accepted response keys to delta fields, in the order they
// are checked. Several keys may feed one field.
var listKeys = []struct {
	key   string
	field state.ListField
}{
	{"action_items", state.FieldActionItems},
	{"open_questions", state.FieldOpenQuestions},
	{"decisions", state.FieldDecisions},
	{"requirements", state.FieldRequirements},
	{"functional_requirements", state.FieldRequirements},
	{"non_functional_requirements", state.FieldRequirements},
	{"risks", state.FieldRisks},
	{"identified_risks", state.FieldRisks},
	{"dependencies", state.FieldDependencies},
	{"metrics", state.FieldMetrics},
	{"costs", state.FieldCosts},
	{"cost_estimates", state.FieldCosts},
	{"information_gaps", state.FieldInformationGaps},
}

const resolvedAnswersKey = "resolved_answers"

// decodeDelta checks doc against the delta shape. Unknown keys are
// ignored; null stands for absent. The returned error has no ParseError
// attached yet.
func decodeDelta(doc any) (state.StateDelta, *SchemaError) {
	var d state.StateDelta
	obj, ok := doc.(map[string]any)
	if !ok {
		return d, &SchemaError{Reason: fmt.Sprintf("expected a JSON object, got %s", typeName(doc))}
	}

	if v, present := obj["summary"]; present && v != nil {
		s, ok := v.(string)
		if !ok {
			return d, &SchemaError{Field: "summary", Reason: "must be a string, got " + typeName(v)}
		}
		d.Summary = s
	}

	for _, lk := range listKeys {
		v, present := obj[lk.key]
		if !present || v == nil {
			continue
		}
		items, ok := v.([]any)
		if !ok {
			return d, &SchemaError{Field: lk.key, Reason: "must be a list, got " + typeName(v)}
		}
		texts := make([]string, 0, len(items))
		for i, item := range items {
			s, ok := item.(string)
			if !ok {
				return d, &SchemaError{Field: fmt.Sprintf("%s[%d]", lk.key, i), Reason: "must be a string, got " + typeName(item)}
			}
			if strings.TrimSpace(s) == "" {
				return d, &SchemaError{Field: fmt.Sprintf("%s[%d]", lk.key, i), Reason: "must not be empty"}
			}
			texts = append(texts, s)
		}
		d.Add(lk.field, texts...)
	}

	if v, present := obj[resolvedAnswersKey]; present && v != nil {
		items, ok := v.([]any)
		if !ok {
			return d, &SchemaError{Field: resolvedAnswersKey, Reason: "must be a list, got " + typeName(v)}
		}
		for i, item := range items {
			at := fmt.Sprintf("%s[%d]", resolvedAnswersKey, i)
			ra, serr := decodeAnswer(at, item)
			if serr != nil {
				return d, serr
			}
			d.ResolvedAnswers = append(d.ResolvedAnswers, ra)
		}
	}
	return d, nil
}

func decodeAnswer(at string, item any) (state.ResolvedAnswer, *SchemaError) {
	obj, ok := item.(map[string]any)
	if !ok {
		return state.ResolvedAnswer{}, &SchemaError{Field: at, Reason: "must be an object with question and answer, got " + typeName(item)}
	}
	var ra state.ResolvedAnswer
	for _, f := range []struct {
		key string
		dst *string
	}{{"question", &ra.Question}, {"answer", &ra.Answer}} {
		s, ok := obj[f.key].(string)
		if !ok || strings.TrimSpace(s) == "" {
			return state.ResolvedAnswer{}, &SchemaError{Field: at + "." + f.key, Reason: "must be a non-empty string"}
		}
		*f.dst = s
	}
	return ra, nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
