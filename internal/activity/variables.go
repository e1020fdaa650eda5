package activity

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/refineflow/orchestrator/internal/state"
)

// Placeholder texts for values the activity does not have yet.
const (
	NoSummary      = "No summary yet"
	NoneSpecified  = "None specified"
	NotTrackedNFRs = "Not tracked separately; see functional requirements"
)

// ExtractionVars builds the variables of an extraction prompt for one new
// entry.
func ExtractionVars(a Activity, e Entry, st state.ActivityState) map[string]string {
	return map[string]string{
		"activity_title":       a.Title,
		"activity_description": a.Description,
		"entry_type":           string(e.Type),
		"entry_content":        e.Content,
		"current_summary":      orDefault(st.Summary, NoSummary),
	}
}

// ChatVars builds the variables of a chat prompt. The log is rendered as
// numbered citations within DefaultLogLimit.
func ChatVars(a Activity, st state.ActivityState, entries []Entry, question string) map[string]string {
	return map[string]string{
		"activity_title":       a.Title,
		"activity_description": a.Description,
		"summary":              orDefault(st.Summary, NoSummary),
		"log_content":          orDefault(FormatLog(entries, DefaultLogLimit), "(no entries)"),
		"question":             question,
	}
}

// ExportVars builds the variables of a ticket export prompt. Requirements
// are held in one list, so all of them are presented as functional.
func ExportVars(a Activity, st state.ActivityState) map[string]string {
	reqs := NoneSpecified
	if texts := st.Texts(state.FieldRequirements); len(texts) > 0 {
		reqs = strings.Join(texts, ", ")
	}
	nfr := NoneSpecified
	if len(st.Requirements) > 0 {
		nfr = NotTrackedNFRs
	}
	return map[string]string{
		"title":                       a.Title,
		"description":                 a.Description,
		"summary":                     orDefault(st.Summary, NoSummary),
		"functional_requirements":     reqs,
		"non_functional_requirements": nfr,
		"risks_count":                 strconv.Itoa(len(st.Risks)),
		"dependencies_count":          strconv.Itoa(len(st.Dependencies)),
	}
}

// CanvasVars builds the variables of a business case canvas prompt.
func CanvasVars(a Activity, st state.ActivityState) (map[string]string, error) {
	stateJSON, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"title":              a.Title,
		"description":        a.Description,
		"summary":            orDefault(st.Summary, NoSummary),
		"requirements_count": strconv.Itoa(len(st.Requirements)),
		"risks_count":        strconv.Itoa(len(st.Risks)),
		"dependencies_count": strconv.Itoa(len(st.Dependencies)),
		"stakeholders_count": strconv.Itoa(len(a.Stakeholders)),
		"decisions_count":    strconv.Itoa(len(st.Decisions)),
		"state_json":         string(stateJSON),
	}, nil
}

// orDefault returns s, or def when s is blank.
func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
