package state

import (
	"strings"
	"time"
)

// ListField names one of the accumulated list fields.
type ListField string

const (
	FieldActionItems     ListField = "action_items"
	FieldOpenQuestions   ListField = "open_questions"
	FieldResolvedAnswers ListField = "resolved_answers"
	FieldDecisions       ListField = "decisions"
	FieldRequirements    ListField = "requirements"
	FieldRisks           ListField = "risks"
	FieldDependencies    ListField = "dependencies"
	FieldMetrics         ListField = "metrics"
	FieldCosts           ListField = "costs"
	FieldInformationGaps ListField = "information_gaps"
)

// ListFields returns every list field in canonical order.
func ListFields() []ListField {
	return []ListField{
		FieldActionItems, FieldOpenQuestions, FieldResolvedAnswers, FieldDecisions,
		FieldRequirements, FieldRisks, FieldDependencies, FieldMetrics, FieldCosts,
		FieldInformationGaps,
	}
}

// OriginUnmatchedAnswer marks a decision created from an answer whose
// question was not found among the open questions.
const OriginUnmatchedAnswer = "unmatched_answer"

// Entry is one accumulated list item.
type Entry struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`

	// Open questions only.
	Resolved   bool       `json:"resolved,omitempty"`
	Answer     string     `json:"answer,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	// Resolved answers and unmatched-answer decisions: the question text.
	Question string `json:"question,omitempty"`
	Origin   string `json:"origin,omitempty"`
}

// ActivityState is the canonical accumulated state of an activity. Treat
// values as immutable: Merge and Finalize return new values and are the
// only functions that change field contents.
type ActivityState struct {
	ActivityID string `json:"activity_id"`
	Summary    string `json:"summary"`

	ActionItems     []Entry `json:"action_items"`
	OpenQuestions   []Entry `json:"open_questions"`
	ResolvedAnswers []Entry `json:"resolved_answers"`
	Decisions       []Entry `json:"decisions"`
	Requirements    []Entry `json:"requirements"`
	Risks           []Entry `json:"risks"`
	Dependencies    []Entry `json:"dependencies"`
	Metrics         []Entry `json:"metrics"`
	Costs           []Entry `json:"costs"`
	InformationGaps []Entry `json:"information_gaps"`

	Finalized   bool       `json:"finalized"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// New returns the empty state of a freshly started activity.
func New(activityID string) ActivityState {
	return ActivityState{ActivityID: activityID}
}

// List returns a copy of the entries held in field.
func (s ActivityState) List(field ListField) []Entry {
	p := s.listPtr(field)
	if p == nil {
		return nil
	}
	return cloneEntries(*p)
}

// Counts returns the number of entries per list field.
func (s ActivityState) Counts() map[ListField]int {
	out := make(map[ListField]int, len(ListFields()))
	for _, f := range ListFields() {
		out[f] = len(*s.listPtr(f))
	}
	return out
}

// PendingQuestions returns the open questions not yet resolved.
func (s ActivityState) PendingQuestions() []Entry {
	var out []Entry
	for _, q := range s.OpenQuestions {
		if !q.Resolved {
			out = append(out, q)
		}
	}
	return out
}

// Texts returns the text of every entry in field, in insertion order.
func (s ActivityState) Texts(field ListField) []string {
	p := s.listPtr(field)
	if p == nil {
		return nil
	}
	out := make([]string, len(*p))
	for i, e := range *p {
		out[i] = e.Text
	}
	return out
}

// Clone returns a deep copy of s.
func (s ActivityState) Clone() ActivityState {
	c := s
	for _, f := range ListFields() {
		p := c.listPtr(f)
		*p = cloneEntries(*p)
	}
	if s.FinalizedAt != nil {
		t := *s.FinalizedAt
		c.FinalizedAt = &t
	}
	return c
}

func (s *ActivityState) listPtr(field ListField) *[]Entry {
	switch field {
	case FieldActionItems:
		return &s.ActionItems
	case FieldOpenQuestions:
		return &s.OpenQuestions
	case FieldResolvedAnswers:
		return &s.ResolvedAnswers
	case FieldDecisions:
		return &s.Decisions
	case FieldRequirements:
		return &s.Requirements
	case FieldRisks:
		return &s.Risks
	case FieldDependencies:
		return &s.Dependencies
	case FieldMetrics:
		return &s.Metrics
	case FieldCosts:
		return &s.Costs
	case FieldInformationGaps:
		return &s.InformationGaps
	}
	return nil
}

func cloneEntries(in []Entry) []Entry {
	if in == nil {
		return nil
	}
	out := make([]Entry, len(in))
	copy(out, in)
	for i := range out {
		if out[i].ResolvedAt != nil {
			t := *out[i].ResolvedAt
			out[i].ResolvedAt = &t
		}
	}
	return out
}

// ResolvedAnswer answers an open question, referenced by its text.
type ResolvedAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// StateDelta is a partial update extracted from one log entry. Lists are
// candidates; Merge decides which entries are new.
type StateDelta struct {
	Summary string `json:"summary,omitempty"`

	ActionItems     []string         `json:"action_items,omitempty"`
	OpenQuestions   []string         `json:"open_questions,omitempty"`
	ResolvedAnswers []ResolvedAnswer `json:"resolved_answers,omitempty"`
	Decisions       []string         `json:"decisions,omitempty"`
	Requirements    []string         `json:"requirements,omitempty"`
	Risks           []string         `json:"risks,omitempty"`
	Dependencies    []string         `json:"dependencies,omitempty"`
	Metrics         []string         `json:"metrics,omitempty"`
	Costs           []string         `json:"costs,omitempty"`
	InformationGaps []string         `json:"information_gaps,omitempty"`
}

// Strings returns the candidate texts for a plain list field. Resolved
// answers are structured and are not returned here.
func (d StateDelta) Strings(field ListField) []string {
	switch field {
	case FieldActionItems:
		return d.ActionItems
	case FieldOpenQuestions:
		return d.OpenQuestions
	case FieldDecisions:
		return d.Decisions
	case FieldRequirements:
		return d.Requirements
	case FieldRisks:
		return d.Risks
	case FieldDependencies:
		return d.Dependencies
	case FieldMetrics:
		return d.Metrics
	case FieldCosts:
		return d.Costs
	case FieldInformationGaps:
		return d.InformationGaps
	}
	return nil
}

// IsEmpty reports whether the delta carries nothing to merge.
func (d StateDelta) IsEmpty() bool {
	if strings.TrimSpace(d.Summary) != "" || len(d.ResolvedAnswers) > 0 {
		return false
	}
	for _, f := range ListFields() {
		if len(d.Strings(f)) > 0 {
			return false
		}
	}
	return true
}

// Add appends candidate texts to a plain list field of the delta. It is a
// no-op for FieldResolvedAnswers, which carries structured pairs.
func (d *StateDelta) Add(field ListField, texts ...string) {
	switch field {
	case FieldActionItems:
		d.ActionItems = append(d.ActionItems, texts...)
	case FieldOpenQuestions:
		d.OpenQuestions = append(d.OpenQuestions, texts...)
	case FieldDecisions:
		d.Decisions = append(d.Decisions, texts...)
	case FieldRequirements:
		d.Requirements = append(d.Requirements, texts...)
	case FieldRisks:
		d.Risks = append(d.Risks, texts...)
	case FieldDependencies:
		d.Dependencies = append(d.Dependencies, texts...)
	case FieldMetrics:
		d.Metrics = append(d.Metrics, texts...)
	case FieldCosts:
		d.Costs = append(d.Costs, texts...)
	case FieldInformationGaps:
		d.InformationGaps = append(d.InformationGaps, texts...)
	}
}
