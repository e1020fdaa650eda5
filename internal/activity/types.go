package activity

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle gate of an activity.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusFinalized  Status = "finalized"
)

// EntryType classifies a log entry.
type EntryType string

const (
	EntryNote            EntryType = "note"
	EntryQuestion        EntryType = "question"
	EntryAnswer          EntryType = "answer"
	EntryTranscript      EntryType = "transcript"
	EntryJiraDescription EntryType = "jira_description"
	EntryDecision        EntryType = "decision"
	EntryRequirement     EntryType = "requirement"
	EntryRisk            EntryType = "risk"
	EntryMetric          EntryType = "metric"
	EntryCost            EntryType = "cost"
	EntryDependency      EntryType = "dependency"
)

var entryTypes = map[EntryType]bool{
	EntryNote: true, EntryQuestion: true, EntryAnswer: true, EntryTranscript: true,
	EntryJiraDescription: true, EntryDecision: true, EntryRequirement: true,
	EntryRisk: true, EntryMetric: true, EntryCost: true, EntryDependency: true,
}

// ParseEntryType accepts an entry type name, case-insensitively.
func ParseEntryType(s string) (EntryType, error) {
	t := EntryType(strings.ToLower(strings.TrimSpace(s)))
	if !entryTypes[t] {
		return "", fmt.Errorf("unknown entry type %q", s)
	}
	return t, nil
}

// Activity is a tracked unit of work.
type Activity struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Status         Status    `json:"status"`
	Problem        string    `json:"problem,omitempty"`
	Stakeholders   []string  `json:"stakeholders,omitempty"`
	Constraints    string    `json:"constraints,omitempty"`
	AffectedSystem string    `json:"affected_system,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Finalized reports whether the activity is closed to further merges.
func (a Activity) Finalized() bool { return a.Status == StatusFinalized }

// Entry is one timestamped log item of an activity.
type Entry struct {
	Type      EntryType         `json:"entry_type"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
