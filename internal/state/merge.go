package state

import (
	"fmt"
	"time"
)

// FinalizedStateError reports an attempt to merge into a retired state.
type FinalizedStateError struct {
	ActivityID  string
	FinalizedAt *time.Time
}

func (e *FinalizedStateError) Error() string {
	if e.FinalizedAt != nil {
		return fmt.Sprintf("activity %q was finalized at %s; state is read-only",
			e.ActivityID, e.FinalizedAt.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("activity %q is finalized; state is read-only", e.ActivityID)
}

// MergeStats describes what a merge changed.
type MergeStats struct {
	Added           map[ListField]int
	Duplicates      int
	Resolved        int
	Unmatched       int
	SummaryReplaced bool
}

// Changed reports whether the merge produced a different state.
func (m MergeStats) Changed() bool {
	if m.SummaryReplaced || m.Resolved > 0 {
		return true
	}
	for _, n := range m.Added {
		if n > 0 {
			return true
		}
	}
	return false
}

// Merge combines old with delta and returns the new state. old is never
// modified. Entries whose normalized key is already present are discarded,
// so merging the same delta twice equals merging it once.
func Merge(old ActivityState, delta StateDelta, now time.Time) (ActivityState, error) {
	next, _, err := MergeWithStats(old, delta, now)
	return next, err
}

// MergeWithStats is Merge plus a report of what changed.
func MergeWithStats(old ActivityState, delta StateDelta, now time.Time) (ActivityState, MergeStats, error) {
	stats := MergeStats{Added: make(map[ListField]int)}
	if old.Finalized {
		return old, stats, &FinalizedStateError{ActivityID: old.ActivityID, FinalizedAt: old.FinalizedAt}
	}

	next := old.Clone()

	if s := clean(delta.Summary); s != "" && s != next.Summary {
		next.Summary = s
		stats.SummaryReplaced = true
	}

	for _, f := range ListFields() {
		if f == FieldResolvedAnswers {
			continue
		}
		added, dups := appendUnique(next.listPtr(f), delta.Strings(f), now)
		stats.Added[f] += added
		stats.Duplicates += dups
	}

	// Answers are applied after the lists so a delta may both raise and
	// answer a question.
	for _, ra := range delta.ResolvedAnswers {
		applyAnswer(&next, ra, now, &stats)
	}

	if stats.Changed() {
		next.UpdatedAt = now
	}
	return next, stats, nil
}

// Finalize retires the state. Finalizing twice keeps the first timestamp.
func Finalize(s ActivityState, now time.Time) ActivityState {
	next := s.Clone()
	if next.Finalized {
		return next
	}
	t := now
	next.Finalized = true
	next.FinalizedAt = &t
	next.UpdatedAt = now
	return next
}

func appendUnique(list *[]Entry, candidates []string, now time.Time) (added, dups int) {
	if len(candidates) == 0 {
		return 0, 0
	}
	seen := make(map[string]bool, len(*list)+len(candidates))
	for _, e := range *list {
		seen[Normalize(e.Text)] = true
	}
	for _, c := range candidates {
		text := clean(c)
		key := Normalize(text)
		if key == "" {
			continue
		}
		if seen[key] {
			dups++
			continue
		}
		seen[key] = true
		*list = append(*list, Entry{Text: text, CreatedAt: now})
		added++
	}
	return added, dups
}

func applyAnswer(next *ActivityState, ra ResolvedAnswer, now time.Time, stats *MergeStats) {
	question := clean(ra.Question)
	answer := clean(ra.Answer)
	qKey := Normalize(question)
	if qKey == "" || answer == "" {
		return
	}

	idx := -1
	for i, q := range next.OpenQuestions {
		if Normalize(q.Text) == qKey {
			idx = i
			break
		}
	}

	if idx < 0 {
		// Keep the information: record the answer as a decision.
		aKey := Normalize(answer)
		for _, d := range next.Decisions {
			if Normalize(d.Text) == aKey {
				stats.Duplicates++
				return
			}
		}
		next.Decisions = append(next.Decisions, Entry{
			Text:      answer,
			CreatedAt: now,
			Question:  question,
			Origin:    OriginUnmatchedAnswer,
		})
		stats.Added[FieldDecisions]++
		stats.Unmatched++
		return
	}

	q := &next.OpenQuestions[idx]
	if !q.Resolved {
		t := now
		q.Resolved = true
		q.Answer = answer
		q.ResolvedAt = &t
		stats.Resolved++
	}

	// The per-question answer lives on the question; this list is keyed
	// on the answer text like every other list.
	key := Normalize(answer)
	for _, r := range next.ResolvedAnswers {
		if Normalize(r.Text) == key {
			stats.Duplicates++
			return
		}
	}
	next.ResolvedAnswers = append(next.ResolvedAnswers, Entry{
		Text:      answer,
		CreatedAt: now,
		Question:  q.Text,
	})
	stats.Added[FieldResolvedAnswers]++
}
