package state

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Contact vendor", "contact vendor"},
		{"contact vendor ", "contact vendor"},
		{"  Contact \t\n  VENDOR  ", "contact vendor"},
		{"Straße", "strasse"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMergeDeduplicatesWithinAndAcrossDeltas(t *testing.T) {
	s := New("act-1")
	next, err := Merge(s, StateDelta{ActionItems: []string{"Contact vendor", "contact vendor "}}, t0)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := next.Texts(FieldActionItems); !cmp.Equal(got, []string{"Contact vendor"}) {
		t.Fatalf("unexpected action items %v", got)
	}

	next, err = Merge(next, StateDelta{ActionItems: []string{"CONTACT   VENDOR", "Send invoice"}}, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	want := []Entry{
		{Text: "Contact vendor", CreatedAt: t0},
		{Text: "Send invoice", CreatedAt: t0.Add(time.Hour)},
	}
	if diff := cmp.Diff(want, next.ActionItems); diff != "" {
		t.Errorf("action items mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	old, _ := Merge(New("act-1"), StateDelta{
		Summary:       "first",
		OpenQuestions: []string{"Which region?"},
		Risks:         []string{"Vendor delay"},
	}, t0)
	snapshot := old.Clone()

	_, err := Merge(old, StateDelta{
		Summary:         "second",
		Risks:           []string{"Budget cut"},
		ResolvedAnswers: []ResolvedAnswer{{Question: "which region?", Answer: "eu-west-1"}},
	}, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if diff := cmp.Diff(snapshot, old); diff != "" {
		t.Errorf("old state was mutated (-before +after):\n%s", diff)
	}
}

func TestMergeSummary(t *testing.T) {
	s, _ := Merge(New("a"), StateDelta{Summary: "  Initial   summary "}, t0)
	if s.Summary != "Initial summary" {
		t.Fatalf("summary = %q", s.Summary)
	}
	s2, _ := Merge(s, StateDelta{Summary: "   ", Risks: []string{"r"}}, t0)
	if s2.Summary != "Initial summary" {
		t.Errorf("empty summary replaced the old one: %q", s2.Summary)
	}
	s3, _ := Merge(s2, StateDelta{Summary: "Updated"}, t0)
	if s3.Summary != "Updated" {
		t.Errorf("summary = %q, want Updated", s3.Summary)
	}
}

func TestMergeResolvesOpenQuestion(t *testing.T) {
	s, _ := Merge(New("a"), StateDelta{OpenQuestions: []string{"Which region should we deploy to?"}}, t0)

	later := t0.Add(2 * time.Hour)
	next, stats, err := MergeWithStats(s, StateDelta{
		ResolvedAnswers: []ResolvedAnswer{{Question: "which region should  we deploy to?", Answer: "eu-west-1"}},
	}, later)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if stats.Resolved != 1 || stats.Unmatched != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}

	wantQ := []Entry{{
		Text:       "Which region should we deploy to?",
		CreatedAt:  t0,
		Resolved:   true,
		Answer:     "eu-west-1",
		ResolvedAt: &later,
	}}
	if diff := cmp.Diff(wantQ, next.OpenQuestions); diff != "" {
		t.Errorf("open questions mismatch (-want +got):\n%s", diff)
	}
	wantA := []Entry{{Text: "eu-west-1", CreatedAt: later, Question: "Which region should we deploy to?"}}
	if diff := cmp.Diff(wantA, next.ResolvedAnswers); diff != "" {
		t.Errorf("resolved answers mismatch (-want +got):\n%s", diff)
	}
	if len(next.PendingQuestions()) != 0 {
		t.Errorf("expected no pending questions")
	}
	if len(next.OpenQuestions) != len(s.OpenQuestions) {
		t.Errorf("resolution must retain the question record")
	}
}

func TestMergeSecondAnswerKeepsFirstResolution(t *testing.T) {
	s, _ := Merge(New("a"), StateDelta{
		OpenQuestions:   []string{"Who owns the job?"},
		ResolvedAnswers: []ResolvedAnswer{{Question: "Who owns the job?", Answer: "Team A"}},
	}, t0)
	next, _ := Merge(s, StateDelta{
		ResolvedAnswers: []ResolvedAnswer{{Question: "who owns the job?", Answer: "Team B"}},
	}, t0.Add(time.Hour))

	if next.OpenQuestions[0].Answer != "Team A" {
		t.Errorf("answer = %q, want Team A", next.OpenQuestions[0].Answer)
	}
	if got := next.Texts(FieldResolvedAnswers); !cmp.Equal(got, []string{"Team A", "Team B"}) {
		t.Errorf("resolved answers = %v", got)
	}
}

func TestMergeSameAnswerToTwoQuestions(t *testing.T) {
	s, _ := Merge(New("a"), StateDelta{OpenQuestions: []string{"Is SSO needed?", "Is audit log needed?"}}, t0)
	next, stats, err := MergeWithStats(s, StateDelta{ResolvedAnswers: []ResolvedAnswer{
		{Question: "Is SSO needed?", Answer: "Yes"},
		{Question: "is audit log needed?", Answer: " yes "},
	}}, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if stats.Resolved != 2 {
		t.Errorf("resolved = %d, want 2", stats.Resolved)
	}
	for _, q := range next.OpenQuestions {
		if !q.Resolved {
			t.Errorf("question %q not resolved", q.Text)
		}
	}
	if next.OpenQuestions[1].Answer != "yes" {
		t.Errorf("second answer = %q, want yes", next.OpenQuestions[1].Answer)
	}
	if got := next.Texts(FieldResolvedAnswers); !cmp.Equal(got, []string{"Yes"}) {
		t.Errorf("resolved answers = %v, want one entry", got)
	}
	if stats.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", stats.Duplicates)
	}
}

func TestMergeUnmatchedAnswerBecomesDecision(t *testing.T) {
	s, _ := Merge(New("a"), StateDelta{OpenQuestions: []string{"Which database?"}}, t0)

	next, err := Merge(s, StateDelta{
		ResolvedAnswers: []ResolvedAnswer{{Question: "What is the deadline?", Answer: "End of Q3"}},
	}, t0)
	if err != nil {
		t.Fatalf("unmatched answer must not error: %v", err)
	}
	want := []Entry{{
		Text:      "End of Q3",
		CreatedAt: t0,
		Question:  "What is the deadline?",
		Origin:    OriginUnmatchedAnswer,
	}}
	if diff := cmp.Diff(want, next.Decisions); diff != "" {
		t.Errorf("decisions mismatch (-want +got):\n%s", diff)
	}
	if next.OpenQuestions[0].Resolved {
		t.Errorf("unrelated question was resolved")
	}
}

func TestMergeFinalizedState(t *testing.T) {
	s, _ := Merge(New("act-9"), StateDelta{Risks: []string{"r"}}, t0)
	fin := Finalize(s, t0.Add(time.Hour))
	if !fin.Finalized || fin.FinalizedAt == nil {
		t.Fatalf("expected finalized state")
	}
	if s.Finalized {
		t.Fatalf("Finalize mutated its input")
	}

	_, err := Merge(fin, StateDelta{Risks: []string{"new"}}, t0.Add(2*time.Hour))
	var fe *FinalizedStateError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FinalizedStateError, got %v", err)
	}
	if fe.ActivityID != "act-9" {
		t.Errorf("activity id = %q", fe.ActivityID)
	}

	again := Finalize(fin, t0.Add(5*time.Hour))
	if !again.FinalizedAt.Equal(*fin.FinalizedAt) {
		t.Errorf("second Finalize changed the timestamp")
	}
}

func TestMergeNeverShrinks(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := New("a")
	for i := 0; i < 200; i++ {
		before := s.Counts()
		next, err := Merge(s, randomDelta(rng), t0.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("Merge: %v", err)
		}
		for f, n := range next.Counts() {
			if n < before[f] {
				t.Fatalf("field %s shrank from %d to %d", f, before[f], n)
			}
		}
		s = next
	}
	for _, f := range ListFields() {
		seen := map[string]bool{}
		for _, e := range s.List(f) {
			key := Normalize(e.Text)
			if seen[key] {
				t.Errorf("field %s holds duplicate key %q", f, key)
			}
			seen[key] = true
		}
	}
}

func TestMergeIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		base, _ := Merge(New("a"), randomDelta(rng), t0)
		d := randomDelta(rng)
		once, err := Merge(base, d, t0.Add(time.Hour))
		if err != nil {
			t.Fatalf("Merge: %v", err)
		}
		twice, err := Merge(once, d, t0.Add(2*time.Hour))
		if err != nil {
			t.Fatalf("Merge: %v", err)
		}
		if diff := cmp.Diff(once, twice); diff != "" {
			t.Fatalf("iteration %d: merge not idempotent (-once +twice):\n%s", i, diff)
		}
	}
}

func TestMergeOrderIndependentForDisjointDeltas(t *testing.T) {
	base, _ := Merge(New("a"), StateDelta{
		OpenQuestions: []string{"Which region?", "Who approves?"},
		Decisions:     []string{"Use Go"},
	}, t0)

	a := StateDelta{
		ActionItems:     []string{"Contact vendor", "Book meeting"},
		Risks:           []string{"Vendor delay"},
		ResolvedAnswers: []ResolvedAnswer{{Question: "which region?", Answer: "eu-west-1"}},
	}
	b := StateDelta{
		ActionItems:     []string{"Write RFC"},
		Costs:           []string{"M"},
		ResolvedAnswers: []ResolvedAnswer{{Question: "Who approves?", Answer: "CTO"}, {Question: "Unknown?", Answer: "Later"}},
	}

	ab, _ := Merge(base, a, t0)
	ab, _ = Merge(ab, b, t0)
	ba, _ := Merge(base, b, t0)
	ba, _ = Merge(ba, a, t0)

	for _, f := range ListFields() {
		if diff := cmp.Diff(sortedEntries(ab.List(f)), sortedEntries(ba.List(f))); diff != "" {
			t.Errorf("field %s differs by order (-ab +ba):\n%s", f, diff)
		}
	}
}

func TestStateDeltaIsEmpty(t *testing.T) {
	if !(StateDelta{Summary: "  "}).IsEmpty() {
		t.Errorf("blank delta should be empty")
	}
	if (StateDelta{Metrics: []string{"p95 < 200ms"}}).IsEmpty() {
		t.Errorf("delta with metrics is not empty")
	}
	if (StateDelta{ResolvedAnswers: []ResolvedAnswer{{Question: "q", Answer: "a"}}}).IsEmpty() {
		t.Errorf("delta with answers is not empty")
	}
}

func sortedEntries(in []Entry) []Entry {
	out := append([]Entry(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Text != out[j].Text {
			return out[i].Text < out[j].Text
		}
		return out[i].Question < out[j].Question
	})
	return out
}

var vocabulary = []string{
	"Contact vendor", "contact vendor ", "Define SLA", "define  sla", "Budget approval",
	"Latency under 200ms", "GDPR review", "Payment API", "M", "XGG", "Which region?",
	"Who owns it?", "Use Postgres", "use postgres",
}

func randomList(rng *rand.Rand) []string {
	n := rng.Intn(4)
	out := make([]string, n)
	for i := range out {
		out[i] = vocabulary[rng.Intn(len(vocabulary))]
	}
	return out
}

func randomDelta(rng *rand.Rand) StateDelta {
	d := StateDelta{
		ActionItems:     randomList(rng),
		OpenQuestions:   randomList(rng),
		Decisions:       randomList(rng),
		Requirements:    randomList(rng),
		Risks:           randomList(rng),
		Dependencies:    randomList(rng),
		Metrics:         randomList(rng),
		Costs:           randomList(rng),
		InformationGaps: randomList(rng),
	}
	if rng.Intn(2) == 0 {
		d.Summary = fmt.Sprintf("summary %d", rng.Intn(3))
	}
	for i := rng.Intn(3); i > 0; i-- {
		d.ResolvedAnswers = append(d.ResolvedAnswers, ResolvedAnswer{
			Question: vocabulary[rng.Intn(len(vocabulary))],
			Answer:   vocabulary[rng.Intn(len(vocabulary))],
		})
	}
	return d
}
