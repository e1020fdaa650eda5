package models

import (
	"fmt"
	"sort"
	"strings"
)

// Limits of the profile handed out for unrecognised model ids.
const (
	FallbackInputTokenLimit  = 8192
	FallbackOutputTokenLimit = 1024
)

// UnknownModelWarning is returned alongside the fallback profile when a
// model id is not in the registry. It is informational and never aborts
// a run.
type UnknownModelWarning struct {
	ModelID  string
	Fallback ModelProfile
}

func (w *UnknownModelWarning) Error() string {
	return fmt.Sprintf("unknown model %q: using fallback profile (input %d, output %d)",
		w.ModelID, w.Fallback.InputTokenLimit, w.Fallback.OutputTokenLimit)
}

// Registry is an immutable catalog of model profiles keyed by lowercase id.
// Build one at startup and pass it by reference; it is safe for concurrent
// use because nothing mutates it after construction.
type Registry struct {
	profiles map[string]ModelProfile
	// catalog ids ordered longest first, for snapshot prefix matching
	byLength []string
}

// NewRegistry validates the given profiles and builds a registry. Ids are
// compared case-insensitively; duplicates are rejected.
func NewRegistry(profiles ...ModelProfile) (*Registry, error) {
	r := &Registry{profiles: make(map[string]ModelProfile, len(profiles))}
	for _, p := range profiles {
		if err := p.validate(); err != nil {
			return nil, err
		}
		key := strings.ToLower(strings.TrimSpace(p.ID))
		if _, dup := r.profiles[key]; dup {
			return nil, fmt.Errorf("duplicate model id %q", p.ID)
		}
		if p.Provider == "" {
			p.Provider = DetectProvider(p.ID)
		}
		r.profiles[key] = p
		r.byLength = append(r.byLength, key)
	}
	sort.Slice(r.byLength, func(i, j int) bool {
		if len(r.byLength[i]) != len(r.byLength[j]) {
			return len(r.byLength[i]) > len(r.byLength[j])
		}
		return r.byLength[i] < r.byLength[j]
	})
	return r, nil
}

// DefaultRegistry returns a registry built from the built-in catalog.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(defaultProfiles()...)
	if err != nil {
		panic(fmt.Sprintf("models: invalid built-in catalog: %v", err))
	}
	return r
}

// With returns a new registry holding r's profiles with overrides applied.
// An override replaces the profile with the same id; r is not modified.
func (r *Registry) With(overrides ...ModelProfile) (*Registry, error) {
	merged := make(map[string]ModelProfile, len(r.profiles)+len(overrides))
	for k, p := range r.profiles {
		merged[k] = p
	}
	for _, p := range overrides {
		merged[strings.ToLower(strings.TrimSpace(p.ID))] = p
	}
	all := make([]ModelProfile, 0, len(merged))
	for _, p := range merged {
		all = append(all, p)
	}
	return NewRegistry(all...)
}

// Lookup resolves a model id to a profile. It never fails: an unknown id
// yields the conservative fallback profile plus a non-nil warning.
//
// Matching is case-insensitive. An exact id wins; otherwise the longest
// catalog id that prefixes the request followed by "-" is used, so dated
// snapshots like "gpt-4o-2024-08-06" resolve to their family. Prefix hits
// are reported under the requested id.
func (r *Registry) Lookup(id string) (ModelProfile, *UnknownModelWarning) {
	key := strings.ToLower(strings.TrimSpace(id))
	if p, ok := r.profiles[key]; ok {
		return p, nil
	}
	for _, cand := range r.byLength {
		if strings.HasPrefix(key, cand+"-") {
			p := r.profiles[cand]
			p.ID = id
			return p, nil
		}
	}
	fb := FallbackProfile(id)
	return fb, &UnknownModelWarning{ModelID: id, Fallback: fb}
}

// Known reports whether Lookup would resolve id without a warning.
func (r *Registry) Known(id string) bool {
	_, warn := r.Lookup(id)
	return warn == nil
}

// Profiles returns a copy of every registered profile sorted by id.
func (r *Registry) Profiles() []ModelProfile {
	out := make([]ModelProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered profiles.
func (r *Registry) Len() int { return len(r.profiles) }

// FallbackProfile is the profile used for unrecognised model ids. Ids in a
// reasoning family still lose temperature support.
func FallbackProfile(id string) ModelProfile {
	return ModelProfile{
		ID:                  id,
		Provider:            DetectProvider(id),
		InputTokenLimit:     FallbackInputTokenLimit,
		OutputTokenLimit:    FallbackOutputTokenLimit,
		SupportsTemperature: !IsReasoningModel(id),
	}
}

// IsReasoningModel reports whether a model id belongs to a family that
// rejects temperature and takes a completion-token budget instead.
func IsReasoningModel(id string) bool {
	ml := strings.ToLower(strings.TrimSpace(id))
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if ml == prefix || strings.HasPrefix(ml, prefix+"-") {
			return true
		}
	}
	return false
}

func defaultProfiles() []ModelProfile {
	limits := []struct {
		id            string
		input, output int
	}{
		{"gpt-4-turbo", 128000, 4096},
		{"gpt-4-1106-preview", 128000, 4096},
		{"gpt-4-0125-preview", 128000, 4096},
		{"gpt-5-mini", 128000, 65536},
		{"gpt-4", 8192, 4096},
		{"gpt-4-0613", 8192, 4096},
		{"gpt-4-32k", 32768, 4096},
		{"gpt-4-32k-0613", 32768, 4096},
		{"gpt-3.5-turbo", 16385, 4096},
		{"gpt-3.5-turbo-16k", 16385, 4096},
		{"gpt-3.5-turbo-1106", 16385, 4096},
		{"gpt-3.5-turbo-0125", 16385, 4096},
		{"o1-preview", 128000, 32768},
		{"o1-mini", 128000, 65536},
		{"o1", 200000, 100000},
		{"gpt-4o", 128000, 16384},
		{"gpt-4o-mini", 128000, 16384},
		{"chatgpt-4o-latest", 128000, 16384},
		{"gemini-2.5-flash", 1048576, 65536},
		{"gemini-2.5-pro", 1048576, 65536},
	}
	out := make([]ModelProfile, 0, len(limits))
	for _, l := range limits {
		out = append(out, ModelProfile{
			ID:                  l.id,
			InputTokenLimit:     l.input,
			OutputTokenLimit:    l.output,
			SupportsTemperature: !IsReasoningModel(l.id),
		})
	}
	return out
}
