package activity

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrActivityNotFound is returned for an unknown activity id.
var ErrActivityNotFound = errors.New("activity not found")

// EntrySource supplies activities and their log entries. Entries are
// returned oldest first.
type EntrySource interface {
	Activity(ctx context.Context, id string) (Activity, error)
	Entries(ctx context.Context, id string) ([]Entry, error)
}

// MemorySource is an in-process EntrySource.
type MemorySource struct {
	mu         sync.RWMutex
	activities map[string]Activity
	entries    map[string][]Entry
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		activities: make(map[string]Activity),
		entries:    make(map[string][]Entry),
	}
}

// Put adds or replaces an activity. An empty status means in progress.
func (m *MemorySource) Put(a Activity) {
	if a.Status == "" {
		a.Status = StatusInProgress
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities[a.ID] = a
}

// Append records an entry, keeping entries ordered by timestamp.
func (m *MemorySource) Append(id string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.activities[id]; !ok {
		return ErrActivityNotFound
	}
	list := append(m.entries[id], e)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	m.entries[id] = list
	return nil
}

// SetStatus changes the status gate of an activity.
func (m *MemorySource) SetStatus(id string, s Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.activities[id]
	if !ok {
		return ErrActivityNotFound
	}
	a.Status = s
	m.activities[id] = a
	return nil
}

func (m *MemorySource) Activity(ctx context.Context, id string) (Activity, error) {
	if err := ctx.Err(); err != nil {
		return Activity{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.activities[id]
	if !ok {
		return Activity{}, ErrActivityNotFound
	}
	a.Stakeholders = append([]string(nil), a.Stakeholders...)
	return a, nil
}

func (m *MemorySource) Entries(ctx context.Context, id string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.activities[id]; !ok {
		return nil, ErrActivityNotFound
	}
	return append([]Entry(nil), m.entries[id]...), nil
}
