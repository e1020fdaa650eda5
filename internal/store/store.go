package store

import (
	"context"
	"errors"
	"sync"

	"github.com/refineflow/orchestrator/internal/metrics"
	"github.com/refineflow/orchestrator/internal/state"
)

// ErrNotFound is returned by Load when no state is stored for an activity.
var ErrNotFound = errors.New("activity state not found")

// StateStore persists ActivityState values. It stores whole values and
// performs no merging; callers serialize writers per activity.
type StateStore interface {
	Load(ctx context.Context, activityID string) (state.ActivityState, error)
	Save(ctx context.Context, s state.ActivityState) error
	Delete(ctx context.Context, activityID string) error
}

// MemoryStore is an in-process StateStore. Values are deep-copied on the
// way in and out so callers cannot alias stored state.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]state.ActivityState
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]state.ActivityState)}
}

func (m *MemoryStore) Load(ctx context.Context, activityID string) (state.ActivityState, error) {
	if err := ctx.Err(); err != nil {
		return state.ActivityState{}, err
	}
	m.mu.RLock()
	s, ok := m.states[activityID]
	m.mu.RUnlock()
	if !ok {
		metrics.StateStoreOps.WithLabelValues("memory", "load", "miss").Inc()
		return state.ActivityState{}, ErrNotFound
	}
	metrics.StateStoreOps.WithLabelValues("memory", "load", "ok").Inc()
	return s.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, s state.ActivityState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.ActivityID == "" {
		return errors.New("state has no activity id")
	}
	m.mu.Lock()
	m.states[s.ActivityID] = s.Clone()
	m.mu.Unlock()
	metrics.StateStoreOps.WithLabelValues("memory", "save", "ok").Inc()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, activityID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.states, activityID)
	m.mu.Unlock()
	return nil
}

// LoadOrNew returns the stored state, or a fresh empty one when none exists.
func LoadOrNew(ctx context.Context, st StateStore, activityID string) (state.ActivityState, error) {
	s, err := st.Load(ctx, activityID)
	if errors.Is(err, ErrNotFound) {
		return state.New(activityID), nil
	}
	return s, err
}
