package stores

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/edgeforge/edgeforge/pkg/engine"
)

// MemoryStore keeps states and run history in process memory. It backs
// tests and the dry-run paths that must not touch the database.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*engine.ResourceState
	runs   []*engine.RunReport
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*engine.ResourceState)}
}

// Init is a no-op for the in-memory store.
func (s *MemoryStore) Init(_ context.Context) error { return nil }

// Migrate is a no-op for the in-memory store.
func (s *MemoryStore) Migrate(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// Get returns the stored state for id.
func (s *MemoryStore) Get(_ context.Context, id string) (*engine.ResourceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[id]
	if !ok {
		return nil, fmt.Errorf("resource state %q: %w", id, engine.ErrNotFound)
	}
	return cloneState(st), nil
}

// List returns all stored states sorted by id.
func (s *MemoryStore) List(_ context.Context) ([]*engine.ResourceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*engine.ResourceState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, cloneState(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Save inserts or replaces a state.
func (s *MemoryStore) Save(_ context.Context, state *engine.ResourceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ID] = cloneState(state)
	return nil
}

// Delete removes a state.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
	return nil
}

// SaveRun appends a run report to the history.
func (s *MemoryStore) SaveRun(_ context.Context, report *engine.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *report
	s.runs = append(s.runs, &cp)
	return nil
}

// ListRuns returns the newest reports first.
func (s *MemoryStore) ListRuns(_ context.Context, limit int) ([]*engine.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*engine.RunReport, 0, len(s.runs))
	for i := len(s.runs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		cp := *s.runs[i]
		out = append(out, &cp)
	}
	return out, nil
}

func cloneState(st *engine.ResourceState) *engine.ResourceState {
	cp := *st
	cp.Declared = st.Declared.Clone()
	cp.Observed = st.Observed.Clone()
	cp.Dependencies = append([]string(nil), st.Dependencies...)
	return &cp
}
