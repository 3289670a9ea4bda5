package script

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store provides CRUD operations for scripts.
// Implementations must be safe for concurrent use and must never hand out
// references into shared state — callers own what they get back.
type Store interface {
	// Add inserts a new script. Returns an error if a script with the same ID
	// already exists.
	Add(ctx context.Context, s *Script) error

	// Get retrieves a script by ID. Returns [ErrNotFound] if it does not exist.
	Get(ctx context.Context, id string) (*Script, error)

	// Update applies fn to a copy of the stored script and persists the
	// result. The stored record is never mutated in place; readers holding
	// the previous value are unaffected. UpdatedAt is refreshed on success.
	Update(ctx context.Context, id string, fn func(*Script) error) (*Script, error)

	// Remove deletes a script by ID. Removing a missing script is not an error.
	Remove(ctx context.Context, id string) error

	// List returns all scripts, newest first.
	List(ctx context.Context) ([]Script, error)
}

// MemoryStore is an in-memory [Store] with copy-on-write update semantics.
// All methods are safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	scripts map[string]*Script
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scripts: make(map[string]*Script)}
}

// Add inserts a new script.
func (m *MemoryStore) Add(_ context.Context, s *Script) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scripts[s.ID]; ok {
		return fmt.Errorf("script: %q already exists", s.ID)
	}
	m.scripts[s.ID] = s.Clone()
	return nil
}

// Get retrieves a copy of the script with the given ID.
func (m *MemoryStore) Get(_ context.Context, id string) (*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scripts[id]
	if !ok {
		return nil, fmt.Errorf("script: get %q: %w", id, ErrNotFound)
	}
	return s.Clone(), nil
}

// Update applies fn to a copy of the stored script and swaps it in.
func (m *MemoryStore) Update(_ context.Context, id string, fn func(*Script) error) (*Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.scripts[id]
	if !ok {
		return nil, fmt.Errorf("script: update %q: %w", id, ErrNotFound)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.UpdatedAt = time.Now().UTC()
	if err := next.Validate(); err != nil {
		return nil, err
	}
	m.scripts[id] = next
	return next.Clone(), nil
}

// Remove deletes the script with the given ID.
func (m *MemoryStore) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scripts, id)
	return nil
}

// List returns copies of all scripts, newest first.
func (m *MemoryStore) List(_ context.Context) ([]Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Script, 0, len(m.scripts))
	for _, s := range m.scripts {
		out = append(out, *s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
