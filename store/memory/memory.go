// Package memory provides an in-memory needslist.Store (for testing/dev).
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/reliefops/replenish-engine/needslist"
)

// =============================================================================
// MEMORY STORE - In-memory implementation with version CAS
// =============================================================================

type Store struct {
	mu    sync.RWMutex
	lists map[needslist.ID]*needslist.NeedsList
}

func New() *Store {
	return &Store{lists: make(map[needslist.ID]*needslist.NeedsList)}
}

// Create persists a new list at version 1.
func (m *Store) Create(_ context.Context, l *needslist.NeedsList) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l.Version == 0 {
		l.Version = 1
	}
	m.lists[l.ID] = l.Clone()
	return nil
}

// Get returns a copy safe for the caller to mutate.
func (m *Store) Get(_ context.Context, id needslist.ID) (*needslist.NeedsList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.lists[id]
	if !ok {
		return nil, needslist.ErrNotFound
	}
	return l.Clone(), nil
}

// Update applies compare-and-swap on the version counter; the check and
// the write happen under one lock, so concurrent writers on the same
// version leave exactly one winner.
func (m *Store) Update(_ context.Context, l *needslist.NeedsList, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.lists[l.ID]
	if !ok {
		return needslist.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return &needslist.StaleVersionError{
			ListID:   l.ID,
			Expected: expectedVersion,
			Actual:   stored.Version,
		}
	}

	l.Version = expectedVersion + 1
	m.lists[l.ID] = l.Clone()
	return nil
}

// List filters and returns copies, newest first.
func (m *Store) List(_ context.Context, f needslist.Filter) ([]*needslist.NeedsList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*needslist.NeedsList
	for _, l := range m.lists {
		if matches(l, f) {
			result = append(result, l.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func matches(l *needslist.NeedsList, f needslist.Filter) bool {
	if f.EventID != "" && l.EventID != f.EventID {
		return false
	}
	if f.WarehouseID != "" && !l.CoversWarehouse(f.WarehouseID) {
		return false
	}
	if f.Phase != "" && l.Phase != f.Phase {
		return false
	}
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	if f.CreatedBy != "" && l.CreatedBy != f.CreatedBy {
		return false
	}
	if f.NonTerminalOnly && l.Status.Terminal() {
		return false
	}
	return true
}
