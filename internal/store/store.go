// Package store keeps the current session record in memory and writes every
// mutation through to a durable slot before it becomes visible.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/Nitish0223/Ai-powered-Meeting-Summariser/internal/session"
)

// Slot is a durable single-key home for the session record.
type Slot interface {
	Load(ctx context.Context) (session.Record, bool, error)
	Save(ctx context.Context, rec session.Record) error
}

// StateStore is a write-through cache over a Slot.
type StateStore struct {
	mu    sync.Mutex
	slot  Slot
	cache session.Record
}

// New creates a StateStore with an idle record. Call Init to load the
// persisted snapshot.
func New(slot Slot) *StateStore {
	return &StateStore{slot: slot}
}

// Init replaces the cache with the persisted snapshot, if one exists.
func (s *StateStore) Init(ctx context.Context) error {
	rec, ok, err := s.slot.Load(ctx)
	if err != nil {
		return fmt.Errorf("load recording state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.cache = rec
	}
	return nil
}

// Get returns the committed record.
func (s *StateStore) Get() session.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache
}

// Update applies fn to a copy of the record, persists it and only then
// commits it to the cache. On a write failure the cache is left unchanged.
func (s *StateStore) Update(ctx context.Context, fn func(*session.Record)) (session.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cache
	fn(&next)
	if err := s.slot.Save(ctx, next); err != nil {
		return s.cache, fmt.Errorf("persist recording state: %w", err)
	}
	s.cache = next
	return next, nil
}

// MemorySlot is a process-local Slot.
type MemorySlot struct {
	mu     sync.Mutex
	rec    session.Record
	stored bool
	writes int
}

// Load implements Slot.
func (m *MemorySlot) Load(context.Context) (session.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec, m.stored, nil
}

// Save implements Slot.
func (m *MemorySlot) Save(_ context.Context, rec session.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = rec
	m.stored = true
	m.writes++
	return nil
}

// Writes reports how many times Save has been called.
func (m *MemorySlot) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Record returns the last saved record.
func (m *MemorySlot) Record() session.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec
}
