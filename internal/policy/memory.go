package policy

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory, thread-safe Store implementation. Upserts
// take the write lock, so a reader can never observe a policy whose
// version was bumped but whose active flag is stale.
type MemoryStore struct {
	mu       sync.RWMutex
	policies map[string]*Policy
	clock    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		policies: make(map[string]*Policy),
		clock:    time.Now,
	}
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(_ context.Context, id string, data Upsert) (*Policy, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	version := 1
	if prev, ok := s.policies[id]; ok {
		version = prev.Version + 1
	}

	p := (&Policy{
		ID:        id,
		Rules:     data.Rules,
		DataTypes: data.DataTypes,
		Actions:   data.Actions,
		Version:   version,
		Active:    true,
		UpdatedAt: s.clock().UTC(),
	}).clone()
	s.policies[id] = p

	return p.clone(), nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.clone(), nil
}

// Active implements Store.
func (s *MemoryStore) Active(_ context.Context) (map[string]*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make(map[string]*Policy)
	for id, p := range s.policies {
		if p.Active {
			active[id] = p.clone()
		}
	}
	return active, nil
}

// Deactivate implements Store.
func (s *MemoryStore) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[id]
	if !ok {
		return ErrNotFound
	}
	p.Active = false
	p.UpdatedAt = s.clock().UTC()
	return nil
}
