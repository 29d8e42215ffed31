package snapshot

import (
	"context"
	"sync"

	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/domain"
)

// MemoryStore is an in-memory snapshot store for tests and local demos.
type MemoryStore struct {
	mu      sync.RWMutex
	samples map[string]domain.LocationSample
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{samples: make(map[string]domain.LocationSample)}
}

// Put overwrites the stored sample for the route.
func (s *MemoryStore) Put(_ context.Context, sample domain.LocationSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[sample.RouteID] = sample
	return nil
}

// Last returns the stored sample and whether one exists.
func (s *MemoryStore) Last(_ context.Context, routeID string) (domain.LocationSample, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sample, ok := s.samples[routeID]
	return sample, ok, nil
}
