package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// MemoryStore is an in-process domain.PositionStore used in paper mode.
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{positions: make(map[string]domain.Position)}
}

func (s *MemoryStore) Get(_ context.Context, conditionID string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[conditionID]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *MemoryStore) Upsert(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	s.positions[pos.ConditionID] = pos
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, conditionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[conditionID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.positions, conditionID)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]domain.Position, error) {
	s.mu.RLock()
	out := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConditionID < out[j].ConditionID })
	return out, nil
}

var _ domain.PositionStore = (*MemoryStore)(nil)
