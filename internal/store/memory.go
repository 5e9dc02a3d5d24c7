package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/settlement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*model.SettlementRun
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[string]*model.SettlementRun),
	}
}

func (s *MemoryStore) SaveRun(_ context.Context, run *model.SettlementRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("settlement run %s already exists", run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*model.SettlementRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneRun(run), nil
}

func (s *MemoryStore) ListRunsByFacility(_ context.Context, facilityID string) ([]model.SettlementRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SettlementRun
	for _, run := range s.runs {
		if run.FacilityID == facilityID {
			result = append(result, *cloneRun(run))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// cloneRun copies the slices so callers cannot mutate stored runs. Explain
// traces are immutable values and are shared.
func cloneRun(run *model.SettlementRun) *model.SettlementRun {
	cp := *run
	cp.TradeIDs = append([]string(nil), run.TradeIDs...)
	cp.CashFlows = append([]model.AnnotatedCashFlow(nil), run.CashFlows...)
	return &cp
}
