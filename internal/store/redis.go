package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/settlement-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and then populate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through ---

func (s *CachedStore) SaveRun(ctx context.Context, run *model.SettlementRun) error {
	if err := s.primary.SaveRun(ctx, run); err != nil {
		return err
	}
	s.cacheRun(ctx, run)
	// The facility listing now has a new member.
	s.rdb.Del(ctx, facilityRunsKey(run.FacilityID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetRun(ctx context.Context, id string) (*model.SettlementRun, error) {
	data, err := s.rdb.Get(ctx, runKey(id)).Bytes()
	if err == nil {
		var run model.SettlementRun
		if json.Unmarshal(data, &run) == nil {
			return &run, nil
		}
	}

	run, err := s.primary.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheRun(ctx, run)
	return run, nil
}

func (s *CachedStore) ListRunsByFacility(ctx context.Context, facilityID string) ([]model.SettlementRun, error) {
	data, err := s.rdb.Get(ctx, facilityRunsKey(facilityID)).Bytes()
	if err == nil {
		var runs []model.SettlementRun
		if json.Unmarshal(data, &runs) == nil {
			return runs, nil
		}
	}

	runs, err := s.primary.ListRunsByFacility(ctx, facilityID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(runs); err == nil {
		s.rdb.Set(ctx, facilityRunsKey(facilityID), data, s.ttl)
	}
	return runs, nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheRun(ctx context.Context, run *model.SettlementRun) {
	if data, err := json.Marshal(run); err == nil {
		s.rdb.Set(ctx, runKey(run.ID), data, s.ttl)
	}
}

func runKey(id string) string                  { return fmt.Sprintf("settlement:run:%s", id) }
func facilityRunsKey(facilityID string) string { return fmt.Sprintf("settlement:facility:%s", facilityID) }
