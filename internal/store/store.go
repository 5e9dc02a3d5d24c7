// Package store defines the persistence interface for settlement runs.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/settlement-engine/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("store: settlement run not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. Runs are immutable once saved.
type Store interface {
	// SaveRun persists a computed run with its cash flows.
	SaveRun(ctx context.Context, run *model.SettlementRun) error

	// GetRun retrieves a run and its cash flows by ID.
	GetRun(ctx context.Context, id string) (*model.SettlementRun, error)

	// ListRunsByFacility returns a facility's runs, newest first.
	ListRunsByFacility(ctx context.Context, facilityID string) ([]model.SettlementRun, error)
}
