package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/explain"
	"github.com/atmx/settlement-engine/internal/model"
)

// Schema creates the run and cash-flow tables.
const Schema = `
CREATE TABLE IF NOT EXISTS settlement_runs (
	id             TEXT PRIMARY KEY,
	facility_id    TEXT NOT NULL,
	valuation_date DATE NOT NULL,
	epsilon        NUMERIC NOT NULL,
	trade_ids      TEXT[] NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS settlement_runs_facility_idx ON settlement_runs (facility_id, created_at DESC);

CREATE TABLE IF NOT EXISTS settlement_cash_flows (
	run_id       TEXT NOT NULL REFERENCES settlement_runs (id),
	seq          INT NOT NULL,
	payment_date DATE NOT NULL,
	amount       NUMERIC NOT NULL,
	currency     TEXT NOT NULL,
	weight       NUMERIC NOT NULL,
	type         TEXT NOT NULL,
	payer        TEXT NOT NULL,
	receiver     TEXT NOT NULL,
	source_id    TEXT NOT NULL,
	uncertain    BOOLEAN NOT NULL,
	trade_id     TEXT NOT NULL,
	explain      JSONB,
	PRIMARY KEY (run_id, seq)
);`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) SaveRun(ctx context.Context, run *model.SettlementRun) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO settlement_runs (id, facility_id, valuation_date, epsilon, trade_ids, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
		run.ID, run.FacilityID, run.ValuationDate, run.Epsilon.String(), run.TradeIDs, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	for i, cf := range run.CashFlows {
		var explainJSON []byte
		if cf.Explain != nil {
			if explainJSON, err = json.Marshal(cf.Explain); err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO settlement_cash_flows
			   (run_id, seq, payment_date, amount, currency, weight, type, payer, receiver,
			    source_id, uncertain, trade_id, explain)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6::NUMERIC, $7, $8, $9, $10, $11, $12, $13)`,
			run.ID, i, cf.PaymentDate, cf.Amount.String(), cf.Currency, cf.Weight.String(),
			string(cf.Type), cf.Payer, cf.Receiver, cf.SourceID, cf.Uncertain, cf.TradeID, explainJSON,
		)
		if err != nil {
			return fmt.Errorf("insert cash flow %d of run %s: %w", i, run.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.SettlementRun, error) {
	run, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT id, facility_id, valuation_date, epsilon::TEXT, trade_ids, created_at
		 FROM settlement_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT payment_date, amount::TEXT, currency, weight::TEXT, type, payer, receiver,
		        source_id, uncertain, trade_id, explain
		 FROM settlement_cash_flows WHERE run_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if run.CashFlows, err = scanCashFlows(rows); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *PostgresStore) ListRunsByFacility(ctx context.Context, facilityID string) ([]model.SettlementRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM settlement_runs WHERE facility_id = $1 ORDER BY created_at DESC, id`, facilityID)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	runs := make([]model.SettlementRun, 0, len(ids))
	for _, id := range ids {
		run, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (*model.SettlementRun, error) {
	var run model.SettlementRun
	var epsilon string
	if err := row.Scan(&run.ID, &run.FacilityID, &run.ValuationDate, &epsilon, &run.TradeIDs, &run.CreatedAt); err != nil {
		return nil, err
	}
	run.ValuationDate = run.ValuationDate.UTC()
	run.Epsilon, _ = decimal.NewFromString(epsilon)
	return &run, nil
}

// pgxRows is the subset of pgx.Rows read by scanCashFlows.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanCashFlows(rows pgxRows) ([]model.AnnotatedCashFlow, error) {
	var flows []model.AnnotatedCashFlow
	for rows.Next() {
		var cf model.AnnotatedCashFlow
		var paymentDate time.Time
		var amountS, weightS, typ string
		var explainJSON []byte

		if err := rows.Scan(&paymentDate, &amountS, &cf.Currency, &weightS, &typ,
			&cf.Payer, &cf.Receiver, &cf.SourceID, &cf.Uncertain, &cf.TradeID, &explainJSON); err != nil {
			return nil, err
		}

		cf.PaymentDate = paymentDate.UTC()
		cf.Type = model.CashFlowType(typ)
		cf.Amount, _ = decimal.NewFromString(amountS)
		cf.Weight, _ = decimal.NewFromString(weightS)
		if len(explainJSON) > 0 {
			var trace explain.Trace
			if err := json.Unmarshal(explainJSON, &trace); err != nil {
				return nil, fmt.Errorf("decode explain: %w", err)
			}
			cf.Explain = &trace
		}
		flows = append(flows, cf)
	}
	return flows, rows.Err()
}
