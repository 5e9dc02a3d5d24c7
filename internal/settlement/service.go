// Package settlement provides the HTTP handlers for computing, storing and
// querying settlement runs, per-trade cash flows and position present values.
//
// All monetary values use shopspring/decimal — never float64 for money.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/daycount"
	"github.com/atmx/settlement-engine/internal/explain"
	"github.com/atmx/settlement-engine/internal/metrics"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/pricing"
	"github.com/atmx/settlement-engine/internal/store"
)

// Service handles settlement operations. Computation is stateless; runs are
// immutable once stored, so handlers need no locking.
type Service struct {
	store  store.Store
	engine *pricing.Engine
	wsHub  *WSHub // optional WebSocket hub for run notifications
}

// NewService creates a new settlement service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, engine *pricing.Engine, hub *WSHub) *Service {
	return &Service{
		store:  st,
		engine: engine,
		wsHub:  hub,
	}
}

// --- Request/Response types ---

// SettleRequest is the JSON body for POST /settlements.
type SettleRequest struct {
	ValuationDate time.Time        `json:"valuation_date"`
	Epsilon       *decimal.Decimal `json:"epsilon,omitempty"` // nil → engine default
	Facility      model.Facility   `json:"facility"`
	Trades        []model.Trade    `json:"trades"`
}

// TradeCashFlowsRequest is the JSON body for POST /trades/cashflows.
type TradeCashFlowsRequest struct {
	ValuationDate time.Time        `json:"valuation_date"`
	Epsilon       *decimal.Decimal `json:"epsilon,omitempty"`
	Facility      model.Facility   `json:"facility"`
	Trade         model.Trade      `json:"trade"`
}

// TradeCashFlowsResponse lists one trade's un-netted flows.
type TradeCashFlowsResponse struct {
	TradeID   string                    `json:"trade_id"`
	CashFlows []model.AnnotatedCashFlow `json:"cash_flows"`
}

// PresentValueRequest is the JSON body for POST /trades/present-value.
type PresentValueRequest struct {
	ValuationDate time.Time       `json:"valuation_date"`
	Facility      model.Facility  `json:"facility"`
	Trade         model.Trade     `json:"trade"`
	CleanPrice    decimal.Decimal `json:"clean_price"`
}

// PresentValueResponse is the position value and its derivation.
type PresentValueResponse struct {
	TradeID      string          `json:"trade_id"`
	PresentValue decimal.Decimal `json:"present_value"`
	Explain      explain.Trace   `json:"explain"`
}

// --- Settlement runs ---

// ErrInvalidRequest marks request payloads rejected before any computation.
var ErrInvalidRequest = errors.New("settlement: invalid request")

// Settle computes the netted settlement set for the request's trades, stores
// it as a new run and notifies WebSocket clients.
func (s *Service) Settle(ctx context.Context, req SettleRequest) (*model.SettlementRun, error) {
	start := time.Now()

	if len(req.Trades) == 0 {
		return nil, fmt.Errorf("%w: at least one trade is required", ErrInvalidRequest)
	}
	if req.ValuationDate.IsZero() {
		return nil, fmt.Errorf("%w: valuation_date is required", ErrInvalidRequest)
	}
	if err := req.Facility.Validate(); err != nil {
		return nil, err
	}
	engine, err := s.engineFor(req.Epsilon)
	if err != nil {
		return nil, err
	}

	trades := make([]model.Trade, len(req.Trades))
	tradeIDs := make([]string, len(req.Trades))
	for i, t := range req.Trades {
		t.Facility = &req.Facility
		trades[i] = t
		tradeIDs[i] = t.ID
	}

	result, err := engine.Settle(ctx, req.ValuationDate, trades)
	if err != nil {
		metrics.SettlementRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	cashFlows := result.CashFlows
	if cashFlows == nil {
		cashFlows = []model.AnnotatedCashFlow{}
	}
	run := &model.SettlementRun{
		ID:            uuid.New().String(),
		FacilityID:    req.Facility.ID,
		ValuationDate: req.ValuationDate,
		Epsilon:       engine.Params().Epsilon,
		TradeIDs:      tradeIDs,
		CashFlows:     cashFlows,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.SaveRun(ctx, run); err != nil {
		metrics.SettlementRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("store run %s: %w", run.ID, err)
	}

	metrics.SettlementRunsTotal.WithLabelValues("ok").Inc()
	metrics.SettlementRunLatency.WithLabelValues("settle").Observe(time.Since(start).Seconds())
	metrics.TradesPriced.Add(float64(len(trades)))
	metrics.NettingCancellations.Add(float64(result.Stats.Cancellations))
	metrics.CompressionIterations.Observe(float64(result.Stats.CompressionIterations))
	for _, cf := range run.CashFlows {
		metrics.CashFlowsEmitted.WithLabelValues(string(cf.Type)).Inc()
	}

	slog.Info("settlement run computed",
		"run_id", run.ID,
		"facility", run.FacilityID,
		"valuation_date", run.ValuationDate.Format("2006-01-02"),
		"epsilon", run.Epsilon.String(),
		"trades", len(trades),
		"cash_flows", len(run.CashFlows),
		"cancellations", result.Stats.Cancellations,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:          "settlement_computed",
			RunID:         run.ID,
			FacilityID:    run.FacilityID,
			ValuationDate: run.ValuationDate.Format("2006-01-02"),
			Trades:        len(trades),
			CashFlows:     len(run.CashFlows),
		})
	}
	return run, nil
}

// --- HTTP Handlers ---

// CreateSettlement handles POST /api/v1/settlements
// Computes the netted settlement set for the trades, stores it and returns
// the run.
func (s *Service) CreateSettlement(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	run, err := s.Settle(r.Context(), req)
	if err != nil {
		status := errorStatus(err)
		if status == http.StatusInternalServerError {
			slog.Error("settlement run failed", "facility", req.Facility.ID, "err", err)
			writeError(w, "settlement run failed", status)
			return
		}
		writeError(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

// GetSettlement handles GET /api/v1/settlements/{runID}
func (s *Service) GetSettlement(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "settlement run not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load settlement run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListFacilitySettlements handles GET /api/v1/facilities/{facilityID}/settlements
func (s *Service) ListFacilitySettlements(w http.ResponseWriter, r *http.Request) {
	facilityID := chi.URLParam(r, "facilityID")

	runs, err := s.store.ListRunsByFacility(r.Context(), facilityID)
	if err != nil {
		writeError(w, "failed to list settlement runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []model.SettlementRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// TradeCashFlows handles POST /api/v1/trades/cashflows
// Returns one trade's flows before cross-trade netting.
func (s *Service) TradeCashFlows(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req TradeCashFlowsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Facility.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	engine, err := s.engineFor(req.Epsilon)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	req.Trade.Facility = &req.Facility
	flows, err := engine.TradeCashFlows(req.ValuationDate, req.Trade)
	if err != nil {
		writeError(w, err.Error(), errorStatus(err))
		return
	}
	if flows == nil {
		flows = []model.AnnotatedCashFlow{}
	}
	metrics.SettlementRunLatency.WithLabelValues("trade_cash_flows").Observe(time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, TradeCashFlowsResponse{TradeID: req.Trade.ID, CashFlows: flows})
}

// PresentValue handles POST /api/v1/trades/present-value
func (s *Service) PresentValue(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req PresentValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ValuationDate.IsZero() {
		writeError(w, "valuation_date is required", http.StatusBadRequest)
		return
	}
	if !req.CleanPrice.IsPositive() {
		writeError(w, "clean_price must be positive", http.StatusBadRequest)
		return
	}
	if err := req.Facility.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	req.Trade.Facility = &req.Facility
	res, err := s.engine.PresentValue(req.ValuationDate, req.Trade, req.CleanPrice)
	if err != nil {
		writeError(w, err.Error(), errorStatus(err))
		return
	}
	metrics.SettlementRunLatency.WithLabelValues("present_value").Observe(time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, PresentValueResponse{
		TradeID:      req.Trade.ID,
		PresentValue: res.Amount,
		Explain:      res.Explain,
	})
}

// engineFor applies a per-request epsilon override.
func (s *Service) engineFor(eps *decimal.Decimal) (*pricing.Engine, error) {
	if eps == nil {
		return s.engine, nil
	}
	if eps.IsNegative() {
		return nil, fmt.Errorf("%w: epsilon must not be negative", ErrInvalidRequest)
	}
	return s.engine.WithEpsilon(*eps), nil
}

// errorStatus maps input errors to 400 and everything else to 500.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, model.ErrInvalidPeriod),
		errors.Is(err, model.ErrInvalidEvent),
		errors.Is(err, model.ErrInvalidTrade),
		errors.Is(err, model.ErrMissingFacility),
		errors.Is(err, daycount.ErrUnknownConvention):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
