// Package pricing is the settlement engine facade. It turns trades into their
// annotated cash flows, one trade at a time or as a netted settlement set
// across trades sharing a facility.
//
// All monetary values use shopspring/decimal — never float64 for money.
package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/settlement-engine/internal/accrual"
	"github.com/atmx/settlement-engine/internal/cashflow"
	"github.com/atmx/settlement-engine/internal/daycount"
	"github.com/atmx/settlement-engine/internal/explain"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/netting"
	"github.com/atmx/settlement-engine/internal/pricer"
)

// Params are the tolerances threaded through every component. A
// CarryRepriceThreshold that is not positive leaves the pricer's default in
// place.
type Params struct {
	Epsilon                  decimal.Decimal
	CarryRepriceThreshold    decimal.Decimal
	MaxCompressionIterations int
}

// DefaultParams returns epsilon 0.001, a 25% carry threshold and the default
// compression bound.
func DefaultParams() Params {
	return Params{
		Epsilon:                  decimal.NewFromFloat(0.001),
		CarryRepriceThreshold:    pricer.DefaultCarryRepriceThreshold(),
		MaxCompressionIterations: explain.DefaultMaxIterations,
	}
}

// Result is a netted settlement set.
type Result struct {
	CashFlows []model.AnnotatedCashFlow
	Stats     netting.Stats
}

// Engine computes trade and settlement cash flows. It holds no mutable state
// and is safe for concurrent use.
type Engine struct {
	dc     daycount.Calculator
	params Params
	logger *slog.Logger
}

// NewEngine creates an engine. A nil logger uses slog.Default().
func NewEngine(dc daycount.Calculator, params Params, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{dc: dc, params: params, logger: logger}
}

// Params returns the engine's tolerances.
func (e *Engine) Params() Params { return e.params }

// WithEpsilon returns a copy of the engine using eps.
func (e *Engine) WithEpsilon(eps decimal.Decimal) *Engine {
	cp := *e
	cp.params.Epsilon = eps
	return &cp
}

func (e *Engine) newPricer(valuation time.Time) *pricer.Pricer {
	p := pricer.New(e.dc, e.params.Epsilon, valuation)
	if e.params.CarryRepriceThreshold.IsPositive() {
		p.CarryRepriceThreshold = e.params.CarryRepriceThreshold
	}
	return p
}

// TradeCashFlows returns one trade's un-netted flows: every contract's and
// fee's accrual and event flows followed by the settlement component flows.
func (e *Engine) TradeCashFlows(valuation time.Time, t model.Trade) ([]model.AnnotatedCashFlow, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	pf, err := t.Prorated()
	if err != nil {
		return nil, err
	}

	asm := cashflow.Assembler{
		Generator:     accrual.NewGenerator(e.dc),
		Epsilon:       e.params.Epsilon,
		ValuationDate: valuation,
	}

	var out []model.AnnotatedCashFlow
	for _, c := range pf.Contracts {
		flows, err := asm.Contract(t, pf, c)
		if err != nil {
			return nil, fmt.Errorf("trade %s: %w", t.ID, err)
		}
		out = append(out, flows...)
	}
	for _, fee := range pf.Fees {
		flows, err := asm.Fee(t, pf, fee)
		if err != nil {
			return nil, fmt.Errorf("trade %s: %w", t.ID, err)
		}
		out = append(out, flows...)
	}

	components, err := e.componentFlows(valuation, t, pf)
	if err != nil {
		return nil, fmt.Errorf("trade %s: %w", t.ID, err)
	}
	return append(out, components...), nil
}

// componentFlows prices the settlement components of a settled trade.
func (e *Engine) componentFlows(valuation time.Time, t model.Trade, pf model.ProratedFacility) ([]model.AnnotatedCashFlow, error) {
	settle, ok := t.SettlementDate()
	if !ok {
		return nil, nil
	}
	p := e.newPricer(valuation)
	currency := t.Currency
	if currency == "" {
		currency = pf.Currency
	}

	type component struct {
		typ       model.CashFlowType
		buyerPays bool
		price     func() (pricer.Result, error)
	}
	components := []component{
		{model.TypeCostOfFunded, true, func() (pricer.Result, error) { return p.CostOfFunded(t, settle) }},
		{model.TypeBenefitOfUnfunded, false, func() (pricer.Result, error) { return p.BenefitOfUnfunded(t, settle) }},
		{model.TypeEconomicBenefit, false, func() (pricer.Result, error) { return p.EconomicBenefit(t, settle) }},
		{model.TypeCostOfCarry, true, func() (pricer.Result, error) { return p.CostOfCarry(t) }},
		{model.TypeDelayedCompensation, false, func() (pricer.Result, error) { return p.DelayedCompensation(t) }},
	}

	var out []model.AnnotatedCashFlow
	for _, c := range components {
		res, err := c.price()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.typ, err)
		}
		if res.Amount.Abs().LessThanOrEqual(e.params.Epsilon) {
			continue
		}
		payer, receiver := t.Seller, t.Buyer
		if c.buyerPays {
			payer, receiver = t.Buyer, t.Seller
		}
		trace := res.Explain
		cf := model.NewCashFlow(settle, res.Amount, currency, model.Annotation{
			Type:     c.typ,
			Payer:    payer,
			Receiver: receiver,
			Explain:  &trace,
		})
		cf.TradeID = t.ID
		out = append(out, cf)
	}
	return out, nil
}

// Settle computes every trade's flows in parallel and nets them in input
// order.
func (e *Engine) Settle(ctx context.Context, valuation time.Time, trades []model.Trade) (Result, error) {
	perTrade := make([][]model.AnnotatedCashFlow, len(trades))

	g, gctx := errgroup.WithContext(ctx)
	for i := range trades {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			flows, err := e.TradeCashFlows(valuation, trades[i])
			if err != nil {
				return err
			}
			perTrade[i] = flows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var all []model.AnnotatedCashFlow
	for _, flows := range perTrade {
		all = append(all, flows...)
	}

	engine := netting.New(e.dc, e.params.Epsilon, e.params.MaxCompressionIterations)
	merged, stats, err := engine.Merge(all)
	if err != nil {
		return Result{}, err
	}

	e.logger.Debug("settlement netted",
		"trades", len(trades),
		"input_flows", stats.Input,
		"output_flows", stats.Output,
		"cancellations", stats.Cancellations,
		"compression_iterations", stats.CompressionIterations,
	)
	return Result{CashFlows: merged, Stats: stats}, nil
}

// PresentValue values an open position at cleanPrice on the valuation date.
func (e *Engine) PresentValue(valuation time.Time, t model.Trade, cleanPrice decimal.Decimal) (pricer.Result, error) {
	if err := t.Validate(); err != nil {
		return pricer.Result{}, err
	}
	return e.newPricer(valuation).PresentValueFromCleanPrice(t, cleanPrice)
}
