// Package pricer implements the component pricing functions of a loan trade
// settlement: cost of funded, benefit of unfunded, economic benefit, purchase
// price, cost of carry, delayed compensation, accrued interest and present
// value from a clean price.
//
// Every function returns a signed amount plus an explain trace. Day-count
// failures propagate unchanged. A trade without an actual settlement date
// prices to zero wherever the settlement date is needed.
package pricer

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/accrual"
	"github.com/atmx/settlement-engine/internal/daycount"
	"github.com/atmx/settlement-engine/internal/explain"
	"github.com/atmx/settlement-engine/internal/interval"
	"github.com/atmx/settlement-engine/internal/model"
)

// DefaultCarryRepriceThreshold returns 0.25, the relative purchase-price
// change above which cost of carry is computed piecewise across commitment
// changes.
func DefaultCarryRepriceThreshold() decimal.Decimal {
	return decimal.New(25, -2)
}

var one = decimal.NewFromInt(1)

// Result is a priced amount with its derivation.
type Result struct {
	Amount  decimal.Decimal
	Explain explain.Trace
}

func zero(typ string, reason string) Result {
	return Result{Amount: decimal.Zero, Explain: explain.New("type", typ, "reason", reason)}
}

// Pricer holds the valuation context shared by every component function.
type Pricer struct {
	DayCount              daycount.Calculator
	Generator             accrual.Generator
	Epsilon               decimal.Decimal
	ValuationDate         time.Time
	CarryRepriceThreshold decimal.Decimal
}

// New returns a pricer with the default carry threshold.
func New(dc daycount.Calculator, epsilon decimal.Decimal, valuation time.Time) *Pricer {
	return &Pricer{
		DayCount:              dc,
		Generator:             accrual.NewGenerator(dc),
		Epsilon:               epsilon,
		ValuationDate:         valuation,
		CarryRepriceThreshold: DefaultCarryRepriceThreshold(),
	}
}

// CostOfFunded is fundedAmount(settle) × price − freePik, where freePik is the
// PIK that accrued over periods spanning both the trade date and settle.
func (p *Pricer) CostOfFunded(t model.Trade, settle time.Time) (Result, error) {
	pf, err := t.Prorated()
	if err != nil {
		return Result{}, err
	}
	funded := pf.FundedAmount(settle)

	freePik := decimal.Zero
	for _, c := range pf.Contracts {
		for _, per := range c.Schedule {
			if per.PikSpread.IsZero() {
				continue
			}
			if per.StartDate.After(t.TradeDate) || per.EndDate.Before(settle) {
				continue
			}
			yf, err := p.Generator.YearFraction(per)
			if err != nil {
				return Result{}, err
			}
			freePik = freePik.Add(yf.Mul(per.PikSpread).Mul(per.Notional).Mul(t.Price))
		}
	}

	amount := funded.Mul(t.Price).Sub(freePik)
	trace := explain.New("type", string(model.TypeCostOfFunded), "formula", "fundedAmount × price − freePik").
		With("settlement_date", settle.Format("2006-01-02")).
		WithAmount("funded_amount", funded).
		WithAmount("price", t.Price).
		WithAmount("free_pik", freePik).
		WithAmount("amount", amount)
	return Result{Amount: amount, Explain: trace}, nil
}

// BenefitOfUnfunded is unfundedAmount(settle) × (1 − price).
func (p *Pricer) BenefitOfUnfunded(t model.Trade, settle time.Time) (Result, error) {
	pf, err := t.Prorated()
	if err != nil {
		return Result{}, err
	}
	unfunded := pf.UnfundedAmount(settle)
	amount := unfunded.Mul(one.Sub(t.Price))
	trace := explain.New("type", string(model.TypeBenefitOfUnfunded), "formula", "unfundedAmount × (1 − price)").
		With("settlement_date", settle.Format("2006-01-02")).
		WithAmount("unfunded_amount", unfunded).
		WithAmount("price", t.Price).
		WithAmount("amount", amount)
	return Result{Amount: amount, Explain: trace}, nil
}

// EconomicBenefit values principal reductions between trade date and settle
// that the price did not anticipate:
//
//	delta = (funded(tradeDate) − funded(settle)) + (originalAmount − amount)
//	benefit = delta × (1 − price) when delta > 0, else 0
func (p *Pricer) EconomicBenefit(t model.Trade, settle time.Time) (Result, error) {
	pf, err := t.Prorated()
	if err != nil {
		return Result{}, err
	}
	fundedAtTrade := pf.FundedAmount(t.TradeDate)
	fundedAtSettle := pf.FundedAmount(settle)
	delta := fundedAtTrade.Sub(fundedAtSettle).Add(t.OriginalAmount.Sub(t.Amount))

	amount := decimal.Zero
	if delta.IsPositive() {
		amount = delta.Mul(one.Sub(t.Price))
	}
	trace := explain.New("type", string(model.TypeEconomicBenefit), "formula", "max(delta, 0) × (1 − price)").
		WithAmount("funded_at_trade_date", fundedAtTrade).
		WithAmount("funded_at_settlement", fundedAtSettle).
		WithAmount("original_amount", t.OriginalAmount).
		WithAmount("amount_outstanding", t.Amount).
		WithAmount("delta", delta).
		WithAmount("amount", amount)
	return Result{Amount: amount, Explain: trace}, nil
}

// PurchasePrice is costOfFunded − benefitOfUnfunded − economicBenefit.
func (p *Pricer) PurchasePrice(t model.Trade, settle time.Time) (Result, error) {
	cof, err := p.CostOfFunded(t, settle)
	if err != nil {
		return Result{}, err
	}
	bou, err := p.BenefitOfUnfunded(t, settle)
	if err != nil {
		return Result{}, err
	}
	eb, err := p.EconomicBenefit(t, settle)
	if err != nil {
		return Result{}, err
	}
	amount := cof.Amount.Sub(bou.Amount).Sub(eb.Amount)
	trace := explain.New("type", "PurchasePrice", "formula", "costOfFunded − benefitOfUnfunded − economicBenefit").
		With("settlement_date", settle.Format("2006-01-02")).
		WithAmount("cost_of_funded", cof.Amount).
		WithAmount("benefit_of_unfunded", bou.Amount).
		WithAmount("economic_benefit", eb.Amount).
		WithAmount("amount", amount)
	return Result{Amount: amount, Explain: trace}, nil
}

// CostOfCarry charges average LIBOR on the purchase price over the delay
// between expected and actual settlement. When the purchase price moves by
// more than CarryRepriceThreshold across the window, the window is split at
// every commitment change and each sub-window is charged at the purchase
// price valued at its start.
func (p *Pricer) CostOfCarry(t model.Trade) (Result, error) {
	typ := string(model.TypeCostOfCarry)
	if !t.IsDelayed() {
		return zero(typ, "settlement not delayed"), nil
	}
	actual, _ := t.SettlementDate()
	expected := t.ExpectedSettlementDate

	expectedPx, err := p.PurchasePrice(t, expected)
	if err != nil {
		return Result{}, err
	}
	actualPx, err := p.PurchasePrice(t, actual)
	if err != nil {
		return Result{}, err
	}
	if expectedPx.Amount.IsZero() {
		return zero(typ, "zero expected purchase price"), nil
	}

	change := expectedPx.Amount.Sub(actualPx.Amount).Abs().Div(expectedPx.Amount.Abs())
	trace := explain.New("type", typ, "formula", "purchasePrice × averageLibor × yearFraction(ACT/360)").
		WithAmount("expected_purchase_price", expectedPx.Amount).
		WithAmount("actual_purchase_price", actualPx.Amount).
		WithAmount("price_change", change).
		WithAmount("average_libor", t.AverageLibor)

	if change.LessThanOrEqual(p.CarryRepriceThreshold) {
		yf, err := p.DayCount.YearFraction(daycount.Act360, expected, actual)
		if err != nil {
			return Result{}, err
		}
		amount := expectedPx.Amount.Mul(t.AverageLibor).Mul(yf)
		trace = trace.With("method", "single").
			WithAmount("year_fraction", yf).
			WithAmount("amount", amount)
		return Result{Amount: amount, Explain: trace}, nil
	}

	pf, err := t.Prorated()
	if err != nil {
		return Result{}, err
	}
	bounds := append([]time.Time{expected}, pf.CommitmentChangeDates(expected, actual)...)
	bounds = append(bounds, actual)

	amount := decimal.Zero
	trace = trace.With("method", "piecewise")
	for i := 0; i+1 < len(bounds); i++ {
		start, end := bounds[i], bounds[i+1]
		px, err := p.PurchasePrice(t, start)
		if err != nil {
			return Result{}, err
		}
		yf, err := p.DayCount.YearFraction(daycount.Act360, start, end)
		if err != nil {
			return Result{}, err
		}
		piece := px.Amount.Mul(t.AverageLibor).Mul(yf)
		amount = amount.Add(piece)
		trace = trace.WithAmount(start.Format("2006-01-02")+".."+end.Format("2006-01-02"), piece)
	}
	trace = trace.WithAmount("amount", amount)
	return Result{Amount: amount, Explain: trace}, nil
}

// DelayedCompensation accrues every period overlapping the window between
// expected and actual settlement when settlement is delayed.
func (p *Pricer) DelayedCompensation(t model.Trade) (Result, error) {
	typ := string(model.TypeDelayedCompensation)
	if !t.IsDelayed() {
		return zero(typ, "settlement not delayed"), nil
	}
	pf, err := t.Prorated()
	if err != nil {
		return Result{}, err
	}
	actual, _ := t.SettlementDate()
	window := interval.New(t.ExpectedSettlementDate, actual)

	amount := decimal.Zero
	trace := explain.New("type", typ, "formula", "Σ yearFraction(overlap) × allInRate × notional")
	for _, c := range pf.Contracts {
		a, records, err := p.accrueOverlap(c.Schedule, window)
		if err != nil {
			return Result{}, err
		}
		amount = amount.Add(a)
		trace = trace.WithPeriods(records...)
	}
	return Result{Amount: amount, Explain: trace.WithAmount("amount", amount)}, nil
}

// AccruedInterest accrues a prorated contract between the trade's settlement
// date and the valuation date.
func (p *Pricer) AccruedInterest(c model.LoanContract, t model.Trade) (Result, error) {
	typ := "AccruedInterest"
	settle, ok := t.SettlementDate()
	if !ok {
		return zero(typ, "trade unsettled"), nil
	}
	window := interval.New(settle, p.ValuationDate)
	if window.Empty() {
		return zero(typ, "valuation date not after settlement"), nil
	}
	amount, records, err := p.accrueOverlap(c.Schedule, window)
	if err != nil {
		return Result{}, err
	}
	trace := explain.New("type", typ, "contract", c.ID).
		WithPeriods(records...).
		WithAmount("amount", amount)
	return Result{Amount: amount, Explain: trace}, nil
}

// PresentValueFromCleanPrice values an open position as the purchase price of
// an offsetting trade at cleanPrice, dated and settled on the valuation date
// and sized at the current funded share, plus the position's accrued interest.
func (p *Pricer) PresentValueFromCleanPrice(t model.Trade, cleanPrice decimal.Decimal) (Result, error) {
	pf, err := t.Prorated()
	if err != nil {
		return Result{}, err
	}
	funded := pf.FundedAmount(p.ValuationDate)

	exit := t
	exit.ID = t.ID + "-exit"
	exit.Buyer, exit.Seller = t.Seller, t.Buyer
	exit.Direction = model.Buy
	if t.Direction == model.Buy {
		exit.Direction = model.Sell
	}
	exit.Price = cleanPrice
	exit.TradeDate = p.ValuationDate
	exit.ExpectedSettlementDate = p.ValuationDate
	exit.ActualSettlementDate = model.Some(p.ValuationDate)
	exit.OriginalAmount = funded
	exit.Amount = funded
	exit.DelayedCompensation = false

	px, err := p.PurchasePrice(exit, p.ValuationDate)
	if err != nil {
		return Result{}, err
	}

	accrued := decimal.Zero
	for _, c := range pf.Contracts {
		ai, err := p.AccruedInterest(c, t)
		if err != nil {
			return Result{}, err
		}
		accrued = accrued.Add(ai.Amount)
	}

	amount := px.Amount.Add(accrued)
	trace := explain.New("type", "PresentValue", "formula", "purchasePrice(exit trade) + accruedInterest").
		With("valuation_date", p.ValuationDate.Format("2006-01-02")).
		WithAmount("clean_price", cleanPrice).
		WithAmount("funded_amount", funded).
		WithAmount("exit_purchase_price", px.Amount).
		WithAmount("accrued_interest", accrued).
		WithAmount("amount", amount)
	return Result{Amount: amount, Explain: trace}, nil
}

// accrueOverlap accrues the part of each period inside window.
func (p *Pricer) accrueOverlap(schedule []model.AccrualPeriod, window interval.Range) (decimal.Decimal, []explain.PeriodRecord, error) {
	amount := decimal.Zero
	var records []explain.PeriodRecord
	for _, per := range schedule {
		ov, ok := interval.Intersection(per.Range(), window)
		if !ok {
			continue
		}
		slice := per
		slice.StartDate, slice.EndDate = ov.Start, ov.End
		acc, err := p.Generator.Generate(slice)
		if err != nil {
			return decimal.Zero, nil, err
		}
		amount = amount.Add(acc.Interest)
		records = append(records, acc.Record)
	}
	return amount, records, nil
}
