// Package cashflow walks a prorated contract's or fee's accrual schedule and
// discrete events and emits typed, counterparty-tagged cash flows for one trade.
package cashflow

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/accrual"
	"github.com/atmx/settlement-engine/internal/explain"
	"github.com/atmx/settlement-engine/internal/model"
)

// Assembler emits contract and fee cash flows. Amounts whose magnitude does
// not exceed Epsilon are not emitted.
type Assembler struct {
	Generator     accrual.Generator
	Epsilon       decimal.Decimal
	ValuationDate time.Time
}

// Direction returns the paying and receiving parties for accrual flows.
//
//	buy,  assignment     agent  → buyer
//	buy,  participation  seller → buyer
//	sell, assignment     seller → buyer
//	sell, participation  seller → agent
func Direction(t model.Trade, agentID string) (payer, receiver string) {
	switch {
	case t.Direction == model.Sell:
		if t.FormOfPurchase == model.Participation {
			return t.Seller, agentID
		}
		return t.Seller, t.Buyer
	case t.FormOfPurchase == model.Participation:
		return t.Seller, t.Buyer
	default:
		return agentID, t.Buyer
	}
}

// Contract returns the interest, delayed-compensation, PIK and event flows of
// one prorated contract. Periods starting before settlement accrue to the
// delayed-compensation flow, paid on the settlement date; the rest accrue to
// a single interest flow on the contract's payment date. Unsettled trades
// produce nothing.
func (a Assembler) Contract(t model.Trade, pf model.ProratedFacility, c model.LoanContract) ([]model.AnnotatedCashFlow, error) {
	settle, ok := t.SettlementDate()
	if !ok {
		return nil, nil
	}
	payer, receiver := Direction(t, pf.AgentID)
	currency := currencyOf(t, pf)

	interest, delayed, pik := decimal.Zero, decimal.Zero, decimal.Zero
	var interestRecords, delayedRecords []explain.PeriodRecord
	for _, p := range c.Schedule {
		acc, err := a.Generator.Generate(p)
		if err != nil {
			return nil, fmt.Errorf("contract %s: %w", c.ID, err)
		}
		if p.StartDate.Before(settle) {
			delayed = delayed.Add(acc.Interest)
			delayedRecords = append(delayedRecords, acc.Record)
		} else {
			interest = interest.Add(acc.Interest)
			interestRecords = append(interestRecords, acc.Record)
		}
		pik = pik.Add(acc.Pik)
	}

	var out []model.AnnotatedCashFlow
	annotate := func(typ model.CashFlowType, trace explain.Trace) model.Annotation {
		return model.Annotation{
			Type:     typ,
			Payer:    payer,
			Receiver: receiver,
			SourceID: c.ID,
			Explain:  &trace,
		}
	}

	if interest.Abs().GreaterThan(a.Epsilon) {
		trace := explain.New("type", string(model.TypeInterest), "contract", c.ID).
			WithPeriods(interestRecords...)
		out = append(out, newFlow(t, c.PaymentDate, interest, currency, annotate(model.TypeInterest, trace)))
	}
	if delayed.Abs().GreaterThan(a.Epsilon) {
		trace := explain.New("type", string(model.TypeDelayedCompensation), "contract", c.ID).
			With("settlement_date", settle.Format("2006-01-02")).
			WithPeriods(delayedRecords...)
		out = append(out, newFlow(t, settle, delayed, currency, annotate(model.TypeDelayedCompensation, trace)))
	}
	if pik.Abs().GreaterThan(a.Epsilon) {
		trace := explain.New("type", string(model.TypePikInterest), "contract", c.ID).
			WithAmount("pik", pik)
		out = append(out, newFlow(t, c.PaymentDate, pik, currency, annotate(model.TypePikInterest, trace)))
	}

	for _, e := range c.Events {
		if !e.EffectiveDate.After(settle) {
			continue
		}
		var ann model.Annotation
		switch e.Kind {
		case model.EventBorrowing:
			// Funds flow toward the lender of record.
			ann = model.Annotation{Type: model.TypeBorrowing, Payer: receiver, Receiver: payer, SourceID: c.ID}
		case model.EventRepayment:
			ann = model.Annotation{Type: model.TypeRepayment, Payer: payer, Receiver: receiver, SourceID: c.ID}
		case model.EventCommitmentAdjustment:
			continue
		default:
			return nil, fmt.Errorf("contract %s: %w: %q", c.ID, model.ErrInvalidEvent, e.Kind)
		}
		trace := explain.New("type", string(ann.Type), "contract", c.ID).
			With("effective_date", e.EffectiveDate.Format("2006-01-02"))
		ann.Explain = &trace
		out = append(out, newFlow(t, e.EffectiveDate, e.Amount, currency, ann))
	}
	return out, nil
}

// Fee sums a prorated fee's payment projections into one flow on the fee's
// payment date. The flow is uncertain while the fee is still accruing at the
// valuation date.
func (a Assembler) Fee(t model.Trade, pf model.ProratedFacility, fee model.AccruingFee) ([]model.AnnotatedCashFlow, error) {
	if _, ok := t.SettlementDate(); !ok {
		return nil, nil
	}
	total := decimal.Zero
	trace := explain.New("type", string(model.TypeFee), "fee", fee.ID)
	for _, p := range fee.Schedule {
		if p.PaymentProjection.Abs().LessThanOrEqual(a.Epsilon) {
			continue
		}
		total = total.Add(p.PaymentProjection)
		trace = trace.WithAmount(p.StartDate.Format("2006-01-02")+".."+p.EndDate.Format("2006-01-02"), p.PaymentProjection)
	}
	if total.Abs().LessThanOrEqual(a.Epsilon) {
		return nil, nil
	}

	payer, receiver := Direction(t, pf.AgentID)
	trace = trace.WithAmount("total", total)
	ann := model.Annotation{
		Type:      model.TypeFee,
		Payer:     payer,
		Receiver:  receiver,
		SourceID:  fee.ID,
		Uncertain: fee.EndDate().After(a.ValuationDate),
		Explain:   &trace,
	}
	return []model.AnnotatedCashFlow{newFlow(t, fee.PaymentDate, total, currencyOf(t, pf), ann)}, nil
}

func newFlow(t model.Trade, date time.Time, amount decimal.Decimal, currency string, ann model.Annotation) model.AnnotatedCashFlow {
	cf := model.NewCashFlow(date, amount, currency, ann)
	cf.TradeID = t.ID
	return cf
}

func currencyOf(t model.Trade, pf model.ProratedFacility) string {
	if t.Currency != "" {
		return t.Currency
	}
	return pf.Currency
}
