package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/daycount"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/pricer"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func s(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func date(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func yf(days int) decimal.Decimal {
	return decimal.NewFromInt(int64(days)).Div(decimal.NewFromInt(360))
}

var (
	valuation  = date(2017, 5, 1)
	commitment = s("1598500000")
	share      = s("3000000").Div(commitment)
	eps        = s("0.001")
)

func near(t *testing.T, label string, got, want decimal.Decimal) {
	t.Helper()
	if got.Sub(want).Abs().GreaterThan(eps) {
		t.Errorf("%s: expected %s, got %s", label, want.StringFixed(6), got.StringFixed(6))
	}
}

func contract(id string, start, end time.Time, rate string, notional decimal.Decimal, events ...model.Event) model.LoanContract {
	return model.LoanContract{
		ID:          id,
		PaymentDate: end,
		Events:      events,
		Schedule: []model.AccrualPeriod{{
			StartDate: start,
			EndDate:   end,
			DayCount:  daycount.Act360,
			AllInRate: s(rate),
			Notional:  notional,
		}},
	}
}

// termFacility is a 1,598,500,000 USD term facility with four sequential
// Act/360 contracts, two repayments and a 200,000,000 commitment increase.
func termFacility() *model.Facility {
	return &model.Facility{
		ID:       "FAC-2017",
		AgentID:  "AGENT",
		Currency: "USD",
		Contracts: []model.LoanContract{
			contract("C1", date(2017, 1, 24), date(2017, 2, 24), "0.0215", s("1598500000")),
			contract("C2", date(2017, 2, 24), date(2017, 3, 31), "0.0220", s("1598500000"),
				model.Event{Kind: model.EventRepayment, EffectiveDate: date(2017, 3, 31), Amount: s("-4050000")}),
			contract("C3", date(2017, 3, 31), date(2017, 6, 30), "0.0235", s("1594450000"),
				model.Event{Kind: model.EventRepayment, EffectiveDate: date(2017, 6, 30), Amount: s("-4558012.17")}),
			contract("C4", date(2017, 6, 30), date(2017, 7, 26), "0.0245", s("1589891987.83")),
		},
		Adjustments: []model.Event{
			{Kind: model.EventCommitmentAdjustment, EffectiveDate: date(2017, 4, 20), Amount: s("200000000")},
		},
		Funded: model.StepSeries{
			{Date: date(2017, 1, 24), Value: s("1598500000")},
			{Date: date(2017, 3, 31), Value: s("1594450000")},
			{Date: date(2017, 6, 30), Value: s("1589891987.83")},
		},
		Unfunded: model.StepSeries{
			{Date: date(2017, 1, 24), Value: decimal.Zero},
			{Date: date(2017, 4, 20), Value: s("200000000")},
		},
	}
}

func buyTrade(f *model.Facility) model.Trade {
	return model.Trade{
		ID:                     "T1",
		Buyer:                  "BUYER",
		Seller:                 "SELLER",
		Direction:              model.Buy,
		Price:                  s("1.01125"),
		Currency:               "USD",
		TradeDate:              date(2017, 3, 21),
		ExpectedSettlementDate: date(2017, 3, 30),
		ActualSettlementDate:   model.Some(date(2017, 4, 10)),
		FormOfPurchase:         model.Assignment,
		AverageLibor:           s("0.009834"),
		Secondary:              true,
		DelayedCompensation:    true,
		PctShare:               model.StepSeries{{Date: date(2017, 1, 24), Value: share}},
		OriginalAmount:         s("3000000"),
		Amount:                 s("3000000"),
		Facility:               f,
	}
}

func newEngine() *Engine {
	return NewEngine(daycount.Standard{}, DefaultParams(), nil)
}

func find(flows []model.AnnotatedCashFlow, typ model.CashFlowType, source string) (model.AnnotatedCashFlow, bool) {
	for _, f := range flows {
		if f.Type == typ && f.SourceID == source {
			return f, true
		}
	}
	return model.AnnotatedCashFlow{}, false
}

func TestTradeCashFlows_TermFacilityScenario(t *testing.T) {
	e := newEngine()
	tr := buyTrade(termFacility())

	flows, err := e.TradeCashFlows(valuation, tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fundedAtSettle := s("1594450000").Mul(share)
	price := s("1.01125")

	cof, ok := find(flows, model.TypeCostOfFunded, "")
	if !ok {
		t.Fatal("missing cost of funded flow")
	}
	near(t, "cost of funded", cof.Amount, fundedAtSettle.Mul(price))
	if cof.Payer != "BUYER" || cof.Receiver != "SELLER" || !cof.PaymentDate.Equal(date(2017, 4, 10)) {
		t.Errorf("cost of funded: unexpected annotation %s→%s on %s", cof.Payer, cof.Receiver, cof.PaymentDate)
	}

	// Delay window 3/30..4/10: one day of C2, ten days of C3.
	wantDC := yf(1).Mul(s("0.0220")).Mul(s("1598500000").Mul(share)).
		Add(yf(10).Mul(s("0.0235")).Mul(fundedAtSettle))
	dc, ok := find(flows, model.TypeDelayedCompensation, "")
	if !ok {
		t.Fatal("missing delayed compensation flow")
	}
	near(t, "delayed compensation", dc.Amount, wantDC)
	if dc.Payer != "SELLER" || dc.Receiver != "BUYER" {
		t.Errorf("delayed compensation should flow seller→buyer, got %s→%s", dc.Payer, dc.Receiver)
	}

	// The 4,050,000 paydown lands inside the delay window, well under the
	// repricing threshold, so carry is a single Act/360 period.
	expectedPx := s("1598500000").Mul(share).Mul(price)
	carry, ok := find(flows, model.TypeCostOfCarry, "")
	if !ok {
		t.Fatal("missing cost of carry flow")
	}
	near(t, "cost of carry", carry.Amount, expectedPx.Mul(s("0.009834")).Mul(yf(11)))
	if m, _ := carry.Explain.Value("method"); m != "single" {
		t.Errorf("expected single-period carry, got %q", m)
	}

	if _, ok := find(flows, model.TypeBenefitOfUnfunded, ""); ok {
		t.Error("no unfunded commitment at settlement, benefit should not be emitted")
	}

	interest, ok := find(flows, model.TypeInterest, "C4")
	if !ok {
		t.Fatal("missing C4 interest flow")
	}
	near(t, "C4 interest", interest.Amount, yf(26).Mul(s("0.0245")).Mul(s("1589891987.83").Mul(share)))
	if !interest.PaymentDate.Equal(date(2017, 7, 26)) {
		t.Errorf("C4 interest should pay on 2017-07-26, got %s", interest.PaymentDate)
	}

	rep, ok := find(flows, model.TypeRepayment, "C3")
	if !ok {
		t.Fatal("missing C3 repayment flow")
	}
	near(t, "C3 repayment", rep.Amount, s("-4558012.17").Mul(share))
	if _, ok := find(flows, model.TypeRepayment, "C2"); ok {
		t.Error("the 2017-03-31 repayment precedes settlement and should not be emitted")
	}

	p := pricer.New(daycount.Standard{}, eps, valuation)
	pf, err := tr.Prorated()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ai, err := p.AccruedInterest(pf.Contracts[2], tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	near(t, "C3 accrued interest", ai.Amount, yf(21).Mul(s("0.0235")).Mul(fundedAtSettle))
}

func TestTradeCashFlows_JSONRoundTrip(t *testing.T) {
	e := newEngine()
	tr := buyTrade(termFacility())

	flows, err := e.TradeCashFlows(valuation, tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := json.Marshal(flows)
	if err != nil {
		t.Fatalf("marshal flows: %v", err)
	}
	var back []model.AnnotatedCashFlow
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal flows: %v", err)
	}
	if len(back) != len(flows) {
		t.Fatalf("expected %d flows back, got %d", len(flows), len(back))
	}
	for i := range flows {
		near(t, string(flows[i].Type), back[i].Amount, flows[i].Amount)
		if back[i].Type != flows[i].Type || back[i].Payer != flows[i].Payer ||
			back[i].Receiver != flows[i].Receiver || back[i].SourceID != flows[i].SourceID ||
			!back[i].PaymentDate.Equal(flows[i].PaymentDate) {
			t.Errorf("flow %d annotation changed in round trip", i)
		}
	}

	tradeData, err := json.Marshal(tr)
	if err != nil {
		t.Fatalf("marshal trade: %v", err)
	}
	var trBack model.Trade
	if err := json.Unmarshal(tradeData, &trBack); err != nil {
		t.Fatalf("unmarshal trade: %v", err)
	}
	if !trBack.Price.Equal(tr.Price) || !trBack.TradeDate.Equal(tr.TradeDate) {
		t.Error("trade terms changed in round trip")
	}
	settle, ok := trBack.SettlementDate()
	if !ok || !settle.Equal(date(2017, 4, 10)) {
		t.Errorf("settlement date lost in round trip")
	}

	// The C1 period record re-derives both its amount and the facility's
	// original commitment.
	c1, ok := find(back, model.TypeDelayedCompensation, "C1")
	if !ok {
		t.Fatal("missing C1 flow after round trip")
	}
	periods := c1.Explain.Periods()
	if len(periods) != 1 {
		t.Fatalf("expected 1 period record, got %d", len(periods))
	}
	r := periods[0]
	rederived := r.ShareNotional.Mul(r.AllInRate).Mul(decimal.NewFromInt(int64(r.Days))).Div(r.DaysInYear)
	near(t, "C1 amount from record", rederived, r.ShareAmount)
	near(t, "original commitment", r.ShareNotional.Div(trBack.PctShare.At(r.StartDate)), commitment)
}

func TestTradeCashFlows_UnsettledTrade(t *testing.T) {
	e := newEngine()
	tr := buyTrade(termFacility())
	tr.ActualSettlementDate = model.None()

	flows, err := e.TradeCashFlows(valuation, tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(flows) != 0 {
		t.Errorf("expected no flows for an unsettled trade, got %d", len(flows))
	}
}

func TestTradeCashFlows_Errors(t *testing.T) {
	e := newEngine()

	tr := buyTrade(nil)
	if _, err := e.TradeCashFlows(valuation, tr); !errors.Is(err, model.ErrMissingFacility) {
		t.Errorf("expected ErrMissingFacility, got %v", err)
	}

	f := termFacility()
	f.Contracts[0].Schedule[0].DayCount = "NL/365"
	if _, err := e.TradeCashFlows(valuation, buyTrade(f)); !errors.Is(err, daycount.ErrUnknownConvention) {
		t.Errorf("expected ErrUnknownConvention, got %v", err)
	}
}

func TestSettle_SumsSameDirectionTrades(t *testing.T) {
	e := newEngine()
	f := termFacility()
	t1 := buyTrade(f)
	t2 := buyTrade(f)
	t2.ID, t2.Seller = "T2", "SELLER2"

	single, err := e.TradeCashFlows(valuation, t1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := e.Settle(context.Background(), valuation, []model.Trade{t1, t2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	one, _ := find(single, model.TypeInterest, "C4")
	both, ok := find(res.CashFlows, model.TypeInterest, "C4")
	if !ok {
		t.Fatal("missing merged C4 interest")
	}
	near(t, "merged C4 interest", both.Amount, one.Amount.Mul(decimal.NewFromInt(2)))
	if both.TradeID != "" {
		t.Errorf("merged flow spans trades and should carry no trade id, got %q", both.TradeID)
	}
	periods := both.Explain.Periods()
	if len(periods) != 1 {
		t.Fatalf("expected the compressed explain to hold 1 record, got %d", len(periods))
	}
	near(t, "merged record", periods[0].ShareAmount, both.Amount)
	if res.Stats.Sums == 0 {
		t.Error("expected sums to be reported")
	}

	// Component flows carry no source and stay per trade.
	count := 0
	for _, cf := range res.CashFlows {
		if cf.Type == model.TypeCostOfFunded {
			count++
		}
	}
	if count != 2 {
		t.Errorf("expected 2 cost of funded flows, got %d", count)
	}
}

func TestSettle_OffsettingTradesCancel(t *testing.T) {
	e := newEngine()
	f := termFacility()
	buy := buyTrade(f)
	sell := buyTrade(f)
	sell.ID = "T2"
	sell.Direction = model.Sell
	sell.FormOfPurchase = model.Participation
	sell.Seller, sell.Buyer = "BUYER", "OTHER"

	res, err := e.Settle(context.Background(), valuation, []model.Trade{buy, sell})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, cf := range res.CashFlows {
		if cf.SourceID != "" {
			t.Errorf("expected %s %s to cancel, got %s %s→%s", cf.Type, cf.SourceID, cf.Amount, cf.Payer, cf.Receiver)
		}
	}
	// C1, C2 and C3 delayed compensation, C4 interest, C3 repayment.
	if res.Stats.Cancellations != 5 {
		t.Errorf("expected 5 cancellations, got %d", res.Stats.Cancellations)
	}
}

func TestSettle_Deterministic(t *testing.T) {
	e := newEngine()
	f := termFacility()
	t1 := buyTrade(f)
	t2 := buyTrade(f)
	t2.ID = "T2"
	t2.ActualSettlementDate = model.Some(date(2017, 4, 12))

	first, err := e.Settle(context.Background(), valuation, []model.Trade{t1, t2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := e.Settle(context.Background(), valuation, []model.Trade{t1, t2})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		a, _ := json.Marshal(first.CashFlows)
		b, _ := json.Marshal(again.CashFlows)
		if string(a) != string(b) {
			t.Fatal("settlement output should not depend on goroutine scheduling")
		}
	}
}

func TestSettle_CancelledContext(t *testing.T) {
	e := newEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Settle(ctx, valuation, []model.Trade{buyTrade(termFacility())})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSettle_EpsilonOverride(t *testing.T) {
	e := newEngine().WithEpsilon(s("1000000"))
	res, err := e.Settle(context.Background(), valuation, []model.Trade{buyTrade(termFacility())})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Events are emitted verbatim; every accrual and component flow except
	// cost of funded falls under the threshold.
	for _, cf := range res.CashFlows {
		if cf.Type != model.TypeCostOfFunded && cf.Type != model.TypeRepayment {
			t.Errorf("%s %s should fall under a 1,000,000 epsilon", cf.Type, cf.Amount)
		}
	}
	if _, ok := find(res.CashFlows, model.TypeCostOfFunded, ""); !ok {
		t.Error("cost of funded exceeds the threshold and should be emitted")
	}
	if !newEngine().Params().Epsilon.Equal(eps) {
		t.Error("WithEpsilon should not modify the original engine")
	}
}

func TestPresentValue(t *testing.T) {
	e := newEngine()
	tr := buyTrade(termFacility())

	pv, err := e.PresentValue(valuation, tr, s("0.995"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Exit sized at the funded share on 5/1 with 200,000,000 × share unfunded,
	// plus 21 days of C3 interest since settlement.
	funded := s("1594450000").Mul(share)
	unfunded := s("200000000").Mul(share)
	want := funded.Mul(s("0.995")).
		Sub(unfunded.Mul(s("0.005"))).
		Add(yf(21).Mul(s("0.0235")).Mul(funded))
	near(t, "present value", pv.Amount, want)

	if _, err := e.PresentValue(valuation, buyTrade(nil), s("0.995")); !errors.Is(err, model.ErrMissingFacility) {
		t.Errorf("expected ErrMissingFacility, got %v", err)
	}
}
