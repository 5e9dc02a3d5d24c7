package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/daycount"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func date(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func TestStepSeries_At(t *testing.T) {
	s := StepSeries{
		{Date: date(2017, 1, 24), Value: d(100)},
		{Date: date(2017, 3, 31), Value: d(90)},
	}
	tests := []struct {
		at   time.Time
		want decimal.Decimal
	}{
		{date(2017, 1, 1), decimal.Zero},
		{date(2017, 1, 24), d(100)},
		{date(2017, 3, 30), d(100)},
		{date(2017, 3, 31), d(90)},
		{date(2018, 1, 1), d(90)},
	}
	for _, tt := range tests {
		if got := s.At(tt.at); !got.Equal(tt.want) {
			t.Errorf("At(%s): expected %s, got %s", tt.at.Format("2006-01-02"), tt.want, got)
		}
	}
}

func TestStepSeries_Mul(t *testing.T) {
	funded := StepSeries{{Date: date(2017, 1, 1), Value: d(1000)}, {Date: date(2017, 3, 1), Value: d(800)}}
	share := StepSeries{{Date: date(2017, 2, 1), Value: d(0.5)}}

	got := funded.Mul(share)
	if len(got) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(got))
	}
	if !got.At(date(2017, 1, 15)).IsZero() {
		t.Errorf("no share before Feb 1, got %s", got.At(date(2017, 1, 15)))
	}
	if !got.At(date(2017, 2, 15)).Equal(d(500)) {
		t.Errorf("expected 500, got %s", got.At(date(2017, 2, 15)))
	}
	if !got.At(date(2017, 3, 15)).Equal(d(400)) {
		t.Errorf("expected 400, got %s", got.At(date(2017, 3, 15)))
	}
}

func TestProrate_ScalesScheduleEventsAndSeries(t *testing.T) {
	f := Facility{
		ID:      "F1",
		AgentID: "AGENT",
		Contracts: []LoanContract{{
			ID: "C1",
			Schedule: []AccrualPeriod{{
				StartDate: date(2017, 1, 24), EndDate: date(2017, 2, 24),
				DayCount: daycount.Act360, AllInRate: d(0.03), Notional: d(1000), PaymentProjection: d(30),
			}},
			Events: []Event{{Kind: EventRepayment, EffectiveDate: date(2017, 2, 1), Amount: d(-100)}},
		}},
		Funded: StepSeries{{Date: date(2017, 1, 24), Value: d(1000)}},
	}
	share := StepSeries{{Date: date(2017, 1, 1), Value: d(0.1)}}

	p := Prorate(f, share)
	if !p.Contracts[0].Schedule[0].Notional.Equal(d(100)) {
		t.Errorf("expected notional 100, got %s", p.Contracts[0].Schedule[0].Notional)
	}
	if !p.Contracts[0].Schedule[0].PaymentProjection.Equal(d(3)) {
		t.Errorf("expected projection 3, got %s", p.Contracts[0].Schedule[0].PaymentProjection)
	}
	if !p.Contracts[0].Events[0].Amount.Equal(d(-10)) {
		t.Errorf("expected event amount -10, got %s", p.Contracts[0].Events[0].Amount)
	}
	if !p.FundedAmount(date(2017, 2, 1)).Equal(d(100)) {
		t.Errorf("expected funded 100, got %s", p.FundedAmount(date(2017, 2, 1)))
	}
	// The source facility is untouched.
	if !f.Contracts[0].Schedule[0].Notional.Equal(d(1000)) {
		t.Errorf("prorating must not mutate the facility, notional now %s", f.Contracts[0].Schedule[0].Notional)
	}
}

func TestCommitmentChangeDates_SkipsRefusableAdjustments(t *testing.T) {
	p := ProratedFacility{
		Funded: StepSeries{
			{Date: date(2017, 1, 24), Value: d(100)},
			{Date: date(2017, 3, 31), Value: d(90)},
		},
		Adjustments: []Event{
			{Kind: EventCommitmentAdjustment, EffectiveDate: date(2017, 4, 5), Amount: d(10)},
			{Kind: EventCommitmentAdjustment, EffectiveDate: date(2017, 4, 7), Amount: d(10), RefusalAllowed: true},
			{Kind: EventCommitmentAdjustment, EffectiveDate: date(2017, 3, 31), Amount: d(10)},
		},
	}
	got := p.CommitmentChangeDates(date(2017, 3, 30), date(2017, 4, 10))
	want := []time.Time{date(2017, 3, 31), date(2017, 4, 5)}
	if len(got) != len(want) {
		t.Fatalf("expected %d dates, got %v", len(want), got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("date %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestTrade_IsDelayed(t *testing.T) {
	base := Trade{
		Secondary:              true,
		DelayedCompensation:    true,
		ExpectedSettlementDate: date(2017, 3, 30),
		ActualSettlementDate:   Some(date(2017, 4, 10)),
	}
	if !base.IsDelayed() {
		t.Error("expected delayed")
	}

	primary := base
	primary.Secondary = false
	noFlag := base
	noFlag.DelayedCompensation = false
	onTime := base
	onTime.ActualSettlementDate = Some(date(2017, 3, 30))
	unsettled := base
	unsettled.ActualSettlementDate = None()

	for name, tr := range map[string]Trade{
		"primary": primary, "no flag": noFlag, "on time": onTime, "unsettled": unsettled,
	} {
		if tr.IsDelayed() {
			t.Errorf("%s trade should not be delayed", name)
		}
	}
}

func TestTrade_Validate(t *testing.T) {
	f := &Facility{ID: "F1"}
	good := Trade{ID: "T1", Buyer: "B", Seller: "S", Direction: Buy, FormOfPurchase: Assignment, Facility: f}
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	noFacility := good
	noFacility.Facility = nil
	if err := noFacility.Validate(); !errors.Is(err, ErrMissingFacility) {
		t.Errorf("expected ErrMissingFacility, got %v", err)
	}

	badSide := good
	badSide.Direction = "Hold"
	if err := badSide.Validate(); !errors.Is(err, ErrInvalidTrade) {
		t.Errorf("expected ErrInvalidTrade, got %v", err)
	}
}

func TestOptionalDate_JSON(t *testing.T) {
	var tr Trade
	if err := json.Unmarshal([]byte(`{"actual_settlement_date":null}`), &tr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tr.ActualSettlementDate.IsSet() {
		t.Error("null should decode to an absent date")
	}

	if err := json.Unmarshal([]byte(`{"actual_settlement_date":"2017-04-10T00:00:00Z"}`), &tr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, ok := tr.ActualSettlementDate.Get()
	if !ok || !got.Equal(date(2017, 4, 10)) {
		t.Errorf("expected 2017-04-10, got %v (set=%v)", got, ok)
	}
}
