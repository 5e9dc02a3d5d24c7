package accrual

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/daycount"
	"github.com/atmx/settlement-engine/internal/explain"
	"github.com/atmx/settlement-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func date(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func TestGenerate_InterestAndPik(t *testing.T) {
	g := NewGenerator(daycount.Standard{})
	// 36 days Act/360 = 0.1 years.
	a, err := g.Generate(model.AccrualPeriod{
		StartDate: date(2017, 1, 1),
		EndDate:   date(2017, 2, 6),
		DayCount:  daycount.Act360,
		AllInRate: d(0.05),
		PikSpread: d(0.02),
		Notional:  d(1000000),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.Interest.Equal(d(5000)) {
		t.Errorf("expected interest 5000, got %s", a.Interest)
	}
	if !a.Pik.Equal(d(2000)) {
		t.Errorf("expected pik 2000, got %s", a.Pik)
	}
	if a.Record.Days != 36 {
		t.Errorf("expected 36 days, got %d", a.Record.Days)
	}
	if !a.Record.DaysInYear.Equal(d(360)) {
		t.Errorf("expected daysInYear 360, got %s", a.Record.DaysInYear)
	}
	if a.Record.Formula != explain.InterestFormula {
		t.Errorf("unexpected formula %q", a.Record.Formula)
	}
	if !a.Record.ShareAmount.Equal(a.Interest) {
		t.Errorf("record amount should equal interest")
	}
}

func TestGenerate_ZeroLengthPeriod(t *testing.T) {
	g := NewGenerator(daycount.Standard{})
	a, err := g.Generate(model.AccrualPeriod{
		StartDate: date(2017, 4, 10),
		EndDate:   date(2017, 4, 10),
		DayCount:  daycount.Act360,
		AllInRate: d(0.05),
		Notional:  d(1000000),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.Interest.IsZero() || !a.Record.DaysInYear.IsZero() || a.Record.Days != 0 {
		t.Errorf("zero-length period should accrue nothing, got %+v", a)
	}
}

func TestGenerate_UnknownConventionPropagates(t *testing.T) {
	g := NewGenerator(daycount.Standard{})
	_, err := g.Generate(model.AccrualPeriod{
		StartDate: date(2017, 1, 1),
		EndDate:   date(2017, 2, 1),
		DayCount:  "NL/365",
	})
	if !errors.Is(err, daycount.ErrUnknownConvention) {
		t.Errorf("expected ErrUnknownConvention, got %v", err)
	}
}
