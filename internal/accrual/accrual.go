// Package accrual turns a single accrual period into its interest and PIK
// amounts together with the explain record that derives them.
package accrual

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/daycount"
	"github.com/atmx/settlement-engine/internal/explain"
	"github.com/atmx/settlement-engine/internal/model"
)

// Accrual is the generator output for one period.
type Accrual struct {
	Interest     decimal.Decimal
	Pik          decimal.Decimal
	YearFraction decimal.Decimal
	Record       explain.PeriodRecord
}

// Generator computes period accruals with the supplied day-count service.
type Generator struct {
	DayCount daycount.Calculator
}

// NewGenerator returns a generator bound to dc.
func NewGenerator(dc daycount.Calculator) Generator {
	return Generator{DayCount: dc}
}

// Generate computes
//
//	interest = yearFraction × allInRate × notional
//	pik      = yearFraction × pikSpread × notional
//
// A zero-length period accrues nothing and records zero days-in-year.
// Day-count errors are returned unchanged.
func (g Generator) Generate(p model.AccrualPeriod) (Accrual, error) {
	yf, err := g.DayCount.YearFraction(p.DayCount, p.StartDate, p.EndDate)
	if err != nil {
		return Accrual{}, err
	}
	days, err := g.DayCount.Days(p.DayCount, p.StartDate, p.EndDate)
	if err != nil {
		return Accrual{}, err
	}

	interest := yf.Mul(p.AllInRate).Mul(p.Notional)
	pik := yf.Mul(p.PikSpread).Mul(p.Notional)

	return Accrual{
		Interest:     interest,
		Pik:          pik,
		YearFraction: yf,
		Record: explain.PeriodRecord{
			ShareAmount:   interest,
			ShareNotional: p.Notional,
			StartDate:     p.StartDate,
			EndDate:       p.EndDate,
			Days:          days,
			DaysInYear:    explain.DaysInYear(days, yf),
			DayCount:      p.DayCount,
			AllInRate:     p.AllInRate,
			Formula:       explain.InterestFormula,
		},
	}, nil
}

// YearFraction exposes the day-count year fraction for a window of p's
// convention.
func (g Generator) YearFraction(p model.AccrualPeriod) (decimal.Decimal, error) {
	return g.DayCount.YearFraction(p.DayCount, p.StartDate, p.EndDate)
}
