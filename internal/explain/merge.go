package explain

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/daycount"
	"github.com/atmx/settlement-engine/internal/interval"
)

// DefaultMaxIterations bounds the compression loop when Merger.MaxIterations is zero.
const DefaultMaxIterations = 10000

// ErrCompressionDiverged is returned when the compression loop does not reach
// a fixpoint within its iteration bound.
var ErrCompressionDiverged = errors.New("explain: compression did not converge")

// Merger combines period records of two traces and compresses overlapping
// records until they partition time.
type Merger struct {
	DayCount      daycount.Calculator
	Epsilon       decimal.Decimal
	MaxIterations int
}

// Merge re-attributes the period records of first and second onto the
// partition of their windows. Contributions from first are subtracted when
// add is false; contributions from second are always added. Sub-periods whose
// aggregate is within epsilon are dropped. The non-period entries of first
// are kept.
func (m Merger) Merge(first, second Trace, add bool) (Trace, error) {
	records, err := m.mergeRecords(first.Periods(), second.Periods(), add)
	if err != nil {
		return Trace{}, err
	}
	return first.withPeriodsReplaced(records), nil
}

// Compress repeatedly replaces any two records whose windows overlap by their
// additive merge until no pair overlaps. It returns the compressed trace and
// the number of merges performed.
func (m Merger) Compress(t Trace) (Trace, int, error) {
	records := t.Periods()
	limit := m.MaxIterations
	if limit <= 0 {
		limit = DefaultMaxIterations
	}

	iterations := 0
	for {
		i, j, found := firstOverlap(records)
		if !found {
			break
		}
		if iterations >= limit {
			return Trace{}, iterations, fmt.Errorf("%w after %d merges", ErrCompressionDiverged, iterations)
		}
		merged, err := m.mergeRecords([]PeriodRecord{records[i]}, []PeriodRecord{records[j]}, true)
		if err != nil {
			return Trace{}, iterations, err
		}
		rest := make([]PeriodRecord, 0, len(records)-2+len(merged))
		for k, r := range records {
			if k != i && k != j {
				rest = append(rest, r)
			}
		}
		records = append(rest, merged...)
		iterations++
	}

	sort.SliceStable(records, func(a, b int) bool {
		return records[a].StartDate.Before(records[b].StartDate)
	})
	return t.withPeriodsReplaced(records), iterations, nil
}

// DaysInYear derives the year basis implied by a day count and its year
// fraction. A zero year fraction yields zero.
func DaysInYear(days int, yf decimal.Decimal) decimal.Decimal {
	if yf.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(days)).Div(yf).Round(6)
}

func firstOverlap(records []PeriodRecord) (int, int, bool) {
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			if records[i].Range().Overlaps(records[j].Range()) {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

func (m Merger) mergeRecords(first, second []PeriodRecord, add bool) ([]PeriodRecord, error) {
	ranges := make([]interval.Range, 0, len(first)+len(second))
	for _, p := range first {
		ranges = append(ranges, p.Range())
	}
	for _, p := range second {
		ranges = append(ranges, p.Range())
	}

	var out []PeriodRecord
	for _, sub := range interval.Partition(ranges...) {
		aggregate := decimal.Zero
		var ref *PeriodRecord

		for k := range first {
			c := contribution(first[k], sub)
			if c.IsZero() {
				continue
			}
			if ref == nil {
				ref = &first[k]
			}
			if !add {
				c = c.Neg()
			}
			aggregate = aggregate.Add(c)
		}
		for k := range second {
			c := contribution(second[k], sub)
			if c.IsZero() {
				continue
			}
			if ref == nil {
				ref = &second[k]
			}
			aggregate = aggregate.Add(c)
		}

		if ref == nil || aggregate.Abs().LessThanOrEqual(m.Epsilon) {
			continue
		}
		rec, err := m.record(sub, aggregate, *ref)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// contribution is the share of p's amount falling inside sub, pro rata by
// calendar days, which add up across a partition where 30/360 day counts do
// not. Records without length contribute nothing.
func contribution(p PeriodRecord, sub interval.Range) decimal.Decimal {
	overlap, ok := interval.Intersection(sub, p.Range())
	if !ok {
		return decimal.Zero
	}
	total := p.Range().Days()
	if total == 0 {
		return decimal.Zero
	}
	return p.ShareAmount.Mul(decimal.NewFromInt(int64(overlap.Days()))).Div(decimal.NewFromInt(int64(total)))
}

// record builds a merged record for sub carrying ref's convention and rate
// with its own day count and an implied notional.
func (m Merger) record(sub interval.Range, amount decimal.Decimal, ref PeriodRecord) (PeriodRecord, error) {
	days, err := m.DayCount.Days(ref.DayCount, sub.Start, sub.End)
	if err != nil {
		return PeriodRecord{}, err
	}
	yf, err := m.DayCount.YearFraction(ref.DayCount, sub.Start, sub.End)
	if err != nil {
		return PeriodRecord{}, err
	}

	notional := decimal.Zero
	if denom := ref.AllInRate.Mul(yf); !denom.IsZero() {
		notional = amount.Div(denom)
	}
	formula := ref.Formula
	if formula == "" {
		formula = InterestFormula
	}

	return PeriodRecord{
		ShareAmount:   amount,
		ShareNotional: notional,
		StartDate:     sub.Start,
		EndDate:       sub.End,
		Days:          days,
		DaysInYear:    DaysInYear(days, yf),
		DayCount:      ref.DayCount,
		AllInRate:     ref.AllInRate,
		Formula:       formula,
	}, nil
}
