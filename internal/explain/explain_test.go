package explain

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

func rec(start, end time.Time, days int, amount float64) PeriodRecord {
	return PeriodRecord{
		ShareAmount:   d(amount),
		ShareNotional: d(1000000),
		StartDate:     start,
		EndDate:       end,
		Days:          days,
		DayCount:      daycount.Act360,
		AllInRate:     d(0.035),
		Formula:       InterestFormula,
	}
}

func newMerger() Merger {
	return Merger{DayCount: daycount.Standard{}, Epsilon: d(0.001)}
}

func sumRecords(rs []PeriodRecord) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rs {
		total = total.Add(r.ShareAmount)
	}
	return total
}

func TestTrace_AppendDoesNotMutate(t *testing.T) {
	base := New("type", "Interest")
	next := base.With("contract", "C1").WithPeriods(rec(date(2017, 1, 1), date(2017, 1, 31), 30, 100))

	if base.Len() != 1 {
		t.Errorf("base trace should keep 1 entry, got %d", base.Len())
	}
	if len(base.Periods()) != 0 {
		t.Error("base trace should have no period records")
	}
	if next.Len() != 3 {
		t.Errorf("expected 3 entries, got %d", next.Len())
	}

	more := next.WithPeriods(rec(date(2017, 1, 31), date(2017, 2, 28), 28, 50))
	if len(next.Periods()) != 1 {
		t.Errorf("appending periods must not change the source trace, got %d records", len(next.Periods()))
	}
	if len(more.Periods()) != 2 {
		t.Errorf("expected 2 records, got %d", len(more.Periods()))
	}
	if v, ok := more.Value("contract"); !ok || v != "C1" {
		t.Errorf("expected contract=C1, got %q", v)
	}
}

func TestTrace_JSONRoundTrip(t *testing.T) {
	tr := New("type", "Interest").WithPeriods(rec(date(2017, 1, 1), date(2017, 1, 31), 30, 100))
	data, err := json.Marshal(tr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Trace
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Len() != tr.Len() {
		t.Fatalf("expected %d entries, got %d", tr.Len(), back.Len())
	}
	ps := back.Periods()
	if len(ps) != 1 || !ps[0].ShareAmount.Equal(d(100)) || !ps[0].StartDate.Equal(date(2017, 1, 1)) {
		t.Errorf("period record did not survive the round trip: %+v", ps)
	}
}

func TestMerge_SameWindowAdds(t *testing.T) {
	m := newMerger()
	a := New().WithPeriods(rec(date(2017, 1, 1), date(2017, 1, 31), 30, 100))
	b := New().WithPeriods(rec(date(2017, 1, 1), date(2017, 1, 31), 30, 50))

	out, err := m.Merge(a, b, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ps := out.Periods()
	if len(ps) != 1 {
		t.Fatalf("expected 1 record, got %d", len(ps))
	}
	if !ps[0].ShareAmount.Equal(d(150)) {
		t.Errorf("expected 150, got %s", ps[0].ShareAmount)
	}
	if ps[0].Days != 30 {
		t.Errorf("expected 30 days, got %d", ps[0].Days)
	}
	if !ps[0].DaysInYear.Equal(d(360)) {
		t.Errorf("expected daysInYear 360, got %s", ps[0].DaysInYear)
	}
}

func TestMerge_SubtractCancels(t *testing.T) {
	m := newMerger()
	a := New().WithPeriods(rec(date(2017, 1, 1), date(2017, 1, 31), 30, 100))
	b := New().WithPeriods(rec(date(2017, 1, 1), date(2017, 1, 31), 30, 100))

	out, err := m.Merge(a, b, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(out.Periods()); n != 0 {
		t.Errorf("equal and opposite records should cancel, got %d records", n)
	}
}

func TestMerge_MisalignedWindowsRedistribute(t *testing.T) {
	m := newMerger()
	// 10/day over 59 days and 2/day over 59 days.
	a := New().WithPeriods(rec(date(2017, 1, 1), date(2017, 3, 1), 59, 590))
	b := New().WithPeriods(rec(date(2017, 2, 1), date(2017, 4, 1), 59, 118))

	out, err := m.Merge(a, b, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ps := out.Periods()
	if len(ps) != 3 {
		t.Fatalf("expected 3 records, got %d", len(ps))
	}
	want := []float64{310, 336, 62}
	for i, w := range want {
		if !ps[i].ShareAmount.Equal(d(w)) {
			t.Errorf("record %d: expected %v, got %s", i, w, ps[i].ShareAmount)
		}
	}
	if !sumRecords(ps).Equal(d(708)) {
		t.Errorf("merged total should be preserved, got %s", sumRecords(ps))
	}
}

func TestMerge_ZeroLengthRecordContributesNothing(t *testing.T) {
	m := newMerger()
	a := New().WithPeriods(rec(date(2017, 1, 31), date(2017, 1, 31), 0, 100))
	b := New().WithPeriods(rec(date(2017, 1, 1), date(2017, 1, 31), 30, 40))

	out, err := m.Merge(a, b, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ps := out.Periods()
	if len(ps) != 1 || !ps[0].ShareAmount.Equal(d(40)) {
		t.Errorf("expected a single record of 40, got %+v", ps)
	}
}

func TestMerge_ZeroAmountRecordDoesNotSetConvention(t *testing.T) {
	m := newMerger()
	// 30/360 counts no days from Jan 30 to Jan 31.
	idle := rec(date(2017, 1, 30), date(2017, 1, 31), 0, 0)
	idle.DayCount = daycount.Thirty360
	idle.AllInRate = d(0.01)
	a := New().WithPeriods(idle)
	b := New().WithPeriods(rec(date(2017, 1, 1), date(2017, 2, 1), 31, 310))

	out, err := m.Merge(a, b, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ps := out.Periods()
	if len(ps) != 3 {
		t.Fatalf("expected 3 records, got %d", len(ps))
	}
	for _, p := range ps {
		if p.DayCount != daycount.Act360 || !p.AllInRate.Equal(d(0.035)) {
			t.Errorf("record %s..%s should carry the contributing record's terms, got %s at %s",
				p.StartDate.Format("2006-01-02"), p.EndDate.Format("2006-01-02"), p.DayCount, p.AllInRate)
		}
	}
	if !sumRecords(ps).Equal(d(310)) {
		t.Errorf("expected total 310, got %s", sumRecords(ps))
	}
}

func TestCompress_RemovesOverlaps(t *testing.T) {
	m := newMerger()
	tr := New("type", "Interest").WithPeriods(
		rec(date(2017, 2, 1), date(2017, 4, 1), 59, 118),
		rec(date(2017, 1, 1), date(2017, 3, 1), 59, 590),
	)

	out, iterations, err := m.Compress(tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if iterations != 1 {
		t.Errorf("expected 1 merge, got %d", iterations)
	}
	ps := out.Periods()
	if len(ps) != 3 {
		t.Fatalf("expected 3 records, got %d", len(ps))
	}
	for i := 1; i < len(ps); i++ {
		if ps[i-1].Range().Overlaps(ps[i].Range()) {
			t.Errorf("records %d and %d still overlap", i-1, i)
		}
		if !ps[i-1].StartDate.Before(ps[i].StartDate) {
			t.Errorf("records should be ordered by start date")
		}
	}
	if !sumRecords(ps).Equal(d(708)) {
		t.Errorf("compression should preserve the total, got %s", sumRecords(ps))
	}
	if v, _ := out.Value("type"); v != "Interest" {
		t.Errorf("non-period entries should be kept, got type=%q", v)
	}
}

func TestCompress_NoOverlapIsFixpoint(t *testing.T) {
	m := newMerger()
	tr := New().WithPeriods(
		rec(date(2017, 1, 1), date(2017, 1, 31), 30, 100),
		rec(date(2017, 1, 31), date(2017, 2, 28), 28, 90),
	)
	out, iterations, err := m.Compress(tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if iterations != 0 {
		t.Errorf("expected no merges, got %d", iterations)
	}
	if len(out.Periods()) != 2 {
		t.Errorf("expected records unchanged, got %d", len(out.Periods()))
	}
}

func TestCompress_BoundExceeded(t *testing.T) {
	m := newMerger()
	m.MaxIterations = 1
	tr := New().WithPeriods(
		rec(date(2017, 1, 1), date(2017, 3, 1), 59, 590),
		rec(date(2017, 2, 1), date(2017, 4, 1), 59, 118),
		rec(date(2017, 2, 15), date(2017, 5, 1), 75, 75),
	)
	_, _, err := m.Compress(tr)
	if !errors.Is(err, ErrCompressionDiverged) {
		t.Errorf("expected ErrCompressionDiverged, got %v", err)
	}
}

func TestCompress_Thirty360PreservesTotal(t *testing.T) {
	m := newMerger()
	a := rec(date(2017, 1, 15), date(2017, 2, 15), 30, 300)
	a.DayCount = daycount.Thirty360
	b := rec(date(2017, 1, 31), date(2017, 2, 15), 15, 150)
	b.DayCount = daycount.Thirty360

	out, _, err := m.Compress(New().WithPeriods(a, b))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ps := out.Periods()
	if len(ps) != 2 {
		t.Fatalf("expected 2 records, got %d", len(ps))
	}
	if diff := sumRecords(ps).Sub(d(450)).Abs(); diff.GreaterThan(d(0.000001)) {
		t.Errorf("compression should preserve the total 450, got %s", sumRecords(ps))
	}
	// 16 of the 31 calendar days of a fall before Jan 31.
	want := d(300).Mul(d(16)).Div(d(31))
	if diff := ps[0].ShareAmount.Sub(want).Abs(); diff.GreaterThan(d(0.000001)) {
		t.Errorf("expected %s before Jan 31, got %s", want, ps[0].ShareAmount)
	}
}
