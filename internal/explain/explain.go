// Package explain holds the field-level audit trail attached to computed
// cash flows.
//
// A Trace is an ordered list of keyed entries. One distinguished entry,
// PeriodsKey, carries the per-accrual-period records that let a reader
// re-derive an interest amount. Traces are values: every With* call returns a
// new trace and never touches the receiver.
package explain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/daycount"
	"github.com/atmx/settlement-engine/internal/interval"
)

// PeriodsKey is the entry key holding the per-period records.
const PeriodsKey = "periods"

// InterestFormula is the formula string recorded for accrual periods.
const InterestFormula = "notional × rate × days / daysInYear"

// PeriodRecord explains one accrual slice of an amount.
type PeriodRecord struct {
	ShareAmount   decimal.Decimal     `json:"share_amount"`
	ShareNotional decimal.Decimal     `json:"share_notional"`
	StartDate     time.Time           `json:"start_date"`
	EndDate       time.Time           `json:"end_date"`
	Days          int                 `json:"days"`
	DaysInYear    decimal.Decimal     `json:"days_in_year"`
	DayCount      daycount.Convention `json:"day_count"`
	AllInRate     decimal.Decimal     `json:"all_in_rate"`
	Formula       string              `json:"formula"`
}

// Range returns the record's date window.
func (p PeriodRecord) Range() interval.Range {
	return interval.New(p.StartDate, p.EndDate)
}

// Entry is one keyed line of a trace. Only the PeriodsKey entry uses Periods.
type Entry struct {
	Key     string         `json:"key"`
	Value   string         `json:"value,omitempty"`
	Periods []PeriodRecord `json:"periods,omitempty"`
}

// Trace is an immutable, append-only explain log.
type Trace struct {
	entries []Entry
}

// New returns a trace seeded with key/value pairs. A trailing key without a
// value is ignored.
func New(kv ...string) Trace {
	var t Trace
	for i := 0; i+1 < len(kv); i += 2 {
		t = t.With(kv[i], kv[i+1])
	}
	return t
}

// With appends a keyed value.
func (t Trace) With(key, value string) Trace {
	entries := t.clone()
	entries = append(entries, Entry{Key: key, Value: value})
	return Trace{entries: entries}
}

// WithAmount appends a keyed decimal.
func (t Trace) WithAmount(key string, v decimal.Decimal) Trace {
	return t.With(key, v.String())
}

// WithPeriods appends records to the PeriodsKey entry, creating it on first use.
func (t Trace) WithPeriods(records ...PeriodRecord) Trace {
	entries := t.clone()
	for i := range entries {
		if entries[i].Key == PeriodsKey {
			entries[i].Periods = append(entries[i].Periods, records...)
			return Trace{entries: entries}
		}
	}
	entries = append(entries, Entry{Key: PeriodsKey, Periods: append([]PeriodRecord(nil), records...)})
	return Trace{entries: entries}
}

// withPeriodsReplaced keeps every entry and swaps the period records.
func (t Trace) withPeriodsReplaced(records []PeriodRecord) Trace {
	entries := t.clone()
	for i := range entries {
		if entries[i].Key == PeriodsKey {
			entries[i].Periods = records
			return Trace{entries: entries}
		}
	}
	if len(records) == 0 {
		return Trace{entries: entries}
	}
	return Trace{entries: append(entries, Entry{Key: PeriodsKey, Periods: records})}
}

// Value returns the first value stored under key.
func (t Trace) Value(key string) (string, bool) {
	for _, e := range t.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// Periods returns a copy of the per-period records.
func (t Trace) Periods() []PeriodRecord {
	for _, e := range t.entries {
		if e.Key == PeriodsKey {
			return append([]PeriodRecord(nil), e.Periods...)
		}
	}
	return nil
}

// Entries returns a copy of the trace's entries in insertion order.
func (t Trace) Entries() []Entry {
	return t.clone()
}

// Len is the number of entries.
func (t Trace) Len() int { return len(t.entries) }

// MarshalJSON encodes the trace as its entry list.
func (t Trace) MarshalJSON() ([]byte, error) {
	if t.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.entries)
}

// UnmarshalJSON decodes an entry list.
func (t *Trace) UnmarshalJSON(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	t.entries = entries
	return nil
}

func (t Trace) clone() []Entry {
	out := make([]Entry, len(t.entries), len(t.entries)+1)
	for i, e := range t.entries {
		out[i] = e
		if e.Periods != nil {
			out[i].Periods = append([]PeriodRecord(nil), e.Periods...)
		}
	}
	return out
}
