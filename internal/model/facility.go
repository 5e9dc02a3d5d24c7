package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/daycount"
	"github.com/atmx/settlement-engine/internal/interval"
)

// AccrualPeriod is one non-overlapping slice of interest or fee accrual.
type AccrualPeriod struct {
	StartDate         time.Time           `json:"start_date"`
	EndDate           time.Time           `json:"end_date"`
	DayCount          daycount.Convention `json:"day_count"`
	AllInRate         decimal.Decimal     `json:"all_in_rate"`
	PikSpread         decimal.Decimal     `json:"pik_spread"`
	Notional          decimal.Decimal     `json:"notional"`
	PaymentProjection decimal.Decimal     `json:"payment_projection"`
	PikProjection     decimal.Decimal     `json:"pik_projection"`
}

// Range returns [StartDate, EndDate].
func (p AccrualPeriod) Range() interval.Range {
	return interval.New(p.StartDate, p.EndDate)
}

// Validate checks EndDate > StartDate.
func (p AccrualPeriod) Validate() error {
	if !p.EndDate.After(p.StartDate) {
		return fmt.Errorf("%w: %s..%s", ErrInvalidPeriod,
			p.StartDate.Format("2006-01-02"), p.EndDate.Format("2006-01-02"))
	}
	return nil
}

// EventKind tags a discrete facility event.
type EventKind string

const (
	EventBorrowing            EventKind = "Borrowing"
	EventRepayment            EventKind = "Repayment"
	EventCommitmentAdjustment EventKind = "CommitmentAdjustment"
)

// Event is a draw, repayment or commitment change. RefusalAllowed only
// applies to commitment adjustments: the lender may decline them.
type Event struct {
	Kind           EventKind       `json:"kind"`
	EffectiveDate  time.Time       `json:"effective_date"`
	Amount         decimal.Decimal `json:"amount"`
	RefusalAllowed bool            `json:"refusal_allowed,omitempty"`
}

// Validate rejects kinds outside the closed set.
func (e Event) Validate() error {
	switch e.Kind {
	case EventBorrowing, EventRepayment, EventCommitmentAdjustment:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEvent, e.Kind)
	}
}

// LoanContract is a contract's accrual schedule plus its draws and repayments.
type LoanContract struct {
	ID          string          `json:"id"`
	Schedule    []AccrualPeriod `json:"schedule"`
	PaymentDate time.Time       `json:"payment_date"`
	Events      []Event         `json:"events,omitempty"`
}

// AccruingFee has a contract's shape without draws or repayments.
type AccruingFee struct {
	ID          string          `json:"id"`
	Schedule    []AccrualPeriod `json:"schedule"`
	PaymentDate time.Time       `json:"payment_date"`
}

// EndDate is the end of the fee's last accrual period.
func (f AccruingFee) EndDate() time.Time {
	var end time.Time
	for _, p := range f.Schedule {
		if p.EndDate.After(end) {
			end = p.EndDate
		}
	}
	return end
}

// Step is one point of a stepped time series.
type Step struct {
	Date  time.Time       `json:"date"`
	Value decimal.Decimal `json:"value"`
}

// StepSeries is a right-continuous step function ordered by date.
type StepSeries []Step

// At returns the value of the last step on or before d, or zero before the
// first step.
func (s StepSeries) At(d time.Time) decimal.Decimal {
	v := decimal.Zero
	for _, st := range s {
		if st.Date.After(d) {
			break
		}
		v = st.Value
	}
	return v
}

// ChangeDates returns the step dates strictly between from and to.
func (s StepSeries) ChangeDates(from, to time.Time) []time.Time {
	var out []time.Time
	for _, st := range s {
		if st.Date.After(from) && st.Date.Before(to) {
			out = append(out, st.Date)
		}
	}
	return out
}

// Mul is the pointwise product of two step series.
func (s StepSeries) Mul(other StepSeries) StepSeries {
	dates := make([]time.Time, 0, len(s)+len(other))
	for _, st := range s {
		dates = append(dates, st.Date)
	}
	for _, st := range other {
		dates = append(dates, st.Date)
	}
	dates = sortedUnique(dates)

	out := make(StepSeries, 0, len(dates))
	for _, dt := range dates {
		out = append(out, Step{Date: dt, Value: s.At(dt).Mul(other.At(dt))})
	}
	return out
}

// Facility is the facility-level view supplied by the facility collaborator.
type Facility struct {
	ID          string         `json:"id"`
	AgentID     string         `json:"agent_id"`
	BorrowerID  string         `json:"borrower_id"`
	Currency    string         `json:"currency"`
	Contracts   []LoanContract `json:"contracts"`
	Fees        []AccruingFee  `json:"fees,omitempty"`
	Adjustments []Event        `json:"adjustments,omitempty"`
	Funded      StepSeries     `json:"funded"`
	Unfunded    StepSeries     `json:"unfunded"`
}

// Validate checks every schedule period and event.
func (f Facility) Validate() error {
	for _, c := range f.Contracts {
		for _, p := range c.Schedule {
			if err := p.Validate(); err != nil {
				return fmt.Errorf("contract %s: %w", c.ID, err)
			}
		}
		for _, e := range c.Events {
			if err := e.Validate(); err != nil {
				return fmt.Errorf("contract %s: %w", c.ID, err)
			}
		}
	}
	for _, fee := range f.Fees {
		for _, p := range fee.Schedule {
			if err := p.Validate(); err != nil {
				return fmt.Errorf("fee %s: %w", fee.ID, err)
			}
		}
	}
	for _, e := range f.Adjustments {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ProratedFacility is a facility reduced to one trade's share.
type ProratedFacility struct {
	FacilityID  string
	AgentID     string
	BorrowerID  string
	Currency    string
	Contracts   []LoanContract
	Fees        []AccruingFee
	Adjustments []Event
	Funded      StepSeries
	Unfunded    StepSeries
}

// FundedAmount is the share's drawn amount at d.
func (p ProratedFacility) FundedAmount(d time.Time) decimal.Decimal {
	return p.Funded.At(d)
}

// UnfundedAmount is the share's undrawn commitment at d.
func (p ProratedFacility) UnfundedAmount(d time.Time) decimal.Decimal {
	return p.Unfunded.At(d)
}

// CommitmentChangeDates lists, in order, every date strictly between from and
// to on which the funded or unfunded amount changes or a binding commitment
// adjustment takes effect.
func (p ProratedFacility) CommitmentChangeDates(from, to time.Time) []time.Time {
	dates := append(p.Funded.ChangeDates(from, to), p.Unfunded.ChangeDates(from, to)...)
	for _, e := range p.Adjustments {
		if e.RefusalAllowed {
			continue
		}
		if e.EffectiveDate.After(from) && e.EffectiveDate.Before(to) {
			dates = append(dates, e.EffectiveDate)
		}
	}
	return sortedUnique(dates)
}

// Prorate scales the facility to the share series: period notionals and
// projections by the share at period start, events by the share at their
// effective date, and the commitment series pointwise.
func Prorate(f Facility, share StepSeries) ProratedFacility {
	out := ProratedFacility{
		FacilityID: f.ID,
		AgentID:    f.AgentID,
		BorrowerID: f.BorrowerID,
		Currency:   f.Currency,
		Funded:     f.Funded.Mul(share),
		Unfunded:   f.Unfunded.Mul(share),
	}
	for _, c := range f.Contracts {
		out.Contracts = append(out.Contracts, LoanContract{
			ID:          c.ID,
			Schedule:    prorateSchedule(c.Schedule, share),
			PaymentDate: c.PaymentDate,
			Events:      prorateEvents(c.Events, share),
		})
	}
	for _, fee := range f.Fees {
		out.Fees = append(out.Fees, AccruingFee{
			ID:          fee.ID,
			Schedule:    prorateSchedule(fee.Schedule, share),
			PaymentDate: fee.PaymentDate,
		})
	}
	out.Adjustments = prorateEvents(f.Adjustments, share)
	return out
}

func prorateSchedule(schedule []AccrualPeriod, share StepSeries) []AccrualPeriod {
	out := make([]AccrualPeriod, len(schedule))
	for i, p := range schedule {
		s := share.At(p.StartDate)
		p.Notional = p.Notional.Mul(s)
		p.PaymentProjection = p.PaymentProjection.Mul(s)
		p.PikProjection = p.PikProjection.Mul(s)
		out[i] = p
	}
	return out
}

func prorateEvents(events []Event, share StepSeries) []Event {
	if len(events) == 0 {
		return nil
	}
	out := make([]Event, len(events))
	for i, e := range events {
		e.Amount = e.Amount.Mul(share.At(e.EffectiveDate))
		out[i] = e
	}
	return out
}

func sortedUnique(dates []time.Time) []time.Time {
	if len(dates) == 0 {
		return nil
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	out := []time.Time{dates[0]}
	for _, dt := range dates[1:] {
		if !dt.Equal(out[len(out)-1]) {
			out = append(out, dt)
		}
	}
	return out
}
