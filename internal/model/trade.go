package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the trade's side from the booking party's point of view.
type Direction string

const (
	Buy  Direction = "Buy"
	Sell Direction = "Sell"
)

// FormOfPurchase determines whether the economic interest moves directly.
type FormOfPurchase string

const (
	Assignment    FormOfPurchase = "Assignment"
	Participation FormOfPurchase = "Participation"
)

// AccrualSettlementType records how accrued interest is handled at settlement.
type AccrualSettlementType string

const (
	SettledWithoutAccrued AccrualSettlementType = "SettledWithoutAccrued"
	TradesFlat            AccrualSettlementType = "TradesFlat"
	PaidOnSettlementDate  AccrualSettlementType = "PaidOnSettlementDate"
)

// OptionalDate is either a date or absent. The zero value is absent.
type OptionalDate struct {
	date time.Time
	ok   bool
}

// Some wraps a present date.
func Some(t time.Time) OptionalDate { return OptionalDate{date: t, ok: true} }

// None is the absent date.
func None() OptionalDate { return OptionalDate{} }

// Get returns the date and whether it is present.
func (o OptionalDate) Get() (time.Time, bool) { return o.date, o.ok }

// IsSet reports whether a date is present.
func (o OptionalDate) IsSet() bool { return o.ok }

// MarshalJSON encodes an absent date as null.
func (o OptionalDate) MarshalJSON() ([]byte, error) {
	if !o.ok {
		return []byte("null"), nil
	}
	return json.Marshal(o.date)
}

// UnmarshalJSON accepts null or an RFC 3339 timestamp.
func (o *OptionalDate) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = None()
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	*o = Some(t)
	return nil
}

// Trade is a loan trade's commercial terms. Facility is shared read-only
// across trades on the same facility.
type Trade struct {
	ID                        string                `json:"id"`
	Buyer                     string                `json:"buyer"`
	Seller                    string                `json:"seller"`
	Direction                 Direction             `json:"direction"`
	Price                     decimal.Decimal       `json:"price"`
	Currency                  string                `json:"currency"`
	TradeDate                 time.Time             `json:"trade_date"`
	ExpectedSettlementDate    time.Time             `json:"expected_settlement_date"`
	ActualSettlementDate      OptionalDate          `json:"actual_settlement_date"`
	FormOfPurchase            FormOfPurchase        `json:"form_of_purchase"`
	AccrualSettlementType     AccrualSettlementType `json:"accrual_settlement_type,omitempty"`
	AverageLibor              decimal.Decimal       `json:"average_libor"`
	Secondary                 bool                  `json:"secondary"`
	DelayedCompensation       bool                  `json:"delayed_compensation"`
	CommitmentReductionCredit bool                  `json:"commitment_reduction_credit"`
	PctShare                  StepSeries            `json:"pct_share"`
	OriginalAmount            decimal.Decimal       `json:"original_amount"`
	Amount                    decimal.Decimal       `json:"amount"`
	Facility                  *Facility             `json:"-"`
}

// Validate checks the enumerated fields and the facility reference.
func (t Trade) Validate() error {
	if t.Facility == nil {
		return fmt.Errorf("%w: trade %s", ErrMissingFacility, t.ID)
	}
	if t.Direction != Buy && t.Direction != Sell {
		return fmt.Errorf("%w: direction %q", ErrInvalidTrade, t.Direction)
	}
	if t.FormOfPurchase != Assignment && t.FormOfPurchase != Participation {
		return fmt.Errorf("%w: form of purchase %q", ErrInvalidTrade, t.FormOfPurchase)
	}
	if t.Buyer == "" || t.Seller == "" {
		return fmt.Errorf("%w: buyer and seller are required", ErrInvalidTrade)
	}
	return nil
}

// Prorated reduces the trade's facility to its pct-share series.
func (t Trade) Prorated() (ProratedFacility, error) {
	if t.Facility == nil {
		return ProratedFacility{}, fmt.Errorf("%w: trade %s", ErrMissingFacility, t.ID)
	}
	return Prorate(*t.Facility, t.PctShare), nil
}

// SettlementDate returns the actual settlement date, if settled.
func (t Trade) SettlementDate() (time.Time, bool) {
	return t.ActualSettlementDate.Get()
}

// IsDelayed reports whether a secondary trade with delayed compensation
// settled after its expected date.
func (t Trade) IsDelayed() bool {
	actual, ok := t.ActualSettlementDate.Get()
	if !ok {
		return false
	}
	return t.Secondary && t.DelayedCompensation && actual.After(t.ExpectedSettlementDate)
}
