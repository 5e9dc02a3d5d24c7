// Package model defines the immutable domain values read and produced by the
// settlement engine. All monetary values use shopspring/decimal — never
// float64 for money.
package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/explain"
)

var (
	ErrInvalidPeriod   = errors.New("model: accrual period must end after it starts")
	ErrInvalidEvent    = errors.New("model: unknown event kind")
	ErrInvalidTrade    = errors.New("model: invalid trade")
	ErrMissingFacility = errors.New("model: trade has no facility")
)

// CashFlowType is the closed set of annotated cash-flow kinds.
type CashFlowType string

const (
	TypeInterest            CashFlowType = "Interest"
	TypePikInterest         CashFlowType = "PikInterest"
	TypeFee                 CashFlowType = "Fee"
	TypeBorrowing           CashFlowType = "Borrowing"
	TypeRepayment           CashFlowType = "Repayment"
	TypeDelayedCompensation CashFlowType = "DelayedCompensation"
	TypeCostOfFunded        CashFlowType = "CostOfFunded"
	TypeBenefitOfUnfunded   CashFlowType = "BenefitOfUnfunded"
	TypeCostOfCarry         CashFlowType = "CostOfCarry"
	TypeEconomicBenefit     CashFlowType = "EconomicBenefit"
)

// CashFlow is a single dated, signed amount in one currency.
type CashFlow struct {
	PaymentDate time.Time       `json:"payment_date"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Weight      decimal.Decimal `json:"weight"`
}

// Annotation describes who pays whom and why. SourceID is empty when the flow
// is not tied to a contract or fee.
type Annotation struct {
	Type      CashFlowType   `json:"type"`
	Payer     string         `json:"payer"`
	Receiver  string         `json:"receiver"`
	SourceID  string         `json:"source_id,omitempty"`
	Uncertain bool           `json:"uncertain"`
	Explain   *explain.Trace `json:"explain,omitempty"`
}

// AnnotatedCashFlow is the unit exchanged with downstream exporters.
type AnnotatedCashFlow struct {
	CashFlow
	Annotation
	TradeID string `json:"trade_id,omitempty"`
}

// NewCashFlow builds an annotated flow with unit weight.
func NewCashFlow(date time.Time, amount decimal.Decimal, currency string, a Annotation) AnnotatedCashFlow {
	return AnnotatedCashFlow{
		CashFlow: CashFlow{
			PaymentDate: date,
			Amount:      amount,
			Currency:    currency,
			Weight:      decimal.NewFromInt(1),
		},
		Annotation: a,
	}
}

// SettlementRun is the persisted result of one facade invocation.
type SettlementRun struct {
	ID            string              `json:"id" db:"id"`
	FacilityID    string              `json:"facility_id" db:"facility_id"`
	ValuationDate time.Time           `json:"valuation_date" db:"valuation_date"`
	Epsilon       decimal.Decimal     `json:"epsilon" db:"epsilon"`
	TradeIDs      []string            `json:"trade_ids" db:"trade_ids"`
	CashFlows     []AnnotatedCashFlow `json:"cash_flows"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
}
