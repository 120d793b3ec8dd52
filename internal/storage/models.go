package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanStatus is the lifecycle state recorded in a delinquency snapshot.
type LoanStatus string

const (
	LoanActive  LoanStatus = "active"
	LoanOverdue LoanStatus = "overdue"
	LoanClosed  LoanStatus = "closed"
)

// LoanStatusFromCode maps the snapshot status code (1 active, 2 overdue, 3 closed).
func LoanStatusFromCode(code int) LoanStatus {
	switch code {
	case 1:
		return LoanActive
	case 2:
		return LoanOverdue
	default:
		return LoanClosed
	}
}

// Open reports whether the loan takes part in "active" aggregations.
func (s LoanStatus) Open() bool {
	return s == LoanActive || s == LoanOverdue
}

// ProducerAccount is a loan-originating account read from spv_config.
type ProducerAccount struct {
	ID           string
	Name         string
	Region       string
	ProductType  string
	Currency     string
	ExchangeRate float64
	Status       string
}

// ScheduleItem is one contractual instalment of a loan.
type ScheduleItem struct {
	Period       int
	DueDate      time.Time
	PrincipalDue decimal.Decimal
	InterestDue  decimal.Decimal
}

// LoanFact is an immutable loan row from raw_loan.
type LoanFact struct {
	LoanID             string
	CustomerID         string
	DisbursementAmount decimal.Decimal
	DisbursementTime   time.Time
	TermMonths         int
	CustomerRate       *float64
	MaturityDate       *time.Time
	RepaymentMethod    string
	Schedule           []ScheduleItem
}

// Maturity returns the contractual maturity date, falling back to the last scheduled due date.
func (l LoanFact) Maturity() (time.Time, bool) {
	if l.MaturityDate != nil && !l.MaturityDate.IsZero() {
		return *l.MaturityDate, true
	}
	var last time.Time
	for _, item := range l.Schedule {
		if item.DueDate.After(last) {
			last = item.DueDate
		}
	}
	return last, !last.IsZero()
}

// RepaymentFact is an append-only repayment row from raw_repayment.
type RepaymentFact struct {
	LoanID        string
	RepaymentDate time.Time
	Period        int
	Principal     decimal.Decimal
	Interest      decimal.Decimal
	Penalty       decimal.Decimal
	Fee           decimal.Decimal
	Waiver        decimal.Decimal
	Settled       bool
}

// SnapshotRow is one loan's state in a daily delinquency snapshot.
type SnapshotRow struct {
	LoanID               string
	StatDate             time.Time
	DPD                  int
	Status               LoanStatus
	OutstandingPrincipal decimal.Decimal
}

// MonthEndBalance is the open-loan balance at the latest snapshot of a month.
type MonthEndBalance struct {
	Month    time.Time
	StatDate time.Time
	Balance  decimal.Decimal
}

// DPDKey addresses a loan's DPD on a given snapshot date (YYYY-MM-DD).
type DPDKey struct {
	LoanID string
	Date   string
}

// FundingParams is the latest spv_initial_params row for a producer.
// Principal and deposit amounts are already in the reporting currency.
type FundingParams struct {
	ProducerID               string
	EffectiveDate            *time.Time
	PrincipalAmount          decimal.Decimal
	AgreedRate               float64
	ProductTermMonths        float64
	EarlyRepaymentDiscount   float64
	PredictedDefaultRate     float64
	LeverageCurrent          float64
	MarginDepositCurrent     decimal.Decimal
	MarginDepositRequired    decimal.Decimal
	GuaranteeDepositCurrent  decimal.Decimal
	GuaranteeDepositRequired decimal.Decimal
}

// FundingThresholds come from spv_config.config; nil means "use the configured fallback".
type FundingThresholds struct {
	SeniorJuniorRatio string
	LiquidationLine   *float64
	MarginCallLine    *float64
	Baseline          *float64
	PriorityYieldPct  *float64
}
