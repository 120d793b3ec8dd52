package engine

import (
	"github.com/shopspring/decimal"
)

// Bucket labels in display order.
const (
	BucketM0 = "M0"
	BucketM1 = "M1"
	BucketM2 = "M2"
	BucketM3 = "M3"
	BucketM4 = "M4"
	BucketM5 = "M5"
	BucketM6 = "M6+"
)

// Buckets lists every DPD bucket; aggregations always emit all of them.
var Buckets = []string{BucketM0, BucketM1, BucketM2, BucketM3, BucketM4, BucketM5, BucketM6}

// OverdueThresholds are the DPD cut-offs of the overdue-ratio family.
var OverdueThresholds = []int{1, 3, 7, 15, 30}

// MOBSlots is the width of the per-MOB rate array.
const MOBSlots = 12

// BucketFor places a DPD value in its bucket.
func BucketFor(dpd int) string {
	switch {
	case dpd <= 0:
		return BucketM0
	case dpd <= 30:
		return BucketM1
	case dpd <= 60:
		return BucketM2
	case dpd <= 90:
		return BucketM3
	case dpd <= 120:
		return BucketM4
	case dpd <= 150:
		return BucketM5
	default:
		return BucketM6
	}
}

// OverdueRatios holds count-based shares of active loans at or beyond each threshold.
type OverdueRatios struct {
	D1  float64 `json:"overdue_1_plus_ratio"`
	D3  float64 `json:"overdue_3_plus_ratio"`
	D7  float64 `json:"overdue_7_plus_ratio"`
	D15 float64 `json:"overdue_15_plus_ratio"`
	D30 float64 `json:"overdue_30_plus_ratio"`
}

// Values returns the ratios ordered by threshold.
func (o OverdueRatios) Values() []float64 {
	return []float64{o.D1, o.D3, o.D7, o.D15, o.D30}
}

// DPDBucket is one row of the DPD distribution.
type DPDBucket struct {
	Bucket        string          `json:"bucket"`
	LoanCount     int             `json:"loan_count"`
	BorrowerCount int             `json:"borrower_count"`
	Balance       decimal.Decimal `json:"balance"`
	BalanceRatio  float64         `json:"balance_ratio"`
}

// RatingBucket is one row of the credit-rating distribution.
type RatingBucket struct {
	Rating    string          `json:"rating"`
	LoanCount int             `json:"loan_count"`
	Balance   decimal.Decimal `json:"balance"`
	Ratio     float64         `json:"ratio"`
}

// CollectionRow is the waterfall for one maturity month.
type CollectionRow struct {
	MaturityMonth  string          `json:"maturity_month"`
	DueAmount      decimal.Decimal `json:"due_amount"`
	IntoCollection CollectionBands `json:"into_collection"`
	Recovery       CollectionBands `json:"recovery"`
}

// CollectionBands splits an amount by DPD band. D0 is unused for recoveries.
type CollectionBands struct {
	D0  decimal.Decimal `json:"d0"`
	D1  decimal.Decimal `json:"d1"`
	D3  decimal.Decimal `json:"d3"`
	D7  decimal.Decimal `json:"d7"`
	D30 decimal.Decimal `json:"d30"`
	D60 decimal.Decimal `json:"d60"`
	D90 decimal.Decimal `json:"d90"`
}

// VintageCohortRow describes one disbursement-month cohort at an as-of date.
type VintageCohortRow struct {
	DisbursementMonth  string             `json:"disbursement_month"`
	MOB                int                `json:"mob"`
	DisbursementAmount decimal.Decimal    `json:"disbursement_amount"`
	DisbursementCount  int                `json:"disbursement_count"`
	BorrowerCount      int                `json:"borrower_count"`
	CurrentBalance     decimal.Decimal    `json:"current_balance"`
	DPD1Rate           float64            `json:"dpd1_rate"`
	DPD3Rate           float64            `json:"dpd3_rate"`
	DPD7Rate           float64            `json:"dpd7_rate"`
	DPD15Rate          float64            `json:"dpd15_rate"`
	DPD30Rate          float64            `json:"dpd30_rate"`
	MOBRates           [MOBSlots]*float64 `json:"mob_rates"`
}

// RiskMetricsRow is the delinquency aggregate for one producer and date.
type RiskMetricsRow struct {
	ProducerID               string             `json:"producer_id"`
	StatDate                 string             `json:"stat_date"`
	CumulativeDisbursement   decimal.Decimal    `json:"cumulative_disbursement"`
	CurrentBalance           decimal.Decimal    `json:"current_balance"`
	M0Balance                decimal.Decimal    `json:"m0_balance"`
	M0AccruedInterest        decimal.Decimal    `json:"m0_accrued_interest"`
	Cash                     decimal.Decimal    `json:"cash"`
	AvgDuration              float64            `json:"avg_duration"`
	M0Ratio                  float64            `json:"m0_ratio"`
	AvgDailyRate             float64            `json:"avg_daily_rate"`
	DisbursementWeightedRate float64            `json:"disbursement_weighted_rate"`
	ActiveLoans              int                `json:"active_loans"`
	ActiveBorrowers          int                `json:"active_borrowers"`
	Overdue                  OverdueRatios      `json:"overdue_ratios"`
	DPDDistribution          []DPDBucket        `json:"dpd_distribution"`
	CreditRatingDistribution []RatingBucket     `json:"credit_rating_distribution"`
	Vintage                  []VintageCohortRow `json:"vintage_data"`
	Collections              []CollectionRow    `json:"collection_data"`
}

// RevenuePeriodRow is one month of the revenue series.
type RevenuePeriodRow struct {
	Month                  string          `json:"month"`
	Disbursement           decimal.Decimal `json:"disbursement"`
	CumulativeDisbursement decimal.Decimal `json:"cumulative_disbursement"`
	OutstandingBalance     decimal.Decimal `json:"outstanding_balance"`
	BeginBalance           decimal.Decimal `json:"begin_balance"`
	PrincipalCollected     decimal.Decimal `json:"principal_collected"`
	InterestCollected      decimal.Decimal `json:"interest_collected"`
	FeeCollected           decimal.Decimal `json:"fee_collected"`
	Collection             decimal.Decimal `json:"collection"`
	ExpectedDue            decimal.Decimal `json:"expected_due"`
	NetRevenue             decimal.Decimal `json:"net_revenue"`
	AnnualizedYield        float64         `json:"annualized_yield"`
	CollectionRate         float64         `json:"collection_rate"`
	ProxyCollectionRate    bool            `json:"proxy_collection_rate,omitempty"`
}

// CashflowPoint is the projected inflow of one future month.
type CashflowPoint struct {
	Month          string          `json:"month"`
	Principal      decimal.Decimal `json:"principal"`
	Interest       decimal.Decimal `json:"interest"`
	ScheduledTotal decimal.Decimal `json:"scheduled_total"`
	ExpectedInflow decimal.Decimal `json:"expected_inflow"`
	LoanCount      int             `json:"loan_count"`
}

// CashflowForecast is the forward projection from contractual schedules.
type CashflowForecast struct {
	AsOfDate       string          `json:"as_of_date"`
	Today          string          `json:"today"`
	CollectionRate float64         `json:"collection_rate"`
	MonthsAhead    int             `json:"months_ahead"`
	ActiveLoans    int             `json:"active_loans"`
	Points         []CashflowPoint `json:"points"`
	TotalScheduled decimal.Decimal `json:"total_scheduled"`
	TotalExpected  decimal.Decimal `json:"total_expected"`
}

// LoanDetail is one row of the loan drill-down.
type LoanDetail struct {
	LoanID               string          `json:"loan_id"`
	CustomerID           string          `json:"customer_id"`
	Status               string          `json:"status"`
	DPD                  int             `json:"dpd"`
	Bucket               string          `json:"bucket"`
	OutstandingPrincipal decimal.Decimal `json:"outstanding_principal"`
	DisbursementAmount   decimal.Decimal `json:"disbursement_amount"`
	DisbursementDate     string          `json:"disbursement_date"`
	MaturityDate         string          `json:"maturity_date,omitempty"`
	ProductType          string          `json:"product_type"`
	CustomerRate         *float64        `json:"customer_rate,omitempty"`
	CreditRating         string          `json:"credit_rating"`
}

// LoanPage is a page of the loan drill-down.
type LoanPage struct {
	StatDate string       `json:"stat_date"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PerPage  int          `json:"per_page"`
	Loans    []LoanDetail `json:"loans"`
}
