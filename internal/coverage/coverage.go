package coverage

import (
	"github.com/shopspring/decimal"

	"producer-risk/internal/engine"
	"producer-risk/internal/storage"
)

// Breakdown retains every intermediate quantity of a coverage ratio.
type Breakdown struct {
	StatDate             string          `json:"stat_date"`
	M0Balance            decimal.Decimal `json:"m0_balance"`
	M0AccruedInterest    decimal.Decimal `json:"m0_accrued_interest"`
	EarlyRepayDiscount   float64         `json:"early_repayment_discount"`
	DiscountedInterest   decimal.Decimal `json:"m0_interest_discounted"`
	PredictedDefaultRate float64         `json:"predicted_default_rate"`
	PostDefaultValue     decimal.Decimal `json:"post_default_value"`
	Cash                 decimal.Decimal `json:"cash"`
	ValueLocal           decimal.Decimal `json:"value_local"`
	ExchangeRate         float64         `json:"exchange_rate"`
	Value                decimal.Decimal `json:"value"`
	Principal            decimal.Decimal `json:"principal"`
	Unallocated          decimal.Decimal `json:"unallocated"`
	Loan                 decimal.Decimal `json:"loan"`
	Ratio                float64         `json:"ratio"`
	// Undefined is set when Loan <= 0 and Ratio holds the baseline.
	Undefined bool `json:"undefined,omitempty"`
}

// Input collects what a coverage ratio is computed from. Risk amounts are
// in local currency; funding amounts are already in reporting currency.
type Input struct {
	Risk         *engine.RiskMetricsRow
	Funding      storage.FundingParams
	ExchangeRate float64
	Baseline     float64
}

// Compute returns the coverage ratio Value/Loan with its breakdown.
func Compute(in Input) Breakdown {
	discount := in.Funding.EarlyRepaymentDiscount
	if discount <= 0 {
		discount = 1
	}
	defaultRate := normalizePct(in.Funding.PredictedDefaultRate)
	rate := in.ExchangeRate
	if rate <= 0 {
		rate = 1
	}

	b := Breakdown{
		EarlyRepayDiscount:   discount,
		PredictedDefaultRate: defaultRate,
		ExchangeRate:         rate,
		Principal:            in.Funding.PrincipalAmount,
	}
	if in.Risk != nil {
		b.StatDate = in.Risk.StatDate
		b.M0Balance = in.Risk.M0Balance
		if !b.M0Balance.IsPositive() {
			b.M0Balance = in.Risk.CurrentBalance.Mul(decimal.NewFromFloat(in.Risk.M0Ratio))
		}
		b.M0AccruedInterest = in.Risk.M0AccruedInterest
		b.Cash = in.Risk.Cash
	}

	if in.Funding.ProductTermMonths > 0 {
		b.Unallocated = in.Funding.PrincipalAmount.
			Mul(decimal.NewFromFloat(in.Funding.ProductTermMonths)).
			Div(decimal.NewFromInt(12))
	}
	b.Loan = b.Principal.Add(b.Unallocated)

	b.DiscountedInterest = b.M0AccruedInterest.Mul(decimal.NewFromFloat(discount))
	b.PostDefaultValue = b.M0Balance.Add(b.DiscountedInterest).Mul(decimal.NewFromFloat(1 - defaultRate))
	b.ValueLocal = b.PostDefaultValue.Add(b.Cash)

	if !b.Loan.IsPositive() {
		b.Ratio = in.Baseline
		b.Undefined = true
		return b.rounded()
	}
	b.Value = b.ValueLocal.Div(decimal.NewFromFloat(rate))
	ratio, _ := b.Value.Div(b.Loan).Round(4).Float64()
	if ratio < 0 {
		ratio = 0
	}
	b.Ratio = ratio
	return b.rounded()
}

func (b Breakdown) rounded() Breakdown {
	for _, d := range []*decimal.Decimal{
		&b.M0Balance, &b.M0AccruedInterest, &b.DiscountedInterest, &b.PostDefaultValue,
		&b.Cash, &b.ValueLocal, &b.Value, &b.Principal, &b.Unallocated, &b.Loan,
	} {
		*d = d.Round(2)
	}
	return b
}

// normalizePct accepts 5 or 0.05 for five percent.
func normalizePct(v float64) float64 {
	if v > 1 {
		return v / 100
	}
	if v < 0 {
		return 0
	}
	return v
}
