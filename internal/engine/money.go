package engine

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// MoneyFunc maps an amount, typically local to reporting currency.
type MoneyFunc func(decimal.Decimal) decimal.Decimal

// MapMoney returns a deep copy with every amount passed through f. Ratios and counts are untouched.
func (r RiskMetricsRow) MapMoney(f MoneyFunc) RiskMetricsRow {
	out := r
	out.CumulativeDisbursement = f(r.CumulativeDisbursement)
	out.CurrentBalance = f(r.CurrentBalance)
	out.M0Balance = f(r.M0Balance)
	out.M0AccruedInterest = f(r.M0AccruedInterest)
	out.Cash = f(r.Cash)

	out.DPDDistribution = make([]DPDBucket, len(r.DPDDistribution))
	for i, b := range r.DPDDistribution {
		b.Balance = f(b.Balance)
		out.DPDDistribution[i] = b
	}
	out.CreditRatingDistribution = make([]RatingBucket, len(r.CreditRatingDistribution))
	for i, b := range r.CreditRatingDistribution {
		b.Balance = f(b.Balance)
		out.CreditRatingDistribution[i] = b
	}
	out.Vintage = make([]VintageCohortRow, len(r.Vintage))
	for i, v := range r.Vintage {
		out.Vintage[i] = v.MapMoney(f)
	}
	out.Collections = make([]CollectionRow, len(r.Collections))
	for i, c := range r.Collections {
		out.Collections[i] = c.MapMoney(f)
	}
	return out
}

// MapMoney converts cohort amounts.
func (v VintageCohortRow) MapMoney(f MoneyFunc) VintageCohortRow {
	v.DisbursementAmount = f(v.DisbursementAmount)
	v.CurrentBalance = f(v.CurrentBalance)
	return v
}

// MapMoney converts waterfall amounts.
func (c CollectionRow) MapMoney(f MoneyFunc) CollectionRow {
	c.DueAmount = f(c.DueAmount)
	c.IntoCollection = c.IntoCollection.mapMoney(f)
	c.Recovery = c.Recovery.mapMoney(f)
	return c
}

func (b CollectionBands) mapMoney(f MoneyFunc) CollectionBands {
	return CollectionBands{
		D0: f(b.D0), D1: f(b.D1), D3: f(b.D3), D7: f(b.D7),
		D30: f(b.D30), D60: f(b.D60), D90: f(b.D90),
	}
}

// MapMoney converts revenue amounts.
func (r RevenuePeriodRow) MapMoney(f MoneyFunc) RevenuePeriodRow {
	r.Disbursement = f(r.Disbursement)
	r.CumulativeDisbursement = f(r.CumulativeDisbursement)
	r.OutstandingBalance = f(r.OutstandingBalance)
	r.BeginBalance = f(r.BeginBalance)
	r.PrincipalCollected = f(r.PrincipalCollected)
	r.InterestCollected = f(r.InterestCollected)
	r.FeeCollected = f(r.FeeCollected)
	r.Collection = f(r.Collection)
	r.ExpectedDue = f(r.ExpectedDue)
	r.NetRevenue = f(r.NetRevenue)
	return r
}

// MapRevenue converts a revenue series.
func MapRevenue(rows []RevenuePeriodRow, f MoneyFunc) []RevenuePeriodRow {
	out := make([]RevenuePeriodRow, len(rows))
	for i, r := range rows {
		out[i] = r.MapMoney(f)
	}
	return out
}

// MapMoney converts forecast amounts.
func (c CashflowForecast) MapMoney(f MoneyFunc) CashflowForecast {
	out := c
	out.Points = make([]CashflowPoint, len(c.Points))
	for i, p := range c.Points {
		p.Principal = f(p.Principal)
		p.Interest = f(p.Interest)
		p.ScheduledTotal = f(p.ScheduledTotal)
		p.ExpectedInflow = f(p.ExpectedInflow)
		out.Points[i] = p
	}
	out.TotalScheduled = f(c.TotalScheduled)
	out.TotalExpected = f(c.TotalExpected)
	return out
}

// MapMoney converts drill-down amounts.
func (p LoanPage) MapMoney(f MoneyFunc) LoanPage {
	out := p
	out.Loans = make([]LoanDetail, len(p.Loans))
	for i, l := range p.Loans {
		l.OutstandingPrincipal = f(l.OutstandingPrincipal)
		l.DisbursementAmount = f(l.DisbursementAmount)
		out.Loans[i] = l
	}
	return out
}

// MonthKey formats the calendar month of t as YYYY-MM.
func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}

// ParseMonth parses a YYYY-MM key into the first day of that month.
func ParseMonth(key string) (time.Time, error) {
	return time.Parse("2006-01", key)
}

// MonthsBetween is the whole-month distance from month `from` to `to`, floored at 0.
func MonthsBetween(from, to time.Time) int {
	n := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if n < 0 {
		return 0
	}
	return n
}

func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ratio divides two amounts, returning 0 for a zero denominator.
func ratio(num, den decimal.Decimal) float64 {
	if den.IsZero() {
		return 0
	}
	return round4(num.Div(den).InexactFloat64())
}

func countRatio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return round4(float64(num) / float64(den))
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
