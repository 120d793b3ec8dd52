package engine

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"producer-risk/internal/storage"
)

// Aggregate builds the delinquency metrics for one snapshot date. An empty
// snapshot returns ErrNoData; a snapshot whose loans are all closed yields a
// zero-population row.
func Aggregate(f *Facts, asOf time.Time, snapshot []storage.SnapshotRow) (RiskMetricsRow, error) {
	if len(snapshot) == 0 {
		return RiskMetricsRow{}, ErrNoData
	}
	asOf = dayOf(asOf)
	open := openRows(snapshot)

	row := RiskMetricsRow{
		ProducerID:  f.ProducerID,
		StatDate:    asOf.Format(time.DateOnly),
		Cash:        decimal.Zero,
		ActiveLoans: len(open),
	}

	type acc struct {
		count     int
		balance   decimal.Decimal
		borrowers map[string]struct{}
	}
	buckets := make(map[string]*acc, len(Buckets))
	for _, b := range Buckets {
		buckets[b] = &acc{borrowers: map[string]struct{}{}}
	}
	ratings := map[string]*acc{}
	overdue := make([]int, len(OverdueThresholds))
	borrowers := map[string]struct{}{}

	var (
		total       decimal.Decimal
		termSum     int
		termN       int
		rateSum     float64
		rateN       int
		weightedNum float64
		weightedDen decimal.Decimal
		m0LoanIDs   []string
	)

	for _, r := range open {
		total = total.Add(r.OutstandingPrincipal)
		bucket := BucketFor(r.DPD)
		b := buckets[bucket]
		b.count++
		b.balance = b.balance.Add(r.OutstandingPrincipal)
		if bucket == BucketM0 {
			m0LoanIDs = append(m0LoanIDs, r.LoanID)
		}
		for i, threshold := range OverdueThresholds {
			if r.DPD >= threshold {
				overdue[i]++
			}
		}

		rating := "-"
		if loan, ok := f.Loan(r.LoanID); ok {
			if loan.CustomerID != "" {
				borrowers[loan.CustomerID] = struct{}{}
				b.borrowers[loan.CustomerID] = struct{}{}
			}
			termSum += loan.TermMonths
			termN++
			weightedDen = weightedDen.Add(loan.DisbursementAmount)
			if loan.CustomerRate != nil {
				rateSum += *loan.CustomerRate
				rateN++
				weightedNum += *loan.CustomerRate * loan.DisbursementAmount.InexactFloat64()
			}
			rating = f.Rating(loan.CustomerID)
		}
		ra, ok := ratings[rating]
		if !ok {
			ra = &acc{}
			ratings[rating] = ra
		}
		ra.count++
		ra.balance = ra.balance.Add(r.OutstandingPrincipal)
	}

	row.CurrentBalance = money(total)
	row.M0Balance = money(buckets[BucketM0].balance)
	row.M0Ratio = ratio(buckets[BucketM0].balance, total)
	row.ActiveBorrowers = len(borrowers)
	if termN > 0 {
		row.AvgDuration = math.Round(float64(termSum)/float64(termN)*10) / 10
	}
	if rateN > 0 {
		row.AvgDailyRate = math.Round(rateSum/float64(rateN)*1e6) / 1e6
	}
	if !weightedDen.IsZero() {
		row.DisbursementWeightedRate = math.Round(weightedNum/weightedDen.InexactFloat64()*1e6) / 1e6
	}

	row.Overdue = OverdueRatios{
		D1:  countRatio(overdue[0], len(open)),
		D3:  countRatio(overdue[1], len(open)),
		D7:  countRatio(overdue[2], len(open)),
		D15: countRatio(overdue[3], len(open)),
		D30: countRatio(overdue[4], len(open)),
	}

	row.DPDDistribution = make([]DPDBucket, 0, len(Buckets))
	for _, name := range Buckets {
		b := buckets[name]
		row.DPDDistribution = append(row.DPDDistribution, DPDBucket{
			Bucket:        name,
			LoanCount:     b.count,
			BorrowerCount: len(b.borrowers),
			Balance:       money(b.balance),
			BalanceRatio:  ratio(b.balance, total),
		})
	}

	names := make([]string, 0, len(ratings))
	for name := range ratings {
		names = append(names, name)
	}
	sort.Strings(names)
	row.CreditRatingDistribution = make([]RatingBucket, 0, len(names))
	for _, name := range names {
		ra := ratings[name]
		row.CreditRatingDistribution = append(row.CreditRatingDistribution, RatingBucket{
			Rating:    name,
			LoanCount: ra.count,
			Balance:   money(ra.balance),
			Ratio:     ratio(ra.balance, total),
		})
	}

	row.CumulativeDisbursement = money(cumulativeDisbursement(f.Loans, asOf))
	row.M0AccruedInterest = money(M0AccruedInterest(f, m0LoanIDs, asOf))
	row.Vintage = BuildVintage(f, asOf, open)
	return row, nil
}

// M0AccruedInterest sums, over the given loans, scheduled interest due on or
// before asOf minus interest repaid (up to asOf) against those same periods.
// The total is floored at 0.
func M0AccruedInterest(f *Facts, loanIDs []string, asOf time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, id := range loanIDs {
		loan, ok := f.Loan(id)
		if !ok {
			continue
		}
		periods := map[int]struct{}{}
		due := decimal.Zero
		for _, item := range loan.Schedule {
			if item.DueDate.After(asOf) {
				continue
			}
			periods[item.Period] = struct{}{}
			due = due.Add(item.InterestDue)
		}
		if len(periods) == 0 {
			continue
		}
		paid := decimal.Zero
		for _, rp := range f.RepaymentsOf(id) {
			if rp.RepaymentDate.After(asOf) {
				continue
			}
			if _, ok := periods[rp.Period]; ok {
				paid = paid.Add(rp.Interest)
			}
		}
		total = total.Add(due.Sub(paid))
	}
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

func cumulativeDisbursement(loans []storage.LoanFact, through time.Time) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range loans {
		if !dayOf(l.DisbursementTime).After(through) {
			sum = sum.Add(l.DisbursementAmount)
		}
	}
	return sum
}
