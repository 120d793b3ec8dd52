package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	"producer-risk/internal/storage"
)

// BuildRevenue computes the monthly revenue series over every month with a
// disbursement, a repayment or a snapshot. proxyRate is used as the collection
// rate for months that collected money while nothing was contractually due;
// such rows are flagged with ProxyCollectionRate.
func BuildRevenue(f *Facts, balances []storage.MonthEndBalance, proxyRate float64) []RevenuePeriodRow {
	type monthAcc struct {
		disbursement decimal.Decimal
		principal    decimal.Decimal
		interest     decimal.Decimal
		fee          decimal.Decimal
		expected     decimal.Decimal
	}
	months := map[string]*monthAcc{}
	get := func(key string) *monthAcc {
		m, ok := months[key]
		if !ok {
			m = &monthAcc{}
			months[key] = m
		}
		return m
	}

	for _, loan := range f.Loans {
		m := get(MonthKey(loan.DisbursementTime))
		m.disbursement = m.disbursement.Add(loan.DisbursementAmount)
	}
	for _, rp := range f.Repayments {
		m := get(MonthKey(rp.RepaymentDate))
		m.principal = m.principal.Add(rp.Principal)
		m.interest = m.interest.Add(rp.Interest)
		m.fee = m.fee.Add(rp.Penalty).Add(rp.Fee)
	}

	endBalance := map[string]decimal.Decimal{}
	for _, b := range balances {
		key := MonthKey(b.Month)
		get(key)
		endBalance[key] = b.Balance
	}

	keys := make([]string, 0, len(months))
	for k := range months {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return []RevenuePeriodRow{}
	}

	// expected dues only matter for listed months
	for _, loan := range f.Loans {
		for _, item := range loan.Schedule {
			if m, ok := months[MonthKey(item.DueDate)]; ok {
				m.expected = m.expected.Add(item.PrincipalDue).Add(item.InterestDue)
			}
		}
	}

	rows := make([]RevenuePeriodRow, 0, len(keys))
	cumulative := decimal.Zero
	lastBalance := decimal.Zero
	begin := decimal.Zero

	for i, key := range keys {
		m := months[key]
		cumulative = cumulative.Add(m.disbursement)

		// latest snapshot on or before month end; carried forward across months without one
		if bal, ok := endBalance[key]; ok {
			lastBalance = bal
		}
		end := lastBalance
		if i > 0 {
			begin = rows[i-1].OutstandingBalance
		}

		collection := m.principal.Add(m.interest).Add(m.fee)
		row := RevenuePeriodRow{
			Month:                  key,
			Disbursement:           money(m.disbursement),
			CumulativeDisbursement: money(cumulative),
			OutstandingBalance:     money(end),
			BeginBalance:           money(begin),
			PrincipalCollected:     money(m.principal),
			InterestCollected:      money(m.interest),
			FeeCollected:           money(m.fee),
			Collection:             money(collection),
			ExpectedDue:            money(m.expected),
			NetRevenue:             money(m.interest.Add(m.fee)),
		}

		avg := begin.Add(end).Div(decimal.NewFromInt(2))
		if !avg.IsPositive() {
			avg = end
		}
		if avg.IsPositive() {
			row.AnnualizedYield = round4(m.interest.Div(avg).InexactFloat64() * 12)
		}

		row.CollectionRate, row.ProxyCollectionRate = collectionRate(collection, m.expected, proxyRate)
		rows = append(rows, row)
	}
	return rows
}

// collectionRate is collection over expected due clamped to [0,1]. With nothing
// due, any collection yields the proxy rate and reports proxy=true.
func collectionRate(collection, expected decimal.Decimal, proxyRate float64) (rate float64, proxy bool) {
	switch {
	case expected.IsPositive():
		rate = collection.Div(expected).InexactFloat64()
	case collection.IsPositive():
		rate, proxy = proxyRate, true
	default:
		return 0, false
	}
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return round4(rate), proxy
}

// LatestCollectionRate returns the collection rate of the newest revenue month, or fallback.
func LatestCollectionRate(rows []RevenuePeriodRow, fallback float64) float64 {
	if len(rows) == 0 {
		return fallback
	}
	last := rows[len(rows)-1]
	if last.CollectionRate <= 0 {
		return fallback
	}
	return last.CollectionRate
}
