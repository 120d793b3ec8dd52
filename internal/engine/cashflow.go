package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"producer-risk/internal/storage"
)

// BuildCashflow projects expected inflows from the contractual schedules of
// the loans open in the latest snapshot. Only instalments due strictly after
// today count; the first monthsAhead months with a scheduled amount are kept,
// empty months are omitted.
func BuildCashflow(f *Facts, asOf, today time.Time, open []storage.SnapshotRow, monthsAhead int, rate float64) CashflowForecast {
	today = dayOf(today)
	forecast := CashflowForecast{
		Today:          today.Format(time.DateOnly),
		CollectionRate: rate,
		MonthsAhead:    monthsAhead,
		Points:         []CashflowPoint{},
		TotalScheduled: decimal.Zero,
		TotalExpected:  decimal.Zero,
	}
	if !asOf.IsZero() {
		forecast.AsOfDate = asOf.Format(time.DateOnly)
	}

	active := make(map[string]struct{}, len(open))
	for _, r := range open {
		active[r.LoanID] = struct{}{}
	}
	forecast.ActiveLoans = len(active)
	if len(active) == 0 || monthsAhead <= 0 {
		return forecast
	}

	type monthAcc struct {
		principal decimal.Decimal
		interest  decimal.Decimal
		loans     map[string]struct{}
	}
	months := map[string]*monthAcc{}
	for id := range active {
		loan, ok := f.Loan(id)
		if !ok {
			continue
		}
		for _, item := range loan.Schedule {
			if !item.DueDate.After(today) {
				continue
			}
			key := MonthKey(item.DueDate)
			m, ok := months[key]
			if !ok {
				m = &monthAcc{loans: map[string]struct{}{}}
				months[key] = m
			}
			m.principal = m.principal.Add(item.PrincipalDue)
			m.interest = m.interest.Add(item.InterestDue)
			m.loans[id] = struct{}{}
		}
	}

	keys := make([]string, 0, len(months))
	for k, m := range months {
		if m.principal.Add(m.interest).IsZero() {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		m := months[key]
		forecast.Points = append(forecast.Points, CashflowPoint{
			Month:          key,
			Principal:      money(m.principal),
			Interest:       money(m.interest),
			ScheduledTotal: money(m.principal.Add(m.interest)),
			LoanCount:      len(m.loans),
		})
	}
	return Reprice(forecast, monthsAhead, rate)
}

// Reprice applies a collection rate and horizon to a forecast built with
// scheduled amounts, so cached forecasts can serve any caller rate.
func Reprice(c CashflowForecast, monthsAhead int, rate float64) CashflowForecast {
	out := c
	out.CollectionRate = rate
	points := c.Points
	if monthsAhead > 0 && len(points) > monthsAhead {
		points = points[:monthsAhead]
	}
	if monthsAhead > 0 {
		out.MonthsAhead = monthsAhead
		if c.MonthsAhead > 0 {
			out.MonthsAhead = min(monthsAhead, c.MonthsAhead)
		}
	}

	r := decimal.NewFromFloat(rate)
	out.Points = make([]CashflowPoint, len(points))
	out.TotalScheduled = decimal.Zero
	out.TotalExpected = decimal.Zero
	for i, p := range points {
		p.ExpectedInflow = money(p.ScheduledTotal.Mul(r))
		out.Points[i] = p
		out.TotalScheduled = out.TotalScheduled.Add(p.ScheduledTotal)
		out.TotalExpected = out.TotalExpected.Add(p.ExpectedInflow)
	}
	return out
}
