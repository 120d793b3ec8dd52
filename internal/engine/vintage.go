package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"producer-risk/internal/storage"
)

// BuildVintage groups the open snapshot rows by their loan's disbursement month.
// Volume and borrower counts come from the producer's full loan history; only
// cohorts present in the snapshot are emitted, ordered by month.
func BuildVintage(f *Facts, asOf time.Time, open []storage.SnapshotRow) []VintageCohortRow {
	type volume struct {
		amount    decimal.Decimal
		count     int
		borrowers map[string]struct{}
	}
	volumes := map[string]*volume{}
	for _, loan := range f.Loans {
		key := MonthKey(loan.DisbursementTime)
		v, ok := volumes[key]
		if !ok {
			v = &volume{borrowers: map[string]struct{}{}}
			volumes[key] = v
		}
		v.amount = v.amount.Add(loan.DisbursementAmount)
		v.count++
		if loan.CustomerID != "" {
			v.borrowers[loan.CustomerID] = struct{}{}
		}
	}

	type balances struct {
		current decimal.Decimal
		overdue [5]decimal.Decimal
	}
	cohorts := map[string]*balances{}
	for _, r := range open {
		loan, ok := f.Loan(r.LoanID)
		if !ok {
			continue
		}
		key := MonthKey(loan.DisbursementTime)
		b, ok := cohorts[key]
		if !ok {
			b = &balances{}
			cohorts[key] = b
		}
		b.current = b.current.Add(r.OutstandingPrincipal)
		for i, threshold := range OverdueThresholds {
			if r.DPD >= threshold {
				b.overdue[i] = b.overdue[i].Add(r.OutstandingPrincipal)
			}
		}
	}

	keys := make([]string, 0, len(cohorts))
	for k := range cohorts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]VintageCohortRow, 0, len(keys))
	for _, key := range keys {
		b := cohorts[key]
		row := VintageCohortRow{
			DisbursementMonth: key,
			CurrentBalance:    money(b.current),
			DPD1Rate:          ratio(b.overdue[0], b.current),
			DPD3Rate:          ratio(b.overdue[1], b.current),
			DPD7Rate:          ratio(b.overdue[2], b.current),
			DPD15Rate:         ratio(b.overdue[3], b.current),
			DPD30Rate:         ratio(b.overdue[4], b.current),
		}
		if v, ok := volumes[key]; ok {
			row.DisbursementAmount = money(v.amount)
			row.DisbursementCount = v.count
			row.BorrowerCount = len(v.borrowers)
		}
		if month, err := ParseMonth(key); err == nil {
			row.MOB = MonthsBetween(month, asOf)
		}
		if row.MOB >= 1 && row.MOB <= MOBSlots {
			rate := row.DPD1Rate
			row.MOBRates[row.MOB-1] = &rate
		}
		rows = append(rows, row)
	}
	return rows
}

// CurvePoint is one observed MOB rate of a cohort.
type CurvePoint struct {
	StatDate string  `json:"stat_date"`
	MOB      int     `json:"mob"`
	Rate     float64 `json:"rate"`
}

// VintageCurve is a cohort's per-MOB delinquency curve merged across snapshot dates.
type VintageCurve struct {
	DisbursementMonth string             `json:"disbursement_month"`
	MOBRates          [MOBSlots]*float64 `json:"mob_rates"`
	Points            []CurvePoint       `json:"points"`
}

// AccumulateCurve merges a cohort's MOB slots across risk rows of different
// dates. For a slot seen on several dates the latest date wins.
func AccumulateCurve(cohort string, rows []RiskMetricsRow) VintageCurve {
	curve := VintageCurve{DisbursementMonth: cohort, Points: []CurvePoint{}}

	sorted := make([]RiskMetricsRow, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StatDate < sorted[j].StatDate })

	for _, r := range sorted {
		for _, v := range r.Vintage {
			if v.DisbursementMonth != cohort {
				continue
			}
			for slot, rate := range v.MOBRates {
				if rate == nil {
					continue
				}
				value := *rate
				curve.MOBRates[slot] = &value
				curve.Points = append(curve.Points, CurvePoint{StatDate: r.StatDate, MOB: slot + 1, Rate: value})
			}
		}
	}
	return curve
}
