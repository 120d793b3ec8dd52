package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"producer-risk/internal/storage"
)

// bandFor maps a DPD to its waterfall band; ok is false for negative DPD.
func bandFor(dpd int) (string, bool) {
	switch {
	case dpd < 0:
		return "", false
	case dpd == 0:
		return "d0", true
	case dpd <= 2:
		return "d1", true
	case dpd <= 6:
		return "d3", true
	case dpd <= 29:
		return "d7", true
	case dpd <= 59:
		return "d30", true
	case dpd <= 89:
		return "d60", true
	default:
		return "d90", true
	}
}

func (b *CollectionBands) add(band string, amount decimal.Decimal) {
	switch band {
	case "d0":
		b.D0 = b.D0.Add(amount)
	case "d1":
		b.D1 = b.D1.Add(amount)
	case "d3":
		b.D3 = b.D3.Add(amount)
	case "d7":
		b.D7 = b.D7.Add(amount)
	case "d30":
		b.D30 = b.D30.Add(amount)
	case "d60":
		b.D60 = b.D60.Add(amount)
	case "d90":
		b.D90 = b.D90.Add(amount)
	}
}

func (b CollectionBands) rounded() CollectionBands {
	return b.mapMoney(money)
}

// RepaymentMonths lists the distinct months in which repayments happened; the
// DPD history for the waterfall is loaded from those partitions.
func RepaymentMonths(f *Facts) []time.Time {
	seen := map[string]time.Time{}
	for _, rp := range f.Repayments {
		key := MonthKey(rp.RepaymentDate)
		if _, ok := seen[key]; !ok {
			seen[key] = time.Date(rp.RepaymentDate.Year(), rp.RepaymentDate.Month(), 1, 0, 0, 0, 0, time.UTC)
		}
	}
	months := make([]time.Time, 0, len(seen))
	for _, m := range seen {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })
	return months
}

// BuildCollections computes the waterfall per maturity month. Due amounts
// cover every scheduled instalment of loans maturing that month;
// into-collection splits the open snapshot balance by current DPD; recovery
// splits principal plus interest repaid by the loan's DPD on the repayment date.
func BuildCollections(f *Facts, open []storage.SnapshotRow, history map[storage.DPDKey]int) []CollectionRow {
	byMonth := map[string]*CollectionRow{}
	maturityOf := map[string]string{}

	for _, loan := range f.Loans {
		maturity, ok := loan.Maturity()
		if !ok || len(loan.Schedule) == 0 {
			continue
		}
		key := MonthKey(maturity)
		maturityOf[loan.LoanID] = key
		row, ok := byMonth[key]
		if !ok {
			row = &CollectionRow{MaturityMonth: key}
			byMonth[key] = row
		}
		for _, item := range loan.Schedule {
			row.DueAmount = row.DueAmount.Add(item.PrincipalDue).Add(item.InterestDue)
		}
	}

	for _, r := range open {
		key, ok := maturityOf[r.LoanID]
		if !ok {
			continue
		}
		if band, ok := bandFor(r.DPD); ok {
			byMonth[key].IntoCollection.add(band, r.OutstandingPrincipal)
		}
	}

	for _, rp := range f.Repayments {
		amount := rp.Principal.Add(rp.Interest)
		if !amount.IsPositive() {
			continue
		}
		key, ok := maturityOf[rp.LoanID]
		if !ok {
			continue
		}
		dpd, ok := history[storage.DPDKey{LoanID: rp.LoanID, Date: rp.RepaymentDate.Format(time.DateOnly)}]
		if !ok || dpd < 1 {
			continue
		}
		band, _ := bandFor(dpd)
		byMonth[key].Recovery.add(band, amount)
	}

	keys := make([]string, 0, len(byMonth))
	for k := range byMonth {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]CollectionRow, 0, len(keys))
	for _, k := range keys {
		row := *byMonth[k]
		row.DueAmount = money(row.DueAmount)
		row.IntoCollection = row.IntoCollection.rounded()
		row.Recovery = row.Recovery.rounded()
		rows = append(rows, row)
	}
	return rows
}
