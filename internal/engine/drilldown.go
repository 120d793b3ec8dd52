package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"producer-risk/internal/storage"
)

// MaxPerPage caps a drill-down page.
const MaxPerPage = 500

// LoanFilter selects loans for the drill-down. Exactly one field is expected
// to be set; an empty filter matches every open loan.
type LoanFilter struct {
	Bucket            string
	DisbursementMonth string
	MaturityMonth     string
}

// Validate rejects unknown bucket labels.
func (lf LoanFilter) Validate() error {
	if lf.Bucket == "" {
		return nil
	}
	bucket := strings.ToUpper(strings.TrimSpace(lf.Bucket))
	for _, b := range Buckets {
		if b == bucket {
			return nil
		}
	}
	return fmt.Errorf("unknown bucket %q", lf.Bucket)
}

var repaymentMethodLabels = map[string]string{
	"1": "annuity",
	"2": "flat",
}

// ProductType labels a loan by repayment method and term, e.g. annuity_6m.
func ProductType(l storage.LoanFact) string {
	method := strings.TrimSpace(l.RepaymentMethod)
	label := "-"
	if method != "" {
		label = method
		if mapped, ok := repaymentMethodLabels[method]; ok {
			label = mapped
		}
	}
	if label == "-" && l.TermMonths == 0 {
		return "-"
	}
	return fmt.Sprintf("%s_%dm", label, l.TermMonths)
}

// ListLoans pages through the open loans of a snapshot that match filter,
// ordered by loan id.
func ListLoans(f *Facts, asOf time.Time, snapshot []storage.SnapshotRow, filter LoanFilter, page, perPage int) LoanPage {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	bucket := strings.ToUpper(strings.TrimSpace(filter.Bucket))

	matched := make([]LoanDetail, 0)
	for _, r := range openRows(snapshot) {
		loan, ok := f.Loan(r.LoanID)
		if !ok {
			continue
		}
		if bucket != "" && BucketFor(r.DPD) != bucket {
			continue
		}
		if filter.DisbursementMonth != "" && MonthKey(loan.DisbursementTime) != filter.DisbursementMonth {
			continue
		}
		maturity, hasMaturity := loan.Maturity()
		if filter.MaturityMonth != "" && (!hasMaturity || MonthKey(maturity) != filter.MaturityMonth) {
			continue
		}
		detail := LoanDetail{
			LoanID:               loan.LoanID,
			CustomerID:           loan.CustomerID,
			Status:               string(r.Status),
			DPD:                  r.DPD,
			Bucket:               BucketFor(r.DPD),
			OutstandingPrincipal: money(r.OutstandingPrincipal),
			DisbursementAmount:   money(loan.DisbursementAmount),
			DisbursementDate:     loan.DisbursementTime.Format(time.DateOnly),
			ProductType:          ProductType(*loan),
			CustomerRate:         loan.CustomerRate,
			CreditRating:         f.Rating(loan.CustomerID),
		}
		if hasMaturity {
			detail.MaturityDate = maturity.Format(time.DateOnly)
		}
		matched = append(matched, detail)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].LoanID < matched[j].LoanID })

	result := LoanPage{
		StatDate: dayOf(asOf).Format(time.DateOnly),
		Total:    len(matched),
		Page:     page,
		PerPage:  perPage,
		Loans:    []LoanDetail{},
	}
	if page-1 > len(matched)/perPage {
		return result
	}
	start := (page - 1) * perPage
	if start >= len(matched) {
		return result
	}
	end := min(start+perPage, len(matched))
	result.Loans = matched[start:end]
	return result
}
