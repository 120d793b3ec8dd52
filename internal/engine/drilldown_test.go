package engine

import (
	"fmt"
	"math"
	"testing"

	"producer-risk/internal/storage"
)

func TestListLoansFilters(t *testing.T) {
	f, snapshot := portfolio()
	asOf := day("2024-04-15")

	all := ListLoans(f, asOf, snapshot, LoanFilter{}, 1, 50)
	if all.Total != 7 || len(all.Loans) != 7 {
		t.Fatalf("closed loans are excluded, total=%d", all.Total)
	}
	if all.Loans[0].LoanID != "L1" || all.StatDate != "2024-04-15" {
		t.Fatalf("unexpected first row: %+v", all.Loans[0])
	}

	byBucket := ListLoans(f, asOf, snapshot, LoanFilter{Bucket: "m2"}, 1, 50)
	if byBucket.Total != 1 || byBucket.Loans[0].LoanID != "L3" {
		t.Fatalf("bucket filter: %+v", byBucket)
	}

	byMonth := ListLoans(f, asOf, snapshot, LoanFilter{DisbursementMonth: "2024-02"}, 1, 50)
	if byMonth.Total != 2 {
		t.Fatalf("disbursement filter: %+v", byMonth)
	}

	byMaturity := ListLoans(f, asOf, snapshot, LoanFilter{MaturityMonth: "2024-05"}, 1, 50)
	if byMaturity.Total != 1 || byMaturity.Loans[0].MaturityDate != "2024-05-10" {
		t.Fatalf("maturity filter: %+v", byMaturity)
	}
	if byMaturity.Loans[0].CreditRating != "A" {
		t.Fatalf("rating = %s", byMaturity.Loans[0].CreditRating)
	}
}

func TestListLoansPagination(t *testing.T) {
	var loans []storage.LoanFact
	var snapshot []storage.SnapshotRow
	for i := range 12 {
		id := fmt.Sprintf("L%02d", i)
		loans = append(loans, loan(id, "C", "2024-01-01", "100", 6))
		snapshot = append(snapshot, snap(id, 0, storage.LoanActive, "100"))
	}
	f := NewFacts("demo", loans, nil, nil)

	page := ListLoans(f, day("2024-04-15"), snapshot, LoanFilter{}, 3, 5)
	if page.Total != 12 || len(page.Loans) != 2 || page.Loans[0].LoanID != "L10" {
		t.Fatalf("third page: %+v", page)
	}
	beyond := ListLoans(f, day("2024-04-15"), snapshot, LoanFilter{}, 9, 5)
	if beyond.Loans == nil || len(beyond.Loans) != 0 {
		t.Fatalf("page past the end should be empty: %+v", beyond)
	}
	huge := ListLoans(f, day("2024-04-15"), snapshot, LoanFilter{}, math.MaxInt, MaxPerPage)
	if len(huge.Loans) != 0 || huge.Total != 12 || huge.Page != math.MaxInt {
		t.Fatalf("huge page should be empty: %+v", huge)
	}
	capped := ListLoans(f, day("2024-04-15"), snapshot, LoanFilter{}, 1, 10_000)
	if capped.PerPage != MaxPerPage {
		t.Fatalf("per page = %d", capped.PerPage)
	}
}

func TestLoanFilterValidate(t *testing.T) {
	if err := (LoanFilter{Bucket: "M6+"}).Validate(); err != nil {
		t.Fatalf("valid bucket rejected: %v", err)
	}
	if err := (LoanFilter{Bucket: "M9"}).Validate(); err == nil {
		t.Fatal("expected error for unknown bucket")
	}
}

func TestProductType(t *testing.T) {
	l := loan("L1", "C1", "2024-01-01", "100", 6)
	l.RepaymentMethod = "1"
	if got := ProductType(l); got != "annuity_6m" {
		t.Fatalf("product type = %s", got)
	}
	l.RepaymentMethod = "bullet"
	if got := ProductType(l); got != "bullet_6m" {
		t.Fatalf("raw method label = %s", got)
	}
	if got := ProductType(loan("L2", "C1", "2024-01-01", "100", 0)); got != "-" {
		t.Fatalf("unknown product = %s", got)
	}
}
