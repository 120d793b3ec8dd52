package engine

import (
	"errors"
	"slices"

	"producer-risk/internal/storage"
)

// ErrNoData means no snapshot exists for the requested date.
var ErrNoData = errors.New("engine: no data")

// Facts is the per-producer input to the engines. It is built once per
// computation and is not safe for concurrent mutation.
type Facts struct {
	ProducerID string
	Loans      []storage.LoanFact
	Repayments []storage.RepaymentFact
	Ratings    map[string]string

	// Degraded lists fact components that failed to load; results built from
	// them are partial.
	Degraded []string

	byID             map[string]*storage.LoanFact
	repaymentsByLoan map[string][]storage.RepaymentFact

	// dpdHistory is loaded on first use and shared by every snapshot date.
	dpdHistory map[storage.DPDKey]int
	dpdLoaded  bool
}

// NewFacts indexes loans and repayments for lookup.
func NewFacts(producerID string, loans []storage.LoanFact, repayments []storage.RepaymentFact, ratings map[string]string) *Facts {
	f := &Facts{
		ProducerID:       producerID,
		Loans:            loans,
		Repayments:       repayments,
		Ratings:          ratings,
		byID:             make(map[string]*storage.LoanFact, len(loans)),
		repaymentsByLoan: make(map[string][]storage.RepaymentFact),
	}
	for i := range f.Loans {
		f.byID[f.Loans[i].LoanID] = &f.Loans[i]
	}
	for _, rp := range repayments {
		f.repaymentsByLoan[rp.LoanID] = append(f.repaymentsByLoan[rp.LoanID], rp)
	}
	if f.Ratings == nil {
		f.Ratings = map[string]string{}
	}
	return f
}

// Loan looks up a loan by id.
func (f *Facts) Loan(id string) (*storage.LoanFact, bool) {
	l, ok := f.byID[id]
	return l, ok
}

// RepaymentsOf returns the repayments recorded against a loan.
func (f *Facts) RepaymentsOf(loanID string) []storage.RepaymentFact {
	return f.repaymentsByLoan[loanID]
}

// Rating returns the customer's rating, "-" when unknown.
func (f *Facts) Rating(customerID string) string {
	if r, ok := f.Ratings[customerID]; ok && r != "" {
		return r
	}
	return "-"
}

// MarkDegraded records a component that could not be loaded.
func (f *Facts) MarkDegraded(component string) {
	if !slices.Contains(f.Degraded, component) {
		f.Degraded = append(f.Degraded, component)
	}
}

// openRows keeps active and overdue loans.
func openRows(snapshot []storage.SnapshotRow) []storage.SnapshotRow {
	out := make([]storage.SnapshotRow, 0, len(snapshot))
	for _, row := range snapshot {
		if row.Status.Open() {
			out = append(out, row)
		}
	}
	return out
}
