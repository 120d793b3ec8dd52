package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"producer-risk/internal/storage"
)

func memorySource() *storage.MemorySource {
	f, snapshot := portfolio()
	src := storage.NewMemorySource()
	ratings := map[string]string{"C1": "A", "C2": "B", "C3": "B"}
	src.Put(storage.Dataset{
		Account:    storage.ProducerAccount{ID: "demo", Currency: "USD", ExchangeRate: 1},
		Loans:      f.Loans,
		Repayments: f.Repayments,
		Ratings:    ratings,
		Snapshots:  snapshot,
		MonthEnd: []storage.MonthEndBalance{
			{Month: day("2024-04-01"), StatDate: day("2024-04-15"), Balance: dec("5950")},
		},
	})
	return src
}

// countingSource counts DPD history loads.
type countingSource struct {
	*storage.MemorySource
	dpdCalls int
}

func (c *countingSource) ListDPDHistory(ctx context.Context, producerID string, months []time.Time) (map[storage.DPDKey]int, error) {
	c.dpdCalls++
	return c.MemorySource.ListDPDHistory(ctx, producerID, months)
}

func fixedClock(s string) CalculatorOption {
	return WithClock(func() time.Time { return day(s).Add(10 * time.Hour) })
}

func TestCalculatorDegradesOptionalComponents(t *testing.T) {
	src := memorySource()
	src.FailOn("ListRepayments", fmt.Errorf("list repayments: %w", storage.ErrUpstreamUnavailable))
	src.FailOn("ListDPDHistory", errors.New("boom"))
	calc := NewCalculator(src, zerolog.Nop(), 0.98)

	f, err := calc.LoadFacts(t.Context(), "demo")
	if err != nil {
		t.Fatalf("load facts: %v", err)
	}
	if !slices.Contains(f.Degraded, ComponentRepayments) {
		t.Fatalf("degraded = %v", f.Degraded)
	}

	row, err := calc.Risk(t.Context(), f, day("2024-04-15"))
	if err != nil {
		t.Fatalf("risk: %v", err)
	}
	if !slices.Contains(f.Degraded, ComponentDPDHistory) {
		t.Fatalf("degraded = %v", f.Degraded)
	}
	if len(row.Collections) == 0 {
		t.Fatal("waterfall is still produced without history")
	}
	// without repayments nothing has been paid
	if !row.M0AccruedInterest.Equal(dec("90")) {
		t.Fatalf("accrued interest = %s", row.M0AccruedInterest)
	}
}

func TestCalculatorSchemaMismatchIsEmpty(t *testing.T) {
	src := memorySource()
	src.FailOn("ListLoans", fmt.Errorf("list loans: %w", storage.ErrSchemaMismatch))
	calc := NewCalculator(src, zerolog.Nop(), 0.98)

	f, err := calc.LoadFacts(t.Context(), "demo")
	if err != nil {
		t.Fatalf("schema mismatch should read as empty: %v", err)
	}
	if len(f.Loans) != 0 || len(f.Degraded) != 0 {
		t.Fatalf("facts = %+v", f)
	}
}

func TestCalculatorLoanFailureIsReturned(t *testing.T) {
	src := memorySource()
	src.FailOn("ListLoans", fmt.Errorf("list loans: %w", storage.ErrUpstreamUnavailable))
	calc := NewCalculator(src, zerolog.Nop(), 0.98)

	if _, err := calc.LoadFacts(t.Context(), "demo"); !errors.Is(err, storage.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestCalculatorCashflowUsesLatestSnapshot(t *testing.T) {
	calc := NewCalculator(memorySource(), zerolog.Nop(), 0.98, fixedClock("2024-04-20"))
	f, err := calc.LoadFacts(t.Context(), "demo")
	if err != nil {
		t.Fatalf("load facts: %v", err)
	}
	fc, err := calc.Cashflow(t.Context(), f, 6, 0.9)
	if err != nil {
		t.Fatalf("cashflow: %v", err)
	}
	if fc.AsOfDate != "2024-04-15" || fc.Today != "2024-04-20" {
		t.Fatalf("forecast dates: %+v", fc)
	}
	// only L1 carries a schedule; May is its single future instalment
	if len(fc.Points) != 1 || fc.Points[0].Month != "2024-05" {
		t.Fatalf("points = %+v", fc.Points)
	}

	early := NewCalculator(memorySource(), zerolog.Nop(), 0.98, fixedClock("2024-03-01"))
	fc, err = early.Cashflow(t.Context(), f, 6, 0.9)
	if err != nil {
		t.Fatalf("cashflow: %v", err)
	}
	if fc.AsOfDate != "" || fc.ActiveLoans != 0 {
		t.Fatalf("no snapshot before today gives an empty forecast: %+v", fc)
	}
}

func TestCalculatorRevenueDegradesBalances(t *testing.T) {
	src := memorySource()
	src.FailOn("ListMonthEndBalances", errors.New("timeout"))
	calc := NewCalculator(src, zerolog.Nop(), 0.98)
	f, _ := calc.LoadFacts(t.Context(), "demo")

	rows := calc.Revenue(t.Context(), f)
	if len(rows) == 0 || !slices.Contains(f.Degraded, ComponentBalances) {
		t.Fatalf("rows=%d degraded=%v", len(rows), f.Degraded)
	}
	for _, r := range rows {
		if !r.OutstandingBalance.IsZero() {
			t.Fatalf("balances should be empty when unavailable: %+v", r)
		}
	}
}

func TestCalculatorLoadsDPDHistoryOnce(t *testing.T) {
	src := &countingSource{MemorySource: memorySource()}
	calc := NewCalculator(src, zerolog.Nop(), 0.98)
	f, err := calc.LoadFacts(t.Context(), "demo")
	if err != nil {
		t.Fatalf("load facts: %v", err)
	}

	first, err := calc.Risk(t.Context(), f, day("2024-04-15"))
	if err != nil {
		t.Fatalf("risk: %v", err)
	}
	for range 13 {
		row, err := calc.Risk(t.Context(), f, day("2024-04-15"))
		if err != nil {
			t.Fatalf("risk: %v", err)
		}
		if len(row.Collections) != len(first.Collections) {
			t.Fatalf("waterfall changed between dates: %d vs %d", len(row.Collections), len(first.Collections))
		}
	}
	if src.dpdCalls != 1 {
		t.Fatalf("dpd history loads = %d, want 1", src.dpdCalls)
	}
}

func TestCalculatorRemembersFailedDPDHistory(t *testing.T) {
	src := &countingSource{MemorySource: memorySource()}
	src.FailOn("ListDPDHistory", errors.New("boom"))
	calc := NewCalculator(src, zerolog.Nop(), 0.98)
	f, _ := calc.LoadFacts(t.Context(), "demo")

	for range 3 {
		if _, err := calc.Risk(t.Context(), f, day("2024-04-15")); err != nil {
			t.Fatalf("risk: %v", err)
		}
	}
	if src.dpdCalls != 1 {
		t.Fatalf("dpd history loads = %d, want 1", src.dpdCalls)
	}
	if !slices.Equal(f.Degraded, []string{ComponentDPDHistory}) {
		t.Fatalf("degraded = %v", f.Degraded)
	}
}
