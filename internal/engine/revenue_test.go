package engine

import (
	"testing"

	"producer-risk/internal/storage"
)

func revenueFacts() (*Facts, []storage.MonthEndBalance) {
	l := loan("L1", "C1", "2024-01-10", "1000", 2,
		inst(1, "2024-02-10", "500", "20"),
		inst(2, "2024-03-10", "500", "20"),
	)
	feb := repay("L1", "2024-02-10", 1, "500", "20")
	feb.Penalty = dec("30")
	f := NewFacts("demo", []storage.LoanFact{l}, []storage.RepaymentFact{
		repay("L1", "2024-01-15", 0, "0", "10"),
		feb,
		repay("L1", "2024-03-10", 2, "300", "20"),
	}, nil)
	balances := []storage.MonthEndBalance{
		{Month: day("2024-01-01"), StatDate: day("2024-01-31"), Balance: dec("1000")},
		{Month: day("2024-02-01"), StatDate: day("2024-02-29"), Balance: dec("500")},
	}
	return f, balances
}

func TestRevenueProxyRateWhenNothingDue(t *testing.T) {
	f, balances := revenueFacts()
	rows := BuildRevenue(f, balances, 0.98)
	if len(rows) != 3 {
		t.Fatalf("expected 3 months, got %d", len(rows))
	}
	jan := rows[0]
	if jan.Month != "2024-01" || !jan.ExpectedDue.IsZero() {
		t.Fatalf("january: %+v", jan)
	}
	if jan.CollectionRate != 0.98 || !jan.ProxyCollectionRate {
		t.Fatalf("collection without dues should use the proxy rate, got %v proxy=%v", jan.CollectionRate, jan.ProxyCollectionRate)
	}
	// avg of begin 0 and end 1000 is 500
	if jan.AnnualizedYield != 0.24 {
		t.Fatalf("january yield = %v", jan.AnnualizedYield)
	}
}

func TestRevenueCollectionRateClamped(t *testing.T) {
	f, balances := revenueFacts()
	rows := BuildRevenue(f, balances, 0.98)
	feb := rows[1]
	if !feb.Collection.Equal(dec("550")) || !feb.ExpectedDue.Equal(dec("520")) {
		t.Fatalf("february amounts: %+v", feb)
	}
	if feb.CollectionRate != 1 || feb.ProxyCollectionRate {
		t.Fatalf("over-collection clamps to 1, got %v", feb.CollectionRate)
	}
	if !feb.BeginBalance.Equal(dec("1000")) || !feb.FeeCollected.Equal(dec("30")) {
		t.Fatalf("february balances: %+v", feb)
	}
	if feb.AnnualizedYield != round4(20.0/750.0*12) {
		t.Fatalf("february yield = %v", feb.AnnualizedYield)
	}
}

func TestRevenueBalanceCarriesForward(t *testing.T) {
	f, balances := revenueFacts()
	rows := BuildRevenue(f, balances, 0.98)
	mar := rows[2]
	if !mar.OutstandingBalance.Equal(dec("500")) || !mar.BeginBalance.Equal(dec("500")) {
		t.Fatalf("march should reuse the february snapshot: %+v", mar)
	}
	if mar.CollectionRate != round4(320.0/520.0) {
		t.Fatalf("march rate = %v", mar.CollectionRate)
	}
	if !mar.CumulativeDisbursement.Equal(dec("1000")) {
		t.Fatalf("cumulative disbursement = %s", mar.CumulativeDisbursement)
	}
	if got := LatestCollectionRate(rows, 0.5); got != mar.CollectionRate {
		t.Fatalf("latest rate = %v", got)
	}
}

func TestRevenueEmpty(t *testing.T) {
	rows := BuildRevenue(NewFacts("demo", nil, nil, nil), nil, 0.98)
	if rows == nil || len(rows) != 0 {
		t.Fatalf("expected empty non-nil series, got %v", rows)
	}
	if got := LatestCollectionRate(rows, 0.9); got != 0.9 {
		t.Fatalf("fallback rate = %v", got)
	}
}
