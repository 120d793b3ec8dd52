package engine

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"producer-risk/internal/storage"
)

func TestAggregateBucketsPartitionTotal(t *testing.T) {
	f, snapshot := portfolio()
	row, err := Aggregate(f, day("2024-04-15"), snapshot)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	if len(row.DPDDistribution) != len(Buckets) {
		t.Fatalf("expected %d buckets, got %d", len(Buckets), len(row.DPDDistribution))
	}
	if row.ActiveLoans != 7 {
		t.Fatalf("closed loan must be excluded, active=%d", row.ActiveLoans)
	}

	sum := decimal.Zero
	ratioSum := 0.0
	for i, b := range row.DPDDistribution {
		if b.Bucket != Buckets[i] {
			t.Fatalf("bucket order: got %s at %d", b.Bucket, i)
		}
		if b.LoanCount != 1 {
			t.Fatalf("bucket %s should hold one loan, got %d", b.Bucket, b.LoanCount)
		}
		sum = sum.Add(b.Balance)
		ratioSum += b.BalanceRatio
	}
	if !sum.Equal(row.CurrentBalance) {
		t.Fatalf("sum of buckets %s != current balance %s", sum, row.CurrentBalance)
	}
	if !row.CurrentBalance.Equal(dec("5950")) {
		t.Fatalf("current balance = %s", row.CurrentBalance)
	}
	if math.Abs(ratioSum-1) > 1e-3 {
		t.Fatalf("bucket ratios sum to %v", ratioSum)
	}
}

func TestAggregateOverdueRatiosMonotone(t *testing.T) {
	f, snapshot := portfolio()
	row, err := Aggregate(f, day("2024-04-15"), snapshot)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	values := row.Overdue.Values()
	for i := 1; i < len(values); i++ {
		if values[i] > values[i-1] {
			t.Fatalf("ratio at threshold %d (%v) exceeds previous (%v)", OverdueThresholds[i], values[i], values[i-1])
		}
	}
	// six of seven open loans are at least 1 day late
	if row.Overdue.D1 != round4(6.0/7.0) {
		t.Fatalf("1+ ratio = %v", row.Overdue.D1)
	}
}

func TestAggregateCoreMetrics(t *testing.T) {
	f, snapshot := portfolio()
	row, err := Aggregate(f, day("2024-04-15"), snapshot)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if row.ActiveBorrowers != 6 {
		t.Fatalf("active borrowers = %d", row.ActiveBorrowers)
	}
	if !row.CumulativeDisbursement.Equal(dec("8000")) {
		t.Fatalf("cumulative disbursement = %s", row.CumulativeDisbursement)
	}
	if !row.M0Balance.Equal(dec("700")) {
		t.Fatalf("m0 balance = %s", row.M0Balance)
	}
	// L1: due interest for periods 1..3 is 90, repaid 30 + 20
	if !row.M0AccruedInterest.Equal(dec("40")) {
		t.Fatalf("m0 accrued interest = %s", row.M0AccruedInterest)
	}

	var unrated *RatingBucket
	for i := range row.CreditRatingDistribution {
		if row.CreditRatingDistribution[i].Rating == "-" {
			unrated = &row.CreditRatingDistribution[i]
		}
	}
	if unrated == nil || unrated.LoanCount != 3 {
		t.Fatalf("expected 3 unrated loans, got %+v", row.CreditRatingDistribution)
	}
}

func TestAggregateZeroPopulation(t *testing.T) {
	f := NewFacts("demo", nil, nil, nil)
	row, err := Aggregate(f, day("2024-04-15"), []storage.SnapshotRow{snap("L1", 0, storage.LoanClosed, "0")})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if row.ActiveLoans != 0 || row.M0Ratio != 0 || row.Overdue.D1 != 0 {
		t.Fatalf("zero population should give zeros: %+v", row)
	}
	for _, b := range row.DPDDistribution {
		if b.BalanceRatio != 0 {
			t.Fatalf("ratio should be 0 without balance: %+v", b)
		}
	}
}

func TestAggregateNoSnapshot(t *testing.T) {
	f := NewFacts("demo", nil, nil, nil)
	if _, err := Aggregate(f, day("2024-04-15"), nil); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestM0AccruedInterestFloorsAtZero(t *testing.T) {
	l := loan("L1", "C1", "2024-01-01", "100", 1, inst(1, "2024-02-01", "100", "5"))
	f := NewFacts("demo", []storage.LoanFact{l}, []storage.RepaymentFact{
		repay("L1", "2024-02-01", 1, "100", "9"),
	}, nil)
	if got := M0AccruedInterest(f, []string{"L1"}, day("2024-03-01")); !got.IsZero() {
		t.Fatalf("over-repaid interest should floor at 0, got %s", got)
	}
	if got := M0AccruedInterest(f, []string{"L1"}, day("2024-01-31")); !got.IsZero() {
		t.Fatalf("nothing is due before the first instalment, got %s", got)
	}
}

func TestBucketBoundaries(t *testing.T) {
	cases := map[int]string{0: "M0", 1: "M1", 30: "M1", 31: "M2", 60: "M2", 61: "M3", 90: "M3", 91: "M4", 120: "M4", 121: "M5", 150: "M5", 151: "M6+", 999: "M6+"}
	for dpd, want := range cases {
		if got := BucketFor(dpd); got != want {
			t.Fatalf("BucketFor(%d) = %s, want %s", dpd, got, want)
		}
	}
}

func TestMapMoneyConvertsAmountsOnly(t *testing.T) {
	f, snapshot := portfolio()
	row, _ := Aggregate(f, day("2024-04-15"), snapshot)
	half := func(d decimal.Decimal) decimal.Decimal { return d.Div(decimal.NewFromInt(2)) }
	mapped := row.MapMoney(half)
	if !mapped.CurrentBalance.Equal(dec("2975")) {
		t.Fatalf("converted balance = %s", mapped.CurrentBalance)
	}
	if mapped.M0Ratio != row.M0Ratio {
		t.Fatal("ratios must not change")
	}
	if row.DPDDistribution[0].Balance.Equal(mapped.DPDDistribution[0].Balance) {
		t.Fatal("mapping must not alias the source slices")
	}
}
