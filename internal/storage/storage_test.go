package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

func TestPartitionNameRoundTrip(t *testing.T) {
	month := time.Date(2024, time.April, 15, 0, 0, 0, 0, time.UTC)
	name := PartitionName(DefaultPartitionPrefix, month)
	if name != "calc_overdue_y2024m04" {
		t.Fatalf("partition name = %q", name)
	}
	parsed, ok := ParsePartition(DefaultPartitionPrefix, name)
	if !ok {
		t.Fatal("expected partition to parse")
	}
	if !parsed.Equal(time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("parsed month = %s", parsed)
	}

	for _, bad := range []string{"calc_overdue", "calc_overdue_y2024m13", "calc_overdue_y24m04", "other_y2024m04"} {
		if _, ok := ParsePartition(DefaultPartitionPrefix, bad); ok {
			t.Fatalf("%q should not parse", bad)
		}
	}
}

func TestParseScheduleAlternateKeys(t *testing.T) {
	raw := []byte(`{"schedule": [
        {"term": 1, "due_date": "2024-02-15", "principal": "100.50", "interest": 12},
        {"period": "2", "due_date": "2024-03-15T00:00:00", "principal_due": 100, "interest_due": "11.25"},
        {"term": 3, "principal": 10},
        "garbage"
    ]}`)

	items, err := ParseSchedule(raw)
	if err != nil {
		t.Fatalf("parse schedule: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Period != 1 || !items[0].PrincipalDue.Equal(decimal.RequireFromString("100.50")) || !items[0].InterestDue.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	if items[1].Period != 2 || !items[1].InterestDue.Equal(decimal.RequireFromString("11.25")) {
		t.Fatalf("unexpected second item: %+v", items[1])
	}
	if items[1].DueDate.Format(time.DateOnly) != "2024-03-15" {
		t.Fatalf("due date = %s", items[1].DueDate)
	}
}

func TestParseScheduleBareArrayAndEmpty(t *testing.T) {
	items, err := ParseSchedule([]byte(`[{"term":1,"due_date":"2024-01-01","principal":1,"interest":0}]`))
	if err != nil || len(items) != 1 {
		t.Fatalf("bare array: items=%v err=%v", items, err)
	}
	for _, raw := range [][]byte{nil, []byte("null"), []byte("{}")} {
		items, err := ParseSchedule(raw)
		if err != nil || len(items) != 0 {
			t.Fatalf("%q: items=%v err=%v", raw, items, err)
		}
	}
}

func TestClassify(t *testing.T) {
	missing := classify("list snapshot", &pgconn.PgError{Code: "42P01", Message: "relation does not exist"})
	if !errors.Is(missing, ErrSchemaMismatch) || !IsNoData(missing) {
		t.Fatalf("undefined table should be schema mismatch: %v", missing)
	}
	column := classify("list loans", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "42703"}))
	if !errors.Is(column, ErrSchemaMismatch) {
		t.Fatalf("undefined column should be schema mismatch: %v", column)
	}
	var pgErr *pgconn.PgError
	if !errors.As(column, &pgErr) {
		t.Fatal("classified error should keep the driver error")
	}

	down := classify("list loans", errors.New("dial tcp: connection refused"))
	if !errors.Is(down, ErrUpstreamUnavailable) || IsNoData(down) {
		t.Fatalf("network failure should be upstream unavailable: %v", down)
	}
	if classify("noop", nil) != nil {
		t.Fatal("nil stays nil")
	}
	if !errors.Is(classify("x", ErrNotConfigured), ErrNotConfigured) {
		t.Fatal("not configured passes through")
	}
}

func TestToFloat(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{12.5, 12.5, true},
		{int32(7), 7, true},
		{"15%", 15, true},
		{" 1,000.25 ", 1000.25, true},
		{decimal.RequireFromString("0.15"), 0.15, true},
		{"", 0, false},
		{"n/a", 0, false},
		{nil, 0, false},
	}
	for _, tc := range cases {
		got, ok := toFloat(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("toFloat(%#v) = %v,%v want %v,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestFundingParamsFromRecordAliases(t *testing.T) {
	rec := record{
		"principal_amount":                 "1000000",
		"product_term":                     12.0,
		"early_repayment_overdue_discount": 0.9,
		"vtg30_predicted_default_rate":     "5",
		"agreed_rate":                      15.0,
		"margin_deposit":                   50000.0,
	}
	params := fundingParamsFromRecord("kn", rec)
	if !params.PrincipalAmount.Equal(decimal.NewFromInt(1000000)) {
		t.Fatalf("principal = %s", params.PrincipalAmount)
	}
	if params.EarlyRepaymentDiscount != 0.9 || params.PredictedDefaultRate != 5 || params.AgreedRate != 15 {
		t.Fatalf("unexpected aliases: %+v", params)
	}
	if !params.MarginDepositRequired.Equal(params.MarginDepositCurrent) {
		t.Fatalf("required deposit should default to current: %+v", params)
	}
	if params.EffectiveDate != nil {
		t.Fatal("effective date should be absent")
	}
}

func TestThresholdsPreferConfigJSON(t *testing.T) {
	rec := record{
		"leverage_ratio":   "7:3",
		"liquidation_line": 1.05,
		"config":           map[string]any{"senior_junior_ratio": "4:1", "liquidation_line": 1.1, "baseline": "1.5"},
	}
	th := thresholdsFromRecord(rec)
	if th.SeniorJuniorRatio != "4:1" {
		t.Fatalf("ratio = %q", th.SeniorJuniorRatio)
	}
	if th.LiquidationLine == nil || *th.LiquidationLine != 1.1 {
		t.Fatalf("liquidation = %v", th.LiquidationLine)
	}
	if th.Baseline == nil || *th.Baseline != 1.5 {
		t.Fatalf("baseline = %v", th.Baseline)
	}
	if th.MarginCallLine != nil {
		t.Fatal("margin call should fall back")
	}
}

func TestLoanMaturityFallsBackToSchedule(t *testing.T) {
	loan := LoanFact{Schedule: []ScheduleItem{
		{Period: 1, DueDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{Period: 2, DueDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}}
	got, ok := loan.Maturity()
	if !ok || got.Month() != time.March {
		t.Fatalf("maturity = %s ok=%v", got, ok)
	}
	if _, ok := (LoanFact{}).Maturity(); ok {
		t.Fatal("no maturity without schedule")
	}
}

func TestStoreWithoutPool(t *testing.T) {
	var s *Store
	if _, err := s.ListLoans(t.Context(), "kn"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
