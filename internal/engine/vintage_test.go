package engine

import (
	"testing"

	"producer-risk/internal/storage"
)

func TestVintageMOBFromDisbursementMonth(t *testing.T) {
	f := NewFacts("demo", []storage.LoanFact{
		loan("L1", "C1", "2024-01-05", "1000", 6),
		loan("L2", "C2", "2024-01-28", "500", 6),
		loan("L3", "C2", "2024-01-30", "300", 6),
	}, nil, nil)
	open := []storage.SnapshotRow{
		snap("L1", 3, storage.LoanOverdue, "800"),
		snap("L2", 0, storage.LoanActive, "200"),
	}

	rows := BuildVintage(f, day("2024-04-15"), open)
	if len(rows) != 1 {
		t.Fatalf("expected one cohort, got %d", len(rows))
	}
	row := rows[0]
	if row.DisbursementMonth != "2024-01" || row.MOB != 3 {
		t.Fatalf("cohort %s mob %d", row.DisbursementMonth, row.MOB)
	}
	if row.DisbursementCount != 3 || row.BorrowerCount != 2 || !row.DisbursementAmount.Equal(dec("1800")) {
		t.Fatalf("volume should come from every loan: %+v", row)
	}
	if row.DPD1Rate != 0.8 || row.DPD3Rate != 0.8 || row.DPD7Rate != 0 {
		t.Fatalf("unexpected rates: %+v", row)
	}
	for slot, rate := range row.MOBRates {
		if slot == 2 {
			if rate == nil || *rate != row.DPD1Rate {
				t.Fatalf("mob3 slot should carry the dpd1 rate, got %v", rate)
			}
			continue
		}
		if rate != nil {
			t.Fatalf("slot %d should be empty", slot+1)
		}
	}
}

func TestVintageZeroBalanceCohort(t *testing.T) {
	f := NewFacts("demo", []storage.LoanFact{loan("L1", "C1", "2024-04-02", "1000", 6)}, nil, nil)
	rows := BuildVintage(f, day("2024-04-15"), []storage.SnapshotRow{snap("L1", 0, storage.LoanActive, "0")})
	if len(rows) != 1 {
		t.Fatalf("expected cohort row, got %d", len(rows))
	}
	if rows[0].DPD1Rate != 0 || rows[0].MOB != 0 {
		t.Fatalf("zero balance cohort: %+v", rows[0])
	}
	for _, rate := range rows[0].MOBRates {
		if rate != nil {
			t.Fatal("mob 0 populates no slot")
		}
	}
}

func TestMonthsBetweenFloorsAtZero(t *testing.T) {
	if got := MonthsBetween(day("2024-05-01"), day("2024-04-15")); got != 0 {
		t.Fatalf("future cohort mob = %d", got)
	}
	if got := MonthsBetween(day("2023-11-01"), day("2024-02-29")); got != 3 {
		t.Fatalf("cross-year mob = %d", got)
	}
}

func TestAccumulateCurve(t *testing.T) {
	f := NewFacts("demo", []storage.LoanFact{loan("L1", "C1", "2024-01-05", "1000", 6)}, nil, nil)
	var history []RiskMetricsRow
	for _, tc := range []struct {
		date string
		dpd  int
	}{{"2024-03-31", 0}, {"2024-02-29", 0}, {"2024-04-15", 2}} {
		rows := BuildVintage(f, day(tc.date), []storage.SnapshotRow{snap("L1", tc.dpd, storage.LoanOverdue, "500")})
		history = append(history, RiskMetricsRow{StatDate: tc.date, Vintage: rows})
	}

	curve := AccumulateCurve("2024-01", history)
	if curve.MOBRates[0] == nil || *curve.MOBRates[0] != 0 {
		t.Fatalf("mob1 = %v", curve.MOBRates[0])
	}
	if curve.MOBRates[2] == nil || *curve.MOBRates[2] != 1 {
		t.Fatalf("mob3 = %v", curve.MOBRates[2])
	}
	if len(curve.Points) != 3 || curve.Points[0].StatDate != "2024-02-29" {
		t.Fatalf("points should be date ordered: %+v", curve.Points)
	}
	if empty := AccumulateCurve("2023-12", history); len(empty.Points) != 0 {
		t.Fatal("unknown cohort yields an empty curve")
	}
}
