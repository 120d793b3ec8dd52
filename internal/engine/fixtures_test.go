package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"producer-risk/internal/storage"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func loan(id, customer, disbursed, amount string, term int, schedule ...storage.ScheduleItem) storage.LoanFact {
	return storage.LoanFact{
		LoanID:             id,
		CustomerID:         customer,
		DisbursementAmount: dec(amount),
		DisbursementTime:   day(disbursed),
		TermMonths:         term,
		Schedule:           schedule,
	}
}

func inst(period int, due, principal, interest string) storage.ScheduleItem {
	return storage.ScheduleItem{
		Period:       period,
		DueDate:      day(due),
		PrincipalDue: dec(principal),
		InterestDue:  dec(interest),
	}
}

func snap(id string, dpd int, status storage.LoanStatus, outstanding string) storage.SnapshotRow {
	return storage.SnapshotRow{
		LoanID:               id,
		DPD:                  dpd,
		Status:               status,
		OutstandingPrincipal: dec(outstanding),
	}
}

func repay(id, date string, period int, principal, interest string) storage.RepaymentFact {
	return storage.RepaymentFact{
		LoanID:        id,
		RepaymentDate: day(date),
		Period:        period,
		Principal:     dec(principal),
		Interest:      dec(interest),
		Penalty:       decimal.Zero,
		Fee:           decimal.Zero,
		Waiver:        decimal.Zero,
	}
}

// portfolio is a small producer spanning every DPD bucket.
func portfolio() (*Facts, []storage.SnapshotRow) {
	loans := []storage.LoanFact{
		loan("L1", "C1", "2024-01-10", "1000", 3,
			inst(1, "2024-02-10", "330", "30"),
			inst(2, "2024-03-10", "330", "30"),
			inst(3, "2024-04-10", "340", "30"),
			inst(4, "2024-05-10", "0", "30"),
		),
		loan("L2", "C2", "2024-01-20", "2000", 6),
		loan("L3", "C2", "2024-02-05", "1500", 6),
		loan("L4", "C3", "2024-02-15", "800", 3),
		loan("L5", "C4", "2024-03-01", "600", 3),
		loan("L6", "C5", "2024-03-10", "900", 12),
		loan("L7", "C6", "2024-03-20", "700", 12),
		loan("L8", "C7", "2024-03-25", "500", 12),
	}
	snapshot := []storage.SnapshotRow{
		snap("L1", 0, storage.LoanActive, "700"),
		snap("L2", 5, storage.LoanOverdue, "1500"),
		snap("L3", 45, storage.LoanOverdue, "1200"),
		snap("L4", 75, storage.LoanOverdue, "600"),
		snap("L5", 100, storage.LoanOverdue, "500"),
		snap("L6", 130, storage.LoanOverdue, "800"),
		snap("L7", 200, storage.LoanOverdue, "650"),
		snap("L8", 0, storage.LoanClosed, "0"),
	}
	ratings := map[string]string{"C1": "A", "C2": "B", "C3": "B"}
	repayments := []storage.RepaymentFact{
		repay("L1", "2024-02-10", 1, "330", "30"),
		repay("L1", "2024-03-12", 2, "0", "20"),
	}
	for i := range snapshot {
		snapshot[i].StatDate = day("2024-04-15")
	}
	return NewFacts("demo", loans, repayments, ratings), snapshot
}
