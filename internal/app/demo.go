package app

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"producer-risk/internal/storage"
)

var demoAccounts = []struct {
	account storage.ProducerAccount
	scale   float64
	seed    uint64
}{
	{storage.ProducerAccount{ID: "demo", Name: "Demo Lending", Region: "SG", ProductType: "consumer", Currency: "USD", ExchangeRate: 1, Status: "active"}, 1, 1},
	{storage.ProducerAccount{ID: "nusantara", Name: "Nusantara Kredit", Region: "ID", ProductType: "merchant", Currency: "IDR", ExchangeRate: 16000, Status: "active"}, 16000, 2},
}

// demoSource generates a deterministic portfolio ending at now.
func demoSource(now time.Time) *storage.MemorySource {
	src := storage.NewMemorySource()
	for _, d := range demoAccounts {
		src.Put(demoPortfolio(d.account, d.scale, now, d.seed))
	}
	return src
}

func demoPortfolio(account storage.ProducerAccount, scale float64, now time.Time, seed uint64) storage.Dataset {
	r := rand.New(rand.NewPCG(seed, seed*7919))
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	ds := storage.Dataset{Account: account, Ratings: map[string]string{}}
	ratings := []string{"A", "B", "C", "D"}
	terms := []int{3, 6, 12}
	lates := []int{2, 5, 10, 20, 45, 75, 100, 140, 200}
	total := decimal.Zero

	for i := range 60 {
		disbursed := today.AddDate(0, -(1 + r.IntN(8)), -r.IntN(28))
		term := terms[r.IntN(len(terms))]
		amount := decimal.NewFromInt(int64(500 + r.IntN(4500))).Mul(decimal.NewFromFloat(scale)).Round(0)
		customer := fmt.Sprintf("%s-C%03d", account.ID, i%45+1)
		rate := 0.18 + r.Float64()*0.12

		loan := storage.LoanFact{
			LoanID:             fmt.Sprintf("%s-L%03d", account.ID, i+1),
			CustomerID:         customer,
			DisbursementAmount: amount,
			DisbursementTime:   disbursed,
			TermMonths:         term,
			CustomerRate:       &rate,
			RepaymentMethod:    []string{"1", "2"}[r.IntN(2)],
		}
		principal := amount.Div(decimal.NewFromInt(int64(term))).Round(2)
		interest := amount.Mul(decimal.NewFromFloat(rate / 12)).Round(2)
		for k := 1; k <= term; k++ {
			loan.Schedule = append(loan.Schedule, storage.ScheduleItem{
				Period:       k,
				DueDate:      disbursed.AddDate(0, k, 0),
				PrincipalDue: principal,
				InterestDue:  interest,
			})
		}
		maturity := disbursed.AddDate(0, term, 0)
		loan.MaturityDate = &maturity
		ds.Loans = append(ds.Loans, loan)
		ds.Ratings[customer] = ratings[r.IntN(len(ratings))]
		total = total.Add(amount)

		dpd := 0
		if r.Float64() < 0.2 {
			dpd = lates[r.IntN(len(lates))]
		}
		paidThrough := today.AddDate(0, 0, -dpd)
		repaid := decimal.Zero
		for _, item := range loan.Schedule {
			if !item.DueDate.Before(paidThrough) {
				break
			}
			ds.Repayments = append(ds.Repayments, storage.RepaymentFact{
				LoanID:        loan.LoanID,
				RepaymentDate: item.DueDate.AddDate(0, 0, r.IntN(3)),
				Period:        item.Period,
				Principal:     item.PrincipalDue,
				Interest:      item.InterestDue,
				Penalty:       decimal.Zero,
				Fee:           decimal.Zero,
				Waiver:        decimal.Zero,
				Settled:       true,
			})
			repaid = repaid.Add(item.PrincipalDue)
		}

		outstanding := decimal.Max(amount.Sub(repaid), decimal.Zero)
		for d := range 14 {
			status := storage.LoanActive
			current := max(dpd-d, 0)
			switch {
			case !outstanding.IsPositive():
				status = storage.LoanClosed
			case current > 0:
				status = storage.LoanOverdue
			}
			ds.Snapshots = append(ds.Snapshots, storage.SnapshotRow{
				LoanID:               loan.LoanID,
				StatDate:             today.AddDate(0, 0, -d),
				DPD:                  current,
				Status:               status,
				OutstandingPrincipal: outstanding,
			})
		}
	}

	ds.MonthEnd = demoMonthEnds(ds, today)
	ds.Funding = &storage.FundingParams{
		ProducerID:              account.ID,
		PrincipalAmount:         total.Div(decimal.NewFromFloat(scale)).Mul(decimal.NewFromFloat(0.6)).Round(2),
		AgreedRate:              12,
		ProductTermMonths:       12,
		EarlyRepaymentDiscount:  0.9,
		PredictedDefaultRate:    5,
		LeverageCurrent:         3.2,
		MarginDepositCurrent:    decimal.NewFromInt(5000),
		MarginDepositRequired:   decimal.NewFromInt(8000),
		GuaranteeDepositCurrent: decimal.NewFromInt(10000),
	}
	ds.Thresholds = storage.FundingThresholds{SeniorJuniorRatio: "4:1"}
	return ds
}

// demoMonthEnds derives the open balance at the end of every past month.
func demoMonthEnds(ds storage.Dataset, today time.Time) []storage.MonthEndBalance {
	if len(ds.Loans) == 0 {
		return nil
	}
	first := ds.Loans[0].DisbursementTime
	for _, l := range ds.Loans {
		if l.DisbursementTime.Before(first) {
			first = l.DisbursementTime
		}
	}

	var out []storage.MonthEndBalance
	for month := time.Date(first.Year(), first.Month(), 1, 0, 0, 0, 0, time.UTC); ; month = month.AddDate(0, 1, 0) {
		end := month.AddDate(0, 1, -1)
		if !end.Before(today) {
			break
		}
		balance := decimal.Zero
		for _, l := range ds.Loans {
			if l.DisbursementTime.After(end) {
				continue
			}
			balance = balance.Add(l.DisbursementAmount)
		}
		for _, rp := range ds.Repayments {
			if !rp.RepaymentDate.After(end) {
				balance = balance.Sub(rp.Principal)
			}
		}
		out = append(out, storage.MonthEndBalance{Month: month, StatDate: end, Balance: decimal.Max(balance, decimal.Zero)})
	}
	return out
}
