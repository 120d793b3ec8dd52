package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	listProducersSQL = `SELECT * FROM spv_config;`

	producerConfigSQL = `SELECT * FROM spv_config WHERE spv_id = $1 LIMIT 1;`

	fundingParamsSQL = `SELECT * FROM spv_initial_params
    WHERE spv_id = $1
    ORDER BY effective_date DESC NULLS LAST
    LIMIT 1;`

	listLoansSQL = `SELECT
        rl.loan_id::text,
        COALESCE(rl.customer_id::text, ''),
        COALESCE(rl.disbursement_amount, 0)::text,
        rl.disbursement_time,
        COALESCE(rl.term_months, 0)::int,
        rl.customer_rate::float8,
        rl.loan_maturity_date::date,
        COALESCE(rl.repayment_method::text, ''),
        COALESCE(rl.repayment_schedule, '{}'::jsonb)
    FROM raw_loan rl
    WHERE rl.spv_id = $1
      AND rl.disbursement_time IS NOT NULL
    ORDER BY rl.disbursement_time, rl.loan_id;`

	listRepaymentsSQL = `SELECT
        rp.loan_id::text,
        rp.repayment_date::date,
        COALESCE(rp.repayment_term, 0)::int,
        COALESCE(rp.principal_repayment, 0)::text,
        COALESCE(rp.interest_repayment, 0)::text,
        COALESCE(rp.penalty_repayment, 0)::text,
        COALESCE(rp.extension_fee, 0)::text,
        COALESCE(rp.waiver_amount, 0)::text,
        COALESCE(rp.is_settled, false)
    FROM raw_repayment rp
    JOIN raw_loan rl ON rl.loan_id = rp.loan_id AND rl.spv_id = $1
    WHERE rp.repayment_date IS NOT NULL
    ORDER BY rp.repayment_date, rp.loan_id;`

	listCustomerRatingsSQL = `SELECT DISTINCT
        cu.customer_id::text,
        COALESCE(NULLIF(TRIM(cu.rating_a::text), ''), '-')
    FROM raw_customer cu
    JOIN raw_loan rl ON rl.customer_id = cu.customer_id AND rl.spv_id = $1;`

	listPartitionsSQL = `SELECT table_name
    FROM information_schema.tables
    WHERE table_schema = 'public'
      AND table_name LIKE $1;`

	// %s is a sanitised partition identifier.
	snapshotSQL = `SELECT
        loan_id::text,
        stat_date::date,
        COALESCE(dpd, 0)::int,
        COALESCE(loan_status, 0)::int,
        COALESCE(outstanding_principal, 0)::text
    FROM %s
    WHERE spv_id = $1
      AND stat_date::date = $2::date;`

	snapshotDatesSQL = `SELECT DISTINCT stat_date::date
    FROM %s
    WHERE spv_id = $1
    ORDER BY 1 DESC
    LIMIT $2;`

	latestSnapshotDateSQL = `SELECT MAX(stat_date::date)
    FROM %s
    WHERE spv_id = $1
      AND stat_date::date <= $2::date;`

	monthEndBalanceSQL = `WITH latest AS (
        SELECT MAX(stat_date::date) AS d FROM %[1]s WHERE spv_id = $1
    )
    SELECT l.d, COALESCE(SUM(c.outstanding_principal), 0)::text
    FROM latest l
    LEFT JOIN %[1]s c
      ON c.stat_date::date = l.d
     AND c.spv_id = $1
     AND c.loan_status IN (1, 2)
    WHERE l.d IS NOT NULL
    GROUP BY l.d;`

	dpdHistorySQL = `SELECT loan_id::text, stat_date::date, COALESCE(dpd, 0)::int
    FROM %s
    WHERE spv_id = $1;`
)

// FactSource is the read-only view over loan facts the engines consume.
type FactSource interface {
	ListProducers(ctx context.Context) ([]ProducerAccount, error)
	ListLoans(ctx context.Context, producerID string) ([]LoanFact, error)
	ListRepayments(ctx context.Context, producerID string) ([]RepaymentFact, error)
	ListCustomerRatings(ctx context.Context, producerID string) (map[string]string, error)
	ListPartitions(ctx context.Context) ([]time.Time, error)
	ListSnapshot(ctx context.Context, producerID string, date time.Time) ([]SnapshotRow, error)
	ListSnapshotDates(ctx context.Context, producerID string, limit int) ([]time.Time, error)
	LatestSnapshotDate(ctx context.Context, producerID string, onOrBefore time.Time) (time.Time, bool, error)
	ListMonthEndBalances(ctx context.Context, producerID string) ([]MonthEndBalance, error)
	ListDPDHistory(ctx context.Context, producerID string, months []time.Time) (map[DPDKey]int, error)
	LoadFundingParams(ctx context.Context, producerID string) (FundingParams, bool, error)
	LoadFundingThresholds(ctx context.Context, producerID string) (FundingThresholds, error)
}

var _ FactSource = (*Store)(nil)

// ListProducers returns active producer accounts; an absent spv_config table yields none.
func (s *Store) ListProducers(ctx context.Context) ([]ProducerAccount, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := pool.Query(ctx, listProducersSQL)
	if err != nil {
		return emptyOnSchema[ProducerAccount](classify("list producers", err))
	}
	defer rows.Close()

	producers := make([]ProducerAccount, 0)
	for rows.Next() {
		rec, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, classify("scan producer", scanErr)
		}
		id := strings.ToLower(rec.str("spv_id", "id"))
		if id == "" {
			continue
		}
		status := strings.ToLower(rec.str("status"))
		if status != "" && status != "active" {
			continue
		}
		if status == "" {
			status = "active"
		}
		name := rec.str("name")
		if name == "" {
			name = id
		}
		currency := rec.str("currency")
		if currency == "" {
			currency = "USD"
		}
		producers = append(producers, ProducerAccount{
			ID:           id,
			Name:         name,
			Region:       rec.str("region", "country"),
			ProductType:  rec.str("product_type"),
			Currency:     strings.ToUpper(currency),
			ExchangeRate: rec.numOr(1, "exchange_rate"),
			Status:       status,
		})
	}
	if err := rows.Err(); err != nil {
		return emptyOnSchema[ProducerAccount](classify("list producers", err))
	}
	return producers, nil
}

// ListLoans returns every disbursed loan of a producer with its parsed schedule.
func (s *Store) ListLoans(ctx context.Context, producerID string) ([]LoanFact, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := pool.Query(ctx, listLoansSQL, producerID)
	if err != nil {
		return nil, classify("list loans", err)
	}
	defer rows.Close()

	loans := make([]LoanFact, 0)
	for rows.Next() {
		var (
			loan      LoanFact
			amountStr string
			schedule  []byte
		)
		if err := rows.Scan(
			&loan.LoanID,
			&loan.CustomerID,
			&amountStr,
			&loan.DisbursementTime,
			&loan.TermMonths,
			&loan.CustomerRate,
			&loan.MaturityDate,
			&loan.RepaymentMethod,
			&schedule,
		); err != nil {
			return nil, classify("scan loan", err)
		}
		if loan.DisbursementAmount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("parse disbursement amount for %s: %w", loan.LoanID, err)
		}
		// a malformed schedule leaves the loan without instalments
		loan.Schedule, _ = ParseSchedule(schedule)
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list loans", err)
	}
	return loans, nil
}

// ListRepayments returns repayments of a producer's loans ordered by date.
func (s *Store) ListRepayments(ctx context.Context, producerID string) ([]RepaymentFact, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := pool.Query(ctx, listRepaymentsSQL, producerID)
	if err != nil {
		return nil, classify("list repayments", err)
	}
	defer rows.Close()

	repayments := make([]RepaymentFact, 0)
	for rows.Next() {
		var (
			rp                                        RepaymentFact
			principal, interest, penalty, fee, waiver string
		)
		if err := rows.Scan(
			&rp.LoanID,
			&rp.RepaymentDate,
			&rp.Period,
			&principal,
			&interest,
			&penalty,
			&fee,
			&waiver,
			&rp.Settled,
		); err != nil {
			return nil, classify("scan repayment", err)
		}
		amounts := []struct {
			dst *decimal.Decimal
			raw string
		}{
			{&rp.Principal, principal},
			{&rp.Interest, interest},
			{&rp.Penalty, penalty},
			{&rp.Fee, fee},
			{&rp.Waiver, waiver},
		}
		for _, a := range amounts {
			if *a.dst, err = decimal.NewFromString(a.raw); err != nil {
				return nil, fmt.Errorf("parse repayment amount for %s: %w", rp.LoanID, err)
			}
		}
		repayments = append(repayments, rp)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list repayments", err)
	}
	return repayments, nil
}

// ListCustomerRatings maps customer id to rating_a ("-" when blank).
func (s *Store) ListCustomerRatings(ctx context.Context, producerID string) (map[string]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ratings := make(map[string]string)
	rows, err := pool.Query(ctx, listCustomerRatingsSQL, producerID)
	if err != nil {
		err = classify("list customer ratings", err)
		if IsNoData(err) {
			return ratings, nil
		}
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var customerID, rating string
		if err := rows.Scan(&customerID, &rating); err != nil {
			return nil, classify("scan customer rating", err)
		}
		ratings[customerID] = rating
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list customer ratings", err)
	}
	return ratings, nil
}

// ListPartitions returns the months that have a snapshot partition, newest first.
func (s *Store) ListPartitions(ctx context.Context) ([]time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := pool.Query(ctx, listPartitionsSQL, s.partitionPrefix+"_y%")
	if err != nil {
		return nil, classify("list partitions", err)
	}
	defer rows.Close()

	months := make([]time.Time, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classify("scan partition", err)
		}
		if month, ok := ParsePartition(s.partitionPrefix, name); ok {
			months = append(months, month)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list partitions", err)
	}
	sortMonthsDesc(months)
	return months, nil
}

// ListSnapshot returns the snapshot rows for one date. A missing partition yields no rows.
func (s *Store) ListSnapshot(ctx context.Context, producerID string, date time.Time) ([]SnapshotRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(snapshotSQL, s.partitionIdent(date))
	rows, err := pool.Query(ctx, query, producerID, date)
	if err != nil {
		return emptyOnSchema[SnapshotRow](classify("list snapshot", err))
	}
	defer rows.Close()

	snapshot := make([]SnapshotRow, 0)
	for rows.Next() {
		var (
			row         SnapshotRow
			status      int
			outstanding string
		)
		if err := rows.Scan(&row.LoanID, &row.StatDate, &row.DPD, &status, &outstanding); err != nil {
			return nil, classify("scan snapshot row", err)
		}
		row.Status = LoanStatusFromCode(status)
		if row.OutstandingPrincipal, err = decimal.NewFromString(outstanding); err != nil {
			return nil, fmt.Errorf("parse outstanding principal for %s: %w", row.LoanID, err)
		}
		snapshot = append(snapshot, row)
	}
	if err := rows.Err(); err != nil {
		return emptyOnSchema[SnapshotRow](classify("list snapshot", err))
	}
	return snapshot, nil
}

// ListSnapshotDates returns up to limit snapshot dates for a producer, newest first.
func (s *Store) ListSnapshotDates(ctx context.Context, producerID string, limit int) ([]time.Time, error) {
	if limit <= 0 {
		return nil, nil
	}
	months, err := s.ListPartitions(ctx)
	if err != nil {
		return nil, err
	}
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	dates := make([]time.Time, 0, limit)
	for _, month := range months {
		if len(dates) >= limit {
			break
		}
		found, err := s.partitionDates(ctx, pool, month, producerID, limit-len(dates))
		if err != nil {
			return nil, err
		}
		dates = append(dates, found...)
	}
	return dates, nil
}

func (s *Store) partitionDates(ctx context.Context, pool pgxQuerier, month time.Time, producerID string, limit int) ([]time.Time, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := pool.Query(ctx, fmt.Sprintf(snapshotDatesSQL, s.partitionIdent(month)), producerID, limit)
	if err != nil {
		return emptyOnSchema[time.Time](classify("list snapshot dates", err))
	}
	defer rows.Close()

	dates := make([]time.Time, 0)
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, classify("scan snapshot date", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return emptyOnSchema[time.Time](classify("list snapshot dates", err))
	}
	return dates, nil
}

// LatestSnapshotDate finds the newest snapshot date not after onOrBefore.
func (s *Store) LatestSnapshotDate(ctx context.Context, producerID string, onOrBefore time.Time) (time.Time, bool, error) {
	months, err := s.ListPartitions(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, false, err
	}

	cutoff := monthStart(onOrBefore)
	for _, month := range months {
		if month.After(cutoff) {
			continue
		}
		var latest *time.Time
		qctx, cancel := s.withTimeout(ctx)
		err := pool.QueryRow(qctx, fmt.Sprintf(latestSnapshotDateSQL, s.partitionIdent(month)), producerID, onOrBefore).Scan(&latest)
		cancel()
		if err != nil {
			err = classify("latest snapshot date", err)
			if IsNoData(err) {
				continue
			}
			return time.Time{}, false, err
		}
		if latest != nil {
			return *latest, true, nil
		}
	}
	return time.Time{}, false, nil
}

// ListMonthEndBalances returns, per partition month, the open balance at its latest snapshot, oldest first.
func (s *Store) ListMonthEndBalances(ctx context.Context, producerID string) ([]MonthEndBalance, error) {
	months, err := s.ListPartitions(ctx)
	if err != nil {
		return nil, err
	}
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	balances := make([]MonthEndBalance, 0, len(months))
	for i := len(months) - 1; i >= 0; i-- {
		month := months[i]
		var (
			statDate time.Time
			balance  string
		)
		qctx, cancel := s.withTimeout(ctx)
		err := pool.QueryRow(qctx, fmt.Sprintf(monthEndBalanceSQL, s.partitionIdent(month)), producerID).Scan(&statDate, &balance)
		cancel()
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			err = classify("month end balance", err)
			if IsNoData(err) {
				continue
			}
			return nil, err
		}
		amount, convErr := decimal.NewFromString(balance)
		if convErr != nil {
			return nil, fmt.Errorf("parse month end balance: %w", convErr)
		}
		balances = append(balances, MonthEndBalance{Month: month, StatDate: statDate, Balance: amount})
	}
	return balances, nil
}

// ListDPDHistory loads every loan's DPD per snapshot date across the given months.
func (s *Store) ListDPDHistory(ctx context.Context, producerID string, months []time.Time) (map[DPDKey]int, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	history := make(map[DPDKey]int)
	seen := make(map[time.Time]struct{}, len(months))
	for _, m := range months {
		month := monthStart(m)
		if _, dup := seen[month]; dup {
			continue
		}
		seen[month] = struct{}{}
		if err := s.loadDPDPartition(ctx, pool, month, producerID, history); err != nil {
			return nil, err
		}
	}
	return history, nil
}

func (s *Store) loadDPDPartition(ctx context.Context, pool pgxQuerier, month time.Time, producerID string, into map[DPDKey]int) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := pool.Query(ctx, fmt.Sprintf(dpdHistorySQL, s.partitionIdent(month)), producerID)
	if err != nil {
		err = classify("dpd history", err)
		if IsNoData(err) {
			return nil
		}
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			loanID string
			date   time.Time
			dpd    int
		)
		if err := rows.Scan(&loanID, &date, &dpd); err != nil {
			return classify("scan dpd history", err)
		}
		into[DPDKey{LoanID: loanID, Date: date.Format(time.DateOnly)}] = dpd
	}
	if err := rows.Err(); err != nil {
		err = classify("dpd history", err)
		if IsNoData(err) {
			return nil
		}
		return err
	}
	return nil
}

// LoadFundingParams reads the latest spv_initial_params row; found is false when there is none.
func (s *Store) LoadFundingParams(ctx context.Context, producerID string) (FundingParams, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return FundingParams{}, false, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := pool.Query(ctx, fundingParamsSQL, producerID)
	if err != nil {
		err = classify("load funding params", err)
		if IsNoData(err) {
			return FundingParams{}, false, nil
		}
		return FundingParams{}, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := classify("load funding params", rows.Err()); err != nil && !IsNoData(err) {
			return FundingParams{}, false, err
		}
		return FundingParams{}, false, nil
	}
	rec, err := scanRecord(rows)
	if err != nil {
		return FundingParams{}, false, classify("scan funding params", err)
	}
	return fundingParamsFromRecord(producerID, rec), true, nil
}

func fundingParamsFromRecord(producerID string, rec record) FundingParams {
	marginCur := rec.dec("margin_deposit_current", "margin_deposit")
	marginReq := rec.dec("margin_deposit_required")
	if marginReq.IsZero() {
		marginReq = marginCur
	}
	guaranteeCur := rec.dec("guarantee_deposit_current", "guarantee_deposit")
	guaranteeReq := rec.dec("guarantee_deposit_required")
	if guaranteeReq.IsZero() {
		guaranteeReq = guaranteeCur
	}
	return FundingParams{
		ProducerID:               producerID,
		EffectiveDate:            rec.date("effective_date"),
		PrincipalAmount:          rec.dec("principal_amount"),
		AgreedRate:               rec.numOr(0, "priority_yield_current", "priority_yield_pct_current", "agreed_rate"),
		ProductTermMonths:        rec.numOr(0, "product_term"),
		EarlyRepaymentDiscount:   rec.numOr(0, "early_repayment_loss_rate", "early_repayment_overdue_discount"),
		PredictedDefaultRate:     rec.numOr(0, "vtg_30_plus_predicted", "vtg30_predicted_default_rate", "vtg30_plus_predicted"),
		LeverageCurrent:          rec.numOr(0, "leverage_current", "leverage_ratio_current", "coverage_current"),
		MarginDepositCurrent:     marginCur,
		MarginDepositRequired:    marginReq,
		GuaranteeDepositCurrent:  guaranteeCur,
		GuaranteeDepositRequired: guaranteeReq,
	}
}

// LoadFundingThresholds reads the producer's spv_config row, preferring its config JSON over top-level columns.
func (s *Store) LoadFundingThresholds(ctx context.Context, producerID string) (FundingThresholds, error) {
	pool, err := s.getPool()
	if err != nil {
		return FundingThresholds{}, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := pool.Query(ctx, producerConfigSQL, producerID)
	if err != nil {
		err = classify("load funding thresholds", err)
		if IsNoData(err) {
			return FundingThresholds{}, nil
		}
		return FundingThresholds{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := classify("load funding thresholds", rows.Err()); err != nil && !IsNoData(err) {
			return FundingThresholds{}, err
		}
		return FundingThresholds{}, nil
	}
	rec, err := scanRecord(rows)
	if err != nil {
		return FundingThresholds{}, classify("scan funding thresholds", err)
	}
	return thresholdsFromRecord(rec), nil
}

func thresholdsFromRecord(rec record) FundingThresholds {
	cfg := rec.jsonObject("config")
	pick := func(key string) *float64 {
		for _, src := range []record{cfg, rec} {
			if f, ok := src.num(key); ok && f != 0 {
				return &f
			}
		}
		return nil
	}
	ratio := cfg.str("senior_junior_ratio", "leverage_ratio")
	if ratio == "" {
		ratio = rec.str("senior_junior_ratio", "leverage_ratio")
	}
	return FundingThresholds{
		SeniorJuniorRatio: ratio,
		LiquidationLine:   pick("liquidation_line"),
		MarginCallLine:    pick("margin_call_line"),
		Baseline:          pick("baseline"),
		PriorityYieldPct:  pick("priority_yield_pct"),
	}
}

type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Store) partitionIdent(t time.Time) string {
	return pgx.Identifier{PartitionName(s.partitionPrefix, t)}.Sanitize()
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// emptyOnSchema turns a schema mismatch into an empty result.
func emptyOnSchema[T any](err error) ([]T, error) {
	if IsNoData(err) {
		return []T{}, nil
	}
	return nil, err
}
