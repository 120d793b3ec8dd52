package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"producer-risk/internal/storage"
)

// Degraded component names.
const (
	ComponentRepayments = "repayments"
	ComponentRatings    = "customer_ratings"
	ComponentDPDHistory = "dpd_history"
	ComponentBalances   = "month_end_balances"
)

// Calculator runs the engines against a fact source.
type Calculator struct {
	src       storage.FactSource
	logger    zerolog.Logger
	proxyRate float64
	now       func() time.Time
}

// CalculatorOption customises a Calculator.
type CalculatorOption func(*Calculator)

// WithClock overrides the wall clock used for "today".
func WithClock(now func() time.Time) CalculatorOption {
	return func(c *Calculator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCalculator builds a Calculator. proxyRate is the collection rate used when nothing was due.
func NewCalculator(src storage.FactSource, logger zerolog.Logger, proxyRate float64, opts ...CalculatorOption) *Calculator {
	c := &Calculator{
		src:       src,
		logger:    logger.With().Str("component", "engine").Logger(),
		proxyRate: proxyRate,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Today returns the calculator's current calendar day.
func (c *Calculator) Today() time.Time {
	return dayOf(c.now())
}

// LoadFacts reads the loans of a producer plus repayments and ratings. Only a
// loan read failure is returned; the other components degrade.
func (c *Calculator) LoadFacts(ctx context.Context, producerID string) (*Facts, error) {
	loans, err := c.src.ListLoans(ctx, producerID)
	if err != nil {
		if !storage.IsNoData(err) {
			return nil, fmt.Errorf("load loans: %w", err)
		}
		c.logger.Debug().Str("producer_id", producerID).Err(err).Msg("loan table unavailable, treating as empty")
		loans = nil
	}

	var degraded []string
	repayments, err := c.src.ListRepayments(ctx, producerID)
	if err != nil {
		repayments = nil
		if !storage.IsNoData(err) {
			degraded = append(degraded, ComponentRepayments)
			c.logger.Warn().Str("producer_id", producerID).Str("op", "list_repayments").Err(err).Msg("repayments unavailable")
		}
	}
	ratings, err := c.src.ListCustomerRatings(ctx, producerID)
	if err != nil {
		ratings = nil
		if !storage.IsNoData(err) {
			degraded = append(degraded, ComponentRatings)
			c.logger.Warn().Str("producer_id", producerID).Str("op", "list_customer_ratings").Err(err).Msg("customer ratings unavailable")
		}
	}

	f := NewFacts(producerID, loans, repayments, ratings)
	for _, d := range degraded {
		f.MarkDegraded(d)
	}
	return f, nil
}

// SnapshotDates returns up to limit snapshot dates, newest first.
func (c *Calculator) SnapshotDates(ctx context.Context, producerID string, limit int) ([]time.Time, error) {
	dates, err := c.src.ListSnapshotDates(ctx, producerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshot dates: %w", err)
	}
	return dates, nil
}

// LatestSnapshotDate finds the newest snapshot date on or before onOrBefore.
func (c *Calculator) LatestSnapshotDate(ctx context.Context, producerID string, onOrBefore time.Time) (time.Time, bool, error) {
	d, ok, err := c.src.LatestSnapshotDate(ctx, producerID, onOrBefore)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest snapshot date: %w", err)
	}
	return d, ok, nil
}

// Risk computes the full risk row for one date, including the collections waterfall.
func (c *Calculator) Risk(ctx context.Context, f *Facts, asOf time.Time) (RiskMetricsRow, error) {
	snapshot, err := c.src.ListSnapshot(ctx, f.ProducerID, asOf)
	if err != nil {
		return RiskMetricsRow{}, fmt.Errorf("list snapshot: %w", err)
	}
	row, err := Aggregate(f, asOf, snapshot)
	if err != nil {
		return RiskMetricsRow{}, err
	}

	row.Collections = BuildCollections(f, openRows(snapshot), c.dpdHistory(ctx, f))
	return row, nil
}

// dpdHistory loads the DPD history for the repayment months of f once.
// A failed load is remembered so later dates skip the source too.
func (c *Calculator) dpdHistory(ctx context.Context, f *Facts) map[storage.DPDKey]int {
	if f.dpdLoaded {
		return f.dpdHistory
	}
	f.dpdLoaded = true
	history, err := c.src.ListDPDHistory(ctx, f.ProducerID, RepaymentMonths(f))
	if err != nil {
		f.MarkDegraded(ComponentDPDHistory)
		c.logger.Warn().Str("producer_id", f.ProducerID).Str("op", "list_dpd_history").Err(err).Msg("recoveries omitted from waterfall")
		return nil
	}
	f.dpdHistory = history
	return history
}

// Revenue computes the monthly revenue series.
func (c *Calculator) Revenue(ctx context.Context, f *Facts) []RevenuePeriodRow {
	balances, err := c.src.ListMonthEndBalances(ctx, f.ProducerID)
	if err != nil {
		f.MarkDegraded(ComponentBalances)
		c.logger.Warn().Str("producer_id", f.ProducerID).Str("op", "list_month_end_balances").Err(err).Msg("outstanding balances unavailable")
		balances = nil
	}
	return BuildRevenue(f, balances, c.proxyRate)
}

// Cashflow projects inflows from the newest snapshot on or before today.
func (c *Calculator) Cashflow(ctx context.Context, f *Facts, monthsAhead int, rate float64) (CashflowForecast, error) {
	today := c.Today()
	asOf, ok, err := c.LatestSnapshotDate(ctx, f.ProducerID, today)
	if err != nil {
		return CashflowForecast{}, err
	}
	if !ok {
		return BuildCashflow(f, time.Time{}, today, nil, monthsAhead, rate), nil
	}
	snapshot, err := c.src.ListSnapshot(ctx, f.ProducerID, asOf)
	if err != nil {
		return CashflowForecast{}, fmt.Errorf("list snapshot: %w", err)
	}
	return BuildCashflow(f, asOf, today, openRows(snapshot), monthsAhead, rate), nil
}

// Loans pages through the drill-down for one snapshot date.
func (c *Calculator) Loans(ctx context.Context, f *Facts, asOf time.Time, filter LoanFilter, page, perPage int) (LoanPage, error) {
	snapshot, err := c.src.ListSnapshot(ctx, f.ProducerID, asOf)
	if err != nil {
		return LoanPage{}, fmt.Errorf("list snapshot: %w", err)
	}
	return ListLoans(f, asOf, snapshot, filter, page, perPage), nil
}
