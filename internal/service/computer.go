package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"producer-risk/internal/cache"
	"producer-risk/internal/currency"
	"producer-risk/internal/engine"
	"producer-risk/internal/storage"
)

// ErrUnknownProducer is returned for ids absent from the producer accounts.
var ErrUnknownProducer = errors.New("service: unknown producer")

// componentSnapshots marks a risk series with missing snapshot dates.
const componentSnapshots = "snapshots"

// computer builds cache payloads from live facts.
type computer struct {
	src         storage.FactSource
	calc        *engine.Calculator
	rates       *currency.Normalizer
	riskDays    int
	monthsAhead int
	defaultRate float64
	logger      zerolog.Logger
}

var _ cache.Computer = (*computer)(nil)

// Producers lists the producer accounts with their effective exchange rates.
func (c *computer) Producers(ctx context.Context) ([]storage.ProducerAccount, error) {
	accounts, err := c.src.ListProducers(ctx)
	if err != nil {
		if storage.IsNoData(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list producers: %w", err)
	}
	for i := range accounts {
		accounts[i] = c.effective(accounts[i])
	}
	return accounts, nil
}

// Account finds one producer, matching the id case-insensitively.
func (c *computer) Account(ctx context.Context, producerID string) (storage.ProducerAccount, error) {
	accounts, err := c.Producers(ctx)
	if err != nil {
		return storage.ProducerAccount{}, err
	}
	for _, a := range accounts {
		if strings.EqualFold(a.ID, strings.TrimSpace(producerID)) {
			return a, nil
		}
	}
	return storage.ProducerAccount{}, fmt.Errorf("%w: %s", ErrUnknownProducer, producerID)
}

func (c *computer) effective(a storage.ProducerAccount) storage.ProducerAccount {
	a.ExchangeRate = c.rates.Resolve(a.ID, a.ExchangeRate).Value
	if a.Currency == "" {
		a.Currency = c.rates.Reporting()
	}
	return a
}

// ComputeDomain computes a single domain payload.
func (c *computer) ComputeDomain(ctx context.Context, account storage.ProducerAccount, domain cache.Domain) (json.RawMessage, error) {
	f, err := c.calc.LoadFacts(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	base := len(f.Degraded)

	var payload any
	switch domain {
	case cache.DomainRisk:
		payload, err = c.risk(ctx, f, base)
	case cache.DomainRevenue:
		payload = c.revenue(ctx, f, base)
	case cache.DomainCashflow:
		rev := c.revenue(ctx, f, base)
		payload, err = c.cashflow(ctx, f, base, engine.LatestCollectionRate(rev.Rows, c.defaultRate))
	default:
		return nil, fmt.Errorf("unknown domain %q", domain)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(payload)
}

// ComputeAll loads the facts once and computes every domain. Only a loan read
// failure fails the producer; a failing domain is stored null with its error
// recorded in the entry.
func (c *computer) ComputeAll(ctx context.Context, account storage.ProducerAccount) (cache.ProducerEntry, error) {
	f, err := c.calc.LoadFacts(ctx, account.ID)
	if err != nil {
		return cache.ProducerEntry{}, err
	}
	base := len(f.Degraded)
	logger := c.logger.With().Str("producer_id", account.ID).Logger()

	entry := cache.ProducerEntry{Currency: account.Currency, ExchangeRate: account.ExchangeRate}

	risk, err := c.risk(ctx, f, base)
	if err := storeDomain(&entry, cache.DomainRisk, risk, err, logger); err != nil {
		return cache.ProducerEntry{}, err
	}

	rev := c.revenue(ctx, f, base)
	if err := storeDomain(&entry, cache.DomainRevenue, rev, nil, logger); err != nil {
		return cache.ProducerEntry{}, err
	}

	flow, err := c.cashflow(ctx, f, base, engine.LatestCollectionRate(rev.Rows, c.defaultRate))
	if err := storeDomain(&entry, cache.DomainCashflow, flow, err, logger); err != nil {
		return cache.ProducerEntry{}, err
	}
	return entry, nil
}

// storeDomain encodes v as the domain payload of entry. A no-data computeErr stores
// null; any other computeErr is recorded as the domain's failure.
func storeDomain(entry *cache.ProducerEntry, domain cache.Domain, v any, computeErr error, logger zerolog.Logger) error {
	if computeErr != nil {
		if statusOf(computeErr) == StatusNoData {
			entry.SetPayload(domain, json.RawMessage("null"))
			return nil
		}
		logger.Warn().Err(computeErr).Str("domain", string(domain)).Msg("domain computation failed, storing empty payload")
		entry.Fail(domain, computeErr)
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", domain, err)
	}
	entry.SetPayload(domain, data)
	return nil
}

// risk aggregates the most recent snapshot dates. A date whose snapshot
// cannot be read is skipped and the series is marked degraded.
func (c *computer) risk(ctx context.Context, f *engine.Facts, base int) (RiskSeries, error) {
	start := len(f.Degraded)
	dates, err := c.calc.SnapshotDates(ctx, f.ProducerID, c.riskDays)
	if err != nil {
		if !storage.IsNoData(err) {
			return RiskSeries{}, err
		}
		dates = nil
	}

	series := RiskSeries{Dates: []string{}, Rows: []engine.RiskMetricsRow{}}
	for _, date := range dates {
		row, err := c.calc.Risk(ctx, f, date)
		if err != nil {
			if errors.Is(err, engine.ErrNoData) || storage.IsNoData(err) {
				continue
			}
			f.MarkDegraded(componentSnapshots)
			c.logger.Warn().Str("producer_id", f.ProducerID).Str("op", "risk").
				Str("stat_date", date.Format(time.DateOnly)).Err(err).Msg("snapshot skipped")
			continue
		}
		series.Dates = append(series.Dates, row.StatDate)
		series.Rows = append(series.Rows, row)
	}
	series.Degraded = degradedSince(f, base, start)
	return series, nil
}

func (c *computer) revenue(ctx context.Context, f *engine.Facts, base int) RevenueSeries {
	start := len(f.Degraded)
	rows := c.calc.Revenue(ctx, f)
	if rows == nil {
		rows = []engine.RevenuePeriodRow{}
	}
	return RevenueSeries{Rows: rows, Degraded: degradedSince(f, base, start)}
}

func (c *computer) cashflow(ctx context.Context, f *engine.Facts, base int, rate float64) (CashflowPayload, error) {
	start := len(f.Degraded)
	forecast, err := c.calc.Cashflow(ctx, f, c.monthsAhead, rate)
	if err != nil {
		return CashflowPayload{}, err
	}
	return CashflowPayload{CashflowForecast: forecast, Degraded: degradedSince(f, base, start)}, nil
}
