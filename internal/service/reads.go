package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"producer-risk/internal/cache"
	"producer-risk/internal/engine"
	"producer-risk/internal/storage"
)

// maxMonthsAhead bounds the cashflow horizon.
const maxMonthsAhead = 12

func (s *Service) baseMeta(producerID string) Meta {
	return Meta{
		ProducerID:        strings.TrimSpace(producerID),
		Status:            StatusOK,
		ReportingCurrency: s.rates.Reporting(),
	}
}

// fillMeta copies the serving tier into meta and re-resolves the exchange
// rate so overrides apply to cached documents too.
func (s *Service) fillMeta(meta *Meta, res cache.Resolution) {
	meta.Source = Source(res.State)
	meta.Currency = res.Currency
	if meta.Currency == "" {
		meta.Currency = s.rates.Reporting()
	}
	rate := s.rates.Resolve(meta.ProducerID, res.ExchangeRate)
	meta.ExchangeRate = rate.Value
	meta.RateSource = rate.Source
	meta.LastUpdated = res.LastUpdated
	if !res.LastUpdated.IsZero() {
		meta.AgeSeconds = s.now().Sub(res.LastUpdated).Seconds()
	}
	if res.Failure != "" {
		meta.fail(StatusUpstreamUnavailable, errors.New(res.Failure))
		return
	}
	if isEmpty(res.Payload) {
		meta.Status = StatusNoData
	}
}

// resolve serves a domain payload and decodes it into out. It reports false
// when there is nothing to read.
func (s *Service) resolve(ctx context.Context, meta *Meta, domain cache.Domain, out any) (cache.Resolution, bool) {
	res, err := s.cache.Resolve(ctx, meta.ProducerID, domain)
	if err != nil {
		s.logger.Warn().Err(err).Str("producer_id", meta.ProducerID).Str("domain", string(domain)).Msg("live computation failed")
		meta.Source = SourceEmpty
		meta.fail(statusOf(err), err)
		return res, false
	}
	s.fillMeta(meta, res)
	if !meta.OK() {
		return res, false
	}
	if err := json.Unmarshal(res.Payload, out); err != nil {
		s.logger.Warn().Err(err).Str("producer_id", meta.ProducerID).Str("domain", string(domain)).Msg("payload undecodable")
		meta.fail(StatusNoData, fmt.Errorf("%w: %w", cache.ErrCacheCorrupt, err))
		return res, false
	}
	return res, true
}

// GetRiskSnapshot returns the risk row of asOf, or of the newest cached date
// when asOf is nil. A date outside the cached window is computed live unless
// the unified bundle is serving.
func (s *Service) GetRiskSnapshot(ctx context.Context, producerID string, asOf *time.Time) RiskSnapshotResult {
	out := RiskSnapshotResult{Meta: s.baseMeta(producerID), Dates: []string{}}
	row, dates := s.riskRow(ctx, &out.Meta, asOf)
	out.Dates = dates
	if row == nil {
		return out
	}
	reporting := row.MapMoney(out.money())
	out.Local, out.Reporting = row, &reporting
	return out
}

func (s *Service) riskRow(ctx context.Context, meta *Meta, asOf *time.Time) (*engine.RiskMetricsRow, []string) {
	var series RiskSeries
	res, ok := s.resolve(ctx, meta, cache.DomainRisk, &series)
	if !ok {
		return nil, []string{}
	}
	meta.degrade(series.Degraded)
	if series.Dates == nil {
		series.Dates = []string{}
	}

	if asOf == nil {
		row := series.Latest()
		if row == nil {
			meta.fail(StatusNoData, nil)
		}
		return row, series.Dates
	}
	if row := series.At(*asOf); row != nil {
		return row, series.Dates
	}
	if res.State == cache.StateUnified {
		meta.fail(StatusNoData, nil)
		return nil, series.Dates
	}
	row, err := s.liveRisk(ctx, meta, *asOf)
	if err != nil {
		meta.fail(statusOf(err), err)
		return nil, series.Dates
	}
	meta.Source = SourceLive
	meta.LastUpdated, meta.AgeSeconds = s.now(), 0
	return row, series.Dates
}

func (s *Service) liveRisk(ctx context.Context, meta *Meta, asOf time.Time) (*engine.RiskMetricsRow, error) {
	account, err := s.computer.Account(ctx, meta.ProducerID)
	if err != nil {
		return nil, err
	}
	f, err := s.calc.LoadFacts(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	row, err := s.calc.Risk(ctx, f, asOf)
	if err != nil {
		return nil, err
	}
	meta.degrade(f.Degraded)
	return &row, nil
}

// GetVintage returns one cohort of the risk row at asOf; a zero asOf means
// the newest cached date.
func (s *Service) GetVintage(ctx context.Context, producerID string, asOf time.Time, cohortMonth string) VintageResult {
	out := VintageResult{Meta: s.baseMeta(producerID)}
	if _, err := engine.ParseMonth(cohortMonth); err != nil {
		out.fail(StatusInvalid, fmt.Errorf("cohort month %q: %w", cohortMonth, err))
		return out
	}
	var date *time.Time
	if !asOf.IsZero() {
		date = &asOf
	}
	row, _ := s.riskRow(ctx, &out.Meta, date)
	if row == nil {
		return out
	}
	out.StatDate = row.StatDate
	for _, v := range row.Vintage {
		if v.DisbursementMonth == cohortMonth {
			local := v
			reporting := v.MapMoney(out.money())
			out.Local, out.Reporting = &local, &reporting
			return out
		}
	}
	out.fail(StatusNoData, nil)
	return out
}

// GetVintageCurve merges one cohort's MOB rates over every cached date.
func (s *Service) GetVintageCurve(ctx context.Context, producerID, cohortMonth string) VintageCurveResult {
	out := VintageCurveResult{Meta: s.baseMeta(producerID), Curve: engine.VintageCurve{DisbursementMonth: cohortMonth, Points: []engine.CurvePoint{}}}
	var series RiskSeries
	if _, ok := s.resolve(ctx, &out.Meta, cache.DomainRisk, &series); !ok {
		return out
	}
	out.degrade(series.Degraded)
	out.Curve = engine.AccumulateCurve(cohortMonth, series.Rows)
	if len(out.Curve.Points) == 0 {
		out.fail(StatusNoData, nil)
	}
	return out
}

// GetRevenue returns the monthly revenue series.
func (s *Service) GetRevenue(ctx context.Context, producerID string) RevenueResult {
	out := RevenueResult{
		Meta:      s.baseMeta(producerID),
		Local:     []engine.RevenuePeriodRow{},
		Reporting: []engine.RevenuePeriodRow{},
	}
	var series RevenueSeries
	if _, ok := s.resolve(ctx, &out.Meta, cache.DomainRevenue, &series); !ok {
		return out
	}
	out.degrade(series.Degraded)
	if len(series.Rows) == 0 {
		out.fail(StatusNoData, nil)
		return out
	}
	out.Local = series.Rows
	out.Reporting = engine.MapRevenue(series.Rows, out.money())
	return out
}

// GetCashflow returns the forecast over monthsAhead months (0 means the
// configured horizon) at collectionRate. A rate outside (0,1] keeps the rate
// derived from the producer's latest revenue month.
func (s *Service) GetCashflow(ctx context.Context, producerID string, monthsAhead int, collectionRate float64) CashflowResult {
	out := CashflowResult{Meta: s.baseMeta(producerID)}
	var payload CashflowPayload
	if _, ok := s.resolve(ctx, &out.Meta, cache.DomainCashflow, &payload); !ok {
		return out
	}
	out.degrade(payload.Degraded)

	months := monthsAhead
	if months <= 0 {
		months = s.monthsAhead
	}
	months = min(months, maxMonthsAhead)
	rate := payload.CollectionRate
	if collectionRate > 0 && collectionRate <= 1 {
		rate = collectionRate
	}

	local := engine.Reprice(payload.CashflowForecast, months, rate)
	reporting := local.MapMoney(out.money())
	out.Local, out.Reporting = &local, &reporting
	if len(local.Points) == 0 && out.Status == StatusOK {
		out.Status = StatusNoData
	}
	return out
}

// fundingInputs is the memoised funding structure of a producer.
type fundingInputs struct {
	params     storage.FundingParams
	known      bool
	thresholds storage.FundingThresholds
}

func (s *Service) loadFunding(ctx context.Context, producerID string) (fundingInputs, error) {
	return s.funding.GetOrLoad(strings.ToLower(producerID), func() (fundingInputs, error) {
		account, err := s.computer.Account(ctx, producerID)
		if err != nil {
			return fundingInputs{}, err
		}
		params, known, err := s.src.LoadFundingParams(ctx, account.ID)
		if err != nil && !storage.IsNoData(err) {
			return fundingInputs{}, fmt.Errorf("load funding params: %w", err)
		}
		thresholds, err := s.src.LoadFundingThresholds(ctx, account.ID)
		if err != nil && !storage.IsNoData(err) {
			return fundingInputs{}, fmt.Errorf("load funding thresholds: %w", err)
		}
		return fundingInputs{params: params, known: known, thresholds: thresholds}, nil
	})
}

// GetPriorityIndicators combines the newest risk row with the producer's
// funding structure. Missing inputs leave the affected indicators empty.
func (s *Service) GetPriorityIndicators(ctx context.Context, producerID string) PriorityResult {
	out := PriorityResult{Meta: s.baseMeta(producerID)}
	risk, _ := s.riskRow(ctx, &out.Meta, nil)
	if out.Status == StatusUpstreamUnavailable && out.Source == SourceEmpty {
		return out
	}
	if !out.OK() {
		out.Status, out.Error = StatusOK, ""
		out.degrade([]string{string(cache.DomainRisk)})
	}

	funding, err := s.loadFunding(ctx, out.ProducerID)
	if err != nil {
		s.logger.Warn().Err(err).Str("producer_id", out.ProducerID).Str("op", "load_funding").Msg("funding structure unavailable")
		if statusOf(err) == StatusNoData && risk == nil {
			out.fail(StatusNoData, err)
			return out
		}
		out.degrade([]string{"funding"})
		funding = fundingInputs{}
	}

	if out.ExchangeRate <= 0 {
		rate := s.rates.Resolve(out.ProducerID, 0)
		out.ExchangeRate, out.RateSource = rate.Value, rate.Source
	}
	ind := s.coverage.Indicators(risk, funding.params, funding.known, funding.thresholds, out.ExchangeRate)
	out.Indicators = &ind
	return out
}

// ListLoans pages through the loan drill-down of one snapshot date; a nil
// asOf means the newest snapshot on or before today. It always reads live.
func (s *Service) ListLoans(ctx context.Context, producerID string, asOf *time.Time, filter engine.LoanFilter, page, perPage int) LoansResult {
	out := LoansResult{Meta: s.baseMeta(producerID)}
	out.Source = SourceLive
	if err := filter.Validate(); err != nil {
		out.fail(StatusInvalid, err)
		return out
	}

	account, err := s.computer.Account(ctx, producerID)
	if err != nil {
		out.Source = SourceEmpty
		out.fail(statusOf(err), err)
		return out
	}
	out.ProducerID = account.ID
	out.Currency = account.Currency
	rate := s.rates.Resolve(account.ID, account.ExchangeRate)
	out.ExchangeRate, out.RateSource = rate.Value, rate.Source

	f, err := s.calc.LoadFacts(ctx, account.ID)
	if err != nil {
		out.Source = SourceEmpty
		out.fail(statusOf(err), err)
		return out
	}

	var date time.Time
	if asOf != nil {
		date = *asOf
	} else {
		latest, ok, err := s.calc.LatestSnapshotDate(ctx, account.ID, s.calc.Today())
		if err != nil {
			out.fail(statusOf(err), err)
			return out
		}
		if !ok {
			out.fail(StatusNoData, nil)
			return out
		}
		date = latest
	}

	local, err := s.calc.Loans(ctx, f, date, filter, page, perPage)
	if err != nil {
		out.fail(statusOf(err), err)
		return out
	}
	out.degrade(f.Degraded)
	reporting := local.MapMoney(out.money())
	out.Local, out.Reporting = &local, &reporting
	out.LastUpdated = s.now()
	return out
}

// PortfolioTotals sums the newest risk row of every producer in reporting currency.
func (s *Service) PortfolioTotals(ctx context.Context) PortfolioTotals {
	out := PortfolioTotals{
		ReportingCurrency:      s.rates.Reporting(),
		Status:                 StatusOK,
		CumulativeDisbursement: decimal.Zero,
		Producers:              []ProducerTotal{},
	}
	accounts, err := s.computer.Producers(ctx)
	if err != nil {
		out.Status, out.Error = statusOf(err), err.Error()
		return out
	}
	for _, account := range accounts {
		res := s.GetRiskSnapshot(ctx, account.ID, nil)
		total := ProducerTotal{
			ProducerID:             account.ID,
			Name:                   account.Name,
			CumulativeDisbursement: decimal.Zero,
			Status:                 res.Status,
		}
		if res.Reporting != nil {
			total.StatDate = res.Reporting.StatDate
			total.CumulativeDisbursement = res.Reporting.CumulativeDisbursement
			total.ActiveLoans = res.Reporting.ActiveLoans
			total.ActiveBorrowers = res.Reporting.ActiveBorrowers

			out.CumulativeDisbursement = out.CumulativeDisbursement.Add(total.CumulativeDisbursement)
			out.ActiveLoans += total.ActiveLoans
			out.ActiveBorrowers += total.ActiveBorrowers
		} else if out.Status == StatusOK {
			out.Status = StatusDegraded
		}
		out.Producers = append(out.Producers, total)
	}
	out.ProducerCount = len(accounts)
	return out
}
