package service

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"producer-risk/internal/cache"
	"producer-risk/internal/coverage"
	"producer-risk/internal/currency"
	"producer-risk/internal/engine"
	"producer-risk/internal/storage"
)

// Source tags where a result was served from.
type Source string

const (
	SourceUnified Source = Source(cache.StateUnified)
	SourceDomain  Source = Source(cache.StateDomain)
	SourceLive    Source = Source(cache.StateLive)
	SourceEmpty   Source = "empty"
)

// Status tells callers how complete a result is.
type Status string

const (
	StatusOK                  Status = "ok"
	StatusNoData              Status = "no_data"
	StatusUpstreamUnavailable Status = "upstream_unavailable"
	StatusDegraded            Status = "degraded"
	StatusInvalid             Status = "invalid_request"
)

// Meta accompanies every result.
type Meta struct {
	ProducerID        string              `json:"producer_id"`
	Source            Source              `json:"source"`
	Status            Status              `json:"status"`
	Error             string              `json:"error,omitempty"`
	Degraded          []string            `json:"degraded,omitempty"`
	Currency          string              `json:"currency"`
	ReportingCurrency string              `json:"reporting_currency"`
	ExchangeRate      float64             `json:"exchange_rate"`
	RateSource        currency.RateSource `json:"rate_source,omitempty"`
	LastUpdated       time.Time           `json:"last_updated,omitzero"`
	AgeSeconds        float64             `json:"age_seconds"`
}

// OK reports whether the result carries data.
func (m Meta) OK() bool {
	return m.Status == StatusOK || m.Status == StatusDegraded
}

func (m *Meta) fail(status Status, err error) {
	m.Status = status
	if err != nil {
		m.Error = err.Error()
	}
}

func (m *Meta) degrade(components []string) {
	if len(components) == 0 {
		return
	}
	m.Degraded = append(m.Degraded, components...)
	if m.Status == StatusOK {
		m.Status = StatusDegraded
	}
}

func (m Meta) money() engine.MoneyFunc {
	return currency.Converter(m.ExchangeRate)
}

// statusOf maps an error to the status reported to callers.
func statusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrUnknownProducer), storage.IsNoData(err), errors.Is(err, engine.ErrNoData):
		return StatusNoData
	default:
		return StatusUpstreamUnavailable
	}
}

// RiskSnapshotResult is one risk row in both currencies.
type RiskSnapshotResult struct {
	Meta
	Dates     []string               `json:"dates"`
	Local     *engine.RiskMetricsRow `json:"local"`
	Reporting *engine.RiskMetricsRow `json:"reporting"`
}

// VintageResult is one cohort row in both currencies.
type VintageResult struct {
	Meta
	StatDate  string                   `json:"stat_date,omitempty"`
	Local     *engine.VintageCohortRow `json:"local"`
	Reporting *engine.VintageCohortRow `json:"reporting"`
}

// VintageCurveResult is a cohort curve merged over the cached dates.
type VintageCurveResult struct {
	Meta
	Curve engine.VintageCurve `json:"curve"`
}

// RevenueResult is the revenue series in both currencies.
type RevenueResult struct {
	Meta
	Local     []engine.RevenuePeriodRow `json:"local"`
	Reporting []engine.RevenuePeriodRow `json:"reporting"`
}

// CashflowResult is the forecast at the requested horizon and rate.
type CashflowResult struct {
	Meta
	Local     *engine.CashflowForecast `json:"local"`
	Reporting *engine.CashflowForecast `json:"reporting"`
}

// PriorityResult carries the funding indicators, amounts in reporting currency.
type PriorityResult struct {
	Meta
	Indicators *coverage.Indicators `json:"indicators"`
}

// DomainResult is a freshly recomputed domain payload in local currency.
type DomainResult struct {
	Meta
	Domain  cache.Domain    `json:"domain"`
	Payload json.RawMessage `json:"payload"`
}

// LoansResult is a drill-down page in both currencies.
type LoansResult struct {
	Meta
	Local     *engine.LoanPage `json:"local"`
	Reporting *engine.LoanPage `json:"reporting"`
}

// ProducerTotal is one producer's contribution to the portfolio totals.
type ProducerTotal struct {
	ProducerID             string          `json:"producer_id"`
	Name                   string          `json:"name"`
	StatDate               string          `json:"stat_date,omitempty"`
	CumulativeDisbursement decimal.Decimal `json:"cumulative_disbursement"`
	ActiveLoans            int             `json:"active_loans"`
	ActiveBorrowers        int             `json:"active_borrowers"`
	Status                 Status          `json:"status"`
}

// PortfolioTotals sums the latest risk rows of every producer, in reporting currency.
type PortfolioTotals struct {
	ReportingCurrency      string          `json:"reporting_currency"`
	Status                 Status          `json:"status"`
	Error                  string          `json:"error,omitempty"`
	ProducerCount          int             `json:"producer_count"`
	CumulativeDisbursement decimal.Decimal `json:"cumulative_disbursement"`
	ActiveLoans            int             `json:"active_loans"`
	ActiveBorrowers        int             `json:"active_borrowers"`
	Producers              []ProducerTotal `json:"producers"`
}

// CacheStatusEntry is the resolved state of one producer × domain.
type CacheStatusEntry struct {
	ProducerID  string       `json:"producer_id"`
	Domain      cache.Domain `json:"domain"`
	State       cache.State  `json:"state"`
	LastUpdated time.Time    `json:"last_updated,omitzero"`
	AgeSeconds  float64      `json:"age_seconds"`
}

// CacheStatus reports the cache tiers and the latest background refresh.
type CacheStatus struct {
	Status      Status             `json:"status"`
	Error       string             `json:"error,omitempty"`
	Entries     []CacheStatusEntry `json:"entries"`
	LastAttempt *cache.Attempt     `json:"last_attempt,omitempty"`
}
