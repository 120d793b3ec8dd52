package service

import (
	"encoding/json"
	"slices"
	"time"

	"producer-risk/internal/engine"
)

// Cached payloads. Every amount is in the producer's local currency.

// RiskSeries is the risk payload: one row per recent snapshot date, newest first.
type RiskSeries struct {
	Dates    []string                `json:"dates"`
	Rows     []engine.RiskMetricsRow `json:"rows"`
	Degraded []string                `json:"degraded,omitempty"`
}

// Latest returns the newest row, nil when the series is empty.
func (s RiskSeries) Latest() *engine.RiskMetricsRow {
	if len(s.Rows) == 0 {
		return nil
	}
	row := s.Rows[0]
	return &row
}

// At returns the row of a snapshot date.
func (s RiskSeries) At(date time.Time) *engine.RiskMetricsRow {
	key := date.Format(time.DateOnly)
	for i := range s.Rows {
		if s.Rows[i].StatDate == key {
			row := s.Rows[i]
			return &row
		}
	}
	return nil
}

// RevenueSeries is the revenue payload, oldest month first.
type RevenueSeries struct {
	Rows     []engine.RevenuePeriodRow `json:"rows"`
	Degraded []string                  `json:"degraded,omitempty"`
}

// CashflowPayload is the cashflow forecast at the full configured horizon,
// priced at the producer's derived collection rate.
type CashflowPayload struct {
	engine.CashflowForecast
	Degraded []string `json:"degraded,omitempty"`
}

// isEmpty reports a payload that holds nothing.
func isEmpty(payload json.RawMessage) bool {
	return len(payload) == 0 || string(payload) == "null"
}

// degradedSince returns the components marked on f before base plus those
// marked from start on, so each domain only carries its own failures.
func degradedSince(f *engine.Facts, base, start int) []string {
	if len(f.Degraded) == 0 {
		return nil
	}
	out := slices.Clone(f.Degraded[:base])
	out = append(out, f.Degraded[start:]...)
	if len(out) == 0 {
		return nil
	}
	return out
}
