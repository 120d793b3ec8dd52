package currency

import (
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// RateSource tells where a resolved exchange rate came from.
type RateSource string

const (
	SourceEnv     RateSource = "env"
	SourceConfig  RateSource = "config"
	SourceStored  RateSource = "stored"
	SourceDefault RateSource = "default"
)

// Rate is the number of local currency units per reporting unit.
type Rate struct {
	Value  float64    `json:"value"`
	Source RateSource `json:"source"`
}

// Normalizer converts between a producer's local currency and the reporting currency.
type Normalizer struct {
	reporting string
	overrides map[string]float64
	lookupEnv func(string) (string, bool)
}

// New builds a Normalizer. Override keys are matched case-insensitively.
func New(reporting string, overrides map[string]float64) *Normalizer {
	if reporting == "" {
		reporting = "USD"
	}
	normalized := make(map[string]float64, len(overrides))
	for id, rate := range overrides {
		normalized[strings.ToLower(id)] = rate
	}
	return &Normalizer{
		reporting: strings.ToUpper(reporting),
		overrides: normalized,
		lookupEnv: os.LookupEnv,
	}
}

// WithEnv replaces the environment lookup; used by tests.
func (n *Normalizer) WithEnv(lookup func(string) (string, bool)) *Normalizer {
	n.lookupEnv = lookup
	return n
}

// Reporting returns the reporting currency code.
func (n *Normalizer) Reporting() string {
	return n.reporting
}

// EnvKey is the environment variable that overrides a producer's rate.
func EnvKey(producerID string) string {
	return strings.ToUpper(producerID) + "_EXCHANGE_RATE"
}

// Resolve picks the effective rate for a producer: environment, then config
// overrides, then the stored rate. Non-positive values are skipped; the final
// fallback is 1.
func (n *Normalizer) Resolve(producerID string, stored float64) Rate {
	if n.lookupEnv != nil {
		if raw, ok := n.lookupEnv(EnvKey(producerID)); ok {
			if v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil && v > 0 {
				return Rate{Value: v, Source: SourceEnv}
			}
		}
	}
	if v, ok := n.overrides[strings.ToLower(producerID)]; ok && v > 0 {
		return Rate{Value: v, Source: SourceConfig}
	}
	if stored > 0 {
		return Rate{Value: stored, Source: SourceStored}
	}
	return Rate{Value: 1, Source: SourceDefault}
}

// ToReporting divides a local amount by the rate. A non-positive rate leaves the amount unchanged.
func ToReporting(local decimal.Decimal, rate float64) decimal.Decimal {
	if rate <= 0 {
		return local
	}
	return local.Div(decimal.NewFromFloat(rate))
}

// ToLocal multiplies a reporting amount by the rate.
func ToLocal(reporting decimal.Decimal, rate float64) decimal.Decimal {
	if rate <= 0 {
		return reporting
	}
	return reporting.Mul(decimal.NewFromFloat(rate))
}

// Converter returns a reusable local to reporting conversion.
func Converter(rate float64) func(decimal.Decimal) decimal.Decimal {
	return func(local decimal.Decimal) decimal.Decimal {
		return ToReporting(local, rate).Round(2)
	}
}
