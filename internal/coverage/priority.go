package coverage

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"producer-risk/internal/engine"
	"producer-risk/internal/storage"
)

// Defaults applies when a producer carries no thresholds of its own.
type Defaults struct {
	LiquidationLine     float64
	MarginCallLine      float64
	Baseline            float64
	PriorityYieldTarget float64
	LeverageRatio       string
}

// DefaultDefaults mirrors the shipped configuration.
var DefaultDefaults = Defaults{
	LiquidationLine:     1.02,
	MarginCallLine:      1.15,
	Baseline:            1.43,
	PriorityYieldTarget: 0.15,
	LeverageRatio:       "5:1",
}

// Leverage compares current senior leverage to the senior:junior limit.
type Leverage struct {
	Current *float64 `json:"current"`
	Limit   float64  `json:"limit"`
	Unit    string   `json:"unit"`
}

// Yield is the priority tranche's yield against its target.
type Yield struct {
	Current float64 `json:"current"`
	Target  float64 `json:"target"`
	Unit    string  `json:"unit"`
}

// Ratio is the coverage ratio with its trigger lines.
type Ratio struct {
	Current     float64   `json:"current"`
	Liquidation float64   `json:"liquidation"`
	MarginCall  float64   `json:"margin_call"`
	Baseline    float64   `json:"baseline"`
	Unit        string    `json:"unit"`
	Breakdown   Breakdown `json:"breakdown"`
}

// Level classifies the ratio against its lines.
func (r Ratio) Level() string {
	switch {
	case r.Breakdown.Undefined:
		return "undefined"
	case r.Current < r.Liquidation:
		return "liquidation"
	case r.Current < r.MarginCall:
		return "margin_call"
	default:
		return "ok"
	}
}

// Deposit is a held/required deposit pair.
type Deposit struct {
	Current  decimal.Decimal `json:"current"`
	Required decimal.Decimal `json:"required"`
	Currency string          `json:"currency"`
}

// Indicators is the funding-structure health summary of a producer.
type Indicators struct {
	PriorityPrincipal *decimal.Decimal `json:"priority_principal"`
	Leverage          Leverage         `json:"leverage_ratio"`
	PriorityYield     *Yield           `json:"priority_yield"`
	Coverage          Ratio            `json:"coverage_ratio"`
	MarginDeposit     *Deposit         `json:"margin_deposit"`
	GuaranteeDeposit  *Deposit         `json:"guarantee_deposit"`
	// FundingKnown is false when no funding parameters were found.
	FundingKnown bool `json:"funding_known"`
}

// Calculator derives priority indicators.
type Calculator struct {
	defaults  Defaults
	reporting string
}

// NewCalculator returns a Calculator with fallback thresholds.
func NewCalculator(defaults Defaults, reportingCurrency string) *Calculator {
	if defaults.LiquidationLine <= 0 {
		defaults.LiquidationLine = DefaultDefaults.LiquidationLine
	}
	if defaults.MarginCallLine <= 0 {
		defaults.MarginCallLine = DefaultDefaults.MarginCallLine
	}
	if defaults.Baseline <= 0 {
		defaults.Baseline = DefaultDefaults.Baseline
	}
	if defaults.PriorityYieldTarget <= 0 {
		defaults.PriorityYieldTarget = DefaultDefaults.PriorityYieldTarget
	}
	if strings.TrimSpace(defaults.LeverageRatio) == "" {
		defaults.LeverageRatio = DefaultDefaults.LeverageRatio
	}
	return &Calculator{defaults: defaults, reporting: reportingCurrency}
}

// Indicators computes the indicators from the latest risk row (local
// currency, may be nil) and the producer's funding parameters.
func (c *Calculator) Indicators(risk *engine.RiskMetricsRow, funding storage.FundingParams, fundingKnown bool, thresholds storage.FundingThresholds, exchangeRate float64) Indicators {
	liq := pick(thresholds.LiquidationLine, c.defaults.LiquidationLine)
	mc := pick(thresholds.MarginCallLine, c.defaults.MarginCallLine)
	base := pick(thresholds.Baseline, c.defaults.Baseline)

	out := Indicators{FundingKnown: fundingKnown}

	ratioStr := thresholds.SeniorJuniorRatio
	if strings.TrimSpace(ratioStr) == "" {
		ratioStr = c.defaults.LeverageRatio
	}
	out.Leverage = Leverage{Limit: ParseLeverageLimit(ratioStr), Unit: "x"}
	if funding.LeverageCurrent > 0 {
		current := math.Round(funding.LeverageCurrent*10) / 10
		out.Leverage.Current = &current
	}

	breakdown := Compute(Input{Risk: risk, Funding: funding, ExchangeRate: exchangeRate, Baseline: base})
	out.Coverage = Ratio{
		Current:     breakdown.Ratio,
		Liquidation: liq,
		MarginCall:  mc,
		Baseline:    base,
		Unit:        "x",
		Breakdown:   breakdown,
	}

	if !fundingKnown {
		return out
	}

	if funding.PrincipalAmount.IsPositive() {
		p := funding.PrincipalAmount
		out.PriorityPrincipal = &p
	}
	target := c.defaults.PriorityYieldTarget
	if thresholds.PriorityYieldPct != nil && *thresholds.PriorityYieldPct > 0 {
		target = normalizePct(*thresholds.PriorityYieldPct)
	}
	if current := normalizePct(funding.AgreedRate); current > 0 {
		out.PriorityYield = &Yield{Current: current, Target: target, Unit: "%"}
	}
	out.MarginDeposit = c.deposit(funding.MarginDepositCurrent, funding.MarginDepositRequired)
	out.GuaranteeDeposit = c.deposit(funding.GuaranteeDepositCurrent, funding.GuaranteeDepositRequired)
	return out
}

func (c *Calculator) deposit(current, required decimal.Decimal) *Deposit {
	if !current.IsPositive() && !required.IsPositive() {
		return nil
	}
	if !required.IsPositive() {
		required = current
	}
	return &Deposit{Current: current, Required: required, Currency: c.reporting}
}

// ParseLeverageLimit turns a senior:junior ratio such as "7:3" into 2.3.
// Malformed input yields 5.
func ParseLeverageLimit(ratio string) float64 {
	s := strings.ReplaceAll(strings.TrimSpace(ratio), "：", ":")
	parts := strings.Split(s, ":")
	if len(parts) >= 2 {
		senior, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		junior, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 == nil && err2 == nil && junior > 0 {
			return math.Round(senior/junior*10) / 10
		}
	}
	return 5
}

func pick(v *float64, fallback float64) float64 {
	if v != nil && *v > 0 {
		return *v
	}
	return fallback
}
