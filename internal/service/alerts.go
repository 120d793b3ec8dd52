package service

import (
	"context"
	"strings"

	"producer-risk/internal/alerting"
	"producer-risk/internal/cache"
)

// dispatchAlerts notifies every refreshed producer whose coverage ratio sits
// below its margin-call line. Producers without funding data are skipped.
func (s *Service) dispatchAlerts(ctx context.Context, summary cache.RefreshSummary) {
	if !s.alertsOn || s.notifier == nil {
		return
	}

	names := map[string]string{}
	if accounts, err := s.computer.Producers(ctx); err == nil {
		for _, a := range accounts {
			names[strings.ToLower(a.ID)] = a.Name
		}
	}

	for _, id := range summary.Producers {
		res := s.GetPriorityIndicators(ctx, id)
		if res.Indicators == nil || !res.Indicators.FundingKnown {
			continue
		}
		ratio := res.Indicators.Coverage
		level := ratio.Level()
		if level != "margin_call" && level != "liquidation" {
			continue
		}

		note := alerting.Notification{
			ProducerID:        id,
			ProducerName:      names[id],
			StatDate:          ratio.Breakdown.StatDate,
			Level:             level,
			Ratio:             ratio.Current,
			MarginCallLine:    ratio.MarginCall,
			LiquidationLine:   ratio.Liquidation,
			Baseline:          ratio.Baseline,
			Value:             ratio.Breakdown.Value,
			Loan:              ratio.Breakdown.Loan,
			ReportingCurrency: res.ReportingCurrency,
			Channels:          s.channels,
			AttemptID:         summary.AttemptID,
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Str("producer_id", id).Msg("failed to dispatch coverage alert")
			continue
		}
		s.logger.Info().Str("producer_id", id).Str("level", level).Float64("ratio", ratio.Current).Msg("coverage alert dispatched")
	}
}
