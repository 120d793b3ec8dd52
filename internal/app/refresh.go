package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"producer-risk/internal/cache"
	"producer-risk/internal/service"
)

// Refresh recomputes the cache. With no producer it runs a full refresh that
// rewrites the unified bundle; with a producer it rewrites only that
// producer's per-domain documents.
func (a *App) Refresh(ctx context.Context, opts RefreshOptions) error {
	svc, closer, err := a.newService(ctx)
	if err != nil {
		return err
	}
	defer closer()

	producer := strings.TrimSpace(opts.ProducerID)
	if producer == "" {
		if opts.Domain != "" {
			return fmt.Errorf("--domain requires --producer")
		}
		summary, err := svc.RefreshAll(ctx)
		if err != nil {
			return fmt.Errorf("refresh all: %w", err)
		}
		a.Logger.Info().Str("attempt_id", summary.AttemptID).Int("producer_count", summary.ProducerCount).
			Strs("failed", summary.Failed).Strs("partial", summary.Partial).Msg("full refresh complete")
		return a.printJSON(summary)
	}

	domains := cache.Domains
	if opts.Domain != "" {
		d, err := cache.ParseDomain(opts.Domain)
		if err != nil {
			return err
		}
		domains = []cache.Domain{d}
	}

	results := make([]service.DomainResult, 0, len(domains))
	failed := 0
	for _, d := range domains {
		res := svc.RefreshDomain(ctx, producer, d)
		if !res.OK() && res.Status != service.StatusNoData {
			failed++
		}
		res.Payload = nil
		results = append(results, res)
	}
	if err := a.printJSON(results); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d domain refreshes failed", failed)
	}
	return nil
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
