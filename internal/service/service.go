package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"producer-risk/internal/alerting"
	"producer-risk/internal/cache"
	"producer-risk/internal/config"
	"producer-risk/internal/coverage"
	"producer-risk/internal/currency"
	"producer-risk/internal/directory"
	"producer-risk/internal/engine"
	"producer-risk/internal/scheduler"
	"producer-risk/internal/storage"
)

// DirectoryClient reads the external producer directory.
type DirectoryClient interface {
	Fetch(ctx context.Context) directory.Result
}

// Service exposes the caller-facing risk operations over the cache tiers.
type Service struct {
	src      storage.FactSource
	calc     *engine.Calculator
	computer *computer
	cache    *cache.Manager
	rates    *currency.Normalizer
	coverage *coverage.Calculator
	funding  *cache.TTL[string, fundingInputs]

	scheduler *scheduler.Scheduler
	directory DirectoryClient
	notifier  alerting.Notifier
	logger    zerolog.Logger
	now       func() time.Time

	monthsAhead int
	alertsOn    bool
	channels    []string
	locker      storage.AdvisoryLocker
	lockKey     int64
}

// Option customises a Service.
type Option func(*options)

type options struct {
	scheduler *scheduler.Scheduler
	directory DirectoryClient
	notifier  alerting.Notifier
	now       func() time.Time
}

// WithScheduler enables Run.
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithDirectory sets the producer directory client.
func WithDirectory(d DirectoryClient) Option {
	return func(o *options) { o.directory = d }
}

// WithNotifier sets where coverage alerts go.
func WithNotifier(n alerting.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithClock overrides the wall clock used by the engines and the cache.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New wires the engines, the cache manager and the collaborators of the service.
func New(cfg *config.Config, src storage.FactSource, store cache.Store, logger zerolog.Logger, opts ...Option) *Service {
	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}

	rates := currency.New(cfg.Currency.Reporting, cfg.Currency.RateOverrides)
	calc := engine.NewCalculator(src, logger, cfg.Engine.ProxyCollectionRate, engine.WithClock(o.now))
	comp := &computer{
		src:         src,
		calc:        calc,
		rates:       rates,
		riskDays:    cfg.Cache.RiskSnapshotDays,
		monthsAhead: cfg.Engine.MonthsAhead,
		defaultRate: cfg.Engine.DefaultCollectionRate,
		logger:      logger.With().Str("component", "computer").Logger(),
	}
	manager := cache.NewManager(store, comp, logger,
		cache.WithWorkers(cfg.Cache.RefreshWorkers),
		cache.WithClock(o.now),
	)

	var locker storage.AdvisoryLocker
	if l, ok := src.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		src:      src,
		calc:     calc,
		computer: comp,
		cache:    manager,
		rates:    rates,
		coverage: coverage.NewCalculator(coverage.Defaults{
			LiquidationLine:     cfg.Funding.LiquidationLine,
			MarginCallLine:      cfg.Funding.MarginCallLine,
			Baseline:            cfg.Funding.Baseline,
			PriorityYieldTarget: cfg.Funding.PriorityYieldTarget,
			LeverageRatio:       cfg.Funding.LeverageRatio,
		}, rates.Reporting()),
		funding:     cache.NewTTL[string, fundingInputs](cfg.Cache.ParamsTTL),
		scheduler:   o.scheduler,
		directory:   o.directory,
		notifier:    o.notifier,
		logger:      logger.With().Str("component", "service").Logger(),
		now:         o.now,
		monthsAhead: cfg.Engine.MonthsAhead,
		alertsOn:    cfg.Alerting.Enabled,
		channels:    cfg.Alerting.Channels,
		locker:      locker,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the periodic full refresh loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick runs one scheduled full refresh unless another instance holds the lock.
func (s *Service) ProcessTick(ctx context.Context, slot time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("slot", slot).Msg("skip refresh because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	_, err = s.RefreshAll(ctx)
	return err
}

// RefreshAll recomputes every producer and domain, writes a fresh unified
// bundle and sends coverage alerts. Callers check privileges before calling.
func (s *Service) RefreshAll(ctx context.Context) (cache.RefreshSummary, error) {
	summary, err := s.cache.RefreshAll(ctx)
	if err != nil {
		if errors.Is(err, cache.ErrNoProducers) {
			s.logger.Warn().Msg("no producers to refresh")
		}
		return summary, err
	}
	s.funding.Purge()
	s.dispatchAlerts(ctx, summary)
	return summary, nil
}

// RefreshDomain recomputes one producer × domain. The unified bundle is not
// touched, so until the next full refresh it keeps serving its older copy.
func (s *Service) RefreshDomain(ctx context.Context, producerID string, domain cache.Domain) DomainResult {
	out := DomainResult{Meta: s.baseMeta(producerID), Domain: domain}
	res, err := s.cache.RefreshDomain(ctx, producerID, domain)
	if err != nil {
		s.logger.Warn().Err(err).Str("producer_id", producerID).Str("domain", string(domain)).Msg("domain refresh failed")
		out.Source = SourceEmpty
		out.fail(statusOf(err), err)
		return out
	}
	s.fillMeta(&out.Meta, res)
	out.Payload = res.Payload
	return out
}

// OnLogin starts a detached full refresh and returns immediately. Its outcome
// is recorded as the last refresh attempt and never surfaces to the caller.
// done, if set, receives the outcome. It reports false when a refresh is
// already running.
func (s *Service) OnLogin(ctx context.Context, done func(cache.RefreshSummary, error)) bool {
	detached := context.WithoutCancel(ctx)
	return s.cache.RefreshInBackground(detached, func(summary cache.RefreshSummary, err error) {
		if err == nil {
			s.funding.Purge()
			s.dispatchAlerts(detached, summary)
		}
		if done != nil {
			done(summary, err)
		}
	})
}

// CacheStatus reports the serving state of each producer × domain. An empty
// id list covers every producer.
func (s *Service) CacheStatus(ctx context.Context, producerIDs []string) CacheStatus {
	out := CacheStatus{Status: StatusOK, Entries: []CacheStatusEntry{}}
	if attempt, ok := s.cache.LastAttempt(); ok {
		out.LastAttempt = &attempt
	}
	if len(producerIDs) == 0 {
		accounts, err := s.computer.Producers(ctx)
		if err != nil {
			out.Status, out.Error = statusOf(err), err.Error()
			return out
		}
		for _, a := range accounts {
			producerIDs = append(producerIDs, a.ID)
		}
	}
	now := s.now()
	for _, id := range producerIDs {
		for _, domain := range cache.Domains {
			state, updated := s.cache.Peek(ctx, id, domain)
			entry := CacheStatusEntry{ProducerID: id, Domain: domain, State: state, LastUpdated: updated}
			if !updated.IsZero() {
				entry.AgeSeconds = now.Sub(updated).Seconds()
			}
			out.Entries = append(out.Entries, entry)
		}
	}
	return out
}

// Directory returns the producer directory; failures yield an empty set.
func (s *Service) Directory(ctx context.Context) directory.Result {
	if s.directory == nil {
		return directory.Result{Records: []directory.Record{}, Source: "empty", FetchedAt: s.now()}
	}
	return s.directory.Fetch(ctx)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
