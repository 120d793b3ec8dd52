package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"producer-risk/internal/alerting"
	"producer-risk/internal/cache"
	"producer-risk/internal/config"
	"producer-risk/internal/directory"
	"producer-risk/internal/scheduler"
	"producer-risk/internal/service"
	"producer-risk/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Demo serves a generated in-memory portfolio instead of PostgreSQL.
	Demo bool
	Out  io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newDirectory() service.DirectoryClient {
	cfg := a.Config.Directory
	if !cfg.Enabled {
		return nil
	}
	return directory.New(directory.Options{
		BaseURL:   cfg.BaseURL,
		AppID:     cfg.AppID,
		AppSecret: cfg.AppSecret,
		AppToken:  cfg.AppToken,
		WikiNode:  cfg.WikiNode,
		TableID:   cfg.TableID,
		PageSize:  cfg.PageSize,
		Timeout:   cfg.RequestTimeout,
	}, a.Logger)
}

func (a *App) openSource(ctx context.Context) (storage.FactSource, func(), error) {
	if a.Demo {
		return demoSource(time.Now().UTC()), func() {}, nil
	}
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn not configured; use --demo for the generated portfolio")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool,
		storage.WithQueryTimeout(a.Config.Database.QueryTimeout),
		storage.WithPartitionPrefix(a.Config.Database.PartitionPrefix),
	)
	return store, store.Close, nil
}

func (a *App) openCache(ctx context.Context) (cache.Store, func(), error) {
	cfg := a.Config.Cache
	if cfg.Backend != "redis" {
		return cache.NewFileStore(cfg.Dir), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
	}
	closer := func() {
		if err := client.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close redis client")
		}
	}
	return cache.NewRedisStore(client, cfg.Redis.KeyPrefix), closer, nil
}

// newService opens the fact source and the cache store and wires the service.
func (a *App) newService(ctx context.Context, opts ...service.Option) (*service.Service, func(), error) {
	src, closeSource, err := a.openSource(ctx)
	if err != nil {
		return nil, nil, err
	}
	store, closeCache, err := a.openCache(ctx)
	if err != nil {
		closeSource()
		return nil, nil, err
	}

	if n := a.newNotifier(); n != nil {
		opts = append(opts, service.WithNotifier(n))
	}
	if d := a.newDirectory(); d != nil {
		opts = append(opts, service.WithDirectory(d))
	}

	svc := service.New(a.Config, src, store, a.Logger, opts...)
	closer := func() {
		closeCache()
		closeSource()
	}
	return svc, closer, nil
}

// Run executes the long-running scheduled refresh service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToSlot:  a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RefreshOnStart,
	}, a.Logger)

	svc, closer, err := a.newService(ctx, service.WithScheduler(sched))
	if err != nil {
		return err
	}
	defer closer()

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting refresh service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("refresh service stopped")
	return nil
}

// RefreshOptions select what a manual refresh recomputes.
type RefreshOptions struct {
	ProducerID string
	Domain     string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Kind        string
	ProducerID  string
	AsOf        *time.Time
	Cohort      string
	MonthsAhead int
	Rate        float64
	JSON        bool
}

// LoansOptions configure the loan drill-down.
type LoansOptions struct {
	ProducerID        string
	AsOf              *time.Time
	Bucket            string
	DisbursementMonth string
	MaturityMonth     string
	Page              int
	PerPage           int
}

// ExportOptions hold parameters for exporting a producer's revenue series.
type ExportOptions struct {
	ProducerID string
	PNGPath    string
	CSVPath    string
}
