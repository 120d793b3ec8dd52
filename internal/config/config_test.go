package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("app:\n  name: test\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.Name != "test" {
		t.Fatalf("app.name = %q", cfg.App.Name)
	}
	if cfg.Cache.Backend != "file" || cfg.Cache.RiskSnapshotDays != 14 {
		t.Fatalf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Database.QueryTimeout != 30*time.Second {
		t.Fatalf("query timeout default = %s", cfg.Database.QueryTimeout)
	}
	if cfg.Engine.DefaultCollectionRate != 0.98 || cfg.Funding.Baseline != 1.43 {
		t.Fatalf("unexpected engine/funding defaults: %+v %+v", cfg.Engine, cfg.Funding)
	}
}

func TestLoadRateOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "currency:\n  reporting: USD\n  rate_overrides:\n    kn: 17.5\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Currency.RateOverrides["kn"] != 17.5 {
		t.Fatalf("rate override not decoded: %+v", cfg.Currency.RateOverrides)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Database:  DatabaseConfig{QueryTimeout: time.Second},
			Cache:     CacheConfig{Backend: "file", Dir: "cache", RiskSnapshotDays: 1, RefreshWorkers: 1},
			Engine:    EngineConfig{DefaultCollectionRate: 0.98, MonthsAhead: 12},
			Scheduler: SchedulerConfig{Interval: time.Hour},
		}
	}

	cfg := base()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	cfg = base()
	cfg.Cache.Backend = "s3"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown backend should fail")
	}

	cfg = base()
	cfg.Engine.DefaultCollectionRate = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("collection rate above 1 should fail")
	}

	cfg = base()
	cfg.Currency.RateOverrides = map[string]float64{"kn": 0}
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero rate override should fail")
	}

	cfg = base()
	cfg.Alerting.Telegram.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("telegram without token should fail")
	}
}

func TestResolveMonthsAhead(t *testing.T) {
	cfg := Config{Engine: EngineConfig{MonthsAhead: 12}}
	if got := cfg.ResolveMonthsAhead(0); got != 12 {
		t.Fatalf("default months = %d", got)
	}
	if got := cfg.ResolveMonthsAhead(3); got != 3 {
		t.Fatalf("override months = %d", got)
	}
}
