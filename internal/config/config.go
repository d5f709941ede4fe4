// Package config loads engine tuning from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/rentwatch/listing-guard/internal/model"
)

// Engine holds the control-loop tuning shared by the services.
type Engine struct {
	Guard    GuardConfig
	Cooldown CooldownConfig
	Orders   OrderSyncConfig
	Cache    CacheConfig
	Notify   NotifyConfig
}

// GuardConfig tunes online detection and the guard worker.
type GuardConfig struct {
	ProbeInterval  time.Duration  `envconfig:"GUARD_PROBE_INTERVAL" default:"5m"`
	ProbeSleep     time.Duration  `envconfig:"GUARD_PROBE_SLEEP" default:"300ms"`
	SuppressWindow time.Duration  `envconfig:"GUARD_SUPPRESS_WINDOW" default:"20m"`
	BootstrapDelay time.Duration  `envconfig:"GUARD_BOOTSTRAP_DELAY" default:"1m"`
	MonitorEvery   time.Duration  `envconfig:"GUARD_MONITOR_INTERVAL" default:"2m"`
	MaxRetry       int            `envconfig:"GUARD_MAX_RETRY" default:"5"`
	WorkerLease    time.Duration  `envconfig:"GUARD_WORKER_LEASE" default:"240s"`
	WorkerBatch    int            `envconfig:"GUARD_WORKER_BATCH" default:"50"`
	WorkerEvery    time.Duration  `envconfig:"GUARD_WORKER_INTERVAL" default:"1m"`
	FailOpen       bool           `envconfig:"GUARD_FAIL_OPEN" default:"true"`
	AlertCycles    int            `envconfig:"GUARD_WATCH_ALERT_CYCLES" default:"30"`
	Platform       model.Platform `envconfig:"GUARD_PLATFORM" default:"zhw"`
	RiskLevel      int            `envconfig:"GUARD_RISK_LEVEL" default:"2"`
}

// CooldownConfig tunes the post-rental cooldown reconciler.
type CooldownConfig struct {
	StartDelay    time.Duration `envconfig:"COOLDOWN_START_DELAY" default:"10m"`
	EndDelay      time.Duration `envconfig:"COOLDOWN_END_DELAY" default:"10m"`
	SyncFreshness time.Duration `envconfig:"COOLDOWN_SYNC_FRESHNESS" default:"15m"`
	Every         time.Duration `envconfig:"COOLDOWN_INTERVAL" default:"1m"`
}

// OrderSyncConfig tunes the order puller.
type OrderSyncConfig struct {
	Lease    time.Duration `envconfig:"ORDER_SYNC_LEASE" default:"120s"`
	Every    time.Duration `envconfig:"ORDER_SYNC_INTERVAL" default:"2m"`
	Backfill time.Duration `envconfig:"ORDER_SYNC_BACKFILL" default:"72h"`
	WaitFor  time.Duration `envconfig:"ORDER_SYNC_WAIT" default:"60s"`
}

// CacheConfig selects the probe cache backend. An empty RedisAddr keeps it in memory.
type CacheConfig struct {
	TTL       time.Duration `envconfig:"PROBE_CACHE_TTL" default:"60s"`
	RedisAddr string        `envconfig:"REDIS_ADDR"`
	RedisDB   int           `envconfig:"REDIS_DB" default:"0"`
}

// NotifyConfig configures operator notifications. An empty WebhookURL only logs.
type NotifyConfig struct {
	WebhookURL string        `envconfig:"NOTIFY_WEBHOOK_URL"`
	Timeout    time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"5s"`
	Workers    int           `envconfig:"NOTIFY_WORKERS" default:"2"`
	Queue      int           `envconfig:"NOTIFY_QUEUE" default:"256"`
}

// Validate rejects settings the services cannot run with.
func (e *Engine) Validate() error {
	switch {
	case e.Guard.MaxRetry < 1:
		return fmt.Errorf("GUARD_MAX_RETRY must be >= 1, got %d", e.Guard.MaxRetry)
	case e.Guard.WorkerLease < time.Second:
		return fmt.Errorf("GUARD_WORKER_LEASE must be >= 1s, got %s", e.Guard.WorkerLease)
	case e.Guard.WorkerBatch < 1:
		return fmt.Errorf("GUARD_WORKER_BATCH must be >= 1, got %d", e.Guard.WorkerBatch)
	case e.Orders.Lease < time.Second:
		return fmt.Errorf("ORDER_SYNC_LEASE must be >= 1s, got %s", e.Orders.Lease)
	case e.Notify.Workers < 1 || e.Notify.Queue < 1:
		return fmt.Errorf("NOTIFY_WORKERS and NOTIFY_QUEUE must be >= 1")
	}
	for _, p := range model.Platforms {
		if p == e.Guard.Platform {
			return nil
		}
	}
	return fmt.Errorf("GUARD_PLATFORM %q is not a supported platform", e.Guard.Platform)
}

// Load reads an optional .env file and then the environment.
func Load() (*Engine, error) {
	_ = godotenv.Load()

	var cfg Engine
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
