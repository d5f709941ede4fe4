// Package app wires storage, platform clients and services for the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rentwatch/listing-guard/internal/cache"
	"github.com/rentwatch/listing-guard/internal/config"
	"github.com/rentwatch/listing-guard/internal/lock"
	"github.com/rentwatch/listing-guard/internal/metrics"
	"github.com/rentwatch/listing-guard/internal/model"
	"github.com/rentwatch/listing-guard/internal/notify"
	"github.com/rentwatch/listing-guard/internal/planner"
	"github.com/rentwatch/listing-guard/internal/platform"
	"github.com/rentwatch/listing-guard/internal/repository"
	"github.com/rentwatch/listing-guard/internal/repository/postgres"
	"github.com/rentwatch/listing-guard/internal/service"
)

// Options are the process-level settings that come from flags.
type Options struct {
	DSN            string
	Gateways       map[model.Platform]string
	GatewayTimeout time.Duration
	Instance       string
	Registerer     prometheus.Registerer
}

// App holds the wired services.
type App struct {
	Engine   *config.Engine
	Instance string
	Guard    *service.GuardService
	Cooldown *service.CooldownService
	Orders   *service.OrderSyncService
	Listings *service.ListingService
	Creds    repository.CredentialRepository
	Metrics  *metrics.Metrics

	log     *zap.Logger
	closers []func()
}

// InstanceID labels this process in lease locks: host name plus a random suffix.
func InstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "listing-guard"
	}
	return host + "-" + uuid.Must(uuid.NewV4()).String()[:8]
}

// Registry builds HTTP gateway clients for every platform with a URL.
func Registry(gateways map[model.Platform]string, timeout time.Duration) platform.Registry {
	reg := platform.Registry{}
	for _, p := range model.Platforms {
		if u := gateways[p]; u != "" {
			reg[p] = platform.NewHTTPClient(p, u, timeout)
		}
	}
	return reg
}

// Build connects to Postgres and constructs every service.
func Build(ctx context.Context, eng *config.Engine, opts Options, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Instance == "" {
		opts.Instance = InstanceID()
	}
	a := &App{Engine: eng, Instance: opts.Instance, log: log}

	pool, err := pgxpool.New(ctx, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	db := &postgres.DB{Pool: pool}

	accounts := postgres.NewAccountRepo(db)
	creds := postgres.NewCredentialRepo(db)
	blacklist := postgres.NewBlacklistRepo(db)
	events := postgres.NewRiskEventRepo(db)
	tasks := postgres.NewGuardTaskRepo(db)
	orders := postgres.NewOrderRepo(db)
	marks := postgres.NewWatermarkRepo(db)
	locker := lock.NewPG(pool)
	a.Creds = creds

	if opts.Registerer != nil {
		a.Metrics = metrics.New(opts.Registerer)
	}

	probeCache, err := a.cache(ctx, eng.Cache)
	if err != nil {
		a.Close()
		return nil, err
	}

	notifier := a.notifier(eng.Notify)

	reg := Registry(opts.Gateways, opts.GatewayTimeout)
	if _, err := reg.Get(eng.Guard.Platform); err != nil {
		log.Warn("guard platform has no gateway; live checks will fail", zap.String("platform", string(eng.Guard.Platform)))
	}

	prober := service.NewProber(reg, creds, probeCache, eng.Guard.Platform, eng.Cache.TTL, log.Named("prober"))
	release := service.NewReleaseGuard(prober, blacklist, eng.Guard.FailOpen, log.Named("release"))

	a.Guard = service.NewGuardService(service.GuardDeps{
		Accounts:  accounts,
		Orders:    orders,
		Events:    events,
		Tasks:     tasks,
		Blacklist: blacklist,
		Prober:    prober,
		Release:   release,
		Locker:    locker,
		Notifier:  notifier,
		Metrics:   a.Metrics,
	}, eng.Guard, opts.Instance, log.Named("guard"))

	a.Cooldown = service.NewCooldownService(service.CooldownDeps{
		Accounts:   accounts,
		Orders:     orders,
		Blacklist:  blacklist,
		Watermarks: marks,
		Creds:      creds,
		Release:    release,
		Guard:      a.Guard,
		Notifier:   notifier,
		Metrics:    a.Metrics,
	}, eng.Cooldown, log.Named("cooldown"))

	a.Orders = service.NewOrderSyncService(reg, creds, orders, marks, locker, a.Metrics, eng.Orders, opts.Instance, log.Named("orders"))

	exec := planner.NewExecutor(reg, creds, log.Named("executor"))
	a.Listings = service.NewListingService(reg, creds, accounts, blacklist, exec, a.Metrics, log.Named("listings"))
	return a, nil
}

func (a *App) cache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	if cfg.RedisAddr == "" {
		mc := cache.NewMemoryCache(cfg.TTL)
		a.closers = append(a.closers, func() { _ = mc.Close() })
		return mc, nil
	}
	rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	a.closers = append(a.closers, func() { _ = rc.Close() })
	return rc, nil
}

func (a *App) notifier(cfg config.NotifyConfig) notify.Notifier {
	var sender notify.Sender = notify.LogSender{Log: a.log.Named("notify")}
	if cfg.WebhookURL != "" {
		sender = &notify.WebhookSender{URL: cfg.WebhookURL, Client: &http.Client{Timeout: cfg.Timeout}}
	}
	d := notify.NewDispatcher(sender, a.log.Named("notify"), cfg.Workers, cfg.Queue, cfg.Timeout)
	d.OnDrop(a.Metrics.Dropped)
	// closers run in reverse, so queued messages drain before the pool closes
	a.closers = append(a.closers, d.Close)
	return d
}

// ForEachOwner runs fn for every owner with a usable credential. Failures are
// joined; one owner never blocks the rest.
func (a *App) ForEachOwner(ctx context.Context, fn func(ctx context.Context, owner string) error) error {
	owners, err := a.Creds.ListOwners(ctx)
	if err != nil {
		return fmt.Errorf("list owners: %w", err)
	}
	var all []error
	for _, o := range owners {
		if err := fn(ctx, o); err != nil {
			all = append(all, fmt.Errorf("owner %s: %w", o, err))
		}
	}
	return errors.Join(all...)
}

// ReconcileCooldowns runs the cooldown reconciler for every owner.
func (a *App) ReconcileCooldowns(ctx context.Context) error {
	return a.ForEachOwner(ctx, func(ctx context.Context, owner string) error {
		rep, err := a.Cooldown.Reconcile(ctx, owner)
		if err == nil && len(rep.Errors) > 0 {
			a.log.Warn("cooldown errors", zap.String("owner", owner), zap.Strings("errors", rep.Errors))
		}
		return err
	})
}

// SyncListings runs the listing sync for every owner.
func (a *App) SyncListings(ctx context.Context) error {
	return a.ForEachOwner(ctx, func(ctx context.Context, owner string) error {
		_, err := a.Listings.SyncOwner(ctx, owner)
		return err
	})
}

// Close releases pools and drains notifications.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
