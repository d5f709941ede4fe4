package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rentwatch/listing-guard/internal/config"
	"github.com/rentwatch/listing-guard/internal/lock"
	"github.com/rentwatch/listing-guard/internal/metrics"
	"github.com/rentwatch/listing-guard/internal/model"
	"github.com/rentwatch/listing-guard/internal/platform"
	"github.com/rentwatch/listing-guard/internal/repository"
)

// PlatformError is a per-(owner, platform) failure recorded in a batch report.
// Platform is empty when the whole owner failed.
type PlatformError struct {
	Owner    string         `json:"owner"`
	Platform model.Platform `json:"platform,omitempty"`
	Error    string         `json:"error"`
}

// OrderSyncReport summarizes one fleet-wide order sync.
type OrderSyncReport struct {
	Skipped   bool            `json:"skipped,omitempty"`
	HeldUntil int64           `json:"held_until,omitempty"`
	Owners    int             `json:"owners"` // owners synced without a store failure
	Orders    int             `json:"orders"`
	Errors    []PlatformError `json:"errors,omitempty"`
}

// OrderSyncService pulls orders from every platform under the order-sync lease.
type OrderSyncService struct {
	clients    platform.Registry
	creds      repository.CredentialRepository
	orders     repository.OrderRepository
	watermarks repository.WatermarkRepository
	locker     lock.Locker
	metrics    *metrics.Metrics
	cfg        config.OrderSyncConfig
	instance   string
	log        *zap.Logger
	now        func() time.Time
	wait       lock.WaitOptions
}

// NewOrderSyncService constructs an OrderSyncService.
func NewOrderSyncService(
	clients platform.Registry,
	creds repository.CredentialRepository,
	orders repository.OrderRepository,
	watermarks repository.WatermarkRepository,
	locker lock.Locker,
	m *metrics.Metrics,
	cfg config.OrderSyncConfig,
	instance string,
	log *zap.Logger,
) *OrderSyncService {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderSyncService{
		clients: clients, creds: creds, orders: orders, watermarks: watermarks,
		locker: locker, metrics: m, cfg: cfg, instance: instance, log: log, now: time.Now,
	}
}

// SyncAll runs one sync if the lease is free; otherwise it reports skipped.
func (s *OrderSyncService) SyncAll(ctx context.Context) (OrderSyncReport, error) {
	lease, err := s.locker.Acquire(ctx, lock.KeyOrderSync, s.instance, s.cfg.Lease)
	if err != nil {
		return OrderSyncReport{}, fmt.Errorf("acquire %s: %w", lock.KeyOrderSync, err)
	}
	if !lease.Acquired {
		return OrderSyncReport{Skipped: true, HeldUntil: lease.LeaseUntil}, nil
	}
	return s.runLocked(ctx)
}

// RefreshNow waits up to the configured deadline for the lease, then syncs.
// errs.ErrLockHeld is returned when the deadline passes first.
func (s *OrderSyncService) RefreshNow(ctx context.Context) (OrderSyncReport, error) {
	opts := s.wait
	opts.Timeout = s.cfg.WaitFor
	lease, err := lock.WaitAcquire(ctx, s.locker, lock.KeyOrderSync, s.instance, s.cfg.Lease, opts)
	if err != nil {
		return OrderSyncReport{Skipped: true, HeldUntil: lease.LeaseUntil}, err
	}
	return s.runLocked(ctx)
}

func (s *OrderSyncService) runLocked(ctx context.Context) (rep OrderSyncReport, err error) {
	defer func() {
		if rerr := s.locker.Release(context.WithoutCancel(ctx), lock.KeyOrderSync, s.instance); rerr != nil {
			s.log.Warn("release order-sync lease", zap.Error(rerr))
		}
	}()

	owners, err := s.creds.ListOwners(ctx)
	if err != nil {
		return rep, fmt.Errorf("list owners: %w", err)
	}
	// one owner's failure leaves only that owner's watermarks stale
	var failed []error
	for _, owner := range owners {
		n, perrs, err := s.SyncOwner(ctx, owner)
		rep.Orders += n
		rep.Errors = append(rep.Errors, perrs...)
		if err != nil {
			failed = append(failed, fmt.Errorf("owner %s: %w", owner, err))
			rep.Errors = append(rep.Errors, PlatformError{Owner: owner, Error: err.Error()})
			s.log.Error("order sync owner failed", zap.String("owner", owner), zap.Error(err))
			continue
		}
		rep.Owners++
	}
	s.log.Info("order sync done",
		zap.Int("owners", rep.Owners), zap.Int("orders", rep.Orders), zap.Int("errors", len(rep.Errors)))
	return rep, errors.Join(failed...)
}

// SyncOwner pulls each authorized platform since its watermark. Platform
// failures are recorded and leave that watermark untouched.
func (s *OrderSyncService) SyncOwner(ctx context.Context, owner string) (int, []PlatformError, error) {
	creds, err := s.creds.ListUsable(ctx, owner)
	if err != nil {
		return 0, nil, fmt.Errorf("list credentials: %w", err)
	}
	marks, err := s.watermarks.List(ctx, owner)
	if err != nil {
		return 0, nil, fmt.Errorf("list watermarks: %w", err)
	}

	total := 0
	var perrs []PlatformError
	fail := func(p model.Platform, err error) {
		perrs = append(perrs, PlatformError{Owner: owner, Platform: p, Error: err.Error()})
		s.log.Warn("order sync platform failed",
			zap.String("owner", owner), zap.String("platform", string(p)), zap.Error(err))
	}

	for _, cred := range creds {
		c, err := s.clients.Get(cred.Platform)
		if err != nil {
			fail(cred.Platform, err)
			continue
		}
		started := s.now()
		since := started.Add(-s.cfg.Backfill)
		if w, ok := marks[cred.Platform]; ok && w.SyncedAt.After(since) {
			since = w.SyncedAt
		}

		got, err := c.ListOrders(ctx, cred, since)
		if err != nil {
			fail(cred.Platform, platform.CallError(cred.Platform, "list_orders", err))
			continue
		}
		var bad error
		for i := range got {
			got[i].Owner = owner
			got[i].Platform = cred.Platform
			if bad == nil {
				bad = got[i].Validate()
			}
		}
		if bad != nil {
			fail(cred.Platform, platform.CallError(cred.Platform, "list_orders", fmt.Errorf("malformed payload: %w", bad)))
			continue
		}
		n, err := s.orders.UpsertBatch(ctx, got)
		if err != nil {
			return total, perrs, fmt.Errorf("store %s orders: %w", cred.Platform, err)
		}
		if err := s.watermarks.Advance(ctx, owner, cred.Platform, started); err != nil {
			return total, perrs, fmt.Errorf("advance %s watermark: %w", cred.Platform, err)
		}
		total += n
		s.metrics.Orders(string(cred.Platform), n)
	}
	return total, perrs, nil
}
