// Package lock provides a durable lease lock used to keep fleet-wide jobs single-flight.
package lock

import (
	"context"
	"time"

	"github.com/rentwatch/listing-guard/internal/errs"
	"github.com/rentwatch/listing-guard/internal/model"
)

// Well-known lock keys.
const (
	KeyOrderSync   = "order-sync"
	KeyDailyStats  = "daily-stats"
	KeyGuardWorker = "guard-worker"
)

// Locker acquires and releases named leases.
type Locker interface {
	// Acquire claims key for lease if it is free or expired. When the lease is
	// held the result is not acquired and carries the holder's lease_until.
	Acquire(ctx context.Context, key, owner string, lease time.Duration) (model.Lease, error)
	// Release drops key if owner still holds it.
	Release(ctx context.Context, key, owner string) error
}

// WaitOptions bound WaitAcquire.
type WaitOptions struct {
	Timeout time.Duration
	MinPoll time.Duration
	MaxPoll time.Duration
	// Now and Sleep default to the wall clock.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o *WaitOptions) defaults() {
	if o.MinPoll <= 0 {
		o.MinPoll = 500 * time.Millisecond
	}
	if o.MaxPoll <= 0 {
		o.MaxPoll = 5 * time.Second
	}
	if o.MaxPoll < o.MinPoll {
		o.MaxPoll = o.MinPoll
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WaitAcquire retries Acquire until it succeeds or the timeout passes. The
// holder's remaining lease, clamped to [MinPoll, MaxPoll], is the next poll
// interval. On timeout it returns the last observed lease and ErrLockHeld.
func WaitAcquire(ctx context.Context, l Locker, key, owner string, lease time.Duration, opts WaitOptions) (model.Lease, error) {
	opts.defaults()
	deadline := opts.Now().Add(opts.Timeout)
	for {
		got, err := l.Acquire(ctx, key, owner, lease)
		if err != nil || got.Acquired {
			return got, err
		}
		now := opts.Now()
		left := deadline.Sub(now)
		if left <= 0 {
			return got, errs.ErrLockHeld
		}
		wait := time.Unix(got.LeaseUntil, 0).Sub(now)
		if wait < opts.MinPoll {
			wait = opts.MinPoll
		}
		if wait > opts.MaxPoll {
			wait = opts.MaxPoll
		}
		if wait > left {
			wait = left
		}
		if err := opts.Sleep(ctx, wait); err != nil {
			return got, err
		}
	}
}
