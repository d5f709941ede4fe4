package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Loop runs fn every interval. A tick that fires while the previous run is
// still in flight is skipped.
type Loop struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	log      *zap.Logger
	running  atomic.Bool
	inflight sync.WaitGroup
}

// NewLoop constructs a Loop.
func NewLoop(name string, interval time.Duration, fn func(ctx context.Context) error, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{name: name, interval: interval, fn: fn, log: log}
}

// Tick runs fn once unless a run is already in flight; it reports whether fn ran.
func (l *Loop) Tick(ctx context.Context) (ran bool) {
	if !l.running.CompareAndSwap(false, true) {
		l.log.Debug("loop busy, tick skipped", zap.String("loop", l.name))
		return false
	}
	defer l.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			l.log.Error("loop panic", zap.String("loop", l.name), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	ran = true
	start := time.Now()
	if err := l.fn(ctx); err != nil {
		l.log.Error("loop run failed", zap.String("loop", l.name), zap.Error(err), zap.Duration("took", time.Since(start)))
	}
	return ran
}

// Run ticks until ctx is done. It returns only after the run in flight, if
// any, has finished, so callers may close shared pools afterwards.
func (l *Loop) Run(ctx context.Context) {
	t := time.NewTicker(l.interval)
	defer t.Stop()
	l.log.Info("loop started", zap.String("loop", l.name), zap.Duration("interval", l.interval))
	for {
		select {
		case <-ctx.Done():
			l.inflight.Wait()
			l.log.Info("loop stopped", zap.String("loop", l.name))
			return
		case <-t.C:
			l.inflight.Add(1)
			go func() {
				defer l.inflight.Done()
				l.Tick(ctx)
			}()
		}
	}
}
