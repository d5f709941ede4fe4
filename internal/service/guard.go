package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rentwatch/listing-guard/internal/config"
	"github.com/rentwatch/listing-guard/internal/errs"
	"github.com/rentwatch/listing-guard/internal/lock"
	"github.com/rentwatch/listing-guard/internal/metrics"
	"github.com/rentwatch/listing-guard/internal/model"
	"github.com/rentwatch/listing-guard/internal/notify"
	"github.com/rentwatch/listing-guard/internal/repository"
)

// Escalation sources.
const (
	SourceDetection = "detection"
	SourceCooldown  = "cooldown"
	actorGuard      = "guard-worker"
)

// EscalateInput describes an account that must be put under guard.
type EscalateInput struct {
	Owner     string
	AccountID string
	Game      string
	Source    string
	Online    bool
	Forbid    bool
	Snapshot  model.Snapshot
}

// EscalateResult reports the event and task the escalation landed on.
type EscalateResult struct {
	EventID       int64
	EventInserted bool
	TaskID        int64
	TaskCreated   bool
	Status        model.GuardStatus
}

// Escalator opens risk monitoring for an account.
type Escalator interface {
	Escalate(ctx context.Context, in EscalateInput) (EscalateResult, error)
}

// DetectReport summarizes one detection pass.
type DetectReport struct {
	Ran       bool     `json:"ran"`
	Probed    int      `json:"probed"`
	Flagged   int      `json:"flagged"`
	Escalated int      `json:"escalated"`
	Errors    []string `json:"errors,omitempty"`
}

// WorkerReport summarizes one guard worker pass.
type WorkerReport struct {
	Scanned    int      `json:"scanned"`
	Processed  int      `json:"processed"`
	Reconciled int      `json:"reconciled"`
	Done       int      `json:"done"`
	Failed     int      `json:"failed"`
	Skipped    bool     `json:"skipped,omitempty"`
	HeldUntil  int64    `json:"held_until,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// GuardDeps groups the collaborators of GuardService.
type GuardDeps struct {
	Accounts  repository.AccountRepository
	Orders    repository.OrderRepository
	Events    repository.RiskEventRepository
	Tasks     repository.GuardTaskRepository
	Blacklist repository.BlacklistRepository
	Prober    *Prober
	Release   *ReleaseGuard
	Locker    lock.Locker
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
}

// GuardService detects online-while-not-renting accounts and drives their guard tasks.
type GuardService struct {
	GuardDeps
	cfg      config.GuardConfig
	instance string
	log      *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	lastDetect time.Time
}

// NewGuardService constructs a GuardService. instance labels this process in lease locks.
func NewGuardService(deps GuardDeps, cfg config.GuardConfig, instance string, log *zap.Logger) *GuardService {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	return &GuardService{
		GuardDeps: deps,
		cfg:       cfg,
		instance:  instance,
		log:       log,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DetectIfDue runs DetectOnce when the probe interval has elapsed since the last pass.
func (s *GuardService) DetectIfDue(ctx context.Context) (DetectReport, error) {
	now := s.now()
	s.mu.Lock()
	if !s.lastDetect.IsZero() && now.Sub(s.lastDetect) < s.cfg.ProbeInterval {
		s.mu.Unlock()
		return DetectReport{}, nil
	}
	s.lastDetect = now
	s.mu.Unlock()
	return s.DetectOnce(ctx)
}

// DetectOnce probes every monitored account and escalates those online while not renting.
func (s *GuardService) DetectOnce(ctx context.Context) (DetectReport, error) {
	rep := DetectReport{Ran: true}
	accounts, err := s.Accounts.ListMonitored(ctx)
	if err != nil {
		return rep, fmt.Errorf("list monitored: %w", err)
	}

	for i, a := range accounts {
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.ProbeSleep); err != nil {
				return rep, err
			}
		}
		if a.Renting() {
			continue
		}
		online, err := s.Prober.Check(ctx, ProbeOnline, a.Owner, a.AccountID, a.Game, false)
		if err != nil {
			if !errors.Is(err, errs.ErrNoCredential) {
				rep.Errors = append(rep.Errors, fmt.Sprintf("%s/%s: %v", a.Owner, a.AccountID, err))
			}
			continue
		}
		rep.Probed++
		if !online {
			continue
		}

		var latest *model.Order
		now := s.now()
		o, err := s.Orders.LatestEnded(ctx, a.Owner, a.AccountID, now)
		switch {
		case err == nil:
			if now.Sub(o.EndTime) < s.cfg.SuppressWindow {
				continue
			}
			latest = o
		case !errors.Is(err, errs.ErrNotFound):
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s/%s: latest order: %v", a.Owner, a.AccountID, err))
			continue
		}

		rep.Flagged++
		s.Metrics.Detected()
		snap := model.Snapshot{"online": true}
		if latest != nil {
			snap[model.SnapLatestOrder] = map[string]any{
				"order_id": latest.OrderID,
				"platform": string(latest.Platform),
				"end_time": latest.EndTime.UTC().Format(time.RFC3339),
			}
		}
		if _, err := s.Escalate(ctx, EscalateInput{
			Owner: a.Owner, AccountID: a.AccountID, Game: a.Game,
			Source: SourceDetection, Online: true, Snapshot: snap,
		}); err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s/%s: escalate: %v", a.Owner, a.AccountID, err))
			continue
		}
		rep.Escalated++
	}
	return rep, nil
}

// Escalate opens or advances the risk event and makes sure an active guard
// task exists. A freshly created task has its controls applied immediately.
func (s *GuardService) Escalate(ctx context.Context, in EscalateInput) (EscalateResult, error) {
	if in.Owner == "" || in.AccountID == "" {
		return EscalateResult{}, errs.Validation("escalate needs owner and account")
	}
	now := s.now().UTC()
	snap := model.Snapshot{}
	for k, v := range in.Snapshot {
		snap[k] = v
	}
	snap[model.SnapFirstHitAt] = now.Format(time.RFC3339)
	snap[model.SnapLastHitAt] = now.Format(time.RFC3339)
	snap["source"] = in.Source
	if in.Forbid {
		snap["forbid"] = true
	}
	if _, ok := snap[model.SnapLatestOrder]; !ok {
		snap[model.SnapLatestOrder] = nil
	}

	ev, err := s.Events.UpsertOpen(ctx, model.RiskEventInput{
		Owner: in.Owner, AccountID: in.AccountID, Game: in.Game,
		RiskType: model.RiskOnlineNotRenting, RiskLevel: s.cfg.RiskLevel, Snapshot: snap,
	})
	if err != nil {
		return EscalateResult{}, fmt.Errorf("upsert risk event: %w", err)
	}
	res := EscalateResult{EventID: ev.ID, EventInserted: ev.Inserted}

	active, err := s.Tasks.GetActive(ctx, in.Owner, in.AccountID, model.GuardOnlineRisk)
	switch {
	case err == nil:
		res.TaskID, res.Status = active.ID, active.Status
		return res, nil
	case !errors.Is(err, errs.ErrNotFound):
		return res, fmt.Errorf("get active task: %w", err)
	}

	t := &model.GuardTask{
		Owner: in.Owner, AccountID: in.AccountID, Game: in.Game,
		TaskType: model.GuardOnlineRisk, EventID: ev.ID, Status: model.GuardPending,
		MaxRetry: s.cfg.MaxRetry, NextCheckAt: now.Add(s.cfg.BootstrapDelay),
		LastOnlineTag: onlineTag(in.Online),
	}
	if err := s.Tasks.Create(ctx, t); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			// another instance won the race and owns the task
			if got, gerr := s.Tasks.GetActive(ctx, in.Owner, in.AccountID, model.GuardOnlineRisk); gerr == nil {
				res.TaskID, res.Status = got.ID, got.Status
			}
			return res, nil
		}
		return res, fmt.Errorf("create task: %w", err)
	}
	res.TaskID, res.TaskCreated = t.ID, true
	s.log.Info("guard task created",
		zap.Int64("task", t.ID), zap.Int64("event", ev.ID),
		zap.String("owner", in.Owner), zap.String("account", in.AccountID), zap.String("source", in.Source))
	s.Notifier.Notify(notify.Message{
		Kind: notify.KindRiskDetected, Owner: in.Owner, AccountID: in.AccountID,
		Text:   fmt.Sprintf("account %s online while not renting (%s)", in.AccountID, in.Source),
		Fields: map[string]any{"task_id": t.ID, "event_id": ev.ID},
	})

	if err := s.processPending(ctx, t); err != nil {
		return res, err
	}
	res.Status = t.Status
	return res, nil
}

func onlineTag(online bool) string {
	if online {
		return model.OnlineTagOnline
	}
	return model.OnlineTagOffline
}

// RunWorkerOnce processes every due task under the guard-worker lease.
// Without the lease it returns a skipped report.
func (s *GuardService) RunWorkerOnce(ctx context.Context) (rep WorkerReport, err error) {
	lease, err := s.Locker.Acquire(ctx, lock.KeyGuardWorker, s.instance, s.cfg.WorkerLease)
	if err != nil {
		return rep, fmt.Errorf("acquire %s: %w", lock.KeyGuardWorker, err)
	}
	if !lease.Acquired {
		s.Metrics.WorkerSkipped()
		rep.Skipped, rep.HeldUntil = true, lease.LeaseUntil
		return rep, nil
	}
	defer func() {
		if rerr := s.Locker.Release(context.WithoutCancel(ctx), lock.KeyGuardWorker, s.instance); rerr != nil {
			s.log.Warn("release guard lease", zap.Error(rerr))
		}
	}()

	due, err := s.Tasks.ListDue(ctx, s.now(), s.cfg.WorkerBatch)
	if err != nil {
		return rep, fmt.Errorf("list due: %w", err)
	}
	rep.Scanned = len(due)

	for i := range due {
		t := &due[i]
		var perr error
		switch t.Status {
		case model.GuardPending:
			perr = s.processPending(ctx, t)
		case model.GuardWatching:
			perr = s.processWatching(ctx, t)
		default:
			continue
		}
		if perr != nil {
			if errors.Is(perr, errs.ErrVersionConflict) {
				s.log.Info("guard task moved on", zap.Int64("task", t.ID))
				continue
			}
			rep.Errors = append(rep.Errors, fmt.Sprintf("task %d: %v", t.ID, perr))
			continue
		}
		rep.Processed++
		s.Metrics.Processed(string(t.Status))
		switch t.Status {
		case model.GuardDone:
			rep.Done++
		case model.GuardFailed:
			rep.Failed++
		}
	}

	n, err := s.Events.CloseOrphaned(ctx)
	if err != nil {
		rep.Errors = append(rep.Errors, fmt.Sprintf("consistency sweep: %v", err))
	}
	rep.Reconciled = n
	return rep, nil
}

// processPending applies the missing controls. Success moves the task to
// watching; an upstream failure counts a retry.
func (s *GuardService) processPending(ctx context.Context, t *model.GuardTask) error {
	from := t.Status
	now := s.now()

	err := s.applyControls(ctx, t)
	switch {
	case err == nil:
		t.Status = model.GuardWatching
		t.LastError = ""
		t.NextCheckAt = now.Add(s.cfg.MonitorEvery)
	case errors.Is(err, errs.ErrGuardCheck), errors.Is(err, errs.ErrNoCredential):
		t.LastError = err.Error()
		t.NextCheckAt = now.Add(s.cfg.MonitorEvery)
	default:
		s.retry(t, now, err)
	}
	return s.save(ctx, t, from)
}

func (s *GuardService) applyControls(ctx context.Context, t *model.GuardTask) error {
	if !t.BlacklistApplied {
		if err := s.protect(ctx, t); err != nil {
			return err
		}
		t.BlacklistApplied = true
	}
	if !t.ForbiddenApplied {
		on, err := s.Prober.SetForcedPlayBlock(ctx, t.Owner, t.AccountID, t.Game, true)
		if err != nil {
			return fmt.Errorf("enable forced-play-block: %w", err)
		}
		if !on {
			return fmt.Errorf("enable forced-play-block: %w", errs.Upstream(string(s.cfg.Platform), "set_forced_play_block", errors.New("not enabled")))
		}
		t.ForbiddenApplied = true
	}
	return nil
}

// protect writes the online-risk entry unless a non-protective one already holds the account.
func (s *GuardService) protect(ctx context.Context, t *model.GuardTask) error {
	cur, err := s.Blacklist.Get(ctx, t.Owner, t.AccountID)
	switch {
	case err == nil && !cur.Reason.Protective():
		return nil
	case err != nil && !errors.Is(err, errs.ErrNotFound):
		return fmt.Errorf("read blacklist: %w", err)
	}
	detail, _ := json.Marshal(model.GuardDetail{
		Source: actorGuard, TaskID: t.ID, EventID: t.EventID,
		Online: t.LastOnlineTag == model.OnlineTagOnline, Detected: s.now().UTC(),
	})
	return s.Blacklist.Upsert(ctx, model.BlacklistEntry{
		Owner: t.Owner, AccountID: t.AccountID, Reason: model.ReasonOnlineRisk, Detail: detail,
	}, actorGuard)
}

// processWatching re-probes the account and releases controls once it is offline.
func (s *GuardService) processWatching(ctx context.Context, t *model.GuardTask) error {
	from := t.Status
	now := s.now()
	next := now.Add(s.cfg.MonitorEvery)

	online, err := s.Prober.Check(ctx, ProbeOnline, t.Owner, t.AccountID, t.Game, true)
	if err != nil {
		t.LastOnlineTag = model.OnlineTagUnknown
		t.LastError = fmt.Sprintf("probe: %v", err)
		t.NextCheckAt = next
		s.watchCycle(t)
		return s.save(ctx, t, from)
	}
	if online {
		t.LastOnlineTag = model.OnlineTagOnline
		t.LastError = ""
		t.NextCheckAt = next
		s.watchCycle(t)
		return s.save(ctx, t, from)
	}
	t.LastOnlineTag = model.OnlineTagOffline

	if t.ForbiddenApplied {
		on, err := s.Prober.SetForcedPlayBlock(ctx, t.Owner, t.AccountID, t.Game, false)
		if err == nil && on {
			err = errs.Upstream(string(s.cfg.Platform), "set_forced_play_block", errors.New("still enabled"))
		}
		if err != nil {
			s.retry(t, now, fmt.Errorf("disable forced-play-block: %w", err))
			return s.save(ctx, t, from)
		}
		t.ForbiddenApplied = false
	}

	res, err := s.Release.Release(ctx, ReleaseRequest{
		Owner: t.Owner, AccountID: t.AccountID, Game: t.Game, Actor: actorGuard,
		Expect: []model.BlacklistReason{model.ReasonOnlineRisk, model.ReasonForcedPlay},
		TaskID: t.ID, EventID: t.EventID,
	})
	switch {
	case errors.Is(err, errs.ErrGuardCheck):
		t.LastError = err.Error()
		t.NextCheckAt = next
		return s.save(ctx, t, from)
	case err != nil:
		s.retry(t, now, err)
		return s.save(ctx, t, from)
	case res.Blocked:
		t.LastError = fmt.Sprintf("release blocked: %s", res.Detail)
		t.NextCheckAt = next
		t.BlacklistApplied = true
		if res.Forbid {
			// block came back on; disable it again next cycle
			t.ForbiddenApplied = true
		}
		s.watchCycle(t)
		return s.save(ctx, t, from)
	case !res.Removed && !res.NotOwned:
		t.LastError = "release not confirmed: " + res.Detail
		t.NextCheckAt = next
		return s.save(ctx, t, from)
	}

	t.Status = model.GuardDone
	t.BlacklistApplied = false
	t.ForbiddenApplied = false
	t.LastError = ""
	if err := s.save(ctx, t, from); err != nil {
		return err
	}
	if _, err := s.Events.Resolve(ctx, t.EventID, model.RiskResolved, "account offline; controls released"); err != nil {
		// the consistency sweep closes it on the next pass
		s.log.Warn("resolve risk event", zap.Int64("event", t.EventID), zap.Error(err))
	}
	s.Notifier.Notify(notify.Message{
		Kind: notify.KindGuardReleased, Owner: t.Owner, AccountID: t.AccountID,
		Text: fmt.Sprintf("account %s offline, guard released", t.AccountID),
	})
	return nil
}

// retry counts a failed step and fails the task once max_retry is reached.
func (s *GuardService) retry(t *model.GuardTask, now time.Time, cause error) {
	t.RetryCount++
	t.LastError = cause.Error()
	if t.MaxRetry > 0 && t.RetryCount >= t.MaxRetry {
		t.Status = model.GuardFailed
		s.Notifier.Notify(notify.Message{
			Kind: notify.KindGuardFailed, Owner: t.Owner, AccountID: t.AccountID,
			Text:   fmt.Sprintf("guard task %d failed after %d attempts: %s", t.ID, t.RetryCount, t.LastError),
			Fields: map[string]any{"task_id": t.ID},
		})
		return
	}
	t.NextCheckAt = now.Add(s.cfg.MonitorEvery)
}

// watchCycle counts a cycle without release and alerts once at the threshold.
func (s *GuardService) watchCycle(t *model.GuardTask) {
	t.WatchCycles++
	if s.cfg.AlertCycles > 0 && t.WatchCycles == s.cfg.AlertCycles {
		s.Notifier.Notify(notify.Message{
			Kind: notify.KindGuardStuck, Owner: t.Owner, AccountID: t.AccountID,
			Text:   fmt.Sprintf("guard task %d still watching after %d cycles", t.ID, t.WatchCycles),
			Fields: map[string]any{"task_id": t.ID, "last_error": t.LastError},
		})
	}
}

func (s *GuardService) save(ctx context.Context, t *model.GuardTask, from model.GuardStatus) error {
	if err := s.Tasks.Update(ctx, t, from); err != nil {
		return fmt.Errorf("update task %d: %w", t.ID, err)
	}
	if t.Status != from {
		s.log.Info("guard task transition",
			zap.Int64("task", t.ID), zap.String("account", t.AccountID),
			zap.String("from", string(from)), zap.String("to", string(t.Status)),
			zap.Int("retry", t.RetryCount), zap.String("last_error", t.LastError))
	}
	return nil
}
