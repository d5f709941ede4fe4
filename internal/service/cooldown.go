package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rentwatch/listing-guard/internal/config"
	"github.com/rentwatch/listing-guard/internal/errs"
	"github.com/rentwatch/listing-guard/internal/metrics"
	"github.com/rentwatch/listing-guard/internal/model"
	"github.com/rentwatch/listing-guard/internal/notify"
	"github.com/rentwatch/listing-guard/internal/repository"
)

const actorCooldown = "cooldown"

// CooldownReport summarizes one reconcile pass for an owner.
type CooldownReport struct {
	Added          int      `json:"added"`
	Updated        int      `json:"updated"`
	Released       int      `json:"released"`
	Pending        int      `json:"pending"`
	GuardBlocked   int      `json:"guard_blocked"`
	Conflicts      int      `json:"conflicts"`
	ReleaseSkipped bool     `json:"release_skipped,omitempty"`
	SkipReason     string   `json:"skip_reason,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

// CooldownDeps groups the collaborators of CooldownService.
type CooldownDeps struct {
	Accounts   repository.AccountRepository
	Orders     repository.OrderRepository
	Blacklist  repository.BlacklistRepository
	Watermarks repository.WatermarkRepository
	Creds      repository.CredentialRepository
	Release    *ReleaseGuard
	Guard      Escalator
	Notifier   notify.Notifier
	Metrics    *metrics.Metrics
}

// CooldownService holds accounts off the shelf for a window around rentals.
type CooldownService struct {
	CooldownDeps
	cfg config.CooldownConfig
	log *zap.Logger
	now func() time.Time
}

// NewCooldownService constructs a CooldownService.
func NewCooldownService(deps CooldownDeps, cfg config.CooldownConfig, log *zap.Logger) *CooldownService {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	return &CooldownService{CooldownDeps: deps, cfg: cfg, log: log, now: time.Now}
}

type window struct {
	until time.Time
	order model.Order
}

// Reconcile writes cooldown entries for active rentals and releases expired
// ones. Releases happen only when every authorized platform's order sync is fresh.
func (s *CooldownService) Reconcile(ctx context.Context, owner string) (CooldownReport, error) {
	var rep CooldownReport
	if owner == "" {
		return rep, errs.Validation("cooldown needs owner")
	}
	now := s.now()

	bl, err := s.Blacklist.List(ctx, owner)
	if err != nil {
		return rep, fmt.Errorf("list blacklist: %w", err)
	}
	if err := s.enter(ctx, owner, now, bl, &rep); err != nil {
		return rep, err
	}

	if ok, why, err := s.fresh(ctx, owner, now); err != nil {
		return rep, err
	} else if !ok {
		rep.ReleaseSkipped, rep.SkipReason = true, why
		s.log.Info("cooldown release skipped", zap.String("owner", owner), zap.String("reason", why))
		s.record(rep)
		return rep, nil
	}

	if err := s.release(ctx, owner, now, &rep); err != nil {
		return rep, err
	}
	s.record(rep)
	return rep, nil
}

func (s *CooldownService) record(rep CooldownReport) {
	s.Metrics.Cooldown("added", rep.Added)
	s.Metrics.Cooldown("updated", rep.Updated)
	s.Metrics.Cooldown("released", rep.Released)
	s.Metrics.Cooldown("guard_blocked", rep.GuardBlocked)
	s.Metrics.Cooldown("conflict", rep.Conflicts)
}

// windows returns the widest cooldown per account among orders past their start delay.
func (s *CooldownService) windows(orders []model.Order, now time.Time) map[string]window {
	out := map[string]window{}
	for _, o := range orders {
		if now.Before(o.StartTime.Add(s.cfg.StartDelay)) {
			continue
		}
		until := o.EndTime.Add(s.cfg.EndDelay)
		if w, ok := out[o.AccountID]; !ok || until.After(w.until) {
			out[o.AccountID] = window{until: until, order: o}
		}
	}
	return out
}

func (s *CooldownService) enter(ctx context.Context, owner string, now time.Time, bl model.Blacklist, rep *CooldownReport) error {
	active, err := s.Orders.ListActive(ctx, owner)
	if err != nil {
		return fmt.Errorf("list active orders: %w", err)
	}
	wins := s.windows(active, now)

	ids := make([]string, 0, len(wins))
	for id := range wins {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		w := wins[id]
		cur, exists := bl[id]
		if exists && cur.Reason != model.ReasonCooldown {
			rep.Conflicts++
			s.log.Info("cooldown conflict",
				zap.String("owner", owner), zap.String("account", id), zap.String("held_by", string(cur.Reason)))
			continue
		}
		if exists {
			prev, err := model.DecodeCooldown(cur.Detail)
			if err == nil && !w.until.After(prev.CooldownUntil) {
				continue
			}
		}
		detail, _ := json.Marshal(model.CooldownDetail{
			CooldownUntil: w.until.UTC(), OrderID: w.order.OrderID, Platform: w.order.Platform,
		})
		entry := model.BlacklistEntry{Owner: owner, AccountID: id, Reason: model.ReasonCooldown, Detail: detail}
		if err := s.Blacklist.Upsert(ctx, entry, actorCooldown); err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: upsert: %v", id, err))
			continue
		}
		if exists {
			rep.Updated++
		} else {
			rep.Added++
		}
	}
	return nil
}

// fresh reports whether every authorized platform synced orders within the freshness window.
func (s *CooldownService) fresh(ctx context.Context, owner string, now time.Time) (bool, string, error) {
	creds, err := s.Creds.ListUsable(ctx, owner)
	if err != nil {
		return false, "", fmt.Errorf("list credentials: %w", err)
	}
	if len(creds) == 0 {
		return false, "no authorized platform", nil
	}
	marks, err := s.Watermarks.List(ctx, owner)
	if err != nil {
		return false, "", fmt.Errorf("list watermarks: %w", err)
	}
	for _, c := range creds {
		w, ok := marks[c.Platform]
		if !ok {
			return false, fmt.Sprintf("%s never synced", c.Platform), nil
		}
		if age := now.Sub(w.SyncedAt); age > s.cfg.SyncFreshness {
			return false, fmt.Sprintf("%s synced %s ago", c.Platform, age.Truncate(time.Second)), nil
		}
	}
	return true, "", nil
}

func (s *CooldownService) release(ctx context.Context, owner string, now time.Time, rep *CooldownReport) error {
	entries, err := s.Blacklist.ListByReason(ctx, owner, model.ReasonCooldown)
	if err != nil {
		return fmt.Errorf("list cooldown entries: %w", err)
	}

	for _, e := range entries {
		d, err := model.DecodeCooldown(e.Detail)
		if err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: detail: %v", e.AccountID, err))
			continue
		}
		due := !now.Before(d.CooldownUntil)
		if !due && d.OrderID != "" {
			due = s.refunded(ctx, owner, d)
		}
		if !due {
			rep.Pending++
			continue
		}

		game := s.game(ctx, owner, e.AccountID)
		res, err := s.Release.Release(ctx, ReleaseRequest{
			Owner: owner, AccountID: e.AccountID, Game: game, Actor: actorCooldown,
			Expect: []model.BlacklistReason{model.ReasonCooldown},
		})
		switch {
		case errors.Is(err, errs.ErrGuardCheck):
			rep.Pending++
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", e.AccountID, err))
			continue
		case err != nil:
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: release: %v", e.AccountID, err))
			continue
		case res.NotOwned:
			continue
		case res.Blocked:
			rep.GuardBlocked++
			if _, err := s.Guard.Escalate(ctx, EscalateInput{
				Owner: owner, AccountID: e.AccountID, Game: game, Source: SourceCooldown,
				Online: res.Online, Forbid: res.Forbid,
				Snapshot: model.Snapshot{
					"cooldown_until": d.CooldownUntil.UTC().Format(time.RFC3339),
					model.SnapLatestOrder: map[string]any{
						"order_id": d.OrderID,
						"platform": string(d.Platform),
					},
				},
			}); err != nil {
				rep.Errors = append(rep.Errors, fmt.Sprintf("%s: escalate: %v", e.AccountID, err))
				s.Notifier.Notify(notify.Message{
					Kind: notify.KindCooldownFault, Owner: owner, AccountID: e.AccountID,
					Text: fmt.Sprintf("cooldown release blocked (%s) and escalation failed: %v", res.Reason, err),
				})
			}
			continue
		}
		rep.Released++
	}
	return nil
}

func (s *CooldownService) refunded(ctx context.Context, owner string, d model.CooldownDetail) bool {
	o, err := s.Orders.Get(ctx, owner, d.Platform, d.OrderID)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			s.log.Warn("cooldown order lookup", zap.String("order", d.OrderID), zap.Error(err))
		}
		return false
	}
	return o.Status == model.OrderRefunded
}

func (s *CooldownService) game(ctx context.Context, owner, accountID string) string {
	if s.Accounts == nil {
		return ""
	}
	a, err := s.Accounts.Get(ctx, owner, accountID)
	if err != nil {
		return ""
	}
	return a.Game
}
