package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/rentwatch/listing-guard/internal/errs"
	"github.com/rentwatch/listing-guard/internal/model"
	"github.com/rentwatch/listing-guard/internal/repository"
)

// ReleaseRequest asks for a protective blacklist entry to be removed.
type ReleaseRequest struct {
	Owner     string
	AccountID string
	Game      string
	Actor     string
	// Expect lists the reasons the caller owns; other entries are left alone.
	Expect  []model.BlacklistReason
	TaskID  int64
	EventID int64
}

// ReleaseResult describes what the release guard did.
type ReleaseResult struct {
	Removed bool
	// Absent reports that no entry existed; Removed is also set.
	Absent bool
	// NotOwned reports an entry under a reason the caller does not own.
	NotOwned bool
	Blocked  bool
	Reason   model.BlacklistReason
	Online   bool
	Forbid   bool
	// Skipped reports that live checks were not run for lack of a credential.
	Skipped bool
	Detail  string
}

// ReleaseGuard re-checks live risk before a protective entry is removed.
type ReleaseGuard struct {
	prober    *Prober
	blacklist repository.BlacklistRepository
	// FailOpen removes the entry when the owner has no usable credential to
	// run live checks with. When false such releases fail with ErrGuardCheck.
	FailOpen bool
	log      *zap.Logger
	now      func() time.Time
}

// NewReleaseGuard constructs a ReleaseGuard.
func NewReleaseGuard(prober *Prober, bl repository.BlacklistRepository, failOpen bool, log *zap.Logger) *ReleaseGuard {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReleaseGuard{prober: prober, blacklist: bl, FailOpen: failOpen, log: log, now: time.Now}
}

// Release removes the entry unless the account is online or forced-play-blocked,
// in which case the entry is rewritten with the live reason.
func (g *ReleaseGuard) Release(ctx context.Context, req ReleaseRequest) (ReleaseResult, error) {
	if req.Owner == "" || req.AccountID == "" {
		return ReleaseResult{}, errs.Validation("release needs owner and account")
	}

	cur, err := g.blacklist.Get(ctx, req.Owner, req.AccountID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return ReleaseResult{Removed: true, Absent: true, Detail: "no entry"}, nil
	case err != nil:
		return ReleaseResult{}, err
	}
	if len(req.Expect) > 0 && !slices.Contains(req.Expect, cur.Reason) {
		return ReleaseResult{NotOwned: true, Reason: cur.Reason, Detail: fmt.Sprintf("entry held for %s", cur.Reason)}, nil
	}

	res, err := g.check(ctx, req)
	if err != nil {
		return res, err
	}

	if res.Online || res.Forbid {
		res.Blocked = true
		res.Reason = model.ReasonOnlineRisk
		res.Detail = "account online"
		if !res.Online {
			res.Reason = model.ReasonForcedPlay
			res.Detail = "forced-play-block enabled"
		}
		detail, _ := json.Marshal(model.GuardDetail{
			Source: req.Actor, TaskID: req.TaskID, EventID: req.EventID,
			Online: res.Online, Forbid: res.Forbid, Detected: g.now().UTC(),
		})
		entry := model.BlacklistEntry{Owner: req.Owner, AccountID: req.AccountID, Reason: res.Reason, Detail: detail}
		if err := g.blacklist.Upsert(ctx, entry, req.Actor); err != nil {
			return res, fmt.Errorf("keep blacklist: %w", err)
		}
		g.log.Info("release blocked",
			zap.String("owner", req.Owner), zap.String("account", req.AccountID),
			zap.String("reason", string(res.Reason)))
		return res, nil
	}

	removed, err := g.blacklist.Delete(ctx, req.Owner, req.AccountID, req.Actor)
	if err != nil {
		return res, fmt.Errorf("remove blacklist: %w", err)
	}
	res.Removed = true
	res.Absent = !removed
	res.Detail = "released"
	return res, nil
}

func (g *ReleaseGuard) check(ctx context.Context, req ReleaseRequest) (ReleaseResult, error) {
	var res ReleaseResult
	online, err := g.prober.Check(ctx, ProbeOnline, req.Owner, req.AccountID, req.Game, true)
	if errors.Is(err, errs.ErrNoCredential) {
		if !g.FailOpen {
			return res, fmt.Errorf("%w: %v", errs.ErrGuardCheck, err)
		}
		g.log.Warn("release checks skipped",
			zap.String("owner", req.Owner), zap.String("account", req.AccountID), zap.Error(err))
		res.Skipped = true
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("%w: online: %v", errs.ErrGuardCheck, err)
	}
	res.Online = online

	forbid, err := g.prober.Check(ctx, ProbeForbid, req.Owner, req.AccountID, req.Game, true)
	if err != nil {
		return res, fmt.Errorf("%w: forced-play-block: %v", errs.ErrGuardCheck, err)
	}
	res.Forbid = forbid
	return res, nil
}
