package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/rentwatch/listing-guard/internal/metrics"
	"github.com/rentwatch/listing-guard/internal/model"
	"github.com/rentwatch/listing-guard/internal/planner"
	"github.com/rentwatch/listing-guard/internal/platform"
	"github.com/rentwatch/listing-guard/internal/repository"
	"github.com/rentwatch/listing-guard/internal/status"
)

// Listing metadata keys understood by the sync.
const (
	MetaRestricted       = "restricted"
	MetaRestrictedReason = "restricted_reason"
)

// ListingReport is the outcome of one owner's listing sync.
type ListingReport struct {
	Accounts int               `json:"accounts"`
	Actions  []planner.Action  `json:"actions"`
	Outcomes []planner.Outcome `json:"outcomes"`
	Summary  planner.Summary   `json:"summary"`
	Errors   []PlatformError   `json:"errors,omitempty"`
	Overall  map[string]string `json:"overall"`
	// Held lists accounts whose relists were withheld because a platform
	// failed to answer in this pass.
	Held []string `json:"held,omitempty"`
}

// ListingService keeps an owner's listings consistent across platforms.
type ListingService struct {
	clients   platform.Registry
	creds     repository.CredentialRepository
	accounts  repository.AccountRepository
	blacklist repository.BlacklistRepository
	exec      *planner.Executor
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// NewListingService constructs a ListingService.
func NewListingService(
	clients platform.Registry,
	creds repository.CredentialRepository,
	accounts repository.AccountRepository,
	blacklist repository.BlacklistRepository,
	exec *planner.Executor,
	m *metrics.Metrics,
	log *zap.Logger,
) *ListingService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ListingService{clients: clients, creds: creds, accounts: accounts, blacklist: blacklist, exec: exec, metrics: m, log: log}
}

// SyncOwner lists every authorized platform, stores the normalized statuses,
// then plans and executes the corrective actions.
func (s *ListingService) SyncOwner(ctx context.Context, owner string) (ListingReport, error) {
	rep := ListingReport{Overall: map[string]string{}}
	snaps, games, perrs, err := s.Snapshot(ctx, owner)
	if err != nil {
		return rep, err
	}
	rep.Errors = perrs
	rep.Accounts = len(snaps)

	for _, snap := range snaps {
		statuses := make(map[model.Platform]model.StatusCode, len(snap.Platforms))
		norm := make([]status.Normalized, 0, len(snap.Platforms))
		for _, p := range snap.Platforms {
			statuses[p.Platform] = p.Status.Code
			norm = append(norm, p.Status)
		}
		if top, ok := status.PickOverall(norm); ok {
			rep.Overall[snap.AccountID] = string(top.Code)
		}
		if err := s.accounts.UpsertStatuses(ctx, owner, snap.AccountID, games[snap.AccountID], statuses); err != nil {
			return rep, fmt.Errorf("store statuses %s: %w", snap.AccountID, err)
		}
	}

	bl, err := s.blacklist.List(ctx, owner)
	if err != nil {
		return rep, fmt.Errorf("list blacklist: %w", err)
	}
	// a platform without a client is a configuration gap, not an unseen rental
	var unanswered []PlatformError
	for _, pe := range perrs {
		if _, err := s.clients.Get(pe.Platform); err == nil {
			unanswered = append(unanswered, pe)
		}
	}
	rep.Actions, rep.Held = holdRelists(planner.PlanAll(snaps, bl), snaps, unanswered)
	rep.Outcomes = s.exec.Execute(ctx, rep.Actions)
	rep.Summary = planner.Summarize(rep.Outcomes)
	for _, o := range rep.Outcomes {
		s.metrics.Action(string(o.Action.Type), string(o.Kind))
	}
	s.log.Info("listing sync done",
		zap.String("owner", owner), zap.Int("accounts", rep.Accounts), zap.Int("actions", len(rep.Actions)),
		zap.Int("success", rep.Summary.Success), zap.Int("failure", rep.Summary.Failure),
		zap.Int("exception", rep.Summary.Exception), zap.Strings("held", rep.Held))
	return rep, nil
}

// Snapshot builds the per-account planner input from the platforms' listings.
// A platform that fails is recorded and simply absent from the snapshots.
func (s *ListingService) Snapshot(ctx context.Context, owner string) ([]planner.AccountSnapshot, map[string]string, []PlatformError, error) {
	creds, err := s.creds.ListUsable(ctx, owner)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list credentials: %w", err)
	}

	byAccount := map[string]*planner.AccountSnapshot{}
	games := map[string]string{}
	var perrs []PlatformError
	for _, cred := range creds {
		c, err := s.clients.Get(cred.Platform)
		if err != nil {
			perrs = append(perrs, PlatformError{Owner: owner, Platform: cred.Platform, Error: err.Error()})
			continue
		}
		listings, err := c.ListListings(ctx, cred)
		if err != nil {
			err = platform.CallError(cred.Platform, "list_listings", err)
			perrs = append(perrs, PlatformError{Owner: owner, Platform: cred.Platform, Error: err.Error()})
			s.log.Warn("list listings failed", zap.String("owner", owner), zap.String("platform", string(cred.Platform)), zap.Error(err))
			continue
		}
		for _, l := range listings {
			restricted, _ := strconv.ParseBool(l.Metadata[MetaRestricted])
			n := status.Normalize(status.Input{
				Platform: cred.Platform, Raw: l.Raw, AuditReason: l.AuditReason, SubCode: l.SubCode,
				Restricted: restricted, RestrictedReason: l.Metadata[MetaRestrictedReason],
			})
			snap, ok := byAccount[l.AccountID]
			if !ok {
				snap = &planner.AccountSnapshot{Owner: owner, AccountID: l.AccountID}
				byAccount[l.AccountID] = snap
			}
			snap.Platforms = append(snap.Platforms, planner.PlatformState{
				Platform: cred.Platform, ItemID: l.ItemID, Status: n, Restricted: restricted,
			})
			if games[l.AccountID] == "" {
				games[l.AccountID] = l.Game
			}
		}
	}

	ids := make([]string, 0, len(byAccount))
	for id := range byAccount {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]planner.AccountSnapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, *byAccount[id])
	}
	return out, games, perrs, nil
}

// holdRelists drops relist actions for accounts missing a platform that failed
// this pass: an unseen platform may be renting the account. Delists still run.
func holdRelists(actions []planner.Action, snaps []planner.AccountSnapshot, perrs []PlatformError) ([]planner.Action, []string) {
	if len(perrs) == 0 {
		return actions, nil
	}
	incomplete := map[string]bool{}
	for _, snap := range snaps {
		seen := map[model.Platform]bool{}
		for _, p := range snap.Platforms {
			seen[p.Platform] = true
		}
		for _, pe := range perrs {
			if !seen[pe.Platform] {
				incomplete[snap.AccountID] = true
				break
			}
		}
	}
	var held []string
	heldSeen := map[string]bool{}
	out := make([]planner.Action, 0, len(actions))
	for _, a := range actions {
		if a.Type == planner.ActionRelist && incomplete[a.AccountID] {
			if !heldSeen[a.AccountID] {
				heldSeen[a.AccountID] = true
				held = append(held, a.AccountID)
			}
			continue
		}
		out = append(out, a)
	}
	return out, held
}
