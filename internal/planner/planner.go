// Package planner computes the minimal delist/relist actions that make an
// account's listings consistent across platforms.
package planner

import (
	"fmt"

	"github.com/rentwatch/listing-guard/internal/model"
	"github.com/rentwatch/listing-guard/internal/status"
)

// ActionType is the listing change to perform.
type ActionType string

// Action types.
const (
	ActionDelist ActionType = "delist"
	ActionRelist ActionType = "relist"
)

// Action is one listing change on one platform.
type Action struct {
	Type      ActionType     `json:"type"`
	Owner     string         `json:"owner"`
	AccountID string         `json:"account_id"`
	Platform  model.Platform `json:"platform"`
	ItemID    string         `json:"item_id"`
	Reason    string         `json:"reason"`
}

// PlatformState is one platform's normalized view of an account.
type PlatformState struct {
	Platform model.Platform    `json:"platform"`
	ItemID   string            `json:"item_id"`
	Status   status.Normalized `json:"status"`
	// Restricted gates relisting on top of the status code.
	Restricted bool `json:"restricted,omitempty"`
}

func (p PlatformState) listed() bool  { return p.Status.Code == model.StatusListed }
func (p PlatformState) renting() bool { return p.Status.Code == model.StatusRenting }

// delisted covers every code that means "not on the shelf" as observed.
func (p PlatformState) delisted() bool {
	switch p.Status.Code {
	case model.StatusDelisted, model.StatusReviewFailed, model.StatusAuthAbnormal, model.StatusRestricted:
		return true
	}
	return false
}

// AccountSnapshot is everything the planner needs about one account.
type AccountSnapshot struct {
	Owner           string                `json:"owner"`
	AccountID       string                `json:"account_id"`
	Platforms       []PlatformState       `json:"platforms"`
	Blacklisted     bool                  `json:"blacklisted"`
	BlacklistReason model.BlacklistReason `json:"blacklist_reason,omitempty"`
}

// Plan returns the actions for one account.
//
// Renting on any platform delists every other listed platform. Otherwise a
// system-level off (blacklist or platform-forced delist) delists every listed
// platform. Otherwise every delisted platform that is not restricted-like is
// relisted.
func Plan(s AccountSnapshot) []Action {
	var out []Action
	add := func(t ActionType, p PlatformState, reason string) {
		out = append(out, Action{
			Type:      t,
			Owner:     s.Owner,
			AccountID: s.AccountID,
			Platform:  p.Platform,
			ItemID:    p.ItemID,
			Reason:    reason,
		})
	}

	for _, rp := range s.Platforms {
		if !rp.renting() {
			continue
		}
		for _, p := range s.Platforms {
			if p.Platform != rp.Platform && p.listed() {
				add(ActionDelist, p, fmt.Sprintf("renting on %s", rp.Platform))
			}
		}
		return out
	}

	if reason, off := systemOff(s); off {
		for _, p := range s.Platforms {
			if p.listed() {
				add(ActionDelist, p, reason)
			}
		}
		return out
	}

	for _, p := range s.Platforms {
		if !p.delisted() || p.Status.RestrictedLike() || p.Restricted {
			continue
		}
		add(ActionRelist, p, "no rental in progress")
	}
	return out
}

func systemOff(s AccountSnapshot) (string, bool) {
	if s.Blacklisted {
		if s.BlacklistReason == model.ReasonManual || s.BlacklistReason == "" {
			return "manual blacklist", true
		}
		return fmt.Sprintf("blacklisted: %s", s.BlacklistReason), true
	}
	for _, p := range s.Platforms {
		switch p.Status.SystemOff {
		case status.SystemOffOnlinePlay:
			return fmt.Sprintf("online play detected by %s", p.Platform), true
		case status.SystemOffGeneric:
			return fmt.Sprintf("system delist on %s", p.Platform), true
		}
	}
	return "", false
}

// PlanAll plans every account, marking blacklist membership from bl.
func PlanAll(snaps []AccountSnapshot, bl model.Blacklist) []Action {
	var out []Action
	for _, s := range snaps {
		if e, ok := bl[s.AccountID]; ok {
			s.Blacklisted = true
			s.BlacklistReason = e.Reason
		}
		out = append(out, Plan(s)...)
	}
	return out
}
