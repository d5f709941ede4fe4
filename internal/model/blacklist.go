package model

import (
	"encoding/json"
	"time"
)

// BlacklistReason tags why an account is held off every platform.
type BlacklistReason string

// Blacklist reasons.
const (
	ReasonCooldown       BlacklistReason = "cooldown"
	ReasonOnlineRisk     BlacklistReason = "online-risk"
	ReasonForcedPlay     BlacklistReason = "forced-play"
	ReasonOrderThreshold BlacklistReason = "order-threshold-exceeded"
	ReasonManual         BlacklistReason = "manual"
)

// Protective reports whether the entry is owned by the guard machinery and
// may only be removed through the release guard.
func (r BlacklistReason) Protective() bool {
	return r == ReasonCooldown || r == ReasonOnlineRisk || r == ReasonForcedPlay
}

// BlacklistEntry holds one live blacklist row per (owner, account).
type BlacklistEntry struct {
	Owner     string
	AccountID string
	Reason    BlacklistReason
	Detail    json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CooldownDetail is the detail payload of a "cooldown" entry.
type CooldownDetail struct {
	CooldownUntil time.Time `json:"cooldown_until"`
	OrderID       string    `json:"order_id"`
	Platform      Platform  `json:"platform"`
}

// GuardDetail is the detail payload written by the guard machinery.
type GuardDetail struct {
	Source   string    `json:"source"`
	TaskID   int64     `json:"task_id,omitempty"`
	EventID  int64     `json:"event_id,omitempty"`
	Online   bool      `json:"online"`
	Forbid   bool      `json:"forbidden"`
	Detected time.Time `json:"detected_at"`
}

// DecodeCooldown parses a cooldown detail blob.
func DecodeCooldown(raw json.RawMessage) (CooldownDetail, error) {
	var d CooldownDetail
	if len(raw) == 0 {
		return d, nil
	}
	err := json.Unmarshal(raw, &d)
	return d, err
}

// Blacklist is an owner's blacklist keyed by account id.
type Blacklist map[string]BlacklistEntry

// Has reports membership.
func (b Blacklist) Has(accountID string) bool {
	_, ok := b[accountID]
	return ok
}
