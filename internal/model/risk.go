package model

import "time"

// RiskType names a detected risk condition.
type RiskType string

// RiskOnlineNotRenting is raised when an account plays while no order covers it.
const RiskOnlineNotRenting RiskType = "online-while-not-renting"

// RiskStatus is the lifecycle of a risk event.
type RiskStatus string

// Risk event statuses.
const (
	RiskOpen     RiskStatus = "open"
	RiskResolved RiskStatus = "resolved"
	RiskIgnored  RiskStatus = "ignored"
)

// CanTransition reports whether a risk event may move from s to next.
func (s RiskStatus) CanTransition(next RiskStatus) bool {
	return s == RiskOpen && (next == RiskResolved || next == RiskIgnored)
}

// Snapshot keys frozen at first detection while the event stays open.
const (
	SnapFirstHitAt  = "first_hit_at"
	SnapLatestOrder = "latest_order"
	SnapLastHitAt   = "last_hit_at"
	SnapHits        = "hits"
)

// Snapshot is the JSON state captured for a risk event.
type Snapshot map[string]any

// MergeSnapshot merges next into prev. first_hit_at and latest_order recorded
// in prev win over next; every other key takes the newer value.
func MergeSnapshot(prev, next Snapshot) Snapshot {
	out := make(Snapshot, len(prev)+len(next))
	for k, v := range prev {
		out[k] = v
	}
	for k, v := range next {
		out[k] = v
	}
	for _, k := range []string{SnapFirstHitAt, SnapLatestOrder} {
		if v, ok := prev[k]; ok && v != nil {
			out[k] = v
		}
	}
	return out
}

// RiskEvent is an open investigation for one account and risk type.
type RiskEvent struct {
	ID          int64
	Owner       string
	AccountID   string
	Game        string
	RiskType    RiskType
	RiskLevel   int
	Status      RiskStatus
	Snapshot    Snapshot
	ResolveDesc string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ResolvedAt  *time.Time
}

// RiskEventInput is the payload for upserting an open event.
type RiskEventInput struct {
	Owner     string
	AccountID string
	Game      string
	RiskType  RiskType
	RiskLevel int
	Snapshot  Snapshot
}

// UpsertResult reports the open event id and whether it was freshly created.
type UpsertResult struct {
	ID       int64
	Inserted bool
}
