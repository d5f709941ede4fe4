// Package model defines domain entities used by services and repositories.
package model

import (
	"encoding/json"
	"time"

	"github.com/rentwatch/listing-guard/internal/errs"
)

// Platform names a rental marketplace.
type Platform string

// Supported marketplaces.
const (
	PlatformZHW  Platform = "zhw"
	PlatformUHZ  Platform = "uhz"
	PlatformUUZH Platform = "uuzh"
)

// Platforms lists every supported marketplace in planning order.
var Platforms = []Platform{PlatformZHW, PlatformUHZ, PlatformUUZH}

// StatusCode is a normalized listing status.
type StatusCode string

// Normalized listing statuses.
const (
	StatusListed       StatusCode = "listed"
	StatusDelisted     StatusCode = "delisted" // "off_shelf" in platform vocabulary
	StatusRenting      StatusCode = "renting"
	StatusReviewFailed StatusCode = "review_failed"
	StatusAuthAbnormal StatusCode = "auth_abnormal"
	StatusRestricted   StatusCode = "restricted"
	StatusUnknown      StatusCode = "unknown"
)

// Level returns the severity rank used to pick an overall status.
func (c StatusCode) Level() int {
	switch c {
	case StatusAuthAbnormal:
		return 6
	case StatusReviewFailed:
		return 5
	case StatusRestricted:
		return 4
	case StatusRenting:
		return 3
	case StatusListed:
		return 2
	case StatusDelisted:
		return 1
	default:
		return 0
	}
}

// RestrictedLike reports whether the code blocks automatic relisting.
func (c StatusCode) RestrictedLike() bool {
	return c == StatusAuthAbnormal || c == StatusReviewFailed || c == StatusRestricted
}

// AccountKey identifies an account within an owner's fleet.
type AccountKey struct {
	Owner     string
	AccountID string
}

// Account is a monitored rentable account with its last observed statuses.
type Account struct {
	Owner     string
	AccountID string
	Game      string
	Monitored bool
	Statuses  map[Platform]StatusCode // latest normalized status per platform
	UpdatedAt time.Time
}

// Key returns the account's identity.
func (a Account) Key() AccountKey { return AccountKey{Owner: a.Owner, AccountID: a.AccountID} }

// Renting reports whether any platform shows the account as rented out.
func (a Account) Renting() bool {
	for _, c := range a.Statuses {
		if c == StatusRenting {
			return true
		}
	}
	return false
}

// Listing is one raw row returned by a platform's listing endpoint.
type Listing struct {
	AccountID   string
	Game        string
	ItemID      string // platform-side goods id, target of set_listing
	Raw         string // raw platform status
	AuditReason string
	SubCode     int
	Metadata    map[string]string
}

// Credential holds an owner's opaque session material for one platform.
type Credential struct {
	Owner     string
	Platform  Platform
	Payload   json.RawMessage
	Enabled   bool
	UpdatedAt time.Time
}

// Usable reports whether the credential can be handed to a platform client.
func (c Credential) Usable() bool { return c.Enabled && len(c.Payload) > 0 }

// Watermark is the last successful order sync for (owner, platform).
type Watermark struct {
	Owner    string
	Platform Platform
	SyncedAt time.Time
}

// OrderStatus is the lifecycle of a rental order.
type OrderStatus string

// Order statuses.
const (
	OrderActive   OrderStatus = "active"
	OrderEnded    OrderStatus = "ended"
	OrderRefunded OrderStatus = "refunded"
)

var orderStatusWords = map[string]OrderStatus{
	"active": OrderActive, "renting": OrderActive, "in_progress": OrderActive,
	"ended": OrderEnded, "completed": OrderEnded, "finished": OrderEnded,
	"refunded": OrderRefunded, "cancelled": OrderRefunded, "canceled": OrderRefunded,
}

// ParseOrderStatus maps a platform's status word onto OrderStatus.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	st, ok := orderStatusWords[s]
	return st, ok
}

// Valid reports whether s is one of the stored order statuses.
func (s OrderStatus) Valid() bool {
	return s == OrderActive || s == OrderEnded || s == OrderRefunded
}

// Order is a rental order synced from a platform.
type Order struct {
	Owner     string
	Platform  Platform
	OrderID   string
	AccountID string
	Game      string
	StartTime time.Time
	EndTime   time.Time
	Status    OrderStatus
	UpdatedAt time.Time
}

// Validate rejects orders the store would refuse.
func (o Order) Validate() error {
	if o.Owner == "" || o.OrderID == "" || o.AccountID == "" {
		return errs.Validation("order needs owner, order id and account")
	}
	if !o.Status.Valid() {
		return errs.Validation("order %s: unknown status %q", o.OrderID, o.Status)
	}
	return nil
}

// Lease is the outcome of a lease lock acquisition.
type Lease struct {
	Key        string
	Owner      string
	Acquired   bool
	LeaseUntil int64 // epoch seconds; the holder's value when not acquired
}
