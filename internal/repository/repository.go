// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/rentwatch/listing-guard/internal/model"
)

// AccountRepository stores monitored accounts and their latest normalized statuses.
type AccountRepository interface {
	// ListMonitored returns every account flagged for online probing.
	ListMonitored(ctx context.Context) ([]model.Account, error)
	// Get loads one account.
	Get(ctx context.Context, owner, accountID string) (*model.Account, error)
	// UpsertStatuses records the statuses observed by a listing sync.
	UpsertStatuses(ctx context.Context, owner, accountID, game string, statuses map[model.Platform]model.StatusCode) error
}

// CredentialRepository resolves owners' platform credentials.
type CredentialRepository interface {
	// Get returns a usable credential or errs.ErrNoCredential.
	Get(ctx context.Context, owner string, p model.Platform) (model.Credential, error)
	// ListUsable returns every enabled credential of an owner.
	ListUsable(ctx context.Context, owner string) ([]model.Credential, error)
	// ListOwners returns owners with at least one enabled credential.
	ListOwners(ctx context.Context) ([]string, error)
}

// BlacklistRepository manages the per-(owner, account) blacklist with audit history.
type BlacklistRepository interface {
	// Get returns the live entry or errs.ErrNotFound.
	Get(ctx context.Context, owner, accountID string) (*model.BlacklistEntry, error)
	// List returns every live entry of an owner.
	List(ctx context.Context, owner string) (model.Blacklist, error)
	// ListByReason returns an owner's entries with the given reason.
	ListByReason(ctx context.Context, owner string, reason model.BlacklistReason) ([]model.BlacklistEntry, error)
	// Upsert inserts or replaces the entry and appends a history row atomically.
	Upsert(ctx context.Context, e model.BlacklistEntry, actor string) error
	// Delete removes the entry and appends a history row atomically; false if absent.
	Delete(ctx context.Context, owner, accountID, actor string) (bool, error)
}

// RiskEventRepository stores risk events, deduplicated while open.
type RiskEventRepository interface {
	// UpsertOpen inserts an open event or merges into the existing one.
	UpsertOpen(ctx context.Context, in model.RiskEventInput) (model.UpsertResult, error)
	// GetOpen returns the open event for the key or errs.ErrNotFound.
	GetOpen(ctx context.Context, owner, accountID string, rt model.RiskType) (*model.RiskEvent, error)
	// Resolve closes an open event; false if it was already closed.
	Resolve(ctx context.Context, id int64, status model.RiskStatus, desc string) (bool, error)
	// CloseOrphaned closes open events whose guard tasks all finished.
	CloseOrphaned(ctx context.Context) (int, error)
}

// GuardTaskRepository persists guard tasks and enforces their lifecycle.
type GuardTaskRepository interface {
	// Create inserts a new task; errs.ErrAlreadyExists if an active one exists.
	Create(ctx context.Context, t *model.GuardTask) error
	// GetActive returns the pending/watching task for the key or errs.ErrNotFound.
	GetActive(ctx context.Context, owner, accountID string, tt model.GuardTaskType) (*model.GuardTask, error)
	// ListDue returns active tasks with next_check_at <= now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.GuardTask, error)
	// Update writes t if its stored status is still from and from -> t.Status is legal.
	Update(ctx context.Context, t *model.GuardTask, from model.GuardStatus) error
}

// OrderRepository stores orders pulled by the order sync.
type OrderRepository interface {
	// UpsertBatch inserts or refreshes orders and returns the number written.
	UpsertBatch(ctx context.Context, orders []model.Order) (int, error)
	// ListActive returns an owner's active orders.
	ListActive(ctx context.Context, owner string) ([]model.Order, error)
	// Get returns one order or errs.ErrNotFound.
	Get(ctx context.Context, owner string, p model.Platform, orderID string) (*model.Order, error)
	// LatestEnded returns the account's most recently ended order or errs.ErrNotFound.
	LatestEnded(ctx context.Context, owner, accountID string, now time.Time) (*model.Order, error)
}

// WatermarkRepository tracks order sync freshness per (owner, platform).
type WatermarkRepository interface {
	// List returns an owner's watermarks by platform.
	List(ctx context.Context, owner string) (map[model.Platform]model.Watermark, error)
	// Advance moves the watermark forward; it never moves back.
	Advance(ctx context.Context, owner string, p model.Platform, at time.Time) error
}
