// Package platform defines the boundary to the rental marketplace clients.
package platform

import (
	"context"
	"errors"
	"time"

	"github.com/rentwatch/listing-guard/internal/errs"
	"github.com/rentwatch/listing-guard/internal/model"
)

// Client is one marketplace's API surface. Implementations own signing,
// sessions and per-call deadlines; failures come back as errors only.
type Client interface {
	// ListListings returns every listing visible with the credential.
	ListListings(ctx context.Context, cred model.Credential) ([]model.Listing, error)
	// SetListing puts an item on (true) or off (false) the shelf.
	SetListing(ctx context.Context, cred model.Credential, itemID string, on bool) (bool, error)
	// QueryOnline reports whether the account is currently logged in to the game.
	QueryOnline(ctx context.Context, cred model.Credential, accountID, game string) (bool, error)
	// QueryForcedPlayBlock reports whether the forced-play-block is enabled.
	QueryForcedPlayBlock(ctx context.Context, cred model.Credential, accountID, game string) (bool, error)
	// SetForcedPlayBlock toggles the forced-play-block and returns the resulting state.
	SetForcedPlayBlock(ctx context.Context, cred model.Credential, accountID, game string, enabled bool) (bool, error)
	// ListOrders returns orders updated at or after since.
	ListOrders(ctx context.Context, cred model.Credential, since time.Time) ([]model.Order, error)
}

// Registry resolves clients by platform.
type Registry map[model.Platform]Client

// Get returns the client for p.
func (r Registry) Get(p model.Platform) (Client, error) {
	c, ok := r[p]
	if !ok || c == nil {
		return nil, errs.Validation("unknown platform %q", p)
	}
	return c, nil
}

// CallError wraps an error from platform p as an upstream error. An error
// that is already upstream is returned unchanged.
func CallError(p model.Platform, op string, err error) error {
	if err == nil || errs.IsUpstream(err) {
		return err
	}
	return errs.Upstream(string(p), op, err)
}

// Rejected is returned when a platform answered but refused the change.
func Rejected(p model.Platform, op string) error {
	return errs.Upstream(string(p), op, errors.New("rejected"))
}
