package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/rentwatch/listing-guard/internal/errs"
	"github.com/rentwatch/listing-guard/internal/model"
)

// BlacklistRepo implements BlacklistRepository using PostgreSQL.
type BlacklistRepo struct{ db *DB }

// NewBlacklistRepo constructs a blacklist repository.
func NewBlacklistRepo(db *DB) *BlacklistRepo { return &BlacklistRepo{db: db} }

const blacklistCols = `owner, account_id, reason, detail, created_at, updated_at`

func scanBlacklist(row pgx.Row) (model.BlacklistEntry, error) {
	var (
		e      model.BlacklistEntry
		detail []byte
	)
	err := row.Scan(&e.Owner, &e.AccountID, &e.Reason, &detail, &e.CreatedAt, &e.UpdatedAt)
	if len(detail) > 0 {
		e.Detail = json.RawMessage(detail)
	}
	return e, err
}

// Get returns the live entry for (owner, account).
func (r *BlacklistRepo) Get(ctx context.Context, owner, accountID string) (*model.BlacklistEntry, error) {
	const q = `SELECT ` + blacklistCols + ` FROM blacklist WHERE owner=$1 AND account_id=$2`
	e, err := scanBlacklist(r.db.Pool.QueryRow(ctx, q, owner, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// List returns every live entry of an owner keyed by account.
func (r *BlacklistRepo) List(ctx context.Context, owner string) (model.Blacklist, error) {
	const q = `SELECT ` + blacklistCols + ` FROM blacklist WHERE owner=$1`
	rows, err := r.db.Pool.Query(ctx, q, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := model.Blacklist{}
	for rows.Next() {
		e, err := scanBlacklist(rows)
		if err != nil {
			return nil, err
		}
		out[e.AccountID] = e
	}
	return out, rows.Err()
}

// ListByReason returns an owner's entries carrying reason.
func (r *BlacklistRepo) ListByReason(ctx context.Context, owner string, reason model.BlacklistReason) ([]model.BlacklistEntry, error) {
	const q = `SELECT ` + blacklistCols + ` FROM blacklist WHERE owner=$1 AND reason=$2 ORDER BY account_id`
	rows, err := r.db.Pool.Query(ctx, q, owner, reason)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BlacklistEntry
	for rows.Next() {
		e, err := scanBlacklist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Upsert writes the entry and its history row in one transaction.
func (r *BlacklistRepo) Upsert(ctx context.Context, e model.BlacklistEntry, actor string) error {
	if e.Owner == "" || e.AccountID == "" || e.Reason == "" {
		return errs.Validation("blacklist entry needs owner, account and reason")
	}
	detail := []byte(e.Detail)
	if len(detail) == 0 {
		detail = []byte(`{}`)
	}
	const ups = `
INSERT INTO blacklist (owner, account_id, reason, detail, created_at, updated_at)
VALUES ($1,$2,$3,$4,now(),now())
ON CONFLICT (owner, account_id)
DO UPDATE SET reason=EXCLUDED.reason, detail=EXCLUDED.detail, updated_at=now()`
	const hist = `INSERT INTO blacklist_history (owner, account_id, action, reason, detail, actor) VALUES ($1,$2,'upsert',$3,$4,$5)`

	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, ups, e.Owner, e.AccountID, e.Reason, detail); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, hist, e.Owner, e.AccountID, e.Reason, detail, actor)
		return err
	})
}

// Delete removes the entry and records the removal in one transaction.
func (r *BlacklistRepo) Delete(ctx context.Context, owner, accountID, actor string) (bool, error) {
	const del = `DELETE FROM blacklist WHERE owner=$1 AND account_id=$2 RETURNING reason, detail`
	const hist = `INSERT INTO blacklist_history (owner, account_id, action, reason, detail, actor) VALUES ($1,$2,'remove',$3,$4,$5)`

	removed := false
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		var (
			reason model.BlacklistReason
			detail []byte
		)
		if err := tx.QueryRow(ctx, del, owner, accountID).Scan(&reason, &detail); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		removed = true
		_, err := tx.Exec(ctx, hist, owner, accountID, reason, detail, actor)
		return err
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}
