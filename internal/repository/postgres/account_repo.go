package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rentwatch/listing-guard/internal/errs"
	"github.com/rentwatch/listing-guard/internal/model"
)

// AccountRepo implements AccountRepository using PostgreSQL.
type AccountRepo struct{ db *DB }

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

func scanAccount(row pgx.Row) (model.Account, error) {
	var (
		a   model.Account
		raw []byte
	)
	if err := row.Scan(&a.Owner, &a.AccountID, &a.Game, &a.Monitored, &raw, &a.UpdatedAt); err != nil {
		return a, err
	}
	a.Statuses = map[model.Platform]model.StatusCode{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &a.Statuses); err != nil {
			return a, err
		}
	}
	return a, nil
}

// ListMonitored returns accounts flagged for probing.
func (r *AccountRepo) ListMonitored(ctx context.Context) ([]model.Account, error) {
	const q = `
SELECT owner, account_id, game, monitored, statuses, updated_at
FROM accounts WHERE monitored ORDER BY owner, account_id`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Get loads one account.
func (r *AccountRepo) Get(ctx context.Context, owner, accountID string) (*model.Account, error) {
	const q = `
SELECT owner, account_id, game, monitored, statuses, updated_at
FROM accounts WHERE owner=$1 AND account_id=$2`
	a, err := scanAccount(r.db.Pool.QueryRow(ctx, q, owner, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// UpsertStatuses merges the observed statuses into the stored map per platform;
// a platform missing from statuses keeps its last known value. New accounts
// start monitored.
func (r *AccountRepo) UpsertStatuses(ctx context.Context, owner, accountID, game string, statuses map[model.Platform]model.StatusCode) error {
	raw, err := json.Marshal(statuses)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO accounts (owner, account_id, game, monitored, statuses, updated_at)
VALUES ($1,$2,$3,true,$4,$5)
ON CONFLICT (owner, account_id)
DO UPDATE SET game=COALESCE(NULLIF(EXCLUDED.game, ''), accounts.game),
              statuses=accounts.statuses || EXCLUDED.statuses,
              updated_at=EXCLUDED.updated_at`
	_, err = r.db.Pool.Exec(ctx, q, owner, accountID, game, raw, time.Now().UTC())
	return err
}
