package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/rentwatch/listing-guard/internal/errs"
	"github.com/rentwatch/listing-guard/internal/model"
)

// RiskEventRepo implements RiskEventRepository using PostgreSQL.
// One open row per (owner, account_id, risk_type) is enforced by the partial
// unique index risk_events_open_uniq.
type RiskEventRepo struct{ db *DB }

// NewRiskEventRepo constructs a risk event repository.
func NewRiskEventRepo(db *DB) *RiskEventRepo { return &RiskEventRepo{db: db} }

// upsertAttempts bounds retries after losing the open-row insert race.
const upsertAttempts = 3

// UpsertOpen inserts an open event or merges the snapshot into the existing one.
// first_hit_at and latest_order from the stored snapshot are kept.
func (r *RiskEventRepo) UpsertOpen(ctx context.Context, in model.RiskEventInput) (model.UpsertResult, error) {
	if in.Owner == "" || in.AccountID == "" || in.RiskType == "" {
		return model.UpsertResult{}, errs.Validation("risk event needs owner, account and risk type")
	}
	var err error
	for i := 0; i < upsertAttempts; i++ {
		var res model.UpsertResult
		res, err = r.upsertOnce(ctx, in)
		if !isUniqueViolation(err) {
			return res, err
		}
	}
	return model.UpsertResult{}, err
}

func (r *RiskEventRepo) upsertOnce(ctx context.Context, in model.RiskEventInput) (res model.UpsertResult, err error) {
	const sel = `
SELECT id, snapshot FROM risk_events
WHERE owner=$1 AND account_id=$2 AND risk_type=$3 AND status='open'
FOR UPDATE`
	const ins = `
INSERT INTO risk_events (owner, account_id, game, risk_type, risk_level, status, snapshot)
VALUES ($1,$2,$3,$4,$5,'open',$6)
RETURNING id`
	const upd = `UPDATE risk_events SET snapshot=$2, risk_level=GREATEST(risk_level,$3), updated_at=now() WHERE id=$1`

	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		var (
			id  int64
			raw []byte
		)
		scanErr := tx.QueryRow(ctx, sel, in.Owner, in.AccountID, in.RiskType).Scan(&id, &raw)
		switch {
		case errors.Is(scanErr, pgx.ErrNoRows):
			snap, err := json.Marshal(in.Snapshot)
			if err != nil {
				return err
			}
			if err := tx.QueryRow(ctx, ins, in.Owner, in.AccountID, in.Game, in.RiskType, in.RiskLevel, snap).Scan(&id); err != nil {
				return err
			}
			res = model.UpsertResult{ID: id, Inserted: true}
			return nil
		case scanErr != nil:
			return scanErr
		}

		var prev model.Snapshot
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &prev); err != nil {
				return err
			}
		}
		merged, err := json.Marshal(model.MergeSnapshot(prev, in.Snapshot))
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, upd, id, merged, in.RiskLevel); err != nil {
			return err
		}
		res = model.UpsertResult{ID: id}
		return nil
	})
	return res, err
}

// GetOpen returns the open event for the key.
func (r *RiskEventRepo) GetOpen(ctx context.Context, owner, accountID string, rt model.RiskType) (*model.RiskEvent, error) {
	const q = `
SELECT id, owner, account_id, game, risk_type, risk_level, status, snapshot, resolve_desc, created_at, updated_at, resolved_at
FROM risk_events WHERE owner=$1 AND account_id=$2 AND risk_type=$3 AND status='open'`
	var (
		e   model.RiskEvent
		raw []byte
	)
	err := r.db.Pool.QueryRow(ctx, q, owner, accountID, rt).Scan(
		&e.ID, &e.Owner, &e.AccountID, &e.Game, &e.RiskType, &e.RiskLevel, &e.Status,
		&raw, &e.ResolveDesc, &e.CreatedAt, &e.UpdatedAt, &e.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &e.Snapshot); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

// Resolve moves an open event to resolved or ignored. Closed events are left alone.
func (r *RiskEventRepo) Resolve(ctx context.Context, id int64, status model.RiskStatus, desc string) (bool, error) {
	if !model.RiskOpen.CanTransition(status) {
		return false, errs.ErrIllegalTransition
	}
	const q = `
UPDATE risk_events SET status=$2, resolve_desc=$3, resolved_at=now(), updated_at=now()
WHERE id=$1 AND status='open'`
	tag, err := r.db.Pool.Exec(ctx, q, id, status, desc)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CloseOrphaned resolves open events whose linked guard tasks are all terminal.
func (r *RiskEventRepo) CloseOrphaned(ctx context.Context) (int, error) {
	const q = `
UPDATE risk_events e
SET status='resolved', resolve_desc='closed by consistency sweep', resolved_at=now(), updated_at=now()
WHERE e.status='open'
  AND EXISTS (SELECT 1 FROM guard_tasks t WHERE t.event_id=e.id AND t.status IN ('done','failed'))
  AND NOT EXISTS (SELECT 1 FROM guard_tasks t WHERE t.event_id=e.id AND t.deleted_at IS NULL AND t.status IN ('pending','watching'))`
	tag, err := r.db.Pool.Exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
