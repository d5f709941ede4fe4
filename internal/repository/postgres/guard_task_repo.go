package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rentwatch/listing-guard/internal/errs"
	"github.com/rentwatch/listing-guard/internal/model"
)

// GuardTaskRepo implements GuardTaskRepository using PostgreSQL.
// At most one live active task per (owner, account_id, task_type) is enforced
// by the partial unique index guard_tasks_active_uniq.
type GuardTaskRepo struct{ db *DB }

// NewGuardTaskRepo constructs a guard task repository.
func NewGuardTaskRepo(db *DB) *GuardTaskRepo { return &GuardTaskRepo{db: db} }

const guardCols = `id, owner, account_id, game, task_type, event_id, status, retry_count, max_retry,
       next_check_at, last_online_tag, blacklist_applied, forbidden_applied, last_error,
       watch_cycles, created_at, updated_at`

func scanGuard(row pgx.Row) (model.GuardTask, error) {
	var t model.GuardTask
	err := row.Scan(
		&t.ID, &t.Owner, &t.AccountID, &t.Game, &t.TaskType, &t.EventID, &t.Status,
		&t.RetryCount, &t.MaxRetry, &t.NextCheckAt, &t.LastOnlineTag,
		&t.BlacklistApplied, &t.ForbiddenApplied, &t.LastError,
		&t.WatchCycles, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

// Create inserts t as a new task and fills its id and timestamps.
func (r *GuardTaskRepo) Create(ctx context.Context, t *model.GuardTask) error {
	if t.Owner == "" || t.AccountID == "" || t.TaskType == "" {
		return errs.Validation("guard task needs owner, account and type")
	}
	if !t.Status.Active() {
		return fmt.Errorf("create task in status %q: %w", t.Status, errs.ErrIllegalTransition)
	}
	const q = `
INSERT INTO guard_tasks (owner, account_id, game, task_type, event_id, status, retry_count, max_retry,
                         next_check_at, last_online_tag, blacklist_applied, forbidden_applied, last_error, watch_cycles)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
RETURNING id, created_at, updated_at`
	err := r.db.Pool.QueryRow(ctx, q,
		t.Owner, t.AccountID, t.Game, t.TaskType, t.EventID, t.Status, t.RetryCount, t.MaxRetry,
		t.NextCheckAt, t.LastOnlineTag, t.BlacklistApplied, t.ForbiddenApplied, t.LastError, t.WatchCycles,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetActive returns the live pending/watching task for the key.
func (r *GuardTaskRepo) GetActive(ctx context.Context, owner, accountID string, tt model.GuardTaskType) (*model.GuardTask, error) {
	const q = `SELECT ` + guardCols + `
FROM guard_tasks
WHERE owner=$1 AND account_id=$2 AND task_type=$3 AND deleted_at IS NULL AND status IN ('pending','watching')`
	t, err := scanGuard(r.db.Pool.QueryRow(ctx, q, owner, accountID, tt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ListDue returns active tasks due at now.
func (r *GuardTaskRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]model.GuardTask, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + guardCols + `
FROM guard_tasks
WHERE deleted_at IS NULL AND status IN ('pending','watching') AND next_check_at <= $1
ORDER BY next_check_at ASC, id ASC
LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.GuardTask
	for rows.Next() {
		t, err := scanGuard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Update persists t when the stored row is still in status from. Terminal
// rows never match, so a finished task is never written again.
func (r *GuardTaskRepo) Update(ctx context.Context, t *model.GuardTask, from model.GuardStatus) error {
	if !from.CanTransition(t.Status) {
		return fmt.Errorf("guard task %d %s -> %s: %w", t.ID, from, t.Status, errs.ErrIllegalTransition)
	}
	const q = `
UPDATE guard_tasks
SET status=$3, retry_count=$4, next_check_at=$5, last_online_tag=$6,
    blacklist_applied=$7, forbidden_applied=$8, last_error=$9, watch_cycles=$10, updated_at=now()
WHERE id=$1 AND status=$2 AND deleted_at IS NULL`
	tag, err := r.db.Pool.Exec(ctx, q,
		t.ID, from, t.Status, t.RetryCount, t.NextCheckAt, t.LastOnlineTag,
		t.BlacklistApplied, t.ForbiddenApplied, t.LastError, t.WatchCycles,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrVersionConflict
	}
	return nil
}
