package lock

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rentwatch/listing-guard/internal/model"
)

// PG is a PostgreSQL-backed lease lock over table lease_locks.
type PG struct {
	pool pgxQuerier
	now  func() time.Time
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// NewPG constructs a PostgreSQL-backed lease lock.
func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool, now: time.Now}
}

// NewPGWithQuerier constructs a lease lock over any querier with an explicit clock.
func NewPGWithQuerier(q pgxQuerier, now func() time.Time) *PG {
	if now == nil {
		now = time.Now
	}
	return &PG{pool: q, now: now}
}

func leaseSeconds(d time.Duration) int64 {
	s := int64(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// Acquire implements Locker in a single transaction.
func (l *PG) Acquire(ctx context.Context, key, owner string, lease time.Duration) (res model.Lease, err error) {
	res = model.Lease{Key: key, Owner: owner}

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return res, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
			res.Acquired = false
		}
	}()

	const sel = `SELECT lease_until, owner FROM lease_locks WHERE key=$1 FOR UPDATE`
	const ins = `INSERT INTO lease_locks (key, lease_until, owner, updated_at) VALUES ($1,$2,$3,now()) ON CONFLICT (key) DO NOTHING`
	const upd = `UPDATE lease_locks SET lease_until=$2, owner=$3, updated_at=now() WHERE key=$1`
	const cur = `SELECT lease_until, owner FROM lease_locks WHERE key=$1`

	now := l.now().Unix()
	until := now + leaseSeconds(lease)

	var heldUntil int64
	var holder string
	scanErr := tx.QueryRow(ctx, sel, key).Scan(&heldUntil, &holder)
	switch {
	case errors.Is(scanErr, pgx.ErrNoRows):
		tag, e := tx.Exec(ctx, ins, key, until, owner)
		if e != nil {
			return res, e
		}
		if tag.RowsAffected() == 0 {
			// Lost the insert race; report the winner's lease.
			if err = tx.QueryRow(ctx, cur, key).Scan(&heldUntil, &holder); err != nil {
				return res, err
			}
			res.LeaseUntil = heldUntil
			return res, nil
		}
	case scanErr != nil:
		return res, scanErr
	case heldUntil > now:
		res.LeaseUntil = heldUntil
		return res, nil
	default:
		if _, err = tx.Exec(ctx, upd, key, until, owner); err != nil {
			return res, err
		}
	}
	res.Acquired = true
	res.LeaseUntil = until
	return res, nil
}

// Release implements Locker. Releasing a lease owned by someone else is a no-op.
func (l *PG) Release(ctx context.Context, key, owner string) error {
	const q = `DELETE FROM lease_locks WHERE key=$1 AND owner=$2`
	_, err := l.pool.Exec(ctx, q, key, owner)
	return err
}
