package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rentwatch/listing-guard/internal/errs"
	"github.com/rentwatch/listing-guard/internal/model"
)

// OrderRepo implements OrderRepository using PostgreSQL.
type OrderRepo struct{ db *DB }

// NewOrderRepo constructs an order repository.
func NewOrderRepo(db *DB) *OrderRepo { return &OrderRepo{db: db} }

const orderCols = `owner, platform, order_id, account_id, game, start_time, end_time, status, updated_at`

func scanOrder(row pgx.Row) (model.Order, error) {
	var o model.Order
	err := row.Scan(&o.Owner, &o.Platform, &o.OrderID, &o.AccountID, &o.Game, &o.StartTime, &o.EndTime, &o.Status, &o.UpdatedAt)
	return o, err
}

// UpsertBatch writes every order in one transaction.
func (r *OrderRepo) UpsertBatch(ctx context.Context, orders []model.Order) (int, error) {
	if len(orders) == 0 {
		return 0, nil
	}
	const q = `
INSERT INTO orders (owner, platform, order_id, account_id, game, start_time, end_time, status, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
ON CONFLICT (owner, platform, order_id)
DO UPDATE SET account_id=EXCLUDED.account_id, game=EXCLUDED.game, start_time=EXCLUDED.start_time,
              end_time=EXCLUDED.end_time, status=EXCLUDED.status, updated_at=now()`
	n := 0
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		for _, o := range orders {
			if err := o.Validate(); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, q, o.Owner, o.Platform, o.OrderID, o.AccountID, o.Game, o.StartTime, o.EndTime, o.Status); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ListActive returns an owner's active orders.
func (r *OrderRepo) ListActive(ctx context.Context, owner string) ([]model.Order, error) {
	const q = `SELECT ` + orderCols + ` FROM orders WHERE owner=$1 AND status='active' ORDER BY account_id, end_time`
	rows, err := r.db.Pool.Query(ctx, q, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Get returns one order.
func (r *OrderRepo) Get(ctx context.Context, owner string, p model.Platform, orderID string) (*model.Order, error) {
	const q = `SELECT ` + orderCols + ` FROM orders WHERE owner=$1 AND platform=$2 AND order_id=$3`
	o, err := scanOrder(r.db.Pool.QueryRow(ctx, q, owner, p, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

// LatestEnded returns the account's order with the latest end_time not after now.
func (r *OrderRepo) LatestEnded(ctx context.Context, owner, accountID string, now time.Time) (*model.Order, error) {
	const q = `SELECT ` + orderCols + `
FROM orders WHERE owner=$1 AND account_id=$2 AND end_time <= $3
ORDER BY end_time DESC LIMIT 1`
	o, err := scanOrder(r.db.Pool.QueryRow(ctx, q, owner, accountID, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}
