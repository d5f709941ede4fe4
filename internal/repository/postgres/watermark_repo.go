package postgres

import (
	"context"
	"time"

	"github.com/rentwatch/listing-guard/internal/model"
)

// WatermarkRepo implements WatermarkRepository using PostgreSQL.
type WatermarkRepo struct{ db *DB }

// NewWatermarkRepo constructs a watermark repository.
func NewWatermarkRepo(db *DB) *WatermarkRepo { return &WatermarkRepo{db: db} }

// List returns the owner's order sync watermarks.
func (r *WatermarkRepo) List(ctx context.Context, owner string) (map[model.Platform]model.Watermark, error) {
	const q = `SELECT owner, platform, synced_at FROM sync_watermarks WHERE owner=$1`
	rows, err := r.db.Pool.Query(ctx, q, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[model.Platform]model.Watermark{}
	for rows.Next() {
		var w model.Watermark
		if err := rows.Scan(&w.Owner, &w.Platform, &w.SyncedAt); err != nil {
			return nil, err
		}
		out[w.Platform] = w
	}
	return out, rows.Err()
}

// Advance moves the watermark to at unless it is already later.
func (r *WatermarkRepo) Advance(ctx context.Context, owner string, p model.Platform, at time.Time) error {
	const q = `
INSERT INTO sync_watermarks (owner, platform, synced_at) VALUES ($1,$2,$3)
ON CONFLICT (owner, platform)
DO UPDATE SET synced_at=GREATEST(sync_watermarks.synced_at, EXCLUDED.synced_at)`
	_, err := r.db.Pool.Exec(ctx, q, owner, p, at)
	return err
}
