package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/rentwatch/listing-guard/internal/errs"
	"github.com/rentwatch/listing-guard/internal/model"
)

// CredentialRepo implements CredentialRepository using PostgreSQL.
type CredentialRepo struct{ db *DB }

// NewCredentialRepo constructs a credential repository.
func NewCredentialRepo(db *DB) *CredentialRepo { return &CredentialRepo{db: db} }

func scanCredential(row pgx.Row) (model.Credential, error) {
	var c model.Credential
	err := row.Scan(&c.Owner, &c.Platform, &c.Payload, &c.Enabled, &c.UpdatedAt)
	return c, err
}

// Get returns the owner's usable credential for p.
func (r *CredentialRepo) Get(ctx context.Context, owner string, p model.Platform) (model.Credential, error) {
	const q = `SELECT owner, platform, payload, enabled, updated_at FROM platform_credentials WHERE owner=$1 AND platform=$2`
	c, err := scanCredential(r.db.Pool.QueryRow(ctx, q, owner, p))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Credential{}, errs.ErrNoCredential
		}
		return model.Credential{}, err
	}
	if !c.Usable() {
		return model.Credential{}, errs.ErrNoCredential
	}
	return c, nil
}

// ListUsable returns the owner's enabled credentials ordered by platform.
func (r *CredentialRepo) ListUsable(ctx context.Context, owner string) ([]model.Credential, error) {
	const q = `
SELECT owner, platform, payload, enabled, updated_at
FROM platform_credentials WHERE owner=$1 AND enabled ORDER BY platform`
	rows, err := r.db.Pool.Query(ctx, q, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		if c.Usable() {
			out = append(out, c)
		}
	}
	return out, rows.Err()
}

// ListOwners returns owners with at least one enabled credential.
func (r *CredentialRepo) ListOwners(ctx context.Context) ([]string, error) {
	const q = `SELECT DISTINCT owner FROM platform_credentials WHERE enabled ORDER BY owner`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
