package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/sonickeeper/internal/errs"
	"github.com/and161185/sonickeeper/internal/model"
	"github.com/and161185/sonickeeper/internal/repository"
)

// ClientPrefsRepo implements ClientPrefsRepository using PostgreSQL.
type ClientPrefsRepo struct{ q Querier }

var _ repository.ClientPrefsRepository = (*ClientPrefsRepo)(nil)

// NewClientPrefsRepo binds a preferences repository to a pool or a transaction.
func NewClientPrefsRepo(q Querier) *ClientPrefsRepo { return &ClientPrefsRepo{q: q} }

// Find selects the preferences of one client.
func (r *ClientPrefsRepo) Find(ctx context.Context, userID uuid.UUID, client string) (*model.ClientPrefs, error) {
	const q = `
SELECT user_id, client_name, format, bitrate
FROM client_prefs WHERE user_id=$1 AND client_name=$2`
	var p model.ClientPrefs
	err := r.q.QueryRow(ctx, q, userID, client).Scan(&p.UserID, &p.ClientName, &p.Format, &p.Bitrate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, storageErr("find prefs", err)
	}
	return &p, nil
}

// ListForUser returns all client rows of a user.
func (r *ClientPrefsRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]model.ClientPrefs, error) {
	const q = `
SELECT user_id, client_name, format, bitrate
FROM client_prefs WHERE user_id=$1
ORDER BY client_name`
	rows, err := r.q.Query(ctx, q, userID)
	if err != nil {
		return nil, storageErr("list prefs", err)
	}
	defer rows.Close()

	var out []model.ClientPrefs
	for rows.Next() {
		var p model.ClientPrefs
		if err := rows.Scan(&p.UserID, &p.ClientName, &p.Format, &p.Bitrate); err != nil {
			return nil, storageErr("list prefs", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list prefs", err)
	}
	return out, nil
}

// UpsertFormat sets the format, creating the row if needed. nil clears it.
func (r *ClientPrefsRepo) UpsertFormat(ctx context.Context, userID uuid.UUID, client string, format *string) error {
	const q = `
INSERT INTO client_prefs (user_id, client_name, format)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, client_name) DO UPDATE SET format=EXCLUDED.format`
	if _, err := r.q.Exec(ctx, q, userID, client, format); err != nil {
		return storageErr("upsert format", err)
	}
	return nil
}

// UpsertBitrate sets the bitrate, creating the row if needed. nil clears it.
func (r *ClientPrefsRepo) UpsertBitrate(ctx context.Context, userID uuid.UUID, client string, bitrate *int) error {
	const q = `
INSERT INTO client_prefs (user_id, client_name, bitrate)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, client_name) DO UPDATE SET bitrate=EXCLUDED.bitrate`
	if _, err := r.q.Exec(ctx, q, userID, client, bitrate); err != nil {
		return storageErr("upsert bitrate", err)
	}
	return nil
}

// Delete removes one client row.
func (r *ClientPrefsRepo) Delete(ctx context.Context, userID uuid.UUID, client string) error {
	const q = `DELETE FROM client_prefs WHERE user_id=$1 AND client_name=$2`
	if _, err := r.q.Exec(ctx, q, userID, client); err != nil {
		return storageErr("delete prefs", err)
	}
	return nil
}

// DeleteForUser removes all client rows of a user.
func (r *ClientPrefsRepo) DeleteForUser(ctx context.Context, userID uuid.UUID) error {
	const q = `DELETE FROM client_prefs WHERE user_id=$1`
	if _, err := r.q.Exec(ctx, q, userID); err != nil {
		return storageErr("delete user prefs", err)
	}
	return nil
}
