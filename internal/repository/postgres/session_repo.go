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

// SessionRepo implements SessionRepository using PostgreSQL.
type SessionRepo struct{ q Querier }

var _ repository.SessionRepository = (*SessionRepo)(nil)

// NewSessionRepo binds a session repository to a pool or a transaction.
func NewSessionRepo(q Querier) *SessionRepo { return &SessionRepo{q: q} }

// Create inserts a session row.
func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	const q = `INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)`
	if _, err := r.q.Exec(ctx, q, s.ID, s.UserID, s.CreatedAt, s.ExpiresAt); err != nil {
		return storageErr("create session", err)
	}
	return nil
}

// Get loads a session by id.
func (r *SessionRepo) Get(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	const q = `SELECT id, user_id, created_at, expires_at FROM sessions WHERE id=$1`
	var s model.Session
	if err := r.q.QueryRow(ctx, q, id).Scan(&s.ID, &s.UserID, &s.CreatedAt, &s.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, storageErr("get session", err)
	}
	return &s, nil
}

// Delete removes a session. Missing rows are ignored.
func (r *SessionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM sessions WHERE id=$1`, id); err != nil {
		return storageErr("delete session", err)
	}
	return nil
}

// DeleteForUser removes all sessions of a user.
func (r *SessionRepo) DeleteForUser(ctx context.Context, userID uuid.UUID) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM sessions WHERE user_id=$1`, userID); err != nil {
		return storageErr("delete user sessions", err)
	}
	return nil
}
