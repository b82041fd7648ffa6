package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/sonickeeper/internal/errs"
	"github.com/and161185/sonickeeper/internal/model"
)

func TestSessionRepo_CreateGetDelete(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSessionRepo(db.Pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	s := &model.Session{
		ID:        uuid.Must(uuid.NewV4()),
		UserID:    uuid.Must(uuid.NewV4()),
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}

	mock.ExpectExec(sqlRe(`INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)`)).
		WithArgs(s.ID, s.UserID, s.CreatedAt, s.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, s))

	mock.ExpectQuery(sqlRe(`SELECT id, user_id, created_at, expires_at FROM sessions WHERE id=$1`)).
		WithArgs(s.ID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "created_at", "expires_at"}).
			AddRow(s.ID, s.UserID, s.CreatedAt, s.ExpiresAt))
	got, err := r.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, s.UserID, got.UserID)
	require.True(t, got.ExpiresAt.Equal(s.ExpiresAt))

	mock.ExpectQuery(sqlRe(`FROM sessions WHERE id=$1`)).
		WithArgs(s.ID).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Get(ctx, s.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)

	mock.ExpectExec(sqlRe(`DELETE FROM sessions WHERE id=$1`)).
		WithArgs(s.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.Delete(ctx, s.ID))

	mock.ExpectExec(sqlRe(`DELETE FROM sessions WHERE user_id=$1`)).
		WithArgs(s.UserID).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	require.NoError(t, r.DeleteForUser(ctx, s.UserID))

	require.NoError(t, mock.ExpectationsWereMet())
}
