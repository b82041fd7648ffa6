package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/sonickeeper/internal/errs"
	"github.com/and161185/sonickeeper/internal/model"
	"github.com/and161185/sonickeeper/internal/repository"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ q Querier }

var _ repository.UserRepository = (*UserRepo)(nil)

// NewUserRepo binds a user repository to a pool or a transaction.
func NewUserRepo(q Querier) *UserRepo { return &UserRepo{q: q} }

const userCols = `id, name, mail, password_hash, salt, admin, lastfm_token, lastfm_session, lastfm_name, last_login_at, created_at`

func scanUser(row pgx.Row, u *model.User) error {
	return row.Scan(&u.ID, &u.Name, &u.Mail, &u.PwdHash, &u.Salt, &u.Admin,
		&u.LastFM.Token, &u.LastFM.SessionKey, &u.LastFM.Name, &u.LastLoginAt, &u.CreatedAt)
}

func (r *UserRepo) getOne(ctx context.Context, op, q string, arg any) (*model.User, error) {
	var u model.User
	if err := scanUser(r.q.QueryRow(ctx, q, arg), &u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, storageErr(op, err)
	}
	return &u, nil
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE id=$1`
	return r.getOne(ctx, "get user", q, id)
}

// GetByIDForUpdate selects a user by ID and locks the row until the transaction ends.
func (r *UserRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE id=$1 FOR UPDATE`
	return r.getOne(ctx, "lock user", q, id)
}

// GetByName selects a user by name.
func (r *UserRepo) GetByName(ctx context.Context, name string) (*model.User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE name=$1`
	return r.getOne(ctx, "get user by name", q, name)
}

// List returns all users ordered by name.
func (r *UserRepo) List(ctx context.Context) ([]model.User, error) {
	const q = `SELECT ` + userCols + ` FROM users ORDER BY name`
	rows, err := r.q.Query(ctx, q)
	if err != nil {
		return nil, storageErr("list users", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, storageErr("list users", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list users", err)
	}
	return out, nil
}

// Count returns the number of users.
func (r *UserRepo) Count(ctx context.Context) (int, error) {
	const q = `SELECT count(*) FROM users`
	var n int
	if err := r.q.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, storageErr("count users", err)
	}
	return n, nil
}

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, name, mail, password_hash, salt, admin)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.q.Exec(ctx, q, u.ID, u.Name, u.Mail, u.PwdHash, u.Salt, u.Admin)
	if isUniqueViolation(err) {
		return errs.ErrDuplicateName
	}
	if err != nil {
		return storageErr("create user", err)
	}
	return nil
}

// exec runs a single-row UPDATE/DELETE and maps zero affected rows to ErrNotFound.
func (r *UserRepo) exec(ctx context.Context, op, q string, args ...any) error {
	tag, err := r.q.Exec(ctx, q, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.ErrDuplicateName
		}
		return storageErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Rename changes the name of a user.
func (r *UserRepo) Rename(ctx context.Context, id uuid.UUID, name string) error {
	return r.exec(ctx, "rename user", `UPDATE users SET name=$2 WHERE id=$1`, id, name)
}

// SetAdmin changes the admin flag.
func (r *UserRepo) SetAdmin(ctx context.Context, id uuid.UUID, admin bool) error {
	return r.exec(ctx, "set admin", `UPDATE users SET admin=$2 WHERE id=$1`, id, admin)
}

// SetPassword replaces the password hash and salt.
func (r *UserRepo) SetPassword(ctx context.Context, id uuid.UUID, hash, salt []byte) error {
	return r.exec(ctx, "set password", `UPDATE users SET password_hash=$2, salt=$3 WHERE id=$1`, id, hash, salt)
}

// SetMail changes the mail address.
func (r *UserRepo) SetMail(ctx context.Context, id uuid.UUID, mail string) error {
	return r.exec(ctx, "set mail", `UPDATE users SET mail=$2 WHERE id=$1`, id, mail)
}

// Delete removes a user. Dependent rows go through ON DELETE CASCADE as well.
func (r *UserRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, "delete user", `DELETE FROM users WHERE id=$1`, id)
}

// SetExternalCredential writes the whole Last.fm credential in one statement.
func (r *UserRepo) SetExternalCredential(ctx context.Context, id uuid.UUID, c model.ExternalCredential) error {
	const q = `
UPDATE users
SET lastfm_token=$2, lastfm_session=$3, lastfm_name=$4
WHERE id=$1`
	return r.exec(ctx, "set lastfm", q, id, c.Token, c.SessionKey, c.Name)
}

// ClearExternalCredential clears the Last.fm credential.
func (r *UserRepo) ClearExternalCredential(ctx context.Context, id uuid.UUID) error {
	const q = `
UPDATE users
SET lastfm_token='', lastfm_session=NULL, lastfm_name=''
WHERE id=$1`
	return r.exec(ctx, "clear lastfm", q, id)
}

// TouchLogin stamps the last login time.
func (r *UserRepo) TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.exec(ctx, "touch login", `UPDATE users SET last_login_at=$2 WHERE id=$1`, id, at)
}
