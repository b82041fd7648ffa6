// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/sonickeeper/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository provides access to user accounts.
type UserRepository interface {
	// GetByID loads a user by ID; errs.ErrNotFound when absent.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByIDForUpdate loads and row-locks a user. Only meaningful inside a transaction.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByName loads a user by exact name.
	GetByName(ctx context.Context, name string) (*model.User, error)
	// List returns all users ordered by name.
	List(ctx context.Context) ([]model.User, error)
	// Count returns the number of users.
	Count(ctx context.Context) (int, error)
	// Create inserts a new user; errs.ErrDuplicateName when the name is taken.
	Create(ctx context.Context, u *model.User) error
	// Rename changes the user name; errs.ErrDuplicateName when taken.
	Rename(ctx context.Context, id uuid.UUID, name string) error
	// SetAdmin changes the admin flag.
	SetAdmin(ctx context.Context, id uuid.UUID, admin bool) error
	// SetPassword replaces hash and salt together.
	SetPassword(ctx context.Context, id uuid.UUID, hash, salt []byte) error
	// SetMail changes the mail address.
	SetMail(ctx context.Context, id uuid.UUID, mail string) error
	// Delete removes the user row.
	Delete(ctx context.Context, id uuid.UUID) error
	// SetExternalCredential stores token, session key and external name at once.
	SetExternalCredential(ctx context.Context, id uuid.UUID, c model.ExternalCredential) error
	// ClearExternalCredential clears all external credential fields.
	ClearExternalCredential(ctx context.Context, id uuid.UUID) error
	// TouchLogin records the last successful login time.
	TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ClientPrefsRepository provides access to per-client preferences.
type ClientPrefsRepository interface {
	// Find loads the row for (userID, client).
	Find(ctx context.Context, userID uuid.UUID, client string) (*model.ClientPrefs, error)
	// ListForUser returns every client row of a user ordered by client name.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]model.ClientPrefs, error)
	// UpsertFormat sets or clears (nil) the transcoding format.
	UpsertFormat(ctx context.Context, userID uuid.UUID, client string, format *string) error
	// UpsertBitrate sets or clears (nil) the bitrate cap.
	UpsertBitrate(ctx context.Context, userID uuid.UUID, client string, bitrate *int) error
	// Delete removes the (userID, client) row; absent rows are not an error.
	Delete(ctx context.Context, userID uuid.UUID, client string) error
	// DeleteForUser removes every row of a user.
	DeleteForUser(ctx context.Context, userID uuid.UUID) error
}

// SessionRepository persists login sessions.
type SessionRepository interface {
	Create(ctx context.Context, s *model.Session) error
	Get(ctx context.Context, id uuid.UUID) (*model.Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteForUser(ctx context.Context, userID uuid.UUID) error
}

// Repos bundles repositories bound to one connection or transaction.
type Repos struct {
	Users    UserRepository
	Prefs    ClientPrefsRepository
	Sessions SessionRepository
}

// Store hands out repositories and runs units of work.
type Store interface {
	// Repos returns repositories outside any transaction.
	Repos() Repos
	// InTx runs fn in one transaction: commit on nil error, rollback otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}
