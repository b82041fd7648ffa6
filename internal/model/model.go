// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects issued access tokens.
type Tokens struct {
	AccessToken string
	SessionID   uuid.UUID
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// ExternalCredential is the Last.fm session bound to a user.
// The three fields are written and cleared together.
type ExternalCredential struct {
	Token      string // request token the session was exchanged from
	SessionKey []byte // sealed at rest, see sealbox
	Name       string // Last.fm user name
}

// Linked reports whether a session key is present.
func (c ExternalCredential) Linked() bool { return len(c.SessionKey) > 0 }

// User represents an account. The password is never stored in plaintext.
type User struct {
	ID          uuid.UUID // PK
	Name        string    // unique, case-sensitive
	Mail        string
	PwdHash     []byte // Argon2id(password, Salt)
	Salt        []byte // per-user salt
	Admin       bool
	LastFM      ExternalCredential
	LastLoginAt *time.Time
	CreatedAt   time.Time
}

// ClientPrefs holds per-(user, client) playback preferences. Nil means "not set".
type ClientPrefs struct {
	UserID     uuid.UUID
	ClientName string
	Format     *string
	Bitrate    *int
}

// UserDetail is a user plus the clients it has used.
type UserDetail struct {
	User    User
	Clients []ClientPrefs
}

// Session is a server-side login session referenced by access tokens.
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CreatedAt time.Time
	ExpiresAt time.Time
}
