package grpcserver

import (
	"time"

	"github.com/and161185/sonickeeper/internal/model"
)

// LoginRequest carries user credentials.
type LoginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// LoginResponse carries the issued access token.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	SessionID   string    `json:"session_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id"`
	Admin       bool      `json:"admin"`
}

// Empty is used by calls without payload.
type Empty struct{}

// UserRequest addresses a user by id or "me".
type UserRequest struct {
	ID string `json:"id"`
}

// User is the public view of an account.
type User struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Mail        string     `json:"mail,omitempty"`
	Admin       bool       `json:"admin"`
	LastFMName  string     `json:"lastfm_name,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// ListUsersResponse lists accounts.
type ListUsersResponse struct {
	Users []User `json:"users"`
}

// AddUserRequest creates an account.
type AddUserRequest struct {
	Name     string `json:"name"`
	Mail     string `json:"mail"`
	Password string `json:"password"`
	Confirm  string `json:"confirm"`
	Admin    bool   `json:"admin"`
}

// ChangeUsernameRequest renames an account and optionally flips its admin flag.
type ChangeUsernameRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Admin *bool  `json:"admin,omitempty"`
}

// ChangePasswordRequest replaces a password.
type ChangePasswordRequest struct {
	ID      string `json:"id"`
	Current string `json:"current"`
	New     string `json:"new"`
	Confirm string `json:"confirm"`
}

// OutcomeResponse reports the result of a mutation.
type OutcomeResponse struct {
	Message string `json:"message"`
	User    *User  `json:"user,omitempty"`
}

func toUser(u model.User) User {
	return User{
		ID:          u.ID.String(),
		Name:        u.Name,
		Mail:        u.Mail,
		Admin:       u.Admin,
		LastFMName:  u.LastFM.Name,
		LastLoginAt: u.LastLoginAt,
	}
}
