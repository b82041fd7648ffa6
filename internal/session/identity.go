// Package session carries the current identity and manages login sessions.
package session

import (
	"context"

	"github.com/gofrs/uuid/v5"
)

type ctxKey string

const identityKey ctxKey = "sk.identity"

// Identity is the authenticated actor of a request. The zero value is anonymous.
type Identity struct {
	UserID    uuid.UUID
	Name      string
	Admin     bool
	SessionID uuid.UUID
	// System marks an operator acting outside any account (CLI).
	System bool
}

// Anonymous is the identity of an unauthenticated request.
var Anonymous = Identity{}

// System returns the operator identity used by offline tooling.
func System() Identity {
	return Identity{Name: "system", Admin: true, System: true}
}

// IsAuthenticated reports whether the identity belongs to a logged-in user or the operator.
func (i Identity) IsAuthenticated() bool {
	return i.System || i.UserID != uuid.Nil
}

// WithIdentity stores the identity in context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext fetches the identity; Anonymous when none is set.
func FromContext(ctx context.Context) Identity {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok {
		return Anonymous
	}
	return id
}
