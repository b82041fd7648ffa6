// Package authz decides whether an identity may run an account operation on a target.
package authz

import (
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/sonickeeper/internal/errs"
	"github.com/and161185/sonickeeper/internal/session"
)

// Me is the alias for the actor's own account.
const Me = "me"

// Operation names an account operation for authorization purposes.
type Operation int

// Operations.
const (
	OpList Operation = iota
	OpView
	OpEditProfile // username and mail
	OpSetAdmin
	OpChangePassword
	OpCreate
	OpDelete
	OpPrefs
	OpExternalLink
)

var opNames = map[Operation]string{
	OpList:           "list",
	OpView:           "view",
	OpEditProfile:    "edit_profile",
	OpSetAdmin:       "set_admin",
	OpChangePassword: "change_password",
	OpCreate:         "create",
	OpDelete:         "delete",
	OpPrefs:          "prefs",
	OpExternalLink:   "external_link",
}

func (o Operation) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return "unknown"
}

func adminOnly(op Operation) bool {
	switch op {
	case OpList, OpCreate, OpDelete, OpSetAdmin:
		return true
	}
	return false
}

func selfOnly(op Operation) bool {
	return op == OpPrefs || op == OpExternalLink
}

// Allow is the decision table. self reports whether the target is the actor's own account.
func Allow(actor session.Identity, op Operation, self bool) error {
	if !actor.IsAuthenticated() {
		return errs.ErrUnauthenticated
	}
	switch {
	case selfOnly(op):
		if !self {
			return errs.ErrUnauthorized
		}
	case adminOnly(op):
		if !actor.Admin {
			return errs.ErrUnauthorized
		}
	default:
		if !self && !actor.Admin {
			return errs.ErrUnauthorized
		}
	}
	return nil
}

// ParseUserID parses a canonical user id.
func ParseUserID(raw string) (uuid.UUID, error) {
	id, err := uuid.FromString(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errs.ErrInvalidIdentifier
	}
	return id, nil
}

// Resolve maps a raw target ("me" or an id) to a user id and authorizes op on it.
//
// A non-admin actor gets ErrUnauthorized for anything other than its own
// account, including malformed ids; only admins learn that an id is invalid.
// Existence of the resolved id is checked by the caller.
func Resolve(actor session.Identity, raw string, op Operation) (uuid.UUID, error) {
	if !actor.IsAuthenticated() {
		return uuid.Nil, errs.ErrUnauthenticated
	}

	if raw == Me {
		if actor.System {
			return uuid.Nil, errs.ErrInvalidIdentifier
		}
		return actor.UserID, Allow(actor, op, true)
	}

	id, perr := ParseUserID(raw)
	self := perr == nil && !actor.System && id == actor.UserID

	if !actor.Admin && !self {
		return uuid.Nil, errs.ErrUnauthorized
	}
	if perr != nil {
		return uuid.Nil, perr
	}
	if err := Allow(actor, op, self); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}
