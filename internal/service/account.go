// Package service contains the account operations service.
package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/sonickeeper/internal/authz"
	pkgcrypto "github.com/and161185/sonickeeper/internal/crypto"
	"github.com/and161185/sonickeeper/internal/crypto/sealbox"
	"github.com/and161185/sonickeeper/internal/errs"
	"github.com/and161185/sonickeeper/internal/lastfm"
	"github.com/and161185/sonickeeper/internal/model"
	"github.com/and161185/sonickeeper/internal/repository"
	"github.com/and161185/sonickeeper/internal/session"
)

// Result messages.
const (
	MsgPrefsUpdated    = "Your preferences have been updated."
	MsgNoChanges       = "No changes"
	MsgUserUpdated     = "User updated"
	MsgMailChanged     = "Mail changed"
	MsgPasswordChanged = "Password changed"
	MsgUserAdded       = "User added"
	MsgUserDeleted     = "Deleted user"
	MsgLinked          = "Your last.fm account is now linked"
	MsgUnlinked        = "Unlinked"
)

// Outcome is the terminal result of a mutating operation.
type Outcome struct {
	Message string
	User    *model.User
	// SessionInvalidated is set when the actor deleted its own account.
	SessionInvalidated bool
}

// ChangeUsernameInput is the request of ChangeUsername. Admin nil leaves the flag alone.
type ChangeUsernameInput struct {
	Name  string
	Admin *bool
}

// ChangePasswordInput is the request of ChangePassword.
type ChangePasswordInput struct {
	Current string
	New     string
	Confirm string
}

// AddUserInput is the request of AddUser.
type AddUserInput struct {
	Name     string
	Mail     string
	Password string
	Confirm  string
	Admin    bool
}

// SessionExchanger turns an external auth token into a session.
type SessionExchanger interface {
	GetSession(ctx context.Context, token string) (lastfm.Session, error)
}

// AccountService defines account listing, viewing and mutation.
// Targets are user ids or the "me" alias.
type AccountService interface {
	List(ctx context.Context, actor session.Identity) ([]model.User, error)
	Detail(ctx context.Context, actor session.Identity, target string) (model.UserDetail, error)
	UpdateClientPrefs(ctx context.Context, actor session.Identity, fields map[string]string) (Outcome, error)
	ChangeUsername(ctx context.Context, actor session.Identity, target string, in ChangeUsernameInput) (Outcome, error)
	ChangeMail(ctx context.Context, actor session.Identity, target, mail string) (Outcome, error)
	ChangePassword(ctx context.Context, actor session.Identity, target string, in ChangePasswordInput) (Outcome, error)
	AddUser(ctx context.Context, actor session.Identity, in AddUserInput) (Outcome, error)
	DeleteUser(ctx context.Context, actor session.Identity, target string) (Outcome, error)
	LinkExternal(ctx context.Context, actor session.Identity, token string) (Outcome, error)
	UnlinkExternal(ctx context.Context, actor session.Identity) (Outcome, error)
}

// AccountServiceImpl implements AccountService over a record store.
type AccountServiceImpl struct {
	store       repository.Store
	exchanger   SessionExchanger
	box         *sealbox.Box
	linkTimeout time.Duration
	log         *zap.Logger
}

var _ AccountService = (*AccountServiceImpl)(nil)

// NewAccountService constructs AccountService with required dependencies.
// A nil exchanger behaves like an unconfigured Last.fm client.
func NewAccountService(store repository.Store, ex SessionExchanger, box *sealbox.Box, linkTimeout time.Duration, log *zap.Logger) *AccountServiceImpl {
	if box == nil {
		box, _ = sealbox.New(nil)
	}
	if linkTimeout <= 0 {
		linkTimeout = 10 * time.Second
	}
	return &AccountServiceImpl{store: store, exchanger: ex, box: box, linkTimeout: linkTimeout, log: log}
}

func isSelf(actor session.Identity, id uuid.UUID) bool {
	return !actor.System && actor.UserID == id
}

// load fetches the resolved target; a missing row is ErrNotFound.
func (s *AccountServiceImpl) load(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return s.store.Repos().Users.GetByID(ctx, id)
}

// List returns all users. Admin only.
func (s *AccountServiceImpl) List(ctx context.Context, actor session.Identity) ([]model.User, error) {
	if err := authz.Allow(actor, authz.OpList, false); err != nil {
		return nil, err
	}
	return s.store.Repos().Users.List(ctx)
}

// Detail returns a user and its client preferences.
func (s *AccountServiceImpl) Detail(ctx context.Context, actor session.Identity, target string) (model.UserDetail, error) {
	id, err := authz.Resolve(actor, target, authz.OpView)
	if err != nil {
		return model.UserDetail{}, err
	}
	u, err := s.load(ctx, id)
	if err != nil {
		return model.UserDetail{}, err
	}
	clients, err := s.store.Repos().Prefs.ListForUser(ctx, id)
	if err != nil {
		return model.UserDetail{}, err
	}
	return model.UserDetail{User: *u, Clients: clients}, nil
}

// ChangeUsername renames a user and optionally changes its admin flag in one transaction.
func (s *AccountServiceImpl) ChangeUsername(ctx context.Context, actor session.Identity, target string, in ChangeUsernameInput) (Outcome, error) {
	id, err := authz.Resolve(actor, target, authz.OpEditProfile)
	if err != nil {
		return Outcome{}, err
	}
	if _, err := s.load(ctx, id); err != nil {
		return Outcome{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Outcome{}, errs.RequiredMsg("name", "The username is required")
	}

	var (
		out     Outcome
		changed bool
	)
	err = s.store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		u, err := r.Users.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		adminChange := in.Admin != nil && *in.Admin != u.Admin
		if adminChange {
			if err := authz.Allow(actor, authz.OpSetAdmin, isSelf(actor, id)); err != nil {
				return err
			}
		}
		if name == u.Name && !adminChange {
			out = Outcome{Message: MsgNoChanges, User: u}
			return nil
		}
		if name != u.Name {
			if err := r.Users.Rename(ctx, id, name); err != nil {
				return err
			}
			u.Name = name
		}
		if adminChange {
			if err := r.Users.SetAdmin(ctx, id, *in.Admin); err != nil {
				return err
			}
			u.Admin = *in.Admin
		}
		changed = true
		out = Outcome{Message: MsgUserUpdated, User: u}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	if changed {
		s.log.Info("user updated",
			zap.String("user", id.String()),
			zap.String("actor", actor.Name),
			zap.Bool("admin", out.User.Admin),
		)
	}
	return out, nil
}

// ChangeMail sets or clears the mail address.
func (s *AccountServiceImpl) ChangeMail(ctx context.Context, actor session.Identity, target, addr string) (Outcome, error) {
	id, err := authz.Resolve(actor, target, authz.OpEditProfile)
	if err != nil {
		return Outcome{}, err
	}
	u, err := s.load(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	addr = strings.TrimSpace(addr)
	if addr != "" {
		if _, perr := mail.ParseAddress(addr); perr != nil {
			return Outcome{}, &errs.ValidationError{Field: "mail", Message: "Invalid mail address"}
		}
	}
	if addr == u.Mail {
		return Outcome{Message: MsgNoChanges, User: u}, nil
	}
	if err := s.store.Repos().Users.SetMail(ctx, id, addr); err != nil {
		return Outcome{}, err
	}
	u.Mail = addr
	return Outcome{Message: MsgMailChanged, User: u}, nil
}

// ChangePassword replaces the password. The current password is required only
// when users change their own password.
func (s *AccountServiceImpl) ChangePassword(ctx context.Context, actor session.Identity, target string, in ChangePasswordInput) (Outcome, error) {
	id, err := authz.Resolve(actor, target, authz.OpChangePassword)
	if err != nil {
		return Outcome{}, err
	}
	if _, err := s.load(ctx, id); err != nil {
		return Outcome{}, err
	}
	self := isSelf(actor, id)

	switch {
	case self && in.Current == "":
		return Outcome{}, errs.RequiredMsg("current", "The current password is required")
	case in.New == "":
		return Outcome{}, errs.RequiredMsg("new", "The new password is required")
	case in.Confirm == "":
		return Outcome{}, errs.RequiredMsg("confirm", "The new password confirmation is required")
	case in.New != in.Confirm:
		return Outcome{}, errs.WithMessage(errs.ErrMismatchedConfirmation, "The new password and its confirmation don't match")
	}

	hash, salt, err := pkgcrypto.Hash(in.New)
	if err != nil {
		return Outcome{}, err
	}

	var updated *model.User
	err = s.store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		u, err := r.Users.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if self && !pkgcrypto.Verify(in.Current, u.PwdHash, u.Salt) {
			return errs.ErrWrongPassword
		}
		if err := r.Users.SetPassword(ctx, id, hash, salt); err != nil {
			return err
		}
		u.PwdHash, u.Salt = hash, salt
		updated = u
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	s.log.Info("password changed", zap.String("user", id.String()), zap.String("actor", actor.Name))
	return Outcome{Message: MsgPasswordChanged, User: updated}, nil
}

// AddUser creates an account. Admin only.
func (s *AccountServiceImpl) AddUser(ctx context.Context, actor session.Identity, in AddUserInput) (Outcome, error) {
	if err := authz.Allow(actor, authz.OpCreate, false); err != nil {
		return Outcome{}, err
	}
	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		return Outcome{}, errs.RequiredMsg("name", "The name is required.")
	case in.Password == "":
		return Outcome{}, errs.RequiredMsg("password", "Please provide a password")
	case in.Password != in.Confirm:
		return Outcome{}, errs.WithMessage(errs.ErrMismatchedConfirmation, "The passwords don't match.")
	}
	addr := strings.TrimSpace(in.Mail)
	if addr != "" {
		if _, perr := mail.ParseAddress(addr); perr != nil {
			return Outcome{}, &errs.ValidationError{Field: "mail", Message: "Invalid mail address"}
		}
	}

	u, err := s.createUser(ctx, name, addr, in.Password, in.Admin)
	if err != nil {
		return Outcome{}, err
	}
	s.log.Info("user added",
		zap.String("user", u.ID.String()),
		zap.String("name", u.Name),
		zap.Bool("admin", u.Admin),
		zap.String("actor", actor.Name),
	)
	return Outcome{Message: MsgUserAdded, User: u}, nil
}

func (s *AccountServiceImpl) createUser(ctx context.Context, name, addr, password string, admin bool) (*model.User, error) {
	uid, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	hash, salt, err := pkgcrypto.Hash(password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		ID:        uid,
		Name:      name,
		Mail:      addr,
		PwdHash:   hash,
		Salt:      salt,
		Admin:     admin,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Repos().Users.Create(ctx, u); err != nil {
		if errors.Is(err, errs.ErrDuplicateName) {
			return nil, errs.WithMessage(errs.ErrDuplicateName, "There is already a user with that name. Please pick another one.")
		}
		return nil, err
	}
	return u, nil
}

// DeleteUser removes a user with its preferences and sessions. Admin only.
func (s *AccountServiceImpl) DeleteUser(ctx context.Context, actor session.Identity, target string) (Outcome, error) {
	id, err := authz.Resolve(actor, target, authz.OpDelete)
	if err != nil {
		return Outcome{}, err
	}
	var deleted *model.User
	err = s.store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		u, err := r.Users.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := r.Prefs.DeleteForUser(ctx, id); err != nil {
			return err
		}
		if err := r.Sessions.DeleteForUser(ctx, id); err != nil {
			return err
		}
		if err := r.Users.Delete(ctx, id); err != nil {
			return err
		}
		deleted = u
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	self := isSelf(actor, id)
	s.log.Info("user deleted",
		zap.String("user", id.String()),
		zap.String("name", deleted.Name),
		zap.String("actor", actor.Name),
		zap.Bool("self", self),
	)
	return Outcome{Message: MsgUserDeleted, User: deleted, SessionInvalidated: self}, nil
}
