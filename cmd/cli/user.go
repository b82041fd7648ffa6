package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/sonickeeper/internal/errs"
	"github.com/and161185/sonickeeper/internal/model"
	"github.com/and161185/sonickeeper/internal/repository"
	"github.com/and161185/sonickeeper/internal/service"
	"github.com/and161185/sonickeeper/internal/session"
)

var errUsage = errors.New("usage: sk-admin user list|add|delete|setadmin|passwd|rename")

// app runs account commands as the operator identity.
type app struct {
	accounts     service.AccountService
	users        repository.UserRepository
	out          io.Writer
	readPassword func(prompt string) (string, error)
}

type userRow struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Mail      string `json:"mail,omitempty"`
	Admin     bool   `json:"admin"`
	LastFM    string `json:"lastfm,omitempty"`
	LastLogin string `json:"last_login,omitempty"`
}

func toRow(u model.User) userRow {
	r := userRow{ID: u.ID.String(), Name: u.Name, Mail: u.Mail, Admin: u.Admin, LastFM: u.LastFM.Name}
	if u.LastLoginAt != nil {
		r.LastLogin = u.LastLoginAt.UTC().Format(time.RFC3339)
	}
	return r
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) < 2 || args[0] != "user" {
		return errUsage
	}
	rest := args[2:]
	switch args[1] {
	case "list":
		return a.list(ctx)
	case "add":
		return a.add(ctx, rest)
	case "delete", "rm":
		return a.delete(ctx, rest)
	case "setadmin":
		return a.setAdmin(ctx, rest)
	case "passwd":
		return a.passwd(ctx, rest)
	case "rename":
		return a.rename(ctx, rest)
	default:
		return errUsage
	}
}

// lookup accepts a user id or an exact user name.
func (a *app) lookup(ctx context.Context, ref string) (*model.User, error) {
	if id, err := uuid.FromString(ref); err == nil {
		return a.users.GetByID(ctx, id)
	}
	u, err := a.users.GetByName(ctx, ref)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.WithMessage(err, fmt.Sprintf("No such user %q", ref))
	}
	return u, err
}

func (a *app) list(ctx context.Context) error {
	users, err := a.accounts.List(ctx, session.System())
	if err != nil {
		return err
	}
	rows := make([]userRow, 0, len(users))
	for _, u := range users {
		rows = append(rows, toRow(u))
	}
	printJSON(a.out, rows)
	return nil
}

// newPassword uses the flag value or prompts twice.
func (a *app) newPassword(flagValue string) (pw, confirm string, err error) {
	if flagValue != "" {
		return flagValue, flagValue, nil
	}
	if pw, err = a.readPassword("Password: "); err != nil {
		return "", "", err
	}
	if confirm, err = a.readPassword("Confirm password: "); err != nil {
		return "", "", err
	}
	return pw, confirm, nil
}

func (a *app) add(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("user add", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	name := fs.String("u", "", "user name")
	addr := fs.String("mail", "", "mail address")
	admin := fs.Bool("admin", false, "grant admin rights")
	p := fs.String("p", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("need -u")
	}
	pw, confirm, err := a.newPassword(*p)
	if err != nil {
		return err
	}
	o, err := a.accounts.AddUser(ctx, session.System(), service.AddUserInput{
		Name: *name, Mail: *addr, Password: pw, Confirm: confirm, Admin: *admin,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s: %s %s\n", o.Message, o.User.Name, o.User.ID)
	return nil
}

func (a *app) delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: sk-admin user delete <name|id>")
	}
	u, err := a.lookup(ctx, args[0])
	if err != nil {
		return err
	}
	o, err := a.accounts.DeleteUser(ctx, session.System(), u.ID.String())
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s: %s\n", o.Message, u.Name)
	return nil
}

func (a *app) setAdmin(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: sk-admin user setadmin <name|id> true|false")
	}
	on, err := strconv.ParseBool(args[1])
	if err != nil {
		return fmt.Errorf("admin flag: %w", err)
	}
	u, err := a.lookup(ctx, args[0])
	if err != nil {
		return err
	}
	o, err := a.accounts.ChangeUsername(ctx, session.System(), u.ID.String(), service.ChangeUsernameInput{
		Name: u.Name, Admin: &on,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, o.Message)
	return nil
}

func (a *app) passwd(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: sk-admin user passwd <name|id> [-p <password>]")
	}
	fs := flag.NewFlagSet("user passwd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	p := fs.String("p", "", "new password")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	u, err := a.lookup(ctx, args[0])
	if err != nil {
		return err
	}
	pw, confirm, err := a.newPassword(*p)
	if err != nil {
		return err
	}
	o, err := a.accounts.ChangePassword(ctx, session.System(), u.ID.String(), service.ChangePasswordInput{
		New: pw, Confirm: confirm,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, o.Message)
	return nil
}

func (a *app) rename(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: sk-admin user rename <name|id> <new name>")
	}
	u, err := a.lookup(ctx, args[0])
	if err != nil {
		return err
	}
	o, err := a.accounts.ChangeUsername(ctx, session.System(), u.ID.String(), service.ChangeUsernameInput{Name: args[1]})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, o.Message)
	return nil
}
