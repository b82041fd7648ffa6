package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	pkgcrypto "github.com/and161185/sonickeeper/internal/crypto"
	"github.com/and161185/sonickeeper/internal/crypto/sealbox"
	"github.com/and161185/sonickeeper/internal/errs"
	"github.com/and161185/sonickeeper/internal/lastfm"
	"github.com/and161185/sonickeeper/internal/model"
	"github.com/and161185/sonickeeper/internal/repository/memory"
	"github.com/and161185/sonickeeper/internal/session"
)

type fakeExchanger struct {
	gotToken string
	out      lastfm.Session
	err      error
}

func (f *fakeExchanger) GetSession(_ context.Context, token string) (lastfm.Session, error) {
	f.gotToken = token
	return f.out, f.err
}

type fixture struct {
	store *memory.Store
	ex    *fakeExchanger
	svc   *AccountServiceImpl
	alice model.User // admin
	bob   model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.NewStore()
	ex := &fakeExchanger{}
	box, err := sealbox.New([]byte("test master secret"))
	require.NoError(t, err)

	f := &fixture{
		store: st,
		ex:    ex,
		svc:   NewAccountService(st, ex, box, time.Second, zaptest.NewLogger(t)),
	}
	f.alice = mustAddUser(t, st, "alice", "Alic3", true)
	f.bob = mustAddUser(t, st, "bob", "B0b", false)
	return f
}

func mustAddUser(t *testing.T, st *memory.Store, name, password string, admin bool) model.User {
	t.Helper()
	hash, salt, err := pkgcrypto.Hash(password)
	require.NoError(t, err)
	u := model.User{ID: uuid.Must(uuid.NewV4()), Name: name, PwdHash: hash, Salt: salt, Admin: admin}
	require.NoError(t, st.Repos().Users.Create(context.Background(), &u))
	return u
}

func as(u model.User) session.Identity {
	return session.Identity{UserID: u.ID, Name: u.Name, Admin: u.Admin}
}

func (f *fixture) user(t *testing.T, id uuid.UUID) *model.User {
	t.Helper()
	u, err := f.store.Repos().Users.GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestList(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	users, err := f.svc.List(ctx, as(f.alice))
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, "alice", users[0].Name)
	require.Equal(t, "bob", users[1].Name)

	_, err = f.svc.List(ctx, as(f.bob))
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = f.svc.List(ctx, session.Anonymous)
	require.ErrorIs(t, err, errs.ErrUnauthenticated)

	_, err = f.svc.List(ctx, session.System())
	require.NoError(t, err)
}

func TestList_StorageUnavailable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.store.SetFailure(errs.Storage("list users", errors.New("connection refused")))

	_, err := f.svc.List(context.Background(), as(f.alice))
	require.ErrorIs(t, err, errs.ErrStorageUnavailable)
	require.Equal(t, errs.CodeStorageUnavailable, errs.CodeOf(err))
}

func TestDetail(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Repos().Prefs.UpsertFormat(ctx, f.bob.ID, "tasty", ptr("mp3")))

	d, err := f.svc.Detail(ctx, as(f.bob), "me")
	require.NoError(t, err)
	require.Equal(t, "bob", d.User.Name)
	require.Len(t, d.Clients, 1)
	require.Equal(t, "tasty", d.Clients[0].ClientName)

	d, err = f.svc.Detail(ctx, as(f.alice), f.bob.ID.String())
	require.NoError(t, err)
	require.Equal(t, f.bob.ID, d.User.ID)

	tests := []struct {
		name   string
		actor  session.Identity
		target string
		want   error
	}{
		{"non-admin other user", as(f.bob), f.alice.ID.String(), errs.ErrUnauthorized},
		{"non-admin malformed id", as(f.bob), "string", errs.ErrUnauthorized},
		{"admin malformed id", as(f.alice), "string", errs.ErrInvalidIdentifier},
		{"admin unknown id", as(f.alice), uuid.Must(uuid.NewV4()).String(), errs.ErrNotFound},
		{"anonymous", session.Anonymous, "me", errs.ErrUnauthenticated},
		{"system me", session.System(), "me", errs.ErrInvalidIdentifier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Detail(ctx, tt.actor, tt.target)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestUpdateClientPrefs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	prefsRepo := f.store.Repos().Prefs
	require.NoError(t, prefsRepo.UpsertFormat(ctx, f.bob.ID, "tasty", ptr("mp3")))
	require.NoError(t, prefsRepo.UpsertFormat(ctx, f.bob.ID, "other", ptr("flac")))

	out, err := f.svc.UpdateClientPrefs(ctx, as(f.bob), map[string]string{
		"garbage":          "trash",
		"tasty_format":     "ogg",
		"tasty_bitrate":    "128",
		"other_bitrate":    "fast",
		"unknown_format":   "opus",
		"inexisting_other": "x",
	})
	require.NoError(t, err)
	require.Equal(t, MsgPrefsUpdated, out.Message)

	p, err := prefsRepo.Find(ctx, f.bob.ID, "tasty")
	require.NoError(t, err)
	require.Equal(t, "ogg", *p.Format)
	require.Equal(t, 128, *p.Bitrate)

	p, err = prefsRepo.Find(ctx, f.bob.ID, "other")
	require.NoError(t, err)
	require.Equal(t, "flac", *p.Format)
	require.Nil(t, p.Bitrate)

	_, err = prefsRepo.Find(ctx, f.bob.ID, "unknown")
	require.ErrorIs(t, err, errs.ErrNotFound)

	// empty value clears
	_, err = f.svc.UpdateClientPrefs(ctx, as(f.bob), map[string]string{"tasty_format": ""})
	require.NoError(t, err)
	p, err = prefsRepo.Find(ctx, f.bob.ID, "tasty")
	require.NoError(t, err)
	require.Nil(t, p.Format)

	// delete wins over other options
	_, err = f.svc.UpdateClientPrefs(ctx, as(f.bob), map[string]string{
		"tasty_delete":  "on",
		"tasty_format":  "mp3",
		"other_delete":  "off",
		"other_bitrate": "96",
	})
	require.NoError(t, err)
	_, err = prefsRepo.Find(ctx, f.bob.ID, "tasty")
	require.ErrorIs(t, err, errs.ErrNotFound)
	p, err = prefsRepo.Find(ctx, f.bob.ID, "other")
	require.NoError(t, err)
	require.Equal(t, 96, *p.Bitrate)

	// out of range bitrate is dropped, the update still succeeds
	out, err = f.svc.UpdateClientPrefs(ctx, as(f.bob), map[string]string{"other_bitrate": "3000000000"})
	require.NoError(t, err)
	require.Equal(t, MsgPrefsUpdated, out.Message)
	p, err = prefsRepo.Find(ctx, f.bob.ID, "other")
	require.NoError(t, err)
	require.Equal(t, 96, *p.Bitrate)

	// other users' clients are untouched
	require.NoError(t, prefsRepo.UpsertFormat(ctx, f.alice.ID, "other", ptr("wav")))
	_, err = f.svc.UpdateClientPrefs(ctx, as(f.bob), map[string]string{"other_format": "mp3"})
	require.NoError(t, err)
	p, err = prefsRepo.Find(ctx, f.alice.ID, "other")
	require.NoError(t, err)
	require.Equal(t, "wav", *p.Format)

	_, err = f.svc.UpdateClientPrefs(ctx, session.Anonymous, map[string]string{"other_format": "mp3"})
	require.ErrorIs(t, err, errs.ErrUnauthenticated)
}

func TestChangeUsername(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.ChangeUsername(ctx, as(f.bob), "me", ChangeUsernameInput{Name: "bob"})
	require.NoError(t, err)
	require.Equal(t, MsgNoChanges, out.Message)

	_, err = f.svc.ChangeUsername(ctx, as(f.bob), "me", ChangeUsernameInput{Name: "  "})
	require.ErrorIs(t, err, errs.ErrRequired)
	require.Equal(t, errs.CodeValidation, errs.CodeOf(err))

	_, err = f.svc.ChangeUsername(ctx, as(f.bob), "me", ChangeUsernameInput{Name: "alice"})
	require.ErrorIs(t, err, errs.ErrDuplicateName)
	require.Equal(t, "bob", f.user(t, f.bob.ID).Name)

	_, err = f.svc.ChangeUsername(ctx, as(f.bob), "me", ChangeUsernameInput{Name: "b0b", Admin: ptr(true)})
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	got := f.user(t, f.bob.ID)
	require.Equal(t, "bob", got.Name)
	require.False(t, got.Admin)

	out, err = f.svc.ChangeUsername(ctx, as(f.bob), "me", ChangeUsernameInput{Name: "b0b", Admin: ptr(false)})
	require.NoError(t, err)
	require.Equal(t, MsgUserUpdated, out.Message)
	require.Equal(t, "b0b", f.user(t, f.bob.ID).Name)

	out, err = f.svc.ChangeUsername(ctx, as(f.alice), f.bob.ID.String(), ChangeUsernameInput{Name: "b0b", Admin: ptr(true)})
	require.NoError(t, err)
	require.Equal(t, MsgUserUpdated, out.Message)
	require.True(t, out.User.Admin)
	require.True(t, f.user(t, f.bob.ID).Admin)

	_, err = f.svc.ChangeUsername(ctx, as(f.alice), uuid.Must(uuid.NewV4()).String(), ChangeUsernameInput{Name: "x"})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestChangeMail(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.ChangeMail(ctx, as(f.bob), "me", "bob@example.com")
	require.NoError(t, err)
	require.Equal(t, MsgMailChanged, out.Message)
	require.Equal(t, "bob@example.com", f.user(t, f.bob.ID).Mail)

	out, err = f.svc.ChangeMail(ctx, as(f.bob), "me", "bob@example.com")
	require.NoError(t, err)
	require.Equal(t, MsgNoChanges, out.Message)

	_, err = f.svc.ChangeMail(ctx, as(f.bob), "me", "not a mail")
	var ve *errs.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "mail", ve.Field)

	_, err = f.svc.ChangeMail(ctx, as(f.bob), f.alice.ID.String(), "x@example.com")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestChangePassword_Self(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   ChangePasswordInput
		want error
	}{
		{"missing current", ChangePasswordInput{New: "n", Confirm: "n"}, errs.ErrRequired},
		{"missing new", ChangePasswordInput{Current: "B0b", Confirm: "n"}, errs.ErrRequired},
		{"missing confirm", ChangePasswordInput{Current: "B0b", New: "n"}, errs.ErrRequired},
		{"mismatch", ChangePasswordInput{Current: "B0b", New: "n", Confirm: "m"}, errs.ErrMismatchedConfirmation},
		{"wrong current", ChangePasswordInput{Current: "nope", New: "n", Confirm: "n"}, errs.ErrWrongPassword},
	}
	for _, tt := range tests {
		_, err := f.svc.ChangePassword(ctx, as(f.bob), "me", tt.in)
		require.ErrorIs(t, err, tt.want, tt.name)
		u := f.user(t, f.bob.ID)
		require.True(t, pkgcrypto.Verify("B0b", u.PwdHash, u.Salt), tt.name)
	}

	out, err := f.svc.ChangePassword(ctx, as(f.bob), "me", ChangePasswordInput{Current: "B0b", New: "newpass", Confirm: "newpass"})
	require.NoError(t, err)
	require.Equal(t, MsgPasswordChanged, out.Message)
	u := f.user(t, f.bob.ID)
	require.True(t, pkgcrypto.Verify("newpass", u.PwdHash, u.Salt))
	require.False(t, pkgcrypto.Verify("B0b", u.PwdHash, u.Salt))
}

func TestChangePassword_ByAdminAndSystem(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ChangePassword(ctx, as(f.alice), f.bob.ID.String(), ChangePasswordInput{New: "fromadmin", Confirm: "fromadmin"})
	require.NoError(t, err)
	u := f.user(t, f.bob.ID)
	require.True(t, pkgcrypto.Verify("fromadmin", u.PwdHash, u.Salt))

	_, err = f.svc.ChangePassword(ctx, session.System(), f.bob.ID.String(), ChangePasswordInput{New: "fromcli", Confirm: "fromcli"})
	require.NoError(t, err)
	u = f.user(t, f.bob.ID)
	require.True(t, pkgcrypto.Verify("fromcli", u.PwdHash, u.Salt))

	_, err = f.svc.ChangePassword(ctx, as(f.bob), f.alice.ID.String(), ChangePasswordInput{New: "x", Confirm: "x"})
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = f.svc.ChangePassword(ctx, as(f.alice), "string", ChangePasswordInput{New: "x", Confirm: "x"})
	require.ErrorIs(t, err, errs.ErrInvalidIdentifier)
}

func TestAddUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddUser(ctx, as(f.bob), AddUserInput{Name: "carol", Password: "c", Confirm: "c"})
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = f.svc.AddUser(ctx, as(f.alice), AddUserInput{Password: "c", Confirm: "c"})
	require.ErrorIs(t, err, errs.ErrRequired)
	require.Equal(t, "The name is required.", errs.MessageOf(err))

	_, err = f.svc.AddUser(ctx, as(f.alice), AddUserInput{Name: "carol"})
	require.ErrorIs(t, err, errs.ErrRequired)
	require.Equal(t, "Please provide a password", errs.MessageOf(err))

	_, err = f.svc.AddUser(ctx, as(f.alice), AddUserInput{Name: "carol", Password: "c"})
	require.ErrorIs(t, err, errs.ErrMismatchedConfirmation)
	require.Equal(t, "The passwords don't match.", errs.MessageOf(err))

	_, err = f.svc.AddUser(ctx, as(f.alice), AddUserInput{Name: "bob", Password: "c", Confirm: "c"})
	require.ErrorIs(t, err, errs.ErrDuplicateName)
	require.Contains(t, errs.MessageOf(err), "already a user")

	out, err := f.svc.AddUser(ctx, as(f.alice), AddUserInput{Name: "carol", Mail: "carol@example.com", Password: "c", Confirm: "c"})
	require.NoError(t, err)
	require.Equal(t, MsgUserAdded, out.Message)
	require.NotNil(t, out.User)

	got, err := f.store.Repos().Users.GetByName(ctx, "carol")
	require.NoError(t, err)
	require.Equal(t, out.User.ID, got.ID)
	require.False(t, got.Admin)
	require.True(t, pkgcrypto.Verify("c", got.PwdHash, got.Salt))

	n, err := f.store.Repos().Users.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestDeleteUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	r := f.store.Repos()
	require.NoError(t, r.Prefs.UpsertFormat(ctx, f.bob.ID, "tasty", ptr("mp3")))
	sid := uuid.Must(uuid.NewV4())
	now := time.Now()
	require.NoError(t, r.Sessions.Create(ctx, &model.Session{ID: sid, UserID: f.bob.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))

	_, err := f.svc.DeleteUser(ctx, as(f.bob), f.bob.ID.String())
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = f.svc.DeleteUser(ctx, as(f.alice), "string")
	require.ErrorIs(t, err, errs.ErrInvalidIdentifier)

	_, err = f.svc.DeleteUser(ctx, as(f.alice), uuid.Must(uuid.NewV4()).String())
	require.ErrorIs(t, err, errs.ErrNotFound)

	out, err := f.svc.DeleteUser(ctx, as(f.alice), f.bob.ID.String())
	require.NoError(t, err)
	require.Equal(t, MsgUserDeleted, out.Message)
	require.False(t, out.SessionInvalidated)

	_, err = r.Users.GetByID(ctx, f.bob.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = r.Sessions.Get(ctx, sid)
	require.ErrorIs(t, err, errs.ErrNotFound)
	left, err := r.Prefs.ListForUser(ctx, f.bob.ID)
	require.NoError(t, err)
	require.Empty(t, left)

	_, err = f.svc.DeleteUser(ctx, as(f.alice), f.bob.ID.String())
	require.ErrorIs(t, err, errs.ErrNotFound)

	out, err = f.svc.DeleteUser(ctx, as(f.alice), "me")
	require.NoError(t, err)
	require.True(t, out.SessionInvalidated)
}

func TestLinkExternal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.LinkExternal(ctx, as(f.bob), "")
	require.ErrorIs(t, err, errs.ErrMissingToken)

	_, err = f.svc.LinkExternal(ctx, session.Anonymous, "tok")
	require.ErrorIs(t, err, errs.ErrUnauthenticated)

	_, err = f.svc.LinkExternal(ctx, session.System(), "tok")
	require.ErrorIs(t, err, errs.ErrInvalidIdentifier)

	f.ex.err = &lastfm.APIError{Code: 4, Message: "Invalid authentication token supplied"}
	_, err = f.svc.LinkExternal(ctx, as(f.bob), "bad")
	require.ErrorIs(t, err, errs.ErrExternalService)
	require.Equal(t, "Invalid authentication token supplied", errs.MessageOf(err))
	require.False(t, f.user(t, f.bob.ID).LastFM.Linked())

	f.ex.err = context.DeadlineExceeded
	_, err = f.svc.LinkExternal(ctx, as(f.bob), "slow")
	require.ErrorIs(t, err, errs.ErrExternalService)
	require.Equal(t, "Error while linking LastFM account", errs.MessageOf(err))

	f.ex.err = nil
	f.ex.out = lastfm.Session{Name: "lfmbob", Key: "sk-123"}
	out, err := f.svc.LinkExternal(ctx, as(f.bob), "tok")
	require.NoError(t, err)
	require.Equal(t, MsgLinked, out.Message)
	require.Equal(t, "tok", f.ex.gotToken)

	u := f.user(t, f.bob.ID)
	require.True(t, u.LastFM.Linked())
	require.Equal(t, "lfmbob", u.LastFM.Name)
	require.NotEqual(t, []byte("sk-123"), u.LastFM.SessionKey)

	key, err := f.svc.externalSessionKey(u)
	require.NoError(t, err)
	require.Equal(t, "sk-123", key)

	out, err = f.svc.UnlinkExternal(ctx, as(f.bob))
	require.NoError(t, err)
	require.Equal(t, MsgUnlinked, out.Message)
	u = f.user(t, f.bob.ID)
	require.False(t, u.LastFM.Linked())
	key, err = f.svc.externalSessionKey(u)
	require.NoError(t, err)
	require.Empty(t, key)

	// unlinking twice is fine
	_, err = f.svc.UnlinkExternal(ctx, as(f.bob))
	require.NoError(t, err)
}

func TestLinkExternal_NotConfigured(t *testing.T) {
	t.Parallel()
	st := memory.NewStore()
	svc := NewAccountService(st, nil, nil, 0, zaptest.NewLogger(t))
	bob := mustAddUser(t, st, "bob", "B0b", false)

	_, err := svc.LinkExternal(context.Background(), as(bob), "tok")
	require.ErrorIs(t, err, errs.ErrExternalService)
	require.ErrorIs(t, err, lastfm.ErrNoAPIKey)
	require.Equal(t, "No API key set", errs.MessageOf(err))
}

func TestSeedAdmin(t *testing.T) {
	t.Parallel()
	st := memory.NewStore()
	svc := NewAccountService(st, nil, nil, 0, zaptest.NewLogger(t))
	ctx := context.Background()

	password, err := svc.SeedAdmin(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, password)

	u, err := st.Repos().Users.GetByName(ctx, DefaultAdminName)
	require.NoError(t, err)
	require.True(t, u.Admin)
	require.True(t, pkgcrypto.Verify(password, u.PwdHash, u.Salt))

	password, err = svc.SeedAdmin(ctx)
	require.NoError(t, err)
	require.Empty(t, password)
}
