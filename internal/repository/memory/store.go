// Package memory is an in-process implementation of the repositories, used by
// tests and the -store=memory development mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/sonickeeper/internal/errs"
	"github.com/and161185/sonickeeper/internal/model"
	"github.com/and161185/sonickeeper/internal/repository"
)

type prefKey struct {
	user   uuid.UUID
	client string
}

type data struct {
	users    map[uuid.UUID]model.User
	prefs    map[prefKey]model.ClientPrefs
	sessions map[uuid.UUID]model.Session
}

func (d *data) clone() *data {
	c := &data{
		users:    make(map[uuid.UUID]model.User, len(d.users)),
		prefs:    make(map[prefKey]model.ClientPrefs, len(d.prefs)),
		sessions: make(map[uuid.UUID]model.Session, len(d.sessions)),
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.prefs {
		c.prefs[k] = v
	}
	for k, v := range d.sessions {
		c.sessions[k] = v
	}
	return c
}

// Store keeps all records in maps guarded by a mutex. txMu is held for the
// whole of a transaction and for every single call made outside one, so a
// rollback never discards a write that was reported as done.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex
	d    *data
	fail error
}

var _ repository.Store = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{d: &data{
		users:    map[uuid.UUID]model.User{},
		prefs:    map[prefKey]model.ClientPrefs{},
		sessions: map[uuid.UUID]model.Session{},
	}}
}

// SetFailure makes every subsequent operation return err (nil resets).
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *Store) do(fn func(d *data) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	return fn(s.d)
}

// run executes fn under mu; calls outside a transaction also wait for any running one.
func (s *Store) run(inTx bool, fn func(d *data) error) error {
	if !inTx {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	return s.do(fn)
}

func (s *Store) repos(inTx bool) repository.Repos {
	return repository.Repos{
		Users:    &userRepo{s: s, tx: inTx},
		Prefs:    &prefsRepo{s: s, tx: inTx},
		Sessions: &sessionRepo{s: s, tx: inTx},
	}
}

// Repos returns repositories over the shared maps. They must not be used
// from inside an InTx callback; use the repos handed to fn there.
func (s *Store) Repos() repository.Repos { return s.repos(false) }

// InTx serializes transactions and restores the previous state when fn fails or panics.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, r repository.Repos) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	if s.fail != nil {
		s.mu.Unlock()
		return s.fail
	}
	snapshot := s.d.clone()
	s.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()
	return fn(ctx, s.repos(true))
}

func (s *Store) restore(d *data) {
	s.mu.Lock()
	s.d = d
	s.mu.Unlock()
}

type userRepo struct {
	s  *Store
	tx bool
}

func (r *userRepo) get(id uuid.UUID) (*model.User, error) {
	var out *model.User
	err := r.s.run(r.tx, func(d *data) error {
		u, ok := d.users[id]
		if !ok {
			return errs.ErrNotFound
		}
		out = &u
		return nil
	})
	return out, err
}

func (r *userRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) { return r.get(id) }

func (r *userRepo) GetByIDForUpdate(_ context.Context, id uuid.UUID) (*model.User, error) {
	return r.get(id)
}

func (r *userRepo) GetByName(_ context.Context, name string) (*model.User, error) {
	var out *model.User
	err := r.s.run(r.tx, func(d *data) error {
		for _, u := range d.users {
			if u.Name == name {
				out = &u
				return nil
			}
		}
		return errs.ErrNotFound
	})
	return out, err
}

func (r *userRepo) List(_ context.Context) ([]model.User, error) {
	var out []model.User
	err := r.s.run(r.tx, func(d *data) error {
		for _, u := range d.users {
			out = append(out, u)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

func (r *userRepo) Count(_ context.Context) (int, error) {
	var n int
	err := r.s.run(r.tx, func(d *data) error {
		n = len(d.users)
		return nil
	})
	return n, err
}

func nameTaken(d *data, name string, except uuid.UUID) bool {
	for id, u := range d.users {
		if id != except && u.Name == name {
			return true
		}
	}
	return false
}

func (r *userRepo) Create(_ context.Context, u *model.User) error {
	return r.s.run(r.tx, func(d *data) error {
		if nameTaken(d, u.Name, uuid.Nil) {
			return errs.ErrDuplicateName
		}
		c := *u
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now()
		}
		d.users[c.ID] = c
		return nil
	})
}

func (r *userRepo) update(id uuid.UUID, fn func(d *data, u *model.User) error) error {
	return r.s.run(r.tx, func(d *data) error {
		u, ok := d.users[id]
		if !ok {
			return errs.ErrNotFound
		}
		if err := fn(d, &u); err != nil {
			return err
		}
		d.users[id] = u
		return nil
	})
}

func (r *userRepo) Rename(_ context.Context, id uuid.UUID, name string) error {
	return r.update(id, func(d *data, u *model.User) error {
		if nameTaken(d, name, id) {
			return errs.ErrDuplicateName
		}
		u.Name = name
		return nil
	})
}

func (r *userRepo) SetAdmin(_ context.Context, id uuid.UUID, admin bool) error {
	return r.update(id, func(_ *data, u *model.User) error {
		u.Admin = admin
		return nil
	})
}

func (r *userRepo) SetPassword(_ context.Context, id uuid.UUID, hash, salt []byte) error {
	return r.update(id, func(_ *data, u *model.User) error {
		u.PwdHash, u.Salt = hash, salt
		return nil
	})
}

func (r *userRepo) SetMail(_ context.Context, id uuid.UUID, mail string) error {
	return r.update(id, func(_ *data, u *model.User) error {
		u.Mail = mail
		return nil
	})
}

func (r *userRepo) SetExternalCredential(_ context.Context, id uuid.UUID, c model.ExternalCredential) error {
	return r.update(id, func(_ *data, u *model.User) error {
		u.LastFM = c
		return nil
	})
}

func (r *userRepo) ClearExternalCredential(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(_ *data, u *model.User) error {
		u.LastFM = model.ExternalCredential{}
		return nil
	})
}

func (r *userRepo) TouchLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.update(id, func(_ *data, u *model.User) error {
		u.LastLoginAt = &at
		return nil
	})
}

// Delete mirrors ON DELETE CASCADE for prefs and sessions.
func (r *userRepo) Delete(_ context.Context, id uuid.UUID) error {
	return r.s.run(r.tx, func(d *data) error {
		if _, ok := d.users[id]; !ok {
			return errs.ErrNotFound
		}
		delete(d.users, id)
		for k := range d.prefs {
			if k.user == id {
				delete(d.prefs, k)
			}
		}
		for k, s := range d.sessions {
			if s.UserID == id {
				delete(d.sessions, k)
			}
		}
		return nil
	})
}

type prefsRepo struct {
	s  *Store
	tx bool
}

func (r *prefsRepo) Find(_ context.Context, userID uuid.UUID, client string) (*model.ClientPrefs, error) {
	var out *model.ClientPrefs
	err := r.s.run(r.tx, func(d *data) error {
		p, ok := d.prefs[prefKey{userID, client}]
		if !ok {
			return errs.ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *prefsRepo) ListForUser(_ context.Context, userID uuid.UUID) ([]model.ClientPrefs, error) {
	var out []model.ClientPrefs
	err := r.s.run(r.tx, func(d *data) error {
		for k, p := range d.prefs {
			if k.user == userID {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ClientName < out[j].ClientName })
	return out, err
}

func (r *prefsRepo) upsert(userID uuid.UUID, client string, fn func(p *model.ClientPrefs)) error {
	return r.s.run(r.tx, func(d *data) error {
		if _, ok := d.users[userID]; !ok {
			return errs.ErrNotFound
		}
		k := prefKey{userID, client}
		p, ok := d.prefs[k]
		if !ok {
			p = model.ClientPrefs{UserID: userID, ClientName: client}
		}
		fn(&p)
		d.prefs[k] = p
		return nil
	})
}

func (r *prefsRepo) UpsertFormat(_ context.Context, userID uuid.UUID, client string, format *string) error {
	return r.upsert(userID, client, func(p *model.ClientPrefs) { p.Format = format })
}

func (r *prefsRepo) UpsertBitrate(_ context.Context, userID uuid.UUID, client string, bitrate *int) error {
	return r.upsert(userID, client, func(p *model.ClientPrefs) { p.Bitrate = bitrate })
}

func (r *prefsRepo) Delete(_ context.Context, userID uuid.UUID, client string) error {
	return r.s.run(r.tx, func(d *data) error {
		delete(d.prefs, prefKey{userID, client})
		return nil
	})
}

func (r *prefsRepo) DeleteForUser(_ context.Context, userID uuid.UUID) error {
	return r.s.run(r.tx, func(d *data) error {
		for k := range d.prefs {
			if k.user == userID {
				delete(d.prefs, k)
			}
		}
		return nil
	})
}

type sessionRepo struct {
	s  *Store
	tx bool
}

func (r *sessionRepo) Create(_ context.Context, s *model.Session) error {
	return r.s.run(r.tx, func(d *data) error {
		if _, ok := d.users[s.UserID]; !ok {
			return errs.ErrNotFound
		}
		d.sessions[s.ID] = *s
		return nil
	})
}

func (r *sessionRepo) Get(_ context.Context, id uuid.UUID) (*model.Session, error) {
	var out *model.Session
	err := r.s.run(r.tx, func(d *data) error {
		s, ok := d.sessions[id]
		if !ok {
			return errs.ErrNotFound
		}
		out = &s
		return nil
	})
	return out, err
}

func (r *sessionRepo) Delete(_ context.Context, id uuid.UUID) error {
	return r.s.run(r.tx, func(d *data) error {
		delete(d.sessions, id)
		return nil
	})
}

func (r *sessionRepo) DeleteForUser(_ context.Context, userID uuid.UUID) error {
	return r.s.run(r.tx, func(d *data) error {
		for k, s := range d.sessions {
			if s.UserID == userID {
				delete(d.sessions, k)
			}
		}
		return nil
	})
}
