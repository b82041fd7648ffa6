package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/sonickeeper/internal/repository"
)

// Store implements repository.Store on top of a pool.
type Store struct{ db *DB }

var _ repository.Store = (*Store)(nil)

// NewStore constructs a store.
func NewStore(db *DB) *Store { return &Store{db: db} }

func reposFor(q Querier) repository.Repos {
	return repository.Repos{
		Users:    NewUserRepo(q),
		Prefs:    NewClientPrefsRepo(q),
		Sessions: NewSessionRepo(q),
	}
}

// Repos returns pool-bound repositories.
func (s *Store) Repos() repository.Repos { return reposFor(s.db.Pool) }

// InTx begins a transaction, runs fn with tx-bound repositories, and then
// commits on success or rolls back on error/panic. Panics are rethrown.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, r repository.Repos) error) (err error) {
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storageErr("begin tx", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = storageErr("commit", e)
		}
	}()

	return fn(ctx, reposFor(tx))
}
