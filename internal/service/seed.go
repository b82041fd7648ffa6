package service

import (
	"context"

	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/sonickeeper/internal/crypto"
)

// DefaultAdminName is the account created on an empty store.
const DefaultAdminName = "admin"

// SeedAdmin creates an administrator with a random password when the store has
// no users and returns that password. It returns "" when users already exist.
func (s *AccountServiceImpl) SeedAdmin(ctx context.Context) (string, error) {
	n, err := s.store.Repos().Users.Count(ctx)
	if err != nil {
		return "", err
	}
	if n > 0 {
		return "", nil
	}
	password, err := pkgcrypto.NewToken(12)
	if err != nil {
		return "", err
	}
	u, err := s.createUser(ctx, DefaultAdminName, "", password, true)
	if err != nil {
		return "", err
	}
	s.log.Warn("created initial administrator, change its password",
		zap.String("user", u.ID.String()),
		zap.String("name", u.Name),
		zap.String("password", password),
	)
	return password, nil
}
