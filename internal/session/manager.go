package session

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/sonickeeper/internal/crypto"
	"github.com/and161185/sonickeeper/internal/errs"
	"github.com/and161185/sonickeeper/internal/limiter"
	"github.com/and161185/sonickeeper/internal/model"
	"github.com/and161185/sonickeeper/internal/repository"
)

// Provider logs users in and resolves tokens back to identities.
type Provider interface {
	// Login applies rate limiting, verifies credentials and opens a session.
	Login(ctx context.Context, name, password, ip string) (model.Tokens, Identity, error)
	// Authenticate turns an access token into the identity of a live session.
	Authenticate(ctx context.Context, token string) (Identity, error)
	// Logout ends the session; unknown sessions are ignored.
	Logout(ctx context.Context, sessionID uuid.UUID) error
}

type claims struct {
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

// Manager implements Provider on top of the record store.
type Manager struct {
	store     repository.Store
	lim       limiter.Limiter
	signKey   []byte
	accessTTL time.Duration
	log       *zap.Logger
	now       func() time.Time
}

var _ Provider = (*Manager)(nil)

// NewManager constructs a session manager.
func NewManager(store repository.Store, lim limiter.Limiter, signKey []byte, accessTTL time.Duration, log *zap.Logger) *Manager {
	return &Manager{store: store, lim: lim, signKey: signKey, accessTTL: accessTTL, log: log, now: time.Now}
}

// Login authenticates with rate limiting by (name, ip).
func (m *Manager) Login(ctx context.Context, name, password, ip string) (model.Tokens, Identity, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := m.lim.Allow(ctx, name, ipHash)
	if err != nil {
		return model.Tokens{}, Anonymous, err
	}
	if !allowed {
		return model.Tokens{}, Anonymous, errs.ErrRateLimited
	}

	repos := m.store.Repos()
	u, err := repos.Users.GetByName(ctx, name)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, Anonymous, err
	}
	if err != nil || !pkgcrypto.Verify(password, u.PwdHash, u.Salt) {
		if blocked, _, ferr := m.lim.Failure(ctx, name, ipHash); ferr == nil && blocked {
			return model.Tokens{}, Anonymous, errs.ErrRateLimited
		}
		// unknown user and wrong password look the same
		return model.Tokens{}, Anonymous, errs.ErrInvalidCredentials
	}

	_ = m.lim.Success(ctx, name, ipHash)

	now := m.now()
	s := &model.Session{
		ID:        uuid.Must(uuid.NewV4()),
		UserID:    u.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.accessTTL),
	}
	if err := repos.Sessions.Create(ctx, s); err != nil {
		return model.Tokens{}, Anonymous, err
	}
	if err := repos.Users.TouchLogin(ctx, u.ID, now); err != nil {
		m.log.Warn("touch login", zap.String("user", u.ID.String()), zap.Error(err))
	}

	access, err := m.issueAccessToken(u.ID, s.ID, now, s.ExpiresAt)
	if err != nil {
		return model.Tokens{}, Anonymous, err
	}
	id := Identity{UserID: u.ID, Name: u.Name, Admin: u.Admin, SessionID: s.ID}
	return model.Tokens{AccessToken: access, SessionID: s.ID, ExpiresAt: s.ExpiresAt}, id, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject and session.
func (m *Manager) issueAccessToken(userID, sessionID uuid.UUID, now, exp time.Time) (string, error) {
	c := claims{
		SID: sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.signKey)
}

// Authenticate validates the token, checks the session row and loads the user.
// The admin flag is read from the user row, not from the token.
func (m *Manager) Authenticate(ctx context.Context, token string) (Identity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c,
		func(*jwt.Token) (any, error) { return m.signKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Anonymous, errs.ErrUnauthenticated
	}
	uid, err := uuid.FromString(c.Subject)
	if err != nil {
		return Anonymous, errs.ErrUnauthenticated
	}
	sid, err := uuid.FromString(c.SID)
	if err != nil {
		return Anonymous, errs.ErrUnauthenticated
	}

	repos := m.store.Repos()
	s, err := repos.Sessions.Get(ctx, sid)
	if errors.Is(err, errs.ErrNotFound) {
		return Anonymous, errs.ErrUnauthenticated
	}
	if err != nil {
		return Anonymous, err
	}
	if s.UserID != uid || !m.now().Before(s.ExpiresAt) {
		return Anonymous, errs.ErrUnauthenticated
	}

	u, err := repos.Users.GetByID(ctx, uid)
	if errors.Is(err, errs.ErrNotFound) {
		return Anonymous, errs.ErrUnauthenticated
	}
	if err != nil {
		return Anonymous, err
	}
	return Identity{UserID: u.ID, Name: u.Name, Admin: u.Admin, SessionID: sid}, nil
}

// Logout deletes the session row.
func (m *Manager) Logout(ctx context.Context, sessionID uuid.UUID) error {
	return m.store.Repos().Sessions.Delete(ctx, sessionID)
}
