package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/and161185/sonickeeper/internal/authz"
	"github.com/and161185/sonickeeper/internal/errs"
	"github.com/and161185/sonickeeper/internal/lastfm"
	"github.com/and161185/sonickeeper/internal/model"
	"github.com/and161185/sonickeeper/internal/session"
)

const msgLinkFailed = "Error while linking LastFM account"

// LinkExternal exchanges token for a Last.fm session and stores it on the
// actor's account. The exchange runs outside any transaction and is bounded
// by the link timeout.
func (s *AccountServiceImpl) LinkExternal(ctx context.Context, actor session.Identity, token string) (Outcome, error) {
	id, err := authz.Resolve(actor, authz.Me, authz.OpExternalLink)
	if err != nil {
		return Outcome{}, err
	}
	if token == "" {
		return Outcome{}, errs.ErrMissingToken
	}
	if s.exchanger == nil {
		return Outcome{}, errs.External("No API key set", lastfm.ErrNoAPIKey)
	}

	cctx, cancel := context.WithTimeout(ctx, s.linkTimeout)
	sess, err := s.exchanger.GetSession(cctx, token)
	cancel()
	if err != nil {
		s.log.Warn("lastfm link failed", zap.String("user", id.String()), zap.Error(err))
		return Outcome{}, linkError(err)
	}

	sealed, err := s.box.Seal([]byte(sess.Key), id.Bytes())
	if err != nil {
		return Outcome{}, err
	}
	cred := model.ExternalCredential{Token: token, SessionKey: sealed, Name: sess.Name}
	if err := s.store.Repos().Users.SetExternalCredential(ctx, id, cred); err != nil {
		return Outcome{}, err
	}
	s.log.Info("lastfm linked", zap.String("user", id.String()), zap.String("lastfm_name", sess.Name))
	return Outcome{Message: MsgLinked}, nil
}

func linkError(err error) error {
	var apiErr *lastfm.APIError
	switch {
	case errors.Is(err, lastfm.ErrNoAPIKey):
		return errs.External("No API key set", err)
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return errs.External(apiErr.Message, err)
	default:
		return errs.External(msgLinkFailed, err)
	}
}

// UnlinkExternal forgets the actor's Last.fm credential. Unlinking an
// account that was never linked succeeds.
func (s *AccountServiceImpl) UnlinkExternal(ctx context.Context, actor session.Identity) (Outcome, error) {
	id, err := authz.Resolve(actor, authz.Me, authz.OpExternalLink)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.store.Repos().Users.ClearExternalCredential(ctx, id); err != nil {
		return Outcome{}, err
	}
	s.log.Info("lastfm unlinked", zap.String("user", id.String()))
	return Outcome{Message: MsgUnlinked}, nil
}

// externalSessionKey opens the sealed Last.fm session key of a user; "" when
// the account is not linked. It is the read side of LinkExternal's sealing.
func (s *AccountServiceImpl) externalSessionKey(u *model.User) (string, error) {
	if !u.LastFM.Linked() {
		return "", nil
	}
	key, err := s.box.Open(u.LastFM.SessionKey, u.ID.Bytes())
	if err != nil {
		return "", err
	}
	return string(key), nil
}
