package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/and161185/sonickeeper/internal/authz"
	"github.com/and161185/sonickeeper/internal/prefs"
	"github.com/and161185/sonickeeper/internal/repository"
	"github.com/and161185/sonickeeper/internal/session"
)

// UpdateClientPrefs applies "{client}_{option}" fields to the actor's own clients.
// Fields naming clients the actor has no preferences row for are ignored, and
// delete wins over any other option of the same client.
func (s *AccountServiceImpl) UpdateClientPrefs(ctx context.Context, actor session.Identity, fields map[string]string) (Outcome, error) {
	id, err := authz.Resolve(actor, authz.Me, authz.OpPrefs)
	if err != nil {
		return Outcome{}, err
	}
	changes := prefs.Parse(fields)
	if len(changes) == 0 {
		return Outcome{Message: MsgPrefsUpdated}, nil
	}

	applied := 0
	err = s.store.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		existing, err := r.Prefs.ListForUser(ctx, id)
		if err != nil {
			return err
		}
		known := make(map[string]struct{}, len(existing))
		for _, p := range existing {
			known[p.ClientName] = struct{}{}
		}

		for _, c := range changes {
			if _, ok := known[c.Client]; !ok {
				continue
			}
			if c.Delete {
				if err := r.Prefs.Delete(ctx, id, c.Client); err != nil {
					return err
				}
				applied++
				continue
			}
			if c.HasFormat {
				if err := r.Prefs.UpsertFormat(ctx, id, c.Client, c.Format); err != nil {
					return err
				}
			}
			if c.HasBitrate {
				if err := r.Prefs.UpsertBitrate(ctx, id, c.Client, c.Bitrate); err != nil {
					return err
				}
			}
			applied++
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	s.log.Debug("client prefs updated", zap.String("user", id.String()), zap.Int("clients", applied))
	return Outcome{Message: MsgPrefsUpdated}, nil
}
