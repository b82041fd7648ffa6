package httpserver

import (
	"time"

	"github.com/and161185/sonickeeper/internal/model"
)

type userView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Mail        string     `json:"mail,omitempty"`
	Admin       bool       `json:"admin"`
	LastFMName  string     `json:"lastfm_name,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type clientView struct {
	ClientName string  `json:"client_name"`
	Format     *string `json:"format"`
	Bitrate    *int    `json:"bitrate"`
}

type detailView struct {
	userView
	Clients []clientView `json:"clients"`
}

type loginView struct {
	AccessToken string    `json:"access_token"`
	SessionID   string    `json:"session_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        userView  `json:"user"`
}

func toUserView(u model.User) userView {
	return userView{
		ID:          u.ID.String(),
		Name:        u.Name,
		Mail:        u.Mail,
		Admin:       u.Admin,
		LastFMName:  u.LastFM.Name,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

func toDetailView(d model.UserDetail) detailView {
	out := detailView{userView: toUserView(d.User), Clients: make([]clientView, 0, len(d.Clients))}
	for _, c := range d.Clients {
		out.Clients = append(out.Clients, clientView{ClientName: c.ClientName, Format: c.Format, Bitrate: c.Bitrate})
	}
	return out
}
