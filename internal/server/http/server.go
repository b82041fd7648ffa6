// Package httpserver exposes the account operations as a JSON API.
package httpserver

import (
	"context"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/and161185/sonickeeper/internal/errs"
	"github.com/and161185/sonickeeper/internal/prefs"
	"github.com/and161185/sonickeeper/internal/service"
	"github.com/and161185/sonickeeper/internal/session"
)

// Pinger reports record store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires services into HTTP handlers.
type Server struct {
	accounts service.AccountService
	auth     session.Provider
	db       Pinger
	log      *zap.Logger
	version  string
}

// New constructs the HTTP API. db may be nil when the store has nothing to ping.
func New(accounts service.AccountService, auth session.Provider, db Pinger, log *zap.Logger, version string) *Server {
	return &Server{accounts: accounts, auth: auth, db: db, log: log, version: version}
}

// Handler builds the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/logout", s.handleLogout)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleAddUser)

				r.Post("/me/prefs", s.handleUpdatePrefs)
				r.Get("/me/lastfm/link", s.handleLinkLastFM)
				r.Post("/me/lastfm/link", s.handleLinkLastFM)
				r.Post("/me/lastfm/unlink", s.handleUnlinkLastFM)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetUser)
					r.Delete("/", s.handleDeleteUser)
					r.Post("/username", s.handleChangeUsername)
					r.Post("/mail", s.handleChangeMail)
					r.Post("/password", s.handleChangePassword)
				})
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, Result{Code: errs.CodeNotFound, Message: "no such endpoint"})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			s.writeError(w, r, errs.Storage("ping", err))
			return
		}
	}
	writeOK(w, http.StatusOK, "ok", map[string]string{"status": "ok", "version": s.version})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	f, err := fields(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tok, id, err := s.auth.Login(r.Context(), first(f, "name", "user"), f["password"], clientIP(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Logged in", loginView{
		AccessToken: tok.AccessToken,
		SessionID:   tok.SessionID.String(),
		ExpiresAt:   tok.ExpiresAt,
		User:        userView{ID: id.UserID.String(), Name: id.Name, Admin: id.Admin},
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id := session.FromContext(r.Context())
	if err := s.auth.Logout(r.Context(), id.SessionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Logged out", nil)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.accounts.List(r.Context(), session.FromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, toUserView(u))
	}
	writeOK(w, http.StatusOK, "", out)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	d, err := s.accounts.Detail(r.Context(), session.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "", toDetailView(d))
}

func writeOutcome(w http.ResponseWriter, status int, o service.Outcome) {
	var data any
	if o.User != nil {
		data = toUserView(*o.User)
	}
	writeOK(w, status, o.Message, data)
}

func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	f, err := fields(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.accounts.AddUser(r.Context(), session.FromContext(r.Context()), service.AddUserInput{
		Name:     first(f, "name", "user"),
		Mail:     f["mail"],
		Password: first(f, "password", "passwd"),
		Confirm:  first(f, "passwordConfirm", "passwd_confirm"),
		Admin:    prefs.Truthy(first(f, "isAdmin", "admin")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOutcome(w, http.StatusCreated, o)
}

func (s *Server) handleUpdatePrefs(w http.ResponseWriter, r *http.Request) {
	f, err := fields(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.accounts.UpdateClientPrefs(r.Context(), session.FromContext(r.Context()), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOutcome(w, http.StatusOK, o)
}

func (s *Server) handleChangeUsername(w http.ResponseWriter, r *http.Request) {
	f, err := fields(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.accounts.ChangeUsername(r.Context(), session.FromContext(r.Context()), chi.URLParam(r, "id"), service.ChangeUsernameInput{
		Name:  first(f, "name", "user"),
		Admin: optBool(f, "admin"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOutcome(w, http.StatusOK, o)
}

func (s *Server) handleChangeMail(w http.ResponseWriter, r *http.Request) {
	f, err := fields(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.accounts.ChangeMail(r.Context(), session.FromContext(r.Context()), chi.URLParam(r, "id"), f["mail"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOutcome(w, http.StatusOK, o)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	f, err := fields(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.accounts.ChangePassword(r.Context(), session.FromContext(r.Context()), chi.URLParam(r, "id"), service.ChangePasswordInput{
		Current: first(f, "current"),
		New:     first(f, "new"),
		Confirm: first(f, "confirm"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOutcome(w, http.StatusOK, o)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	o, err := s.accounts.DeleteUser(r.Context(), session.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, o.Message, map[string]bool{"session_invalidated": o.SessionInvalidated})
}

func (s *Server) handleLinkLastFM(w http.ResponseWriter, r *http.Request) {
	f, err := fields(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.accounts.LinkExternal(r.Context(), session.FromContext(r.Context()), f["token"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOutcome(w, http.StatusOK, o)
}

func (s *Server) handleUnlinkLastFM(w http.ResponseWriter, r *http.Request) {
	o, err := s.accounts.UnlinkExternal(r.Context(), session.FromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOutcome(w, http.StatusOK, o)
}
