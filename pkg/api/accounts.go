package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/adaptivelb/server/pkg/auth"
	"github.com/adaptivelb/server/pkg/store"
)

// defaultDaysToKeep is used by the cleanup when the request doesn't specify the days.
const defaultDaysToKeep = 7

func (s *Server) session(w http.ResponseWriter, status int, session auth.Session) {
	s.write(w, status, envelope{
		"status":     "success",
		"token":      session.Token,
		"expires_at": session.ExpiresAt,
		"data":       envelope{"user": session.User},
	})
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var form auth.Signup
	if err := s.decode(w, r, &form); err != nil {
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := s.auth.Signup(r.Context(), form)
	switch {
	case errors.Is(err, auth.ErrMissingFields), errors.Is(err, auth.ErrPasswordMismatch):
		s.fail(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, store.ErrDuplicateEmail):
		s.fail(w, http.StatusConflict, "Email already in use")

	case err != nil:
		s.log.Error("api: failed to sign up", "error", err)
		s.fail(w, http.StatusInternalServerError, "Error creating user")

	default:
		s.session(w, http.StatusCreated, session)
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var credentials struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := s.decode(w, r, &credentials); err != nil {
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := s.auth.Login(r.Context(), credentials.Email, credentials.Password)
	switch {
	case errors.Is(err, auth.ErrMissingFields):
		s.fail(w, http.StatusBadRequest, "Please provide email and password")

	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInactiveUser):
		s.fail(w, http.StatusUnauthorized, err.Error())

	case err != nil:
		s.log.Error("api: failed to log in", "error", err)
		s.fail(w, http.StatusInternalServerError, "Error logging in")

	default:
		s.session(w, http.StatusOK, session)
	}
}

// logout revokes the bearer token, if any. It always succeeds.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if token, ok := auth.BearerToken(r.Header.Get("Authorization")); ok {
		s.auth.Logout(token)
	}
	s.write(w, http.StatusOK, envelope{"status": "success", "message": "Logged out successfully"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	s.success(w, http.StatusOK, envelope{"user": user})
}

func (s *Server) users(w http.ResponseWriter, r *http.Request) {
	list(s, w, s.store.AllUsers(r.Context()))
}

// cleanup deletes the requests, metrics and logs older than the "days" query parameter.
func (s *Server) cleanup(w http.ResponseWriter, r *http.Request) {
	days := defaultDaysToKeep
	if param := r.URL.Query().Get("days"); param != "" {
		var err error
		days, err = strconv.Atoi(param)
		if err != nil || days < 0 {
			s.fail(w, http.StatusBadRequest, "days must be a non-negative integer")
			return
		}
	}

	removed, err := s.store.CleanupOldData(r.Context(), days)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "Failed to clean up old data")
		return
	}

	user, _ := userFrom(r.Context())
	s.log.Info("api: old data cleaned up", "days_to_keep", days, "removed", removed.Total(), "by", user.Email)
	s.success(w, http.StatusOK, envelope{"days_to_keep": days, "removed": removed})
}
