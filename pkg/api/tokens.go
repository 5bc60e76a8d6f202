package api

import (
	"net/http"

	"github.com/ethpandaops/onboardoor/pkg/catalog"
	"github.com/ethpandaops/onboardoor/pkg/workflow"
	"github.com/go-chi/chi/v5"
)

const adminID = "admin"

type setTokenRequest struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
	Email  string `json:"email,omitempty"`
}

// handleListTokens reports which catalog users have a stored token. Token
// values are masked.
func (s *server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	users, err := s.svc.Catalog().Users()
	if err != nil {
		s.writeError(w, r, &workflow.ConfigurationError{Msg: "users catalog", Err: err})

		return
	}

	ids := make([]string, 0, len(users.Users))
	for _, u := range users.Users {
		ids = append(ids, u.ID)
	}

	statuses, err := s.tokens.Statuses(ids)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, statuses)
}

// handleSetToken stores a token. When an email is given the user is added
// to the catalog first. An empty token marks the user as skipped.
func (s *server) handleSetToken(w http.ResponseWriter, r *http.Request) {
	var req setTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"userId is required"})

		return
	}

	if req.Email != "" && req.UserID != adminID {
		err := s.svc.Catalog().AddUser(r.Context(), catalog.User{ID: req.UserID, Email: req.Email})
		if err != nil {
			s.writeError(w, r, &workflow.ConfigurationError{Msg: "adding user", Err: err})

			return
		}
	}

	if err := s.tokens.Set(r.Context(), req.UserID, req.Token); err != nil {
		s.writeError(w, r, err)

		return
	}

	s.log.WithField("user", req.UserID).Info("Token stored")

	writeJSON(w, http.StatusOK, map[string]string{"userId": req.UserID})
}

func (s *server) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.tokens.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)

		return
	}

	s.log.WithField("user", id).Info("Token removed")

	w.WriteHeader(http.StatusNoContent)
}
