package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethpandaops/onboardoor/pkg/catalog"
	"github.com/ethpandaops/onboardoor/pkg/config"
	"github.com/ethpandaops/onboardoor/pkg/onboard"
	"github.com/ethpandaops/onboardoor/pkg/report"
	"github.com/ethpandaops/onboardoor/pkg/state"
	"github.com/ethpandaops/onboardoor/pkg/workflow"
	"github.com/go-chi/chi/v5"
)

const maxRequestBody = 1 << 20

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// decodeJSON reads a JSON request body into v. An empty body leaves v
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}

	writeJSON(w, http.StatusBadRequest, errorResponse{"invalid request body"})

	return false
}

// writeError maps an operation error to a status code.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var cfgErr *workflow.ConfigurationError

	switch {
	case errors.As(err, &cfgErr), errors.Is(err, workflow.ErrNoMatchingUsers):
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
	case errors.Is(err, catalog.ErrGroupNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{err.Error()})
	default:
		s.log.WithError(err).
			WithField("path", r.URL.Path).
			Error("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{err.Error()})
	}
}

// environmentParam parses the {environment} URL parameter.
func environmentParam(w http.ResponseWriter, r *http.Request) (config.Environment, bool) {
	env, err := config.ParseEnvironment(chi.URLParam(r, "environment"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return "", false
	}

	return env, true
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Catalog handlers ---

func (s *server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.svc.Groups()
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if groups.Groups == nil {
		groups.Groups = []catalog.Group{}
	}

	writeJSON(w, http.StatusOK, groups)
}

type saveGroupRequest struct {
	Environment string        `json:"environment"`
	Group       catalog.Group `json:"group"`
}

type saveGroupResponse struct {
	Group catalog.Group `json:"group"`
	Email string        `json:"email,omitempty"`
}

func (s *server) handleSaveGroup(w http.ResponseWriter, r *http.Request) {
	var req saveGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	env, err := config.ParseEnvironment(req.Environment)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if err := s.svc.SaveGroup(r.Context(), env, req.Group); err != nil {
		s.writeError(w, r, err)

		return
	}

	resp := saveGroupResponse{Group: req.Group}
	if domain := s.svc.EmailDomain(); domain != "" {
		resp.Email = onboard.GroupEmail(req.Group.ID, env, domain)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.svc.DeleteGroup(r.Context(), id); err != nil {
		s.writeError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Status handlers ---

type statusResponse struct {
	Environment config.Environment `json:"environment"`
	Summary     report.Summary     `json:"summary"`
	Users       []state.Status     `json:"users"`
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	env, ok := environmentParam(w, r)
	if !ok {
		return
	}

	statuses, err := s.svc.Status(r.Context(), env)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	snap := report.Build(env, statuses, time.Now())

	writeJSON(w, http.StatusOK, statusResponse{
		Environment: env,
		Summary:     snap.Summary,
		Users:       snap.Users,
	})
}

func (s *server) handleOperations(w http.ResponseWriter, r *http.Request) {
	env, ok := environmentParam(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := state.OperationFilter{
		Environment: env,
		UserID:      q.Get("userId"),
		RunID:       q.Get("runId"),
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{"invalid limit"})

			return
		}

		filter.Limit = limit
	}

	entries, err := s.svc.Operations(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if entries == nil {
		entries = []state.OperationLog{}
	}

	writeJSON(w, http.StatusOK, entries)
}
