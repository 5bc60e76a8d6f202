package api

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/ethpandaops/onboardoor/pkg/config"
	"github.com/ethpandaops/onboardoor/pkg/workflow"
)

type workflowRequest struct {
	Environment string   `json:"environment"`
	GroupIDs    []string `json:"groupIds,omitempty"`
}

type cleanupRequest struct {
	workflowRequest

	SourcesOnly bool `json:"sourcesOnly,omitempty"`
	GroupsOnly  bool `json:"groupsOnly,omitempty"`
}

type resetResponse struct {
	Environment config.Environment `json:"environment"`
	All         bool               `json:"all"`
	Reset       []string           `json:"reset"`
}

// flightKey identifies identical workflow requests. The id order does not
// matter.
func flightKey(op string, env config.Environment, ids []string) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)

	return op + "|" + string(env) + "|" + strings.Join(sorted, ",")
}

// runWorkflow parses the request environment and runs fn once for all
// concurrent identical requests. The run is detached from the request
// context so a disconnecting client does not abort it halfway.
func (s *server) runWorkflow(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	req workflowRequest,
	fn func(ctx context.Context, env config.Environment) (any, error),
) {
	env, err := config.ParseEnvironment(req.Environment)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	ctx := context.WithoutCancel(r.Context())

	result, err, shared := s.flight.Do(flightKey(op, env, req.GroupIDs), func() (any, error) {
		return fn(ctx, env)
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if shared {
		s.log.WithField("operation", op).
			WithField("environment", env).
			Debug("Joined in-flight workflow")
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleInvite(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	s.runWorkflow(w, r, "invite", req, func(ctx context.Context, env config.Environment) (any, error) {
		return s.svc.Invite(ctx, env, req.GroupIDs)
	})
}

func (s *server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	s.runWorkflow(w, r, "setup", req, func(ctx context.Context, env config.Environment) (any, error) {
		return s.svc.Setup(ctx, env, req.GroupIDs)
	})
}

func (s *server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	scope, err := workflow.ParseCleanupScope(req.SourcesOnly, req.GroupsOnly)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	op := "cleanup"

	switch scope {
	case workflow.CleanupSourcesOnly:
		op = "cleanup-sources"
	case workflow.CleanupGroupsOnly:
		op = "cleanup-groups"
	}

	s.runWorkflow(w, r, op, req.workflowRequest, func(ctx context.Context, env config.Environment) (any, error) {
		return s.svc.Cleanup(ctx, env, req.GroupIDs, scope)
	})
}

func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	s.runWorkflow(w, r, "reset", req, func(ctx context.Context, env config.Environment) (any, error) {
		reset, err := s.svc.Reset(ctx, env, req.GroupIDs)
		if err != nil {
			return nil, err
		}

		if reset == nil {
			reset = []string{}
		}

		return resetResponse{
			Environment: env,
			All:         len(req.GroupIDs) == 0,
			Reset:       reset,
		}, nil
	})
}
