// Package workflow runs the invitation, setup and cleanup phases of partner
// onboarding for one environment. Each phase consults the state store to
// skip completed work and records every outcome.
package workflow

import (
	"context"
	"encoding/json"

	"github.com/ethpandaops/onboardoor/pkg/config"
	"github.com/ethpandaops/onboardoor/pkg/credentials"
	"github.com/ethpandaops/onboardoor/pkg/state"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Platform is the subset of the platform client the workflows call.
type Platform interface {
	InviteUsers(ctx context.Context, token string, emails []string) ([]string, error)
	CreateGroup(ctx context.Context, token string, payload map[string]any) (string, error)
	CreateSource(ctx context.Context, token string, payload map[string]any) (string, error)
	DeleteGroup(ctx context.Context, token, id string) error
	DeleteSource(ctx context.Context, token, id string) error
}

// Runner executes workflows against one environment.
type Runner struct {
	log      logrus.FieldLogger
	store    state.Store
	platform Platform
	creds    credentials.Provider
	env      config.Environment
}

// NewRunner creates a Runner.
func NewRunner(
	log logrus.FieldLogger,
	store state.Store,
	platform Platform,
	creds credentials.Provider,
	env config.Environment,
) *Runner {
	return &Runner{
		log: log.WithFields(logrus.Fields{
			"component":   "workflow",
			"environment": env,
		}),
		store:    store,
		platform: platform,
		creds:    creds,
		env:      env,
	}
}

// run carries per-invocation state.
type run struct {
	*Runner
	id  string
	log logrus.FieldLogger
}

func (r *Runner) newRun(phase string) *run {
	id := uuid.NewString()

	return &run{
		Runner: r,
		id:     id,
		log: r.log.WithFields(logrus.Fields{
			"phase":  phase,
			"run_id": id,
		}),
	}
}

// logOp writes an operation log entry. Failures are logged and otherwise
// ignored so that they never change the outcome of the operation.
func (r *run) logOp(
	ctx context.Context,
	op state.OperationType,
	userID string,
	status state.OperationStatus,
	message string,
	details map[string]any,
) {
	entry := &state.OperationLog{
		OperationType: op,
		UserID:        userID,
		Environment:   r.env,
		Status:        status,
		RunID:         r.id,
	}

	if message != "" {
		entry.ErrorMessage = &message
	}

	if len(details) > 0 {
		if data, err := json.Marshal(details); err == nil {
			entry.Details = datatypes.JSON(data)
		}
	}

	if err := r.store.LogOperation(ctx, entry); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"operation": op,
			"user":      userID,
		}).Warn("Failed to write operation log")
	}
}
