// Package onboard wires configuration, catalog, credentials, platform client
// and state store into the operations exposed by the CLI and the HTTP API.
package onboard

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethpandaops/onboardoor/pkg/catalog"
	"github.com/ethpandaops/onboardoor/pkg/config"
	"github.com/ethpandaops/onboardoor/pkg/credentials"
	"github.com/ethpandaops/onboardoor/pkg/platform"
	"github.com/ethpandaops/onboardoor/pkg/state"
	"github.com/ethpandaops/onboardoor/pkg/workflow"
	"github.com/sirupsen/logrus"
)

// Service runs onboarding operations. The environment is chosen per call.
type Service struct {
	log     logrus.FieldLogger
	cfg     *config.Config
	store   state.Store
	catalog *catalog.Catalog
}

// New creates a Service.
func New(
	log logrus.FieldLogger,
	cfg *config.Config,
	store state.Store,
	cat *catalog.Catalog,
) *Service {
	return &Service{
		log:     log.WithField("component", "onboard"),
		cfg:     cfg,
		store:   store,
		catalog: cat,
	}
}

// Catalog returns the users and groups catalog.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// EmailDomain returns the domain of generated group invite addresses, or
// an empty string when none is configured.
func (s *Service) EmailDomain() string {
	return s.cfg.Catalog.EmailDomain
}

// Secrets returns the credential lookup for env: process environment first,
// then the environment-specific env file, then the base env file.
func (s *Service) Secrets(env config.Environment) credentials.Secrets {
	base := s.cfg.Credentials.EnvFile
	if base == "" {
		base = config.DefaultEnvFile
	}

	return credentials.ChainSecrets{
		credentials.EnvSecrets{},
		credentials.NewTokenFile(base + "." + string(env)),
		credentials.NewTokenFile(base),
	}
}

// prepare validates env and builds the runner and user catalog for one call.
func (s *Service) prepare(env config.Environment) (*workflow.Runner, *catalog.UsersFile, error) {
	if err := s.cfg.ValidateEnvironment(env); err != nil {
		return nil, nil, &workflow.ConfigurationError{Msg: "environment " + string(env), Err: err}
	}

	users, err := s.catalog.Users()
	if err != nil {
		return nil, nil, &workflow.ConfigurationError{Msg: "users catalog", Err: err}
	}

	endpoints := s.cfg.Endpoints(env)

	creds, err := credentials.New(s.log, &s.cfg.Credentials, endpoints, s.Secrets(env), credentials.Identity{
		Email:    users.Admin.Email,
		Password: users.Admin.Password,
	})
	if err != nil {
		return nil, nil, &workflow.ConfigurationError{Msg: "credentials", Err: err}
	}

	client := platform.NewClient(s.log, endpoints, &s.cfg.Platform)

	return workflow.NewRunner(s.log, s.store, client, creds, env), users, nil
}

// Invite runs the invitation phase.
func (s *Service) Invite(ctx context.Context, env config.Environment, ids []string) (*workflow.InviteResult, error) {
	runner, users, err := s.prepare(env)
	if err != nil {
		return nil, err
	}

	return runner.Invite(ctx, users, ids)
}

// Setup runs the group and source setup phase.
func (s *Service) Setup(ctx context.Context, env config.Environment, ids []string) (*workflow.SetupResult, error) {
	runner, users, err := s.prepare(env)
	if err != nil {
		return nil, err
	}

	groups, err := s.catalog.Groups()
	if err != nil {
		return nil, &workflow.ConfigurationError{Msg: "groups catalog", Err: err}
	}

	return runner.Setup(ctx, users, groups, ids)
}

// Cleanup deletes recorded platform resources.
func (s *Service) Cleanup(
	ctx context.Context,
	env config.Environment,
	ids []string,
	scope workflow.CleanupScope,
) (*workflow.CleanupResult, error) {
	runner, users, err := s.prepare(env)
	if err != nil {
		return nil, err
	}

	return runner.Cleanup(ctx, users, ids, scope)
}

// Reset clears recorded progress. With no ids the whole environment is
// reset; otherwise only the selected users. It returns the reset user ids,
// or nil for a whole environment.
func (s *Service) Reset(ctx context.Context, env config.Environment, ids []string) ([]string, error) {
	if !env.Valid() {
		return nil, &workflow.ConfigurationError{Msg: fmt.Sprintf("invalid environment %q", env)}
	}

	if len(ids) == 0 {
		if err := s.store.ResetEnvironment(ctx, env); err != nil {
			return nil, &workflow.StateStoreError{Op: "resetting environment", Err: err}
		}

		s.log.WithField("environment", env).Info("Environment reset")

		return nil, nil
	}

	users, err := s.catalog.Users()
	if err != nil {
		return nil, &workflow.ConfigurationError{Msg: "users catalog", Err: err}
	}

	selected, err := workflow.SelectUsers(users.Users, ids)
	if err != nil {
		return nil, err
	}

	reset := make([]string, 0, len(selected))

	for _, u := range selected {
		if err := s.store.ResetUser(ctx, u.ID, env); err != nil {
			return reset, &workflow.StateStoreError{Op: "resetting " + u.ID, Err: err}
		}

		reset = append(reset, u.ID)
	}

	s.log.WithFields(logrus.Fields{
		"environment": env,
		"users":       strings.Join(reset, ","),
	}).Info("Users reset")

	return reset, nil
}

// Status lists the progress of every non-admin user in env.
func (s *Service) Status(ctx context.Context, env config.Environment) ([]state.Status, error) {
	if !env.Valid() {
		return nil, &workflow.ConfigurationError{Msg: fmt.Sprintf("invalid environment %q", env)}
	}

	statuses, err := s.store.GetAllStatuses(ctx, env)
	if err != nil {
		return nil, &workflow.StateStoreError{Op: "listing statuses", Err: err}
	}

	return statuses, nil
}

// Operations lists operation log entries, newest first.
func (s *Service) Operations(ctx context.Context, filter state.OperationFilter) ([]state.OperationLog, error) {
	entries, err := s.store.ListOperations(ctx, filter)
	if err != nil {
		return nil, &workflow.StateStoreError{Op: "listing operations", Err: err}
	}

	return entries, nil
}

// Groups returns the group definitions.
func (s *Service) Groups() (*catalog.GroupsFile, error) {
	groups, err := s.catalog.Groups()
	if err != nil {
		return nil, &workflow.ConfigurationError{Msg: "groups catalog", Err: err}
	}

	return groups, nil
}

// SaveGroup stores a group definition. When an invite email domain is
// configured, a matching user groups+<id>_<env>@<domain> is added as well.
func (s *Service) SaveGroup(ctx context.Context, env config.Environment, g catalog.Group) error {
	email := ""
	if domain := s.cfg.Catalog.EmailDomain; domain != "" {
		email = GroupEmail(g.ID, env, domain)
	}

	if err := s.catalog.SaveGroup(ctx, g, email); err != nil {
		return &workflow.ConfigurationError{Msg: "saving group", Err: err}
	}

	return nil
}

// DeleteGroup removes a group definition from the catalog. Recorded progress
// and platform resources are left alone.
func (s *Service) DeleteGroup(ctx context.Context, id string) error {
	return s.catalog.DeleteGroup(ctx, id)
}

// GroupEmail is the invite address generated for a saved group.
func GroupEmail(id string, env config.Environment, domain string) string {
	return fmt.Sprintf("groups+%s_%s@%s", id, env, strings.TrimPrefix(domain, "@"))
}
