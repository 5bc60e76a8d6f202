package workflow

import "github.com/ethpandaops/onboardoor/pkg/config"

// Failure is a user whose processing failed.
type Failure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Skip is a user that was deliberately not processed.
type Skip struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// InviteResult summarises an invitation run. All lists hold user ids.
type InviteResult struct {
	RunID             string             `json:"run_id"`
	Environment       config.Environment `json:"environment"`
	Invited           []string           `json:"invited"`
	AlreadyExisted    []string           `json:"already_existed"`
	PreviouslyInvited []string           `json:"previously_invited"`
}

// SetupResult summarises a setup run.
type SetupResult struct {
	RunID       string             `json:"run_id"`
	Environment config.Environment `json:"environment"`
	Succeeded   []string           `json:"succeeded"`
	Failed      []Failure          `json:"failed"`
	Skipped     []Skip             `json:"skipped"`
	AlreadyDone []string           `json:"already_done"`
	NotReady    []string           `json:"not_ready"`
}

// CleanupResult summarises a cleanup run.
type CleanupResult struct {
	RunID       string             `json:"run_id"`
	Environment config.Environment `json:"environment"`
	Cleaned     []string           `json:"cleaned"`
	Failed      []Failure          `json:"failed"`
	Skipped     []Skip             `json:"skipped"`
}

func newInviteResult(runID string, env config.Environment) *InviteResult {
	return &InviteResult{
		RunID:             runID,
		Environment:       env,
		Invited:           []string{},
		AlreadyExisted:    []string{},
		PreviouslyInvited: []string{},
	}
}

func newSetupResult(runID string, env config.Environment) *SetupResult {
	return &SetupResult{
		RunID:       runID,
		Environment: env,
		Succeeded:   []string{},
		Failed:      []Failure{},
		Skipped:     []Skip{},
		AlreadyDone: []string{},
		NotReady:    []string{},
	}
}

func newCleanupResult(runID string, env config.Environment) *CleanupResult {
	return &CleanupResult{
		RunID:       runID,
		Environment: env,
		Cleaned:     []string{},
		Failed:      []Failure{},
		Skipped:     []Skip{},
	}
}
