package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethpandaops/onboardoor/pkg/catalog"
	"github.com/ethpandaops/onboardoor/pkg/state"
)

// CleanupScope selects which platform resources Cleanup deletes.
type CleanupScope int

// Cleanup scopes.
const (
	CleanupAll CleanupScope = iota
	CleanupSourcesOnly
	CleanupGroupsOnly
)

// ParseCleanupScope maps the sources-only and groups-only flags to a scope.
func ParseCleanupScope(sourcesOnly, groupsOnly bool) (CleanupScope, error) {
	switch {
	case sourcesOnly && groupsOnly:
		return 0, &ConfigurationError{Msg: "sources-only and groups-only are mutually exclusive"}
	case sourcesOnly:
		return CleanupSourcesOnly, nil
	case groupsOnly:
		return CleanupGroupsOnly, nil
	default:
		return CleanupAll, nil
	}
}

func (s CleanupScope) sources() bool { return s != CleanupGroupsOnly }
func (s CleanupScope) groups() bool  { return s != CleanupSourcesOnly }

// Skip reasons reported by Cleanup.
const (
	ReasonNothingToClean = "nothing recorded to clean up"
	ReasonNoCredential   = "no usable credential"
)

// Cleanup deletes the recorded platform resources of the selected users,
// source before group, and clears the matching state rows. A record is only
// cleared once its resource is gone.
func (r *Runner) Cleanup(
	ctx context.Context,
	users *catalog.UsersFile,
	ids []string,
	scope CleanupScope,
) (*CleanupResult, error) {
	selected, err := SelectUsers(users.Users, ids)
	if err != nil {
		return nil, err
	}

	rn := r.newRun("cleanup")
	result := newCleanupResult(rn.id, r.env)

	for _, u := range selected {
		ulog := rn.log.WithField("user", u.ID)

		status, err := r.store.GetStatus(ctx, u.ID, r.env)
		if err != nil {
			return result, storeError("reading status of "+u.ID, err)
		}

		deleteSource := scope.sources() && status.SourceCreated
		deleteGroup := scope.groups() && status.GroupCreated

		if !deleteSource && !deleteGroup {
			result.Skipped = append(result.Skipped, Skip{ID: u.ID, Reason: ReasonNothingToClean})

			continue
		}

		if !r.creds.Available(identity(u)) {
			ulog.Warn("No credential, skipping cleanup")
			result.Skipped = append(result.Skipped, Skip{ID: u.ID, Reason: ReasonNoCredential})

			continue
		}

		token, err := r.creds.Token(ctx, identity(u))
		if err != nil {
			result.Failed = append(result.Failed, Failure{ID: u.ID, Error: err.Error()})

			continue
		}

		var failures []string

		if deleteSource {
			if err := rn.deleteSource(ctx, token, u.ID, status.SourceAPIID); err != nil {
				if IsFatal(err) {
					return result, err
				}

				failures = append(failures, err.Error())
			}
		}

		// A group is kept while its source could not be deleted.
		if deleteGroup && len(failures) == 0 {
			if err := rn.deleteGroup(ctx, token, u.ID, status.GroupAPIID); err != nil {
				if IsFatal(err) {
					return result, err
				}

				failures = append(failures, err.Error())
			}
		}

		if len(failures) > 0 {
			ulog.WithField("errors", failures).Error("Cleanup failed")
			result.Failed = append(result.Failed, Failure{ID: u.ID, Error: strings.Join(failures, "; ")})

			continue
		}

		ulog.Info("Cleaned up")
		result.Cleaned = append(result.Cleaned, u.ID)
	}

	return result, nil
}

func (r *run) deleteSource(ctx context.Context, token, userID, apiID string) error {
	if err := r.platform.DeleteSource(ctx, token, apiID); err != nil {
		r.logOp(ctx, state.OperationDeleteSource, userID, state.StatusFailed, err.Error(),
			map[string]any{"api_id": apiID})

		return fmt.Errorf("deleting source %s: %w", apiID, err)
	}

	if err := r.store.ResetUserSources(ctx, userID, r.env); err != nil {
		return storeError("clearing source of "+userID, err)
	}

	r.logOp(ctx, state.OperationDeleteSource, userID, state.StatusSuccess, "", map[string]any{"api_id": apiID})

	return nil
}

func (r *run) deleteGroup(ctx context.Context, token, userID, apiID string) error {
	if err := r.platform.DeleteGroup(ctx, token, apiID); err != nil {
		r.logOp(ctx, state.OperationDeleteGroup, userID, state.StatusFailed, err.Error(),
			map[string]any{"api_id": apiID})

		return fmt.Errorf("deleting group %s: %w", apiID, err)
	}

	if err := r.store.ResetUserGroups(ctx, userID, r.env); err != nil {
		return storeError("clearing group of "+userID, err)
	}

	r.logOp(ctx, state.OperationDeleteGroup, userID, state.StatusSuccess, "", map[string]any{"api_id": apiID})

	return nil
}
