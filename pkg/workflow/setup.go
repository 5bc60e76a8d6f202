package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/onboardoor/pkg/catalog"
	"github.com/ethpandaops/onboardoor/pkg/platform"
	"github.com/ethpandaops/onboardoor/pkg/state"
	"github.com/sirupsen/logrus"
)

// Skip reasons reported by Setup.
const (
	ReasonNoGroupDefinition = "no group definition in catalog"
	ReasonGroupNameTaken    = "group name already exists on the platform"
)

// userOutcome is how processing of one ready user ended.
type userOutcome int

const (
	outcomeSucceeded userOutcome = iota
	outcomeSkipped
)

// Setup creates the group and then the source of every selected user that
// has a usable credential and is not complete yet. Users are processed one
// at a time; a failure affects only that user. State store failures abort
// the run and are returned together with the partial result.
func (r *Runner) Setup(
	ctx context.Context,
	users *catalog.UsersFile,
	groups *catalog.GroupsFile,
	ids []string,
) (*SetupResult, error) {
	selected, err := SelectUsers(users.Users, ids)
	if err != nil {
		return nil, err
	}

	rn := r.newRun("setup")
	result := newSetupResult(rn.id, r.env)

	for _, u := range selected {
		if err := r.store.EnsureUser(ctx, u.ID, u.Email, false); err != nil {
			return nil, storeError("ensuring user "+u.ID, err)
		}
	}

	plan, err := PlanSetup(ctx, r.store, r.creds, r.env, selected)
	if err != nil {
		return nil, err
	}

	result.NotReady = userIDs(plan.NotReady)
	result.AlreadyDone = userIDs(plan.AlreadyDone)

	rn.log.WithFields(logrus.Fields{
		"ready":        len(plan.Ready),
		"not_ready":    len(plan.NotReady),
		"already_done": len(plan.AlreadyDone),
	}).Info("Planned setup")

	for _, u := range plan.Ready {
		ulog := rn.log.WithField("user", u.ID)

		group, ok := groups.Find(u.ID)
		if !ok {
			ulog.Warn("No group definition, skipping")
			result.Skipped = append(result.Skipped, Skip{ID: u.ID, Reason: ReasonNoGroupDefinition})
			rn.logOp(ctx, state.OperationSetup, u.ID, state.StatusSkipped, ReasonNoGroupDefinition, nil)

			continue
		}

		outcome, reason, err := rn.setupUser(ctx, u, group)

		switch {
		case err != nil && IsFatal(err):
			return result, err
		case err != nil:
			ulog.WithError(err).Error("Setup failed")
			result.Failed = append(result.Failed, Failure{ID: u.ID, Error: err.Error()})
			rn.logOp(ctx, state.OperationSetup, u.ID, state.StatusFailed, err.Error(), nil)
		case outcome == outcomeSkipped:
			ulog.WithField("reason", reason).Warn("Setup skipped")
			result.Skipped = append(result.Skipped, Skip{ID: u.ID, Reason: reason})
		default:
			ulog.Info("Setup complete")
			result.Succeeded = append(result.Succeeded, u.ID)
		}
	}

	return result, nil
}

func (r *run) setupUser(
	ctx context.Context,
	u catalog.User,
	group *catalog.Group,
) (userOutcome, string, error) {
	token, err := r.creds.Token(ctx, identity(u))
	if err != nil {
		return 0, "", fmt.Errorf("obtaining credential: %w", err)
	}

	groupID, err := r.store.GetGroupAPIID(ctx, u.ID, r.env)
	if err != nil {
		return 0, "", storeError("reading group of "+u.ID, err)
	}

	if groupID == "" {
		groupID, err = r.platform.CreateGroup(ctx, token, groupPayload(group))
		if errors.Is(err, platform.ErrConflict) {
			r.logOp(ctx, state.OperationCreateGroup, u.ID, state.StatusSkipped, ReasonGroupNameTaken, nil)

			return outcomeSkipped, ReasonGroupNameTaken, nil
		}

		if err != nil {
			return 0, "", err
		}

		if err := r.store.RecordGroupCreation(ctx, u.ID, r.env, groupID, group.GroupName()); err != nil {
			return 0, "", storeError("recording group of "+u.ID, err)
		}

		r.logOp(ctx, state.OperationCreateGroup, u.ID, state.StatusSuccess, "", map[string]any{"api_id": groupID})
		r.log.WithFields(logrus.Fields{"user": u.ID, "group_id": groupID}).Info("Group created")
	}

	created, err := r.store.IsSourceCreated(ctx, u.ID, r.env)
	if err != nil {
		return 0, "", storeError("reading source of "+u.ID, err)
	}

	if created {
		return outcomeSucceeded, "", nil
	}

	if err := r.createSource(ctx, token, u, group, groupID); err != nil {
		return 0, "", err
	}

	return outcomeSucceeded, "", nil
}

// createSource refuses to call the platform without a group id.
func (r *run) createSource(
	ctx context.Context,
	token string,
	u catalog.User,
	group *catalog.Group,
	groupID string,
) error {
	if groupID == "" {
		return ErrNoGroupID
	}

	sourceID, err := r.platform.CreateSource(ctx, token, sourcePayload(group, groupID))
	if err != nil {
		return err
	}

	if err := r.store.RecordSourceCreation(ctx, u.ID, r.env, sourceID, group.SourceName()); err != nil {
		return storeError("recording source of "+u.ID, err)
	}

	r.logOp(ctx, state.OperationCreateSource, u.ID, state.StatusSuccess, "",
		map[string]any{"api_id": sourceID, "group_id": groupID})
	r.log.WithFields(logrus.Fields{"user": u.ID, "source_id": sourceID}).Info("Source created")

	return nil
}
