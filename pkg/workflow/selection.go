package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethpandaops/onboardoor/pkg/catalog"
	"github.com/ethpandaops/onboardoor/pkg/config"
	"github.com/ethpandaops/onboardoor/pkg/credentials"
	"github.com/ethpandaops/onboardoor/pkg/state"
)

// InvitePlan partitions users for the invitation phase.
type InvitePlan struct {
	NeedsInvite    []catalog.User
	AlreadyInvited []catalog.User
}

// SetupPlan partitions users for the setup phase. Every user lands in
// exactly one bucket.
type SetupPlan struct {
	Ready       []catalog.User
	NotReady    []catalog.User
	AlreadyDone []catalog.User
}

// SelectUsers returns the users whose id is in ids, in catalog order. An
// empty ids selects everyone.
func SelectUsers(all []catalog.User, ids []string) ([]catalog.User, error) {
	if len(ids) == 0 {
		return all, nil
	}

	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[strings.TrimSpace(id)] = struct{}{}
	}

	selected := make([]catalog.User, 0, len(ids))

	for _, u := range all {
		if _, ok := want[u.ID]; ok {
			selected = append(selected, u)
		}
	}

	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMatchingUsers, strings.Join(ids, ", "))
	}

	return selected, nil
}

// PlanInvites splits users by whether they are already invited to env.
func PlanInvites(
	ctx context.Context,
	store state.Store,
	env config.Environment,
	users []catalog.User,
) (*InvitePlan, error) {
	plan := &InvitePlan{}

	for _, u := range users {
		invited, err := store.IsInvited(ctx, u.ID, env)
		if err != nil {
			return nil, storeError("checking invitation of "+u.ID, err)
		}

		if invited {
			plan.AlreadyInvited = append(plan.AlreadyInvited, u)
		} else {
			plan.NeedsInvite = append(plan.NeedsInvite, u)
		}
	}

	return plan, nil
}

// PlanSetup splits users into those without a usable credential, those with
// both group and source created, and the rest.
func PlanSetup(
	ctx context.Context,
	store state.Store,
	creds credentials.Provider,
	env config.Environment,
	users []catalog.User,
) (*SetupPlan, error) {
	plan := &SetupPlan{}

	for _, u := range users {
		if !creds.Available(identity(u)) {
			plan.NotReady = append(plan.NotReady, u)

			continue
		}

		status, err := store.GetStatus(ctx, u.ID, env)
		if err != nil {
			return nil, storeError("reading status of "+u.ID, err)
		}

		if status.Complete() {
			plan.AlreadyDone = append(plan.AlreadyDone, u)
		} else {
			plan.Ready = append(plan.Ready, u)
		}
	}

	return plan, nil
}

func identity(u catalog.User) credentials.Identity {
	return credentials.Identity{
		UserID:   u.ID,
		Email:    u.Email,
		Password: u.Password,
	}
}

func userIDs(users []catalog.User) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}

	return ids
}
