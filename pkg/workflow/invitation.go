package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethpandaops/onboardoor/pkg/catalog"
	"github.com/ethpandaops/onboardoor/pkg/state"
	"github.com/sirupsen/logrus"
)

// adminUserID is the state store id of the catalog administrator.
const adminUserID = "admin"

// Invite sends one batch invitation for every selected user that is not
// invited yet. Emails missing from the platform's response are recorded as
// already existing accounts. A failed batch call records nothing.
func (r *Runner) Invite(ctx context.Context, users *catalog.UsersFile, ids []string) (*InviteResult, error) {
	selected, err := SelectUsers(users.Users, ids)
	if err != nil {
		return nil, err
	}

	rn := r.newRun("invite")
	result := newInviteResult(rn.id, r.env)

	if users.Admin.Email != "" {
		if err := r.store.EnsureUser(ctx, adminUserID, users.Admin.Email, true); err != nil {
			return nil, storeError("ensuring admin user", err)
		}
	}

	for _, u := range selected {
		if err := r.store.EnsureUser(ctx, u.ID, u.Email, false); err != nil {
			return nil, storeError("ensuring user "+u.ID, err)
		}
	}

	plan, err := PlanInvites(ctx, r.store, r.env, selected)
	if err != nil {
		return nil, err
	}

	result.PreviouslyInvited = userIDs(plan.AlreadyInvited)

	rn.log.WithFields(logrus.Fields{
		"needs_invite":    len(plan.NeedsInvite),
		"already_invited": len(plan.AlreadyInvited),
	}).Info("Planned invitations")

	if len(plan.NeedsInvite) == 0 {
		rn.log.Info("Everyone is already invited")

		return result, nil
	}

	token, err := r.creds.AdminToken(ctx)
	if err != nil {
		return nil, &ConfigurationError{Msg: "admin credential", Err: err}
	}

	emails := make([]string, 0, len(plan.NeedsInvite))
	for _, u := range plan.NeedsInvite {
		emails = append(emails, u.Email)
	}

	invited, err := r.platform.InviteUsers(ctx, token, emails)
	if err != nil {
		return nil, fmt.Errorf("inviting %d users: %w", len(emails), err)
	}

	newlyInvited := make(map[string]struct{}, len(invited))
	for _, email := range invited {
		newlyInvited[strings.ToLower(strings.TrimSpace(email))] = struct{}{}
	}

	for _, u := range plan.NeedsInvite {
		_, isNew := newlyInvited[strings.ToLower(u.Email)]

		if err := r.store.RecordInvitation(ctx, u.ID, r.env, !isNew); err != nil {
			return nil, storeError("recording invitation of "+u.ID, err)
		}

		ulog := rn.log.WithField("user", u.ID)

		if isNew {
			result.Invited = append(result.Invited, u.ID)
			rn.logOp(ctx, state.OperationInvite, u.ID, state.StatusSuccess, "", map[string]any{"email": u.Email})
			ulog.Info("Invited")
		} else {
			result.AlreadyExisted = append(result.AlreadyExisted, u.ID)
			rn.logOp(ctx, state.OperationInvite, u.ID, state.StatusSkipped, "User already exists", map[string]any{"email": u.Email})
			ulog.Info("Account already exists")
		}
	}

	return result, nil
}
