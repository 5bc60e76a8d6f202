package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethpandaops/onboardoor/pkg/catalog"
	"github.com/ethpandaops/onboardoor/pkg/config"
	"github.com/ethpandaops/onboardoor/pkg/credentials"
	"github.com/ethpandaops/onboardoor/pkg/platform"
	"github.com/ethpandaops/onboardoor/pkg/state"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	Method  string
	Token   string
	Payload map[string]any
	Emails  []string
	ID      string
}

// fakePlatform records calls and answers from its fields.
type fakePlatform struct {
	mu    sync.Mutex
	calls []call

	invited    []string
	inviteErr  error
	groupIDs   map[string]string
	groupErrs  map[string]error
	sourceIDs  map[string]string
	sourceErrs map[string]error
	deleteErrs map[string]error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		groupIDs:   map[string]string{},
		groupErrs:  map[string]error{},
		sourceIDs:  map[string]string{},
		sourceErrs: map[string]error{},
		deleteErrs: map[string]error{},
	}
}

func (f *fakePlatform) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, c)
}

func (f *fakePlatform) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]call(nil), f.calls...)
}

func (f *fakePlatform) InviteUsers(_ context.Context, token string, emails []string) ([]string, error) {
	f.record(call{Method: "invite", Token: token, Emails: emails})

	return f.invited, f.inviteErr
}

func (f *fakePlatform) CreateGroup(_ context.Context, token string, payload map[string]any) (string, error) {
	f.record(call{Method: "create_group", Token: token, Payload: payload})

	if err := f.groupErrs[token]; err != nil {
		return "", err
	}

	return f.groupIDs[token], nil
}

func (f *fakePlatform) CreateSource(_ context.Context, token string, payload map[string]any) (string, error) {
	f.record(call{Method: "create_source", Token: token, Payload: payload})

	if err := f.sourceErrs[token]; err != nil {
		return "", err
	}

	return f.sourceIDs[token], nil
}

func (f *fakePlatform) DeleteGroup(_ context.Context, token, id string) error {
	f.record(call{Method: "delete_group", Token: token, ID: id})

	return f.deleteErrs[id]
}

func (f *fakePlatform) DeleteSource(_ context.Context, token, id string) error {
	f.record(call{Method: "delete_source", Token: token, ID: id})

	return f.deleteErrs[id]
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func newTestStore(t *testing.T) state.Store {
	t.Helper()

	s := state.NewStore(testLogger(), &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: filepath.Join(t.TempDir(), "state.db")},
	})
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

var testUsers = &catalog.UsersFile{
	Admin: catalog.Admin{Email: "admin@x.com"},
	Users: []catalog.User{
		{ID: "team-a", Email: "a@x.com"},
		{ID: "team-b", Email: "b@x.com"},
	},
}

var testGroups = &catalog.GroupsFile{
	Groups: []catalog.Group{
		{
			ID:     "team-a",
			Name:   "Team A",
			Group:  map[string]any{"name": "Team A"},
			Source: map[string]any{"name": "A feed", "config": map[string]any{"group_id": "<group_id>"}},
		},
		{
			ID:     "team-b",
			Name:   "Team B",
			Group:  map[string]any{"name": "Team B"},
			Source: map[string]any{"name": "B feed", "groups": []any{"<group_id>"}},
		},
	},
}

func staticCreds(secrets map[string]string) credentials.Provider {
	return credentials.NewStatic(credentials.MapSecrets(secrets))
}

func TestSelectUsers(t *testing.T) {
	tests := []struct {
		name    string
		ids     []string
		want    []string
		wantErr error
	}{
		{name: "empty selects all", ids: nil, want: []string{"team-a", "team-b"}},
		{name: "subset", ids: []string{"team-b"}, want: []string{"team-b"}},
		{name: "unknown ids ignored when some match", ids: []string{"team-b", "nope"}, want: []string{"team-b"}},
		{name: "no match", ids: []string{"nope"}, wantErr: ErrNoMatchingUsers},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectUsers(testUsers.Users, tt.ids)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, userIDs(got))
		})
	}
}

func TestPlanSetup_Buckets(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	users := []catalog.User{
		{ID: "done", Email: "done@x.com"},
		{ID: "ready", Email: "ready@x.com"},
		{ID: "skip", Email: "skip@x.com"},
		{ID: "missing", Email: "missing@x.com"},
		{ID: "placeholder", Email: "p@x.com"},
	}

	require.NoError(t, store.RecordGroupCreation(ctx, "done", config.EnvDev, "g", "done"))
	require.NoError(t, store.RecordSourceCreation(ctx, "done", config.EnvDev, "s", "done"))

	creds := staticCreds(map[string]string{
		"USER_TOKEN_DONE":        "t1",
		"USER_TOKEN_READY":       "t2",
		"USER_TOKEN_SKIP":        "SKIP",
		"USER_TOKEN_PLACEHOLDER": "needs verification",
	})

	plan, err := PlanSetup(ctx, store, creds, config.EnvDev, users)
	require.NoError(t, err)

	assert.Equal(t, []string{"ready"}, userIDs(plan.Ready))
	assert.Equal(t, []string{"done"}, userIDs(plan.AlreadyDone))
	assert.Equal(t, []string{"skip", "missing", "placeholder"}, userIDs(plan.NotReady))
}

func TestInvite_Reconciliation(t *testing.T) {
	store := newTestStore(t)
	fp := newFakePlatform()
	fp.invited = []string{"A@X.com"}

	r := NewRunner(testLogger(), store, fp, staticCreds(map[string]string{"ADMIN_TOKEN": "admin"}), config.EnvDev)
	ctx := context.Background()

	result, err := r.Invite(ctx, testUsers, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"team-a"}, result.Invited)
	assert.Equal(t, []string{"team-b"}, result.AlreadyExisted)
	assert.Empty(t, result.PreviouslyInvited)

	calls := fp.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "admin", calls[0].Token)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, calls[0].Emails)

	for _, id := range []string{"team-a", "team-b"} {
		invited, err := store.IsInvited(ctx, id, config.EnvDev)
		require.NoError(t, err)
		assert.True(t, invited, id)
	}

	ops, err := store.ListOperations(ctx, state.OperationFilter{RunID: result.RunID})
	require.NoError(t, err)
	require.Len(t, ops, 2)

	statuses := map[string]state.OperationStatus{}
	for _, op := range ops {
		assert.Equal(t, state.OperationInvite, op.OperationType)
		statuses[op.UserID] = op.Status
	}

	assert.Equal(t, state.StatusSuccess, statuses["team-a"])
	assert.Equal(t, state.StatusSkipped, statuses["team-b"])

	// Admin is tracked but never listed.
	all, err := store.GetAllStatuses(ctx, config.EnvDev)
	require.NoError(t, err)
	require.Len(t, all, 2)

	// Second run short-circuits without an external call.
	result, err = r.Invite(ctx, testUsers, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"team-a", "team-b"}, result.PreviouslyInvited)
	assert.Len(t, fp.Calls(), 1)
}

func TestInvite_BatchFailureRecordsNothing(t *testing.T) {
	store := newTestStore(t)
	fp := newFakePlatform()
	fp.inviteErr = &platform.APIError{Op: "sending invitations", StatusCode: 502}

	r := NewRunner(testLogger(), store, fp, staticCreds(map[string]string{"ADMIN_TOKEN": "admin"}), config.EnvDev)
	ctx := context.Background()

	_, err := r.Invite(ctx, testUsers, nil)
	require.Error(t, err)

	var apiErr *platform.APIError
	require.ErrorAs(t, err, &apiErr)

	invited, err := store.IsInvited(ctx, "team-a", config.EnvDev)
	require.NoError(t, err)
	assert.False(t, invited)

	ops, err := store.ListOperations(ctx, state.OperationFilter{})
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestInvite_MissingAdminCredential(t *testing.T) {
	store := newTestStore(t)
	fp := newFakePlatform()

	r := NewRunner(testLogger(), store, fp, staticCreds(map[string]string{"ADMIN_TOKEN": "SKIP"}), config.EnvDev)

	_, err := r.Invite(context.Background(), testUsers, nil)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Empty(t, fp.Calls())
}

func TestInvite_NoMatchingUsersTouchesNothing(t *testing.T) {
	store := newTestStore(t)
	fp := newFakePlatform()

	r := NewRunner(testLogger(), store, fp, staticCreds(nil), config.EnvDev)

	_, err := r.Invite(context.Background(), testUsers, []string{"unknown"})
	require.ErrorIs(t, err, ErrNoMatchingUsers)

	all, err := store.GetAllStatuses(context.Background(), config.EnvDev)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSetup_CreatesGroupThenSourceAndIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	fp := newFakePlatform()
	fp.groupIDs["tok-a"] = "g-1"
	fp.sourceIDs["tok-a"] = "s-1"

	r := NewRunner(testLogger(), store, fp, staticCreds(map[string]string{"USER_TOKEN_TEAM_A": "tok-a"}), config.EnvDev)
	ctx := context.Background()

	result, err := r.Setup(ctx, testUsers, testGroups, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"team-a"}, result.Succeeded)
	assert.Equal(t, []string{"team-b"}, result.NotReady)
	assert.Empty(t, result.Failed)

	calls := fp.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "create_group", calls[0].Method)
	assert.Equal(t, "create_source", calls[1].Method)
	assert.Equal(t, map[string]any{"group_id": "g-1"}, calls[1].Payload["config"])

	// Catalog payload is left untouched.
	assert.Equal(t, "<group_id>", testGroups.Groups[0].Source["config"].(map[string]any)["group_id"])

	status, err := store.GetStatus(ctx, "team-a", config.EnvDev)
	require.NoError(t, err)
	assert.True(t, status.GroupCreated)
	assert.Equal(t, "g-1", status.GroupAPIID)
	assert.True(t, status.SourceCreated)
	assert.Equal(t, "s-1", status.SourceAPIID)

	before, err := store.GetAllStatuses(ctx, config.EnvDev)
	require.NoError(t, err)
	opsBefore, err := store.ListOperations(ctx, state.OperationFilter{})
	require.NoError(t, err)

	result, err = r.Setup(ctx, testUsers, testGroups, []string{"team-a"})
	require.NoError(t, err)

	assert.Empty(t, result.Succeeded)
	assert.Equal(t, []string{"team-a"}, result.AlreadyDone)
	assert.Len(t, fp.Calls(), 2)

	after, err := store.GetAllStatuses(ctx, config.EnvDev)
	require.NoError(t, err)
	opsAfter, err := store.ListOperations(ctx, state.OperationFilter{})
	require.NoError(t, err)

	assert.Equal(t, before, after)
	assert.Equal(t, opsBefore, opsAfter)
}

func TestSetup_ResumesAfterGroupCreated(t *testing.T) {
	store := newTestStore(t)
	fp := newFakePlatform()
	fp.sourceIDs["tok-b"] = "s-9"

	ctx := context.Background()
	require.NoError(t, store.RecordGroupCreation(ctx, "team-b", config.EnvDev, "g-9", "Team B"))

	r := NewRunner(testLogger(), store, fp, staticCreds(map[string]string{"USER_TOKEN_TEAM_B": "tok-b"}), config.EnvDev)

	result, err := r.Setup(ctx, testUsers, testGroups, []string{"team-b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"team-b"}, result.Succeeded)

	calls := fp.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "create_source", calls[0].Method)
	assert.Equal(t, []any{"g-9"}, calls[0].Payload["groups"])
}

func TestSetup_DuplicateGroupIsSkipped(t *testing.T) {
	store := newTestStore(t)
	fp := newFakePlatform()
	fp.groupErrs["tok-a"] = &platform.APIError{Op: "creating group", StatusCode: 409, Err: platform.ErrConflict}
	fp.groupIDs["tok-b"] = "g-b"
	fp.sourceIDs["tok-b"] = "s-b"

	r := NewRunner(testLogger(), store, fp, staticCreds(map[string]string{
		"USER_TOKEN_TEAM_A": "tok-a",
		"USER_TOKEN_TEAM_B": "tok-b",
	}), config.EnvDev)
	ctx := context.Background()

	result, err := r.Setup(ctx, testUsers, testGroups, nil)
	require.NoError(t, err)

	assert.Equal(t, []Skip{{ID: "team-a", Reason: ReasonGroupNameTaken}}, result.Skipped)
	assert.Equal(t, []string{"team-b"}, result.Succeeded)
	assert.Empty(t, result.Failed)

	created, err := store.IsSourceCreated(ctx, "team-a", config.EnvDev)
	require.NoError(t, err)
	assert.False(t, created)

	for _, c := range fp.Calls() {
		if c.Token == "tok-a" {
			assert.NotEqual(t, "create_source", c.Method)
		}
	}
}

func TestSetup_FailureDoesNotAbortBatch(t *testing.T) {
	store := newTestStore(t)
	fp := newFakePlatform()
	fp.groupErrs["tok-a"] = &platform.APIError{Op: "creating group", StatusCode: 500, Body: "boom"}
	fp.groupIDs["tok-b"] = "g-b"
	fp.sourceIDs["tok-b"] = "s-b"

	r := NewRunner(testLogger(), store, fp, staticCreds(map[string]string{
		"USER_TOKEN_TEAM_A": "tok-a",
		"USER_TOKEN_TEAM_B": "tok-b",
	}), config.EnvDev)
	ctx := context.Background()

	result, err := r.Setup(ctx, testUsers, testGroups, nil)
	require.NoError(t, err)

	require.Len(t, result.Failed, 1)
	assert.Equal(t, "team-a", result.Failed[0].ID)
	assert.Contains(t, result.Failed[0].Error, "boom")
	assert.Equal(t, []string{"team-b"}, result.Succeeded)

	ops, err := store.ListOperations(ctx, state.OperationFilter{UserID: "team-a"})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, state.OperationSetup, ops[0].OperationType)
	assert.Equal(t, state.StatusFailed, ops[0].Status)
	require.NotNil(t, ops[0].ErrorMessage)
	assert.Contains(t, *ops[0].ErrorMessage, "boom")
}

func TestSetup_MissingGroupDefinition(t *testing.T) {
	store := newTestStore(t)
	fp := newFakePlatform()

	r := NewRunner(testLogger(), store, fp, staticCreds(map[string]string{"USER_TOKEN_TEAM_A": "tok-a"}), config.EnvDev)

	result, err := r.Setup(context.Background(), testUsers, &catalog.GroupsFile{}, []string{"team-a"})
	require.NoError(t, err)

	assert.Equal(t, []Skip{{ID: "team-a", Reason: ReasonNoGroupDefinition}}, result.Skipped)
	assert.Empty(t, fp.Calls())
}

func TestCreateSource_RefusesWithoutGroupID(t *testing.T) {
	store := newTestStore(t)
	fp := newFakePlatform()

	r := NewRunner(testLogger(), store, fp, staticCreds(nil), config.EnvDev)
	rn := r.newRun("setup")

	err := rn.createSource(context.Background(), "tok", testUsers.Users[0], &testGroups.Groups[0], "")
	require.ErrorIs(t, err, ErrNoGroupID)
	assert.Empty(t, fp.Calls())
}

// failingLogStore rejects every operation log write.
type failingLogStore struct {
	state.Store
}

func (failingLogStore) LogOperation(context.Context, *state.OperationLog) error {
	return errors.New("disk full")
}

func TestSetup_OperationLogIsBestEffort(t *testing.T) {
	store := failingLogStore{Store: newTestStore(t)}
	fp := newFakePlatform()
	fp.groupIDs["tok-a"] = "g-1"
	fp.sourceIDs["tok-a"] = "s-1"

	r := NewRunner(testLogger(), store, fp, staticCreds(map[string]string{"USER_TOKEN_TEAM_A": "tok-a"}), config.EnvDev)

	result, err := r.Setup(context.Background(), testUsers, testGroups, []string{"team-a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"team-a"}, result.Succeeded)
}

func TestCleanup(t *testing.T) {
	store := newTestStore(t)
	fp := newFakePlatform()
	fp.deleteErrs["s-b"] = &platform.APIError{Op: "deleting source", StatusCode: 500}

	ctx := context.Background()

	for _, u := range []string{"team-a", "team-b"} {
		require.NoError(t, store.RecordGroupCreation(ctx, u, config.EnvDev, "g-"+u[5:], u))
		require.NoError(t, store.RecordSourceCreation(ctx, u, config.EnvDev, "s-"+u[5:], u))
	}

	r := NewRunner(testLogger(), store, fp, staticCreds(map[string]string{
		"USER_TOKEN_TEAM_A": "tok-a",
		"USER_TOKEN_TEAM_B": "tok-b",
	}), config.EnvDev)

	result, err := r.Cleanup(ctx, testUsers, nil, CleanupAll)
	require.NoError(t, err)

	assert.Equal(t, []string{"team-a"}, result.Cleaned)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "team-b", result.Failed[0].ID)

	status, err := store.GetStatus(ctx, "team-a", config.EnvDev)
	require.NoError(t, err)
	assert.False(t, status.GroupCreated)
	assert.False(t, status.SourceCreated)

	// Failed source keeps both records.
	status, err = store.GetStatus(ctx, "team-b", config.EnvDev)
	require.NoError(t, err)
	assert.True(t, status.GroupCreated)
	assert.True(t, status.SourceCreated)

	var methods []string
	for _, c := range fp.Calls() {
		methods = append(methods, c.Method+":"+c.ID)
	}

	assert.Equal(t, []string{"delete_source:s-a", "delete_group:g-a", "delete_source:s-b"}, methods)

	// Nothing left for team-a.
	result, err = r.Cleanup(ctx, testUsers, []string{"team-a"}, CleanupAll)
	require.NoError(t, err)
	assert.Equal(t, []Skip{{ID: "team-a", Reason: ReasonNothingToClean}}, result.Skipped)
}

func TestCleanup_SourcesOnly(t *testing.T) {
	store := newTestStore(t)
	fp := newFakePlatform()
	ctx := context.Background()

	require.NoError(t, store.RecordGroupCreation(ctx, "team-a", config.EnvDev, "g-a", "a"))
	require.NoError(t, store.RecordSourceCreation(ctx, "team-a", config.EnvDev, "s-a", "a"))

	r := NewRunner(testLogger(), store, fp, staticCreds(map[string]string{"USER_TOKEN_TEAM_A": "tok-a"}), config.EnvDev)

	scope, err := ParseCleanupScope(true, false)
	require.NoError(t, err)

	result, err := r.Cleanup(ctx, testUsers, []string{"team-a"}, scope)
	require.NoError(t, err)
	assert.Equal(t, []string{"team-a"}, result.Cleaned)

	status, err := store.GetStatus(ctx, "team-a", config.EnvDev)
	require.NoError(t, err)
	assert.True(t, status.GroupCreated)
	assert.False(t, status.SourceCreated)

	_, err = ParseCleanupScope(true, true)
	require.Error(t, err)
}

func TestCleanup_NoCredential(t *testing.T) {
	store := newTestStore(t)
	fp := newFakePlatform()
	ctx := context.Background()

	require.NoError(t, store.RecordGroupCreation(ctx, "team-a", config.EnvDev, "g-a", "a"))

	r := NewRunner(testLogger(), store, fp, staticCreds(nil), config.EnvDev)

	result, err := r.Cleanup(ctx, testUsers, []string{"team-a"}, CleanupAll)
	require.NoError(t, err)
	assert.Equal(t, []Skip{{ID: "team-a", Reason: ReasonNoCredential}}, result.Skipped)
	assert.Empty(t, fp.Calls())
}

func TestSubstitute(t *testing.T) {
	in := map[string]any{
		"name":   "feed for <group_id>",
		"nested": map[string]any{"ids": []any{"<group_id>", 3, true}},
		"count":  2,
	}

	out := substitute(in, "<group_id>", "g-7")

	assert.Equal(t, map[string]any{
		"name":   "feed for g-7",
		"nested": map[string]any{"ids": []any{"g-7", 3, true}},
		"count":  2,
	}, out)
	assert.Equal(t, "feed for <group_id>", in["name"])
}
