package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usersJSON = `{
  "admin": {"email": "admin@example.com"},
  "users": [
    {"id": "team-a", "email": "team-a@example.com"},
    {"id": "team-b", "email": "team-b@example.com", "password": "hunter2"}
  ]
}`

const groupsYAML = `
groups:
  - id: team-a
    name: Team A
    group:
      name: Team A Partners
      visibility: private
    source:
      name: Team A Feed
      group_id: <group_id>
  - id: team-b
    name: Team B
`

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestUsers(t *testing.T) {
	c := New(writeFixture(t, "users.json", usersJSON), "")

	f, err := c.Users()
	require.NoError(t, err)

	assert.Equal(t, "admin@example.com", f.Admin.Email)
	require.Len(t, f.Users, 2)

	u, ok := f.Find("team-b")
	require.True(t, ok)
	assert.Equal(t, "hunter2", u.Password)

	_, ok = f.Find("team-z")
	assert.False(t, ok)
}

func TestUsers_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "id with a slash",
			content: `{"users": [{"id": "team/a", "email": "a@example.com"}]}`,
			wantErr: "must be a slug",
		},
		{
			name:    "missing email",
			content: `{"users": [{"id": "team-a"}]}`,
			wantErr: "email is required",
		},
		{
			name:    "malformed json",
			content: `{"users": [`,
			wantErr: "parsing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(writeFixture(t, "users.json", tt.content), "")

			_, err := c.Users()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGroups(t *testing.T) {
	c := New("", writeFixture(t, "groups.yaml", groupsYAML))

	f, err := c.Groups()
	require.NoError(t, err)
	require.Len(t, f.Groups, 2)

	g, ok := f.Find("team-a")
	require.True(t, ok)
	assert.Equal(t, "Team A Partners", g.GroupName())
	assert.Equal(t, "Team A Feed", g.SourceName())
	assert.Equal(t, GroupIDPlaceholder, g.Source["group_id"])

	g, ok = f.Find("team-b")
	require.True(t, ok)
	assert.Equal(t, "Team B", g.GroupName())
	assert.Equal(t, "Team B", g.SourceName())
}

func TestGroups_DuplicateID(t *testing.T) {
	c := New("", writeFixture(t, "groups.yaml", `
groups:
  - id: team-a
    name: A
  - id: team-a
    name: A again
`))

	_, err := c.Groups()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
}

func TestSaveGroup(t *testing.T) {
	dir := t.TempDir()
	usersPath := filepath.Join(dir, "users.json")
	groupsPath := filepath.Join(dir, "groups.json")
	c := New(usersPath, groupsPath)
	ctx := context.Background()

	require.NoError(t, c.SaveGroup(ctx, Group{ID: "team-c", Name: "Team C"}, "groups+team-c_dev@example.com"))

	groups, err := c.Groups()
	require.NoError(t, err)
	require.Len(t, groups.Groups, 1)

	users, err := c.Users()
	require.NoError(t, err)
	require.Len(t, users.Users, 1)
	assert.Equal(t, "groups+team-c_dev@example.com", users.Users[0].Email)

	// Saving again replaces the definition and keeps the existing user.
	require.NoError(t, c.SaveGroup(ctx, Group{
		ID:     "team-c",
		Name:   "Team C renamed",
		Source: map[string]any{"name": "feed"},
	}, "other@example.com"))

	groups, err = c.Groups()
	require.NoError(t, err)
	require.Len(t, groups.Groups, 1)
	assert.Equal(t, "Team C renamed", groups.Groups[0].Name)
	assert.Equal(t, "feed", groups.Groups[0].SourceName())

	users, err = c.Users()
	require.NoError(t, err)
	require.Len(t, users.Users, 1)
	assert.Equal(t, "groups+team-c_dev@example.com", users.Users[0].Email)
}

func TestSaveGroup_Validation(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "u.json"), filepath.Join(t.TempDir(), "g.json"))

	require.Error(t, c.SaveGroup(context.Background(), Group{ID: "", Name: "x"}, ""))
	require.Error(t, c.SaveGroup(context.Background(), Group{ID: "ok", Name: ""}, ""))
}

func TestDeleteGroup(t *testing.T) {
	c := New("", writeFixture(t, "groups.yaml", groupsYAML))
	ctx := context.Background()

	require.NoError(t, c.DeleteGroup(ctx, "team-a"))

	f, err := c.Groups()
	require.NoError(t, err)
	require.Len(t, f.Groups, 1)
	assert.Equal(t, "team-b", f.Groups[0].ID)

	err = c.DeleteGroup(ctx, "team-a")
	require.ErrorIs(t, err, ErrGroupNotFound)
}

func TestAddUser_YAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	c := New(path, "")
	ctx := context.Background()

	require.NoError(t, c.AddUser(ctx, User{ID: "team-a", Email: "a@example.com"}))
	require.NoError(t, c.AddUser(ctx, User{ID: "team-a", Email: "dup@example.com"}))
	require.NoError(t, c.AddUser(ctx, User{ID: "team-b", Email: "b@example.com"}))

	f, err := c.Users()
	require.NoError(t, err)
	require.Len(t, f.Users, 2)
	assert.Equal(t, "a@example.com", f.Users[0].Email)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
