// Package catalog reads and edits the users and groups definition files that
// drive onboarding. JSON files are read and written as JSON; any other
// extension is treated as YAML.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// GroupIDPlaceholder is substituted with the created group's id in source
// definitions.
const GroupIDPlaceholder = "<group_id>"

// lockTimeout is how long an edit waits for the file lock.
const lockTimeout = 5 * time.Second

// ErrGroupNotFound is returned when a group id is not in the catalog.
var ErrGroupNotFound = errors.New("group not found in catalog")

// User is a partner account to onboard. By convention its ID is also the id
// of the partner group it owns.
type User struct {
	ID       string `yaml:"id" json:"id"`
	Email    string `yaml:"email" json:"email"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

// Admin is the platform administrator that sends invitations.
type Admin struct {
	Email    string `yaml:"email" json:"email"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

// UsersFile is the content of the users catalog.
type UsersFile struct {
	Admin Admin  `yaml:"admin" json:"admin"`
	Users []User `yaml:"users" json:"users"`
}

// Group is one partner group definition. Group and Source are passed to the
// platform APIs as-is, apart from placeholder substitution.
type Group struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Group       map[string]any `yaml:"group" json:"group"`
	Source      map[string]any `yaml:"source" json:"source"`
}

// GroupsFile is the content of the groups catalog.
type GroupsFile struct {
	Groups []Group `yaml:"groups" json:"groups"`
}

// payloadMeta is the subset of a group or source payload we need to read.
type payloadMeta struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
}

// SourceName returns the name field of the source payload, falling back to
// the group's display name.
func (g *Group) SourceName() string {
	if meta, ok := decodeMeta(g.Source); ok && meta.Name != "" {
		return meta.Name
	}

	return g.Name
}

// GroupName returns the name field of the group payload, falling back to the
// group's display name.
func (g *Group) GroupName() string {
	if meta, ok := decodeMeta(g.Group); ok && meta.Name != "" {
		return meta.Name
	}

	return g.Name
}

func decodeMeta(payload map[string]any) (payloadMeta, bool) {
	var meta payloadMeta
	if payload == nil {
		return meta, false
	}

	if err := mapstructure.Decode(payload, &meta); err != nil {
		return meta, false
	}

	return meta, true
}

// Find returns the user with the given id.
func (f *UsersFile) Find(id string) (User, bool) {
	for _, u := range f.Users {
		if u.ID == id {
			return u, true
		}
	}

	return User{}, false
}

// Find returns the group with the given id.
func (f *GroupsFile) Find(id string) (*Group, bool) {
	for i := range f.Groups {
		if f.Groups[i].ID == id {
			return &f.Groups[i], true
		}
	}

	return nil, false
}

// Catalog gives access to the users and groups files.
type Catalog struct {
	usersPath  string
	groupsPath string
}

// New creates a Catalog for the given file paths.
func New(usersPath, groupsPath string) *Catalog {
	return &Catalog{
		usersPath:  usersPath,
		groupsPath: groupsPath,
	}
}

// Users loads the users file.
func (c *Catalog) Users() (*UsersFile, error) {
	var f UsersFile
	if err := readFile(c.usersPath, &f); err != nil {
		return nil, fmt.Errorf("loading users catalog: %w", err)
	}

	for i := range f.Users {
		if err := validateID(f.Users[i].ID); err != nil {
			return nil, fmt.Errorf("users[%d]: %w", i, err)
		}

		if f.Users[i].Email == "" {
			return nil, fmt.Errorf("users[%d] %q: email is required", i, f.Users[i].ID)
		}
	}

	return &f, nil
}

// Groups loads the groups file.
func (c *Catalog) Groups() (*GroupsFile, error) {
	var f GroupsFile
	if err := readFile(c.groupsPath, &f); err != nil {
		return nil, fmt.Errorf("loading groups catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Groups))

	for i, g := range f.Groups {
		if err := validateID(g.ID); err != nil {
			return nil, fmt.Errorf("groups[%d]: %w", i, err)
		}

		if _, dup := seen[g.ID]; dup {
			return nil, fmt.Errorf("groups[%d]: duplicate id %q", i, g.ID)
		}

		seen[g.ID] = struct{}{}
	}

	return &f, nil
}

// SaveGroup inserts or replaces a group definition. When email is not empty
// and no user with the group's id exists yet, the user is added as well.
func (c *Catalog) SaveGroup(ctx context.Context, g Group, email string) error {
	if err := validateID(g.ID); err != nil {
		return err
	}

	if g.Name == "" {
		return errors.New("group name is required")
	}

	err := withLock(ctx, c.groupsPath, func() error {
		var f GroupsFile
		if err := readFileOrEmpty(c.groupsPath, &f); err != nil {
			return err
		}

		if existing, ok := f.Find(g.ID); ok {
			*existing = g
		} else {
			f.Groups = append(f.Groups, g)
		}

		return writeFile(c.groupsPath, &f)
	})
	if err != nil {
		return fmt.Errorf("saving group %q: %w", g.ID, err)
	}

	if email == "" {
		return nil
	}

	return c.AddUser(ctx, User{ID: g.ID, Email: email})
}

// DeleteGroup removes a group definition. Users are left untouched.
func (c *Catalog) DeleteGroup(ctx context.Context, id string) error {
	err := withLock(ctx, c.groupsPath, func() error {
		var f GroupsFile
		if err := readFile(c.groupsPath, &f); err != nil {
			return err
		}

		kept := f.Groups[:0]
		for _, g := range f.Groups {
			if g.ID != id {
				kept = append(kept, g)
			}
		}

		if len(kept) == len(f.Groups) {
			return ErrGroupNotFound
		}

		f.Groups = kept

		return writeFile(c.groupsPath, &f)
	})
	if err != nil {
		return fmt.Errorf("deleting group %q: %w", id, err)
	}

	return nil
}

// AddUser appends u to the users file unless a user with that id exists.
func (c *Catalog) AddUser(ctx context.Context, u User) error {
	if err := validateID(u.ID); err != nil {
		return err
	}

	err := withLock(ctx, c.usersPath, func() error {
		var f UsersFile
		if err := readFileOrEmpty(c.usersPath, &f); err != nil {
			return err
		}

		if _, ok := f.Find(u.ID); ok {
			return nil
		}

		f.Users = append(f.Users, u)

		return writeFile(c.usersPath, &f)
	})
	if err != nil {
		return fmt.Errorf("adding user %q: %w", u.ID, err)
	}

	return nil
}

// validateID enforces the slug convention for ids.
func validateID(id string) error {
	if id == "" {
		return errors.New("id is required")
	}

	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("id %q must be a slug of letters, digits, dashes and underscores", id)
		}
	}

	return nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

func readFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if isJSON(path) {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}

		return nil
	}

	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	return nil
}

func readFileOrEmpty(path string, v any) error {
	err := readFile(path, v)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}

// writeFile writes v to a temp file next to path and renames it into place.
func writeFile(path string, v any) error {
	var (
		data []byte
		err  error
	)

	if isJSON(path) {
		data, err = json.MarshalIndent(v, "", "  ")
		if err == nil {
			data = append(data, '\n')
		}
	} else {
		data, err = yaml.Marshal(v)
	}

	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}

	return nil
}

// withLock runs fn while holding an exclusive lock on path + ".lock".
func withLock(ctx context.Context, path string, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	lock := flock.New(path + ".lock")

	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}

	if !locked {
		return fmt.Errorf("timeout waiting for lock on %s", path)
	}

	defer func() { _ = lock.Unlock() }()

	return fn()
}
