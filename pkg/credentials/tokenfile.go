package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"
)

const tokenFileLockTimeout = 5 * time.Second

// TokenStatus describes the stored credential of one user. The token value
// itself is never returned.
type TokenStatus struct {
	UserID     string `json:"user_id"`
	Key        string `json:"key"`
	Configured bool   `json:"configured"`
	Skipped    bool   `json:"skipped"`
	Preview    string `json:"preview,omitempty"`
}

// TokenFile stores static tokens in a dotenv file. It also serves as a
// Secrets source, re-reading the file on every lookup.
type TokenFile struct {
	path string
}

var _ Secrets = (*TokenFile)(nil)

// NewTokenFile creates a TokenFile for path.
func NewTokenFile(path string) *TokenFile {
	return &TokenFile{path: path}
}

// Lookup implements Secrets.
func (f *TokenFile) Lookup(key string) (string, bool) {
	values, err := f.read()
	if err != nil {
		return "", false
	}

	v, ok := values[key]

	return v, ok
}

// Statuses returns the token status of each user id plus the admin token,
// which is reported under the id "admin".
func (f *TokenFile) Statuses(userIDs []string) ([]TokenStatus, error) {
	values, err := f.read()
	if err != nil {
		return nil, err
	}

	ids := append([]string(nil), userIDs...)
	sort.Strings(ids)

	out := make([]TokenStatus, 0, len(ids)+1)
	out = append(out, status("admin", AdminTokenKey, values))

	for _, id := range ids {
		out = append(out, status(id, UserTokenKey(id), values))
	}

	return out, nil
}

func status(id, key string, values map[string]string) TokenStatus {
	v, ok := values[key]
	st := TokenStatus{
		UserID:     id,
		Key:        key,
		Configured: ok && !IsPlaceholder(v),
		Skipped:    ok && strings.EqualFold(strings.TrimSpace(v), SkipValue),
	}

	if st.Configured {
		st.Preview = mask(v)
	}

	return st
}

func mask(v string) string {
	if len(v) <= 8 {
		return "****"
	}

	return v[:4] + "****"
}

// Set stores the token of a user. An empty token is stored as the skip
// sentinel. The id "admin" addresses the admin token.
func (f *TokenFile) Set(ctx context.Context, userID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		token = SkipValue
	}

	return f.update(ctx, func(values map[string]string) {
		values[keyFor(userID)] = token
	})
}

// Delete removes the token of a user.
func (f *TokenFile) Delete(ctx context.Context, userID string) error {
	return f.update(ctx, func(values map[string]string) {
		delete(values, keyFor(userID))
	})
}

func keyFor(userID string) string {
	if userID == "admin" {
		return AdminTokenKey
	}

	return UserTokenKey(userID)
}

func (f *TokenFile) read() (map[string]string, error) {
	values, err := godotenv.Read(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	return values, nil
}

func (f *TokenFile) update(ctx context.Context, fn func(map[string]string)) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("creating token file directory: %w", err)
	}

	lock := flock.New(f.path + ".lock")

	ctx, cancel := context.WithTimeout(ctx, tokenFileLockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring token file lock: %w", err)
	}

	if !locked {
		return errors.New("timeout waiting for token file lock")
	}

	defer func() { _ = lock.Unlock() }()

	values, err := f.read()
	if err != nil {
		return err
	}

	fn(values)

	if err := godotenv.Write(values, f.path); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	return nil
}
