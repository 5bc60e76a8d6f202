// Package credentials obtains bearer tokens for partner users and the
// platform administrator.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethpandaops/onboardoor/pkg/config"
	"github.com/sirupsen/logrus"
)

// Secret keys looked up for tokens and passwords.
const (
	AdminTokenKey    = "ADMIN_TOKEN"
	AdminEmailKey    = "ADMIN_EMAIL"
	AdminPasswordKey = "ADMIN_PASSWORD"

	userTokenPrefix    = "USER_TOKEN_"
	userPasswordPrefix = "USER_PASSWORD_"
)

// SkipValue marks a credential as intentionally not configured.
const SkipValue = "SKIP"

// placeholders are values that count as no credential at all.
var placeholders = []string{
	SkipValue,
	"REPLACE_AFTER_VERIFICATION",
	"NEEDS VERIFICATION",
	"NEEDS_VERIFICATION",
}

// ErrUnavailable is returned when no usable credential exists.
var ErrUnavailable = errors.New("credential not available")

// Identity is the account a token is requested for.
type Identity struct {
	UserID   string
	Email    string
	Password string
}

// Provider hands out bearer tokens. Available must not contact anything; it
// is used to partition users before any external call.
type Provider interface {
	Available(id Identity) bool
	Token(ctx context.Context, id Identity) (string, error)
	AdminToken(ctx context.Context) (string, error)
}

// Secrets looks up raw secret values by key.
type Secrets interface {
	Lookup(key string) (string, bool)
}

// EnvSecrets reads secrets from the process environment.
type EnvSecrets struct{}

// Lookup implements Secrets.
func (EnvSecrets) Lookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// MapSecrets serves secrets from a map.
type MapSecrets map[string]string

// Lookup implements Secrets.
func (m MapSecrets) Lookup(key string) (string, bool) {
	v, ok := m[key]

	return v, ok
}

// ChainSecrets returns the first value found.
type ChainSecrets []Secrets

// Lookup implements Secrets.
func (c ChainSecrets) Lookup(key string) (string, bool) {
	for _, s := range c {
		if v, ok := s.Lookup(key); ok {
			return v, true
		}
	}

	return "", false
}

// IsPlaceholder reports whether v is empty or one of the sentinel values
// that mean "not configured".
func IsPlaceholder(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return true
	}

	for _, p := range placeholders {
		if strings.EqualFold(v, p) {
			return true
		}
	}

	return false
}

// Usable returns the value for key when it exists and is not a placeholder.
func Usable(s Secrets, key string) (string, bool) {
	v, ok := s.Lookup(key)
	if !ok || IsPlaceholder(v) {
		return "", false
	}

	return strings.TrimSpace(v), true
}

// UserTokenKey is the secret key of a user's static token.
func UserTokenKey(userID string) string {
	return userTokenPrefix + keySuffix(userID)
}

// UserPasswordKey is the secret key of a user's password.
func UserPasswordKey(userID string) string {
	return userPasswordPrefix + keySuffix(userID)
}

func keySuffix(userID string) string {
	return strings.ToUpper(strings.ReplaceAll(userID, "-", "_"))
}

// password returns the usable password for id, preferring the secret store
// over the catalog entry.
func password(s Secrets, id Identity) (string, bool) {
	if v, ok := Usable(s, UserPasswordKey(id.UserID)); ok {
		return v, true
	}

	if IsPlaceholder(id.Password) {
		return "", false
	}

	return id.Password, true
}

// adminIdentity resolves the administrator login from secrets, falling back
// to the catalog admin.
func adminIdentity(s Secrets, fallback Identity) Identity {
	id := fallback
	id.UserID = "admin"

	if v, ok := Usable(s, AdminEmailKey); ok {
		id.Email = v
	}

	if v, ok := Usable(s, AdminPasswordKey); ok {
		id.Password = v
	}

	return id
}

// New returns the provider selected by cfg.Mode.
func New(
	log logrus.FieldLogger,
	cfg *config.CredentialsConfig,
	endpoints config.EndpointsConfig,
	secrets Secrets,
	admin Identity,
) (Provider, error) {
	switch cfg.Mode {
	case "", config.CredentialModeStatic:
		return NewStatic(secrets), nil
	case config.CredentialModePassword:
		return NewPasswordGrant(log, &cfg.Password, secrets, admin), nil
	case config.CredentialModeBrowser:
		if endpoints.AppURL == "" {
			return nil, errors.New("browser credentials need an app_url")
		}

		return NewBrowser(log, &cfg.Browser, endpoints.AppURL, secrets, admin), nil
	default:
		return nil, fmt.Errorf("unknown credentials mode %q", cfg.Mode)
	}
}
