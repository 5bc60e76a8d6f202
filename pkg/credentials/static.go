package credentials

import (
	"context"
	"fmt"
)

// Static serves pre-issued bearer tokens from a secret store.
type Static struct {
	secrets Secrets
}

var _ Provider = (*Static)(nil)

// NewStatic creates a Static provider.
func NewStatic(secrets Secrets) *Static {
	return &Static{secrets: secrets}
}

// Available implements Provider.
func (s *Static) Available(id Identity) bool {
	_, ok := Usable(s.secrets, UserTokenKey(id.UserID))

	return ok
}

// Token implements Provider.
func (s *Static) Token(_ context.Context, id Identity) (string, error) {
	key := UserTokenKey(id.UserID)

	v, ok := Usable(s.secrets, key)
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrUnavailable)
	}

	return v, nil
}

// AdminToken implements Provider.
func (s *Static) AdminToken(_ context.Context) (string, error) {
	v, ok := Usable(s.secrets, AdminTokenKey)
	if !ok {
		return "", fmt.Errorf("%s: %w", AdminTokenKey, ErrUnavailable)
	}

	return v, nil
}
