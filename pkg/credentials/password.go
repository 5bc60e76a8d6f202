package credentials

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethpandaops/onboardoor/pkg/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// PasswordGrant exchanges user passwords for tokens with the OAuth2
// resource-owner password flow. Tokens are cached until they expire.
type PasswordGrant struct {
	log     logrus.FieldLogger
	oauth   *oauth2.Config
	secrets Secrets
	admin   Identity

	mu     sync.Mutex
	tokens map[string]*oauth2.Token
}

var _ Provider = (*PasswordGrant)(nil)

// NewPasswordGrant creates a PasswordGrant provider.
func NewPasswordGrant(
	log logrus.FieldLogger,
	cfg *config.PasswordGrantConfig,
	secrets Secrets,
	admin Identity,
) *PasswordGrant {
	return &PasswordGrant{
		log: log.WithField("component", "credentials-password"),
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL: cfg.TokenURL,
			},
			Scopes: cfg.Scopes,
		},
		secrets: secrets,
		admin:   admin,
		tokens:  make(map[string]*oauth2.Token, 8),
	}
}

// Available implements Provider.
func (p *PasswordGrant) Available(id Identity) bool {
	if IsPlaceholder(id.Email) {
		return false
	}

	_, ok := password(p.secrets, id)

	return ok
}

// Token implements Provider.
func (p *PasswordGrant) Token(ctx context.Context, id Identity) (string, error) {
	pw, ok := password(p.secrets, id)
	if !ok || IsPlaceholder(id.Email) {
		return "", fmt.Errorf("password for %s: %w", id.UserID, ErrUnavailable)
	}

	return p.exchange(ctx, id.UserID, id.Email, pw)
}

// AdminToken implements Provider.
func (p *PasswordGrant) AdminToken(ctx context.Context) (string, error) {
	if v, ok := Usable(p.secrets, AdminTokenKey); ok {
		return v, nil
	}

	admin := adminIdentity(p.secrets, p.admin)
	if IsPlaceholder(admin.Email) || IsPlaceholder(admin.Password) {
		return "", fmt.Errorf("admin email and password: %w", ErrUnavailable)
	}

	return p.exchange(ctx, admin.UserID, admin.Email, admin.Password)
}

func (p *PasswordGrant) exchange(ctx context.Context, key, email, pw string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tok, ok := p.tokens[key]; ok && tok.Valid() {
		return tok.AccessToken, nil
	}

	p.log.WithField("user", key).Debug("Exchanging password for token")

	tok, err := p.oauth.PasswordCredentialsToken(ctx, email, pw)
	if err != nil {
		return "", fmt.Errorf("password grant for %s: %w", key, err)
	}

	p.tokens[key] = tok

	return tok.AccessToken, nil
}
