package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/onboardoor/pkg/config"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

const (
	emailSelector    = `input[name="email"]`
	passwordSelector = `input[name="password"]`
	submitSelector   = `button[type="submit"]`

	tokenPollInterval = 500 * time.Millisecond
)

// readTokenJS reads the session token the web app stores after login.
const readTokenJS = `() =>
	localStorage.getItem('access_token') ||
	localStorage.getItem('token') ||
	sessionStorage.getItem('access_token') ||
	sessionStorage.getItem('token') ||
	''`

// Browser logs into the web app with a headless browser and reads the
// session token out of page storage.
type Browser struct {
	log     logrus.FieldLogger
	cfg     *config.BrowserConfig
	appURL  string
	secrets Secrets
	admin   Identity

	// login is replaced in tests.
	login func(ctx context.Context, email, password string) (string, error)

	mu     sync.Mutex
	tokens map[string]string
}

var _ Provider = (*Browser)(nil)

// NewBrowser creates a Browser provider.
func NewBrowser(
	log logrus.FieldLogger,
	cfg *config.BrowserConfig,
	appURL string,
	secrets Secrets,
	admin Identity,
) *Browser {
	b := &Browser{
		log:     log.WithField("component", "credentials-browser"),
		cfg:     cfg,
		appURL:  strings.TrimRight(appURL, "/"),
		secrets: secrets,
		admin:   admin,
		tokens:  make(map[string]string, 8),
	}
	b.login = b.browserLogin

	return b
}

// Available implements Provider.
func (b *Browser) Available(id Identity) bool {
	if IsPlaceholder(id.Email) {
		return false
	}

	_, ok := password(b.secrets, id)

	return ok
}

// Token implements Provider.
func (b *Browser) Token(ctx context.Context, id Identity) (string, error) {
	pw, ok := password(b.secrets, id)
	if !ok || IsPlaceholder(id.Email) {
		return "", fmt.Errorf("password for %s: %w", id.UserID, ErrUnavailable)
	}

	return b.cached(ctx, id.UserID, id.Email, pw)
}

// AdminToken implements Provider.
func (b *Browser) AdminToken(ctx context.Context) (string, error) {
	if v, ok := Usable(b.secrets, AdminTokenKey); ok {
		return v, nil
	}

	admin := adminIdentity(b.secrets, b.admin)
	if IsPlaceholder(admin.Email) || IsPlaceholder(admin.Password) {
		return "", fmt.Errorf("admin email and password: %w", ErrUnavailable)
	}

	return b.cached(ctx, admin.UserID, admin.Email, admin.Password)
}

func (b *Browser) cached(ctx context.Context, key, email, pw string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tok, ok := b.tokens[key]; ok {
		return tok, nil
	}

	timeout := b.cfg.LoginTimeout
	if timeout <= 0 {
		timeout = config.DefaultBrowserLoginTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b.log.WithField("user", key).Info("Logging in with browser")

	tok, err := b.login(ctx, email, pw)
	if err != nil {
		return "", fmt.Errorf("browser login for %s: %w", key, err)
	}

	b.tokens[key] = tok

	return tok, nil
}

func (b *Browser) browserLogin(ctx context.Context, email, pw string) (string, error) {
	l := launcher.New().Context(ctx).Headless(b.cfg.Headless)
	if b.cfg.BinPath != "" {
		l = l.Bin(b.cfg.BinPath)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("launching browser: %w", err)
	}
	defer l.Kill()

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return "", fmt.Errorf("connecting to browser: %w", err)
	}

	defer func() {
		if err := browser.Close(); err != nil {
			b.log.WithError(err).Debug("Failed to close browser")
		}
	}()

	page, err := browser.Page(proto.TargetCreateTarget{URL: b.appURL + "/login"})
	if err != nil {
		return "", fmt.Errorf("opening login page: %w", err)
	}

	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("loading login page: %w", err)
	}

	if err := fill(page, emailSelector, email); err != nil {
		return "", err
	}

	if err := fill(page, passwordSelector, pw); err != nil {
		return "", err
	}

	submit, err := page.Element(submitSelector)
	if err != nil {
		return "", fmt.Errorf("finding submit button: %w", err)
	}

	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return "", fmt.Errorf("submitting login form: %w", err)
	}

	ticker := time.NewTicker(tokenPollInterval)
	defer ticker.Stop()

	for {
		res, err := page.Eval(readTokenJS)
		if err == nil {
			if tok := res.Value.Str(); tok != "" {
				return tok, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", errors.New("no token in page storage before timeout")
		case <-ticker.C:
		}
	}
}

func fill(page *rod.Page, selector, value string) error {
	el, err := page.Element(selector)
	if err != nil {
		return fmt.Errorf("finding %s: %w", selector, err)
	}

	if err := el.Input(value); err != nil {
		return fmt.Errorf("filling %s: %w", selector, err)
	}

	return nil
}
