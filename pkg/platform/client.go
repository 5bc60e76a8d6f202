// Package platform is the HTTP client for the detections and integrations
// APIs of the security-content platform.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethpandaops/onboardoor/pkg/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	invitationsPath = "/api/v1/users/invitations"
	groupsPath      = "/api/v1/groups"
	sourcesPath     = "/api/v1/sources"
	createSource    = sourcesPath + "/generic"
)

// Client calls the platform APIs of one environment.
type Client struct {
	log             logrus.FieldLogger
	http            *http.Client
	limiter         *rate.Limiter
	timeout         time.Duration
	detectionsURL   string
	integrationsURL string
}

// NewClient creates a Client for the given endpoints. A zero
// RequestsPerSecond disables outbound rate limiting.
func NewClient(
	log logrus.FieldLogger,
	endpoints config.EndpointsConfig,
	cfg *config.PlatformConfig,
) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultPlatformTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		log:             log.WithField("component", "platform"),
		http:            &http.Client{},
		limiter:         limiter,
		timeout:         timeout,
		detectionsURL:   strings.TrimRight(endpoints.DetectionsURL, "/"),
		integrationsURL: strings.TrimRight(endpoints.IntegrationsURL, "/"),
	}
}

// InviteUsers sends one batch invitation as the administrator and returns
// the emails the platform reports as newly invited.
func (c *Client) InviteUsers(ctx context.Context, token string, emails []string) ([]string, error) {
	var resp struct {
		Invitations []string `json:"invitations"`
		Data        struct {
			Invitations []string `json:"invitations"`
		} `json:"data"`
	}

	body := map[string]any{"emails": emails}

	if err := c.do(ctx, "sending invitations", http.MethodPost,
		c.detectionsURL+invitationsPath, token, body, &resp); err != nil {
		return nil, err
	}

	if resp.Invitations != nil {
		return resp.Invitations, nil
	}

	return resp.Data.Invitations, nil
}

// CreateGroup creates a group as the owning user and returns its id. A name
// clash is reported as ErrConflict.
func (c *Client) CreateGroup(ctx context.Context, token string, payload map[string]any) (string, error) {
	var resp map[string]any

	const op = "creating group"

	if err := c.do(ctx, op, http.MethodPost,
		c.detectionsURL+groupsPath, token, payload, &resp); err != nil {
		return "", err
	}

	id := resourceID(resp, "id")
	if id == "" {
		return "", &APIError{Op: op, Err: errors.New("response has no group id")}
	}

	return id, nil
}

// CreateSource creates a generic source as the owning user and returns its id.
func (c *Client) CreateSource(ctx context.Context, token string, payload map[string]any) (string, error) {
	var resp map[string]any

	const op = "creating source"

	if err := c.do(ctx, op, http.MethodPost,
		c.integrationsURL+createSource, token, payload, &resp); err != nil {
		return "", err
	}

	id := resourceID(resp, "id", "source_id")
	if id == "" {
		return "", &APIError{Op: op, Err: errors.New("response has no source id")}
	}

	return id, nil
}

// DeleteGroup deletes a group. A group that is already gone counts as
// deleted.
func (c *Client) DeleteGroup(ctx context.Context, token, id string) error {
	return c.delete(ctx, "deleting group", c.detectionsURL+groupsPath+"/"+id, token)
}

// DeleteSource deletes a source. A source that is already gone counts as
// deleted.
func (c *Client) DeleteSource(ctx context.Context, token, id string) error {
	return c.delete(ctx, "deleting source", c.integrationsURL+sourcesPath+"/"+id, token)
}

func (c *Client) delete(ctx context.Context, op, url, token string) error {
	err := c.do(ctx, op, http.MethodDelete, url, token, nil, nil)
	if errors.Is(err, ErrNotFound) {
		c.log.WithField("url", url).Debug("Resource already gone")

		return nil
	}

	return err
}

func (c *Client) do(
	ctx context.Context,
	op, method, url, token string,
	body, out any,
) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &APIError{Op: op, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", op, err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", op, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.WithFields(logrus.Fields{
		"method": method,
		"url":    url,
	}).Debug("Calling platform")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &APIError{Op: op, Err: ErrTimeout}
		}

		return &APIError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify(op, resp.StatusCode, string(respBody))
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &APIError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(respBody)),
			Err:        fmt.Errorf("decoding response: %w", err),
		}
	}

	return nil
}

func classify(op string, status int, body string) error {
	apiErr := &APIError{Op: op, StatusCode: status, Body: truncate(body)}

	switch {
	case status == http.StatusConflict:
		apiErr.Err = ErrConflict
	case (status == http.StatusBadRequest || status == http.StatusUnprocessableEntity) && isDuplicateBody(body):
		apiErr.Err = ErrConflict
	case status == http.StatusNotFound:
		apiErr.Err = ErrNotFound
	}

	return apiErr
}

// resourceID finds the first non-empty key at the top level or under "data".
func resourceID(resp map[string]any, keys ...string) string {
	scopes := []map[string]any{resp}
	if data, ok := resp["data"].(map[string]any); ok {
		scopes = append(scopes, data)
	}

	for _, scope := range scopes {
		for _, key := range keys {
			switch v := scope[key].(type) {
			case string:
				if v != "" {
					return v
				}
			case float64:
				return fmt.Sprintf("%.0f", v)
			}
		}
	}

	return ""
}
