package portainer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/blockgate/hosting/internal/models"
	"github.com/blockgate/hosting/internal/monitoring"
)

// Config holds the management API connection configuration. Either an API
// key or a username/password pair must be provided; the key wins when both
// are set.
type Config struct {
	BaseURL  string
	APIKey   string
	Username string
	Password string
	Timeout  time.Duration // defaults to 10s
}

// Client is the gateway to the container engine's management API. All
// engine capabilities the control plane uses (environments, stacks,
// containers, networks, exec) go through it.
type Client struct {
	baseURL    string
	apiKey     string
	username   string
	password   string
	httpClient *http.Client

	mu  sync.Mutex
	jwt string
}

// APIError carries the engine's status code and message. 4xx responses
// surface as APIError directly; 5xx are wrapped as external-unavailable.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("engine returned status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an engine 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient creates a management API client.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("portainer base URL is required")
	}
	if config.APIKey == "" && (config.Username == "" || config.Password == "") {
		return nil, errors.New("portainer needs an API key or username/password")
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(config.BaseURL, "/"),
		apiKey:   config.APIKey,
		username: config.Username,
		password: config.Password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// authenticate obtains a session token with the configured credentials.
func (c *Client) authenticate(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return externalErr("container engine unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return externalErr("reading engine response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	var result struct {
		JWT string `json:"jwt"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("failed to parse auth response: %w", err)
	}

	c.mu.Lock()
	c.jwt = result.JWT
	c.mu.Unlock()
	return nil
}

// sessionToken returns a valid JWT, authenticating on first use. Only
// meaningful for username/password auth.
func (c *Client) sessionToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.jwt
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	if err := c.authenticate(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jwt, nil
}

// request performs one API call and returns the response body. A 401
// under session auth triggers one re-authentication and a single retry.
func (c *Client) request(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	respBody, status, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized && c.apiKey == "" {
		if err := c.authenticate(ctx); err != nil {
			return nil, err
		}
		respBody, status, err = c.do(ctx, method, path, body)
		if err != nil {
			return nil, err
		}
	}

	if status >= 500 {
		return nil, externalErr(
			fmt.Sprintf("engine returned status %d", status),
			&APIError{StatusCode: status, Message: strings.TrimSpace(string(respBody))})
	}
	if status < 200 || status >= 300 {
		return nil, &APIError{StatusCode: status, Message: strings.TrimSpace(string(respBody))}
	}

	return respBody, nil
}

// requestIdempotent is request plus bounded retry on external-unavailable
// failures. Only reads go through it; mutations surface immediately so a
// flaky engine can never double-apply them.
func (c *Client) requestIdempotent(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	attempt := func() ([]byte, error) {
		respBody, err := c.request(ctx, method, path, body)
		if err != nil && models.KindOf(err) != models.KindExternalUnavailable {
			return nil, backoff.Permanent(err)
		}
		return respBody, err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	return backoff.RetryWithData(attempt, policy)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) ([]byte, int, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	} else {
		token, err := c.sessionToken(ctx)
		if err != nil {
			return nil, 0, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, externalErr("container engine unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, externalErr("reading engine response", err)
	}

	return respBody, resp.StatusCode, nil
}

// dockerPath composes the engine-proxy path for an environment.
func dockerPath(environmentID int, suffix string) string {
	return fmt.Sprintf("/api/endpoints/%d/docker%s", environmentID, suffix)
}

// externalErr wraps a management API failure and feeds the failure
// counter. Retried attempts count individually.
func externalErr(operation string, err error) error {
	monitoring.RecordExternalFailure("portainer")
	return models.NewExternalError(operation, err)
}
