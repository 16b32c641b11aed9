package dns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/blockgate/hosting/internal/models"
	"github.com/blockgate/hosting/internal/monitoring"
	"github.com/blockgate/hosting/pkg/logger"
)

const (
	PorkbunAPIBaseURL = "https://api.porkbun.com/api/json/v3"

	// statusSuccess is the literal the API reports on every good response.
	statusSuccess = "SUCCESS"
)

// PorkbunConfig holds registrar connection configuration.
type PorkbunConfig struct {
	BaseURL   string // defaults to PorkbunAPIBaseURL
	APIKey    string
	SecretKey string
	Timeout   time.Duration // defaults to 10s
}

// PorkbunClient talks to the Porkbun DNS API. Every payload carries the
// key pair; every endpoint is a POST.
type PorkbunClient struct {
	baseURL    string
	apiKey     string
	secretKey  string
	httpClient *http.Client
}

// Record is one DNS record as the registrar reports it. The API returns
// numeric fields as strings.
type Record struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
	TTL     string `json:"ttl"`
	Prio    string `json:"prio"`
	Notes   string `json:"notes"`
}

// NewPorkbunClient creates a registrar client.
func NewPorkbunClient(config PorkbunConfig) *PorkbunClient {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = PorkbunAPIBaseURL
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PorkbunClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    config.APIKey,
		secretKey: config.SecretKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Ping verifies the credentials against the API.
func (c *PorkbunClient) Ping(ctx context.Context) error {
	_, err := c.request(ctx, "/ping", nil)
	return err
}

// RetrieveRecords lists every record of a domain.
func (c *PorkbunClient) RetrieveRecords(ctx context.Context, domain string) ([]Record, error) {
	resp, err := c.request(ctx, "/dns/retrieve/"+domain, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve records for %s: %w", domain, err)
	}

	var result struct {
		Records []Record `json:"records"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return result.Records, nil
}

// RetrieveRecord fetches a single record by id.
func (c *PorkbunClient) RetrieveRecord(ctx context.Context, domain, id string) (*Record, error) {
	resp, err := c.request(ctx, joinPath("/dns/retrieve", domain, id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve record %s: %w", id, err)
	}

	var result struct {
		Records []Record `json:"records"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Records) == 0 {
		return nil, fmt.Errorf("record %s not found on %s", id, domain)
	}
	return &result.Records[0], nil
}

// CreateRecord creates one record and returns the registrar-assigned id.
func (c *PorkbunClient) CreateRecord(ctx context.Context, domain, name, recordType, content string, ttl, prio int) (string, error) {
	payload := map[string]interface{}{
		"name":    name,
		"type":    recordType,
		"content": content,
		"ttl":     fmt.Sprintf("%d", ttl),
		"prio":    fmt.Sprintf("%d", prio),
	}

	resp, err := c.request(ctx, "/dns/create/"+domain, payload)
	if err != nil {
		return "", fmt.Errorf("failed to create %s record on %s: %w", recordType, domain, err)
	}

	var result struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	logger.Info("DNS record created", map[string]interface{}{
		"domain": domain,
		"name":   name,
		"type":   recordType,
		"id":     result.ID.String(),
	})

	return result.ID.String(), nil
}

// DeleteRecord removes one record by id.
func (c *PorkbunClient) DeleteRecord(ctx context.Context, domain, id string) error {
	if _, err := c.request(ctx, joinPath("/dns/delete", domain, id), nil); err != nil {
		return fmt.Errorf("failed to delete record %s on %s: %w", id, domain, err)
	}
	return nil
}

// request posts a payload (plus the key pair) to an endpoint and returns
// the body. 5xx and transport failures are retried with exponential
// backoff a bounded number of times; other failures are permanent.
func (c *PorkbunClient) request(ctx context.Context, endpoint string, payload map[string]interface{}) ([]byte, error) {
	body := map[string]interface{}{
		"apikey":       c.apiKey,
		"secretapikey": c.secretKey,
	}
	for k, v := range payload {
		body[k] = v
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	url := c.baseURL + joinPath(endpoint)

	attempt := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, externalErr("dns registrar unreachable", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, externalErr("reading registrar response", err)
		}

		if resp.StatusCode >= 500 {
			return nil, externalErr(
				fmt.Sprintf("registrar returned status %d", resp.StatusCode),
				fmt.Errorf("%s", strings.TrimSpace(string(respBody))))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, backoff.Permanent(fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(respBody)))
		}

		var status struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(respBody, &status); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to parse response: %w", err))
		}
		if status.Status != statusSuccess {
			return nil, backoff.Permanent(fmt.Errorf("registrar rejected request: %s", status.Message))
		}

		return respBody, nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	return backoff.RetryWithData(attempt, policy)
}

// externalErr wraps a registrar failure and feeds the failure counter.
// Retried attempts count individually.
func externalErr(operation string, err error) error {
	monitoring.RecordExternalFailure("porkbun")
	return models.NewExternalError(operation, err)
}

// joinPath joins URL path segments and collapses duplicate slashes.
func joinPath(segments ...string) string {
	joined := "/" + strings.Join(segments, "/")
	for strings.Contains(joined, "//") {
		joined = strings.ReplaceAll(joined, "//", "/")
	}
	return joined
}
