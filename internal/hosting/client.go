// Package hosting is a typed wrapper over the repository-hosting REST API.
// It translates HTTP status codes into domain outcomes and carries no
// business logic: retry and ordering policy belong to the workflow engine.
package hosting

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/firstmerge/firstmerge/internal/config"
	"github.com/firstmerge/firstmerge/internal/metrics"
	"github.com/firstmerge/firstmerge/internal/ratelimit"
)

const (
	// DefaultTimeout is the fallback timeout for API operations
	DefaultTimeout = 30 * time.Second
)

// Client handles HTTP requests to the repository-hosting API
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	limiterPool *ratelimit.Pool
	rpm         int
	logger      *slog.Logger
}

// NewClient creates a new hosting API client. The token is the learner's
// hosting credential and is held only for the life of this client.
func NewClient(cfg config.HostingConfig, token string, pool *ratelimit.Pool, logger *slog.Logger) *Client {
	timeout := DefaultTimeout
	if cfg.HTTPTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiterPool: pool,
		rpm:         cfg.RateLimitPerMinute,
		logger:      logger.With("component", "hosting"),
	}
}

// FileContent is the decoded result of a ReadFile call. SHA is the blob
// version token required as the write precondition.
type FileContent struct {
	Content string
	SHA     string
}

// Fork creates (or re-requests) a fork of owner/repo under the token's
// account. The API answers 202 while the fork is created asynchronously;
// an existing fork answers 409, which callers may treat as already done.
func (c *Client) Fork(ctx context.Context, owner, repo string) error {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/forks", c.baseURL, url.PathEscape(owner), url.PathEscape(repo))
	_, err := c.do(ctx, "fork", http.MethodPost, endpoint, nil)
	return err
}

// ReadFile fetches path from owner/repo and decodes its base64 payload.
func (c *Client) ReadFile(ctx context.Context, owner, repo, path string) (*FileContent, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.baseURL, url.PathEscape(owner), url.PathEscape(repo), path)
	body, err := c.do(ctx, "read_file", http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Content string `json:"content"`
		SHA     string `json:"sha"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse contents response: %w", err)
	}

	// The API wraps base64 payloads with newlines
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(payload.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("failed to decode file content: %w", err)
	}

	return &FileContent{Content: string(decoded), SHA: payload.SHA}, nil
}

// WriteFile commits new content for path on owner/repo. prevSHA must be the
// blob SHA from the preceding read; a stale SHA yields a Conflict outcome.
// Returns the new commit ID.
func (c *Client) WriteFile(ctx context.Context, owner, repo, path, content, prevSHA, message string) (string, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.baseURL, url.PathEscape(owner), url.PathEscape(repo), path)

	reqBody := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"sha":     prevSHA,
	}

	body, err := c.do(ctx, "write_file", http.MethodPut, endpoint, reqBody)
	if err != nil {
		return "", err
	}

	var payload struct {
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to parse commit response: %w", err)
	}

	return payload.Commit.SHA, nil
}

// CreatePullRequest opens a pull request from head (login:branch) into base
// on owner/repo and returns its browser URL. An equivalent open pull request
// yields a Conflict outcome, never silent success.
func (c *Client) CreatePullRequest(ctx context.Context, owner, repo, head, base, title, prBody string) (string, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/pulls", c.baseURL, url.PathEscape(owner), url.PathEscape(repo))

	reqBody := map[string]string{
		"title": title,
		"head":  head,
		"base":  base,
		"body":  prBody,
	}

	body, err := c.do(ctx, "create_pull_request", http.MethodPost, endpoint, reqBody)
	if err != nil {
		return "", err
	}

	var payload struct {
		HTMLURL string `json:"html_url"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to parse pull request response: %w", err)
	}

	return payload.HTMLURL, nil
}

// do performs one API call and returns the response body, or an *Error
// classified from the HTTP status. No retries happen here.
func (c *Client) do(ctx context.Context, op, method, endpoint string, reqBody any) ([]byte, error) {
	if err := c.limiterPool.Wait(ctx, c.baseURL, c.rpm); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	var bodyReader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordHostingRequest(op, "network_error", time.Since(start))
		return nil, &Error{
			Op:      op,
			Outcome: OutcomeTransient,
			Message: fmt.Sprintf("request failed: %v", err),
		}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordHostingRequest(op, "read_error", time.Since(start))
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	outcome := classifyStatus(resp.StatusCode)
	metrics.RecordHostingRequest(op, string(outcome), time.Since(start))

	c.logger.Debug("API call",
		"op", op,
		"status", resp.StatusCode,
		"outcome", outcome,
		"duration", time.Since(start))

	if outcome == OutcomeSuccess {
		return respBody, nil
	}

	return nil, &Error{
		Op:         op,
		StatusCode: resp.StatusCode,
		Outcome:    outcome,
		Message:    apiMessage(respBody),
	}
}

// apiMessage extracts the human-readable message from an error response body.
func apiMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
