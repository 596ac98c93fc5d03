// Package tutor is the text-generation collaborator the curriculum consumes.
// The core never depends on its internals: callers hold a TextGenerator and
// treat the prose it returns as opaque.
package tutor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/firstmerge/firstmerge/internal/config"
	"github.com/firstmerge/firstmerge/internal/metrics"
	"github.com/firstmerge/firstmerge/internal/ratelimit"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests
	DefaultHTTPTimeout = 120 * time.Second
	// DefaultBaseRetryDelay is the base delay for exponential backoff
	DefaultBaseRetryDelay = 2 * time.Second
	// RateLimitBackoffMultiplier is the multiplier for rate limit backoff (3^n)
	RateLimitBackoffMultiplier = 3
)

// TextGenerator produces explanation text for a prompt. The curriculum layer
// is written against this interface so the engine and tests never need a live
// endpoint.
type TextGenerator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Client handles HTTP requests to an OpenAI-compatible endpoint
type Client struct {
	cfg            config.TutorConfig
	apiKey         string
	httpClient     *http.Client
	limiterPool    *ratelimit.Pool
	logger         *slog.Logger
	baseRetryDelay time.Duration
}

// NewClient creates a new tutor client. Unlike the hosting client, retries
// with exponential backoff live here: generation endpoints rate-limit
// aggressively and a retry is always safe.
func NewClient(cfg config.TutorConfig, apiKey string, pool *ratelimit.Pool, logger *slog.Logger) *Client {
	timeout := DefaultHTTPTimeout
	if cfg.HTTPTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	}

	return &Client{
		cfg:    cfg,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiterPool:    pool,
		logger:         logger.With("component", "tutor"),
		baseRetryDelay: DefaultBaseRetryDelay,
	}
}

// Generate sends one chat completion request and returns the response text.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	endpointID := fmt.Sprintf("%s:%s", c.cfg.BaseURL, c.cfg.ModelName)

	if err := c.limiterPool.Wait(ctx, endpointID, c.cfg.RateLimitPerMinute); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}

	messages := []Message{}
	if systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: userPrompt})

	req := chatCompletionRequest{
		Model:       c.cfg.ModelName,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
		MaxTokens:   c.cfg.MaxOutputTokens,
		N:           1,
	}

	// Retry with exponential backoff
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseRetryDelay

			// Rate limit errors get longer delays (3^n: 6s, 18s, 54s)
			if apiErr, ok := lastErr.(*APIError); ok && apiErr.StatusCode == http.StatusTooManyRequests {
				backoff = time.Duration(math.Pow(RateLimitBackoffMultiplier, float64(attempt))) * c.baseRetryDelay
			}

			c.logger.Warn("Retrying generation request",
				"attempt", attempt,
				"max_retries", c.cfg.MaxRetries,
				"backoff", backoff)

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		text, err := c.doRequest(ctx, req)
		if err == nil {
			return text, nil
		}

		lastErr = err

		if !isRetryable(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, req chatCompletionRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.cfg.BaseURL
	if endpoint[len(endpoint)-1] != '/' {
		endpoint += "/"
	}
	endpoint += "chat/completions"

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	} else {
		c.logger.Warn("Generation request without key", "endpoint", endpoint)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.RecordTutorRequest("network_error", time.Since(start))
		return "", &APIError{
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: true,
		}
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		metrics.RecordTutorRequest("read_error", time.Since(start))
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		metrics.RecordTutorRequest("error", time.Since(start))
		retryable := isStatusCodeRetryable(httpResp.StatusCode)

		var errResp errorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return "", &APIError{
				Message:    errResp.Error.Message,
				StatusCode: httpResp.StatusCode,
				Type:       errResp.Error.Type,
				Code:       errResp.Error.Code,
				Retryable:  retryable,
			}
		}

		return "", &APIError{
			Message:    fmt.Sprintf("request failed with status %d: %s", httpResp.StatusCode, string(respBody)),
			StatusCode: httpResp.StatusCode,
			Retryable:  retryable,
		}
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		metrics.RecordTutorRequest("parse_error", time.Since(start))
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(resp.Choices) == 0 {
		metrics.RecordTutorRequest("empty", time.Since(start))
		return "", fmt.Errorf("no choices returned in response")
	}

	metrics.RecordTutorRequest("success", time.Since(start))
	return resp.Choices[0].Message.Content, nil
}

func isRetryable(err error) bool {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.Retryable
	}
	return false
}

func isStatusCodeRetryable(statusCode int) bool {
	// Retry on rate limits and server errors
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusInternalServerError ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}

// APIError represents an error returned by the generation API
type APIError struct {
	Message    string
	StatusCode int
	Type       string
	Code       string
	Retryable  bool
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("tutor API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("tutor API error: %s", e.Message)
}
