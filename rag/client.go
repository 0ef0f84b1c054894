package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fzpathan/dr-rag-project/query"
)

// Config configures the pipeline client.
type Config struct {
	// BaseURL is the upstream pipeline's base URL. Required.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout bounds a single attempt. Default: 30 seconds.
	Timeout time.Duration

	// MaxAttempts is the total number of attempts for transient failures
	// (including the initial one). Permanent failures are never retried.
	// Default: 3.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry; it doubles per
	// attempt. Default: 200ms.
	InitialBackoff time.Duration

	// HTTPClient is the HTTP client to use. Default: http.DefaultClient
	// semantics with per-attempt context timeouts.
	HTTPClient *http.Client

	// Logger receives structured logs. Default: slog.Default().
	Logger *slog.Logger
}

// Client calls the upstream RAG pipeline over HTTP.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a pipeline client.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, ErrMissingURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 200 * time.Millisecond
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Client{
		config:     config,
		httpClient: config.HTTPClient,
		logger:     config.Logger,
	}, nil
}

// answerResponse mirrors the upstream wire format.
type answerResponse struct {
	ID               string           `json:"id"`
	Question         string           `json:"question"`
	Answer           string           `json:"answer"`
	Citations        []query.Citation `json:"citations"`
	SourcesUsed      []string         `json:"sources_used"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
}

// Answer submits the original, non-normalized request to the upstream
// pipeline. Transient failures are retried with doubling backoff up to
// MaxAttempts; permanent rejections surface immediately.
func (c *Client) Answer(ctx context.Context, req query.Request) (*query.Answer, error) {
	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		answer, err := c.attempt(ctx, req)
		if err == nil {
			return answer, nil
		}
		lastErr = err

		if !errors.Is(err, ErrUpstream) {
			return nil, err
		}
		if attempt == c.config.MaxAttempts {
			break
		}

		c.logger.DebugContext(ctx, "retrying upstream query",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, req query.Request) (*query.Answer, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rag: encode request: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.config.BaseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rag: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d: %s", ErrBadRequest, resp.StatusCode, readSnippet(resp.Body))
	}

	var wire answerResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}

	answer := &query.Answer{
		ID:             wire.ID,
		Question:       wire.Question,
		Answer:         wire.Answer,
		Citations:      wire.Citations,
		SourcesUsed:    wire.SourcesUsed,
		ProcessingTime: time.Duration(wire.ProcessingTimeMs) * time.Millisecond,
	}
	if answer.ID == "" {
		answer.ID = uuid.NewString()
	}
	if answer.Question == "" {
		answer.Question = req.Question
	}
	return answer, nil
}

// readSnippet reads a short prefix of an error response body for messages.
func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return string(bytes.TrimSpace(b))
}
