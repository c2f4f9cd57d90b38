// Package endpoint provides a client for a deployed serverless IndexTTS2
// endpoint. It submits jobs synchronously and polls until they finish.
package endpoint

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

	"github.com/book-expert/indextts-handler/internal/core"
)

// DefaultBaseURL is the public serverless API root.
const DefaultBaseURL = "https://api.runpod.ai"

// Job states reported by the serverless API.
const (
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusCancelled  = "CANCELLED"
	StatusTimedOut   = "TIMED_OUT"
	StatusInQueue    = "IN_QUEUE"
	StatusInProgress = "IN_PROGRESS"
)

const (
	pathRunSync = "/v2/%s/runsync"
	pathStatus  = "/v2/%s/status/%s"

	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	contentTypeJSON     = "application/json"

	defaultPollInterval = 2 * time.Second
	maxErrorBodyBytes   = 4096
)

// Static errors.
var (
	ErrEndpointIDEmpty = errors.New("endpoint id cannot be empty")
	ErrAPIKeyEmpty     = errors.New("api key cannot be empty")
	ErrJobFailed       = errors.New("job did not complete")
	ErrUnexpectedReply = errors.New("unexpected response from endpoint")
)

// Client talks to one serverless endpoint.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	endpointID   string
	apiKey       string
	pollInterval time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API root, mainly for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithPollInterval sets the delay between status polls.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// JobStatus is the API's envelope around a job's output.
type JobStatus struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// NewClient creates a client for endpointID authenticated with apiKey.
func NewClient(endpointID, apiKey string, opts ...Option) (*Client, error) {
	if endpointID == "" {
		return nil, ErrEndpointIDEmpty
	}

	if apiKey == "" {
		return nil, ErrAPIKeyEmpty
	}

	c := &Client{
		httpClient:   &http.Client{},
		baseURL:      DefaultBaseURL,
		endpointID:   endpointID,
		apiKey:       apiKey,
		pollInterval: defaultPollInterval,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// RunSync submits input and waits until the job reaches a terminal state
// or ctx expires. The job's output is decoded as a handler result.
func (c *Client) RunSync(ctx context.Context, input core.JobInput) (*core.Result, error) {
	body, err := json.Marshal(core.Job{Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	status, err := c.do(ctx, http.MethodPost, fmt.Sprintf(pathRunSync, c.endpointID), body)
	if err != nil {
		return nil, err
	}

	for !isTerminal(status.Status) {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("job %s still %s: %w", status.ID, status.Status, ctx.Err())
		case <-time.After(c.pollInterval):
		}

		status, err = c.do(ctx, http.MethodGet, fmt.Sprintf(pathStatus, c.endpointID, status.ID), nil)
		if err != nil {
			return nil, err
		}
	}

	if status.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: %s %s", ErrJobFailed, status.Status, status.Error)
	}

	var result core.Result

	err = json.Unmarshal(status.Output, &result)
	if err != nil {
		return nil, fmt.Errorf("%w: output is not a result: %w", ErrUnexpectedReply, err)
	}

	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*JobStatus, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerAuthorization, "Bearer "+c.apiKey)

	if body != nil {
		req.Header.Set(headerContentType, contentTypeJSON)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", c.baseURL, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

		return nil, fmt.Errorf("%w: %s, body: %s", ErrUnexpectedReply, resp.Status, strings.TrimSpace(string(raw)))
	}

	var status JobStatus

	err = json.NewDecoder(resp.Body).Decode(&status)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnexpectedReply, err)
	}

	return &status, nil
}

func isTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}
