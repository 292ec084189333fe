// Package api implements the client for the remote test collection API.
// Every call is a single synchronous request; failures are returned to the
// caller and never retried.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/perfgo/apireport/model"
	"github.com/rs/zerolog"
)

// Client reports run and test lifecycle events to a collector.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     zerolog.Logger
	metrics    *Metrics
}

// Option is a function that configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for request logging.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics records request counts and latencies.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New creates a client for the collector at baseURL.
func New(baseURL, authToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type runsResponse struct {
	RunID int64 `json:"run_id"`
}

type testsRequest struct {
	Name string `json:"name"`
}

type testsResponse struct {
	TestID int64 `json:"test_id"`
}

type testsFinishRequest struct {
	Status model.Status `json:"status"`
}

// StartRun opens a new run and returns its identifier.
func (c *Client) StartRun(ctx context.Context) (int64, error) {
	var resp runsResponse
	if err := c.post(ctx, "runs_start", "/runs/", nil, &resp); err != nil {
		return 0, err
	}
	return resp.RunID, nil
}

// StartTest opens a test identified by its node ID and returns the collector's
// identifier for it.
func (c *Client) StartTest(ctx context.Context, name string) (int64, error) {
	var resp testsResponse
	if err := c.post(ctx, "tests_start", "/tests/", testsRequest{Name: name}, &resp); err != nil {
		return 0, err
	}
	return resp.TestID, nil
}

// FinishTest reports the final status of a previously started test.
func (c *Client) FinishTest(ctx context.Context, testID int64, status model.Status) error {
	path := fmt.Sprintf("/tests/%d/finish/", testID)
	return c.post(ctx, "tests_finish", path, testsFinishRequest{Status: status}, nil)
}

// FinishRun closes a previously started run.
func (c *Client) FinishRun(ctx context.Context, runID int64) error {
	path := fmt.Sprintf("/runs/%d/finish/", runID)
	return c.post(ctx, "runs_finish", path, nil, nil)
}

func (c *Client) post(ctx context.Context, endpoint, path string, body, out any) error {
	url := c.baseURL + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request for %s: %w", url, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", url, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.observe(endpoint, resp, time.Since(start))
	if err != nil {
		return &TransportError{Method: http.MethodPost, URL: url, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("Collector request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &TransportError{
			Method:     http.MethodPost,
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{
			Method:     http.MethodPost,
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to decode response: %w", err),
		}
	}
	return nil
}
