package sora

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"
)

// Static errors for Sora client operations.
var (
	// ErrBaseURLRequired is returned when the base URL is not provided.
	ErrBaseURLRequired = errors.New("sora: base URL is required")
	// ErrAPIKeyNotSet is returned when no API key is configured.
	ErrAPIKeyNotSet = errors.New("sora: API key is required")
	// ErrUnknownEndpoint is returned when an endpoint name is not in Endpoints.
	ErrUnknownEndpoint = errors.New("sora: unknown endpoint")
	// ErrJobIDRequired is returned when the job ID is not provided.
	ErrJobIDRequired = errors.New("sora: job ID is required")
	// ErrNoJobIDReturned is returned when the create response contains no job ID.
	ErrNoJobIDReturned = errors.New("sora: no job ID returned")
	// ErrSubmitFailed is returned when the create call is rejected.
	ErrSubmitFailed = errors.New("sora: submit failed")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("sora: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("sora: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("sora: request failed")
	// ErrNoOutputURL is returned when a download is requested without a URL.
	ErrNoOutputURL = errors.New("sora: no output URL")
)

// Endpoints lists the known gateways by name.
var Endpoints = map[string]string{
	"global": "https://api.grsai.com",
	"china":  "https://grsai.dakka.com.cn",
}

// DefaultEndpoint is the gateway used when none is selected.
const DefaultEndpoint = "global"

// ResolveEndpoint returns the base URL of a named gateway.
func ResolveEndpoint(name string) (string, error) {
	if name == "" {
		name = DefaultEndpoint
	}
	u, ok := Endpoints[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("%w: %q (known: %s)", ErrUnknownEndpoint, name, strings.Join(EndpointNames(), ", "))
	}
	return u, nil
}

// EndpointNames returns the sorted gateway names.
func EndpointNames() []string {
	names := make([]string, 0, len(Endpoints))
	for name := range Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SubmissionError is returned when the create call fails.
// Body holds the raw response body as sent by the server. Message carries the
// envelope msg or error text when the server sent one.
type SubmissionError struct {
	StatusCode int
	Body       string
	Message    string
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%v (status %d): %s", e.Err, e.StatusCode, e.Message)
	}
	if e.Body == "" {
		return fmt.Sprintf("%v (status %d)", e.Err, e.StatusCode)
	}
	return fmt.Sprintf("%v (status %d): %s", e.Err, e.StatusCode, e.Body)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Is reports every SubmissionError as ErrSubmitFailed.
func (e *SubmissionError) Is(target error) bool {
	return target == ErrSubmitFailed
}

// Client defines the interface for interacting with the Sora API.
type Client interface {
	// Submit creates a generation job and returns its remote ID.
	Submit(ctx context.Context, req CreateRequest) (jobID string, err error)

	// Poll fetches the current status of a job.
	Poll(ctx context.Context, jobID string) (PollResult, error)

	// DownloadOutput streams the video at outputURL into w.
	DownloadOutput(ctx context.Context, outputURL string, w io.Writer) error
}

// HTTPClient is the HTTP implementation of the Sora Client interface.
type HTTPClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient status failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		if n >= 0 {
			hc.maxRetries = n
		}
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new Sora HTTP client for the given base URL.
// The API key can be set via the WithAPIKey option. If not provided,
// it is read from the environment variable SORA_API_KEY.
func NewClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("SORA_API_KEY")
	}

	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return c, nil
}

// BaseURL returns the gateway the client talks to.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Submit creates a generation job and returns its remote ID.
// Creation is not idempotent, so it is never retried.
func (c *HTTPClient) Submit(ctx context.Context, req CreateRequest) (string, error) {
	if req.Model == "" {
		req.Model = DefaultModel
	}

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("sora: marshal request: %w", err)
	}

	status, respBody, err := c.send(ctx, http.MethodPost, c.baseURL+"/v1/video/sora-video", bodyBytes)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}

	if status < 200 || status >= 300 {
		return "", &SubmissionError{StatusCode: status, Body: string(respBody), Err: ErrRequestFailed}
	}

	var resp createResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", &SubmissionError{StatusCode: status, Body: string(respBody), Err: fmt.Errorf("sora: unmarshal response: %w", err)}
	}

	jobID := resp.jobID()
	if jobID == "" {
		return "", &SubmissionError{StatusCode: status, Body: string(respBody), Message: resp.message(), Err: ErrNoJobIDReturned}
	}

	return jobID, nil
}

// Poll fetches the current status of a job.
func (c *HTTPClient) Poll(ctx context.Context, jobID string) (PollResult, error) {
	if jobID == "" {
		return PollResult{}, ErrJobIDRequired
	}

	bodyBytes, err := json.Marshal(resultRequest{ID: jobID})
	if err != nil {
		return PollResult{}, fmt.Errorf("sora: marshal request: %w", err)
	}

	var resp resultResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, c.baseURL+"/v1/draw/result", bodyBytes, &resp); err != nil {
		return PollResult{}, err
	}

	return resp.normalize(), nil
}

// DownloadOutput streams the video at outputURL into w.
func (c *HTTPClient) DownloadOutput(ctx context.Context, outputURL string, w io.Writer) error {
	if outputURL == "" {
		return ErrNoOutputURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, outputURL, nil)
	if err != nil {
		return fmt.Errorf("sora: create download request: %w", err)
	}

	// Result files can be large; the API client timeout would cut them off.
	dl := &http.Client{Transport: c.httpClient.Transport}
	resp, err := dl.Do(req)
	if err != nil {
		return fmt.Errorf("sora: download request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sora: download failed with status %d", resp.StatusCode)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("sora: copy download data: %w", err)
	}

	return nil
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, url string, body []byte, result any) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("sora: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := c.doRequest(ctx, method, url, body, result)
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("sora: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request and decodes a 2xx JSON body into result.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte, result any) error {
	status, respBody, err := c.send(ctx, method, url, body)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return &retryableError{err: err}
	}

	if status < 200 || status >= 300 {
		if status >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, status, string(respBody))}
		}
		if status == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, status, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("sora: unmarshal response: %w", err)
		}
	}

	return nil
}

// send issues one authenticated JSON request and returns the status code and body.
func (c *HTTPClient) send(ctx context.Context, method, url string, body []byte) (int, []byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("sora: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("sora: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("sora: read response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
