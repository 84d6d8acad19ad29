package dubber

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Static errors for dubber client operations.
var (
	// ErrAPIKeyNotSet is returned when no API key is provided and the
	// DUBBING_API_KEY environment variable is not set.
	ErrAPIKeyNotSet = errors.New("dubber: DUBBING_API_KEY environment variable is not set")
	// ErrRemoteJobIDRequired is returned when the remote job ID is empty.
	ErrRemoteJobIDRequired = errors.New("dubber: remote job ID is required")
	// ErrNoRemoteJobID is returned when the submit response carries no ID.
	ErrNoRemoteJobID = errors.New("dubber: submit failed: no job ID returned")
)

// Client defines the interface for the external dubbing provider.
type Client interface {
	// Submit sends one segment's media for dubbing into targetLang and
	// returns the provider's job ID.
	Submit(ctx context.Context, mediaPath, targetLang string, opts SubmitOptions) (remoteJobID string, err error)

	// Status polls the remote task.
	Status(ctx context.Context, remoteJobID string) (StatusResult, error)

	// Download fetches the dubbed audio bytes from the URL reported by
	// a completed status poll.
	Download(ctx context.Context, audioURL string) ([]byte, error)
}

// HTTPClient is the HTTP implementation of Client.
type HTTPClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(c *HTTPClient) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient = hc
	}
}

// WithBaseURL sets a custom base URL for the provider API.
func WithBaseURL(url string) ClientOption {
	return func(c *HTTPClient) {
		c.baseURL = url
	}
}

// NewClient creates a provider client. The API key can be set via
// WithAPIKey; if not provided, it is read from DUBBING_API_KEY.
func NewClient(opts ...ClientOption) (*HTTPClient, error) {
	c := &HTTPClient{
		baseURL:    "https://api.dubbing.example.com/v1",
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("DUBBING_API_KEY")
	}
	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return c, nil
}

// Submit reads the segment file, encodes it, and posts it for dubbing.
func (c *HTTPClient) Submit(ctx context.Context, mediaPath, targetLang string, opts SubmitOptions) (string, error) {
	data, err := os.ReadFile(mediaPath) // #nosec G304 - path is an internal workspace path
	if err != nil {
		return "", fmt.Errorf("dubber: read media file: %w", err)
	}

	reqBody := submitRequest{
		AudioBase64:    base64.StdEncoding.EncodeToString(data),
		TargetLanguage: targetLang,
		Watermark:      opts.Watermark,
		VoicePreset:    opts.VoicePreset,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("dubber: marshal request: %w", err)
	}

	var resp submitResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/dubs", bodyBytes, &resp); err != nil {
		return "", err
	}

	if resp.ID == "" {
		if resp.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrNoRemoteJobID, resp.Error)
		}
		return "", ErrNoRemoteJobID
	}

	return resp.ID, nil
}

// Status polls the remote task state.
func (c *HTTPClient) Status(ctx context.Context, remoteJobID string) (StatusResult, error) {
	if remoteJobID == "" {
		return StatusResult{}, ErrRemoteJobIDRequired
	}

	var resp statusResponse
	url := fmt.Sprintf("%s/dubs/%s", c.baseURL, remoteJobID)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return StatusResult{}, err
	}

	var state State
	switch resp.Status {
	case "queued", "pending":
		state = StateQueued
	case "processing", "running":
		state = StateProcessing
	case "completed", "done":
		state = StateCompleted
	case "failed", "error":
		state = StateFailed
	default:
		state = State(resp.Status)
	}

	return StatusResult{
		State:    state,
		Progress: resp.Progress,
		AudioURL: resp.AudioURL,
		Error:    resp.Error,
	}, nil
}

// Download fetches the dubbed audio bytes.
func (c *HTTPClient) Download(ctx context.Context, audioURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dubber: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Kind: KindTransient, Message: err.Error(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(resp, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Kind: KindTransient, Message: "read audio body: " + err.Error(), Err: err}
	}

	return data, nil
}

// doJSON performs a single JSON request. Failures are classified into
// the provider error taxonomy at this boundary; no retries happen here.
func (c *HTTPClient) doJSON(ctx context.Context, method, url string, body []byte, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("dubber: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("dubber: context cancelled: %w", ctx.Err())
		}
		return &ProviderError{Kind: KindTransient, Message: err.Error(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Kind: KindTransient, Message: "read response: " + err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("dubber: unmarshal response: %w", err)
		}
	}

	return nil
}

// classifyStatus maps a non-2xx response into the error taxonomy.
func classifyStatus(resp *http.Response, body string) *ProviderError {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &ProviderError{Kind: KindAuth, StatusCode: resp.StatusCode, Message: body}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &ProviderError{
			Kind:       KindRateLimit,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    body,
		}
	case resp.StatusCode >= 500:
		return &ProviderError{Kind: KindTransient, StatusCode: resp.StatusCode, Message: body}
	default:
		return &ProviderError{Kind: KindPermanent, StatusCode: resp.StatusCode, Message: body}
	}
}

// parseRetryAfter parses a Retry-After header given in seconds.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
