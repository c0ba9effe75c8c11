package bfl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kalambet/fluxmcp/internal/job"
)

const (
	DefaultBaseURL = "https://api.bfl.ml"
	defaultTimeout = 60 * time.Second
	maxErrorBody   = 64 << 10
)

// Client talks to the Black Forest Labs API. It holds no job state.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API host (regional endpoint or test server).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit caps outbound requests at rps per second. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New creates a client authenticated with apiKey.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API host the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StatusURL synthesizes the polling endpoint for id, for provider
// revisions that do not return a polling URL.
func (c *Client) StatusURL(id string) string {
	return c.baseURL + "/v1/get_result?id=" + url.QueryEscape(id)
}

// Submit posts a generation request to path (e.g. /v1/flux-dev).
func (c *Client) Submit(ctx context.Context, path string, payload map[string]any) (SubmitResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	var resp submitResponse
	if err := c.doJSON(req, "submit", &resp); err != nil {
		return SubmitResult{}, err
	}
	if resp.ID == "" {
		return SubmitResult{}, &SchemaError{Op: "submit", Err: errors.New("response has no id")}
	}

	polling := resp.PollingURL
	if polling == "" {
		polling = resp.PollingURLCamel
	}
	if polling == "" {
		polling = c.StatusURL(resp.ID)
	}
	return SubmitResult{ID: resp.ID, PollingURL: polling}, nil
}

// FetchStatus reads the current state of a job from its polling endpoint.
func (c *Client) FetchStatus(ctx context.Context, pollingURL string) (StatusResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollingURL, nil)
	if err != nil {
		return StatusResult{}, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	var resp statusResponse
	if err := c.doJSON(req, "get_result", &resp); err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) && perr.StatusCode == http.StatusNotFound {
			return StatusResult{}, fmt.Errorf("%w: %s", ErrUnknownJob, idFromURL(pollingURL))
		}
		return StatusResult{}, err
	}

	if strings.EqualFold(strings.TrimSpace(resp.Status), job.ProviderNotFound) {
		return StatusResult{}, fmt.Errorf("%w: %s", ErrUnknownJob, firstNonEmpty(resp.ID, idFromURL(pollingURL)))
	}

	id := firstNonEmpty(resp.ID, idFromURL(pollingURL))
	if id == "" {
		return StatusResult{}, &SchemaError{Op: "get_result", Err: errors.New("response has no id")}
	}

	out := StatusResult{
		ID:             id,
		Status:         job.ParseProviderStatus(resp.Status),
		ProviderStatus: resp.Status,
		Result:         resp.Result,
	}
	switch out.Status {
	case job.StatusReady:
		var res struct {
			Sample string `json:"sample"`
		}
		if len(resp.Result) > 0 && string(resp.Result) != "null" {
			if err := json.Unmarshal(resp.Result, &res); err != nil {
				return StatusResult{}, &SchemaError{Op: "get_result", Err: fmt.Errorf("decoding result: %w", err)}
			}
		}
		out.ResultURL = res.Sample
	case job.StatusError:
		out.ErrorDetail = errorText(resp.Error)
		if out.ErrorDetail == "" {
			out.ErrorDetail = resp.Status
		}
	}
	return out, nil
}

// OpenArtifact starts downloading a signed result URL. The API key is not
// sent; signed URLs carry their own authorization. The caller closes Body.
func (c *Client) OpenArtifact(ctx context.Context, rawURL string) (*Artifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching artifact: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return &Artifact{
		Body:        resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}, nil
}

func (c *Client) doJSON(req *http.Request, op string, v any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing %s request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ProviderError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &SchemaError{Op: op, Err: err}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("x-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
}

func idFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("id")
}

// errorText flattens the provider's error field, which is usually a string
// but occasionally an object.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
