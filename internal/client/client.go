// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/tracehub/internal/tracestore/index"
	"github.com/tombee/tracehub/pkg/telemetry"
)

// ServerEnv overrides the default server URL.
const ServerEnv = "TRACEHUB_SERVER"

const defaultServerURL = "http://127.0.0.1:4000"

// DefaultServerURL returns TRACEHUB_SERVER or the local default.
func DefaultServerURL() string {
	if v := os.Getenv(ServerEnv); v != "" {
		return v
	}
	return defaultServerURL
}

// Client is a client for the tracehub server API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	retry      RetryConfig
	userAgent  string
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		retry:     DefaultRetryConfig(),
		userAgent: "tracehub-cli",
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	c.httpClient.Transport = newRetryTransport(c.httpClient.Transport, c.retry, c.userAgent)
	return c, nil
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom HTTP client. Its transport is wrapped with
// the retry layer.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) error {
		// Copy so the caller's client keeps its own transport.
		cp := *client
		c.httpClient = &cp
		return nil
	}
}

// WithRetry replaces the retry policy.
func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		c.retry = cfg
		return nil
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// BaseURL returns the server URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HealthResponse is the response from /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Traces        int    `json:"traces"`
}

// VersionResponse is the response from /version.
type VersionResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// WriteResponse is the response from a trace write.
type WriteResponse struct {
	TraceID string `json:"traceId"`
	Changed int    `json:"changed"`
}

// ListOptions selects a page of traces.
type ListOptions struct {
	Limit             int
	ContinuationToken string
	Filter            *index.Filter
}

// ListResponse is one page of traces, newest first.
type ListResponse struct {
	Traces            []*telemetry.Trace `json:"traces"`
	ContinuationToken string             `json:"continuationToken,omitempty"`
}

// Parent names the span that adopts the roots of an OTLP export.
type Parent struct {
	TraceID string
	SpanID  string
}

// Health returns the server health status.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var health HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Version returns the server version.
func (c *Client) Version(ctx context.Context) (*VersionResponse, error) {
	var v VersionResponse
	if err := c.doJSON(ctx, http.MethodGet, "/version", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetTrace returns a stored trace.
func (c *Client) GetTrace(ctx context.Context, id string) (*telemetry.Trace, error) {
	var t telemetry.Trace
	if err := c.doJSON(ctx, http.MethodGet, "/api/traces/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTraces returns one page of trace summaries.
func (c *Client) ListTraces(ctx context.Context, opts ListOptions) (*ListResponse, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.ContinuationToken != "" {
		q.Set("continuationToken", opts.ContinuationToken)
	}
	if opts.Filter != nil {
		data, err := json.Marshal(opts.Filter)
		if err != nil {
			return nil, fmt.Errorf("failed to encode filter: %w", err)
		}
		q.Set("filter", string(data))
	}

	path := "/api/traces"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var res ListResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// WriteTrace merges frag into its trace.
func (c *Client) WriteTrace(ctx context.Context, frag *telemetry.TraceFragment) (*WriteResponse, error) {
	data, err := json.Marshal(frag)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fragment: %w", err)
	}
	var res WriteResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/traces", data, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// PushOTLP sends an OTLP/JSON export. A non-empty parent adopts the
// export's root spans under parent.SpanID in parent.TraceID.
func (c *Client) PushOTLP(ctx context.Context, body []byte, parent Parent) error {
	path := "/api/otlp"
	if parent.TraceID != "" || parent.SpanID != "" {
		path = fmt.Sprintf("/api/otlp/%s/%s", url.PathEscape(parent.TraceID), url.PathEscape(parent.SpanID))
	}
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

// CloseSubscribers ends every live stream of a trace and returns how many
// were closed.
func (c *Client) CloseSubscribers(ctx context.Context, id string) (int, error) {
	var res struct {
		Closed int `json:"closed"`
	}
	if err := c.doJSON(ctx, http.MethodDelete, "/api/traces/"+url.PathEscape(id)+"/subscribers", nil, &res); err != nil {
		return 0, err
	}
	return res.Closed, nil
}

// doJSON sends body (already JSON) and decodes the response into out when
// out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	resp, err := c.do(ctx, method, path, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// do performs a request against the server API. Error responses are
// returned as *APIError.
func (c *Client) do(ctx context.Context, method, path string, body []byte, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		req.ContentLength = int64(len(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, newAPIError(resp)
	}
	return resp, nil
}

// streamClient returns a client without an overall timeout for
// long-lived event streams.
func (c *Client) streamClient() *http.Client {
	cp := *c.httpClient
	cp.Timeout = 0
	return &cp
}

// pause waits for d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
