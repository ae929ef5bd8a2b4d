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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryConfig configures request retries.
type RetryConfig struct {
	// Attempts is the number of retries after the first try. Zero disables
	// retries.
	Attempts int

	// Backoff is the delay before the first retry. It doubles per attempt.
	Backoff time.Duration

	// MaxBackoff caps the delay.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the policy used by New.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:   3,
		Backoff:    100 * time.Millisecond,
		MaxBackoff: 5 * time.Second,
	}
}

// Validate checks the policy.
func (c RetryConfig) Validate() error {
	if c.Attempts < 0 {
		return fmt.Errorf("retry attempts must be >= 0, got %d", c.Attempts)
	}
	if c.Attempts > 0 {
		if c.Backoff <= 0 {
			return fmt.Errorf("retry backoff must be > 0 when retries are enabled, got %v", c.Backoff)
		}
		if c.MaxBackoff < c.Backoff {
			return fmt.Errorf("max backoff (%v) must be >= backoff (%v)", c.MaxBackoff, c.Backoff)
		}
	}
	return nil
}

// retryTransport retries idempotent requests with exponential backoff and
// logs each round trip.
type retryTransport struct {
	base      http.RoundTripper
	cfg       RetryConfig
	userAgent string
}

func newRetryTransport(base http.RoundTripper, cfg RetryConfig, userAgent string) *retryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &retryTransport{base: base, cfg: cfg, userAgent: userAgent}
}

// RoundTrip implements http.RoundTripper.
func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" && t.userAgent != "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}

	attempts := 1
	if retryable(req) {
		attempts += t.cfg.Attempts
	}

	var (
		lastErr  error
		lastResp *http.Response
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		send := req
		if attempt > 1 {
			delay := t.backoff(attempt - 1)
			if lastResp != nil {
				if ra := retryAfter(lastResp); ra > 0 && ra < delay {
					delay = ra
				}
				drain(lastResp)
			}
			if err := pause(req.Context(), delay); err != nil {
				return nil, err
			}
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				send = req.Clone(req.Context())
				send.Body = body
			}
		}

		start := time.Now()
		resp, err := t.base.RoundTrip(send)
		t.log(send, resp, err, time.Since(start), attempt)

		if err != nil {
			if !retryableError(err) {
				return nil, err
			}
			lastErr, lastResp = err, nil
			continue
		}
		if !retryableStatus(resp.StatusCode) || attempt == attempts {
			return resp, nil
		}
		lastErr, lastResp = nil, resp
	}

	if lastResp != nil {
		return lastResp, nil
	}
	return nil, lastErr
}

func (t *retryTransport) log(req *http.Request, resp *http.Response, err error, d time.Duration, attempt int) {
	if err != nil {
		slog.Debug("http request failed",
			"method", req.Method,
			"url", req.URL.Redacted(),
			"attempt", attempt,
			"duration_ms", d.Milliseconds(),
			"error", err.Error(),
		)
		return
	}
	slog.Debug("http request",
		"method", req.Method,
		"url", req.URL.Redacted(),
		"status", resp.StatusCode,
		"attempt", attempt,
		"duration_ms", d.Milliseconds(),
	)
}

// backoff computes base * 2^(n-1), capped, with up to 20% jitter.
func (t *retryTransport) backoff(n int) time.Duration {
	d := float64(t.cfg.Backoff) * math.Pow(2, float64(n-1))
	if d > float64(t.cfg.MaxBackoff) {
		d = float64(t.cfg.MaxBackoff)
	}
	return time.Duration(d + rand.Float64()*d*0.2)
}

// retryable reports whether req may be sent more than once. Trace writes
// merge, so replaying one leaves the trace unchanged.
func retryable(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodDelete:
		return true
	case http.MethodPost:
		return req.URL.Path == "/api/traces" && (req.Body == nil || req.GetBody != nil)
	}
	return false
}

func retryableStatus(code int) bool {
	switch {
	case code >= 500:
		return true
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	}
	return false
}

func retryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "broken pipe", "eof"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// retryAfter parses a Retry-After header in seconds or HTTP-date form.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if s, err := strconv.Atoi(h); err == nil && s > 0 {
		return time.Duration(s) * time.Second
	}
	if at, err := http.ParseTime(h); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func drain(resp *http.Response) {
	if resp.Body != nil {
		resp.Body.Close()
	}
}
