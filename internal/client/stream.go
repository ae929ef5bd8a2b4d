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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tombee/tracehub/pkg/telemetry"
)

// ErrStopStream may be returned by a stream handler to end the stream
// without an error.
var ErrStopStream = errors.New("stop stream")

// reconnectDelay is the pause before resubscribing after a dropped
// connection.
var reconnectDelay = 2 * time.Second

// StreamOptions configures Stream.
type StreamOptions struct {
	// Reconnect resubscribes when the connection drops. A stream the
	// server ends cleanly is never resumed.
	Reconnect bool
}

// Stream follows live span events of a trace over Server-Sent Events,
// calling handler for each. It returns nil when the server ends the
// stream or handler returns ErrStopStream.
func (c *Client) Stream(ctx context.Context, traceID string, handler func(telemetry.SpanEvent) error, opts ...StreamOptions) error {
	var o StreamOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	var handlerErr error
	wrapped := func(ev telemetry.SpanEvent) error {
		if err := handler(ev); err != nil {
			handlerErr = err
			return err
		}
		return nil
	}

	for {
		err := c.streamOnce(ctx, traceID, wrapped)
		if handlerErr != nil {
			if errors.Is(handlerErr, ErrStopStream) {
				return nil
			}
			return handlerErr
		}
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case !o.Reconnect:
			return err
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.IsRetryable() {
			return err
		}

		slog.Debug("event stream dropped, reconnecting", "trace_id", traceID, "error", err.Error())
		if err := pause(ctx, reconnectDelay); err != nil {
			return err
		}
	}
}

// errDropped marks a stream that ended without the server closing it.
var errDropped = errors.New("stream dropped")

func (c *Client) streamOnce(ctx context.Context, traceID string, handler func(telemetry.SpanEvent) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/traces/"+url.PathEscape(traceID)+"/stream", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return newAPIError(resp)
	}

	return readEvents(resp.Body, handler)
}

// readEvents parses an SSE body. Only data fields are used; comment lines
// such as heartbeats are skipped.
func readEvents(r io.Reader, handler func(telemetry.SpanEvent) error) error {
	reader := bufio.NewReader(r)
	var data strings.Builder

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// The server closes streams after a complete event.
				if data.Len() == 0 && line == "" {
					return nil
				}
				return errDropped
			}
			return fmt.Errorf("%w: %v", errDropped, err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if data.Len() == 0 {
				continue
			}
			var ev telemetry.SpanEvent
			if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
				return fmt.Errorf("failed to parse event: %w", err)
			}
			data.Reset()
			if err := handler(ev); err != nil {
				return err
			}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}
		if data.Len() > 0 {
			data.WriteByte('\n')
		}
		data.WriteString(strings.TrimPrefix(value, " "))
	}
}
