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

package broadcast

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// SSEConn streams frames to an HTTP client as Server-Sent Events.
type SSEConn struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher

	closed    chan struct{}
	closeOnce sync.Once
	stop      func() bool
}

// NewSSEConn writes the event-stream headers and returns a connection
// that closes when the request context ends.
func NewSSEConn(w http.ResponseWriter, r *http.Request) (*SSEConn, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	c := &SSEConn{
		w:       w,
		flusher: flusher,
		closed:  make(chan struct{}),
	}
	c.stop = context.AfterFunc(r.Context(), func() { c.Close() })
	return c, nil
}

// WriteFrame writes the SSE encoding of f and flushes it.
func (c *SSEConn) WriteFrame(f Frame) error {
	return c.write(f.SSE)
}

func (c *SSEConn) write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.w == nil {
		return ErrClosed
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	if _, err := c.w.Write(p); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// Close marks the stream finished. The handler returns once Serve sees it.
func (c *SSEConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Closed is closed when the client disconnects or Close is called.
func (c *SSEConn) Closed() <-chan struct{} {
	return c.closed
}

// Serve blocks until the connection closes, writing a comment line every
// heartbeat interval to keep proxies from timing out the stream. A zero
// interval disables heartbeats. After Serve returns no further writes
// reach the ResponseWriter.
func (c *SSEConn) Serve(heartbeat time.Duration) {
	var tick <-chan time.Time
	if heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.closed:
			c.stop()
			c.mu.Lock()
			c.w = nil
			c.mu.Unlock()
			return
		case <-tick:
			if err := c.write([]byte(": heartbeat\n\n")); err != nil {
				c.Close()
			}
		}
	}
}
