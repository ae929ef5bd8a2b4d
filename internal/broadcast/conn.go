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
	"encoding/json"
	"errors"
	"fmt"
)

// ErrClosed is returned by WriteFrame once a connection has closed.
var ErrClosed = errors.New("connection closed")

// Frame is one event serialized once for every transport.
type Frame struct {
	// JSON is the raw event payload.
	JSON []byte
	// SSE is the payload in Server-Sent Events wire format.
	SSE []byte
}

// NewFrame marshals v into a Frame.
func NewFrame(v any) (Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return FrameOf(data), nil
}

// FrameOf wraps an already encoded JSON payload.
func FrameOf(data []byte) Frame {
	sse := make([]byte, 0, len(data)+8)
	sse = append(sse, "data: "...)
	sse = append(sse, data...)
	sse = append(sse, "\n\n"...)
	return Frame{JSON: data, SSE: sse}
}

// Conn is a push connection to one subscriber.
//
// Closed must be closed when the transport goes away or Close is called.
// WriteFrame returns an error once the connection can no longer be written.
type Conn interface {
	WriteFrame(f Frame) error
	Close() error
	Closed() <-chan struct{}
}
