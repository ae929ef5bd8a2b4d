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
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsMaxMessage = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Subscriptions are read-only; the API has no cookie auth to protect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSConn pushes frames to a WebSocket client as text messages.
type WSConn struct {
	mu   sync.Mutex
	conn *websocket.Conn

	closed    chan struct{}
	closeOnce sync.Once
}

// UpgradeWS upgrades the request. On failure the upgrader has already
// written an HTTP error response.
func UpgradeWS(w http.ResponseWriter, r *http.Request) (*WSConn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(wsMaxMessage)

	c := &WSConn{conn: conn, closed: make(chan struct{})}
	go c.readLoop()
	return c, nil
}

// readLoop discards client messages and detects disconnects.
func (c *WSConn) readLoop() {
	defer c.Close()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// WriteFrame sends the JSON payload of f as one text message.
func (c *WSConn) WriteFrame(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, f.JSON)
}

// Close sends a close message and tears down the socket.
func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

// Closed is closed when the peer goes away or Close is called.
func (c *WSConn) Closed() <-chan struct{} {
	return c.closed
}

// Serve blocks until the connection closes, pinging the peer every
// heartbeat interval. A zero interval disables pings.
func (c *WSConn) Serve(heartbeat time.Duration) {
	var tick <-chan time.Time
	if heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.closed:
			return
		case <-tick:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.Close()
			}
		}
	}
}
