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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/tracehub/internal/log"
	"github.com/tombee/tracehub/pkg/telemetry"
)

// fakeConn records frames. A non-nil block channel stalls writes until it
// is closed.
type fakeConn struct {
	mu      sync.Mutex
	frames  [][]byte
	failErr error
	block   chan struct{}

	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (c *fakeConn) WriteFrame(f Frame) error {
	if c.block != nil {
		select {
		case <-c.block:
		case <-c.closed:
			return ErrClosed
		}
	}
	if c.failErr != nil {
		return c.failErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f.SSE)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Closed() <-chan struct{} { return c.closed }

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func newTestManager(t *testing.T, queueSize int) *Manager {
	t.Helper()
	m := NewManager(Options{QueueSize: queueSize, Logger: log.Discard()})
	t.Cleanup(m.CloseAll)
	return m
}

func testEvent() telemetry.SpanEvent {
	return telemetry.NewSpanEvent(telemetry.Span{TraceID: "1234", SpanID: "abc", StartTime: 100})
}

const waitFor = time.Second
const tick = 5 * time.Millisecond

func TestManager_FanOut(t *testing.T) {
	m := newTestManager(t, 0)
	a, b := newFakeConn(), newFakeConn()
	m.Subscribe("1234", a)
	m.Subscribe("1234", b)
	require.Equal(t, 2, m.ConnectionCount("1234"))

	m.Broadcast("1234", testEvent())

	require.Eventually(t, func() bool {
		return len(a.received()) == 1 && len(b.received()) == 1
	}, waitFor, tick)
	assert.Equal(t, a.received()[0], b.received()[0])

	want := `data: {"type":"span_start","traceId":"1234","span":{"traceId":"1234","spanId":"abc","startTime":100}}` + "\n\n"
	assert.Equal(t, want, string(a.received()[0]))

	// Events for other traces are not delivered.
	m.Broadcast("other", testEvent())
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, a.received(), 1)
}

func TestManager_PreservesOrder(t *testing.T) {
	m := newTestManager(t, 0)
	c := newFakeConn()
	m.Subscribe("t", c)

	for i := 0; i < 10; i++ {
		m.BroadcastFrame("t", FrameOf([]byte{byte('0' + i)}))
	}
	require.Eventually(t, func() bool { return len(c.received()) == 10 }, waitFor, tick)
	for i, f := range c.received() {
		assert.Equal(t, "data: "+string(rune('0'+i))+"\n\n", string(f))
	}
}

func TestManager_AutoCleanupOnClientClose(t *testing.T) {
	m := newTestManager(t, 0)
	a, b := newFakeConn(), newFakeConn()
	m.Subscribe("1234", a)
	m.Subscribe("1234", b)

	a.Close()
	require.Eventually(t, func() bool { return m.ConnectionCount("1234") == 1 }, waitFor, tick)

	m.Broadcast("1234", testEvent())
	require.Eventually(t, func() bool { return len(b.received()) == 1 }, waitFor, tick)
	assert.Empty(t, a.received())

	b.Close()
	require.Eventually(t, func() bool { return !m.HasConnections("1234") }, waitFor, tick)
}

func TestManager_WriteErrorIsolated(t *testing.T) {
	m := newTestManager(t, 0)
	bad, good := newFakeConn(), newFakeConn()
	bad.failErr = errors.New("broken pipe")
	m.Subscribe("1234", bad)
	m.Subscribe("1234", good)

	m.Broadcast("1234", testEvent())

	require.Eventually(t, func() bool { return len(good.received()) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return m.ConnectionCount("1234") == 1 }, waitFor, tick)
	assert.True(t, bad.isClosed())
}

func TestManager_BurstReachesFastSubscriber(t *testing.T) {
	m := newTestManager(t, 4)
	c := newFakeConn()
	m.Subscribe("1234", c)

	const events = 512
	for i := 0; i < events; i++ {
		m.Broadcast("1234", testEvent())
	}
	evs := make([]telemetry.SpanEvent, events)
	for i := range evs {
		evs[i] = testEvent()
	}
	m.BroadcastEvents("1234", evs)

	require.Eventually(t, func() bool { return len(c.received()) == 2*events }, waitFor, tick)
	assert.Equal(t, 1, m.ConnectionCount("1234"))
	assert.False(t, c.isClosed())
}

func TestManager_StalledSubscriberDropped(t *testing.T) {
	m := NewManager(Options{QueueSize: 1, StallTimeout: 20 * time.Millisecond, Logger: log.Discard()})
	t.Cleanup(m.CloseAll)
	slow, fast := newFakeConn(), newFakeConn()
	slow.block = make(chan struct{})
	m.Subscribe("1234", slow)
	m.Subscribe("1234", fast)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			m.Broadcast("1234", testEvent())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("broadcast blocked on a stalled subscriber")
	}

	// A backlog alone keeps the subscriber; a write blocked past the
	// stall timeout drops it on the next broadcast.
	assert.Equal(t, 2, m.ConnectionCount("1234"))
	time.Sleep(50 * time.Millisecond)
	m.Broadcast("1234", testEvent())
	m.Broadcast("1234", testEvent())

	require.Eventually(t, slow.isClosed, waitFor, tick)
	assert.Equal(t, 1, m.ConnectionCount("1234"))
	require.Eventually(t, func() bool { return len(fast.received()) == 7 }, waitFor, tick)
}

func TestManager_Close(t *testing.T) {
	m := newTestManager(t, 0)
	a, b, other := newFakeConn(), newFakeConn(), newFakeConn()
	m.Subscribe("1234", a)
	m.Subscribe("1234", b)
	m.Subscribe("5678", other)

	assert.Equal(t, 2, m.Close("1234"))
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.False(t, m.HasConnections("1234"))
	assert.Equal(t, 1, m.ConnectionCount("5678"))

	// Closed connections are never re-added.
	assert.Empty(t, m.Subscribe("1234", a))
	assert.Equal(t, 0, m.ConnectionCount("1234"))

	assert.Equal(t, 0, m.Close("unknown"))
}

func TestManager_SubscribeTwice(t *testing.T) {
	m := newTestManager(t, 0)
	c := newFakeConn()
	id := m.Subscribe("1234", c)
	require.NotEmpty(t, id)
	assert.Equal(t, id, m.Subscribe("1234", c))
	assert.Equal(t, 1, m.ConnectionCount("1234"))
}

func TestManager_CloseAll(t *testing.T) {
	m := NewManager(Options{Logger: log.Discard()})
	a, b := newFakeConn(), newFakeConn()
	m.Subscribe("x", a)
	m.Subscribe("y", b)

	m.CloseAll()
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.False(t, m.HasConnections("x"))

	late := newFakeConn()
	assert.Empty(t, m.Subscribe("x", late))
	assert.True(t, late.isClosed(), "subscribers after shutdown are turned away")
}
