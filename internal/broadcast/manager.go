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

// Package broadcast fans span events out to live subscribers of a trace.
package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/tracehub/internal/log"
	"github.com/tombee/tracehub/internal/metrics"
	"github.com/tombee/tracehub/pkg/telemetry"
)

// Delivery defaults.
const (
	DefaultQueueSize    = 64
	DefaultStallTimeout = 10 * time.Second
)

// Removal reasons, also used as metric labels.
const (
	reasonClosed       = "closed"
	reasonWriteError   = "write_error"
	reasonStalled      = "stalled"
	reasonClientClosed = "client_closed"
	reasonShutdown     = "shutdown"
)

// Options configures a Manager.
type Options struct {
	// QueueSize is the backlog a subscriber may carry while one of its
	// writes is blocked. Past it, a write blocked for StallTimeout counts
	// as failed and the subscriber is dropped. A subscriber that keeps
	// writing is never dropped for backlog alone.
	QueueSize int

	StallTimeout time.Duration

	Logger *slog.Logger
}

// Manager tracks subscribers per trace id. Broadcast never blocks: every
// subscription has its own pending list drained by a pump goroutine.
type Manager struct {
	mu       sync.RWMutex
	subs     map[string]map[*subscription]struct{}
	byConn   map[Conn]*subscription
	shutdown bool

	queueSize    int
	stallTimeout time.Duration
	logger       *slog.Logger
	wg           sync.WaitGroup
}

type subscription struct {
	id      string
	traceID string
	conn    Conn
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once

	mu           sync.Mutex
	pending      []Frame
	writingSince time.Time
}

// enqueue appends frames to the pending list. It reports false when the
// subscriber is stalled: its backlog has reached limit and the write in
// progress has been blocked for longer than stall.
func (s *subscription) enqueue(frames []Frame, limit int, stall time.Duration) bool {
	s.mu.Lock()
	if len(s.pending) >= limit && !s.writingSince.IsZero() && time.Since(s.writingSince) > stall {
		s.mu.Unlock()
		return false
	}
	s.pending = append(s.pending, frames...)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// next takes the pending frames, or nil when there are none.
func (s *subscription) next() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.pending
	s.pending = nil
	return batch
}

func (s *subscription) writing(start bool) {
	s.mu.Lock()
	if start {
		s.writingSince = time.Now()
	} else {
		s.writingSince = time.Time{}
	}
	s.mu.Unlock()
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = DefaultStallTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		subs:         make(map[string]map[*subscription]struct{}),
		byConn:       make(map[Conn]*subscription),
		queueSize:    opts.QueueSize,
		stallTimeout: opts.StallTimeout,
		logger:       logger.With(slog.String("component", "broadcast")),
	}
}

// Subscribe registers conn for events on traceID and returns the
// subscription id. The subscription ends by itself when conn closes.
// Subscribing an already closed or already registered conn is a no-op.
func (m *Manager) Subscribe(traceID string, conn Conn) string {
	select {
	case <-conn.Closed():
		return ""
	default:
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		conn.Close()
		return ""
	}
	if existing, ok := m.byConn[conn]; ok {
		m.mu.Unlock()
		return existing.id
	}

	s := &subscription{
		id:      uuid.New().String(),
		traceID: traceID,
		conn:    conn,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	set, ok := m.subs[traceID]
	if !ok {
		set = make(map[*subscription]struct{})
		m.subs[traceID] = set
	}
	set[s] = struct{}{}
	m.byConn[conn] = s
	m.wg.Add(1)
	m.mu.Unlock()

	metrics.SubscriberAdded()
	m.logger.Debug("subscriber added",
		slog.String(log.TraceIDKey, traceID),
		slog.String(log.SubscriberKey, s.id),
	)

	go m.pump(s)
	return s.id
}

// Broadcast sends a span event to every subscriber of traceID.
func (m *Manager) Broadcast(traceID string, ev telemetry.SpanEvent) {
	data, err := ev.Marshal()
	if err != nil {
		m.logger.Error("failed to encode span event",
			slog.String(log.TraceIDKey, traceID), slog.Any("error", err))
		return
	}
	log.Trace(m.logger, "broadcasting span event",
		slog.String(log.TraceIDKey, traceID),
		slog.String(log.SpanIDKey, ev.Span.SpanID),
		slog.String(log.EventKey, string(ev.Type)),
	)
	m.BroadcastFrame(traceID, FrameOf(data))
}

// BroadcastEvents sends a batch of span events to every subscriber of
// traceID, in order.
func (m *Manager) BroadcastEvents(traceID string, evs []telemetry.SpanEvent) {
	frames := make([]Frame, 0, len(evs))
	for _, ev := range evs {
		data, err := ev.Marshal()
		if err != nil {
			m.logger.Error("failed to encode span event",
				slog.String(log.TraceIDKey, traceID), slog.Any("error", err))
			continue
		}
		frames = append(frames, FrameOf(data))
	}
	if len(frames) == 0 {
		return
	}
	log.Trace(m.logger, "broadcasting span events",
		slog.String(log.TraceIDKey, traceID),
		slog.Int("events", len(frames)),
	)
	m.broadcast(traceID, frames)
}

// BroadcastFrame queues f for every subscriber of traceID. A subscriber is
// dropped only when its transport has stopped accepting writes.
func (m *Manager) BroadcastFrame(traceID string, f Frame) {
	m.broadcast(traceID, []Frame{f})
}

func (m *Manager) broadcast(traceID string, frames []Frame) {
	var stalled []*subscription

	m.mu.RLock()
	for s := range m.subs[traceID] {
		select {
		case <-s.done:
			continue
		default:
		}
		if !s.enqueue(frames, m.queueSize, m.stallTimeout) {
			stalled = append(stalled, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range stalled {
		m.remove(s, reasonStalled, nil)
	}
}

// ConnectionCount returns the number of live subscribers for traceID.
func (m *Manager) ConnectionCount(traceID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[traceID])
}

// HasConnections reports whether traceID has any live subscriber.
func (m *Manager) HasConnections(traceID string) bool {
	return m.ConnectionCount(traceID) > 0
}

// Close ends every subscription for traceID and returns how many were
// closed.
func (m *Manager) Close(traceID string) int {
	m.mu.RLock()
	subs := make([]*subscription, 0, len(m.subs[traceID]))
	for s := range m.subs[traceID] {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	for _, s := range subs {
		m.remove(s, reasonClosed, nil)
	}
	return len(subs)
}

// CloseAll ends every subscription, rejects new ones and waits for the
// pumps to exit.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.shutdown = true
	var subs []*subscription
	for _, set := range m.subs {
		for s := range set {
			subs = append(subs, s)
		}
	}
	m.mu.Unlock()

	for _, s := range subs {
		m.remove(s, reasonShutdown, nil)
	}
	m.wg.Wait()
}

func (m *Manager) pump(s *subscription) {
	defer m.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case <-s.conn.Closed():
			m.remove(s, reasonClientClosed, nil)
			return
		case <-s.wake:
		}

		for batch := s.next(); batch != nil; batch = s.next() {
			for _, f := range batch {
				// Never write after removal.
				select {
				case <-s.done:
					return
				default:
				}
				s.writing(true)
				err := s.conn.WriteFrame(f)
				s.writing(false)
				if err != nil {
					m.remove(s, reasonWriteError, err)
					return
				}
				metrics.EventDelivered()
			}
		}
	}
}

// remove detaches s and closes its connection. Only the first call for a
// subscription has any effect.
func (m *Manager) remove(s *subscription, reason string, cause error) {
	s.once.Do(func() {
		m.mu.Lock()
		if set, ok := m.subs[s.traceID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(m.subs, s.traceID)
			}
		}
		delete(m.byConn, s.conn)
		m.mu.Unlock()

		close(s.done)
		if err := s.conn.Close(); err != nil {
			m.logger.Debug("subscriber close failed",
				slog.String(log.SubscriberKey, s.id), slog.Any("error", err))
		}
		metrics.SubscriberRemoved(reason)

		attrs := []any{
			slog.String(log.TraceIDKey, s.traceID),
			slog.String(log.SubscriberKey, s.id),
			slog.String("reason", reason),
		}
		if cause != nil {
			attrs = append(attrs, slog.Any("error", cause))
		}
		m.logger.Debug("subscriber removed", attrs...)
	})
}
