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

// Package telemetry defines the trace and span records persisted by tracehub
// and the merge rules that assemble a trace from partial writes.
package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sort"
)

// Span represents a unit of work in a trace.
// Times are milliseconds since the Unix epoch. An EndTime of zero marks a
// span that is still in progress.
type Span struct {
	TraceID                string                  `json:"traceId"`
	SpanID                 string                  `json:"spanId"`
	ParentSpanID           string                  `json:"parentSpanId,omitempty"`
	DisplayName            string                  `json:"displayName,omitempty"`
	StartTime              int64                   `json:"startTime"`
	EndTime                int64                   `json:"endTime,omitempty"`
	SpanKind               SpanKind                `json:"spanKind,omitempty"`
	Attributes             map[string]any          `json:"attributes,omitempty"`
	Status                 *Status                 `json:"status,omitempty"`
	InstrumentationLibrary *InstrumentationLibrary `json:"instrumentationLibrary,omitempty"`
	TimeEvents             []TimeEvent             `json:"timeEvents,omitempty"`
}

// Completed reports whether the span has an end time.
func (s *Span) Completed() bool {
	return s.EndTime > 0
}

// IsRoot reports whether the span has no parent.
func (s *Span) IsRoot() bool {
	return s.ParentSpanID == ""
}

// Clone returns a deep copy of s.
func (s Span) Clone() Span {
	c := s
	c.Attributes = cloneAttributes(s.Attributes)
	if s.Status != nil {
		st := *s.Status
		c.Status = &st
	}
	if s.InstrumentationLibrary != nil {
		lib := *s.InstrumentationLibrary
		c.InstrumentationLibrary = &lib
	}
	if s.TimeEvents != nil {
		c.TimeEvents = make([]TimeEvent, len(s.TimeEvents))
		for i, ev := range s.TimeEvents {
			ev.Attributes = cloneAttributes(ev.Attributes)
			c.TimeEvents[i] = ev
		}
	}
	return c
}

func cloneAttributes(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneAttributes(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// SpanKind categorizes the type of work represented by a span.
type SpanKind string

const (
	// SpanKindInternal represents work happening within the application.
	SpanKindInternal SpanKind = "INTERNAL"

	// SpanKindServer represents handling an inbound synchronous request.
	SpanKindServer SpanKind = "SERVER"

	// SpanKindClient represents an outbound synchronous call.
	SpanKindClient SpanKind = "CLIENT"

	// SpanKindProducer represents sending a message to a queue/broker.
	SpanKindProducer SpanKind = "PRODUCER"

	// SpanKindConsumer represents receiving a message from a queue/broker.
	SpanKindConsumer SpanKind = "CONSUMER"
)

// Valid reports whether k is one of the known kinds or empty.
func (k SpanKind) Valid() bool {
	switch k {
	case "", SpanKindInternal, SpanKindServer, SpanKindClient, SpanKindProducer, SpanKindConsumer:
		return true
	}
	return false
}

// StatusCode represents the outcome of a span.
type StatusCode int

const (
	// StatusCodeUnset indicates no status was explicitly set.
	StatusCodeUnset StatusCode = 0

	// StatusCodeOK indicates successful completion.
	StatusCodeOK StatusCode = 1

	// StatusCodeError indicates an error occurred.
	StatusCodeError StatusCode = 2
)

// Status indicates whether a span completed successfully.
type Status struct {
	Code    StatusCode `json:"code"`
	Message string     `json:"message,omitempty"`
}

// InstrumentationLibrary records which instrumentation produced a span.
type InstrumentationLibrary struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// TimeEvent is a timestamped annotation within a span.
type TimeEvent struct {
	Time       int64          `json:"time"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Trace is the aggregate unit of persistence and lookup.
// Top-level fields left at zero are unset.
type Trace struct {
	TraceID     string          `json:"traceId"`
	DisplayName string          `json:"displayName,omitempty"`
	StartTime   int64           `json:"startTime,omitempty"`
	EndTime     int64           `json:"endTime,omitempty"`
	Spans       map[string]Span `json:"spans"`
}

// Root returns the span that summarizes the trace: the earliest parentless
// span, or the earliest span overall when none is parentless. Ties on start
// time go to the lowest span id. ok is false for a trace with no spans.
func (t *Trace) Root() (root Span, ok bool) {
	var candidates []Span
	for _, s := range t.Spans {
		if s.IsRoot() {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		for _, s := range t.Spans {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return Span{}, false
	}
	sortSpans(candidates)
	return candidates[0], true
}

// SortedSpans returns the spans ordered by start time, then span id.
func (t *Trace) SortedSpans() []Span {
	spans := make([]Span, 0, len(t.Spans))
	for _, s := range t.Spans {
		spans = append(spans, s)
	}
	sortSpans(spans)
	return spans
}

func sortSpans(spans []Span) {
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].StartTime != spans[j].StartTime {
			return spans[i].StartTime < spans[j].StartTime
		}
		return spans[i].SpanID < spans[j].SpanID
	})
}

// TraceFragment is a partial trace write. Nil top-level fields are absent
// and leave the stored trace untouched.
type TraceFragment struct {
	TraceID     string          `json:"traceId"`
	DisplayName *string         `json:"displayName,omitempty"`
	StartTime   *int64          `json:"startTime,omitempty"`
	EndTime     *int64          `json:"endTime,omitempty"`
	Spans       map[string]Span `json:"spans"`
}

// FragmentOf returns a fragment that carries every field of t.
func FragmentOf(t *Trace) *TraceFragment {
	f := &TraceFragment{TraceID: t.TraceID, Spans: make(map[string]Span, len(t.Spans))}
	if t.DisplayName != "" {
		name := t.DisplayName
		f.DisplayName = &name
	}
	if t.StartTime != 0 {
		start := t.StartTime
		f.StartTime = &start
	}
	if t.EndTime != 0 {
		end := t.EndTime
		f.EndTime = &end
	}
	for id, s := range t.Spans {
		f.Spans[id] = s
	}
	return f
}

// EventType tags a live span event.
type EventType string

const (
	// EventSpanStart is emitted for spans without an end time.
	EventSpanStart EventType = "span_start"
	// EventSpanEnd is emitted for completed spans.
	EventSpanEnd EventType = "span_end"
)

// SpanEvent is pushed to live subscribers of a trace.
type SpanEvent struct {
	Type    EventType `json:"type"`
	TraceID string    `json:"traceId"`
	Span    Span      `json:"span"`
}

// NewSpanEvent tags s as span_start or span_end.
func NewSpanEvent(s Span) SpanEvent {
	typ := EventSpanStart
	if s.Completed() {
		typ = EventSpanEnd
	}
	return SpanEvent{Type: typ, TraceID: s.TraceID, Span: s}
}

// Marshal renders the event as compact JSON.
func (e SpanEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes a trace or fragment document. Attribute numbers are
// kept as json.Number so integers beyond 2^53 survive a round trip.
func Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("invalid data after top-level value")
	}
	return nil
}
