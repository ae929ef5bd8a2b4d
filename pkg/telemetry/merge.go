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

package telemetry

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// Merge folds a fragment into an existing trace and returns the result
// together with the spans that were inserted or replaced, in start order.
//
// existing may be nil. Neither argument is modified, and the result shares
// no mutable state with the fragment. Spans are replaced
// whole, except that a completed span is never replaced by one without an
// end time. Spans identical to the stored copy are not reported as changed.
func Merge(existing *Trace, in *TraceFragment) (*Trace, []Span) {
	size := len(in.Spans)
	if existing != nil {
		size += len(existing.Spans)
	}
	out := &Trace{TraceID: in.TraceID, Spans: make(map[string]Span, size)}

	if existing != nil {
		out.DisplayName = existing.DisplayName
		out.StartTime = existing.StartTime
		out.EndTime = existing.EndTime
		for id, s := range existing.Spans {
			out.Spans[id] = s
		}
	}

	if in.DisplayName != nil {
		out.DisplayName = *in.DisplayName
	}
	if in.StartTime != nil {
		out.StartTime = *in.StartTime
	}
	if in.EndTime != nil {
		out.EndTime = *in.EndTime
	}

	var changed []Span
	for id, incoming := range in.Spans {
		current, exists := out.Spans[id]
		if exists {
			if current.Completed() && !incoming.Completed() {
				continue
			}
			if sameSpan(current, incoming) {
				continue
			}
		}
		incoming = incoming.Clone()
		out.Spans[id] = incoming
		changed = append(changed, incoming)
	}
	sortSpans(changed)

	return out, changed
}

// sameSpan compares spans by their stored JSON form, so attribute numbers
// decoded as float64, int64 or json.Number compare equal when they encode
// the same.
func sameSpan(a, b Span) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}
