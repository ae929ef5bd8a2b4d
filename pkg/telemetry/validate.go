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
	"fmt"

	"github.com/tombee/tracehub/pkg/errors"
)

// MaxIDLength bounds trace ids, which double as record keys on disk.
const MaxIDLength = 256

// ValidateTraceID checks that id is usable as a record key: letters,
// digits, '-', '_' and '.', never "." or "..".
func ValidateTraceID(id string) error {
	if id == "" {
		return &errors.ValidationError{
			Field:      "traceId",
			Message:    "required",
			Suggestion: "set traceId on the fragment",
		}
	}
	if len(id) > MaxIDLength {
		return &errors.ValidationError{
			Field:   "traceId",
			Message: fmt.Sprintf("longer than %d bytes", MaxIDLength),
		}
	}
	if id == "." || id == ".." {
		return &errors.ValidationError{Field: "traceId", Message: fmt.Sprintf("%q is reserved", id)}
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return &errors.ValidationError{
				Field:      "traceId",
				Message:    fmt.Sprintf("invalid character %q", r),
				Suggestion: "use letters, digits, '-', '_' or '.'",
			}
		}
	}
	return nil
}

// Normalize fills span ids and trace ids left empty from the span map key
// and the fragment.
func (f *TraceFragment) Normalize() {
	for key, s := range f.Spans {
		changed := false
		if s.SpanID == "" {
			s.SpanID = key
			changed = true
		}
		if s.TraceID == "" {
			s.TraceID = f.TraceID
			changed = true
		}
		if changed {
			f.Spans[key] = s
		}
	}
}

// Validate rejects fragments that cannot be merged. It does not modify f;
// call Normalize first to fill implied ids.
func (f *TraceFragment) Validate() error {
	if err := ValidateTraceID(f.TraceID); err != nil {
		return err
	}
	if f.StartTime != nil && *f.StartTime < 0 {
		return &errors.ValidationError{Field: "startTime", Message: "must not be negative"}
	}
	if f.EndTime != nil && *f.EndTime < 0 {
		return &errors.ValidationError{Field: "endTime", Message: "must not be negative"}
	}
	for key, s := range f.Spans {
		field := "spans." + key
		if key == "" {
			return &errors.ValidationError{Field: "spans", Message: "empty span id key"}
		}
		if s.SpanID != key {
			return &errors.ValidationError{
				Field:   field + ".spanId",
				Message: fmt.Sprintf("%q does not match map key", s.SpanID),
			}
		}
		if s.TraceID != f.TraceID {
			return &errors.ValidationError{
				Field:   field + ".traceId",
				Message: fmt.Sprintf("%q does not match fragment trace %q", s.TraceID, f.TraceID),
			}
		}
		if s.StartTime < 0 || s.EndTime < 0 {
			return &errors.ValidationError{Field: field, Message: "times must not be negative"}
		}
		if !s.SpanKind.Valid() {
			return &errors.ValidationError{
				Field:      field + ".spanKind",
				Message:    fmt.Sprintf("unknown kind %q", s.SpanKind),
				Suggestion: "use INTERNAL, SERVER, CLIENT, PRODUCER or CONSUMER",
			}
		}
		for k, v := range s.Attributes {
			if !isScalar(v) {
				return &errors.ValidationError{
					Field:   field + ".attributes." + k,
					Message: "attribute values must be strings, numbers or booleans",
				}
			}
		}
	}
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, float64, float32, int, int32, int64, uint32, uint64:
		return true
	}
	return false
}
