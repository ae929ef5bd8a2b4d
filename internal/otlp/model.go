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

// Package otlp translates OpenTelemetry trace exports into trace fragments.
package otlp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ExportRequest is the OTLP/JSON ExportTraceServiceRequest.
type ExportRequest struct {
	ResourceSpans []ResourceSpans `json:"resourceSpans"`
}

// ResourceSpans groups spans produced by one resource.
type ResourceSpans struct {
	Resource   *Resource    `json:"resource,omitempty"`
	ScopeSpans []ScopeSpans `json:"scopeSpans,omitempty"`
	// InstrumentationLibrarySpans is the pre-1.0 name of ScopeSpans.
	InstrumentationLibrarySpans []ScopeSpans `json:"instrumentationLibrarySpans,omitempty"`
}

// Resource describes the entity producing telemetry.
type Resource struct {
	Attributes []KeyValue `json:"attributes,omitempty"`
}

// ScopeSpans groups spans produced by one instrumentation scope.
type ScopeSpans struct {
	Scope                  *Scope `json:"scope,omitempty"`
	InstrumentationLibrary *Scope `json:"instrumentationLibrary,omitempty"`
	Spans                  []Span `json:"spans,omitempty"`
}

// Scope names the instrumentation library.
type Scope struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// Span is an OTLP span. Ids are hex encoded.
type Span struct {
	TraceID           string     `json:"traceId"`
	SpanID            string     `json:"spanId"`
	ParentSpanID      string     `json:"parentSpanId,omitempty"`
	Name              string     `json:"name,omitempty"`
	Kind              Kind       `json:"kind,omitempty"`
	StartTimeUnixNano *Uint64    `json:"startTimeUnixNano,omitempty"`
	EndTimeUnixNano   *Uint64    `json:"endTimeUnixNano,omitempty"`
	Attributes        []KeyValue `json:"attributes,omitempty"`
	Events            []Event    `json:"events,omitempty"`
	Status            *Status    `json:"status,omitempty"`
}

// Event is a timestamped span annotation.
type Event struct {
	TimeUnixNano Uint64     `json:"timeUnixNano,omitempty"`
	Name         string     `json:"name,omitempty"`
	Attributes   []KeyValue `json:"attributes,omitempty"`
}

// Status is the span outcome.
type Status struct {
	Code    StatusCode `json:"code,omitempty"`
	Message string     `json:"message,omitempty"`
}

// KeyValue is one typed attribute.
type KeyValue struct {
	Key   string   `json:"key"`
	Value AnyValue `json:"value"`
}

// AnyValue holds exactly one of its fields.
type AnyValue struct {
	StringValue *string      `json:"stringValue,omitempty"`
	BoolValue   *bool        `json:"boolValue,omitempty"`
	IntValue    *Int64       `json:"intValue,omitempty"`
	DoubleValue *float64     `json:"doubleValue,omitempty"`
	ArrayValue  *ArrayValue  `json:"arrayValue,omitempty"`
	KvlistValue *KvlistValue `json:"kvlistValue,omitempty"`
	BytesValue  *string      `json:"bytesValue,omitempty"`
}

// ArrayValue is a list of values.
type ArrayValue struct {
	Values []AnyValue `json:"values,omitempty"`
}

// KvlistValue is a nested attribute list.
type KvlistValue struct {
	Values []KeyValue `json:"values,omitempty"`
}

// Uint64 accepts both the string and number encodings OTLP/JSON allows.
type Uint64 uint64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Uint64) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	s := string(unquote(data))
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid unsigned integer %s", data)
	}
	*n = Uint64(v)
	return nil
}

// MarshalJSON renders the value as a decimal string.
func (n Uint64) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatUint(uint64(n), 10))), nil
}

// Int64 accepts both the string and number encodings OTLP/JSON allows.
type Int64 int64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Int64) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	s := string(unquote(data))
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %s", data)
	}
	*n = Int64(v)
	return nil
}

// MarshalJSON renders the value as a decimal string.
func (n Int64) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatInt(int64(n), 10))), nil
}

// Kind is the OTLP span kind enum.
type Kind int32

// OTLP span kinds.
const (
	KindUnspecified Kind = 0
	KindInternal    Kind = 1
	KindServer      Kind = 2
	KindClient      Kind = 3
	KindProducer    Kind = 4
	KindConsumer    Kind = 5
)

var kindNames = map[string]Kind{
	"SPAN_KIND_UNSPECIFIED": KindUnspecified,
	"SPAN_KIND_INTERNAL":    KindInternal,
	"SPAN_KIND_SERVER":      KindServer,
	"SPAN_KIND_CLIENT":      KindClient,
	"SPAN_KIND_PRODUCER":    KindProducer,
	"SPAN_KIND_CONSUMER":    KindConsumer,
}

// UnmarshalJSON accepts a number or a SPAN_KIND_* name.
func (k *Kind) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		name := strings.ToUpper(string(unquote(data)))
		v, ok := kindNames[name]
		if !ok {
			return fmt.Errorf("unknown span kind %s", data)
		}
		*k = v
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 32)
	if err != nil {
		return fmt.Errorf("invalid span kind %s", data)
	}
	*k = Kind(v)
	return nil
}

// StatusCode is the OTLP status code enum.
type StatusCode int32

var statusNames = map[string]StatusCode{
	"STATUS_CODE_UNSET": 0,
	"STATUS_CODE_OK":    1,
	"STATUS_CODE_ERROR": 2,
}

// UnmarshalJSON accepts a number or a STATUS_CODE_* name.
func (c *StatusCode) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		v, ok := statusNames[strings.ToUpper(string(unquote(data)))]
		if !ok {
			return fmt.Errorf("unknown status code %s", data)
		}
		*c = v
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 32)
	if err != nil {
		return fmt.Errorf("invalid status code %s", data)
	}
	*c = StatusCode(v)
	return nil
}

func isNull(data []byte) bool {
	return string(bytes.TrimSpace(data)) == "null"
}

func unquote(data []byte) []byte {
	data = bytes.TrimSpace(data)
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		return data[1 : len(data)-1]
	}
	return data
}

// DecodeJSON parses an OTLP/JSON export body.
func DecodeJSON(data []byte) (*ExportRequest, error) {
	var req ExportRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, invalid("body", fmt.Sprintf("malformed OTLP JSON: %v", err))
	}
	return &req, nil
}
