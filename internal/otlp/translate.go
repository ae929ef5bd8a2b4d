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

package otlp

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tombee/tracehub/pkg/errors"
	"github.com/tombee/tracehub/pkg/telemetry"
)

// OriginalTraceIDAttribute keeps the exporter's trace id on spans folded
// into another trace.
const OriginalTraceIDAttribute = "tracehub:otlpTraceId"

// ServiceNameAttribute is copied from the resource onto each span.
const ServiceNameAttribute = "service.name"

const nanosPerMilli = 1_000_000

// Parent folds an export into an existing trace. When TraceID is set every
// span moves to that trace; spans without a parent are attached to SpanID.
type Parent struct {
	TraceID string
	SpanID  string
}

// Options controls translation.
type Options struct {
	// TypeAttribute is the span attribute that carries the trace type.
	TypeAttribute string
	// DefaultType, when set, is applied to parentless spans that carry no
	// type attribute.
	DefaultType string
}

// Translate converts req into one fragment per trace id, in order of first
// appearance. Any malformed span fails the whole request.
func Translate(req *ExportRequest, parent Parent, opts Options) ([]*telemetry.TraceFragment, error) {
	if parent.SpanID != "" && parent.TraceID == "" {
		return nil, invalid("parentTraceId", "required when parentSpanId is set")
	}
	if parent.TraceID != "" {
		if err := telemetry.ValidateTraceID(parent.TraceID); err != nil {
			return nil, err
		}
	}

	var order []string
	byTrace := make(map[string]*telemetry.TraceFragment)

	for ri, rs := range req.ResourceSpans {
		serviceName := resourceServiceName(rs.Resource)
		groups := rs.ScopeSpans
		if len(groups) == 0 {
			groups = rs.InstrumentationLibrarySpans
		}
		for si, ss := range groups {
			lib := scopeLibrary(ss)
			for i, in := range ss.Spans {
				field := fmt.Sprintf("resourceSpans[%d].scopeSpans[%d].spans[%d]", ri, si, i)
				s, err := translateSpan(in, field)
				if err != nil {
					return nil, err
				}
				s.InstrumentationLibrary = lib
				if serviceName != "" {
					if _, ok := s.Attributes[ServiceNameAttribute]; !ok {
						s.setAttr(ServiceNameAttribute, serviceName)
					}
				}

				if parent.TraceID != "" {
					s.setAttr(OriginalTraceIDAttribute, s.TraceID)
					s.TraceID = parent.TraceID
					if s.ParentSpanID == "" {
						s.ParentSpanID = parent.SpanID
					}
				} else if err := telemetry.ValidateTraceID(s.TraceID); err != nil {
					return nil, invalid(field+".traceId", err.Error())
				}

				if opts.DefaultType != "" && opts.TypeAttribute != "" && s.ParentSpanID == "" {
					if _, ok := s.Attributes[opts.TypeAttribute]; !ok {
						s.setAttr(opts.TypeAttribute, opts.DefaultType)
					}
				}

				f, ok := byTrace[s.TraceID]
				if !ok {
					f = &telemetry.TraceFragment{TraceID: s.TraceID, Spans: make(map[string]telemetry.Span)}
					byTrace[s.TraceID] = f
					order = append(order, s.TraceID)
				}
				f.Spans[s.SpanID] = telemetry.Span(s)
			}
		}
	}

	out := make([]*telemetry.TraceFragment, 0, len(order))
	for _, id := range order {
		out = append(out, byTrace[id])
	}
	return out, nil
}

// span adds attribute helpers to telemetry.Span.
type span telemetry.Span

func (s *span) setAttr(key string, v any) {
	if s.Attributes == nil {
		s.Attributes = make(map[string]any)
	}
	s.Attributes[key] = v
}

func translateSpan(in Span, field string) (span, error) {
	if in.TraceID == "" {
		return span{}, invalid(field+".traceId", "required")
	}
	if in.SpanID == "" {
		return span{}, invalid(field+".spanId", "required")
	}
	if in.StartTimeUnixNano == nil {
		return span{}, invalid(field+".startTimeUnixNano", "required")
	}
	kind, err := mapKind(in.Kind)
	if err != nil {
		return span{}, invalid(field+".kind", err.Error())
	}

	s := span{
		TraceID:      in.TraceID,
		SpanID:       in.SpanID,
		ParentSpanID: in.ParentSpanID,
		DisplayName:  in.Name,
		StartTime:    millis(*in.StartTimeUnixNano),
		SpanKind:     kind,
		Attributes:   flatten(in.Attributes),
	}
	if in.EndTimeUnixNano != nil {
		s.EndTime = millis(*in.EndTimeUnixNano)
	}
	if in.Status != nil && in.Status.Code != 0 {
		s.Status = &telemetry.Status{
			Code:    telemetry.StatusCode(in.Status.Code),
			Message: in.Status.Message,
		}
	}
	for _, ev := range in.Events {
		s.TimeEvents = append(s.TimeEvents, telemetry.TimeEvent{
			Time:       millis(ev.TimeUnixNano),
			Name:       ev.Name,
			Attributes: flatten(ev.Attributes),
		})
	}
	return s, nil
}

func millis(ns Uint64) int64 {
	return int64(uint64(ns) / nanosPerMilli)
}

func mapKind(k Kind) (telemetry.SpanKind, error) {
	switch k {
	case KindUnspecified, KindInternal:
		return telemetry.SpanKindInternal, nil
	case KindServer:
		return telemetry.SpanKindServer, nil
	case KindClient:
		return telemetry.SpanKindClient, nil
	case KindProducer:
		return telemetry.SpanKindProducer, nil
	case KindConsumer:
		return telemetry.SpanKindConsumer, nil
	}
	return "", fmt.Errorf("unknown span kind %d", k)
}

// flatten maps typed attributes to scalars. Arrays and nested lists are
// stored as their JSON encoding.
func flatten(kvs []KeyValue) map[string]any {
	if len(kvs) == 0 {
		return nil
	}
	out := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		out[kv.Key] = scalar(kv.Value)
	}
	return out
}

func scalar(v AnyValue) any {
	switch {
	case v.ArrayValue != nil, v.KvlistValue != nil:
		return encoded(value(v))
	}
	return value(v)
}

func value(v AnyValue) any {
	switch {
	case v.StringValue != nil:
		return *v.StringValue
	case v.BoolValue != nil:
		return *v.BoolValue
	case v.IntValue != nil:
		return json.Number(strconv.FormatInt(int64(*v.IntValue), 10))
	case v.DoubleValue != nil:
		return *v.DoubleValue
	case v.BytesValue != nil:
		return *v.BytesValue
	case v.ArrayValue != nil:
		items := make([]any, 0, len(v.ArrayValue.Values))
		for _, item := range v.ArrayValue.Values {
			items = append(items, value(item))
		}
		return items
	case v.KvlistValue != nil:
		m := make(map[string]any, len(v.KvlistValue.Values))
		for _, kv := range v.KvlistValue.Values {
			m[kv.Key] = value(kv.Value)
		}
		return m
	}
	return nil
}

func encoded(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func resourceServiceName(r *Resource) string {
	if r == nil {
		return ""
	}
	for _, kv := range r.Attributes {
		if kv.Key == ServiceNameAttribute && kv.Value.StringValue != nil {
			return *kv.Value.StringValue
		}
	}
	return ""
}

func scopeLibrary(ss ScopeSpans) *telemetry.InstrumentationLibrary {
	sc := ss.Scope
	if sc == nil {
		sc = ss.InstrumentationLibrary
	}
	if sc == nil || sc.Name == "" {
		return nil
	}
	return &telemetry.InstrumentationLibrary{Name: sc.Name, Version: sc.Version}
}

func invalid(field, msg string) error {
	return &errors.ValidationError{Field: field, Message: msg}
}
