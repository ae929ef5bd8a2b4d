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
	"encoding/base64"
	"encoding/hex"
	"fmt"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"
)

// DecodeProto parses an OTLP/protobuf export body.
func DecodeProto(data []byte) (*ExportRequest, error) {
	var req coltracepb.ExportTraceServiceRequest
	if err := proto.Unmarshal(data, &req); err != nil {
		return nil, invalid("body", fmt.Sprintf("malformed OTLP protobuf: %v", err))
	}
	return FromProto(&req), nil
}

// FromProto converts a protobuf export into its JSON form. Binary ids are
// hex encoded and zero timestamps are treated as absent.
func FromProto(req *coltracepb.ExportTraceServiceRequest) *ExportRequest {
	out := &ExportRequest{ResourceSpans: make([]ResourceSpans, 0, len(req.GetResourceSpans()))}
	for _, rs := range req.GetResourceSpans() {
		r := ResourceSpans{}
		if res := rs.GetResource(); res != nil {
			r.Resource = &Resource{Attributes: keyValuesFromProto(res.GetAttributes())}
		}
		for _, ss := range rs.GetScopeSpans() {
			r.ScopeSpans = append(r.ScopeSpans, scopeSpansFromProto(ss))
		}
		out.ResourceSpans = append(out.ResourceSpans, r)
	}
	return out
}

func scopeSpansFromProto(ss *tracepb.ScopeSpans) ScopeSpans {
	out := ScopeSpans{Spans: make([]Span, 0, len(ss.GetSpans()))}
	if sc := ss.GetScope(); sc != nil {
		out.Scope = &Scope{Name: sc.GetName(), Version: sc.GetVersion()}
	}
	for _, sp := range ss.GetSpans() {
		out.Spans = append(out.Spans, spanFromProto(sp))
	}
	return out
}

func spanFromProto(sp *tracepb.Span) Span {
	s := Span{
		TraceID:      hexID(sp.GetTraceId()),
		SpanID:       hexID(sp.GetSpanId()),
		ParentSpanID: hexID(sp.GetParentSpanId()),
		Name:         sp.GetName(),
		Kind:         Kind(sp.GetKind()),
		Attributes:   keyValuesFromProto(sp.GetAttributes()),
	}
	if v := sp.GetStartTimeUnixNano(); v != 0 {
		n := Uint64(v)
		s.StartTimeUnixNano = &n
	}
	if v := sp.GetEndTimeUnixNano(); v != 0 {
		n := Uint64(v)
		s.EndTimeUnixNano = &n
	}
	if st := sp.GetStatus(); st != nil {
		s.Status = &Status{Code: StatusCode(st.GetCode()), Message: st.GetMessage()}
	}
	for _, ev := range sp.GetEvents() {
		s.Events = append(s.Events, Event{
			TimeUnixNano: Uint64(ev.GetTimeUnixNano()),
			Name:         ev.GetName(),
			Attributes:   keyValuesFromProto(ev.GetAttributes()),
		})
	}
	return s
}

func hexID(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hex.EncodeToString(b)
}

func keyValuesFromProto(kvs []*commonpb.KeyValue) []KeyValue {
	if len(kvs) == 0 {
		return nil
	}
	out := make([]KeyValue, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, KeyValue{Key: kv.GetKey(), Value: anyValueFromProto(kv.GetValue())})
	}
	return out
}

func anyValueFromProto(v *commonpb.AnyValue) AnyValue {
	var out AnyValue
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		s := val.StringValue
		out.StringValue = &s
	case *commonpb.AnyValue_BoolValue:
		b := val.BoolValue
		out.BoolValue = &b
	case *commonpb.AnyValue_IntValue:
		n := Int64(val.IntValue)
		out.IntValue = &n
	case *commonpb.AnyValue_DoubleValue:
		d := val.DoubleValue
		out.DoubleValue = &d
	case *commonpb.AnyValue_BytesValue:
		s := base64.StdEncoding.EncodeToString(val.BytesValue)
		out.BytesValue = &s
	case *commonpb.AnyValue_ArrayValue:
		arr := &ArrayValue{}
		for _, item := range val.ArrayValue.GetValues() {
			arr.Values = append(arr.Values, anyValueFromProto(item))
		}
		out.ArrayValue = arr
	case *commonpb.AnyValue_KvlistValue:
		out.KvlistValue = &KvlistValue{Values: keyValuesFromProto(val.KvlistValue.GetValues())}
	}
	return out
}
