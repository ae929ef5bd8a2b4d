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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"

	tracehuberrors "github.com/tombee/tracehub/pkg/errors"
	"github.com/tombee/tracehub/pkg/telemetry"
)

func protoExport() *coltracepb.ExportTraceServiceRequest {
	str := func(s string) *commonpb.AnyValue {
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: s}}
	}
	return &coltracepb.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{{
			Resource: &resourcepb.Resource{Attributes: []*commonpb.KeyValue{
				{Key: "service.name", Value: str("billing")},
			}},
			ScopeSpans: []*tracepb.ScopeSpans{{
				Scope: &commonpb.InstrumentationScope{Name: "grpc-test"},
				Spans: []*tracepb.Span{
					{
						TraceId:           []byte{0x01, 0x02, 0x03, 0x04},
						SpanId:            []byte{0xaa, 0xbb},
						Name:              "charge",
						Kind:              tracepb.Span_SPAN_KIND_SERVER,
						StartTimeUnixNano: 2_000_000,
						EndTimeUnixNano:   5_500_000,
						Attributes: []*commonpb.KeyValue{
							{Key: "attempt", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: 3}}},
							{Key: "list", Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_ArrayValue{
								ArrayValue: &commonpb.ArrayValue{Values: []*commonpb.AnyValue{str("x")}},
							}}},
						},
						Status: &tracepb.Status{Code: tracepb.Status_STATUS_CODE_ERROR, Message: "declined"},
					},
					{
						TraceId:           []byte{0x01, 0x02, 0x03, 0x04},
						SpanId:            []byte{0xcc, 0xdd},
						ParentSpanId:      []byte{0xaa, 0xbb},
						Name:              "db",
						Kind:              tracepb.Span_SPAN_KIND_CLIENT,
						StartTimeUnixNano: 3_000_000,
					},
				},
			}},
		}},
	}
}

func TestFromProto(t *testing.T) {
	frags, err := Translate(FromProto(protoExport()), Parent{}, Options{})
	require.NoError(t, err)
	require.Len(t, frags, 1)

	f := frags[0]
	assert.Equal(t, "01020304", f.TraceID)

	root := f.Spans["aabb"]
	assert.Equal(t, telemetry.SpanKindServer, root.SpanKind)
	assert.Equal(t, int64(2), root.StartTime)
	assert.Equal(t, int64(5), root.EndTime)
	assert.Equal(t, json.Number("3"), root.Attributes["attempt"])
	assert.Equal(t, `["x"]`, root.Attributes["list"])
	assert.Equal(t, "billing", root.Attributes["service.name"])
	assert.Equal(t, telemetry.StatusCodeError, root.Status.Code)
	assert.Equal(t, "grpc-test", root.InstrumentationLibrary.Name)

	child := f.Spans["ccdd"]
	assert.Equal(t, "aabb", child.ParentSpanID)
	assert.Equal(t, telemetry.SpanKindClient, child.SpanKind)
	assert.Zero(t, child.EndTime, "in-progress span")
}

func TestDecodeProto(t *testing.T) {
	data, err := proto.Marshal(protoExport())
	require.NoError(t, err)

	req, err := DecodeProto(data)
	require.NoError(t, err)
	require.Len(t, req.ResourceSpans, 1)
	assert.Len(t, req.ResourceSpans[0].ScopeSpans[0].Spans, 2)

	_, err = DecodeProto([]byte{0xff, 0xff, 0xff})
	assert.True(t, tracehuberrors.IsValidation(err))
}

func TestFromProto_MissingStartIsInvalid(t *testing.T) {
	req := protoExport()
	req.ResourceSpans[0].ScopeSpans[0].Spans[1].StartTimeUnixNano = 0

	_, err := Translate(FromProto(req), Parent{}, Options{})
	assert.True(t, tracehuberrors.IsValidation(err))
}
