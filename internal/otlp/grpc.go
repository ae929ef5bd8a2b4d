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
	"context"
	"log/slog"
	"time"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	_ "google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/tombee/tracehub/pkg/errors"
)

// Metadata keys that fold a gRPC export into an existing trace.
const (
	ParentTraceIDHeader = "x-tracehub-parent-trace-id"
	ParentSpanIDHeader  = "x-tracehub-parent-span-id"
)

// Ingester persists translated exports.
type Ingester interface {
	IngestOTLP(ctx context.Context, req *ExportRequest, parent Parent, source string) (int, error)
}

// TraceServer implements the OTLP TraceService over gRPC.
type TraceServer struct {
	coltracepb.UnimplementedTraceServiceServer
	ingester Ingester
	logger   *slog.Logger
}

// NewTraceServer creates a TraceServer.
func NewTraceServer(ingester Ingester, logger *slog.Logger) *TraceServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TraceServer{
		ingester: ingester,
		logger:   logger.With(slog.String("component", "otlp-grpc")),
	}
}

// Export ingests one batch of spans.
func (s *TraceServer) Export(ctx context.Context, req *coltracepb.ExportTraceServiceRequest) (*coltracepb.ExportTraceServiceResponse, error) {
	parent := parentFromMetadata(ctx)

	n, err := s.ingester.IngestOTLP(ctx, FromProto(req), parent, "otlp_grpc")
	if err != nil {
		if errors.IsValidation(err) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		s.logger.Error("otlp export failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to store spans")
	}

	s.logger.Debug("otlp export accepted", slog.Int("spans", n))
	return &coltracepb.ExportTraceServiceResponse{}, nil
}

func parentFromMetadata(ctx context.Context) Parent {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return Parent{}
	}
	first := func(key string) string {
		if v := md.Get(key); len(v) > 0 {
			return v[0]
		}
		return ""
	}
	return Parent{TraceID: first(ParentTraceIDHeader), SpanID: first(ParentSpanIDHeader)}
}

// NewGRPCServer returns a gRPC server with the TraceService registered.
func NewGRPCServer(ts *TraceServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(ts.logUnary))
	srv := grpc.NewServer(opts...)
	coltracepb.RegisterTraceServiceServer(srv, ts)
	return srv
}

func (s *TraceServer) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "grpc request",
		slog.String("method", info.FullMethod),
		slog.String("code", status.Code(err).String()),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return resp, err
}
