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

// Package ingest runs writes through the store and notifies live
// subscribers of every span a write changed.
package ingest

import (
	"context"
	"log/slog"

	"github.com/tombee/tracehub/internal/log"
	"github.com/tombee/tracehub/internal/metrics"
	"github.com/tombee/tracehub/internal/otlp"
	"github.com/tombee/tracehub/internal/tracestore"
	"github.com/tombee/tracehub/pkg/telemetry"
)

// Writer persists fragments. *tracestore.Store implements it.
type Writer interface {
	Write(ctx context.Context, frag *telemetry.TraceFragment) (*tracestore.WriteResult, error)
}

// Broadcaster delivers span events. *broadcast.Manager implements it.
type Broadcaster interface {
	BroadcastEvents(traceID string, evs []telemetry.SpanEvent)
}

// Options configures a Pipeline.
type Options struct {
	// TypeAttribute and OTLPType are passed to OTLP translation.
	TypeAttribute string
	OTLPType      string

	Logger *slog.Logger
}

// Pipeline is the single write path for native and OTLP ingest.
type Pipeline struct {
	writer      Writer
	broadcaster Broadcaster
	opts        Options
	logger      *slog.Logger
}

// New creates a Pipeline.
func New(w Writer, b Broadcaster, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		writer:      w,
		broadcaster: b,
		opts:        opts,
		logger:      logger.With(slog.String("component", "ingest")),
	}
}

// Write stores a native fragment and broadcasts its changed spans.
func (p *Pipeline) Write(ctx context.Context, frag *telemetry.TraceFragment) (*tracestore.WriteResult, error) {
	res, err := p.write(ctx, frag)
	if err != nil {
		return nil, err
	}
	metrics.RecordSpans("native", len(frag.Spans))
	return res, nil
}

func (p *Pipeline) write(ctx context.Context, frag *telemetry.TraceFragment) (*tracestore.WriteResult, error) {
	res, err := p.writer.Write(ctx, frag)
	if err != nil {
		return nil, err
	}
	if len(res.Changed) > 0 {
		evs := make([]telemetry.SpanEvent, len(res.Changed))
		for i, s := range res.Changed {
			evs[i] = telemetry.NewSpanEvent(s)
		}
		p.broadcaster.BroadcastEvents(res.Trace.TraceID, evs)
	}
	return res, nil
}

// IngestOTLP translates an export and writes one fragment per trace. The
// whole export is validated before anything is written. It returns the
// number of spans written.
func (p *Pipeline) IngestOTLP(ctx context.Context, req *otlp.ExportRequest, parent otlp.Parent, source string) (int, error) {
	frags, err := otlp.Translate(req, parent, otlp.Options{
		TypeAttribute: p.opts.TypeAttribute,
		DefaultType:   p.opts.OTLPType,
	})
	if err != nil {
		return 0, err
	}
	for _, f := range frags {
		f.Normalize()
		if err := f.Validate(); err != nil {
			return 0, err
		}
	}

	n := 0
	for _, f := range frags {
		if _, err := p.write(ctx, f); err != nil {
			p.logger.Error("otlp write failed",
				slog.String(log.TraceIDKey, f.TraceID),
				slog.String(log.SourceKey, source),
				slog.Any("error", err),
			)
			return n, err
		}
		n += len(f.Spans)
	}

	metrics.RecordSpans(source, n)
	p.logger.Debug("otlp export ingested",
		slog.String(log.SourceKey, source),
		slog.Int("traces", len(frags)),
		slog.Int("spans", n),
	)
	return n, nil
}

var _ otlp.Ingester = (*Pipeline)(nil)
