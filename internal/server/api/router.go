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

// Package api provides the HTTP API for the trace server.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/tracehub/internal/broadcast"
	"github.com/tombee/tracehub/internal/log"
	"github.com/tombee/tracehub/internal/otlp"
	"github.com/tombee/tracehub/internal/server/httputil"
	"github.com/tombee/tracehub/internal/tracestore"
	"github.com/tombee/tracehub/pkg/telemetry"
)

// TraceReader serves point reads and listings.
type TraceReader interface {
	Read(ctx context.Context, id string) (*telemetry.Trace, error)
	List(ctx context.Context, opts tracestore.ListOptions) (*tracestore.ListResult, error)
}

// Ingester accepts native fragments and OTLP exports.
type Ingester interface {
	Write(ctx context.Context, frag *telemetry.TraceFragment) (*tracestore.WriteResult, error)
	IngestOTLP(ctx context.Context, req *otlp.ExportRequest, parent otlp.Parent, source string) (int, error)
}

// Subscriptions manages live subscribers.
type Subscriptions interface {
	Subscribe(traceID string, conn broadcast.Conn) string
	Close(traceID string) int
	ConnectionCount(traceID string) int
}

// StatusProvider reports index statistics for health checks.
type StatusProvider interface {
	Len() int
}

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	Version string

	// MaxBodyBytes caps request bodies after decompression.
	MaxBodyBytes int64

	// HeartbeatInterval is the SSE comment and WebSocket ping interval.
	HeartbeatInterval time.Duration

	// DefaultLimit is the list page size when the request sets none.
	DefaultLimit int

	RateLimit RateLimitConfig
}

// Deps are the services the router dispatches to.
type Deps struct {
	Traces        TraceReader
	Ingest        Ingester
	Subscriptions Subscriptions
	Index         StatusProvider
	Metrics       http.Handler
	Logger        *slog.Logger
}

// Router wraps an http.ServeMux with request logging.
type Router struct {
	mux     *http.ServeMux
	handler http.Handler
	config  RouterConfig
	deps    Deps
	limiter *RateLimiter
	logger  *slog.Logger
	started time.Time
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	defaultMaxBody   = 16 << 20
)

// NewRouter creates a new HTTP router with all API endpoints.
func NewRouter(cfg RouterConfig, deps Deps) *Router {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = defaultListLimit
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		mux:     http.NewServeMux(),
		config:  cfg,
		deps:    deps,
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  log.WithComponent(logger, "api"),
		started: time.Now(),
	}

	ingest := func(h http.HandlerFunc) http.Handler {
		return r.limiter.Middleware(h)
	}

	r.mux.Handle("POST /api/traces", ingest(r.handleWrite))
	r.mux.HandleFunc("GET /api/traces", r.handleList)
	r.mux.HandleFunc("GET /api/traces/{id}", r.handleGet)
	r.mux.HandleFunc("GET /api/traces/{id}/stream", r.handleStream)
	r.mux.HandleFunc("GET /api/traces/{id}/ws", r.handleWebSocket)
	r.mux.HandleFunc("DELETE /api/traces/{id}/subscribers", r.handleCloseSubscribers)

	r.mux.Handle("POST /api/otlp", ingest(r.handleOTLP))
	r.mux.Handle("POST /api/otlp/{parentTraceId}/{parentSpanId}", ingest(r.handleOTLP))
	r.mux.Handle("POST /v1/traces", ingest(r.handleOTLPStandard))

	r.mux.HandleFunc("GET /health", r.handleHealth)
	r.mux.HandleFunc("GET /version", r.handleVersion)
	if deps.Metrics != nil {
		r.mux.Handle("GET /metrics", deps.Metrics)
	}

	r.handler = log.HTTPMiddleware(r.logger, r.mux)
	return r
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Limiter exposes the ingest rate limiter so the server can prune it.
func (r *Router) Limiter() *RateLimiter {
	return r.limiter
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	body := map[string]any{
		"status":         "ok",
		"version":        r.config.Version,
		"uptime_seconds": int64(time.Since(r.started).Seconds()),
	}
	if r.deps.Index != nil {
		body["traces"] = r.deps.Index.Len()
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"name":    "tracehubd",
		"version": r.config.Version,
	})
}
