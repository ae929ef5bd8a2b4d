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

// Package server wires the trace store, index, broadcaster and ingest
// pipeline behind the HTTP and gRPC listeners.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/tombee/tracehub/internal/broadcast"
	"github.com/tombee/tracehub/internal/config"
	"github.com/tombee/tracehub/internal/ingest"
	internallog "github.com/tombee/tracehub/internal/log"
	"github.com/tombee/tracehub/internal/metrics"
	"github.com/tombee/tracehub/internal/otlp"
	"github.com/tombee/tracehub/internal/server/api"
	"github.com/tombee/tracehub/internal/tracestore"
	"github.com/tombee/tracehub/internal/tracestore/index"
)

// limiterPruneInterval is how often idle rate limit buckets are dropped.
const limiterPruneInterval = 5 * time.Minute

// Options contains build information and overrides.
type Options struct {
	Version   string
	Commit    string
	BuildDate string

	Logger *slog.Logger
}

// Server is the tracehub daemon.
type Server struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	index    *index.Index
	store    *tracestore.Store
	subs     *broadcast.Manager
	pipeline *ingest.Pipeline
	router   *api.Router
	watcher  *tracestore.Watcher

	httpServer *http.Server
	grpcServer *grpc.Server

	mu       sync.Mutex
	started  bool
	ready    chan struct{}
	httpAddr net.Addr
	grpcAddr net.Addr
}

// New builds a Server from cfg. Nothing listens until Start.
func New(cfg *config.Config, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var persister index.Persister
	if !cfg.Index.InMemoryIndex() {
		p, err := index.OpenSQLite(cfg.Index.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open index: %w", err)
		}
		persister = p
	}
	ix := index.New(index.Options{
		TypeAttribute: cfg.Index.TypeAttribute,
		Persister:     persister,
		OnChange:      metrics.SetIndexEntries,
	})

	var cipher *tracestore.Cipher
	if cfg.Store.Encryption {
		c, err := tracestore.LoadCipher()
		if err != nil {
			ix.Close()
			return nil, fmt.Errorf("failed to load store key: %w", err)
		}
		if c == nil {
			ix.Close()
			return nil, fmt.Errorf("store encryption is enabled but %s is not set", tracestore.KeyEnv)
		}
		cipher = c
	}

	store, err := tracestore.Open(tracestore.Options{
		Dir:          cfg.Store.Dir,
		Index:        ix,
		Cipher:       cipher,
		CacheMaxCost: cfg.Store.CacheMaxCost,
		Logger:       logger,
	})
	if err != nil {
		ix.Close()
		return nil, fmt.Errorf("failed to open trace store: %w", err)
	}

	subs := broadcast.NewManager(broadcast.Options{
		QueueSize:    cfg.Broadcast.QueueSize,
		StallTimeout: cfg.Broadcast.StallTimeout,
		Logger:       logger,
	})
	pipeline := ingest.New(store, subs, ingest.Options{
		TypeAttribute: ix.TypeAttribute(),
		OTLPType:      cfg.Ingest.OTLPType,
		Logger:        logger,
	})

	router := api.NewRouter(api.RouterConfig{
		Version:           opts.Version,
		MaxBodyBytes:      cfg.Ingest.MaxBodyBytes,
		HeartbeatInterval: cfg.Broadcast.HeartbeatInterval,
		RateLimit: api.RateLimitConfig{
			Enabled:           cfg.Ingest.RateLimit.Enabled,
			RequestsPerSecond: cfg.Ingest.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.Ingest.RateLimit.Burst,
		},
	}, api.Deps{
		Traces:        store,
		Ingest:        pipeline,
		Subscriptions: subs,
		Index:         ix,
		Metrics:       promhttp.Handler(),
		Logger:        logger,
	})

	s := &Server{
		cfg:      cfg,
		opts:     opts,
		logger:   internallog.WithComponent(logger, "server"),
		index:    ix,
		store:    store,
		subs:     subs,
		pipeline: pipeline,
		router:   router,
		ready:    make(chan struct{}),
		httpServer: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	if cfg.Server.GRPCAddr != "" {
		s.grpcServer = otlp.NewGRPCServer(otlp.NewTraceServer(pipeline, logger))
	}
	return s, nil
}

// Start prepares the index, binds the listeners and serves until ctx is
// cancelled or a listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.prepareIndex(ctx); err != nil {
		return err
	}

	if s.cfg.Store.Watch {
		w, err := tracestore.NewWatcher(s.store)
		if err != nil {
			return fmt.Errorf("failed to watch trace store: %w", err)
		}
		w.Start(ctx)
		s.watcher = w
	}

	httpLn, err := net.Listen("tcp", s.cfg.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.HTTPAddr, err)
	}
	var grpcLn net.Listener
	if s.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", s.cfg.Server.GRPCAddr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.GRPCAddr, err)
		}
	}

	s.mu.Lock()
	s.httpAddr = httpLn.Addr()
	if grpcLn != nil {
		s.grpcAddr = grpcLn.Addr()
	}
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info("tracehub server started",
		slog.String("http_addr", httpLn.Addr().String()),
		slog.String("grpc_addr", addrString(grpcLn)),
		slog.String("store_dir", s.store.Dir()),
		slog.Int("traces", s.index.Len()),
		slog.String("version", s.opts.Version),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.Serve(httpLn); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if grpcLn != nil {
		g.Go(func() error {
			if err := s.grpcServer.Serve(grpcLn); err != nil && !stderrors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(limiterPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.router.Limiter().Cleanup(limiterPruneInterval)
			}
		}
	})

	// Serve returns only after Shutdown; a listener failure cancels gctx.
	<-gctx.Done()
	if ctx.Err() != nil {
		return nil
	}
	s.stopListeners(context.Background())
	return g.Wait()
}

// prepareIndex loads the persisted index, rebuilding it from the trace
// records when it is empty or a rebuild is configured.
func (s *Server) prepareIndex(ctx context.Context) error {
	n, err := s.index.Load(ctx)
	if err != nil {
		s.logger.Warn("failed to load persisted index, rebuilding", internallog.Error(err))
	}
	if err == nil && n > 0 && !s.cfg.Index.RebuildOnStart {
		s.logger.Info("index loaded", slog.Int("traces", n))
		return nil
	}

	start := time.Now()
	n, err = s.store.Reindex(ctx)
	if err != nil {
		return fmt.Errorf("failed to rebuild index: %w", err)
	}
	s.logger.Info("index rebuilt from trace records",
		slog.Int("traces", n),
		internallog.Duration(internallog.DurationKey, time.Since(start).Milliseconds()),
	)
	return nil
}

// Ready is closed once the listeners are bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// HTTPAddr returns the bound HTTP address, or nil before Start.
func (s *Server) HTTPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpAddr
}

// GRPCAddr returns the bound gRPC address, or nil when gRPC is disabled.
func (s *Server) GRPCAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grpcAddr
}

// Shutdown ends live subscriptions, drains the listeners and closes the
// store and index.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return s.closeStorage()
	}

	s.logger.Info("graceful shutdown initiated")

	// Streaming handlers only return once their subscription ends.
	s.subs.CloseAll()
	s.stopListeners(ctx)

	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.logger.Error("record watcher shutdown error", internallog.Error(err))
		}
	}

	err := s.closeStorage()
	s.started = false
	s.logger.Info("tracehub server stopped")
	return err
}

func (s *Server) stopListeners(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", internallog.Error(err))
	}

	if s.grpcServer != nil {
		done := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			s.grpcServer.Stop()
		}
	}
}

func (s *Server) closeStorage() error {
	var errs []error
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := s.index.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close index: %w", err))
	}
	return stderrors.Join(errs...)
}

func addrString(ln net.Listener) string {
	if ln == nil {
		return ""
	}
	return ln.Addr().String()
}
