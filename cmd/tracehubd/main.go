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

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/tracehub/internal/config"
	"github.com/tombee/tracehub/internal/log"
	"github.com/tombee/tracehub/internal/server"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML configuration file")
		httpAddr    = flag.String("http", "", "HTTP listen address")
		grpcAddr    = flag.String("grpc", "", "OTLP gRPC listen address")
		dataDir     = flag.String("data-dir", "", "Base directory for trace records and the index")
		rebuild     = flag.Bool("rebuild-index", false, "Rebuild the index from trace records on start")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("tracehubd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.LoadWith(*configPath, func(c *config.Config) {
		if *httpAddr != "" {
			c.Server.HTTPAddr = *httpAddr
		}
		if *grpcAddr != "" {
			c.Server.GRPCAddr = *grpcAddr
		}
		if *dataDir != "" {
			c.DataDir = *dataDir
		}
		if *rebuild {
			c.Index.RebuildOnStart = true
		}
	})
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger = log.New(&log.Config{
		Level:     cfg.Log.Level,
		Format:    log.Format(cfg.Log.Format),
		Output:    os.Stderr,
		AddSource: cfg.Log.AddSource,
	})
	slog.SetDefault(logger)

	s, err := server.New(cfg, server.Options{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("Failed to create server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
		cancel()
		if err := s.Shutdown(context.Background()); err != nil {
			logger.Error("Error during shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", slog.Any("error", err))
			s.Shutdown(context.Background())
			os.Exit(1)
		}
	}
}
