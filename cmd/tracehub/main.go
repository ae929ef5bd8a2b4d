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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/tracehub/internal/cli"
	"github.com/tombee/tracehub/internal/commands/shared"
	"github.com/tombee/tracehub/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// CLI logs go to stderr at warn unless TRACEHUB_DEBUG or LOG_LEVEL say
	// otherwise.
	logCfg := log.FromEnv()
	if os.Getenv("TRACEHUB_DEBUG") == "" && os.Getenv("TRACEHUB_LOG_LEVEL") == "" && os.Getenv("LOG_LEVEL") == "" {
		logCfg.Level = "warn"
	}
	if os.Getenv("LOG_FORMAT") == "" {
		logCfg.Format = log.FormatText
	}
	slog.SetDefault(log.New(logCfg))

	cli.SetVersion(version, commit, buildDate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cli.NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		code := shared.PrintError(os.Stderr, err)
		stop()
		os.Exit(code)
	}
}
