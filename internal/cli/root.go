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

// Package cli assembles the tracehub command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/tracehub/internal/commands/completion"
	"github.com/tombee/tracehub/internal/commands/diagnostics"
	"github.com/tombee/tracehub/internal/commands/push"
	"github.com/tombee/tracehub/internal/commands/reindex"
	"github.com/tombee/tracehub/internal/commands/shared"
	"github.com/tombee/tracehub/internal/commands/tail"
	"github.com/tombee/tracehub/internal/commands/traces"
	"github.com/tombee/tracehub/internal/commands/version"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for tracehub
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tracehub",
		Short: "tracehub - trace and span telemetry store",
		Long: `tracehub talks to a tracehubd server: it lists and shows stored traces,
writes trace fragments and OTLP exports, and follows live span events.

Set TRACEHUB_SERVER or pass --server to choose the server.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	shared.RegisterFlags(cmd)

	cmd.AddCommand(traces.NewCommand())
	cmd.AddCommand(push.NewCommand())
	cmd.AddCommand(tail.NewCommand())
	cmd.AddCommand(reindex.NewCommand())
	cmd.AddCommand(diagnostics.NewHealthCommand())
	cmd.AddCommand(completion.NewCommand())
	cmd.AddCommand(version.NewVersionCommand())

	return cmd
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}
