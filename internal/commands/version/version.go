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

// Package version implements the version command.
package version

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/tracehub/internal/commands/shared"
)

// serverTimeout bounds the server version lookup.
const serverTimeout = 2 * time.Second

// VersionInfo contains version metadata
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`

	// Server is the server's version, when --server was given and it
	// answered.
	Server string `json:"server,omitempty"`
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display version, commit hash, and build date for tracehub.

With --server, the server's version is shown too.`,
		RunE: runVersion,
	}

	return cmd
}

func runVersion(cmd *cobra.Command, args []string) error {
	v, c, b := shared.GetVersion()

	info := VersionInfo{
		Version:   v,
		Commit:    c,
		BuildDate: b,
	}

	if shared.GetServer() != "" {
		if cl, err := shared.NewClient(); err == nil {
			ctx, cancel := context.WithTimeout(cmd.Context(), serverTimeout)
			defer cancel()
			if sv, err := cl.Version(ctx); err == nil {
				info.Server = sv.Version
			}
		}
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.Context(), cmd.OutOrStdout(), info)
	}

	cmd.Printf("tracehub version %s\n", info.Version)
	cmd.Printf("  commit:     %s\n", info.Commit)
	cmd.Printf("  build date: %s\n", info.BuildDate)
	if info.Server != "" {
		cmd.Printf("  server:     %s\n", info.Server)
	}

	return nil
}
