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

// Package diagnostics implements the health command.
package diagnostics

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/tracehub/internal/commands/shared"
)

// HealthResult contains the server health check result
type HealthResult struct {
	Server          string   `json:"server"`
	Reachable       bool     `json:"reachable"`
	Status          string   `json:"status,omitempty"`
	Version         string   `json:"version,omitempty"`
	CLIVersion      string   `json:"cli_version"`
	UptimeSeconds   int64    `json:"uptime_seconds,omitempty"`
	Traces          int      `json:"traces"`
	LatencyMS       int64    `json:"latency_ms"`
	Error           string   `json:"error,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	Healthy         bool     `json:"healthy"`
}

// NewHealthCommand creates the health command
func NewHealthCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the tracehub server is up",
		Long: `Contact the server's /health endpoint and report its status, version,
uptime and number of indexed traces.

Exit codes:
  0 - Server is healthy
  1 - Server responded but is not healthy
  4 - Server is unreachable`,
		Example: `  tracehub health
  tracehub health --server http://traces.internal:4000 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd, timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Maximum time to wait for the server")

	return cmd
}

func runHealth(cmd *cobra.Command, timeout time.Duration) error {
	if err := shared.ValidateJQ(); err != nil {
		return err
	}
	c, err := shared.NewClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	cliVersion, _, _ := shared.GetVersion()
	result := HealthResult{Server: c.BaseURL(), CLIVersion: cliVersion}

	start := time.Now()
	health, healthErr := c.Health(ctx)
	result.LatencyMS = time.Since(start).Milliseconds()

	if healthErr != nil {
		result.Error = healthErr.Error()
		result.Recommendations = append(result.Recommendations,
			"Start tracehubd, or point --server / TRACEHUB_SERVER at a running server")
	} else {
		result.Reachable = true
		result.Status = health.Status
		result.Version = health.Version
		result.UptimeSeconds = health.UptimeSeconds
		result.Traces = health.Traces
		result.Healthy = health.Status == "ok"
		if versionsDiffer(cliVersion, health.Version) {
			result.Recommendations = append(result.Recommendations,
				fmt.Sprintf("CLI version %s differs from server version %s", cliVersion, health.Version))
		}
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		if err := shared.EmitJSON(cmd.Context(), out, result); err != nil {
			return err
		}
	} else {
		printHealth(out, result)
	}

	switch {
	case healthErr != nil:
		return &shared.ExitError{Code: shared.ExitUnavailable, Message: "server unreachable", Cause: healthErr}
	case !result.Healthy:
		return shared.NewFailure(fmt.Sprintf("server status %q", result.Status), nil)
	}
	return nil
}

// versionsDiffer ignores development builds, which carry no release version.
func versionsDiffer(cli, server string) bool {
	if cli == "" || server == "" || cli == "dev" || server == "dev" {
		return false
	}
	return cli != server
}

func printHealth(out io.Writer, r HealthResult) {
	st := shared.NewStyler(out)

	fmt.Fprintf(out, "Server: %s\n\n", r.Server)
	fmt.Fprintf(out, "  Reachable: %s\n", st.Status(r.Reachable, !r.Reachable))
	if r.Reachable {
		fmt.Fprintf(out, "  Status:    %s\n", r.Status)
		fmt.Fprintf(out, "  Version:   %s\n", r.Version)
		fmt.Fprintf(out, "  Uptime:    %s\n", (time.Duration(r.UptimeSeconds) * time.Second).String())
		fmt.Fprintf(out, "  Traces:    %d\n", r.Traces)
		fmt.Fprintf(out, "  Latency:   %dms\n", r.LatencyMS)
	}
	fmt.Fprintln(out)

	if r.Healthy {
		fmt.Fprintln(out, st.Render(shared.StatusOK, "Status: Healthy"))
	} else {
		fmt.Fprintln(out, st.Render(shared.StatusError, "Status: Failed"))
		if r.Error != "" {
			fmt.Fprintf(out, "Error: %s\n", r.Error)
		}
	}

	if len(r.Recommendations) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, st.Render(shared.Header, "Recommendations:"))
		for _, rec := range r.Recommendations {
			fmt.Fprintf(out, "  - %s\n", rec)
		}
	}
}
