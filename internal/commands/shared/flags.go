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

// Package shared holds the global flags, output helpers and exit codes
// used by every tracehub command.
package shared

import (
	"github.com/spf13/cobra"
)

// Global flag values - set by root command
var (
	serverFlag  string
	configFlag  string
	jsonFlag    bool
	jqFlag      string
	verboseFlag bool

	// Build-time version information
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterFlags adds the global flags to the root command.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&serverFlag, "server", "", "Server URL (default: $TRACEHUB_SERVER or http://127.0.0.1:4000)")
	flags.StringVar(&configFlag, "config", "", "Path to tracehub config file")
	flags.BoolVar(&jsonFlag, "json", false, "Output in JSON format")
	flags.StringVar(&jqFlag, "jq", "", "Filter JSON output with a jq expression (implies --json)")
	flags.BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose output")
}

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// GetServer returns the --server flag value.
func GetServer() string {
	return serverFlag
}

// GetConfigPath returns the config file path
func GetConfigPath() string {
	return configFlag
}

// GetJSON reports whether output should be JSON.
func GetJSON() bool {
	return jsonFlag || jqFlag != ""
}

// GetJQ returns the --jq expression.
func GetJQ() string {
	return jqFlag
}

// GetVerbose returns the verbose flag value
func GetVerbose() bool {
	return verboseFlag
}
