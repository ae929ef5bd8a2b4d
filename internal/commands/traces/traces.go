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

// Package traces implements the traces command group.
package traces

import (
	"github.com/spf13/cobra"
)

// NewCommand creates the traces command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "traces",
		Short: "List and inspect stored traces",
		Long:  `Query the trace index and display stored traces with their span trees.`,
	}

	cmd.AddCommand(NewListCommand())
	cmd.AddCommand(NewShowCommand())

	return cmd
}
