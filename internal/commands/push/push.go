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

// Package push implements the push command.
package push

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/tracehub/internal/client"
	"github.com/tombee/tracehub/internal/commands/shared"
	"github.com/tombee/tracehub/internal/otlp"
	"github.com/tombee/tracehub/pkg/telemetry"
)

type options struct {
	otlp        bool
	parentTrace string
	parentSpan  string
}

// NewCommand creates the push command.
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "push <file|->",
		Short: "Write trace fragments or an OTLP export",
		Long: `Send trace data to the server.

By default the file holds a trace fragment, or a JSON array of fragments,
each merged into its trace in order. With --otlp the file is an OTLP/JSON
ExportTraceServiceRequest; --parent-trace and --parent-span adopt its root
spans under an existing span.

Use - to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.otlp, "otlp", false, "Treat the input as OTLP/JSON")
	cmd.Flags().StringVar(&opts.parentTrace, "parent-trace", "", "Trace that adopts the export (requires --otlp)")
	cmd.Flags().StringVar(&opts.parentSpan, "parent-span", "", "Span that adopts the export's roots (requires --otlp)")

	return cmd
}

func run(cmd *cobra.Command, path string, opts options) error {
	if !opts.otlp && (opts.parentTrace != "" || opts.parentSpan != "") {
		return shared.NewInvalidInputError("--parent-trace and --parent-span require --otlp", nil)
	}
	if opts.otlp && (opts.parentTrace == "") != (opts.parentSpan == "") {
		return shared.NewInvalidInputError("--parent-trace and --parent-span must be set together", nil)
	}
	if err := shared.ValidateJQ(); err != nil {
		return err
	}

	data, err := readInput(cmd.InOrStdin(), path)
	if err != nil {
		return shared.NewInvalidInputError("failed to read input", err)
	}

	c, err := shared.NewClient()
	if err != nil {
		return err
	}

	if opts.otlp {
		return pushOTLP(cmd, c, data, opts)
	}
	return pushFragments(cmd, c, data)
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// decodeFragments accepts a single fragment object or an array of them.
func decodeFragments(data []byte) ([]*telemetry.TraceFragment, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var frags []*telemetry.TraceFragment
		if err := telemetry.Unmarshal(trimmed, &frags); err != nil {
			return nil, err
		}
		return frags, nil
	}
	var frag telemetry.TraceFragment
	if err := telemetry.Unmarshal(trimmed, &frag); err != nil {
		return nil, err
	}
	return []*telemetry.TraceFragment{&frag}, nil
}

func pushFragments(cmd *cobra.Command, c *client.Client, data []byte) error {
	frags, err := decodeFragments(data)
	if err != nil {
		return shared.NewInvalidInputError("invalid trace fragment JSON", err)
	}
	// Catch malformed fragments before anything is sent.
	for i, f := range frags {
		f.Normalize()
		if err := f.Validate(); err != nil {
			return shared.NewInvalidInputError(fmt.Sprintf("fragment %d", i), err)
		}
	}

	out := cmd.OutOrStdout()
	st := shared.NewStyler(out)
	results := make([]*client.WriteResponse, 0, len(frags))
	for _, f := range frags {
		res, err := c.WriteTrace(cmd.Context(), f)
		if err != nil {
			return shared.NewFailure(fmt.Sprintf("failed to write trace %s", f.TraceID), err)
		}
		results = append(results, res)
		if !shared.GetJSON() {
			fmt.Fprintf(out, "%s %s: %d span(s) changed\n", st.Render(shared.StatusOK, shared.SymbolOK), res.TraceID, res.Changed)
		}
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.Context(), out, results)
	}
	return nil
}

func pushOTLP(cmd *cobra.Command, c *client.Client, data []byte, opts options) error {
	req, err := otlp.DecodeJSON(data)
	if err != nil {
		return shared.NewInvalidInputError("invalid OTLP export", err)
	}
	// Translate locally so a bad span fails here with its field path.
	frags, err := otlp.Translate(req, otlp.Parent{TraceID: opts.parentTrace, SpanID: opts.parentSpan}, otlp.Options{})
	if err != nil {
		return shared.NewInvalidInputError("invalid OTLP export", err)
	}

	err = c.PushOTLP(cmd.Context(), data, client.Parent{TraceID: opts.parentTrace, SpanID: opts.parentSpan})
	if err != nil {
		return shared.NewFailure("failed to push OTLP export", err)
	}

	spans := 0
	ids := make([]string, 0, len(frags))
	for _, f := range frags {
		spans += len(f.Spans)
		ids = append(ids, f.TraceID)
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(cmd.Context(), out, map[string]any{"traces": ids, "spans": spans})
	}
	st := shared.NewStyler(out)
	fmt.Fprintf(out, "%s pushed %d span(s) in %d trace(s)\n", st.Render(shared.StatusOK, shared.SymbolOK), spans, len(ids))
	return nil
}
