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

package traces

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/tracehub/internal/commands/completion"
	"github.com/tombee/tracehub/internal/commands/shared"
	"github.com/tombee/tracehub/pkg/telemetry"
)

// NewShowCommand creates the traces show command.
func NewShowCommand() *cobra.Command {
	var attributes bool

	cmd := &cobra.Command{
		Use:   "show <trace-id>",
		Short: "Show a trace and its span tree",
		Long:  `Display a stored trace with every span nested under its parent.`,
		Args:  cobra.ExactArgs(1),

		ValidArgsFunction: completion.CompleteTraceIDs,

		RunE: func(cmd *cobra.Command, args []string) error {
			if err := shared.ValidateJQ(); err != nil {
				return err
			}
			c, err := shared.NewClient()
			if err != nil {
				return err
			}

			trace, err := c.GetTrace(cmd.Context(), args[0])
			if err != nil {
				return shared.NewFailure("failed to fetch trace", err)
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.EmitJSON(cmd.Context(), out, trace)
			}
			printTrace(out, trace, attributes)
			return nil
		},
	}

	cmd.Flags().BoolVar(&attributes, "attributes", false, "Show span attributes")

	return cmd
}

func printTrace(out io.Writer, t *telemetry.Trace, attributes bool) {
	st := shared.NewStyler(out)

	title := t.TraceID
	if root, ok := t.Root(); ok && root.DisplayName != "" {
		title = fmt.Sprintf("%s (%s)", root.DisplayName, t.TraceID)
	}
	if t.DisplayName != "" {
		title = fmt.Sprintf("%s (%s)", t.DisplayName, t.TraceID)
	}
	fmt.Fprintln(out, st.Render(shared.Header, title))

	spans := t.SortedSpans()
	fmt.Fprintf(out, "%s %d\n\n", st.Render(shared.Muted, "Spans:"), len(spans))

	children := make(map[string][]telemetry.Span)
	var roots []telemetry.Span
	for _, s := range spans {
		// Spans whose parent is not in the trace are shown at the top level.
		if _, ok := t.Spans[s.ParentSpanID]; s.IsRoot() || !ok || s.ParentSpanID == s.SpanID {
			roots = append(roots, s)
			continue
		}
		children[s.ParentSpanID] = append(children[s.ParentSpanID], s)
	}

	seen := make(map[string]bool, len(spans))
	for _, s := range roots {
		printSpan(out, st, s, children, seen, 0, attributes)
	}
	// Parent cycles leave spans unreachable from any root.
	for _, s := range spans {
		if !seen[s.SpanID] {
			printSpan(out, st, s, children, seen, 0, attributes)
		}
	}
}

func printSpan(out io.Writer, st shared.Styler, s telemetry.Span, children map[string][]telemetry.Span, seen map[string]bool, depth int, attributes bool) {
	if seen[s.SpanID] {
		return
	}
	seen[s.SpanID] = true

	prefix := strings.Repeat("  ", depth)
	failed := s.Status != nil && s.Status.Code == telemetry.StatusCodeError

	name := s.DisplayName
	if name == "" {
		name = s.SpanID
	}
	line := fmt.Sprintf("%s%s %s %s", prefix, st.Status(s.Completed(), failed), name,
		st.Render(shared.Muted, "("+shared.FormatDuration(s.StartTime, s.EndTime)+")"))
	if s.SpanKind != "" && s.SpanKind != telemetry.SpanKindInternal {
		line += " " + st.Render(shared.Muted, strings.ToLower(string(s.SpanKind)))
	}
	fmt.Fprintln(out, line)

	if failed && s.Status.Message != "" {
		fmt.Fprintf(out, "%s  %s\n", prefix, st.Render(shared.StatusError, s.Status.Message))
	}
	if attributes && len(s.Attributes) > 0 {
		keys := make([]string, 0, len(s.Attributes))
		for k := range s.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "%s  %s %v\n", prefix, st.Render(shared.Muted, k+":"), s.Attributes[k])
		}
	}
	for _, ev := range s.TimeEvents {
		fmt.Fprintf(out, "%s  [%s] %s\n", prefix, shared.FormatTime(ev.Time), ev.Name)
	}

	for _, child := range children[s.SpanID] {
		printSpan(out, st, child, children, seen, depth+1, attributes)
	}
}
