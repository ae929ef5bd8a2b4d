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

// Package tail implements the tail command.
package tail

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tombee/tracehub/internal/client"
	"github.com/tombee/tracehub/internal/commands/completion"
	"github.com/tombee/tracehub/internal/commands/shared"
	"github.com/tombee/tracehub/pkg/telemetry"
)

type options struct {
	count       int
	noReconnect bool
}

// NewCommand creates the tail command.
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "tail <trace-id>",
		Short: "Follow live span events of a trace",
		Long: `Stream span_start and span_end events for a trace as they are written.

The trace does not need to exist yet. The command exits when the server
closes the stream, after --count events, or on interrupt. With --json each
event is printed as one JSON document.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteActiveTraceIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVar(&opts.count, "count", 0, "Exit after this many events (0 follows until closed)")
	cmd.Flags().BoolVar(&opts.noReconnect, "no-reconnect", false, "Exit instead of reconnecting when the connection drops")

	return cmd
}

func run(cmd *cobra.Command, traceID string, opts options) error {
	if opts.count < 0 {
		return shared.NewInvalidInputError("--count must not be negative", nil)
	}
	if err := shared.ValidateJQ(); err != nil {
		return err
	}
	c, err := shared.NewClient()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	st := shared.NewStyler(out)
	if !shared.GetJSON() && shared.IsTerminal(cmd.ErrOrStderr()) {
		fmt.Fprintln(cmd.ErrOrStderr(), st.Render(shared.Muted, "Following "+traceID+" (Ctrl-C to stop)"))
	}

	seen := 0
	err = c.Stream(ctx, traceID, func(ev telemetry.SpanEvent) error {
		if err := printEvent(cmd, out, st, ev); err != nil {
			return err
		}
		seen++
		if opts.count > 0 && seen >= opts.count {
			return client.ErrStopStream
		}
		return nil
	}, client.StreamOptions{Reconnect: !opts.noReconnect})

	if err != nil && ctx.Err() == nil {
		return shared.NewFailure("stream failed", err)
	}
	return nil
}

func printEvent(cmd *cobra.Command, out io.Writer, st shared.Styler, ev telemetry.SpanEvent) error {
	if shared.GetJSON() {
		if shared.GetJQ() != "" {
			return shared.EmitJSON(cmd.Context(), out, ev)
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	s := ev.Span
	name := s.DisplayName
	if name == "" {
		name = s.SpanID
	}
	failed := s.Status != nil && s.Status.Code == telemetry.StatusCodeError

	switch ev.Type {
	case telemetry.EventSpanEnd:
		fmt.Fprintf(out, "%s %s %s %s %s\n",
			st.Render(shared.Muted, shared.FormatTime(s.EndTime)),
			st.Status(true, failed),
			name,
			st.Render(shared.Muted, s.SpanID),
			shared.FormatDuration(s.StartTime, s.EndTime),
		)
	default:
		fmt.Fprintf(out, "%s %s %s %s\n",
			st.Render(shared.Muted, shared.FormatTime(s.StartTime)),
			st.Status(false, false),
			name,
			st.Render(shared.Muted, s.SpanID),
		)
	}
	return nil
}
