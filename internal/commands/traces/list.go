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
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/tracehub/internal/client"
	"github.com/tombee/tracehub/internal/commands/completion"
	"github.com/tombee/tracehub/internal/commands/shared"
	"github.com/tombee/tracehub/internal/config"
	"github.com/tombee/tracehub/internal/tracestore/index"
	"github.com/tombee/tracehub/pkg/telemetry"
)

type listOptions struct {
	limit    int
	filter   string
	typ      string
	notType  string
	token    string
	all      bool
	typeAttr string
}

// NewListCommand creates the traces list command.
func NewListCommand() *cobra.Command {
	var opts listOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List traces, newest first",
		Long: `List stored traces ordered by start time, newest first.

Filters match index fields (id, type, name, start, end, status). Traces
whose root span has no type attribute match type UNKNOWN.

Examples:
  tracehub traces list --type eval
  tracehub traces list --filter '{"neq":{"status":2}}'
  tracehub traces list --all --jq '.traces[].traceId'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.limit, "limit", 20, "Maximum traces per page")
	cmd.Flags().StringVar(&opts.filter, "filter", "", `Filter as JSON, e.g. '{"eq":{"type":"eval"}}'`)
	cmd.Flags().StringVar(&opts.typ, "type", "", "Only traces of this type")
	cmd.Flags().StringVar(&opts.notType, "not-type", "", "Exclude traces of this type")
	cmd.Flags().StringVar(&opts.token, "continuation-token", "", "Resume from a previous page")
	cmd.Flags().BoolVar(&opts.all, "all", false, "Follow continuation tokens and list every match")
	cmd.Flags().StringVar(&opts.typeAttr, "type-attribute", config.DefaultTypeAttribute, "Root span attribute holding the trace type")

	cmd.RegisterFlagCompletionFunc("type", completion.CompleteTraceTypes)
	cmd.RegisterFlagCompletionFunc("not-type", completion.CompleteTraceTypes)

	return cmd
}

func buildFilter(opts listOptions) (*index.Filter, error) {
	var f *index.Filter
	if opts.filter != "" {
		parsed, err := index.ParseFilter([]byte(opts.filter))
		if err != nil {
			return nil, err
		}
		f = parsed
	}
	if opts.typ == "" && opts.notType == "" {
		return f, nil
	}
	if f == nil {
		f = &index.Filter{}
	}
	if opts.typ != "" {
		if f.Eq == nil {
			f.Eq = map[string]any{}
		}
		f.Eq["type"] = opts.typ
	}
	if opts.notType != "" {
		if f.Neq == nil {
			f.Neq = map[string]any{}
		}
		f.Neq["type"] = opts.notType
	}
	return f, nil
}

func runList(cmd *cobra.Command, opts listOptions) error {
	if opts.limit <= 0 {
		return shared.NewInvalidInputError("--limit must be positive", nil)
	}
	if err := shared.ValidateJQ(); err != nil {
		return err
	}
	filter, err := buildFilter(opts)
	if err != nil {
		return err
	}

	c, err := shared.NewClient()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	result := &client.ListResponse{}
	token := opts.token
	for {
		page, err := c.ListTraces(ctx, client.ListOptions{
			Limit:             opts.limit,
			ContinuationToken: token,
			Filter:            filter,
		})
		if err != nil {
			return shared.NewFailure("failed to list traces", err)
		}
		result.Traces = append(result.Traces, page.Traces...)
		result.ContinuationToken = page.ContinuationToken
		token = page.ContinuationToken
		if !opts.all || token == "" {
			break
		}
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(ctx, out, result)
	}

	printTable(out, result.Traces, opts.typeAttr)
	if result.ContinuationToken != "" {
		st := shared.NewStyler(out)
		fmt.Fprintln(out)
		fmt.Fprintln(out, st.Render(shared.Muted, "More traces available: --continuation-token "+result.ContinuationToken))
	}
	return nil
}

func printTable(out io.Writer, traces []*telemetry.Trace, typeAttr string) {
	if len(traces) == 0 {
		fmt.Fprintln(out, "No traces found.")
		return
	}

	st := shared.NewStyler(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tTRACE ID\tTYPE\tNAME\tSPANS\tSTARTED\tDURATION")
	for _, t := range traces {
		e := index.EntryFor(t, typeAttr)
		typ := e.Type
		if !e.TypeSet {
			typ = st.Render(shared.Muted, typ)
		}
		var end int64
		if e.End != nil {
			end = *e.End
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			st.Status(!e.InProgress(), e.Status == int(telemetry.StatusCodeError)),
			e.ID,
			typ,
			e.Name,
			strconv.Itoa(len(t.Spans)),
			shared.FormatTime(e.Start),
			shared.FormatDuration(e.Start, end),
		)
	}
	w.Flush()
}
