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

package completion

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/tracehub/internal/client"
	"github.com/tombee/tracehub/internal/commands/shared"
	"github.com/tombee/tracehub/internal/config"
	"github.com/tombee/tracehub/internal/tracestore/index"
)

const (
	traceCacheTTL = 2 * time.Second
	serverTimeout = 500 * time.Millisecond
	traceLimit    = 100
)

// traceInfo is one completion candidate.
type traceInfo struct {
	id          string
	typ         string
	inProgress  bool
	description string
}

type traceCacheEntry struct {
	server    string
	traces    []traceInfo
	expiresAt time.Time
}

var (
	traceCache   *traceCacheEntry
	traceCacheMu sync.RWMutex
)

// CompleteTraceIDs completes trace IDs from the most recent traces.
func CompleteTraceIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return completeTraces(args, toComplete, false)
}

// CompleteActiveTraceIDs completes IDs of traces whose root span has not
// ended, for commands that follow live traces.
func CompleteActiveTraceIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return completeTraces(args, toComplete, true)
}

func completeTraces(args []string, toComplete string, activeOnly bool) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		traces, err := getTraceCompletions()
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		completions := make([]string, 0, len(traces))
		for _, t := range traces {
			if activeOnly && !t.inProgress {
				continue
			}
			if !strings.HasPrefix(t.id, toComplete) {
				continue
			}
			// Format: "traceID\tname (type)"
			completions = append(completions, t.id+"\t"+t.description)
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteTraceTypes completes --type values seen among recent traces.
func CompleteTraceTypes(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		types := map[string]bool{index.UnknownType: true}
		if traces, err := getTraceCompletions(); err == nil {
			for _, t := range traces {
				types[t.typ] = true
			}
		}

		completions := make([]string, 0, len(types))
		for typ := range types {
			if strings.HasPrefix(typ, toComplete) {
				completions = append(completions, typ)
			}
		}
		sort.Strings(completions)
		return completions, cobra.ShellCompDirectiveNoFileComp
	})
}

// getTraceCompletions returns recent traces from the server, caching the
// result per server URL.
func getTraceCompletions() ([]traceInfo, error) {
	server, err := shared.ServerURL()
	if err != nil {
		return nil, err
	}

	traceCacheMu.RLock()
	if traceCache != nil && traceCache.server == server && time.Now().Before(traceCache.expiresAt) {
		cached := traceCache.traces
		traceCacheMu.RUnlock()
		return cached, nil
	}
	traceCacheMu.RUnlock()

	traces, err := fetchTraces(server)
	if err != nil {
		return nil, err
	}

	traceCacheMu.Lock()
	traceCache = &traceCacheEntry{
		server:    server,
		traces:    traces,
		expiresAt: time.Now().Add(traceCacheTTL),
	}
	traceCacheMu.Unlock()

	return traces, nil
}

func fetchTraces(server string) ([]traceInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), serverTimeout)
	defer cancel()

	// No retries: a slow shell prompt is worse than no suggestions.
	c, err := client.New(server, client.WithRetry(client.RetryConfig{}))
	if err != nil {
		return nil, err
	}
	resp, err := c.ListTraces(ctx, client.ListOptions{Limit: traceLimit})
	if err != nil {
		return nil, err
	}

	infos := make([]traceInfo, 0, len(resp.Traces))
	for _, t := range resp.Traces {
		e := index.EntryFor(t, config.DefaultTypeAttribute)
		desc := e.Type
		if e.Name != "" {
			desc = e.Name + " (" + e.Type + ")"
		}
		infos = append(infos, traceInfo{
			id:          e.ID,
			typ:         e.Type,
			inProgress:  e.InProgress(),
			description: desc,
		})
	}
	return infos, nil
}
