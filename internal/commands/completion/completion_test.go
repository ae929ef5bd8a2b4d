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
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/tracehub/internal/client"
	"github.com/tombee/tracehub/internal/testing/tracehubtest"
	"github.com/tombee/tracehub/pkg/telemetry"
)

func resetCache() {
	traceCacheMu.Lock()
	traceCache = nil
	traceCacheMu.Unlock()
}

func seed(t *testing.T) *tracehubtest.Server {
	t.Helper()
	resetCache()
	t.Cleanup(resetCache)

	srv := tracehubtest.NewServer(t)
	t.Setenv(client.ServerEnv, srv.URL)

	srv.Write(t, &telemetry.TraceFragment{TraceID: "eval-1", Spans: map[string]telemetry.Span{
		"r": {DisplayName: "scoring", StartTime: 30, EndTime: 40, Attributes: map[string]any{"tracehub:type": "eval"}},
	}})
	srv.Write(t, &telemetry.TraceFragment{TraceID: "eval-2", Spans: map[string]telemetry.Span{
		"r": {StartTime: 20, Attributes: map[string]any{"tracehub:type": "eval"}},
	}})
	srv.Write(t, &telemetry.TraceFragment{TraceID: "job-1", Spans: map[string]telemetry.Span{
		"r": {DisplayName: "nightly", StartTime: 10},
	}})
	return srv
}

func TestCompleteTraceIDs(t *testing.T) {
	seed(t)

	completions, directive := CompleteTraceIDs(nil, nil, "")
	assert.Equal(t, []string{"eval-1\tscoring (eval)", "eval-2\teval", "job-1\tnightly (flow)"}, completions)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)

	completions, _ = CompleteTraceIDs(nil, nil, "job")
	assert.Equal(t, []string{"job-1\tnightly (flow)"}, completions)

	completions, _ = CompleteTraceIDs(nil, []string{"eval-1"}, "")
	assert.Empty(t, completions)
}

func TestCompleteActiveTraceIDs(t *testing.T) {
	seed(t)

	completions, _ := CompleteActiveTraceIDs(nil, nil, "")
	assert.Equal(t, []string{"eval-2\teval", "job-1\tnightly (flow)"}, completions)
}

func TestCompleteTraceTypes(t *testing.T) {
	seed(t)

	completions, _ := CompleteTraceTypes(nil, nil, "")
	assert.Equal(t, []string{"UNKNOWN", "eval", "flow"}, completions)

	completions, _ = CompleteTraceTypes(nil, nil, "e")
	assert.Equal(t, []string{"eval"}, completions)
}

func TestCompletion_CachesPerServer(t *testing.T) {
	srv := seed(t)

	first, _ := CompleteTraceIDs(nil, nil, "")
	require.Len(t, first, 3)

	srv.Write(t, &telemetry.TraceFragment{TraceID: "late", Spans: map[string]telemetry.Span{"r": {StartTime: 50}}})
	cached, _ := CompleteTraceIDs(nil, nil, "")
	assert.Equal(t, first, cached)

	resetCache()
	fresh, _ := CompleteTraceIDs(nil, nil, "")
	assert.Len(t, fresh, 4)
}

func TestCompletion_ServerDown(t *testing.T) {
	resetCache()
	t.Cleanup(resetCache)
	t.Setenv(client.ServerEnv, "http://127.0.0.1:1")

	completions, directive := CompleteTraceIDs(nil, nil, "")
	assert.Empty(t, completions)
	assert.NotNil(t, completions)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)

	types, _ := CompleteTraceTypes(nil, nil, "")
	assert.Equal(t, []string{"UNKNOWN"}, types)
}

func TestSafeCompletionWrapper(t *testing.T) {
	results, directive := SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		panic("boom")
	})
	assert.Empty(t, results)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)

	results, directive = SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return nil, cobra.ShellCompDirectiveDefault
	})
	assert.Equal(t, []string{}, results)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
}

func TestCompletionCommand(t *testing.T) {
	root := &cobra.Command{Use: "tracehub"}
	root.AddCommand(NewCommand())

	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		var buf bytes.Buffer
		root.SetOut(&buf)
		root.SetArgs([]string{"completion", shell})
		require.NoError(t, root.Execute(), shell)
		assert.Contains(t, buf.String(), "tracehub", shell)
	}

	root.SetArgs([]string{"completion", "tcsh"})
	assert.Error(t, root.Execute())
}
