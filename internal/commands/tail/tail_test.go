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

package tail

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/tracehub/internal/client"
	"github.com/tombee/tracehub/internal/commands/shared"
	"github.com/tombee/tracehub/internal/testing/tracehubtest"
	"github.com/tombee/tracehub/pkg/telemetry"
)

type result struct {
	out string
	err error
}

// start runs tail in the background and returns a channel with its output.
func start(t *testing.T, args ...string) <-chan result {
	t.Helper()
	root := &cobra.Command{Use: "tracehub", SilenceUsage: true, SilenceErrors: true}
	shared.RegisterFlags(root)
	root.AddCommand(NewCommand())

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)

	done := make(chan result, 1)
	go func() {
		err := root.ExecuteContext(context.Background())
		done <- result{out: buf.String(), err: err}
	}()
	return done
}

func wait(t *testing.T, done <-chan result) result {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("tail did not exit")
		return result{}
	}
}

func write(t *testing.T, c *client.Client, traceID, spanID string, startMs, endMs int64) {
	t.Helper()
	_, err := c.WriteTrace(context.Background(), &telemetry.TraceFragment{
		TraceID: traceID,
		Spans: map[string]telemetry.Span{
			spanID: {DisplayName: "step " + spanID, StartTime: startMs, EndTime: endMs},
		},
	})
	require.NoError(t, err)
}

func TestTail_Count(t *testing.T) {
	srv := tracehubtest.NewServer(t)
	c, err := client.New(srv.URL)
	require.NoError(t, err)

	done := start(t, "tail", "live", "--count", "2", "--server", srv.URL)
	srv.WaitForSubscribers(t, "live", 1)

	write(t, c, "live", "a", 1000, 0)
	write(t, c, "live", "a", 1000, 1250)

	r := wait(t, done)
	require.NoError(t, r.err)

	lines := strings.Split(strings.TrimSpace(r.out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], shared.SymbolRunning+" step a a")
	assert.Contains(t, lines[1], shared.SymbolOK+" step a a 250ms")
}

func TestTail_JSON(t *testing.T) {
	srv := tracehubtest.NewServer(t)
	c, err := client.New(srv.URL)
	require.NoError(t, err)

	done := start(t, "tail", "live", "--count", "1", "--json", "--server", srv.URL)
	srv.WaitForSubscribers(t, "live", 1)
	write(t, c, "live", "b", 5, 9)

	r := wait(t, done)
	require.NoError(t, r.err)

	var ev telemetry.SpanEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(r.out)), &ev))
	assert.Equal(t, telemetry.EventSpanEnd, ev.Type)
	assert.Equal(t, "live", ev.TraceID)
	assert.Equal(t, "b", ev.Span.SpanID)
}

func TestTail_JQ(t *testing.T) {
	srv := tracehubtest.NewServer(t)
	c, err := client.New(srv.URL)
	require.NoError(t, err)

	done := start(t, "tail", "live", "--count", "1", "--jq", ".span.displayName", "--server", srv.URL)
	srv.WaitForSubscribers(t, "live", 1)
	write(t, c, "live", "c", 5, 0)

	r := wait(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, "step c\n", r.out)
}

func TestTail_ServerCloses(t *testing.T) {
	srv := tracehubtest.NewServer(t)
	c, err := client.New(srv.URL)
	require.NoError(t, err)

	done := start(t, "tail", "live", "--server", srv.URL)
	srv.WaitForSubscribers(t, "live", 1)

	n, err := c.CloseSubscribers(context.Background(), "live")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	r := wait(t, done)
	assert.NoError(t, r.err)
}

func TestTail_InvalidInput(t *testing.T) {
	srv := tracehubtest.NewServer(t)

	r := wait(t, start(t, "tail", "live", "--count=-1", "--server", srv.URL))
	assert.Equal(t, shared.ExitInvalidInput, shared.ExitCode(r.err))

	r = wait(t, start(t, "tail", "bad id", "--server", srv.URL))
	require.Error(t, r.err)
	assert.Equal(t, shared.ExitInvalidInput, shared.ExitCode(r.err))
}
