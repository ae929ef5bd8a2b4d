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

package reindex

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/tracehub/internal/commands/shared"
	"github.com/tombee/tracehub/internal/log"
	"github.com/tombee/tracehub/internal/tracestore"
	"github.com/tombee/tracehub/internal/tracestore/index"
	"github.com/tombee/tracehub/pkg/telemetry"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "tracehub", SilenceUsage: true, SilenceErrors: true}
	shared.RegisterFlags(root)
	root.AddCommand(NewCommand())

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func clearEnv(t *testing.T) {
	for _, key := range []string{"TRACEHUB_DATA_DIR", "TRACEHUB_STORE_DIR", "TRACEHUB_INDEX_PATH", "TRACEHUB_STORE_ENCRYPTION"} {
		t.Setenv(key, "")
	}
}

func seedRecords(t *testing.T, dir string) {
	t.Helper()
	ix := index.New(index.Options{})
	store, err := tracestore.Open(tracestore.Options{Dir: filepath.Join(dir, "traces"), Index: ix, Logger: log.Discard()})
	require.NoError(t, err)
	for _, frag := range []*telemetry.TraceFragment{
		{TraceID: "r1", Spans: map[string]telemetry.Span{"a": {DisplayName: "one", StartTime: 1, Attributes: map[string]any{"tracehub:type": "eval"}}}},
		{TraceID: "r2", Spans: map[string]telemetry.Span{"a": {DisplayName: "two", StartTime: 2, EndTime: 3}}},
	} {
		_, err := store.Write(context.Background(), frag)
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())
	require.NoError(t, ix.Close())
}

func TestReindex_BuildsPersistedIndex(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	seedRecords(t, dir)

	out, err := execute(t, "reindex", "--data-dir", dir, "--json")
	require.NoError(t, err)

	var res struct {
		Traces int    `json:"traces"`
		Index  string `json:"index"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.Traces)
	assert.Equal(t, filepath.Join(dir, "index.db"), res.Index)

	persister, err := index.OpenSQLite(res.Index)
	require.NoError(t, err)
	ix := index.New(index.Options{Persister: persister})
	defer ix.Close()

	n, err := ix.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	e, ok := ix.Get("r1")
	require.True(t, ok)
	assert.Equal(t, "eval", e.Type)
	assert.Equal(t, "one", e.Name)

	e, ok = ix.Get("r2")
	require.True(t, ok)
	require.NotNil(t, e.End)
	assert.Equal(t, int64(3), *e.End)
}

func TestReindex_TextOutput(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	seedRecords(t, dir)

	out, err := execute(t, "reindex", "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, shared.SymbolOK+" indexed 2 trace(s) from "+filepath.Join(dir, "traces"))
}

func TestReindex_InMemoryIndex(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRACEHUB_INDEX_PATH", ":memory:")

	_, err := execute(t, "reindex", "--data-dir", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidInput, shared.ExitCode(err))
}

func TestReindex_EncryptionWithoutKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRACEHUB_STORE_ENCRYPTION", "true")
	t.Setenv(tracestore.KeyEnv, "")

	_, err := execute(t, "reindex", "--data-dir", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidInput, shared.ExitCode(err))
}
