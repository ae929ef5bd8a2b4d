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

// Package reindex implements the offline index rebuild command.
package reindex

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/tracehub/internal/commands/shared"
	"github.com/tombee/tracehub/internal/config"
	"github.com/tombee/tracehub/internal/log"
	"github.com/tombee/tracehub/internal/tracestore"
	"github.com/tombee/tracehub/internal/tracestore/index"
)

// NewCommand creates the reindex command.
func NewCommand() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the search index from trace records",
		Long: `Scan every trace record in the store directory and replace the
persisted index with entries derived from them. Unreadable records are
skipped and reported in the log.

Run this with the server stopped, or restart the server afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, dataDir)
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Base directory for trace records and the index")

	return cmd
}

func run(cmd *cobra.Command, dataDir string) error {
	cfg, err := config.LoadWith(shared.GetConfigPath(), func(c *config.Config) {
		if dataDir != "" {
			c.DataDir = dataDir
		}
	})
	if err != nil {
		return shared.NewInvalidInputError("failed to load config", err)
	}
	if cfg.Index.InMemoryIndex() {
		return shared.NewInvalidInputError("index.path is in-memory; nothing to rebuild", nil)
	}

	persister, err := index.OpenSQLite(cfg.Index.Path)
	if err != nil {
		return shared.NewFailure("failed to open index", err)
	}
	ix := index.New(index.Options{TypeAttribute: cfg.Index.TypeAttribute, Persister: persister})
	defer ix.Close()

	var cipher *tracestore.Cipher
	if cfg.Store.Encryption {
		cipher, err = tracestore.LoadCipher()
		if err != nil || cipher == nil {
			return shared.NewInvalidInputError(fmt.Sprintf("store encryption requires %s", tracestore.KeyEnv), err)
		}
	}

	logger := log.Discard()
	if shared.GetVerbose() {
		logger = log.New(log.FromEnv())
	}
	store, err := tracestore.Open(tracestore.Options{
		Dir:    cfg.Store.Dir,
		Index:  ix,
		Cipher: cipher,
		Logger: logger,
	})
	if err != nil {
		return shared.NewFailure("failed to open trace store", err)
	}
	defer store.Close()

	start := time.Now()
	n, err := store.Reindex(cmd.Context())
	if err != nil {
		return shared.NewFailure("reindex failed", err)
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(cmd.Context(), out, map[string]any{
			"traces":      n,
			"index":       cfg.Index.Path,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
	st := shared.NewStyler(out)
	fmt.Fprintf(out, "%s indexed %d trace(s) from %s in %s\n",
		st.Render(shared.StatusOK, shared.SymbolOK), n, cfg.Store.Dir, time.Since(start).Round(time.Millisecond))
	return nil
}
