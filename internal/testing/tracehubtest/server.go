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

// Package tracehubtest runs an in-process tracehub API for tests of the
// client and CLI.
package tracehubtest

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tombee/tracehub/internal/broadcast"
	"github.com/tombee/tracehub/internal/ingest"
	"github.com/tombee/tracehub/internal/log"
	"github.com/tombee/tracehub/internal/server/api"
	"github.com/tombee/tracehub/internal/tracestore"
	"github.com/tombee/tracehub/internal/tracestore/index"
	"github.com/tombee/tracehub/pkg/telemetry"
)

// Server is a tracehub API backed by a temporary store.
type Server struct {
	URL   string
	Dir   string
	Store *tracestore.Store
	Subs  *broadcast.Manager
}

// NewServer starts a server that is shut down when the test ends.
func NewServer(t *testing.T) *Server {
	t.Helper()
	logger := log.Discard()
	dir := t.TempDir()

	ix := index.New(index.Options{})
	store, err := tracestore.Open(tracestore.Options{Dir: dir, Index: ix, Logger: logger})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	subs := broadcast.NewManager(broadcast.Options{Logger: logger})
	pipeline := ingest.New(store, subs, ingest.Options{TypeAttribute: ix.TypeAttribute(), Logger: logger})

	router := api.NewRouter(api.RouterConfig{Version: "test"}, api.Deps{
		Traces:        store,
		Ingest:        pipeline,
		Subscriptions: subs,
		Index:         ix,
		Logger:        logger,
	})
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		subs.CloseAll()
		srv.Close()
		store.Close()
		ix.Close()
	})

	return &Server{URL: srv.URL, Dir: dir, Store: store, Subs: subs}
}

// Write merges frag directly into the store, bypassing broadcast.
func (s *Server) Write(t *testing.T, frag *telemetry.TraceFragment) {
	t.Helper()
	if _, err := s.Store.Write(context.Background(), frag); err != nil {
		t.Fatalf("write %s: %v", frag.TraceID, err)
	}
}

// WaitForSubscribers blocks until traceID has n live subscribers.
func (s *Server) WaitForSubscribers(t *testing.T, traceID string, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.Subs.ConnectionCount(traceID) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d subscriber(s) on %s", n, traceID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
