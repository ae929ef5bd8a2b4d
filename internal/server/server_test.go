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

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tombee/tracehub/internal/config"
	"github.com/tombee/tracehub/internal/log"
	"github.com/tombee/tracehub/pkg/telemetry"
)

func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.Store.Dir = filepath.Join(dir, "traces")
	cfg.Index.Path = filepath.Join(dir, "index.db")
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.GRPCAddr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return cfg
}

// startServer runs s until the test ends.
func startServer(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	select {
	case <-s.Ready():
	case err := <-errCh:
		cancel()
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("server did not become ready")
	}

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errCh)
	})
}

func baseURL(s *Server) string {
	return "http://" + s.HTTPAddr().String()
}

func TestServer_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	s, err := New(cfg, Options{Version: "test", Logger: log.Discard()})
	require.NoError(t, err)
	startServer(t, s)

	resp, err := http.Post(baseURL(s)+"/api/traces", "application/json",
		bytes.NewBufferString(`{"traceId":"1234","spans":{"abc":{"startTime":100,"endTime":200,"attributes":{"tracehub:type":"eval"}}}}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(baseURL(s) + "/version")
	require.NoError(t, err)
	var version map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&version))
	resp.Body.Close()
	assert.Equal(t, "test", version["version"])

	require.NoError(t, s.Shutdown(context.Background()))

	// A second server over the same directory sees the persisted trace.
	s2, err := New(testConfig(t, dir), Options{Logger: log.Discard()})
	require.NoError(t, err)
	startServer(t, s2)
	t.Cleanup(func() { s2.Shutdown(context.Background()) })

	resp, err = http.Get(baseURL(s2) + "/api/traces?filter=" + url.QueryEscape(`{"eq":{"type":"eval"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Traces []struct {
			TraceID string `json:"traceId"`
		} `json:"traces"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Traces, 1)
	assert.Equal(t, "1234", list.Traces[0].TraceID)
}

func TestServer_RebuildsIndexFromRecords(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.Server.GRPCAddr = ""
	cfg.Index.Path = ":memory:"

	s, err := New(cfg, Options{Logger: log.Discard()})
	require.NoError(t, err)
	_, err = s.store.Write(context.Background(), &telemetry.TraceFragment{
		TraceID: "feed",
		Spans:   map[string]telemetry.Span{"01": {StartTime: 10}},
	})
	require.NoError(t, err)
	require.NoError(t, s.Shutdown(context.Background()))

	s, err = New(cfg, Options{Logger: log.Discard()})
	require.NoError(t, err)
	assert.Equal(t, 0, s.index.Len())
	startServer(t, s)
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	assert.Equal(t, 1, s.index.Len())
	assert.Nil(t, s.GRPCAddr())
}

func TestServer_GRPCExport(t *testing.T) {
	s, err := New(testConfig(t, t.TempDir()), Options{Logger: log.Discard()})
	require.NoError(t, err)
	startServer(t, s)
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	conn, err := grpc.NewClient(s.GRPCAddr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = coltracepb.NewTraceServiceClient(conn).Export(ctx, &coltracepb.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{{
			ScopeSpans: []*tracepb.ScopeSpans{{
				Spans: []*tracepb.Span{{
					TraceId:           []byte{0xbe, 0xef},
					SpanId:            []byte{0x01},
					Name:              "root",
					StartTimeUnixNano: 3_000_000,
				}},
			}},
		}},
	})
	require.NoError(t, err)

	trace, err := s.store.Read(ctx, "beef")
	require.NoError(t, err)
	require.Contains(t, trace.Spans, "01")
	assert.Equal(t, int64(3), trace.Spans["01"].StartTime)
}

func TestServer_EncryptionRequiresKey(t *testing.T) {
	t.Setenv("TRACEHUB_STORE_KEY", "")
	cfg := testConfig(t, t.TempDir())
	cfg.Store.Encryption = true

	_, err := New(cfg, Options{Logger: log.Discard()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRACEHUB_STORE_KEY")
}

func TestServer_StartTwice(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Server.GRPCAddr = ""
	s, err := New(cfg, Options{Logger: log.Discard()})
	require.NoError(t, err)
	startServer(t, s)
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	assert.Error(t, s.Start(context.Background()))
}
