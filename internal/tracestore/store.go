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

// Package tracestore persists traces as one record per trace id and keeps
// the search index in step with every write.
package tracestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/tombee/tracehub/internal/log"
	"github.com/tombee/tracehub/internal/metrics"
	"github.com/tombee/tracehub/internal/tracestore/index"
	"github.com/tombee/tracehub/pkg/errors"
	"github.com/tombee/tracehub/pkg/telemetry"
)

// recordExt is the file extension of trace records.
const recordExt = ".json"

// Options configures a Store.
type Options struct {
	// Dir holds the trace records. It is created if missing.
	Dir string

	// Index receives an entry for every write. Required.
	Index *index.Index

	// Cipher encrypts records at rest; nil stores plaintext JSON.
	Cipher *Cipher

	// CacheMaxCost bounds the read cache in spans. Zero disables it.
	CacheMaxCost int64

	Logger *slog.Logger
}

// Store is the durable per-trace record store.
type Store struct {
	dir    string
	index  *index.Index
	cipher *Cipher
	cache  *ristretto.Cache
	locks  *keyedMutex
	logger *slog.Logger
}

// WriteResult describes the outcome of a write.
type WriteResult struct {
	// Trace is the merged trace as persisted.
	Trace *telemetry.Trace
	// Changed lists spans inserted or replaced by the write.
	Changed []telemetry.Span
	// Entry is the index summary after the write.
	Entry index.Entry
}

// Open creates a Store rooted at opts.Dir.
func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	if opts.Index == nil {
		return nil, fmt.Errorf("store index is required")
	}
	if err := os.MkdirAll(opts.Dir, 0700); err != nil {
		return nil, &errors.StorageError{Op: "open", Cause: err}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		dir:    opts.Dir,
		index:  opts.Index,
		cipher: opts.Cipher,
		locks:  newKeyedMutex(),
		logger: logger.With(slog.String("component", "tracestore")),
	}

	if opts.CacheMaxCost > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: opts.CacheMaxCost * 10,
			MaxCost:     opts.CacheMaxCost,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create read cache: %w", err)
		}
		s.cache = cache
	}

	return s, nil
}

// Dir returns the record directory.
func (s *Store) Dir() string {
	return s.dir
}

// Index returns the search index the store maintains.
func (s *Store) Index() *index.Index {
	return s.index
}

// Write merges the fragment into the stored trace, persists the result and
// updates the index before returning. Writes to the same trace id are
// serialized. The fragment is normalized in place.
func (s *Store) Write(ctx context.Context, frag *telemetry.TraceFragment) (*WriteResult, error) {
	start := time.Now()

	frag.Normalize()
	if err := frag.Validate(); err != nil {
		metrics.RecordWrite("invalid", time.Since(start))
		return nil, err
	}

	res, err := s.write(ctx, frag)
	if err != nil {
		metrics.RecordWrite("error", time.Since(start))
		return nil, err
	}

	metrics.RecordWrite("ok", time.Since(start))
	s.logger.Debug("trace written",
		slog.String(log.TraceIDKey, frag.TraceID),
		slog.Int("spans", len(res.Trace.Spans)),
		slog.Int("changed", len(res.Changed)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}

func (s *Store) write(ctx context.Context, frag *telemetry.TraceFragment) (*WriteResult, error) {
	id := frag.TraceID
	unlock := s.locks.Lock(id)
	defer unlock()

	existing, prevRaw, err := s.load(id)
	if err != nil && !errors.IsNotFound(err) {
		return nil, err
	}

	merged, changed := telemetry.Merge(existing, frag)

	data, err := s.encode(merged)
	if err != nil {
		return nil, &errors.StorageError{Op: "encode", ID: id, Cause: err}
	}
	if err := s.writeFile(id, data); err != nil {
		return nil, &errors.StorageError{Op: "write", ID: id, Cause: err}
	}

	entry, err := s.index.Add(ctx, merged)
	if err != nil {
		// Restore the previous record so disk and index agree.
		if rerr := s.restore(id, prevRaw); rerr != nil {
			s.logger.Error("failed to roll back record after index failure",
				slog.String(log.TraceIDKey, id), slog.Any("error", rerr))
		}
		return nil, err
	}

	s.cacheSet(merged)
	return &WriteResult{Trace: merged, Changed: changed, Entry: entry}, nil
}

// Read returns the trace for id, or a *errors.NotFoundError. A record that
// cannot be decoded yields an *errors.IntegrityError. The returned trace is
// shared and must not be modified.
func (s *Store) Read(ctx context.Context, id string) (*telemetry.Trace, error) {
	if err := telemetry.ValidateTraceID(id); err != nil {
		return nil, err
	}
	if t, ok := s.cacheGet(id); ok {
		return t, nil
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	if t, ok := s.cacheGet(id); ok {
		return t, nil
	}
	t, _, err := s.load(id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(t)
	return t, nil
}

// ListOptions selects a page of traces.
type ListOptions struct {
	Limit             int
	ContinuationToken string
	Filter            *index.Filter
}

// ListResult is one page of hydrated traces, most recent first.
type ListResult struct {
	Traces            []*telemetry.Trace `json:"traces"`
	ContinuationToken string             `json:"continuationToken,omitempty"`
}

// List searches the index and hydrates each entry. Entries whose record
// is missing or corrupt are skipped.
func (s *Store) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	offset, err := DecodeToken(opts.ContinuationToken)
	if err != nil {
		return nil, err
	}

	page, err := s.index.Search(index.SearchOptions{
		Limit:          opts.Limit,
		StartFromIndex: offset,
		Filter:         opts.Filter,
	})
	if err != nil {
		return nil, err
	}

	out := &ListResult{Traces: make([]*telemetry.Trace, 0, len(page.Data))}
	for _, e := range page.Data {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := s.Read(ctx, e.ID)
		if err != nil {
			if errors.IsNotFound(err) || errors.IsIntegrity(err) {
				s.logger.Warn("skipping unreadable trace", slog.String(log.TraceIDKey, e.ID), slog.Any("error", err))
				continue
			}
			return nil, err
		}
		out.Traces = append(out.Traces, t)
	}
	if page.PageLastIndex != nil {
		out.ContinuationToken = EncodeToken(*page.PageLastIndex)
	}

	return out, nil
}

// Reindex rebuilds the index from the records on disk and returns the
// number of traces indexed. Corrupt records are skipped.
func (s *Store) Reindex(ctx context.Context) (int, error) {
	ids, err := s.recordIDs()
	if err != nil {
		return 0, &errors.StorageError{Op: "reindex", Cause: err}
	}

	entries := make([]index.Entry, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		t, _, err := s.load(id)
		if err != nil {
			s.logger.Warn("skipping trace during reindex", slog.String(log.TraceIDKey, id), slog.Any("error", err))
			continue
		}
		entries = append(entries, index.EntryFor(t, s.index.TypeAttribute()))
	}

	if err := s.index.Reset(ctx, entries); err != nil {
		return 0, err
	}
	s.logger.Info("index rebuilt", slog.Int("traces", len(entries)))
	return len(entries), nil
}

// Refresh reloads the record for id from disk, typically after another
// process wrote it, and updates the cache and index to match.
func (s *Store) Refresh(ctx context.Context, id string) error {
	if err := telemetry.ValidateTraceID(id); err != nil {
		return err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	t, _, err := s.load(id)
	if err != nil {
		s.cacheDel(id)
		return err
	}

	entry := index.EntryFor(t, s.index.TypeAttribute())
	if current, ok := s.index.Get(id); !ok || !sameEntry(current, entry) {
		if err := s.index.Put(ctx, entry); err != nil {
			return err
		}
	}
	s.cacheSet(t)
	return nil
}

// Close releases the read cache. The index is owned by the caller.
func (s *Store) Close() error {
	if s.cache != nil {
		s.cache.Close()
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+recordExt)
}

// load reads and decodes the record for id, returning the raw bytes too.
func (s *Store) load(id string) (*telemetry.Trace, []byte, error) {
	raw, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, &errors.NotFoundError{Resource: "trace", ID: id}
		}
		return nil, nil, &errors.StorageError{Op: "read", ID: id, Cause: err}
	}

	t, err := s.decode(id, raw)
	if err != nil {
		return nil, nil, &errors.IntegrityError{ID: id, Cause: err}
	}
	return t, raw, nil
}

func (s *Store) encode(t *telemetry.Trace) ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	if s.cipher != nil {
		return s.cipher.Seal(t.TraceID, data)
	}
	return data, nil
}

func (s *Store) decode(id string, raw []byte) (*telemetry.Trace, error) {
	data := raw
	if s.cipher != nil {
		if !IsSealed(raw) {
			return nil, fmt.Errorf("record is not encrypted")
		}
		var err error
		if data, err = s.cipher.Open(id, raw); err != nil {
			return nil, err
		}
	} else if IsSealed(raw) {
		return nil, fmt.Errorf("record is encrypted but no key is configured (set %s)", KeyEnv)
	}

	var t telemetry.Trace
	if err := telemetry.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse record: %w", err)
	}
	if t.TraceID != id {
		return nil, fmt.Errorf("record holds trace %q", t.TraceID)
	}
	if t.Spans == nil {
		t.Spans = map[string]telemetry.Span{}
	}
	return &t, nil
}

// writeFile replaces the record atomically via a temp file and rename.
func (s *Store) writeFile(id string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+id+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path(id)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// restore puts back prev, or removes the record when there was none.
func (s *Store) restore(id string, prev []byte) error {
	if prev == nil {
		if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return s.writeFile(id, prev)
}

// recordIDs lists the trace ids that have a record on disk.
func (s *Store) recordIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.Type()&fs.ModeType != 0 {
			continue
		}
		if id, ok := recordID(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// recordID maps a file name to its trace id. Temp files and foreign files
// are rejected.
func recordID(name string) (string, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
		return "", false
	}
	id := strings.TrimSuffix(name, recordExt)
	if telemetry.ValidateTraceID(id) != nil {
		return "", false
	}
	return id, true
}

func (s *Store) cacheGet(id string) (*telemetry.Trace, bool) {
	if s.cache == nil {
		return nil, false
	}
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, false
	}
	t, ok := v.(*telemetry.Trace)
	return t, ok
}

// cacheSet stores t at a cost of one per span. Callers hold the trace lock.
// New keys are admitted asynchronously, so Wait drains the buffer before the
// lock is released: the next Set for the key then finds it stored and
// replaces it in place instead of being rejected as a duplicate insert.
func (s *Store) cacheSet(t *telemetry.Trace) {
	if s.cache == nil {
		return
	}
	if s.cache.Set(t.TraceID, t, int64(len(t.Spans))+1) {
		s.cache.Wait()
	}
}

func (s *Store) cacheDel(id string) {
	if s.cache != nil {
		s.cache.Del(id)
	}
}

func sameEntry(a, b index.Entry) bool {
	if a.ID != b.ID || a.Type != b.Type || a.TypeSet != b.TypeSet || a.Name != b.Name ||
		a.Start != b.Start || a.Status != b.Status {
		return false
	}
	if (a.End == nil) != (b.End == nil) {
		return false
	}
	return a.End == nil || *a.End == *b.End
}
