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

package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tombee/tracehub/pkg/errors"
	"github.com/tombee/tracehub/pkg/telemetry"
)

// Persister stores entries so the index survives restarts. The persisted
// copy is a cache and may always be rebuilt from trace records.
type Persister interface {
	// Put upserts a single entry.
	Put(ctx context.Context, e Entry) error
	// Load returns every persisted entry.
	Load(ctx context.Context) ([]Entry, error)
	// Replace swaps the full persisted set for entries.
	Replace(ctx context.Context, entries []Entry) error
	Close() error
}

// Options configures an Index.
type Options struct {
	// TypeAttribute is the root span attribute naming the trace type.
	TypeAttribute string

	// Persister backs the index; nil keeps it in memory only.
	Persister Persister

	// OnChange, if set, is called with the entry count after each mutation.
	OnChange func(size int)
}

// Index is the process-wide search index. It is safe for concurrent use;
// Add and Reset are the only mutators.
type Index struct {
	mu     sync.RWMutex
	sorted []Entry
	byID   map[string]Entry
	opts   Options
	exprs  *exprCache
}

// New creates an empty index.
func New(opts Options) *Index {
	if opts.TypeAttribute == "" {
		opts.TypeAttribute = "tracehub:type"
	}
	return &Index{
		byID:  make(map[string]Entry),
		opts:  opts,
		exprs: newExprCache(),
	}
}

// TypeAttribute returns the attribute used to derive entry types.
func (ix *Index) TypeAttribute() string {
	return ix.opts.TypeAttribute
}

// Load fills the index from its persister and reports how many entries
// were loaded. It is a no-op without a persister.
func (ix *Index) Load(ctx context.Context) (int, error) {
	if ix.opts.Persister == nil {
		return 0, nil
	}
	entries, err := ix.opts.Persister.Load(ctx)
	if err != nil {
		return 0, &errors.StorageError{Op: "index load", Cause: err}
	}
	ix.replaceMemory(entries)
	return len(entries), nil
}

// Add derives the entry for t and upserts it. The entry is persisted before
// it becomes visible; a persistence failure leaves the index unchanged.
func (ix *Index) Add(ctx context.Context, t *telemetry.Trace) (Entry, error) {
	e := EntryFor(t, ix.opts.TypeAttribute)
	if err := ix.Put(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Put upserts a precomputed entry.
func (ix *Index) Put(ctx context.Context, e Entry) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.opts.Persister != nil {
		if err := ix.opts.Persister.Put(ctx, e); err != nil {
			return &errors.StorageError{Op: "index", ID: e.ID, Cause: err}
		}
	}

	if old, ok := ix.byID[e.ID]; ok {
		i := ix.position(old)
		ix.sorted = append(ix.sorted[:i], ix.sorted[i+1:]...)
	}
	i := ix.position(e)
	ix.sorted = append(ix.sorted, Entry{})
	copy(ix.sorted[i+1:], ix.sorted[i:])
	ix.sorted[i] = e
	ix.byID[e.ID] = e

	ix.changed()
	return nil
}

// Reset replaces the whole index, persisting entries first.
func (ix *Index) Reset(ctx context.Context, entries []Entry) error {
	if ix.opts.Persister != nil {
		if err := ix.opts.Persister.Replace(ctx, entries); err != nil {
			return &errors.StorageError{Op: "index rebuild", Cause: err}
		}
	}
	ix.replaceMemory(entries)
	return nil
}

func (ix *Index) replaceMemory(entries []Entry) {
	byID := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	sorted := make([]Entry, 0, len(byID))
	for _, e := range byID {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool { return before(sorted[i], sorted[j]) })

	ix.mu.Lock()
	ix.byID = byID
	ix.sorted = sorted
	ix.changed()
	ix.mu.Unlock()
}

// position returns the sorted insertion point for e. Callers hold mu.
func (ix *Index) position(e Entry) int {
	return sort.Search(len(ix.sorted), func(i int) bool {
		return !before(ix.sorted[i], e)
	})
}

func (ix *Index) changed() {
	if ix.opts.OnChange != nil {
		ix.opts.OnChange(len(ix.sorted))
	}
}

// Get returns the entry for id.
func (ix *Index) Get(id string) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.byID[id]
	return e, ok
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.sorted)
}

// SearchOptions selects a page of entries.
type SearchOptions struct {
	// Limit caps the page size; zero or negative returns every remaining entry.
	Limit int
	// StartFromIndex is the offset into the sorted, filtered sequence.
	StartFromIndex int

	Filter *Filter
}

// SearchResult is one page of entries.
type SearchResult struct {
	Data []Entry `json:"data"`
	// PageLastIndex is the offset of the next page, nil on the last page.
	PageLastIndex *int `json:"pageLastIndex,omitempty"`
}

// Search returns entries newest first. Offsets refer to positions after
// filtering.
func (ix *Index) Search(opts SearchOptions) (SearchResult, error) {
	if opts.StartFromIndex < 0 {
		return SearchResult{}, &errors.ValidationError{
			Field:   "startFromIndex",
			Message: fmt.Sprintf("must not be negative, got %d", opts.StartFromIndex),
		}
	}
	filter, err := compileFilter(opts.Filter, ix.exprs)
	if err != nil {
		return SearchResult{}, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	result := SearchResult{Data: []Entry{}}
	matched := 0
	for _, e := range ix.sorted {
		ok, err := filter.match(e)
		if err != nil {
			return SearchResult{}, err
		}
		if !ok {
			continue
		}
		if matched < opts.StartFromIndex {
			matched++
			continue
		}
		if opts.Limit > 0 && len(result.Data) == opts.Limit {
			next := opts.StartFromIndex + len(result.Data)
			result.PageLastIndex = &next
			break
		}
		result.Data = append(result.Data, e)
		matched++
	}

	return result, nil
}

// Close releases the persister.
func (ix *Index) Close() error {
	if ix.opts.Persister == nil {
		return nil
	}
	return ix.opts.Persister.Close()
}
