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
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tracehuberrors "github.com/tombee/tracehub/pkg/errors"
	"github.com/tombee/tracehub/pkg/telemetry"
)

const typeAttr = "tracehub:type"

func int64p(v int64) *int64 { return &v }

func makeTrace(id, name string, start, end int64, typ string) *telemetry.Trace {
	root := telemetry.Span{TraceID: id, SpanID: "root", DisplayName: name, StartTime: start, EndTime: end}
	if typ != "" {
		root.Attributes = map[string]any{typeAttr: typ}
	}
	return &telemetry.Trace{TraceID: id, Spans: map[string]telemetry.Span{"root": root}}
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestEntryFor(t *testing.T) {
	t.Run("root span fields", func(t *testing.T) {
		tr := makeTrace("1234", "flowA", 100, 200, "eval")
		child := telemetry.Span{SpanID: "child", ParentSpanID: "root", DisplayName: "step", StartTime: 50}
		tr.Spans["child"] = child
		root := tr.Spans["root"]
		root.Status = &telemetry.Status{Code: telemetry.StatusCodeError}
		tr.Spans["root"] = root

		e := EntryFor(tr, typeAttr)

		assert.Equal(t, "1234", e.ID)
		assert.Equal(t, "eval", e.Type)
		assert.True(t, e.TypeSet)
		assert.Equal(t, "flowA", e.Name)
		assert.Equal(t, int64(100), e.Start)
		require.NotNil(t, e.End)
		assert.Equal(t, int64(200), *e.End)
		assert.Equal(t, 2, e.Status)
	})

	t.Run("defaults", func(t *testing.T) {
		e := EntryFor(makeTrace("1234", "flowA", 100, 0, ""), typeAttr)
		assert.Equal(t, DefaultType, e.Type)
		assert.False(t, e.TypeSet)
		assert.Nil(t, e.End, "in-progress root has no end")
		assert.Equal(t, 0, e.Status)
	})

	t.Run("trace level wins", func(t *testing.T) {
		tr := makeTrace("1234", "flowA", 100, 0, "")
		tr.DisplayName = "override"
		tr.StartTime = 90
		tr.EndTime = 500

		e := EntryFor(tr, typeAttr)
		assert.Equal(t, "override", e.Name)
		assert.Equal(t, int64(90), e.Start)
		assert.Equal(t, int64(500), *e.End)
	})

	t.Run("no spans", func(t *testing.T) {
		e := EntryFor(&telemetry.Trace{TraceID: "empty", StartTime: 7}, typeAttr)
		assert.Equal(t, "empty", e.ID)
		assert.Equal(t, int64(7), e.Start)
		assert.Equal(t, DefaultType, e.Type)
	})
}

func TestIndex_AddDeduplicates(t *testing.T) {
	ix := New(Options{TypeAttribute: typeAttr})
	ctx := context.Background()

	_, err := ix.Add(ctx, makeTrace("1234", "flowA", 100, 0, ""))
	require.NoError(t, err)
	_, err = ix.Add(ctx, makeTrace("1234", "flowA", 100, 250, ""))
	require.NoError(t, err)

	res, err := ix.Search(SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	require.NotNil(t, res.Data[0].End)
	assert.Equal(t, int64(250), *res.Data[0].End)
	assert.Nil(t, res.PageLastIndex)
}

func TestIndex_DescendingOrder(t *testing.T) {
	ix := New(Options{})
	ctx := context.Background()

	for i, start := range []int64{300, 100, 500, 200, 400, 300} {
		_, err := ix.Add(ctx, makeTrace(fmt.Sprintf("t%d", i), "n", start, 0, ""))
		require.NoError(t, err)
	}
	// Moving an entry re-sorts it.
	_, err := ix.Add(ctx, makeTrace("t1", "n", 600, 0, ""))
	require.NoError(t, err)

	res, err := ix.Search(SearchOptions{})
	require.NoError(t, err)
	require.Len(t, res.Data, 6)
	for i := 0; i+1 < len(res.Data); i++ {
		assert.GreaterOrEqual(t, res.Data[i].Start, res.Data[i+1].Start)
	}
	assert.Equal(t, []string{"t1", "t2", "t4", "t0", "t5", "t3"}, ids(res.Data))
}

func TestIndex_PaginationCompleteness(t *testing.T) {
	ix := New(Options{TypeAttribute: typeAttr})
	ctx := context.Background()
	for i := 0; i < 23; i++ {
		typ := "flow"
		if i%3 == 0 {
			typ = "eval"
		}
		_, err := ix.Add(ctx, makeTrace(fmt.Sprintf("trace-%02d", i), "n", int64(1000+i*10), 0, typ))
		require.NoError(t, err)
	}

	for _, tc := range []struct {
		name   string
		filter *Filter
	}{
		{"unfiltered", nil},
		{"filtered", &Filter{Neq: map[string]any{"type": "eval"}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			full, err := ix.Search(SearchOptions{Filter: tc.filter})
			require.NoError(t, err)

			for _, k := range []int{1, 4, 5, 23, 50} {
				var pages []Entry
				next := 0
				for {
					res, err := ix.Search(SearchOptions{Limit: k, StartFromIndex: next, Filter: tc.filter})
					require.NoError(t, err)
					assert.LessOrEqual(t, len(res.Data), k)
					pages = append(pages, res.Data...)
					if res.PageLastIndex == nil {
						break
					}
					assert.Equal(t, next+len(res.Data), *res.PageLastIndex)
					next = *res.PageLastIndex
				}
				assert.Equal(t, ids(full.Data), ids(pages), "page size %d", k)
			}
		})
	}
}

func TestIndex_SearchEmpty(t *testing.T) {
	ix := New(Options{})

	res, err := ix.Search(SearchOptions{Limit: 10})
	require.NoError(t, err)
	assert.NotNil(t, res.Data)
	assert.Empty(t, res.Data)
	assert.Nil(t, res.PageLastIndex)

	res, err = ix.Search(SearchOptions{Limit: 10, StartFromIndex: 5})
	require.NoError(t, err)
	assert.Empty(t, res.Data)

	_, err = ix.Search(SearchOptions{StartFromIndex: -1})
	var ve *tracehuberrors.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestIndex_ExactPageHasNoNext(t *testing.T) {
	ix := New(Options{})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		ix.Add(ctx, makeTrace(fmt.Sprintf("t%d", i), "n", int64(i), 0, ""))
	}

	res, err := ix.Search(SearchOptions{Limit: 2, StartFromIndex: 2})
	require.NoError(t, err)
	assert.Len(t, res.Data, 2)
	assert.Nil(t, res.PageLastIndex, "no entries remain past this page")
}

type failingPersister struct {
	putErr error
	puts   int
}

func (f *failingPersister) Put(ctx context.Context, e Entry) error {
	f.puts++
	return f.putErr
}
func (f *failingPersister) Load(ctx context.Context) ([]Entry, error) { return nil, nil }

func (f *failingPersister) Replace(ctx context.Context, entries []Entry) error { return f.putErr }

func (f *failingPersister) Close() error { return nil }

func TestIndex_PersistFailureLeavesIndexUnchanged(t *testing.T) {
	p := &failingPersister{}
	ix := New(Options{Persister: p})
	ctx := context.Background()

	_, err := ix.Add(ctx, makeTrace("keep", "n", 1, 0, ""))
	require.NoError(t, err)

	p.putErr = errors.New("disk full")
	_, err = ix.Add(ctx, makeTrace("lost", "n", 2, 0, ""))

	var se *tracehuberrors.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "lost", se.ID)
	_, ok := ix.Get("lost")
	assert.False(t, ok)
	assert.Equal(t, 1, ix.Len())
	assert.Equal(t, 2, p.puts)
}

func TestIndex_Reset(t *testing.T) {
	var sizes []int
	ix := New(Options{OnChange: func(n int) { sizes = append(sizes, n) }})
	ctx := context.Background()
	ix.Add(ctx, makeTrace("old", "n", 1, 0, ""))

	require.NoError(t, ix.Reset(ctx, []Entry{
		{ID: "a", Start: 1},
		{ID: "b", Start: 2},
		{ID: "a", Start: 3},
	}))

	res, err := ix.Search(SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(res.Data))
	assert.Equal(t, []int{1, 2}, sizes)
}

func TestIndex_ConcurrentAdd(t *testing.T) {
	ix := New(Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("t%d", i)
				ix.Add(ctx, makeTrace(id, "n", int64(i*10+w), 0, ""))
				ix.Search(SearchOptions{Limit: 5})
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 50, ix.Len())
	res, _ := ix.Search(SearchOptions{})
	seen := map[string]bool{}
	for _, e := range res.Data {
		assert.False(t, seen[e.ID], "duplicate entry %s", e.ID)
		seen[e.ID] = true
	}
}
