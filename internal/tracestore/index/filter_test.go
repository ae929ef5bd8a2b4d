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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tracehuberrors "github.com/tombee/tracehub/pkg/errors"
	"github.com/tombee/tracehub/pkg/telemetry"
)

func filterFixture(t *testing.T) *Index {
	t.Helper()
	ix := New(Options{TypeAttribute: typeAttr})
	ctx := context.Background()

	traces := []*telemetry.Trace{
		makeTrace("a", "flowA", 500, 600, "flow"),
		makeTrace("b", "flowB", 400, 0, "eval"),
		makeTrace("c", "flowA", 300, 350, ""),
		makeTrace("d", "flowC", 200, 0, ""),
	}
	failed := makeTrace("e", "flowA", 100, 150, "eval")
	root := failed.Spans["root"]
	root.Status = &telemetry.Status{Code: telemetry.StatusCodeError, Message: "boom"}
	failed.Spans["root"] = root
	traces = append(traces, failed)

	for _, tr := range traces {
		_, err := ix.Add(ctx, tr)
		require.NoError(t, err)
	}
	return ix
}

func TestSearch_Filters(t *testing.T) {
	ix := filterFixture(t)

	tests := []struct {
		name   string
		filter string
		want   []string
	}{
		{"eq name", `{"eq":{"name":"flowA"}}`, []string{"a", "c", "e"}},
		{"eq name and type", `{"eq":{"name":"flowA","type":"eval"}}`, []string{"e"}},
		{"neq type", `{"neq":{"type":"eval"}}`, []string{"a", "c", "d"}},
		{"eq and neq", `{"eq":{"name":"flowA"},"neq":{"type":"eval"}}`, []string{"a", "c"}},
		{"default type matches flow", `{"eq":{"type":"flow"}}`, []string{"a", "c", "d"}},
		{"eq unknown type", `{"eq":{"type":"UNKNOWN"}}`, []string{"c", "d"}},
		{"neq unknown type", `{"neq":{"type":"UNKNOWN"}}`, []string{"a", "b", "e"}},
		{"eq status", `{"eq":{"status":2}}`, []string{"e"}},
		{"neq status", `{"neq":{"status":0}}`, []string{"e"}},
		{"eq start", `{"eq":{"start":300}}`, []string{"c"}},
		{"eq end", `{"eq":{"end":600}}`, []string{"a"}},
		{"in progress", `{"eq":{"end":null}}`, []string{"b", "d"}},
		{"completed", `{"neq":{"end":null}}`, []string{"a", "c", "e"}},
		{"eq id", `{"eq":{"id":"d"}}`, []string{"d"}},
		{"same field both sides", `{"eq":{"name":"flowA"},"neq":{"name":"flowA"}}`, []string{}},
		{"nothing matches", `{"eq":{"name":"missing"}}`, []string{}},
		{"empty filter", `{}`, []string{"a", "b", "c", "d", "e"}},
		{"expr", `{"expr":"start >= 300 && status == 0"}`, []string{"a", "b", "c"}},
		{"expr with eq", `{"eq":{"name":"flowA"},"expr":"end != nil && end < 400"}`, []string{"c", "e"}},
		{"expr typed", `{"expr":"!typed"}`, []string{"c", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFilter([]byte(tt.filter))
			require.NoError(t, err)

			res, err := ix.Search(SearchOptions{Filter: f})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(res.Data))
			assert.Nil(t, res.PageLastIndex)
		})
	}
}

func TestSearch_FilteredPagination(t *testing.T) {
	ix := filterFixture(t)
	f := &Filter{Eq: map[string]any{"name": "flowA"}}

	first, err := ix.Search(SearchOptions{Limit: 2, Filter: f})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(first.Data))
	require.NotNil(t, first.PageLastIndex)
	assert.Equal(t, 2, *first.PageLastIndex)

	second, err := ix.Search(SearchOptions{Limit: 2, StartFromIndex: *first.PageLastIndex, Filter: f})
	require.NoError(t, err)
	assert.Equal(t, []string{"e"}, ids(second.Data))
	assert.Nil(t, second.PageLastIndex)
}

func TestFilter_Invalid(t *testing.T) {
	ix := filterFixture(t)

	tests := []struct {
		name      string
		filter    string
		wantField string
	}{
		{"bad json", `{"eq":`, "filter"},
		{"unknown top-level key", `{"gt":{"start":1}}`, "filter"},
		{"unknown field", `{"eq":{"color":"red"}}`, "filter.eq.color"},
		{"string for number", `{"eq":{"start":"100"}}`, "filter.eq.start"},
		{"number for string", `{"neq":{"name":5}}`, "filter.neq.name"},
		{"fractional number", `{"eq":{"status":1.5}}`, "filter.eq.status"},
		{"null start", `{"eq":{"start":null}}`, "filter.eq.start"},
		{"bad expr", `{"expr":"start >"}`, "filter.expr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFilter([]byte(tt.filter))
			if err == nil {
				_, err = ix.Search(SearchOptions{Filter: f})
			}
			var ve *tracehuberrors.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.wantField, ve.Field)
		})
	}
}

func TestExprCache(t *testing.T) {
	c := newExprCache()
	p1, err := c.compile("start > 0")
	require.NoError(t, err)
	p2, err := c.compile("start > 0")
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, 1, c.size())
}
