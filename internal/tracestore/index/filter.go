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
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/tombee/tracehub/pkg/errors"
)

// Filter narrows a search. Fields in Eq must all match; entries matching
// any field in Neq are dropped. Expr, when set, must also evaluate to true.
type Filter struct {
	Eq   map[string]any `json:"eq,omitempty"`
	Neq  map[string]any `json:"neq,omitempty"`
	Expr string         `json:"expr,omitempty"`
}

// ParseFilter decodes a JSON filter. Numbers are kept exact.
func ParseFilter(data []byte) (*Filter, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	var f Filter
	if err := dec.Decode(&f); err != nil {
		return nil, &errors.ValidationError{
			Field:      "filter",
			Message:    fmt.Sprintf("invalid filter JSON: %v", err),
			Suggestion: `use {"eq": {...}, "neq": {...}}`,
		}
	}
	return &f, nil
}

// matcher tests one field of an entry against one value.
type matcher func(Entry) bool

// compiled is a Filter resolved against entry fields.
type compiled struct {
	eq   []matcher
	neq  []matcher
	expr *exprProgram
}

func (c *compiled) match(e Entry) (bool, error) {
	for _, m := range c.eq {
		if !m(e) {
			return false, nil
		}
	}
	for _, m := range c.neq {
		if m(e) {
			return false, nil
		}
	}
	if c.expr != nil {
		return c.expr.eval(e)
	}
	return true, nil
}

func compileFilter(f *Filter, exprs *exprCache) (*compiled, error) {
	c := &compiled{}
	if f == nil {
		return c, nil
	}

	var err error
	if c.eq, err = compileMatchers("eq", f.Eq); err != nil {
		return nil, err
	}
	if c.neq, err = compileMatchers("neq", f.Neq); err != nil {
		return nil, err
	}
	if f.Expr != "" {
		if c.expr, err = exprs.compile(f.Expr); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func compileMatchers(op string, fields map[string]any) ([]matcher, error) {
	// Sorted for deterministic error reporting.
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	matchers := make([]matcher, 0, len(names))
	for _, name := range names {
		m, err := fieldMatcher(op+"."+name, name, fields[name])
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}
	return matchers, nil
}

func fieldMatcher(path, field string, value any) (matcher, error) {
	switch field {
	case "id":
		s, err := stringValue(path, value)
		if err != nil {
			return nil, err
		}
		return func(e Entry) bool { return e.ID == s }, nil

	case "name":
		s, err := stringValue(path, value)
		if err != nil {
			return nil, err
		}
		return func(e Entry) bool { return e.Name == s }, nil

	case "type":
		s, err := stringValue(path, value)
		if err != nil {
			return nil, err
		}
		if s == UnknownType {
			return func(e Entry) bool { return !e.TypeSet }, nil
		}
		return func(e Entry) bool { return e.Type == s }, nil

	case "start":
		n, err := intValue(path, value)
		if err != nil {
			return nil, err
		}
		return func(e Entry) bool { return e.Start == n }, nil

	case "end":
		if value == nil {
			return func(e Entry) bool { return e.End == nil }, nil
		}
		n, err := intValue(path, value)
		if err != nil {
			return nil, err
		}
		return func(e Entry) bool { return e.End != nil && *e.End == n }, nil

	case "status":
		n, err := intValue(path, value)
		if err != nil {
			return nil, err
		}
		return func(e Entry) bool { return int64(e.Status) == n }, nil
	}

	return nil, &errors.ValidationError{
		Field:      "filter." + path,
		Message:    fmt.Sprintf("unknown field %q", field),
		Suggestion: "filter on id, type, name, start, end or status",
	}
}

func stringValue(path string, value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", &errors.ValidationError{
			Field:   "filter." + path,
			Message: fmt.Sprintf("expected string, got %T", value),
		}
	}
	return s, nil
}

func intValue(path string, value any) (int64, error) {
	switch v := value.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		if f, err := v.Float64(); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<63 {
			return int64(f), nil
		}
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<63 {
			return int64(v), nil
		}
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	}
	return 0, &errors.ValidationError{
		Field:   "filter." + path,
		Message: fmt.Sprintf("expected integer, got %v", value),
	}
}
