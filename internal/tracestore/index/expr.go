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
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tombee/tracehub/pkg/errors"
)

// maxCachedExprs bounds the compiled program cache; it is cleared when full.
const maxCachedExprs = 256

// exprProgram is a compiled boolean filter expression.
type exprProgram struct {
	source  string
	program *vm.Program
}

// exprEnv exposes entry fields to filter expressions.
func exprEnv(e Entry) map[string]any {
	var end any
	if e.End != nil {
		end = *e.End
	}
	return map[string]any{
		"id":     e.ID,
		"type":   e.Type,
		"name":   e.Name,
		"start":  e.Start,
		"end":    end,
		"status": e.Status,
		"typed":  e.TypeSet,
	}
}

func (p *exprProgram) eval(e Entry) (bool, error) {
	out, err := expr.Run(p.program, exprEnv(e))
	if err != nil {
		return false, &errors.ValidationError{
			Field:   "filter.expr",
			Message: fmt.Sprintf("expression evaluation failed: %s", err.Error()),
		}
	}
	b, _ := out.(bool)
	return b, nil
}

// exprCache compiles and caches filter expressions.
type exprCache struct {
	mu    sync.RWMutex
	cache map[string]*exprProgram
}

func newExprCache() *exprCache {
	return &exprCache{cache: make(map[string]*exprProgram)}
}

func (c *exprCache) compile(source string) (*exprProgram, error) {
	c.mu.RLock()
	if p, ok := c.cache[source]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	// Fields are bound at run time; end may be nil.
	program, err := expr.Compile(source,
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, &errors.ValidationError{
			Field:      "filter.expr",
			Message:    fmt.Sprintf("failed to compile expression: %s", err.Error()),
			Suggestion: `e.g. start > 1700000000000 && type != "eval"`,
		}
	}
	p := &exprProgram{source: source, program: program}

	c.mu.Lock()
	if len(c.cache) >= maxCachedExprs {
		c.cache = make(map[string]*exprProgram)
	}
	c.cache[source] = p
	c.mu.Unlock()

	return p, nil
}

func (c *exprCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
