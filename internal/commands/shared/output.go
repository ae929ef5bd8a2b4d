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

package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/tombee/tracehub/internal/jq"
)

var executor = jq.NewExecutor(0, 0)

// EmitJSON writes v as indented JSON, filtered through --jq when set.
// Each jq output is written as its own document.
func EmitJSON(ctx context.Context, w io.Writer, v any) error {
	expr := GetJQ()
	if expr == "" {
		return encode(w, v)
	}

	results, err := executor.Execute(ctx, expr, v)
	if err != nil {
		return NewInvalidInputError("jq", err)
	}
	for _, r := range results {
		// Bare strings print raw, like jq -r.
		if s, ok := r.(string); ok {
			fmt.Fprintln(w, s)
			continue
		}
		if err := encode(w, r); err != nil {
			return err
		}
	}
	return nil
}

// ValidateJQ fails fast on a malformed --jq expression.
func ValidateJQ() error {
	if expr := GetJQ(); expr != "" {
		if _, err := executor.Compile(expr); err != nil {
			return NewInvalidInputError("--jq", err)
		}
	}
	return nil
}

func encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
