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

// Package index maintains the ordered, deduplicated summary of every stored
// trace used for listing and search.
package index

import (
	"fmt"

	"github.com/tombee/tracehub/pkg/telemetry"
)

// DefaultType is used for traces whose root span carries no type attribute.
const DefaultType = "flow"

// UnknownType matches entries whose root span carried no type attribute.
const UnknownType = "UNKNOWN"

// Entry is the per-trace summary kept in the index.
type Entry struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Name   string `json:"name"`
	Start  int64  `json:"start"`
	End    *int64 `json:"end,omitempty"`
	Status int    `json:"status"`

	// TypeSet is false when Type was defaulted.
	TypeSet bool `json:"-"`
}

// InProgress reports whether the summarized trace has not ended.
func (e Entry) InProgress() bool {
	return e.End == nil
}

// EntryFor derives the summary of t. typeAttr names the root span
// attribute holding the trace type. Trace-level fields win over the root
// span's when set.
func EntryFor(t *telemetry.Trace, typeAttr string) Entry {
	e := Entry{ID: t.TraceID, Type: DefaultType}

	if root, ok := t.Root(); ok {
		if v, ok := root.Attributes[typeAttr]; ok && v != nil {
			if s := fmt.Sprint(v); s != "" {
				e.Type = s
				e.TypeSet = true
			}
		}
		e.Name = root.DisplayName
		e.Start = root.StartTime
		if root.Completed() {
			end := root.EndTime
			e.End = &end
		}
		if root.Status != nil {
			e.Status = int(root.Status.Code)
		}
	}

	if t.DisplayName != "" {
		e.Name = t.DisplayName
	}
	if t.StartTime != 0 {
		e.Start = t.StartTime
	}
	if t.EndTime != 0 {
		end := t.EndTime
		e.End = &end
	}

	return e
}

// before reports whether a sorts ahead of b: newest first, then by id.
func before(a, b Entry) bool {
	if a.Start != b.Start {
		return a.Start > b.Start
	}
	return a.ID < b.ID
}
