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

package tracestore

import (
	"context"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_RefreshesExternalWrites(t *testing.T) {
	dir := t.TempDir()
	watched := newTestStore(t, Options{Dir: dir})
	writer := newTestStore(t, Options{Dir: dir})

	w, err := NewWatcher(watched)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	_, err = writer.Write(ctx, frag("external", sp("root", 100, 200)))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, ok := watched.Index().Get("external")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_IgnoresForeignFiles(t *testing.T) {
	s := newTestStore(t, Options{})
	w := &Watcher{store: s, logger: s.logger}

	for _, name := range []string{".a.1.tmp", "notes.txt", "bad id.json"} {
		w.handleEvent(context.Background(), fsnotify.Event{Name: name, Op: fsnotify.Create})
	}
	w.handleEvent(context.Background(), fsnotify.Event{Name: "gone.json", Op: fsnotify.Remove})

	assert.Equal(t, 0, s.Index().Len())
}
