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
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/tombee/tracehub/internal/log"
)

// Watcher refreshes the store when records change on disk outside this
// process, such as another writer sharing the directory or a restore.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher watches the store directory.
func NewWatcher(store *Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	absPath, err := filepath.Abs(store.Dir())
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	if err := fsw.Add(absPath); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch path: %w", err)
	}

	return &Watcher{
		store:   store,
		watcher: fsw,
		logger:  store.logger.With(slog.String("path", absPath)),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins processing events in the background.
func (w *Watcher) Start(ctx context.Context) {
	go w.eventLoop(ctx)
	w.logger.Info("record watcher started")
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh
	return w.watcher.Close()
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("record watcher stopped (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("record watcher stopped")
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				w.logger.Warn("record watcher event channel closed")
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.logger.Warn("record watcher error channel closed")
				return
			}
			w.logger.Error("record watcher error", slog.Any("error", err))
		}
	}
}

// handleEvent refreshes the trace behind a created or modified record.
// Removals are ignored; records are never deleted by the store.
func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	id, ok := recordID(filepath.Base(event.Name))
	if !ok {
		return
	}

	if err := w.store.Refresh(ctx, id); err != nil {
		w.logger.Warn("failed to refresh trace", slog.String(log.TraceIDKey, id), slog.Any("error", err))
		return
	}
	w.logger.Debug("trace refreshed from disk", slog.String(log.TraceIDKey, id))
}
