// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EvictFunc is called with the id of a project whose directory was
// removed or renamed away.
type EvictFunc func(projectID string)

// Watcher observes the workspace root and reports deleted projects.
// Only direct children of the root are considered; edits inside a
// project are ignored.
//
// # Thread Safety
//
// Start and Stop are safe to call from any goroutine; Stop is idempotent.
type Watcher struct {
	root    string
	watcher *fsnotify.Watcher
	evict   EvictFunc
	logger  *slog.Logger

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher for root. It does nothing until Start.
func NewWatcher(root string, evict EvictFunc, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	return &Watcher{
		root:    filepath.Clean(root),
		watcher: fw,
		evict:   evict,
		logger:  logger.With("component", "workspace.Watcher"),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching. Events are processed until ctx is done or Stop
// is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.root); err != nil {
		return fmt.Errorf("watching %s: %w", w.root, err)
	}
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if filepath.Dir(event.Name) != w.root {
				continue
			}
			id := filepath.Base(event.Name)
			if ValidateID(id) != nil {
				continue
			}
			w.logger.Info("project directory removed", slog.String("project_id", id))
			if w.evict != nil {
				w.evict(id)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}
