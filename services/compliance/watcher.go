// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// SnapshotHolder hands out the current knowledge snapshot and atomically
// swaps in a new one on reload. Readers always see a complete snapshot;
// an in-flight analysis keeps the snapshot it started with.
//
// Thread Safety: safe for concurrent use.
type SnapshotHolder struct {
	current atomic.Pointer[KnowledgeBase]
}

// NewSnapshotHolder creates a holder seeded with an initial snapshot.
func NewSnapshotHolder(kb *KnowledgeBase) *SnapshotHolder {
	h := &SnapshotHolder{}
	h.current.Store(kb)
	return h
}

// Snapshot returns the current knowledge base.
func (h *SnapshotHolder) Snapshot() *KnowledgeBase {
	return h.current.Load()
}

// Swap replaces the current snapshot.
func (h *SnapshotHolder) Swap(kb *KnowledgeBase) {
	h.current.Store(kb)
}

// WatchKnowledgeFile reloads the holder's snapshot whenever the rule file
// changes on disk.
//
// # Description
//
// Starts a goroutine that watches the file with fsnotify and reparses it on
// write/create events. A malformed edit is logged and skipped; the previous
// snapshot stays active, so a bad deploy cannot take the analyzer down.
// The goroutine exits when ctx is cancelled.
//
// # Inputs
//
//   - ctx: cancels the watch.
//   - path: YAML rule file to watch.
//   - filter: category filter applied on each reload (nil keeps all).
//   - holder: receives the swapped snapshots.
//   - logger: reload outcomes. Must not be nil.
//
// # Outputs
//
//   - error: non-nil only if the watch cannot be established.
func WatchKnowledgeFile(ctx context.Context, path string, filter []Category, holder *SnapshotHolder, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create knowledge watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch knowledge file %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				kb, err := LoadKnowledgeBase(path, filter)
				if err != nil {
					logger.Warn("knowledge reload failed, keeping previous snapshot",
						"path", path, "error", err.Error())
					continue
				}
				holder.Swap(kb)
				logger.Info("knowledge snapshot reloaded",
					"path", path, "entries", len(kb.Entries()))

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("knowledge watcher error", "error", err.Error())
			}
		}
	}()

	return nil
}
