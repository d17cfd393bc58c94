// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CHANGE NOTIFICATION
// =============================================================================

// Watcher reports when the config file changes on disk. It never reloads
// anything; the loaded config stays as it was, and the caller decides how
// to tell the user.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	changed atomic.Bool
	done    chan struct{}
}

// Watch starts watching the config file. The parent directory is watched
// rather than the file itself, so editors that replace the file via
// rename are still seen.
func Watch(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		watcher: fsw,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.changed.Store(true)
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Changed reports whether the file changed since the last call, and
// clears the flag. Repeated writes between calls collapse into one report.
func (w *Watcher) Changed() bool {
	return w.changed.Swap(false)
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
