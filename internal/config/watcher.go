// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// watchDebounce coalesces the burst of events an editor save produces
// into one reload.
const watchDebounce = 250 * time.Millisecond

// Watcher reloads the config file when it changes on disk and hands the
// new Config to the registered callback. A file that fails to load or
// validate is ignored; the previous config stays active.
type Watcher struct {
	path     string
	onChange func(*Config)
	log      zerolog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	pending bool
	timer   *time.Timer
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, onChange func(*Config), log zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:     path,
		onChange: onChange,
		log:      log.With().Str("component", "config-watcher").Logger(),
		watcher:  fw,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Watch starts watching. Events are processed on a background goroutine
// until Close.
func (w *Watcher) Watch() error {
	if err := w.watcher.Add(w.path); err != nil {
		return err
	}
	go w.processEvents()
	return nil
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				w.scheduleReload()
			}
			// Editors that save via rename drop the watch; re-add.
			if event.Op&fsnotify.Rename == fsnotify.Rename ||
				event.Op&fsnotify.Remove == fsnotify.Remove {
				_ = w.watcher.Add(w.path)
				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("config watch error")
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(watchDebounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := LoadFromPath(w.path)
	if err != nil {
		w.log.Warn().Err(err).Msg("ignoring invalid config change")
		return
	}
	w.log.Info().Str("path", w.path).Msg("config reloaded")
	w.onChange(cfg)
}
