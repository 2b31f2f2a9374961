// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fixture

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/a11ysync/services/a11y/events"
)

// DefaultDebounce is how long the watcher waits for further writes before
// reloading.
const DefaultDebounce = 100 * time.Millisecond

// ReloadHandler receives the events produced by a successful reload.
type ReloadHandler func(evs []events.Event)

// Watcher reloads a fixture file into a Provider when it changes.
//
// The parent directory is watched so that editors replacing the file by
// rename are picked up. A reload that fails to parse keeps the previous
// document.
//
// Thread Safety: Start and Stop are safe to call from any goroutine.
type Watcher struct {
	path     string
	provider *Provider
	handler  ReloadHandler
	debounce time.Duration
	logger   *slog.Logger
	watcher  *fsnotify.Watcher

	changes  chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
	reloads  int
	failures int
}

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce is the quiet period before a reload. Default: 100ms
	Debounce time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewWatcher creates a watcher for path feeding provider. handler may be
// nil.
func NewWatcher(path string, provider *Provider, handler ReloadHandler, opts *WatcherOptions) (*Watcher, error) {
	if opts == nil {
		opts = &WatcherOptions{}
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve fixture path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fixture watcher: %w", err)
	}
	return &Watcher{
		path:     abs,
		provider: provider,
		handler:  handler,
		debounce: debounce,
		logger:   logger.With(slog.String("fixture", abs)),
		watcher:  fw,
		changes:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. It returns once the watch is registered.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop ends watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether the watcher is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// Reloads returns the number of successful and failed reloads.
func (w *Watcher) Reloads() (ok int, failed int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.reloads, w.failures
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			select {
			case w.changes <- struct{}{}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fixture watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.changes:
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		}
	}
}

// reload parses the file and swaps it into the provider.
func (w *Watcher) reload() {
	doc, err := LoadFile(w.path)
	if err != nil {
		w.mu.Lock()
		w.failures++
		w.mu.Unlock()
		w.logger.Warn("fixture reload failed, keeping previous document", slog.String("error", err.Error()))
		return
	}
	evs := w.provider.Replace(doc)

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()

	w.logger.Info("fixture reloaded", slog.Int("events", len(evs)))
	if w.handler != nil && len(evs) > 0 {
		w.handler(evs)
	}
}
