// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bureau-foundation/passagent/lib/clock"
)

// DefaultDebounce coalesces the bursts of events editors produce when
// saving a file.
const DefaultDebounce = 100 * time.Millisecond

// Reload is the result of re-reading the config file. Exactly one of
// Config and Err is set.
type Reload struct {
	Config *Config
	Err    error
}

// WatchOptions configures a Watcher.
type WatchOptions struct {
	// Clock drives the debounce timer. Nil means clock.Real().
	Clock clock.Clock

	// Logger receives watcher diagnostics. Nil discards them.
	Logger *slog.Logger

	// Debounce is the quiet period after the last change before the
	// file is re-read. Zero means DefaultDebounce.
	Debounce time.Duration
}

// Watcher re-reads a config file when it changes.
//
// The parent directory is watched rather than the file so that editors
// which replace the file by rename keep being observed.
type Watcher struct {
	path     string
	name     string
	clock    clock.Clock
	logger   *slog.Logger
	debounce time.Duration

	fs      *fsnotify.Watcher
	reloads chan Reload
	done    chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	timer     *clock.Timer
	closed    bool
	closeOnce sync.Once
}

// Watch starts watching path.
func Watch(path string, options WatchOptions) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config watch: path is required")
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if options.Debounce <= 0 {
		options.Debounce = DefaultDebounce
	}

	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config watch: %w", err)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watch: creating watcher: %w", err)
	}
	if err := fs.Add(filepath.Dir(absolute)); err != nil {
		fs.Close()
		return nil, fmt.Errorf("config watch: watching %s: %w", filepath.Dir(absolute), err)
	}

	w := &Watcher{
		path:     absolute,
		name:     filepath.Base(absolute),
		clock:    options.Clock,
		logger:   options.Logger,
		debounce: options.Debounce,
		fs:       fs,
		reloads:  make(chan Reload, 1),
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Reloads delivers the outcome of each debounced change. Only the most
// recent undelivered reload is kept.
func (w *Watcher) Reloads() <-chan Reload { return w.reloads }

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// Close stops the watcher. Pending reloads are discarded.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fs.Close()
		w.wg.Wait()

		w.mu.Lock()
		w.closed = true
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	})
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != w.name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug("config file changed", "path", w.path, "op", event.Op.String())
			w.schedule()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer == nil {
		w.timer = w.clock.AfterFunc(w.debounce, w.reload)
		return
	}
	w.timer.Reset(w.debounce)
}

func (w *Watcher) reload() {
	config, err := LoadFile(w.path)
	result := Reload{Config: config, Err: err}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	for {
		select {
		case w.reloads <- result:
			return
		default:
		}
		// Replace an undelivered reload with the newer one.
		select {
		case <-w.reloads:
		default:
		}
	}
}
