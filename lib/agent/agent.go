// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/passagent/lib/cache"
	"github.com/bureau-foundation/passagent/lib/channel"
	"github.com/bureau-foundation/passagent/lib/clock"
	"github.com/bureau-foundation/passagent/lib/config"
	"github.com/bureau-foundation/passagent/lib/dispatch"
	"github.com/bureau-foundation/passagent/lib/prompt"
	"github.com/bureau-foundation/passagent/lib/status"
)

// Options configures New.
type Options struct {
	// Config supplies the initial settings. Required.
	Config *config.Config

	// Gateway shows prompts. Required.
	Gateway prompt.Gateway

	// Reloads, when set, delivers re-read configurations.
	Reloads <-chan config.Reload

	// Notifier receives status snapshots in addition to the log and the
	// status file. May be nil.
	Notifier status.Notifier

	// AllowPeer overrides the listener's peer check.
	AllowPeer func(channel.Peer) bool

	// Allocate overrides the cache's secret allocation.
	Allocate cache.AllocateFunc

	Clock  clock.Clock
	Logger *slog.Logger
}

// Agent is a running passagent daemon.
type Agent struct {
	clock      clock.Clock
	logger     *slog.Logger
	listener   *channel.Listener
	cache      *cache.Cache
	dispatcher *dispatch.Dispatcher
	gateway    prompt.Gateway
	reloads    <-chan config.Reload
	statusFile *status.FileNotifier
	notifier   status.Notifier

	config       *config.Config
	reapInterval time.Duration
	display      bool
	pid          int

	dirty     bool
	published bool
	last      status.Snapshot

	ready chan struct{}
}

// New binds the agent's socket and assembles its components. A bind
// failure is returned; nothing is left behind.
func New(options Options) (*Agent, error) {
	if options.Config == nil {
		return nil, errors.New("agent: config is required")
	}
	if options.Gateway == nil {
		return nil, errors.New("agent: prompt gateway is required")
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cfg := options.Config

	listener, err := channel.Listen(channel.Options{
		Directory: cfg.RunDirectory,
		Logger:    logger.With("component", "channel"),
		AllowPeer: options.AllowPeer,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	statusPath := cfg.StatusFile
	if statusPath == "" {
		statusPath = filepath.Join(filepath.Dir(listener.Path()), status.DefaultFileName)
	}

	a := &Agent{
		clock:        options.Clock,
		logger:       logger,
		listener:     listener,
		gateway:      options.Gateway,
		reloads:      options.Reloads,
		statusFile:   status.NewFileNotifier(statusPath, logger),
		config:       cfg,
		reapInterval: time.Duration(cfg.ReapInterval),
		display:      cfg.CacheDisplay,
		pid:          os.Getpid(),
		dirty:        true,
		ready:        make(chan struct{}),
	}
	if a.reapInterval <= 0 {
		a.reapInterval = time.Duration(config.Default().ReapInterval)
	}

	notifiers := status.Multi{status.LogNotifier{Logger: logger}, a.statusFile}
	if options.Notifier != nil {
		notifiers = append(notifiers, options.Notifier)
	}
	a.notifier = notifiers

	a.cache = cache.New(cache.Options{
		Settings: cfg.CacheSettings(),
		Clock:    options.Clock,
		Allocate: options.Allocate,
		OnChange: func() { a.dirty = true },
	})
	a.dispatcher = dispatch.New(dispatch.Options{
		Cache:    a.cache,
		Gateway:  options.Gateway,
		Replier:  listener,
		Settings: dispatch.Settings{Enabled: cfg.CacheEnabled},
		Logger:   logger.With("component", "dispatch"),
	})
	return a, nil
}

// SocketPath returns the path clients connect to.
func (a *Agent) SocketPath() string { return a.listener.Path() }

// StatusPath returns the status snapshot file path.
func (a *Agent) StatusPath() string { return a.statusFile.Path() }

// Ready is closed once Run has published the initial status and is
// serving requests.
func (a *Agent) Ready() <-chan struct{} { return a.ready }

// Run serves requests until ctx is cancelled, then shuts down. The
// returned error describes shutdown failures only.
func (a *Agent) Run(ctx context.Context) error {
	ticker := a.clock.NewTicker(a.reapInterval)
	defer ticker.Stop()

	a.logger.Info("agent started",
		"socket", a.listener.Path(),
		"pid", a.pid,
		"cache_enabled", a.config.CacheEnabled,
		"cache_method", a.config.CacheMethod,
	)
	a.publish()
	close(a.ready)

	events := a.listener.Events()
	completions := a.gateway.Completions()
	for {
		select {
		case <-ctx.Done():
			return a.shutdown()

		case event := <-events:
			a.handleEvent(event)

		case completion := <-completions:
			a.dispatcher.Complete(completion)

		case <-ticker.C:
			if evicted := a.cache.Reap(); evicted > 0 {
				a.logger.Debug("evicted expired entries", "count", evicted)
			}

		case reload := <-a.reloads:
			a.applyReload(reload)
		}
		a.publish()
	}
}

func (a *Agent) handleEvent(event channel.Event) {
	switch event.Kind {
	case channel.Accepted:
		if _, err := a.listener.Register(event); err != nil {
			a.logger.Warn("registering connection failed", "error", err)
		}

	case channel.Line:
		request, ok := a.listener.Decode(event)
		if !ok {
			return
		}
		a.logger.Debug("request", "conn", event.Conn, "verb", request.Verb, "key", request.ID)
		a.dispatcher.Handle(event.Conn, request)

	case channel.Closed:
		if event.Err != nil {
			a.logger.Warn("connection failed", "conn", event.Conn, "error", event.Err)
		}
		a.dispatcher.ConnectionDropped(event.Conn)
		a.listener.Release(event.Conn)
	}
}

func (a *Agent) applyReload(reload config.Reload) {
	if reload.Err != nil {
		a.logger.Warn("config reload failed, keeping current settings", "error", reload.Err)
		return
	}
	next := reload.Config
	previous := a.config

	a.cache.Configure(next.CacheSettings())
	a.dispatcher.Configure(dispatch.Settings{Enabled: next.CacheEnabled})
	if a.display != next.CacheDisplay {
		a.display = next.CacheDisplay
		a.dirty = true
	}

	if next.RunDirectory != previous.RunDirectory ||
		next.StatusFile != previous.StatusFile ||
		next.Prompt != previous.Prompt ||
		next.ReapInterval != previous.ReapInterval {
		a.logger.Info("some changed options take effect after restart",
			"options", "run_dir, status_file, prompt, reap_interval")
	}
	a.config = next
	a.logger.Info("config reloaded",
		"cache_enabled", next.CacheEnabled,
		"cache_method", next.CacheMethod,
		"cache_ttl", next.CacheTTL.String(),
		"cache_expire", next.CacheExpire.String(),
		"cache_authorize", next.CacheAuthorize,
		"cache_display", next.CacheDisplay,
	)
}

// publish hands a snapshot to the notifiers when the cache contents,
// the prompt queue or the display setting changed since the last one.
func (a *Agent) publish() {
	_, prompting := a.dispatcher.Active()
	queued := a.dispatcher.Queued()
	if a.published && !a.dirty && prompting == a.last.Prompting && queued == a.last.Queued {
		return
	}
	a.dirty = false

	snapshot := status.Snapshot{
		Visible:   true,
		Count:     a.cache.Count(),
		KeyIDs:    a.cache.KeyIDs(),
		Prompting: prompting,
		Queued:    queued,
		PID:       a.pid,
		Socket:    a.listener.Path(),
	}
	if !a.display {
		snapshot = snapshot.Hidden()
	}
	if a.published && snapshot.Equivalent(a.last) {
		return
	}
	snapshot.UpdatedAt = a.clock.Now()
	a.last = snapshot
	a.published = true
	a.notifier.Notify(snapshot)
}

func (a *Agent) shutdown() error {
	a.logger.Info("shutting down", "cached", a.cache.Count(), "queued", a.dispatcher.Queued())

	a.dispatcher.Shutdown()
	a.cache.ClearAll()

	var errs []error
	if err := a.statusFile.Remove(); err != nil {
		errs = append(errs, err)
	}
	if err := a.listener.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing listener: %w", err))
	}
	return errors.Join(errs...)
}
