// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/passagent/lib/agentclient"
	"github.com/bureau-foundation/passagent/lib/clock"
	"github.com/bureau-foundation/passagent/lib/config"
	"github.com/bureau-foundation/passagent/lib/dispatch"
	"github.com/bureau-foundation/passagent/lib/prompt"
	"github.com/bureau-foundation/passagent/lib/secret"
	"github.com/bureau-foundation/passagent/lib/slot"
	"github.com/bureau-foundation/passagent/lib/status"
	"github.com/bureau-foundation/passagent/lib/testutil"
)

const timeout = 5 * time.Second

type shown struct {
	ticket  slot.Handle
	kind    prompt.Kind
	request prompt.Request
}

// scriptedGateway reports prompts on channels so the test goroutine can
// answer them while the agent loop runs.
type scriptedGateway struct {
	shows       chan shown
	closed      chan slot.Handle
	completions chan prompt.Completion
}

func newScriptedGateway() *scriptedGateway {
	return &scriptedGateway{
		shows:       make(chan shown, 16),
		closed:      make(chan slot.Handle, 16),
		completions: make(chan prompt.Completion),
	}
}

func (g *scriptedGateway) ShowPassphrase(ticket slot.Handle, request prompt.Request) error {
	g.shows <- shown{ticket: ticket, kind: prompt.Passphrase, request: request}
	return nil
}

func (g *scriptedGateway) ShowAuthorization(ticket slot.Handle, request prompt.Request) error {
	g.shows <- shown{ticket: ticket, kind: prompt.Authorization, request: request}
	return nil
}

func (g *scriptedGateway) Close(ticket slot.Handle) { g.closed <- ticket }

func (g *scriptedGateway) Completions() <-chan prompt.Completion { return g.completions }

type channelNotifier chan status.Snapshot

func (n channelNotifier) Notify(snapshot status.Snapshot) {
	select {
	case n <- snapshot:
	default:
	}
}

type harness struct {
	agent     *Agent
	gateway   *scriptedGateway
	snapshots channelNotifier
	reloads   chan config.Reload
	cancel    context.CancelFunc
	done      chan error
}

func start(t *testing.T, clk clock.Clock, modify func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.RunDirectory = testutil.SocketDir(t)
	cfg.CacheMethod = "heap"
	if modify != nil {
		modify(cfg)
	}

	h := &harness{
		gateway:   newScriptedGateway(),
		snapshots: make(channelNotifier, 256),
		reloads:   make(chan config.Reload),
		done:      make(chan error, 1),
	}
	agent, err := New(Options{
		Config:   cfg,
		Gateway:  h.gateway,
		Reloads:  h.reloads,
		Notifier: h.snapshots,
		Clock:    clk,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	h.agent = agent

	ctx, cancel := context.WithCancel(t.Context())
	h.cancel = cancel
	go func() { h.done <- agent.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(timeout):
			t.Error("agent did not stop")
		}
	})
	testutil.RequireClosed(t, agent.Ready(), timeout, "agent ready")
	return h
}

func (h *harness) dial(t *testing.T) *agentclient.Client {
	t.Helper()
	client, err := agentclient.Dial(t.Context(), h.agent.SocketPath())
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

type result struct {
	secret string
	err    error
}

// getPass issues a GETPASS in the background.
func getPass(t *testing.T, client *agentclient.Client, request agentclient.GetPassRequest) <-chan result {
	results := make(chan result, 1)
	go func() {
		buffer, err := client.GetPass(t.Context(), request)
		if err != nil {
			results <- result{err: err}
			return
		}
		results <- result{secret: buffer.String()}
		buffer.Close()
	}()
	return results
}

func (h *harness) answer(t *testing.T, ticket slot.Handle, value string, pin bool) {
	t.Helper()
	buffer, err := secret.CopyHeap([]byte(value))
	if err != nil {
		t.Fatalf("allocating secret: %v", err)
	}
	testutil.RequireSend(t, h.gateway.completions, prompt.Completion{
		Ticket: ticket,
		Kind:   prompt.Passphrase,
		Secret: buffer,
		Pin:    pin,
	}, timeout, "completing prompt")
}

func (h *harness) waitForSnapshot(t *testing.T, match func(status.Snapshot) bool) status.Snapshot {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case snapshot := <-h.snapshots:
			if match(snapshot) {
				return snapshot
			}
		case <-deadline:
			t.Fatal("timed out waiting for a matching status snapshot")
		}
	}
}

func requireNoShow(t *testing.T, gateway *scriptedGateway) {
	t.Helper()
	select {
	case show := <-gateway.shows:
		t.Fatalf("unexpected prompt for %q", show.request.KeyID)
	default:
	}
}

func TestAgent_PromptThenCacheHit(t *testing.T) {
	h := start(t, nil, nil)
	client := h.dial(t)

	pending := getPass(t, client, agentclient.GetPassRequest{ID: "key-1", Description: "Unlock key-1"})
	show := testutil.RequireReceive(t, h.gateway.shows, timeout, "waiting for prompt")
	if show.kind != prompt.Passphrase || show.request.KeyID != "key-1" || show.request.Description != "Unlock key-1" {
		t.Fatalf("unexpected prompt %+v", show)
	}
	h.answer(t, show.ticket, "correct horse", false)

	got := testutil.RequireReceive(t, pending, timeout, "waiting for reply")
	if got.err != nil || got.secret != "correct horse" {
		t.Fatalf("GetPass() = %q, %v", got.secret, got.err)
	}

	again := testutil.RequireReceive(t, getPass(t, client, agentclient.GetPassRequest{ID: "key-1"}), timeout, "waiting for cached reply")
	if again.err != nil || again.secret != "correct horse" {
		t.Fatalf("cached GetPass() = %q, %v", again.secret, again.err)
	}
	requireNoShow(t, h.gateway)

	snapshot := h.waitForSnapshot(t, func(s status.Snapshot) bool { return s.Count == 1 })
	if !slices.Equal(snapshot.KeyIDs, []string{"key-1"}) || !snapshot.Visible {
		t.Errorf("snapshot = %+v", snapshot)
	}

	written, err := status.ReadFile(h.agent.StatusPath())
	if err != nil {
		t.Fatalf("reading status file: %v", err)
	}
	if written.Count != 1 || written.Socket != h.agent.SocketPath() {
		t.Errorf("status file = %+v", written)
	}
}

func TestAgent_SerializesPrompts(t *testing.T) {
	h := start(t, nil, nil)
	first := h.dial(t)
	second := h.dial(t)

	firstResult := getPass(t, first, agentclient.GetPassRequest{ID: "a"})
	firstShow := testutil.RequireReceive(t, h.gateway.shows, timeout, "waiting for first prompt")

	secondResult := getPass(t, second, agentclient.GetPassRequest{ID: "b"})
	h.waitForSnapshot(t, func(s status.Snapshot) bool { return s.Prompting && s.Queued == 1 })
	requireNoShow(t, h.gateway)

	h.answer(t, firstShow.ticket, "alpha", false)
	if got := testutil.RequireReceive(t, firstResult, timeout, "first reply"); got.secret != "alpha" {
		t.Fatalf("first GetPass() = %q, %v", got.secret, got.err)
	}

	secondShow := testutil.RequireReceive(t, h.gateway.shows, timeout, "waiting for second prompt")
	if secondShow.request.KeyID != "b" {
		t.Fatalf("second prompt for %q, want b", secondShow.request.KeyID)
	}
	h.answer(t, secondShow.ticket, "bravo", false)
	if got := testutil.RequireReceive(t, secondResult, timeout, "second reply"); got.secret != "bravo" {
		t.Fatalf("second GetPass() = %q, %v", got.secret, got.err)
	}
}

func TestAgent_CancelledPrompt(t *testing.T) {
	h := start(t, nil, nil)
	client := h.dial(t)

	pending := getPass(t, client, agentclient.GetPassRequest{ID: "k"})
	show := testutil.RequireReceive(t, h.gateway.shows, timeout, "waiting for prompt")
	testutil.RequireSend(t, h.gateway.completions, prompt.Completion{Ticket: show.ticket, Kind: prompt.Passphrase}, timeout, "cancelling")

	got := testutil.RequireReceive(t, pending, timeout, "waiting for reply")
	if !agentclient.IsReason(got.err, dispatch.ReasonCancelled) {
		t.Fatalf("GetPass() error = %v, want cancelled", got.err)
	}
}

func TestAgent_DisconnectClosesActivePrompt(t *testing.T) {
	h := start(t, nil, nil)
	client := h.dial(t)

	getPass(t, client, agentclient.GetPassRequest{ID: "k"})
	show := testutil.RequireReceive(t, h.gateway.shows, timeout, "waiting for prompt")
	h.waitForSnapshot(t, func(s status.Snapshot) bool { return s.Prompting })
	client.Close()

	closed := testutil.RequireReceive(t, h.gateway.closed, timeout, "waiting for prompt close")
	if closed != show.ticket {
		t.Errorf("closed ticket %v, want %v", closed, show.ticket)
	}
	h.waitForSnapshot(t, func(s status.Snapshot) bool { return !s.Prompting && s.Queued == 0 })
}

func TestAgent_ClearPass(t *testing.T) {
	h := start(t, nil, nil)
	client := h.dial(t)

	pending := getPass(t, client, agentclient.GetPassRequest{ID: "k"})
	show := testutil.RequireReceive(t, h.gateway.shows, timeout, "waiting for prompt")
	h.answer(t, show.ticket, "value", false)
	testutil.RequireReceive(t, pending, timeout, "waiting for reply")
	h.waitForSnapshot(t, func(s status.Snapshot) bool { return s.Count == 1 })

	if err := client.ClearPass(t.Context(), "k"); err != nil {
		t.Fatalf("ClearPass() failed: %v", err)
	}
	h.waitForSnapshot(t, func(s status.Snapshot) bool { return s.Count == 0 })

	getPass(t, client, agentclient.GetPassRequest{ID: "k"})
	testutil.RequireReceive(t, h.gateway.shows, timeout, "expected a prompt after clearing")
}

func TestAgent_ReaperEvictsExpired(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	h := start(t, fake, func(cfg *config.Config) {
		cfg.CacheTTL = config.Duration(time.Minute)
		cfg.CacheExpire = 0
		cfg.ReapInterval = config.Duration(10 * time.Second)
	})
	client := h.dial(t)

	pending := getPass(t, client, agentclient.GetPassRequest{ID: "short"})
	show := testutil.RequireReceive(t, h.gateway.shows, timeout, "waiting for prompt")
	h.answer(t, show.ticket, "brief", false)
	testutil.RequireReceive(t, pending, timeout, "waiting for reply")
	h.waitForSnapshot(t, func(s status.Snapshot) bool { return s.Count == 1 })

	fake.Advance(2 * time.Minute)
	h.waitForSnapshot(t, func(s status.Snapshot) bool { return s.Count == 0 })
}

func TestAgent_PinnedEntrySurvivesReaper(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	h := start(t, fake, func(cfg *config.Config) {
		cfg.CacheTTL = config.Duration(time.Minute)
	})
	client := h.dial(t)

	pending := getPass(t, client, agentclient.GetPassRequest{ID: "pinned"})
	show := testutil.RequireReceive(t, h.gateway.shows, timeout, "waiting for prompt")
	h.answer(t, show.ticket, "forever", true)
	testutil.RequireReceive(t, pending, timeout, "waiting for reply")

	fake.Advance(time.Hour)
	got := testutil.RequireReceive(t, getPass(t, client, agentclient.GetPassRequest{ID: "pinned"}), timeout, "cached reply")
	if got.secret != "forever" {
		t.Fatalf("GetPass() = %q, %v", got.secret, got.err)
	}
	requireNoShow(t, h.gateway)
}

func TestAgent_ReloadDisablesCache(t *testing.T) {
	h := start(t, nil, nil)
	client := h.dial(t)

	pending := getPass(t, client, agentclient.GetPassRequest{ID: "k"})
	show := testutil.RequireReceive(t, h.gateway.shows, timeout, "waiting for prompt")
	h.answer(t, show.ticket, "value", false)
	testutil.RequireReceive(t, pending, timeout, "waiting for reply")
	h.waitForSnapshot(t, func(s status.Snapshot) bool { return s.Count == 1 })

	disabled := config.Default()
	disabled.CacheEnabled = false
	disabled.CacheMethod = "heap"
	testutil.RequireSend(t, h.reloads, config.Reload{Config: disabled}, timeout, "sending reload")
	h.waitForSnapshot(t, func(s status.Snapshot) bool { return s.Count == 0 })

	getPass(t, client, agentclient.GetPassRequest{ID: "k"})
	testutil.RequireReceive(t, h.gateway.shows, timeout, "expected a prompt with the cache disabled")
}

func TestAgent_FailedReloadKeepsSettings(t *testing.T) {
	h := start(t, nil, nil)
	client := h.dial(t)

	testutil.RequireSend(t, h.reloads, config.Reload{Err: os.ErrNotExist}, timeout, "sending failed reload")

	pending := getPass(t, client, agentclient.GetPassRequest{ID: "k"})
	show := testutil.RequireReceive(t, h.gateway.shows, timeout, "waiting for prompt")
	h.answer(t, show.ticket, "value", false)
	testutil.RequireReceive(t, pending, timeout, "waiting for reply")
	h.waitForSnapshot(t, func(s status.Snapshot) bool { return s.Count == 1 })
}

func TestAgent_DisplayOffHidesIDs(t *testing.T) {
	h := start(t, nil, func(cfg *config.Config) { cfg.CacheDisplay = false })
	client := h.dial(t)

	pending := getPass(t, client, agentclient.GetPassRequest{ID: "secret-key-name"})
	show := testutil.RequireReceive(t, h.gateway.shows, timeout, "waiting for prompt")
	h.answer(t, show.ticket, "value", false)
	testutil.RequireReceive(t, pending, timeout, "waiting for reply")

	snapshot := h.waitForSnapshot(t, func(s status.Snapshot) bool { return s.Count == 1 })
	if snapshot.Visible || len(snapshot.KeyIDs) != 0 {
		t.Errorf("hidden snapshot exposes ids: %+v", snapshot)
	}
}

func TestAgent_ShutdownAnswersPendingRequests(t *testing.T) {
	h := start(t, nil, nil)
	client := h.dial(t)

	pending := getPass(t, client, agentclient.GetPassRequest{ID: "k"})
	show := testutil.RequireReceive(t, h.gateway.shows, timeout, "waiting for prompt")

	h.cancel()
	got := testutil.RequireReceive(t, pending, timeout, "waiting for reply")
	if !agentclient.IsReason(got.err, dispatch.ReasonShuttingDown) {
		t.Errorf("GetPass() error = %v, want shutdown reply", got.err)
	}
	if closed := testutil.RequireReceive(t, h.gateway.closed, timeout, "prompt close"); closed != show.ticket {
		t.Errorf("closed ticket %v, want %v", closed, show.ticket)
	}

	if err := testutil.RequireReceive(t, h.done, timeout, "waiting for Run"); err != nil {
		t.Errorf("Run() returned %v", err)
	}
	h.done <- nil

	if _, err := os.Stat(h.agent.SocketPath()); !os.IsNotExist(err) {
		t.Errorf("socket still present after shutdown: %v", err)
	}
	if _, err := os.Stat(h.agent.StatusPath()); !os.IsNotExist(err) {
		t.Errorf("status file still present after shutdown: %v", err)
	}
}

func TestNew_BindFailure(t *testing.T) {
	notDirectory := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(notDirectory, nil, 0600); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.RunDirectory = notDirectory

	if _, err := New(Options{Config: cfg, Gateway: newScriptedGateway()}); err == nil {
		t.Fatal("expected New() to fail when the run directory is a file")
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Options{Gateway: newScriptedGateway()}); err == nil {
		t.Error("expected error without a config")
	}
	if _, err := New(Options{Config: config.Default()}); err == nil {
		t.Error("expected error without a gateway")
	}
}
