// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/bureau-foundation/passagent/lib/slot"
)

// DefaultDevice is the controlling terminal of the agent.
const DefaultDevice = "/dev/tty"

// TerminalOptions configures NewTerminal.
type TerminalOptions struct {
	// Device is the terminal to draw on. Defaults to DefaultDevice.
	Device string

	Logger *slog.Logger
}

// Terminal shows prompts as a full-screen dialog on a terminal.
type Terminal struct {
	device      string
	logger      *slog.Logger
	active      tracker
	completions chan Completion
}

var _ Gateway = (*Terminal)(nil)

// NewTerminal returns a gateway drawing on options.Device. The device is
// opened for each prompt, so a missing terminal is reported per prompt
// rather than at startup.
func NewTerminal(options TerminalOptions) *Terminal {
	device := options.Device
	if device == "" {
		device = DefaultDevice
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Terminal{
		device:      device,
		logger:      logger,
		completions: make(chan Completion, 1),
	}
}

// Completions implements Gateway.
func (t *Terminal) Completions() <-chan Completion { return t.completions }

// ShowPassphrase implements Gateway.
func (t *Terminal) ShowPassphrase(ticket slot.Handle, request Request) error {
	return t.start(ticket, Passphrase, request)
}

// ShowAuthorization implements Gateway.
func (t *Terminal) ShowAuthorization(ticket slot.Handle, request Request) error {
	return t.start(ticket, Authorization, request)
}

// Close implements Gateway.
func (t *Terminal) Close(ticket slot.Handle) {
	if t.active.close(ticket) {
		t.logger.Debug("terminal prompt closed", "ticket", ticket)
	}
}

func (t *Terminal) start(ticket slot.Handle, kind Kind, request Request) error {
	tty, err := os.OpenFile(t.device, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("opening prompt terminal: %w", err)
	}
	if !term.IsTerminal(int(tty.Fd())) {
		tty.Close()
		return fmt.Errorf("%s is not a terminal", t.device)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := t.active.begin(ticket, cancel); err != nil {
		cancel()
		tty.Close()
		return err
	}

	model := newDialogModel(kind, request)
	model.useRenderer(lipgloss.NewRenderer(tty, termenv.WithColorCache(true)))
	program := tea.NewProgram(model,
		tea.WithInput(tty),
		tea.WithOutput(tty),
		tea.WithContext(ctx),
		tea.WithAltScreen(),
		tea.WithoutSignalHandler(),
	)
	t.logger.Debug("terminal prompt shown", "ticket", ticket, "kind", kind, "key", request.KeyID)

	go func() {
		defer cancel()
		if _, err := program.Run(); err != nil && ctx.Err() == nil {
			t.logger.Warn("terminal prompt failed", "ticket", ticket, "error", err)
		}
		tty.Close()
		deliver(&t.active, t.completions, model.completion(ticket))
	}()
	return nil
}
