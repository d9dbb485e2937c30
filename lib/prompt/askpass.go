// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/bureau-foundation/passagent/lib/secret"
	"github.com/bureau-foundation/passagent/lib/slot"
)

// MaxPassphrase bounds the length of a typed passphrase.
const MaxPassphrase = 1024

// AskpassPromptVariable tells the askpass program which kind of prompt
// it is showing. It is "confirm" for authorization prompts.
const AskpassPromptVariable = "PASSAGENT_ASKPASS_PROMPT"

// AskpassOptions configures NewAskpass.
type AskpassOptions struct {
	// Program is the askpass executable, looked up in PATH if it has
	// no slash.
	Program string

	// Env is appended to the agent's environment for the program.
	Env []string

	Logger *slog.Logger
}

// Askpass shows prompts by running an external program.
type Askpass struct {
	program     string
	env         []string
	logger      *slog.Logger
	active      tracker
	completions chan Completion
}

var _ Gateway = (*Askpass)(nil)

// NewAskpass returns a gateway running options.Program.
func NewAskpass(options AskpassOptions) (*Askpass, error) {
	if options.Program == "" {
		return nil, errors.New("askpass program not configured")
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Askpass{
		program:     options.Program,
		env:         options.Env,
		logger:      logger,
		completions: make(chan Completion, 1),
	}, nil
}

// Completions implements Gateway.
func (a *Askpass) Completions() <-chan Completion { return a.completions }

// ShowPassphrase implements Gateway.
func (a *Askpass) ShowPassphrase(ticket slot.Handle, request Request) error {
	return a.start(ticket, Passphrase, request)
}

// ShowAuthorization implements Gateway.
func (a *Askpass) ShowAuthorization(ticket slot.Handle, request Request) error {
	return a.start(ticket, Authorization, request)
}

// Close implements Gateway. The program is killed.
func (a *Askpass) Close(ticket slot.Handle) {
	if a.active.close(ticket) {
		a.logger.Debug("askpass prompt closed", "ticket", ticket)
	}
}

func (a *Askpass) start(ticket slot.Handle, kind Kind, request Request) error {
	ctx, cancel := context.WithCancel(context.Background())
	if err := a.active.begin(ticket, cancel); err != nil {
		cancel()
		return err
	}

	command := exec.CommandContext(ctx, a.program, request.Text(kind))
	command.Env = append(os.Environ(), a.env...)
	if kind == Authorization {
		command.Env = append(command.Env, AskpassPromptVariable+"=confirm")
	}
	command.Stderr = os.Stderr

	var stdout io.ReadCloser
	if kind == Passphrase {
		var err error
		stdout, err = command.StdoutPipe()
		if err != nil {
			a.active.finish(ticket)
			cancel()
			return fmt.Errorf("connecting askpass output: %w", err)
		}
	}
	if err := command.Start(); err != nil {
		a.active.finish(ticket)
		cancel()
		return fmt.Errorf("starting askpass program %s: %w", a.program, err)
	}
	a.logger.Debug("askpass prompt shown", "ticket", ticket, "kind", kind, "key", request.KeyID)

	go func() {
		defer cancel()
		completion := Completion{Ticket: ticket, Kind: kind}
		if kind == Passphrase {
			// Unblock the read when the prompt is closed, even if a
			// grandchild still holds the pipe open.
			stop := context.AfterFunc(ctx, func() { stdout.Close() })
			defer stop()
			buffer, err := secret.ReadLine(stdout, MaxPassphrase)
			// Drain anything after the first line so the program can exit.
			io.Copy(io.Discard, stdout)
			if err != nil && !errors.Is(err, secret.ErrEmpty) && ctx.Err() == nil {
				a.logger.Warn("reading askpass output failed", "ticket", ticket, "error", err)
			}
			completion.Secret = buffer
		}
		waitErr := command.Wait()
		switch {
		case waitErr == nil:
			completion.Authorized = kind == Authorization
		case completion.Secret != nil:
			// A non-zero exit discards whatever was printed.
			completion.Secret.Close()
			completion.Secret = nil
		}
		if waitErr != nil && ctx.Err() == nil {
			a.logger.Debug("askpass program exited", "ticket", ticket, "error", waitErr)
		}
		deliver(&a.active, a.completions, completion)
	}()
	return nil
}
