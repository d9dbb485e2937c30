// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package prompt

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bureau-foundation/passagent/lib/secret"
	"github.com/bureau-foundation/passagent/lib/slot"
)

// Kind selects the prompt shown for a request.
type Kind int

const (
	// Passphrase asks the user to type a secret.
	Passphrase Kind = iota + 1
	// Authorization asks the user to allow release of a cached secret.
	Authorization
)

func (k Kind) String() string {
	switch k {
	case Passphrase:
		return "passphrase"
	case Authorization:
		return "authorization"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Request carries the text a prompt displays.
type Request struct {
	KeyID        string
	Prompt       string
	Description  string
	ErrorMessage string

	// Repeat is set when the client rejected a previous answer.
	Repeat bool
}

// Completion is the outcome of one prompt.
type Completion struct {
	Ticket slot.Handle
	Kind   Kind

	// Secret is the typed passphrase. Nil or empty means cancelled.
	// Ownership passes to the receiver, which must Close it.
	Secret *secret.Buffer

	// Authorized is the answer to an Authorization prompt.
	Authorized bool

	// Pin asks for the stored entry to be exempt from expiry.
	Pin bool
}

// Gateway shows prompts. Show and Close are called from the agent loop.
type Gateway interface {
	ShowPassphrase(ticket slot.Handle, request Request) error
	ShowAuthorization(ticket slot.Handle, request Request) error
	Close(ticket slot.Handle)
	Completions() <-chan Completion
}

// ErrBusy is returned when a prompt is already on screen.
var ErrBusy = errors.New("a prompt is already active")

// defaultPrompt is used when the client did not supply one.
const defaultPrompt = "Passphrase:"

// Lines returns the text of a prompt, one element per display line:
// error message, description, then the prompt itself.
func (r Request) Lines(kind Kind) []string {
	var lines []string
	if r.ErrorMessage != "" {
		lines = append(lines, r.ErrorMessage)
	} else if r.Repeat {
		lines = append(lines, "Bad passphrase, try again.")
	}
	description := r.Description
	if description == "" && kind == Authorization {
		if r.KeyID != "" {
			description = fmt.Sprintf("Allow use of the cached passphrase for %s?", r.KeyID)
		} else {
			description = "Allow use of a cached passphrase?"
		}
	}
	if description != "" {
		lines = append(lines, description)
	}
	if kind == Passphrase {
		prompt := r.Prompt
		if prompt == "" {
			prompt = defaultPrompt
		}
		lines = append(lines, prompt)
	}
	return lines
}

// Text joins Lines with newlines.
func (r Request) Text(kind Kind) string {
	return strings.Join(r.Lines(kind), "\n")
}

// tracker records the single active prompt and its cancel function.
// Show runs on the loop goroutine while the prompt's own goroutine
// finishes it, so the state is guarded.
type tracker struct {
	mu     sync.Mutex
	ticket slot.Handle
	cancel func()
}

func (t *tracker) begin(ticket slot.Handle, cancel func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ticket.IsZero() {
		return ErrBusy
	}
	t.ticket = ticket
	t.cancel = cancel
	return nil
}

// finish clears ticket if it is still active and reports whether it
// was, in which case its completion should be delivered.
func (t *tracker) finish(ticket slot.Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ticket != ticket {
		return false
	}
	t.ticket = slot.Handle{}
	t.cancel = nil
	return true
}

// close cancels ticket if it is the active prompt.
func (t *tracker) close(ticket slot.Handle) bool {
	t.mu.Lock()
	cancel := t.cancel
	active := t.ticket == ticket && !ticket.IsZero()
	if active {
		t.ticket = slot.Handle{}
		t.cancel = nil
	}
	t.mu.Unlock()
	if active && cancel != nil {
		cancel()
	}
	return active
}

// deliver sends completion unless the prompt was closed meanwhile, in
// which case the secret is destroyed.
func deliver(t *tracker, completions chan<- Completion, completion Completion) {
	if !t.finish(completion.Ticket) {
		if completion.Secret != nil {
			completion.Secret.Close()
		}
		return
	}
	completions <- completion
}
