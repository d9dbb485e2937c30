// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/passagent/lib/testutil"
)

const completionTimeout = 10 * time.Second

// writeScript creates an executable shell script and returns its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "askpass")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o700); err != nil {
		t.Fatal(err)
	}
	return path
}

func newAskpass(t *testing.T, program string) *Askpass {
	t.Helper()
	gateway, err := NewAskpass(AskpassOptions{Program: program})
	if err != nil {
		t.Fatalf("NewAskpass: %v", err)
	}
	return gateway
}

func TestAskpassPassphrase(t *testing.T) {
	argumentFile := filepath.Join(t.TempDir(), "argument")
	program := writeScript(t, `printf '%s' "$1" > `+argumentFile+`
printf 'hunter2\nignored\n'
`)
	gateway := newAskpass(t, program)
	ticket := tickets(1)[0]

	request := Request{KeyID: "k1", Description: "Unlock k1", Prompt: "Passphrase:"}
	if err := gateway.ShowPassphrase(ticket, request); err != nil {
		t.Fatalf("ShowPassphrase: %v", err)
	}
	completion := testutil.RequireReceive(t, gateway.Completions(), completionTimeout, "waiting for askpass")
	if completion.Ticket != ticket || completion.Kind != Passphrase {
		t.Errorf("completion = %+v", completion)
	}
	if completion.Secret == nil {
		t.Fatal("completion carries no secret")
	}
	defer completion.Secret.Close()
	if !completion.Secret.Equal([]byte("hunter2")) {
		t.Error("secret differs from the program's first output line")
	}
	if completion.Pin {
		t.Error("askpass completion requested pinning")
	}

	argument, err := os.ReadFile(argumentFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(argument) != "Unlock k1\nPassphrase:" {
		t.Errorf("program argument = %q", argument)
	}
}

func TestAskpassFailureCancels(t *testing.T) {
	gateway := newAskpass(t, writeScript(t, "printf 'partial\\n'\nexit 1\n"))
	ticket := tickets(1)[0]

	if err := gateway.ShowPassphrase(ticket, Request{}); err != nil {
		t.Fatalf("ShowPassphrase: %v", err)
	}
	completion := testutil.RequireReceive(t, gateway.Completions(), completionTimeout, "waiting for askpass")
	if completion.Secret != nil {
		t.Error("failed program produced a secret")
	}
}

func TestAskpassEmptyOutputCancels(t *testing.T) {
	gateway := newAskpass(t, writeScript(t, "exit 0\n"))
	ticket := tickets(1)[0]

	if err := gateway.ShowPassphrase(ticket, Request{}); err != nil {
		t.Fatalf("ShowPassphrase: %v", err)
	}
	completion := testutil.RequireReceive(t, gateway.Completions(), completionTimeout, "waiting for askpass")
	if completion.Secret != nil {
		t.Error("empty output produced a secret")
	}
}

func TestAskpassAuthorization(t *testing.T) {
	script := writeScript(t, `[ "$PASSAGENT_ASKPASS_PROMPT" = confirm ] && exit 0
exit 1
`)
	gateway := newAskpass(t, script)
	ticket := tickets(1)[0]

	if err := gateway.ShowAuthorization(ticket, Request{KeyID: "k1"}); err != nil {
		t.Fatalf("ShowAuthorization: %v", err)
	}
	completion := testutil.RequireReceive(t, gateway.Completions(), completionTimeout, "waiting for askpass")
	if !completion.Authorized || completion.Kind != Authorization {
		t.Errorf("completion = %+v, want authorized", completion)
	}

	// The confirm marker is only set for authorization prompts.
	if err := gateway.ShowPassphrase(ticket, Request{}); err != nil {
		t.Fatalf("ShowPassphrase: %v", err)
	}
	completion = testutil.RequireReceive(t, gateway.Completions(), completionTimeout, "waiting for askpass")
	if completion.Authorized || completion.Secret != nil {
		t.Errorf("passphrase completion = %+v, want cancelled", completion)
	}
}

func TestAskpassDenied(t *testing.T) {
	gateway := newAskpass(t, writeScript(t, "exit 1\n"))
	ticket := tickets(1)[0]

	if err := gateway.ShowAuthorization(ticket, Request{KeyID: "k1"}); err != nil {
		t.Fatalf("ShowAuthorization: %v", err)
	}
	completion := testutil.RequireReceive(t, gateway.Completions(), completionTimeout, "waiting for askpass")
	if completion.Authorized {
		t.Error("non-zero exit authorized the request")
	}
}

func TestAskpassMissingProgram(t *testing.T) {
	gateway := newAskpass(t, filepath.Join(t.TempDir(), "does-not-exist"))
	ticket := tickets(1)[0]

	err := gateway.ShowPassphrase(ticket, Request{})
	if err == nil || !strings.Contains(err.Error(), "starting askpass program") {
		t.Fatalf("ShowPassphrase = %v, want start error", err)
	}
	// A failed show leaves no prompt active.
	program := writeScript(t, "printf 'ok\\n'\n")
	gateway.program = program
	if err := gateway.ShowPassphrase(ticket, Request{}); err != nil {
		t.Fatalf("ShowPassphrase after failure: %v", err)
	}
	completion := testutil.RequireReceive(t, gateway.Completions(), completionTimeout, "waiting for askpass")
	completion.Secret.Close()
}

func TestAskpassCloseSuppressesCompletion(t *testing.T) {
	slow := writeScript(t, "exec sleep 30\n")
	gateway := newAskpass(t, slow)
	handles := tickets(2)

	if err := gateway.ShowPassphrase(handles[0], Request{}); err != nil {
		t.Fatalf("ShowPassphrase: %v", err)
	}
	if err := gateway.ShowPassphrase(handles[1], Request{}); !errors.Is(err, ErrBusy) {
		t.Fatalf("second ShowPassphrase = %v, want ErrBusy", err)
	}

	gateway.Close(handles[0])
	gateway.Close(handles[0])

	gateway.program = writeScript(t, "printf 'second\\n'\n")
	if err := gateway.ShowPassphrase(handles[1], Request{}); err != nil {
		t.Fatalf("ShowPassphrase after Close: %v", err)
	}
	completion := testutil.RequireReceive(t, gateway.Completions(), completionTimeout, "waiting for askpass")
	if completion.Ticket != handles[1] {
		t.Fatalf("completion for %v, want %v", completion.Ticket, handles[1])
	}
	defer completion.Secret.Close()
	if !completion.Secret.Equal([]byte("second")) {
		t.Error("unexpected secret from the second prompt")
	}
}

func TestNewAskpassRequiresProgram(t *testing.T) {
	if _, err := NewAskpass(AskpassOptions{}); err == nil {
		t.Fatal("NewAskpass without a program succeeded")
	}
}
