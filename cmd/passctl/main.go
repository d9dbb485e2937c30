// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/passagent/lib/process"
	"github.com/bureau-foundation/passagent/lib/secret"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env := &environment{
		ctx:          ctx,
		stdout:       os.Stdout,
		stderr:       os.Stderr,
		getenv:       os.Getenv,
		readPassword: readTerminalPassword,
	}
	if err := newRootCommand(env).Execute(os.Args[1:]); err != nil {
		stop()
		process.Fatal(err)
	}
}

// environment is what the commands touch outside the process.
type environment struct {
	ctx    context.Context
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string

	// readPassword prompts on the controlling terminal. It returns an
	// error when there is no terminal.
	readPassword func(prompt string) (*secret.Buffer, error)
}
