// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/passagent/lib/agent"
	"github.com/bureau-foundation/passagent/lib/announce"
	"github.com/bureau-foundation/passagent/lib/process"
)

// forwardedSignals are passed on to the child instead of stopping the
// agent.
var forwardedSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}

// runWithChild serves requests for as long as command runs, then shuts
// the agent down and returns the child's exit status.
func runWithChild(daemon *agent.Agent, info announce.Info, command []string, logger *slog.Logger) error {
	child := exec.Command(command[0], command[1:]...)
	child.Env = announce.Environ(os.Environ(), info)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr

	signals := make(chan os.Signal, 4)
	signal.Notify(signals, forwardedSignals...)
	defer signal.Stop(signals)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	agentDone := make(chan error, 1)
	go func() { agentDone <- daemon.Run(ctx) }()
	<-daemon.Ready()

	if err := child.Start(); err != nil {
		cancel()
		return errors.Join(fmt.Errorf("starting %s: %w", command[0], err), <-agentDone)
	}
	logger.Info("started child", "command", command[0], "pid", child.Process.Pid)

	childDone := make(chan error, 1)
	go func() { childDone <- child.Wait() }()

	var childErr error
	for waiting := true; waiting; {
		select {
		case received := <-signals:
			logger.Debug("forwarding signal", "signal", received.String(), "pid", child.Process.Pid)
			if err := child.Process.Signal(received); err != nil && !errors.Is(err, os.ErrProcessDone) {
				logger.Warn("forwarding signal failed", "signal", received.String(), "error", err)
			}
		case childErr = <-childDone:
			waiting = false
		}
	}

	cancel()
	if err := <-agentDone; err != nil {
		return err
	}
	return exitStatus(command[0], childErr, logger)
}

// exitStatus converts the child's Wait result into run()'s error.
func exitStatus(name string, err error, logger *slog.Logger) error {
	if err == nil {
		logger.Info("child exited", "command", name, "status", 0)
		return nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("waiting for %s: %w", name, err)
	}
	code := exitErr.ExitCode()
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		code = 128 + int(status.Signal())
	}
	if code <= 0 {
		code = 1
	}
	logger.Info("child exited", "command", name, "status", code)
	return &process.ExitError{Code: code}
}
