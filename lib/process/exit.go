// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ExitError carries an exit status out of run(), for example the
// status of a child command. It prints nothing.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

// ExitCode returns the status to exit with.
func (e *ExitError) ExitCode() int { return e.Code }

// Fatal reports err and exits. An error with an ExitCode method exits
// with that code silently; anything else writes "error: err" to stderr
// and exits with code 1. Use it in main() for errors from run() where
// the structured logger may not be initialized.
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

func report(w io.Writer, err error) int {
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return 1
}
