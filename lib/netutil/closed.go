// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// Disposition says how a connection ended.
type Disposition int

const (
	// Failure is an I/O error worth reporting.
	Failure Disposition = iota

	// Hangup is a normal disconnect by either side.
	Hangup

	// Stalled means a deadline expired: the peer stopped reading or
	// writing.
	Stalled
)

func (d Disposition) String() string {
	switch d {
	case Hangup:
		return "hangup"
	case Stalled:
		return "stalled"
	default:
		return "failure"
	}
}

// Classify maps a socket read or write error to a Disposition. A client
// that exits while its request is still queued leaves the agent with
// EPIPE or ECONNRESET rather than EOF, so both count as a hangup.
func Classify(err error) Disposition {
	switch {
	case err == nil:
		return Failure
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return Hangup
	case errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ECONNRESET):
		return Hangup
	case errors.Is(err, os.ErrDeadlineExceeded):
		return Stalled
	}
	return Failure
}

