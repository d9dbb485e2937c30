// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies errors from local socket I/O.
//
// [Classify] sorts a read or write error into a normal hangup, a stalled
// peer, or a real failure, so the agent can drop a client quietly
// instead of logging a disconnect as an error.
package netutil
