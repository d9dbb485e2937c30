// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package slot provides a table of values addressed by
// generation-checked handles.
//
// The agent refers to client connections and queued passphrase requests
// by [Handle] rather than by pointer. Removing a value bumps the slot's
// generation, so every handle still held elsewhere (a request's
// back-reference to its connection, a prompt's ticket for a request)
// stops resolving instead of dangling or aliasing whatever reuses the
// slot next.
//
// A Table is not safe for concurrent use. The agent only touches its
// tables from the event loop goroutine.
package slot
