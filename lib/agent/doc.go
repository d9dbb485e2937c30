// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent is the passagent daemon: one event loop that owns the
// secret cache, the prompt dispatcher and the connection table.
//
// The loop is the only goroutine that touches that state. Everything
// else that can block (accepting connections, reading request lines,
// running a prompt, watching the config file) runs in its own goroutine
// and reports back over a channel:
//
//   - channel events: Accepted connections are registered, Line events
//     are decoded and routed to the dispatcher, Closed events cancel the
//     connection's request and release it.
//   - prompt completions go to the dispatcher, which drops stale ones.
//   - the reaper ticker evicts expired entries.
//   - config reloads update the cache and dispatcher settings in place.
//
// After every turn the loop publishes a status snapshot if the cache
// occupancy or the prompt queue changed.
//
// Shutdown (context cancellation) answers every outstanding request
// with ERR, closes the active prompt, zeroes and drops every cached
// secret, removes the status file and closes the socket.
package agent
