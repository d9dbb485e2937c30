// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel owns the agent's local endpoint: a Unix socket in a
// private directory, the table of accepted client connections, and the
// line framing between them and the agent loop.
//
// Goroutines in this package only perform blocking I/O. The accept
// goroutine and one reader goroutine per connection turn socket
// activity into [Event] values delivered on [Listener.Events]. Every
// method that touches the connection table ([Listener.Register],
// [Listener.Decode], [Listener.Reply], [Listener.Release],
// [Listener.Close]) must be called from the single goroutine that
// consumes those events. Connections are named by [slot.Handle], so a
// handle held after its connection was released simply fails to
// resolve.
//
// Each connection carries at most one outstanding request. Decode marks
// the connection busy and Reply clears it; a second request that
// arrives while one is outstanding is answered with ERR immediately.
//
// Only peers running as the agent's own uid are accepted. The uid is
// read with SO_PEERCRED before the connection is handed to the loop.
package channel
