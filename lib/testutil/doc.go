// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for passagent packages.
//
// [SocketDir] creates a short temporary directory for Unix domain
// sockets. sun_path is limited to 108 bytes and t.TempDir() paths can
// exceed it.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap the
// select-with-timeout pattern so that tests waiting on the agent loop
// never hang and never call time.After directly.
//
// All helpers call t.Fatalf on failure.
package testutil
