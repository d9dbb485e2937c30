// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for the passagent
// binaries. It covers the raw output that happens before the
// structured logger exists or after run() has returned: reporting a
// fatal error on stderr and choosing the exit status.
package process
