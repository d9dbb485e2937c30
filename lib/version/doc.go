// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports how a passagent or passctl binary was built.
//
// Release builds set the package variables with the linker; otherwise
// they keep their development defaults:
//
//	go build -ldflags "-X github.com/bureau-foundation/passagent/lib/version.GitCommit=$(git rev-parse --short HEAD)" ./cmd/passagent
//
// [Current] collects them together with the Go toolchain and platform,
// and [Fprint] writes the --version text.
package version
