// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache holds decrypted passphrases keyed by id, with two
// independent expiry clocks and a pinned override.
//
// Every entry records when it was created and when it was last read.
// An unpinned entry disappears from lookups once it is older than the
// configured TTL or has gone unread for longer than the idle timeout,
// whichever comes first. A zero duration disables that clock. Pinned
// ("locked") entries ignore both clocks and only leave through Clear,
// ClearAll or an overwriting Set. The pin is a user policy flag; it has
// nothing to do with synchronization.
//
// Secrets are stored in [secret.Buffer] values allocated by the backend
// named in [Settings].Method: "locked" (mmap + mlock, the default) or
// "heap" (zeroed on release, but swappable). Every removal path zeroes
// the secret.
//
// Expired entries are released by [Cache.Reap], which the agent calls
// from its event loop on a ticker, and eagerly by [Cache.Get] when it
// finds one. The OnChange callback runs after any mutation that can
// change [Cache.Count] or [Cache.KeyIDs].
//
// A Cache is not safe for concurrent use; the agent only touches it
// from its event loop goroutine.
package cache
