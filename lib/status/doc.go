// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package status publishes the agent's cache occupancy to whatever
// indicator the user has: the log, and a snapshot file that
// `passctl status` and desktop widgets can poll.
//
// The agent builds a [Snapshot] each time the set of cached ids or the
// prompt queue changes and hands it to a [Notifier]. Snapshots never
// contain secret material. When display is turned off in the
// configuration, the snapshot is marked hidden and carries no ids.
//
// [FileNotifier] writes the snapshot as CBOR, atomically: temporary
// file, fsync, rename, directory fsync. Readers never see a partial
// snapshot.
package status
