// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package status

import (
	"log/slog"
	"slices"
	"time"
)

// Snapshot is the agent state shown to the user.
type Snapshot struct {
	// Visible is false when display of cache state is turned off. A
	// hidden snapshot has no KeyIDs.
	Visible bool `cbor:"visible"`

	// Count is the number of cached secrets.
	Count int `cbor:"count"`

	// KeyIDs lists the cached ids in sorted order.
	KeyIDs []string `cbor:"key_ids,omitempty"`

	// Prompting is true while a prompt is on screen.
	Prompting bool `cbor:"prompting"`

	// Queued is the number of requests waiting behind the active prompt.
	Queued int `cbor:"queued"`

	PID    int    `cbor:"pid"`
	Socket string `cbor:"socket"`

	UpdatedAt time.Time `cbor:"updated_at"`
}

// Hidden returns the snapshot with ids removed and Visible cleared.
func (s Snapshot) Hidden() Snapshot {
	s.Visible = false
	s.KeyIDs = nil
	return s
}

// Equivalent reports whether two snapshots show the same state,
// ignoring UpdatedAt.
func (s Snapshot) Equivalent(other Snapshot) bool {
	return s.Visible == other.Visible &&
		s.Count == other.Count &&
		slices.Equal(s.KeyIDs, other.KeyIDs) &&
		s.Prompting == other.Prompting &&
		s.Queued == other.Queued &&
		s.PID == other.PID &&
		s.Socket == other.Socket
}

// Notifier receives snapshots from the agent loop. Notify must not
// block for long; failures are the notifier's to log.
type Notifier interface {
	Notify(Snapshot)
}

// LogNotifier reports snapshots through a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(snapshot Snapshot) {
	attributes := []any{
		"count", snapshot.Count,
		"prompting", snapshot.Prompting,
		"queued", snapshot.Queued,
	}
	if snapshot.Visible {
		attributes = append(attributes, "keys", snapshot.KeyIDs)
	}
	n.Logger.Info("cache status changed", attributes...)
}

// Multi fans a snapshot out to several notifiers in order.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(snapshot Snapshot) {
	for _, notifier := range m {
		notifier.Notify(snapshot)
	}
}
