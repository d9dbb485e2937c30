// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"fmt"
	"sort"
	"time"

	"github.com/bureau-foundation/passagent/lib/clock"
	"github.com/bureau-foundation/passagent/lib/secret"
)

// Method selects the memory backend for cached secrets.
type Method string

const (
	// MethodLocked stores secrets in mlocked memory outside the Go heap.
	MethodLocked Method = "locked"
	// MethodHeap stores secrets on the Go heap, zeroed on release.
	MethodHeap Method = "heap"
)

// ParseMethod validates a cache_method option value. The empty string
// selects MethodLocked.
func ParseMethod(value string) (Method, error) {
	switch Method(value) {
	case "", MethodLocked:
		return MethodLocked, nil
	case MethodHeap:
		return MethodHeap, nil
	default:
		return "", fmt.Errorf("unknown cache method %q (want %q or %q)", value, MethodLocked, MethodHeap)
	}
}

func (m Method) allocate(value []byte) (*secret.Buffer, error) {
	if m == MethodHeap {
		return secret.CopyHeap(value)
	}
	return secret.Copy(value)
}

// LockState filters Has by an entry's pinned flag.
type LockState int

const (
	// AnyLock matches pinned and unpinned entries.
	AnyLock LockState = iota
	// Locked matches only pinned entries.
	Locked
	// Unlocked matches only unpinned entries.
	Unlocked
)

// Settings are the cache-wide defaults, re-applied on configuration
// reload.
type Settings struct {
	// TTL is the maximum lifetime of an unpinned entry, measured from
	// its creation. Zero disables the TTL clock.
	TTL time.Duration

	// IdleExpire evicts an unpinned entry that has not been read for
	// this long. Zero disables the idle clock.
	IdleExpire time.Duration

	// AuthorizeOnHit makes the dispatcher ask the user before handing
	// out an already-cached secret.
	AuthorizeOnHit bool

	// Method selects the memory backend for secrets stored from now
	// on. Existing entries keep their backend.
	Method Method
}

// AllocateFunc copies value into a new secret buffer, leaving value
// intact.
type AllocateFunc func(value []byte) (*secret.Buffer, error)

// Options configures New.
type Options struct {
	Settings

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Allocate, when set, replaces the Method backend. Tests use it to
	// inject allocation failures.
	Allocate AllocateFunc

	// OnChange is called after any mutation that can change the set of
	// present ids. May be nil.
	OnChange func()
}

type entry struct {
	secret   *secret.Buffer
	locked   bool
	created  time.Time
	accessed time.Time
}

// Cache maps ids to secrets. See the package documentation.
type Cache struct {
	clock    clock.Clock
	settings Settings
	allocate AllocateFunc
	onChange func()
	entries  map[string]*entry
}

// New creates an empty cache.
func New(options Options) *Cache {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Method == "" {
		options.Method = MethodLocked
	}
	return &Cache{
		clock:    options.Clock,
		settings: options.Settings,
		allocate: options.Allocate,
		onChange: options.OnChange,
		entries:  make(map[string]*entry),
	}
}

// Configure replaces the cache-wide settings. Entries already present
// are judged against the new durations from the next lookup on.
func (c *Cache) Configure(settings Settings) {
	if settings.Method == "" {
		settings.Method = MethodLocked
	}
	c.settings = settings
}

// Settings returns the current cache-wide settings.
func (c *Cache) Settings() Settings { return c.settings }

// AuthorizeOnHit reports whether cached secrets need user confirmation
// before reuse.
func (c *Cache) AuthorizeOnHit() bool { return c.settings.AuthorizeOnHit }

// Get returns the secret cached under id and renews its idle clock. The
// returned buffer belongs to the cache: it stays valid only until the
// entry is cleared, overwritten or reaped, so callers must finish with
// it in the same event loop turn. An expired entry is evicted and
// reported absent.
func (c *Cache) Get(id string) (*secret.Buffer, bool) {
	item, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	now := c.clock.Now()
	if c.expired(item, now) {
		c.remove(id, item)
		c.changed()
		return nil, false
	}
	item.accessed = now
	return item.secret, true
}

// Has reports whether an unexpired entry for id exists and its pinned
// flag matches state. Has does not renew the idle clock.
func (c *Cache) Has(id string, state LockState) bool {
	item, ok := c.entries[id]
	if !ok || c.expired(item, c.clock.Now()) {
		return false
	}
	switch state {
	case Locked:
		return item.locked
	case Unlocked:
		return !item.locked
	default:
		return true
	}
}

// Set stores a copy of value under id, replacing (and zeroing) any
// previous entry. Both clocks start now. On allocation failure the
// cache is left unchanged.
func (c *Cache) Set(id string, value []byte, locked bool) error {
	allocate := c.allocate
	if allocate == nil {
		allocate = c.settings.Method.allocate
	}
	buffer, err := allocate(value)
	if err != nil {
		return fmt.Errorf("storing secret for %q: %w", id, err)
	}

	if previous, ok := c.entries[id]; ok {
		previous.secret.Close()
	}
	now := c.clock.Now()
	c.entries[id] = &entry{
		secret:   buffer,
		locked:   locked,
		created:  now,
		accessed: now,
	}
	c.changed()
	return nil
}

// SetLocked changes the pinned flag of the unexpired entry for id and
// returns the previous flag. ok is false when there is no such entry.
func (c *Cache) SetLocked(id string, locked bool) (previous bool, ok bool) {
	item, present := c.entries[id]
	if !present || c.expired(item, c.clock.Now()) {
		return false, false
	}
	previous = item.locked
	item.locked = locked
	return previous, true
}

// Clear removes the entry for id, zeroing its secret. Clearing a
// missing id does nothing.
func (c *Cache) Clear(id string) {
	item, ok := c.entries[id]
	if !ok {
		return
	}
	c.remove(id, item)
	c.changed()
}

// ClearAll removes every entry, zeroing each secret.
func (c *Cache) ClearAll() {
	if len(c.entries) == 0 {
		return
	}
	for id, item := range c.entries {
		c.remove(id, item)
	}
	c.changed()
}

// Count returns the number of unexpired entries.
func (c *Cache) Count() int {
	now := c.clock.Now()
	count := 0
	for _, item := range c.entries {
		if !c.expired(item, now) {
			count++
		}
	}
	return count
}

// KeyIDs returns the ids of unexpired entries, sorted. Intended for
// display only.
func (c *Cache) KeyIDs() []string {
	now := c.clock.Now()
	ids := make([]string, 0, len(c.entries))
	for id, item := range c.entries {
		if !c.expired(item, now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Reap evicts every unpinned entry whose TTL or idle clock has run out
// and returns how many were removed.
func (c *Cache) Reap() int {
	now := c.clock.Now()
	removed := 0
	for id, item := range c.entries {
		if c.expired(item, now) {
			c.remove(id, item)
			removed++
		}
	}
	if removed > 0 {
		c.changed()
	}
	return removed
}

func (c *Cache) expired(item *entry, now time.Time) bool {
	if item.locked {
		return false
	}
	if ttl := c.settings.TTL; ttl > 0 && now.Sub(item.created) >= ttl {
		return true
	}
	if idle := c.settings.IdleExpire; idle > 0 && now.Sub(item.accessed) >= idle {
		return true
	}
	return false
}

func (c *Cache) remove(id string, item *entry) {
	item.secret.Close()
	delete(c.entries, id)
}

func (c *Cache) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}
