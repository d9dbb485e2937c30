// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package slot

import "fmt"

// Handle addresses one value in a Table. The zero Handle never
// resolves.
type Handle struct {
	index      uint32
	generation uint32
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool { return h.generation == 0 }

// String renders the handle for logs, e.g. "3#7".
func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.index, h.generation)
}

type entry[T any] struct {
	value      T
	generation uint32
	occupied   bool
}

// Table stores values of type T in reusable slots.
type Table[T any] struct {
	entries []entry[T]
	free    []uint32
	count   int
}

// Insert stores value and returns its handle.
func (t *Table[T]) Insert(value T) Handle {
	var index uint32
	if n := len(t.free); n > 0 {
		index = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		index = uint32(len(t.entries))
		t.entries = append(t.entries, entry[T]{})
	}

	slot := &t.entries[index]
	slot.generation++
	if slot.generation == 0 {
		// Skip zero so the zero Handle stays invalid after wraparound.
		slot.generation = 1
	}
	slot.value = value
	slot.occupied = true
	t.count++
	return Handle{index: index, generation: slot.generation}
}

// Get returns the value for h, or false if h was removed or never
// issued by this table.
func (t *Table[T]) Get(h Handle) (T, bool) {
	if !t.valid(h) {
		var zero T
		return zero, false
	}
	return t.entries[h.index].value, true
}

// Remove deletes the value for h and returns it. Returns false if h no
// longer resolves. Removing twice is harmless.
func (t *Table[T]) Remove(h Handle) (T, bool) {
	var zero T
	if !t.valid(h) {
		return zero, false
	}
	slot := &t.entries[h.index]
	value := slot.value
	slot.value = zero
	slot.occupied = false
	t.free = append(t.free, h.index)
	t.count--
	return value, true
}

// Len returns the number of stored values.
func (t *Table[T]) Len() int { return t.count }

// Each calls fn for every stored value in slot order.
func (t *Table[T]) Each(fn func(Handle, T)) {
	for index := range t.entries {
		slot := &t.entries[index]
		if slot.occupied {
			fn(Handle{index: uint32(index), generation: slot.generation}, slot.value)
		}
	}
}

func (t *Table[T]) valid(h Handle) bool {
	if h.IsZero() || int(h.index) >= len(t.entries) {
		return false
	}
	slot := &t.entries[h.index]
	return slot.occupied && slot.generation == h.generation
}
