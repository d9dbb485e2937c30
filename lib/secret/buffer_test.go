// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"testing"
)

func TestNew_ValidSize(t *testing.T) {
	buffer, err := New(64)
	if err != nil {
		t.Fatalf("New(64) failed: %v", err)
	}
	defer buffer.Close()

	if buffer.Len() != 64 {
		t.Errorf("expected length 64, got %d", buffer.Len())
	}
	if !buffer.Locked() {
		t.Error("expected New to return a locked buffer")
	}

	for index, value := range buffer.Bytes() {
		if value != 0 {
			t.Fatalf("expected zero at index %d, got %d", index, value)
		}
	}
}

func TestNew_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := New(size); err == nil {
			t.Errorf("New(%d): expected error", size)
		}
		if _, err := NewHeap(size); err == nil {
			t.Errorf("NewHeap(%d): expected error", size)
		}
	}
}

func TestNewFromBytes_ZeroesSource(t *testing.T) {
	source := []byte("correct horse battery staple")
	original := string(source)

	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes failed: %v", err)
	}
	defer buffer.Close()

	if got := buffer.String(); got != original {
		t.Errorf("expected %q, got %q", original, got)
	}
	for index, value := range source {
		if value != 0 {
			t.Fatalf("source byte %d was not zeroed: got %d", index, value)
		}
	}
}

func TestCopy_LeavesSourceIntact(t *testing.T) {
	source := []byte("hunter2")

	for name, copyFunc := range map[string]func([]byte) (*Buffer, error){
		"locked": Copy,
		"heap":   CopyHeap,
	} {
		t.Run(name, func(t *testing.T) {
			buffer, err := copyFunc(source)
			if err != nil {
				t.Fatalf("copy failed: %v", err)
			}
			defer buffer.Close()

			if string(source) != "hunter2" {
				t.Errorf("source modified: %q", source)
			}
			if !buffer.Equal(source) {
				t.Errorf("buffer does not equal source")
			}
			if buffer.Locked() != (name == "locked") {
				t.Errorf("Locked() = %v for %s buffer", buffer.Locked(), name)
			}
		})
	}
}

func TestCopy_Empty(t *testing.T) {
	if _, err := Copy(nil); err == nil {
		t.Error("Copy(nil): expected error")
	}
	if _, err := CopyHeap([]byte{}); err == nil {
		t.Error("CopyHeap(empty): expected error")
	}
	if _, err := NewFromBytes([]byte{}); err == nil {
		t.Error("NewFromBytes(empty): expected error")
	}
}

func TestBuffer_Equal(t *testing.T) {
	buffer, err := CopyHeap([]byte("abc"))
	if err != nil {
		t.Fatalf("CopyHeap failed: %v", err)
	}
	defer buffer.Close()

	if !buffer.Equal([]byte("abc")) {
		t.Error("expected equal")
	}
	if buffer.Equal([]byte("abd")) {
		t.Error("expected different contents to compare unequal")
	}
	if buffer.Equal([]byte("abcd")) {
		t.Error("expected different lengths to compare unequal")
	}
}

func TestBuffer_Close_ZerosHeapMemory(t *testing.T) {
	buffer, err := CopyHeap([]byte("this should be zeroed"))
	if err != nil {
		t.Fatalf("CopyHeap failed: %v", err)
	}
	backing := buffer.data

	if err := buffer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	for index, value := range backing {
		if value != 0 {
			t.Fatalf("byte %d not zeroed after Close: %d", index, value)
		}
	}
	if buffer.data != nil {
		t.Error("expected data to be nil after Close")
	}
}

func TestBuffer_Close_Idempotent(t *testing.T) {
	buffer, err := New(16)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestBuffer_PanicsAfterClose(t *testing.T) {
	accessors := map[string]func(*Buffer){
		"Bytes":  func(b *Buffer) { b.Bytes() },
		"String": func(b *Buffer) { _ = b.String() },
		"Equal":  func(b *Buffer) { b.Equal(nil) },
	}
	for name, access := range accessors {
		t.Run(name, func(t *testing.T) {
			buffer, err := NewHeap(8)
			if err != nil {
				t.Fatalf("NewHeap failed: %v", err)
			}
			buffer.Close()

			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic on %s() after Close", name)
				}
			}()
			access(buffer)
		})
	}
}
