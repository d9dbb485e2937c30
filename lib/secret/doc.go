// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds passphrases in memory that is zeroed on release.
//
// A [Buffer] is either locked or heap-backed:
//
//   - Locked buffers ([New], [NewFromBytes], [Copy]) live in an anonymous
//     mmap region outside the Go heap, locked into RAM with mlock and
//     excluded from core dumps with MADV_DONTDUMP. The garbage collector
//     never sees the region, so it cannot leave stray copies behind.
//   - Heap buffers ([NewHeap], [CopyHeap]) are ordinary Go slices. They
//     are zeroed on Close but can be swapped. They exist for hosts whose
//     RLIMIT_MEMLOCK is too small to hold every cached secret.
//
// Access via [Buffer.Bytes] (slice into the backing memory) or
// [Buffer.String] (heap copy for API boundaries). [Buffer.Equal] compares
// in constant time. After Close, any access panics. Close is idempotent.
//
// [ReadLine] reads one newline-terminated secret from a stream (the
// output of an askpass program, or a piped stdin) straight into a locked
// buffer and zeroes the intermediate bytes.
//
// Depends on golang.org/x/sys/unix. No other passagent dependencies.
package secret
