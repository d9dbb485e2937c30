// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the agent's CBOR encoding configuration.
//
// CBOR is used for files the agent writes for other local programs,
// such as the status snapshot. The client protocol on the socket is
// line-oriented text and does not go through this package.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. The
// same logical value always produces identical bytes, so an unchanged
// snapshot rewrites an identical file. Timestamps are tag 0 RFC 3339
// strings.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Types serialized only as CBOR use `cbor` struct tags.
package codec
