// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the line-oriented wire format spoken on the
// agent socket.
//
// A request is one line: a verb followed by space-separated fields.
//
//	GETPASS id=0xDEADBEEF flags=1 prompt=Passphrase: description=Unlock%20key%20for%20alice
//	CLRPASS id=0xDEADBEEF
//
// Fields are key=value with the value percent-escaped (space, '%', '=',
// control characters and non-ASCII bytes are written as %XX). A bare
// token without '=' is accepted as the id. Keys: id, flags, prompt,
// description, errmsg. Flags are decimal or 0x-prefixed hex.
//
// A reply is zero or more data lines followed by one status line:
//
//	D <escaped secret bytes>
//	OK
//
// or an inline secret on the status line, or a failure:
//
//	OK <escaped secret bytes>
//	ERR cancelled
//
// Secrets go into data lines when the request set [FlagPassAsData] or
// when they are longer than [MaxInlineSecret]; long secrets are split
// across several data lines that the reader concatenates. Secret bytes
// never appear on an ERR line.
package protocol
