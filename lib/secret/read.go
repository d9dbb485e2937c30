// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"errors"
	"fmt"
	"io"
)

// ErrEmpty is returned by ReadLine when the stream ends before any
// secret byte was read, or the line is empty.
var ErrEmpty = errors.New("secret: empty input")

// ReadLine reads bytes from reader up to the first newline (or EOF) and
// returns them in a locked buffer. A trailing "\r" is dropped. Reading
// stops with an error once more than limit bytes arrive without a
// newline. Bytes are read one at a time so nothing past the newline is
// consumed, and the scratch copy is zeroed before returning.
func ReadLine(reader io.Reader, limit int) (*Buffer, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("secret: read limit must be positive, got %d", limit)
	}

	scratch := make([]byte, 0, limit+1)
	defer func() { Zero(scratch[:cap(scratch)]) }()

	var single [1]byte
	defer Zero(single[:])
	for {
		n, err := reader.Read(single[:])
		if n == 0 {
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("secret: reading line: %w", err)
			}
			continue
		}
		character := single[0]
		if character == '\n' {
			break
		}
		if len(scratch) == limit {
			return nil, fmt.Errorf("secret: line exceeds %d bytes", limit)
		}
		scratch = append(scratch, character)
	}

	if n := len(scratch); n > 0 && scratch[n-1] == '\r' {
		scratch = scratch[:n-1]
	}
	if len(scratch) == 0 {
		return nil, ErrEmpty
	}
	return Copy(scratch)
}
