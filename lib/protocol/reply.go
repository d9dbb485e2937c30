// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/passagent/lib/secret"
)

// MaxInlineSecret is the longest secret sent on the OK line when the
// request did not ask for data lines.
const MaxInlineSecret = 512

// dataChunk is the number of raw secret bytes per data line. Fully
// escaped it stays well under MaxLineLength.
const dataChunk = 512

// Reply is the agent's answer to one request.
type Reply struct {
	OK bool

	// Reason is the human-readable text on an ERR line. Ignored when
	// OK is true.
	Reason string

	// Secret, when non-empty on an OK reply, is the payload. The reply
	// encoder never retains it.
	Secret []byte

	// AsData forces the secret into data lines.
	AsData bool
}

// OK returns a successful reply without payload.
func OK() Reply { return Reply{OK: true} }

// Errorf returns a failure reply with a formatted reason.
func Errorf(format string, args ...any) Reply {
	return Reply{Reason: fmt.Sprintf(format, args...)}
}

// AppendReply appends the wire form of reply to dst. Callers holding a
// secret should zero the result once it has been written.
func AppendReply(dst []byte, reply Reply) []byte {
	if !reply.OK {
		reason := strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' {
				return ' '
			}
			return r
		}, reply.Reason)
		if reason == "" {
			reason = "failed"
		}
		dst = append(dst, "ERR "...)
		dst = append(dst, reason...)
		return append(dst, '\n')
	}

	if len(reply.Secret) == 0 {
		return append(dst, "OK\n"...)
	}

	if !reply.AsData && len(reply.Secret) <= MaxInlineSecret {
		dst = append(dst, "OK "...)
		dst = AppendEscaped(dst, reply.Secret)
		return append(dst, '\n')
	}

	for remaining := reply.Secret; len(remaining) > 0; {
		chunk := remaining
		if len(chunk) > dataChunk {
			chunk = chunk[:dataChunk]
		}
		remaining = remaining[len(chunk):]
		dst = append(dst, "D "...)
		dst = AppendEscaped(dst, chunk)
		dst = append(dst, '\n')
	}
	return append(dst, "OK\n"...)
}

// Response is a decoded reply as seen by a client.
type Response struct {
	OK     bool
	Reason string

	// Data holds the secret from data lines or the inline OK payload.
	// The caller owns it and should zero it after use.
	Data []byte

	// FromData reports whether Data arrived in data lines.
	FromData bool
}

// ErrLineTooLong is returned when a reply line exceeds MaxLineLength.
var ErrLineTooLong = errors.New("reply line too long")

// ReadResponse reads data lines up to and including the status line.
// Intermediate line buffers are zeroed.
func ReadResponse(reader *bufio.Reader) (Response, error) {
	var response Response
	for {
		line, err := readLine(reader)
		if err != nil {
			zero(response.Data)
			return Response{}, err
		}

		switch {
		case bytes.HasPrefix(line, []byte("D ")):
			response.Data, err = AppendUnescaped(response.Data, line[2:])
			zero(line)
			if err != nil {
				zero(response.Data)
				return Response{}, fmt.Errorf("data line: %w", err)
			}
			response.FromData = true

		case bytes.Equal(line, []byte("OK")):
			response.OK = true
			return response, nil

		case bytes.HasPrefix(line, []byte("OK ")):
			response.OK = true
			response.Data, err = AppendUnescaped(response.Data, line[3:])
			zero(line)
			if err != nil {
				zero(response.Data)
				return Response{}, fmt.Errorf("status line: %w", err)
			}
			return response, nil

		case bytes.Equal(line, []byte("ERR")) || bytes.HasPrefix(line, []byte("ERR ")):
			zero(response.Data)
			reason := strings.TrimPrefix(string(line), "ERR")
			return Response{Reason: strings.TrimSpace(reason)}, nil

		default:
			zero(response.Data)
			return Response{}, fmt.Errorf("unexpected reply line %q", line)
		}
	}
}

func readLine(reader *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		fragment, err := reader.ReadSlice('\n')
		line = append(line, fragment...)
		zero(fragment)
		if err == nil {
			break
		}
		if err != bufio.ErrBufferFull {
			zero(line)
			return nil, err
		}
		if len(line) > MaxLineLength+2 {
			zero(line)
			return nil, ErrLineTooLong
		}
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) > MaxLineLength {
		zero(line)
		return nil, ErrLineTooLong
	}
	return line, nil
}

func zero(data []byte) { secret.Zero(data) }
