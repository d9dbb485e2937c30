// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxLineLength bounds a single protocol line, excluding the newline.
const MaxLineLength = 4096

// Verb names a request.
type Verb string

const (
	// VerbGetPass asks for a secret, prompting the user on a cache miss.
	VerbGetPass Verb = "GETPASS"
	// VerbClearPass removes one cached secret.
	VerbClearPass Verb = "CLRPASS"
)

// Flags modify a GETPASS request.
type Flags uint32

const (
	// FlagPassAsData sends the secret in data lines instead of inline
	// on the OK line.
	FlagPassAsData Flags = 0x1
	// FlagRepeat marks a retry after the caller rejected a previous
	// secret; the prompt shows the request's error message.
	FlagRepeat Flags = 0x2
)

// Has reports whether all bits of flag are set.
func (f Flags) Has(flag Flags) bool { return f&flag == flag }

// Request is one parsed request line.
type Request struct {
	Verb         Verb
	ID           string
	Flags        Flags
	Prompt       string
	Description  string
	ErrorMessage string
}

// ErrEmptyRequest is returned for a blank line.
var ErrEmptyRequest = errors.New("empty request")

// ParseRequest parses one request line. A trailing "\r" is ignored.
func ParseRequest(line []byte) (Request, error) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) > MaxLineLength {
		return Request{}, fmt.Errorf("request line exceeds %d bytes", MaxLineLength)
	}
	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return Request{}, ErrEmptyRequest
	}

	request := Request{Verb: Verb(strings.ToUpper(string(fields[0])))}
	switch request.Verb {
	case VerbGetPass, VerbClearPass:
	default:
		return Request{}, fmt.Errorf("unknown command %q", fields[0])
	}

	seen := make(map[string]bool)
	for _, field := range fields[1:] {
		key, value, keyed := bytes.Cut(field, []byte("="))
		name := "id"
		if keyed {
			name = string(key)
		} else {
			value = key
		}
		if seen[name] {
			return Request{}, fmt.Errorf("duplicate field %q", name)
		}
		seen[name] = true

		decoded, err := AppendUnescaped(nil, value)
		if err != nil {
			return Request{}, fmt.Errorf("field %q: %w", name, err)
		}
		if err := request.setField(name, string(decoded)); err != nil {
			return Request{}, err
		}
	}

	if request.Verb == VerbClearPass && request.ID == "" {
		return Request{}, fmt.Errorf("%s requires an id", VerbClearPass)
	}
	return request, nil
}

func (r *Request) setField(name, value string) error {
	switch name {
	case "id":
		r.ID = value
	case "flags":
		flags, err := strconv.ParseUint(value, 0, 32)
		if err != nil {
			return fmt.Errorf("invalid flags %q", value)
		}
		r.Flags = Flags(flags)
	case "prompt":
		r.Prompt = value
	case "description":
		r.Description = value
	case "errmsg":
		r.ErrorMessage = value
	default:
		return fmt.Errorf("unknown field %q", name)
	}
	return nil
}

// AppendRequest appends the wire form of request, including the
// trailing newline, to dst. Empty fields are omitted.
func AppendRequest(dst []byte, request Request) []byte {
	dst = append(dst, request.Verb...)
	appendField := func(name, value string) {
		if value == "" {
			return
		}
		dst = append(dst, ' ')
		dst = append(dst, name...)
		dst = append(dst, '=')
		dst = AppendEscaped(dst, []byte(value))
	}
	appendField("id", request.ID)
	if request.Flags != 0 {
		appendField("flags", "0x"+strconv.FormatUint(uint64(request.Flags), 16))
	}
	appendField("prompt", request.Prompt)
	appendField("description", request.Description)
	appendField("errmsg", request.ErrorMessage)
	return append(dst, '\n')
}
