// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package announce formats and parses the PASSAGENT_INFO environment
// variable through which clients find a running agent.
//
// The value is "<socket>:<pid>:<version>". The agent prints it as a
// shell assignment on startup so that
//
//	eval "$(passagent)"
//
// exports it into the calling shell.
package announce

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Variable is the environment variable carrying the agent location.
const Variable = "PASSAGENT_INFO"

// ProtocolVersion is the wire protocol version announced by this agent.
const ProtocolVersion = 1

// Shell selects the syntax of the printed announcement.
type Shell int

const (
	// Bourne emits "VAR=value; export VAR;".
	Bourne Shell = iota
	// CShell emits "setenv VAR value;".
	CShell
)

// DetectShell guesses the syntax from a login shell path such as $SHELL.
// Names ending in "csh" select CShell; everything else is Bourne.
func DetectShell(shellPath string) Shell {
	if strings.HasSuffix(filepath.Base(shellPath), "csh") {
		return CShell
	}
	return Bourne
}

// Info locates a running agent.
type Info struct {
	Socket  string
	PID     int
	Version int
}

// String returns the PASSAGENT_INFO value.
func (i Info) String() string {
	return fmt.Sprintf("%s:%d:%d", i.Socket, i.PID, i.Version)
}

// Format returns the shell statement exporting info, terminated by a
// newline.
func Format(info Info, shell Shell) string {
	value := quote(info.String())
	if shell == CShell {
		return fmt.Sprintf("setenv %s %s;\n", Variable, value)
	}
	return fmt.Sprintf("%s=%s; export %s;\n", Variable, value, Variable)
}

// Environ returns env with PASSAGENT_INFO set to info, replacing any
// existing assignment.
func Environ(env []string, info Info) []string {
	prefix := Variable + "="
	result := make([]string, 0, len(env)+1)
	for _, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			continue
		}
		result = append(result, entry)
	}
	return append(result, prefix+info.String())
}

// ErrNotSet is returned by Lookup when PASSAGENT_INFO is empty.
var ErrNotSet = errors.New(Variable + " is not set")

// Lookup parses the PASSAGENT_INFO value produced by getenv.
func Lookup(getenv func(string) string) (Info, error) {
	value := getenv(Variable)
	if value == "" {
		return Info{}, ErrNotSet
	}
	return Parse(value)
}

// Parse parses a PASSAGENT_INFO value. The socket path may itself
// contain colons; the pid and version are taken from the right.
func Parse(value string) (Info, error) {
	versionAt := strings.LastIndexByte(value, ':')
	if versionAt < 0 {
		return Info{}, fmt.Errorf("parsing %s %q: missing pid and version", Variable, value)
	}
	pidAt := strings.LastIndexByte(value[:versionAt], ':')
	if pidAt < 0 {
		return Info{}, fmt.Errorf("parsing %s %q: missing pid", Variable, value)
	}

	socket := value[:pidAt]
	if socket == "" {
		return Info{}, fmt.Errorf("parsing %s %q: empty socket path", Variable, value)
	}
	pid, err := strconv.Atoi(value[pidAt+1 : versionAt])
	if err != nil || pid <= 0 {
		return Info{}, fmt.Errorf("parsing %s %q: invalid pid", Variable, value)
	}
	version, err := strconv.Atoi(value[versionAt+1:])
	if err != nil {
		return Info{}, fmt.Errorf("parsing %s %q: invalid protocol version", Variable, value)
	}
	if version != ProtocolVersion {
		return Info{}, fmt.Errorf("parsing %s %q: unsupported protocol version %d (want %d)", Variable, value, version, ProtocolVersion)
	}
	return Info{Socket: socket, PID: pid, Version: version}, nil
}

// quote single-quotes value when it contains characters a shell would
// interpret.
func quote(value string) string {
	safe := true
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("/._-:+,@%", r):
		default:
			safe = false
		}
	}
	if safe {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
