// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Passctl talks to a running passagent.
//
//	passctl get [flags] <id>     print the passphrase for id, prompting if needed
//	passctl clear <id>           forget the cached passphrase for id
//	passctl status [--raw]       show what the agent has cached
//	passctl env [--csh|--sh]     re-print the PASSAGENT_INFO assignment
//
// The agent is located through PASSAGENT_INFO. When it is unset and
// standard input is a terminal, get falls back to reading the
// passphrase itself with echo disabled.
package main
