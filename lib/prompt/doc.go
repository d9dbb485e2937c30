// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package prompt is the surface that asks the user for a passphrase or
// for permission to release a cached one.
//
// The agent loop drives a [Gateway]: it shows at most one prompt at a
// time, names it with a ticket (the request's slot handle), and reads
// the outcome from [Gateway.Completions]. Show methods return as soon
// as the prompt is on screen; an error from them means the prompt could
// not be shown at all. [Gateway.Close] tears a prompt down without a
// completion, which the loop uses when the requesting client goes away.
//
// Two gateways are provided:
//
//   - [Askpass] runs an external program in the style of ssh-askpass.
//     The prompt text is the program's only argument and the passphrase
//     is the first line of its standard output. For an authorization
//     prompt the environment carries PASSAGENT_ASKPASS_PROMPT=confirm
//     and exit status zero means "allow".
//   - [Terminal] draws a bubbletea dialog on a terminal device,
//     usually /dev/tty. The dialog can also pin the entry so that it
//     never expires.
//
// A passphrase travels from the prompt to the loop in a
// [secret.Buffer]. An empty or missing secret means the user
// cancelled.
package prompt
