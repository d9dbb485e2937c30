// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Passagent caches passphrases for local programs so the user is not
// asked for the same one over and over.
//
// On startup it binds a socket in a private directory and prints the
// PASSAGENT_INFO assignment that tells clients where to find it. The
// agent does not fork; start it in the background and evaluate its
// output:
//
//	eval "$(passagent --sh &)"
//
// Standard output is closed once the assignment has been printed so
// the command substitution completes.
//
// With --execute the remaining arguments are run as a child command
// with PASSAGENT_INFO in its environment. SIGINT, SIGTERM and SIGHUP
// are forwarded to the child, and the agent exits with the child's
// status once it finishes:
//
//	passagent --execute -- startx
//
// Configuration comes from the file named by --config or
// PASSAGENT_CONFIG (see lib/config). The cache_* options are re-read
// whenever the file changes.
package main
