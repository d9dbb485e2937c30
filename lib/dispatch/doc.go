// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch decides, for each client request, whether it can be
// answered from the cache or needs the user, and serializes prompts so
// that at most one is on screen.
//
// Requests that need a prompt are stored in a slot table and queued in
// arrival order across all connections. Exactly one of them may be
// active: [Dispatcher.NextPrompt] is the only place a queued request is
// shown, and it runs whenever the active slot frees up. Cache hits are
// answered in the same call and never enter the queue.
//
// With authorize-on-hit enabled, a hit becomes an authorization prompt
// instead of an immediate answer. The entry is pinned from the moment
// that request is queued until it finishes so that it cannot expire
// while the user is deciding, and its previous pin state is restored
// afterwards.
//
// Prompt outcomes arrive as [prompt.Completion] values and are routed by
// [Dispatcher.Complete]. A completion whose ticket no longer names the
// active request (the client hung up, or the prompt was closed) is
// dropped and its secret destroyed. A client that disconnects loses its
// request silently: queued requests leave the queue without a prompt,
// and an active prompt is closed.
//
// A Dispatcher is not safe for concurrent use. The agent loop owns it.
package dispatch
