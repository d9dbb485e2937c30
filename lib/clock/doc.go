// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The secret cache stamps entries with Clock.Now and the agent's reaper
// runs on a Clock ticker, so TTL and idle-expiry behaviour can be tested
// by moving a fake clock instead of sleeping:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	c := cache.New(cache.Options{Clock: fake, Settings: cache.Settings{TTL: time.Minute}})
//	fake.Advance(time.Minute) // entry is now expired
//
// Production code uses Real().
package clock
