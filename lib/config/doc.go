// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the agent's YAML configuration.
//
// The file is named by the --config flag or, failing that, the
// PASSAGENT_CONFIG environment variable. There is no search path. With
// neither set the agent runs on [Default]. Environment variables do not
// override individual values; the only expansion is ${VAR} and
// ${VAR:-default} in path fields.
//
// Cache options are flat top-level keys:
//
//	cache_enabled: true      # master switch for lookup and storage
//	cache_method: locked     # locked (mlock'd pages) or heap
//	cache_ttl: 2h            # absolute lifetime, 0 disables
//	cache_expire: 15m        # idle lifetime, 0 disables
//	cache_authorize: false   # confirm before releasing a cached secret
//	cache_display: true      # show cached ids in status output
//
// Durations accept Go duration strings or integer seconds.
//
// A [Watcher] re-reads the file when it changes and delivers the result
// to the agent loop, which applies the cache options without a restart.
// Options that shape the endpoint (run_dir) or the prompt surface take
// effect on the next start.
package config
