// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/passagent/lib/cache"
)

// EnvironmentVariable names the config file when --config is not given.
const EnvironmentVariable = "PASSAGENT_CONFIG"

// Prompt methods.
const (
	PromptTerminal = "terminal"
	PromptAskpass  = "askpass"
)

// Config is the agent configuration.
type Config struct {
	CacheEnabled   bool     `yaml:"cache_enabled"`
	CacheMethod    string   `yaml:"cache_method"`
	CacheTTL       Duration `yaml:"cache_ttl"`
	CacheExpire    Duration `yaml:"cache_expire"`
	CacheAuthorize bool     `yaml:"cache_authorize"`
	CacheDisplay   bool     `yaml:"cache_display"`

	// RunDirectory holds the socket and status file. Empty means a
	// fresh private directory under the system temporary directory.
	RunDirectory string `yaml:"run_dir"`

	// StatusFile overrides the status snapshot location. Empty means
	// status.cbor inside the socket directory.
	StatusFile string `yaml:"status_file"`

	// ReapInterval is how often expired entries are evicted.
	ReapInterval Duration `yaml:"reap_interval"`

	Prompt PromptConfig `yaml:"prompt"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// PromptConfig selects and configures the prompt surface.
type PromptConfig struct {
	// Method is "terminal" or "askpass".
	Method string `yaml:"method"`

	// Device is the terminal used by the terminal method.
	Device string `yaml:"device"`

	// Askpass is the program used by the askpass method.
	Askpass string `yaml:"askpass"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		CacheEnabled:   true,
		CacheMethod:    string(cache.MethodLocked),
		CacheTTL:       Duration(2 * time.Hour),
		CacheExpire:    Duration(15 * time.Minute),
		CacheAuthorize: false,
		CacheDisplay:   true,
		RunDirectory:   "${XDG_RUNTIME_DIR:-}",
		ReapInterval:   Duration(10 * time.Second),
		Prompt: PromptConfig{
			Method:  PromptTerminal,
			Device:  "/dev/tty",
			Askpass: "${PASSAGENT_ASKPASS:-}",
		},
		LogLevel: "info",
	}
}

// Path returns flagValue if set, otherwise the PASSAGENT_CONFIG
// environment variable.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(EnvironmentVariable)
}

// Load loads the file at path, or returns the expanded defaults when
// path is empty. The result is validated.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads and validates configuration from path. Keys missing
// from the file keep their default values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
// A run_dir under XDG_RUNTIME_DIR gets its own subdirectory.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	runDirectory := expandVars(c.RunDirectory, vars)
	if c.RunDirectory == Default().RunDirectory && runDirectory != "" {
		runDirectory = strings.TrimRight(runDirectory, "/") + "/passagent"
	}
	c.RunDirectory = runDirectory
	c.StatusFile = expandVars(c.StatusFile, vars)
	c.Prompt.Device = expandVars(c.Prompt.Device, vars)
	c.Prompt.Askpass = expandVars(c.Prompt.Askpass, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, checking vars
// before the environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if _, err := cache.ParseMethod(c.CacheMethod); err != nil {
		errs = append(errs, fmt.Errorf("cache_method: %w", err))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, errors.New("cache_ttl must not be negative"))
	}
	if c.CacheExpire < 0 {
		errs = append(errs, errors.New("cache_expire must not be negative"))
	}
	if c.ReapInterval <= 0 {
		errs = append(errs, errors.New("reap_interval must be positive"))
	}

	switch c.Prompt.Method {
	case PromptTerminal:
		if c.Prompt.Device == "" {
			errs = append(errs, errors.New("prompt.device is required for the terminal method"))
		}
	case PromptAskpass:
		if c.Prompt.Askpass == "" {
			errs = append(errs, errors.New("prompt.askpass is required for the askpass method"))
		}
	default:
		errs = append(errs, fmt.Errorf("prompt.method must be one of: %s, %s", PromptTerminal, PromptAskpass))
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// CacheSettings converts the cache options for cache.Configure.
func (c *Config) CacheSettings() cache.Settings {
	method, err := cache.ParseMethod(c.CacheMethod)
	if err != nil {
		method = cache.MethodLocked
	}
	return cache.Settings{
		TTL:            time.Duration(c.CacheTTL),
		IdleExpire:     time.Duration(c.CacheExpire),
		AuthorizeOnHit: c.CacheAuthorize,
		Method:         method,
	}
}

// ParseLogLevel maps a level name to a slog.Level.
func ParseLogLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown level %q (want debug, info, warn, or error)", name)
}
