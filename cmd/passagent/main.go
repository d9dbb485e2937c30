// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/passagent/lib/agent"
	"github.com/bureau-foundation/passagent/lib/announce"
	"github.com/bureau-foundation/passagent/lib/config"
	"github.com/bureau-foundation/passagent/lib/process"
	"github.com/bureau-foundation/passagent/lib/prompt"
	"github.com/bureau-foundation/passagent/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	configPath   string
	runDirectory string
	csh          bool
	sh           bool
	execute      bool
	logLevel     string
	showVersion  bool
	command      []string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var parsed options
	flagSet := pflag.NewFlagSet("passagent", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&parsed.configPath, "config", "", "path to config file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&parsed.runDirectory, "run-dir", "", "directory for the socket and status file (overrides run_dir)")
	flagSet.BoolVarP(&parsed.csh, "csh", "c", false, "print the announcement for a C shell")
	flagSet.BoolVarP(&parsed.sh, "sh", "s", false, "print the announcement for a Bourne shell")
	flagSet.BoolVarP(&parsed.execute, "execute", "x", false, "run the remaining arguments as a child with "+announce.Variable+" set")
	flagSet.StringVar(&parsed.logLevel, "log-level", "", "debug, info, warn or error (overrides log_level)")
	flagSet.BoolVar(&parsed.showVersion, "version", false, "print version information and exit")
	flagSet.SetInterspersed(false)

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	parsed.command = flagSet.Args()

	if parsed.csh && parsed.sh {
		return options{}, errors.New("--csh and --sh are mutually exclusive")
	}
	if parsed.execute && len(parsed.command) == 0 {
		return options{}, errors.New("--execute requires a command")
	}
	if !parsed.execute && len(parsed.command) > 0 {
		return options{}, fmt.Errorf("unexpected arguments %q (use --execute to run a command)", parsed.command)
	}
	return parsed, nil
}

func run(args []string) error {
	parsed, err := parseFlags(args, os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if parsed.showVersion {
		version.Fprint(os.Stdout, "passagent")
		return nil
	}

	configPath := config.Path(parsed.configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if parsed.runDirectory != "" {
		cfg.RunDirectory = parsed.runDirectory
	}
	if parsed.logLevel != "" {
		cfg.LogLevel = parsed.logLevel
	}
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	logger := newLogger(os.Stderr, level)

	gateway, err := newGateway(cfg.Prompt, logger.With("component", "prompt"))
	if err != nil {
		return err
	}

	var reloads <-chan config.Reload
	if configPath != "" {
		watcher, err := config.Watch(configPath, config.WatchOptions{Logger: logger})
		if err != nil {
			logger.Warn("config changes will not be picked up", "path", configPath, "error", err)
		} else {
			defer watcher.Close()
			reloads = watcher.Reloads()
		}
	}

	daemon, err := agent.New(agent.Options{
		Config:  cfg,
		Gateway: gateway,
		Reloads: reloads,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	info := announce.Info{Socket: daemon.SocketPath(), PID: os.Getpid(), Version: announce.ProtocolVersion}

	if parsed.execute {
		return runWithChild(daemon, info, parsed.command, logger)
	}

	shell := announce.DetectShell(os.Getenv("SHELL"))
	switch {
	case parsed.csh:
		shell = announce.CShell
	case parsed.sh:
		shell = announce.Bourne
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-daemon.Ready()
		fmt.Fprint(os.Stdout, announce.Format(info, shell))
		os.Stdout.Close()
	}()
	return daemon.Run(ctx)
}

func newGateway(cfg config.PromptConfig, logger *slog.Logger) (prompt.Gateway, error) {
	switch cfg.Method {
	case config.PromptAskpass:
		return prompt.NewAskpass(prompt.AskpassOptions{Program: cfg.Askpass, Logger: logger})
	case config.PromptTerminal:
		return prompt.NewTerminal(prompt.TerminalOptions{Device: cfg.Device, Logger: logger}), nil
	}
	return nil, fmt.Errorf("unknown prompt method %q", cfg.Method)
}
