// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/passagent/lib/agentclient"
	"github.com/bureau-foundation/passagent/lib/announce"
	"github.com/bureau-foundation/passagent/lib/codec"
	"github.com/bureau-foundation/passagent/lib/secret"
	"github.com/bureau-foundation/passagent/lib/status"
	"github.com/bureau-foundation/passagent/lib/version"
)

// dialTimeout bounds connecting to the agent, not waiting for a prompt.
const dialTimeout = 5 * time.Second

func newRootCommand(env *environment) *Command {
	return &Command{
		Name:    "passctl",
		Summary: "Query and control a running passagent.",
		Output:  env.stderr,
		Subcommands: []*Command{
			getCommand(env),
			clearCommand(env),
			statusCommand(env),
			envCommand(env),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func([]string) error {
					version.Fprint(env.stdout, "passctl")
					return nil
				},
			},
		},
	}
}

func (env *environment) dial() (*agentclient.Client, error) {
	info, err := announce.Lookup(env.getenv)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(env.ctx, dialTimeout)
	defer cancel()
	return agentclient.Dial(ctx, info.Socket)
}

func getCommand(env *environment) *Command {
	var request agentclient.GetPassRequest
	return &Command{
		Name:    "get",
		Summary: "Print the passphrase for an id, prompting if it is not cached",
		Usage:   "passctl get [flags] <id>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("get", pflag.ContinueOnError)
			flagSet.StringVar(&request.Prompt, "prompt", "", "prompt label shown next to the input")
			flagSet.StringVar(&request.Description, "description", "", "explanation shown above the input")
			flagSet.StringVar(&request.ErrorMessage, "error", "", "error line shown in the prompt (implies --repeat)")
			flagSet.BoolVar(&request.Repeat, "repeat", false, "ask again even if the id is cached")
			flagSet.BoolVar(&request.AsData, "data", false, "receive the passphrase in data lines")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return errors.New("get requires exactly one id")
			}
			request.ID = args[0]
			if request.ErrorMessage != "" {
				request.Repeat = true
			}

			value, err := env.getPass(request)
			if err != nil {
				return err
			}
			defer value.Close()

			line := make([]byte, 0, value.Len()+1)
			line = append(line, value.Bytes()...)
			line = append(line, '\n')
			_, err = env.stdout.Write(line)
			secret.Zero(line)
			return err
		},
	}
}

// getPass asks the agent, or the terminal directly when no agent is
// announced.
func (env *environment) getPass(request agentclient.GetPassRequest) (*secret.Buffer, error) {
	client, err := env.dial()
	if errors.Is(err, announce.ErrNotSet) {
		label := request.Prompt
		if label == "" {
			label = "Passphrase:"
		}
		if request.Description != "" {
			fmt.Fprintln(env.stderr, request.Description)
		}
		return env.readPassword(label + " ")
	}
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return client.GetPass(env.ctx, request)
}

func clearCommand(env *environment) *Command {
	return &Command{
		Name:    "clear",
		Summary: "Forget the cached passphrase for an id",
		Usage:   "passctl clear <id>",
		Run: func(args []string) error {
			if len(args) != 1 {
				return errors.New("clear requires exactly one id")
			}
			client, err := env.dial()
			if err != nil {
				return err
			}
			defer client.Close()
			return client.ClearPass(env.ctx, args[0])
		},
	}
}

func statusCommand(env *environment) *Command {
	var path string
	var raw bool
	return &Command{
		Name:    "status",
		Summary: "Show the agent's cached ids and prompt queue",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flagSet.StringVar(&path, "file", "", "status file (default: next to the agent socket)")
			flagSet.BoolVar(&raw, "raw", false, "print the snapshot in CBOR diagnostic notation")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected arguments %q", args)
			}
			if path == "" {
				info, err := announce.Lookup(env.getenv)
				if err != nil {
					return fmt.Errorf("%w (use --file to name the status file)", err)
				}
				path = filepath.Join(filepath.Dir(info.Socket), status.DefaultFileName)
			}

			if raw {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("reading status file: %w", err)
				}
				diagnostic, err := codec.Diagnose(data)
				if err != nil {
					return fmt.Errorf("decoding status file: %w", err)
				}
				fmt.Fprintln(env.stdout, diagnostic)
				return nil
			}

			snapshot, err := status.ReadFile(path)
			if err != nil {
				return err
			}
			printSnapshot(env, snapshot)
			return nil
		},
	}
}

func printSnapshot(env *environment, snapshot status.Snapshot) {
	tw := tabwriter.NewWriter(env.stdout, 2, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "agent:\tpid %d\n", snapshot.PID)
	fmt.Fprintf(tw, "socket:\t%s\n", snapshot.Socket)
	switch {
	case !snapshot.Visible:
		fmt.Fprintf(tw, "cached:\t%d (ids hidden)\n", snapshot.Count)
	case snapshot.Count == 0:
		fmt.Fprintf(tw, "cached:\tnone\n")
	default:
		fmt.Fprintf(tw, "cached:\t%d (%s)\n", snapshot.Count, strings.Join(snapshot.KeyIDs, ", "))
	}
	if snapshot.Prompting {
		fmt.Fprintf(tw, "prompt:\tactive, %d queued\n", snapshot.Queued)
	} else {
		fmt.Fprintf(tw, "prompt:\tidle\n")
	}
	fmt.Fprintf(tw, "updated:\t%s\n", snapshot.UpdatedAt.Local().Format(time.RFC3339))
	tw.Flush()
}

func envCommand(env *environment) *Command {
	var csh, sh bool
	return &Command{
		Name:    "env",
		Summary: "Print the PASSAGENT_INFO assignment for the running agent",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("env", pflag.ContinueOnError)
			flagSet.BoolVarP(&csh, "csh", "c", false, "C shell syntax")
			flagSet.BoolVarP(&sh, "sh", "s", false, "Bourne shell syntax")
			return flagSet
		},
		Run: func(args []string) error {
			if csh && sh {
				return errors.New("--csh and --sh are mutually exclusive")
			}
			info, err := announce.Lookup(env.getenv)
			if err != nil {
				return err
			}
			client, err := env.dial()
			if err != nil {
				return fmt.Errorf("agent announced in %s is not reachable: %w", announce.Variable, err)
			}
			client.Close()

			shell := announce.DetectShell(env.getenv("SHELL"))
			switch {
			case csh:
				shell = announce.CShell
			case sh:
				shell = announce.Bourne
			}
			fmt.Fprint(env.stdout, announce.Format(info, shell))
			return nil
		},
	}
}

// readTerminalPassword reads a line from standard input with echo
// disabled.
func readTerminalPassword(prompt string) (*secret.Buffer, error) {
	descriptor := int(os.Stdin.Fd())
	if !term.IsTerminal(descriptor) {
		return nil, fmt.Errorf("%w and standard input is not a terminal", announce.ErrNotSet)
	}
	fmt.Fprint(os.Stderr, prompt)
	passwordBytes, err := term.ReadPassword(descriptor)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	if len(passwordBytes) == 0 {
		return nil, secret.ErrEmpty
	}
	buffer, err := secret.NewFromBytes(passwordBytes)
	if err != nil {
		secret.Zero(passwordBytes)
		return nil, err
	}
	return buffer, nil
}
