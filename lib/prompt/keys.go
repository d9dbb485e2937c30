// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package prompt

import "github.com/charmbracelet/bubbles/key"

// dialogKeys defines the key bindings of the terminal dialog. Which
// bindings are live depends on the prompt kind; help only lists those.
type dialogKeys struct {
	kind Kind

	// Passphrase entry.
	Submit     key.Binding
	Cancel     key.Binding
	Backspace  key.Binding
	ClearInput key.Binding
	TogglePin  key.Binding

	// Authorization.
	Allow key.Binding
	Deny  key.Binding
}

func newDialogKeys(kind Kind) dialogKeys {
	return dialogKeys{
		kind: kind,
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "ok"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc", "ctrl+c"),
			key.WithHelp("esc", "cancel"),
		),
		Backspace: key.NewBinding(
			key.WithKeys("backspace", "ctrl+h"),
		),
		ClearInput: key.NewBinding(
			key.WithKeys("ctrl+u"),
			key.WithHelp("C-u", "clear"),
		),
		TogglePin: key.NewBinding(
			key.WithKeys("ctrl+p"),
			key.WithHelp("C-p", "keep cached"),
		),
		Allow: key.NewBinding(
			key.WithKeys("y", "enter"),
			key.WithHelp("y", "allow"),
		),
		Deny: key.NewBinding(
			key.WithKeys("n", "esc", "ctrl+c"),
			key.WithHelp("n", "deny"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k dialogKeys) ShortHelp() []key.Binding {
	if k.kind == Authorization {
		return []key.Binding{k.Allow, k.Deny}
	}
	return []key.Binding{k.Submit, k.Cancel, k.TogglePin, k.ClearInput}
}

// FullHelp implements help.KeyMap.
func (k dialogKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}
