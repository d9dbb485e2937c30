// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package prompt

import (
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/bureau-foundation/passagent/lib/secret"
	"github.com/bureau-foundation/passagent/lib/slot"
)

type outcome int

const (
	outcomePending outcome = iota
	outcomeSubmitted
	outcomeCancelled
	outcomeAllowed
	outcomeDenied
)

const (
	minDialogWidth = 24
	maxDialogWidth = 64
)

// dialogStyles are bound to the renderer of the terminal the dialog
// draws on, which is not the agent's own stdout.
type dialogStyles struct {
	title lipgloss.Style
	err   lipgloss.Style
	faint lipgloss.Style
	pin   lipgloss.Style
	box   lipgloss.Style
}

func newDialogStyles(renderer *lipgloss.Renderer) dialogStyles {
	return dialogStyles{
		title: renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		err:   renderer.NewStyle().Foreground(lipgloss.Color("196")),
		faint: renderer.NewStyle().Foreground(lipgloss.Color("245")),
		pin:   renderer.NewStyle().Foreground(lipgloss.Color("214")),
		box: renderer.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
	}
}

// dialogModel is the bubbletea model of one prompt. Typed bytes live in
// a fixed-capacity slice so that nothing is reallocated and left behind
// unzeroed; the model never converts them to a string.
type dialogModel struct {
	kind    Kind
	request Request
	keys    dialogKeys
	help    help.Model
	styles  dialogStyles

	input   []byte
	runes   int
	pin     bool
	outcome outcome
	width   int
}

func newDialogModel(kind Kind, request Request) *dialogModel {
	return &dialogModel{
		kind:    kind,
		request: request,
		keys:    newDialogKeys(kind),
		help:    help.New(),
		styles:  newDialogStyles(lipgloss.DefaultRenderer()),
		input:   make([]byte, 0, MaxPassphrase),
	}
}

// useRenderer restyles the dialog for the terminal behind renderer.
func (m *dialogModel) useRenderer(renderer *lipgloss.Renderer) {
	m.styles = newDialogStyles(renderer)
}

func (m *dialogModel) Init() tea.Cmd { return nil }

func (m *dialogModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil
	case tea.KeyMsg:
		if m.outcome != outcomePending {
			return m, nil
		}
		if m.kind == Authorization {
			return m.updateAuthorization(msg)
		}
		return m.updatePassphrase(msg)
	}
	return m, nil
}

func (m *dialogModel) updateAuthorization(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Allow):
		m.outcome = outcomeAllowed
		return m, tea.Quit
	case key.Matches(msg, m.keys.Deny):
		m.outcome = outcomeDenied
		return m, tea.Quit
	}
	return m, nil
}

func (m *dialogModel) updatePassphrase(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Submit):
		m.outcome = outcomeSubmitted
		return m, tea.Quit
	case key.Matches(msg, m.keys.Cancel):
		m.outcome = outcomeCancelled
		m.wipe()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Backspace):
		if len(m.input) > 0 {
			_, size := utf8.DecodeLastRune(m.input)
			secret.Zero(m.input[len(m.input)-size:])
			m.input = m.input[:len(m.input)-size]
			m.runes--
		}
		return m, nil
	case key.Matches(msg, m.keys.ClearInput):
		m.wipe()
		return m, nil
	case key.Matches(msg, m.keys.TogglePin):
		m.pin = !m.pin
		return m, nil
	}

	switch msg.Type {
	case tea.KeyRunes:
		if msg.Alt {
			return m, nil
		}
		for _, r := range msg.Runes {
			m.appendRune(r)
		}
	case tea.KeySpace:
		m.appendRune(' ')
	}
	return m, nil
}

func (m *dialogModel) appendRune(r rune) {
	if utf8.RuneLen(r) < 0 || len(m.input)+utf8.RuneLen(r) > cap(m.input) {
		return
	}
	m.input = utf8.AppendRune(m.input, r)
	m.runes++
}

func (m *dialogModel) wipe() {
	secret.Zero(m.input[:cap(m.input)])
	m.input = m.input[:0]
	m.runes = 0
}

func (m *dialogModel) View() string {
	if m.outcome != outcomePending {
		return ""
	}
	width := maxDialogWidth
	if m.width > 0 && m.width-4 < width {
		width = max(m.width-4, minDialogWidth)
	}

	var body []string
	title := "passagent"
	if m.request.KeyID != "" {
		title += " · " + m.request.KeyID
	}
	// The border and padding take four columns.
	title = ansi.Truncate(title, width-4, "…")
	body = append(body, m.styles.title.Render(title), "")

	lines := m.request.Lines(m.kind)
	if m.request.ErrorMessage != "" || m.request.Repeat {
		body = append(body, m.styles.err.Render(lines[0]))
		lines = lines[1:]
	}
	if m.kind == Passphrase {
		for _, line := range lines[:len(lines)-1] {
			body = append(body, line)
		}
		prompt := lines[len(lines)-1]
		body = append(body, "", prompt+" "+strings.Repeat("•", m.runes)+"█")
		if m.pin {
			body = append(body, m.styles.pin.Render("Entry will be kept until cleared."))
		}
	} else {
		body = append(body, lines...)
	}

	body = append(body, "", m.styles.faint.Render(m.help.View(m.keys)))
	return m.styles.box.Width(width).Render(strings.Join(body, "\n"))
}

// completion converts the final state into a Completion and releases
// the typed bytes.
func (m *dialogModel) completion(ticket slot.Handle) Completion {
	completion := Completion{Ticket: ticket, Kind: m.kind}
	switch m.outcome {
	case outcomeAllowed:
		completion.Authorized = true
	case outcomeSubmitted:
		if len(m.input) > 0 {
			// NewFromBytes zeroes the source on success.
			buffer, err := secret.NewFromBytes(m.input)
			if err == nil {
				completion.Secret = buffer
				completion.Pin = m.pin
			}
		}
	}
	m.wipe()
	return completion
}
