// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watchui

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the dashboard's key bindings. Up/Down and the page and
// edge motions act on whichever pane has focus: row selection in the
// build table, scrollback in the output pane.
type KeyMap struct {
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Home     key.Binding
	End      key.Binding

	FocusToggle key.Binding

	// Follow re-attaches the output pane to the live tail after the
	// user scrolled up into history.
	Follow key.Binding

	FilterActivate key.Binding
	FilterClear    key.Binding

	Quit key.Binding
}

func bind(help, action string, keys ...string) key.Binding {
	return key.NewBinding(key.WithKeys(keys...), key.WithHelp(help, action))
}

// DefaultKeyMap follows vim conventions (j/k, g/G, ctrl+d/u) with the
// arrow and page keys as synonyms.
var DefaultKeyMap = KeyMap{
	Up:       bind("k/↑", "up", "k", "up"),
	Down:     bind("j/↓", "down", "j", "down"),
	PageUp:   bind("C-u", "page up", "ctrl+u", "pgup"),
	PageDown: bind("C-d", "page down", "ctrl+d", "pgdown"),
	Home:     bind("g", "top", "g", "home"),
	End:      bind("G", "bottom", "G", "end"),

	FocusToggle: bind("Tab", "switch pane", "tab"),
	Follow:      bind("f", "follow output", "f"),

	FilterActivate: bind("/", "filter", "/"),
	FilterClear:    bind("Esc", "clear filter", "esc"),

	Quit: bind("q", "quit", "q", "ctrl+c"),
}
