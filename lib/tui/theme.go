// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/conveyor/lib/runlog"
)

// Theme defines the color palette and visual properties for conveyor's
// terminal UIs. All colors use lipgloss ANSI 256-color codes for broad
// terminal compatibility.
//
// The fields cover both universal chrome (text, selection, borders)
// and semantic categories (instance status, operating system) that
// recur across surfaces — the live dashboard and the rendered history
// report color build outcomes the same way.
type Theme struct {
	// Text colors.
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Selected row.
	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color

	// Instance status colors: the two live states plus the three
	// terminal conclusions.
	StatusQueued  lipgloss.Color
	StatusRunning lipgloss.Color
	StatusSuccess lipgloss.Color
	StatusFailure lipgloss.Color
	StatusAborted lipgloss.Color

	// Operating-system accents for runner labels.
	OSLinux   lipgloss.Color
	OSWindows lipgloss.Color
	OSMacOS   lipgloss.Color

	// UI chrome.
	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color

	// Animation accents: background tint for recently-changed rows.
	// HotAccentUpdate is used for step progress; HotAccentFailure for
	// instances that just failed.
	HotAccentUpdate  lipgloss.Color
	HotAccentFailure lipgloss.Color

	// Filter match highlighting.
	SearchHighlightBackground lipgloss.Color // Background tint for matched characters.

	// Code and excerpt rendering in reports.
	CodeForeground lipgloss.Color // Text color inside fenced blocks.
	CodeBackground lipgloss.Color // Background color for fenced blocks.
}

// StatusColor returns the color for an instance status string. It
// recognizes the live lifecycle states ("queued", "running") and the
// terminal conclusions (success, failure, aborted), returning
// FaintText for unknown values.
func (theme Theme) StatusColor(status string) lipgloss.Color {
	switch status {
	case "queued":
		return theme.StatusQueued
	case "running":
		return theme.StatusRunning
	case string(runlog.ConclusionSuccess):
		return theme.StatusSuccess
	case string(runlog.ConclusionFailure):
		return theme.StatusFailure
	case string(runlog.ConclusionAborted):
		return theme.StatusAborted
	default:
		return theme.FaintText
	}
}

// OSColor returns the accent color for a runner operating system name
// ("Linux", "Windows", "macOS"). Unknown names return NormalText.
func (theme Theme) OSColor(osName string) lipgloss.Color {
	switch osName {
	case "Linux":
		return theme.OSLinux
	case "Windows":
		return theme.OSWindows
	case "macOS":
		return theme.OSMacOS
	default:
		return theme.NormalText
	}
}

// DefaultTheme is the built-in dark-terminal color scheme. Designed for
// 256-color terminals with a dark background (the common case for
// development environments and tmux sessions).
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	SelectedBackground: lipgloss.Color("236"),
	SelectedForeground: lipgloss.Color("255"),

	StatusQueued:  lipgloss.Color("245"), // gray
	StatusRunning: lipgloss.Color("220"), // yellow/amber
	StatusSuccess: lipgloss.Color("114"), // green
	StatusFailure: lipgloss.Color("196"), // red
	StatusAborted: lipgloss.Color("208"), // orange

	OSLinux:   lipgloss.Color("208"), // orange
	OSWindows: lipgloss.Color("75"),  // blue
	OSMacOS:   lipgloss.Color("252"), // neutral

	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("240"),
	HelpText:         lipgloss.Color("241"),

	HotAccentUpdate:  lipgloss.Color("58"), // dark amber background tint
	HotAccentFailure: lipgloss.Color("52"), // dark red background tint

	SearchHighlightBackground: lipgloss.Color("58"), // dark amber (matches HotAccentUpdate)

	CodeForeground: lipgloss.Color("252"),
	CodeBackground: lipgloss.Color("236"),
}
