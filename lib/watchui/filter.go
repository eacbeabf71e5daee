// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watchui

import (
	"cmp"
	"slices"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/junegunn/fzf/src/util"

	"github.com/bureau-foundation/conveyor/lib/runner"
	"github.com/bureau-foundation/conveyor/lib/tui"
)

// Row is one displayed instance: its live status plus the match the
// current filter produced. Positions index runes in the instance ID
// for highlight rendering; Score is zero when no filter is active.
type Row struct {
	Status    runner.InstanceStatus
	Score     int
	Positions []int
}

// FilterModel narrows the instance table with a fuzzy query against
// instance IDs. An ID folds job, runner label, and matrix axes into
// one string, so "winrel" lands on the Windows release cell without
// spelling any part of it out.
type FilterModel struct {
	// Input is the current filter query text.
	Input string

	// Active is true while the filter has keyboard focus (between
	// pressing / and enter or escape).
	Active bool
}

// Apply matches every instance against the current filter. An empty
// filter returns all instances in plan order with zero scores. A
// non-empty filter returns only matching instances, best score first;
// equal scores keep plan order.
func (filter *FilterModel) Apply(instances []runner.InstanceStatus, slab *util.Slab) []Row {
	if filter.Input == "" {
		rows := make([]Row, len(instances))
		for i, instance := range instances {
			rows[i] = Row{Status: instance}
		}
		return rows
	}

	pattern := []rune(filter.Input)
	var rows []Row
	for _, instance := range instances {
		match := tui.FuzzyMatch(instance.ID, pattern, slab)
		if match.Score <= 0 {
			continue
		}
		rows = append(rows, Row{
			Status:    instance,
			Score:     match.Score,
			Positions: match.Positions,
		})
	}

	slices.SortStableFunc(rows, func(a, b Row) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return rows
}

// HandleRune appends a typed character to the query. Returns true if
// the input changed.
func (filter *FilterModel) HandleRune(character rune) bool {
	filter.Input += string(character)
	return true
}

// HandleBackspace drops the final rune of the query. Returns true if
// the input changed.
func (filter *FilterModel) HandleBackspace() bool {
	if filter.Input == "" {
		return false
	}
	_, size := utf8.DecodeLastRuneInString(filter.Input)
	filter.Input = filter.Input[:len(filter.Input)-size]
	return true
}

// Clear resets the filter input and deactivates it.
func (filter *FilterModel) Clear() {
	filter.Input = ""
	filter.Active = false
}

// View renders the filter bar: the query with a block cursor while
// typing, a dim reminder line when a filter is applied but focus has
// returned to the table, nothing when no filter is set.
func (filter *FilterModel) View(theme tui.Theme, width int) string {
	switch {
	case filter.Active:
		cursor := lipgloss.NewStyle().
			Foreground(theme.HeaderForeground).
			Bold(true).
			Render("▎")
		return lipgloss.NewStyle().
			Foreground(theme.NormalText).
			Width(width).
			Render(" / " + filter.Input + cursor)
	case filter.Input != "":
		return lipgloss.NewStyle().
			Foreground(theme.FaintText).
			Width(width).
			Render(" filter: " + filter.Input)
	default:
		return ""
	}
}
