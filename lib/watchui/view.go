// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watchui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/bureau-foundation/conveyor/lib/runlog"
	"github.com/bureau-foundation/conveyor/lib/runner"
	"github.com/bureau-foundation/conveyor/lib/tui"
)

// View implements tea.Model. Renders the full dashboard frame: header,
// instance table, output pane, and help bar.
func (model Model) View() string {
	if !model.ready {
		return "Loading..."
	}

	if model.snapshot.RunID == "" {
		return model.renderIdle()
	}

	var sections []string

	// Top chrome line: either the run header or the filter bar. The
	// filter bar replaces the header so the layout doesn't shift.
	filterView := model.filter.View(model.theme, model.width)
	if filterView != "" {
		sections = append(sections, filterView)
	} else {
		sections = append(sections, model.renderHeader())
	}

	sections = append(sections, model.renderTable())
	sections = append(sections, model.renderOutputTitle())
	sections = append(sections, model.renderOutput())

	separator := lipgloss.NewStyle().
		Foreground(model.theme.BorderColor).
		Render(strings.Repeat("─", model.width))
	sections = append(sections, separator)

	sections = append(sections, model.renderHelp())

	return strings.Join(sections, "\n")
}

// renderIdle renders the waiting state shown before the first push
// arrives in watch mode.
func (model Model) renderIdle() string {
	messageStyle := lipgloss.NewStyle().
		Foreground(model.theme.FaintText)

	return lipgloss.Place(
		model.width, model.height,
		lipgloss.Center, lipgloss.Center,
		messageStyle.Render("Waiting for push events... (q to quit)"),
	)
}

// renderHeader renders the run identity line in the btop style: the
// workflow and ref embedded in a horizontal rule with progress stats
// on the right.
//
// Example: ─── ci ── main@4f2c91d07a3b ──────── 4/6 done  1 failed  42s ─
func (model Model) renderHeader() string {
	separatorStyle := lipgloss.NewStyle().
		Foreground(model.theme.BorderColor)
	workflowStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(model.theme.HeaderForeground)
	refStyle := lipgloss.NewStyle().
		Foreground(model.theme.FaintText)
	statsStyle := lipgloss.NewStyle().
		Foreground(model.theme.FaintText)

	sep := separatorStyle.Render("─")

	workflow := model.snapshot.Workflow
	ref := model.snapshot.Branch
	if sha := model.snapshot.SHA; len(sha) >= 12 {
		ref += "@" + sha[:12]
	} else if sha != "" {
		ref += "@" + sha
	}

	left := sep + sep + sep +
		" " + workflowStyle.Render(workflow) + " " +
		sep + sep +
		" " + refStyle.Render(ref) + " "
	leftWidth := 3 + 1 + lipgloss.Width(workflow) + 1 + 2 + 1 + lipgloss.Width(ref) + 1

	finished := 0
	failed := 0
	for _, instance := range model.snapshot.Instances {
		if instance.State != runner.StateFinished {
			continue
		}
		finished++
		if instance.Conclusion != runlog.ConclusionSuccess {
			failed++
		}
	}

	statsText := fmt.Sprintf("%d/%d done", finished, len(model.snapshot.Instances))
	if failed > 0 {
		statsText += fmt.Sprintf("  %d failed", failed)
	}
	statsText += "  " + formatDuration(model.elapsed())
	statsRendered := statsStyle.Render(statsText)
	statsWidth := lipgloss.Width(statsText)

	rightPortion := " " + statsRendered + " " + sep
	rightWidth := 1 + statsWidth + 1 + 1

	fillCount := model.width - leftWidth - rightWidth
	if fillCount < 1 {
		fillCount = 1
	}
	fill := ""
	for range fillCount {
		fill += sep
	}

	return left + fill + rightPortion
}

// elapsed returns the run's wall-clock duration: final once the run
// concluded, live otherwise.
func (model Model) elapsed() time.Duration {
	if model.snapshot.Conclusion != "" {
		return time.Duration(model.snapshot.DurationMS) * time.Millisecond
	}
	if model.snapshot.StartedAt.IsZero() {
		return 0
	}
	return time.Since(model.snapshot.StartedAt)
}

// renderTable renders the instance table with a right scrollbar.
func (model Model) renderTable() string {
	// Reserve 1 column for the scrollbar.
	rowWidth := model.width - 1
	if rowWidth < 1 {
		rowWidth = 1
	}
	visible := model.tableHeight()
	focused := model.focusRegion == FocusTable

	idWidth := model.idColumnWidth(rowWidth)
	now := time.Now()

	var rows []string
	for index := model.scrollOffset; index < model.scrollOffset+visible && index < len(model.rows); index++ {
		row := model.rows[index]
		selected := index == model.cursor
		rendered := model.renderRow(row, selected, rowWidth, idWidth, now)

		// Heat tint for recently-changed instances (selection
		// highlight takes priority so we skip hot styling there).
		if !selected {
			if heat := model.heatTracker.Heat(row.Status.ID, now); heat > 0 {
				accentColor := model.theme.HotAccentUpdate
				if model.heatTracker.Kind(row.Status.ID) == tui.HeatFailure {
					accentColor = model.theme.HotAccentFailure
				}
				rendered = lipgloss.NewStyle().
					Background(accentColor).
					Width(rowWidth).
					MaxWidth(rowWidth).
					Render(rendered)
			}
		}
		rows = append(rows, rendered)
	}

	// Pad empty rows.
	rendered := len(rows)
	if rendered < visible {
		emptyStyle := lipgloss.NewStyle().Width(rowWidth)
		for padding := rendered; padding < visible; padding++ {
			rows = append(rows, emptyStyle.Render(""))
		}
	}

	scrollbar := tui.RenderScrollbar(
		model.theme, visible,
		len(model.rows), visible, model.scrollOffset,
		focused,
	)

	contentStyle := lipgloss.NewStyle().
		Width(rowWidth).
		Height(visible)

	return lipgloss.JoinHorizontal(lipgloss.Top,
		contentStyle.Render(strings.Join(rows, "\n")),
		scrollbar,
	)
}

// idColumnWidth returns the ID column width: wide enough for the
// longest instance ID, capped at half the row.
func (model Model) idColumnWidth(rowWidth int) int {
	width := 12
	for _, row := range model.rows {
		if length := lipgloss.Width(row.Status.ID); length > width {
			width = length
		}
	}
	if max := rowWidth / 2; width > max {
		width = max
	}
	return width
}

// renderRow renders one instance row: status glyph, instance ID
// (with filter match highlighting), OS tag, current activity, and a
// right-aligned duration.
func (model Model) renderRow(row Row, selected bool, rowWidth, idWidth int, now time.Time) string {
	status := row.Status
	glyph := statusGlyph(status)
	id := truncateString(status.ID, idWidth)
	detail := instanceDetail(status)
	duration := instanceDuration(status, now)

	// Trim the activity text so the duration never wraps off the row.
	// Fixed columns: " " + glyph + " " + id + " " + os tag + "  ".
	fixedWidth := 1 + 1 + 1 + idWidth + 1 + 3 + 2
	detailWidth := rowWidth - fixedWidth - lipgloss.Width(duration) - 2
	if detailWidth < 0 {
		detailWidth = 0
	}
	if lipgloss.Width(detail) > detailWidth {
		if detailWidth > 1 {
			detail = truncateString(detail, detailWidth-1) + "…"
		} else {
			detail = ""
		}
	}
	gap := detailWidth - lipgloss.Width(detail) + 1
	if gap < 1 {
		gap = 1
	}

	idPadding := strings.Repeat(" ", idWidth-lipgloss.Width(id))

	if selected {
		baseStyle := lipgloss.NewStyle().
			Background(model.theme.SelectedBackground).
			Foreground(model.theme.SelectedForeground)

		var idRendered string
		if len(row.Positions) > 0 {
			// On a selected row the background is already the selection
			// color; bold+underline makes matches pop against it.
			highlightStyle := baseStyle.Bold(true).Underline(true)
			idRendered = highlightMatch(id, row.Positions, baseStyle, highlightStyle)
		} else {
			idRendered = baseStyle.Render(id)
		}

		line := " " + baseStyle.Render(glyph) + " " +
			idRendered + baseStyle.Render(idPadding) + " " +
			baseStyle.Render(osTag(status.OS)) + "  " +
			baseStyle.Render(detail) +
			baseStyle.Render(strings.Repeat(" ", gap)) +
			baseStyle.Render(duration) + " "
		return baseStyle.Width(rowWidth).MaxWidth(rowWidth).Render(line)
	}

	glyphStyle := lipgloss.NewStyle().
		Foreground(model.theme.StatusColor(statusKey(status)))
	idStyle := lipgloss.NewStyle().
		Foreground(model.theme.NormalText)
	osStyle := lipgloss.NewStyle().
		Foreground(model.theme.OSColor(status.OS))
	detailStyle := lipgloss.NewStyle().
		Foreground(model.theme.FaintText)
	if status.State == runner.StateFinished && status.Conclusion == runlog.ConclusionFailure {
		detailStyle = detailStyle.Foreground(model.theme.StatusFailure)
	}
	durationStyle := lipgloss.NewStyle().
		Foreground(model.theme.FaintText)

	var idRendered string
	if len(row.Positions) > 0 {
		highlightStyle := lipgloss.NewStyle().
			Foreground(model.theme.NormalText).
			Background(model.theme.SearchHighlightBackground)
		idRendered = highlightMatch(id, row.Positions, idStyle, highlightStyle)
	} else {
		idRendered = idStyle.Render(id)
	}

	line := " " + glyphStyle.Render(glyph) + " " +
		idRendered + idPadding + " " +
		osStyle.Render(osTag(status.OS)) + "  " +
		detailStyle.Render(detail) +
		strings.Repeat(" ", gap) +
		durationStyle.Render(duration) + " "
	return lipgloss.NewStyle().Width(rowWidth).MaxWidth(rowWidth).Render(line)
}

// renderOutputTitle renders the rule separating the table from the
// output pane, naming the instance the pane is following.
func (model Model) renderOutputTitle() string {
	separatorStyle := lipgloss.NewStyle().
		Foreground(model.theme.BorderColor)
	sep := separatorStyle.Render("─")

	labelColor := model.theme.FaintText
	if model.focusRegion == FocusOutput {
		labelColor = model.theme.HeaderForeground
	}
	labelStyle := lipgloss.NewStyle().
		Bold(model.focusRegion == FocusOutput).
		Foreground(labelColor)

	label := "output"
	if model.outputID != "" {
		label = "output: " + model.outputID
	}

	left := sep + sep + sep + " " + labelStyle.Render(label) + " "
	leftWidth := 3 + 1 + lipgloss.Width(label) + 1

	right := ""
	rightWidth := 0
	if model.outputScroll > 0 {
		scrolledText := fmt.Sprintf("↑ %d lines (f to follow)", model.outputScroll)
		right = " " + labelStyle.Bold(false).Render(scrolledText) + " " + sep
		rightWidth = 1 + lipgloss.Width(scrolledText) + 1 + 1
	}

	fillCount := model.width - leftWidth - rightWidth
	if fillCount < 1 {
		fillCount = 1
	}
	fill := ""
	for range fillCount {
		fill += sep
	}

	return left + fill + right
}

// renderOutput renders the output pane: the tail window of the
// selected instance's combined stdout/stderr with a right scrollbar.
// Build tool escape sequences pass through so colored compiler output
// renders as the tool intended.
func (model Model) renderOutput() string {
	lineWidth := model.width - 1
	if lineWidth < 1 {
		lineWidth = 1
	}
	visible := model.outputHeight()
	focused := model.focusRegion == FocusOutput

	end := len(model.outputLines) - model.outputScroll
	if end > len(model.outputLines) {
		end = len(model.outputLines)
	}
	if end < 0 {
		end = 0
	}
	start := end - visible
	if start < 0 {
		start = 0
	}

	lineStyle := lipgloss.NewStyle().
		Width(lineWidth).
		MaxWidth(lineWidth)

	var lines []string
	for _, line := range model.outputLines[start:end] {
		// ANSI-aware truncation: never cut a line mid escape sequence.
		lines = append(lines, lineStyle.Render(ansi.Truncate(line, lineWidth, "…")))
	}
	for len(lines) < visible {
		lines = append(lines, lineStyle.Render(""))
	}

	scrollbar := tui.RenderScrollbar(
		model.theme, visible,
		len(model.outputLines), visible, start,
		focused,
	)

	contentStyle := lipgloss.NewStyle().
		Width(lineWidth).
		Height(visible)

	return lipgloss.JoinHorizontal(lipgloss.Top,
		contentStyle.Render(strings.Join(lines, "\n")),
		scrollbar,
	)
}

// renderHelp renders the bottom bar: key hints while the run is live,
// the final summary once it concludes.
func (model Model) renderHelp() string {
	style := lipgloss.NewStyle().Foreground(model.theme.HelpText)

	if model.snapshot.Conclusion != "" {
		return model.renderSummary()
	}

	focusIndicator := "TABLE"
	switch model.focusRegion {
	case FocusOutput:
		focusIndicator = "OUTPUT"
	case FocusFilter:
		focusIndicator = "FILTER"
	}

	help := fmt.Sprintf(" [%s] q quit  j/k navigate  Tab focus  f follow  / filter",
		focusIndicator)

	if len(model.rows) > model.tableHeight() {
		position := fmt.Sprintf("%d-%d/%d",
			model.scrollOffset+1,
			min(model.scrollOffset+model.tableHeight(), len(model.rows)),
			len(model.rows))
		gap := model.width - lipgloss.Width(help) - lipgloss.Width(position) - 1
		if gap > 0 {
			help += strings.Repeat(" ", gap) + position
		}
	}

	return style.Width(model.width).MaxWidth(model.width).Render(help)
}

// renderSummary renders the post-run bottom bar: overall conclusion,
// per-conclusion counts, and total duration.
func (model Model) renderSummary() string {
	conclusion := model.snapshot.Conclusion
	succeeded := 0
	for _, instance := range model.snapshot.Instances {
		if instance.Conclusion == runlog.ConclusionSuccess {
			succeeded++
		}
	}

	glyph := "✓"
	if conclusion != runlog.ConclusionSuccess {
		glyph = "✗"
	}
	conclusionStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(model.theme.StatusColor(string(conclusion)))

	detailStyle := lipgloss.NewStyle().Foreground(model.theme.HelpText)
	summary := " " + conclusionStyle.Render(glyph+" "+string(conclusion)) +
		detailStyle.Render(fmt.Sprintf("  %d/%d builds succeeded  %s  (q to quit)",
			succeeded, len(model.snapshot.Instances),
			formatDuration(model.elapsed())))

	return lipgloss.NewStyle().Width(model.width).MaxWidth(model.width).Render(summary)
}

// statusGlyph returns the single-character indicator for an instance.
func statusGlyph(status runner.InstanceStatus) string {
	switch status.State {
	case runner.StateQueued:
		return "○"
	case runner.StateRunning:
		return "●"
	default:
		switch status.Conclusion {
		case runlog.ConclusionSuccess:
			return "✓"
		case runlog.ConclusionFailure:
			return "✗"
		default:
			return "■"
		}
	}
}

// statusKey maps an instance to the status vocabulary the theme colors
// by: the state while queued or running, the conclusion once finished.
func statusKey(status runner.InstanceStatus) string {
	if status.State == runner.StateFinished {
		return string(status.Conclusion)
	}
	return string(status.State)
}

// instanceDetail returns the activity column text for an instance.
func instanceDetail(status runner.InstanceStatus) string {
	switch status.State {
	case runner.StateQueued:
		return "waiting"
	case runner.StateRunning:
		if status.StepName == "" {
			return "starting"
		}
		return fmt.Sprintf("step %d/%d  %s", status.StepIndex+1, status.StepCount, status.StepName)
	default:
		switch status.Conclusion {
		case runlog.ConclusionSuccess:
			return ""
		case runlog.ConclusionFailure:
			if status.FailedStep != "" {
				return "failed: " + status.FailedStep
			}
			return status.Error
		default:
			if status.Error != "" {
				return status.Error
			}
			return "aborted"
		}
	}
}

// instanceDuration returns the duration column text: live elapsed time
// while running, final duration once finished, blank while queued.
func instanceDuration(status runner.InstanceStatus, now time.Time) string {
	switch status.State {
	case runner.StateQueued:
		return ""
	case runner.StateRunning:
		if status.StartedAt.IsZero() {
			return ""
		}
		return formatDuration(now.Sub(status.StartedAt))
	default:
		return formatDuration(time.Duration(status.DurationMS) * time.Millisecond)
	}
}

// osTag returns the fixed-width operating system tag for a row.
func osTag(osName string) string {
	switch osName {
	case "Linux":
		return "lnx"
	case "Windows":
		return "win"
	case "macOS":
		return "mac"
	default:
		if len(osName) >= 3 {
			return strings.ToLower(osName[:3])
		}
		return fmt.Sprintf("%-3s", strings.ToLower(osName))
	}
}

// formatDuration formats a duration for the dashboard: "42s", "1m23s",
// or "1h02m".
func formatDuration(duration time.Duration) string {
	if duration < 0 {
		duration = 0
	}
	duration = duration.Round(time.Second)
	hours := int(duration.Hours())
	minutes := int(duration.Minutes()) % 60
	seconds := int(duration.Seconds()) % 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh%02dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm%02ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// highlightMatch renders text with character-level highlighting at the
// given rune positions. Consecutive runs of same-style characters are
// batched into a single Render call to keep ANSI output compact.
func highlightMatch(text string, positions []int, baseStyle, highlightStyle lipgloss.Style) string {
	if len(positions) == 0 {
		return baseStyle.Render(text)
	}

	positionSet := make(map[int]bool, len(positions))
	for _, position := range positions {
		positionSet[position] = true
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return ""
	}

	var result strings.Builder
	runStart := 0
	isHighlighted := positionSet[0]

	for index := 1; index <= len(runes); index++ {
		currentHighlighted := index < len(runes) && positionSet[index]
		if currentHighlighted != isHighlighted || index == len(runes) {
			chunk := string(runes[runStart:index])
			if isHighlighted {
				result.WriteString(highlightStyle.Render(chunk))
			} else {
				result.WriteString(baseStyle.Render(chunk))
			}
			runStart = index
			isHighlighted = currentHighlighted
		}
	}

	return result.String()
}

// truncateString truncates a string to maxWidth visual columns.
func truncateString(text string, maxWidth int) string {
	if lipgloss.Width(text) <= maxWidth {
		return text
	}
	runes := []rune(text)
	for length := len(runes) - 1; length >= 0; length-- {
		candidate := string(runes[:length])
		if lipgloss.Width(candidate) <= maxWidth {
			return candidate
		}
	}
	return ""
}
