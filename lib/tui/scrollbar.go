// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RenderScrollbar draws a one-column vertical scrollbar: a thumb over a
// track, sized and positioned to mirror which slice of totalItems the
// visible window covers. When everything fits the thumb fills the whole
// column. The thumb takes the running-status accent while focused and
// the border color otherwise, so an unfocused pane's scrollbar recedes.
func RenderScrollbar(theme Theme, height, totalItems, visibleItems, scrollOffset int, focused bool) string {
	if height <= 0 {
		return ""
	}

	thumbColor := theme.BorderColor
	if focused {
		thumbColor = theme.StatusRunning
	}
	thumb := lipgloss.NewStyle().Foreground(thumbColor).Render("┃")
	track := lipgloss.NewStyle().Foreground(theme.BorderColor).Render("│")

	top, size := thumbGeometry(height, totalItems, visibleItems, scrollOffset)

	var column strings.Builder
	for row := 0; row < height; row++ {
		if row > 0 {
			column.WriteByte('\n')
		}
		if row >= top && row < top+size {
			column.WriteString(thumb)
		} else {
			column.WriteString(track)
		}
	}
	return column.String()
}

// thumbGeometry maps the scroll state onto the column: the thumb's rows
// are proportional to the visible fraction (at least one), its top row
// proportional to how far into the scrollable range the offset sits.
func thumbGeometry(height, totalItems, visibleItems, scrollOffset int) (top, size int) {
	if totalItems <= visibleItems || totalItems <= 0 {
		return 0, height
	}

	size = height * visibleItems / totalItems
	if size < 1 {
		size = 1
	}

	hidden := totalItems - visibleItems
	travel := height - size
	if hidden > 0 && travel > 0 {
		top = scrollOffset * travel / hidden
	}
	if top+size > height {
		top = height - size
	}
	return top, size
}
