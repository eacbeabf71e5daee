// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/bureau-foundation/conveyor/lib/tui"
)

// The goldmark parser is configured once and shared. Parsing itself
// creates per-call state via Parse(reader), so the shared instance is
// safe for concurrent use.
var (
	parserOnce     sync.Once
	parserInstance goldmark.Markdown
)

func markdownParser() goldmark.Markdown {
	parserOnce.Do(func() {
		parserInstance = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		)
	})
	return parserInstance
}

// Terminal renders markdown as ANSI-styled text wrapped to width.
// Soft line breaks inside paragraphs become spaces so the text
// reflows at any terminal width; code blocks keep their lines
// verbatim. Table cells holding a bare result word (success, failed,
// aborted, ...) are colored with the matching status color.
func Terminal(markdownText string, theme tui.Theme, width int) string {
	if markdownText == "" {
		return ""
	}
	source := []byte(markdownText)
	document := markdownParser().Parser().Parse(text.NewReader(source))

	// Report output is always for terminal display, so force the
	// ANSI-256 profile instead of auto-detecting — detection yields
	// uncolored output whenever stderr isn't a TTY (pipes, tests).
	// SetColorProfile is needed on top of the option because the
	// renderer re-detects the profile unless one was set explicitly.
	styler := lipgloss.NewRenderer(os.Stderr, termenv.WithProfile(termenv.ANSI256))
	styler.SetColorProfile(termenv.ANSI256)

	renderer := &termRenderer{
		source: source,
		theme:  theme,
		width:  width,
		styler: styler,
	}
	ast.Walk(document, renderer.visit)
	return strings.TrimRight(renderer.out.String(), "\n")
}

// termRenderer walks the goldmark AST directly rather than through
// goldmark's renderer interface: terminal output needs
// accumulate-then-wrap semantics, where a block's inline content
// collects into a buffer and word-wraps as a unit when the block
// closes, and the streaming renderer callbacks don't fit that.
type termRenderer struct {
	source []byte
	theme  tui.Theme
	width  int

	out strings.Builder

	// Inline accumulator for the block currently being rendered,
	// flushed with word-wrap when the block closes.
	inline strings.Builder

	// Indent stack for nested containers (blockquotes, list items).
	indentStack []indentLevel
	linePrefix  string
	prefixWidth int

	// pendingBullet replaces linePrefix for the next emitted line
	// only — the first line of a list item carries the bullet, the
	// continuation lines carry spaces.
	pendingBullet string

	// Style counters rather than booleans so nested emphasis nests.
	boldCount   int
	italicCount int
	strikeCount int

	listStack []listState

	// styler carries the forced color profile; every style must be
	// created through it or the profile is lost.
	styler *lipgloss.Renderer

	// Trailing newline count at the end of out, for blank line
	// management between blocks.
	trailingNewlines int
}

type indentLevel struct {
	text  string
	width int
}

type listState struct {
	ordered bool
	counter int
	tight   bool
}

func (renderer *termRenderer) newStyle() lipgloss.Style {
	return renderer.styler.NewStyle()
}

// contentWidth is the wrap width after nesting prefixes, floored so
// deep nesting can't degenerate into one-word lines.
func (renderer *termRenderer) contentWidth() int {
	width := renderer.width - renderer.prefixWidth
	if width < 10 {
		width = 10
	}
	return width
}

func (renderer *termRenderer) pushIndent(prefixText string, visibleWidth int) {
	renderer.indentStack = append(renderer.indentStack, indentLevel{text: prefixText, width: visibleWidth})
	renderer.linePrefix += prefixText
	renderer.prefixWidth += visibleWidth
}

func (renderer *termRenderer) popIndent() {
	if len(renderer.indentStack) == 0 {
		return
	}
	top := renderer.indentStack[len(renderer.indentStack)-1]
	renderer.indentStack = renderer.indentStack[:len(renderer.indentStack)-1]
	renderer.linePrefix = renderer.linePrefix[:len(renderer.linePrefix)-len(top.text)]
	renderer.prefixWidth -= top.width
}

func (renderer *termRenderer) inTightList() bool {
	if len(renderer.listStack) == 0 {
		return false
	}
	return renderer.listStack[len(renderer.listStack)-1].tight
}

// emit appends to the output, keeping the trailing newline count
// current. A string of only newlines extends the count; anything else
// resets it to its own trailing newlines.
func (renderer *termRenderer) emit(s string) {
	if s == "" {
		return
	}
	renderer.out.WriteString(s)

	trailing := 0
	onlyNewlines := true
	for index := len(s) - 1; index >= 0; index-- {
		if s[index] == '\n' {
			trailing++
		} else {
			onlyNewlines = false
			break
		}
	}
	if onlyNewlines {
		renderer.trailingNewlines += trailing
	} else {
		renderer.trailingNewlines = trailing
	}
}

func (renderer *termRenderer) ensureNewline() {
	if renderer.out.Len() == 0 {
		return
	}
	if renderer.trailingNewlines < 1 {
		renderer.emit("\n")
	}
}

// ensureBlankLine separates blocks. A no-op at the very start of the
// output so a document opening with a heading or table doesn't begin
// with empty lines.
func (renderer *termRenderer) ensureBlankLine() {
	if renderer.out.Len() == 0 {
		return
	}
	for renderer.trailingNewlines < 2 {
		renderer.emit("\n")
	}
}

// firstLinePrefix returns the prefix for the next line: the pending
// bullet if one is waiting (consumed), the regular prefix otherwise.
func (renderer *termRenderer) firstLinePrefix() string {
	if renderer.pendingBullet != "" {
		bullet := renderer.pendingBullet
		renderer.pendingBullet = ""
		return bullet
	}
	return renderer.linePrefix
}

// prefixed prepends line prefixes to wrapped content: pending bullet
// on the first line, the regular prefix on the rest.
func (renderer *termRenderer) prefixed(content string) string {
	lines := strings.Split(content, "\n")
	var result strings.Builder
	for index, line := range lines {
		if index == 0 {
			result.WriteString(renderer.firstLinePrefix())
		} else {
			result.WriteString(renderer.linePrefix)
		}
		result.WriteString(line)
		if index < len(lines)-1 {
			result.WriteString("\n")
		}
	}
	return result.String()
}

// flushInline word-wraps the accumulated inline content, applies
// prefixes, and resets the accumulator.
func (renderer *termRenderer) flushInline() string {
	content := renderer.inline.String()
	renderer.inline.Reset()
	if content == "" {
		return ""
	}
	content = ansi.Wrap(content, renderer.contentWidth(), " ,.;-+|")
	return renderer.prefixed(content)
}

// inlineStyled renders text with whatever emphasis is currently open.
func (renderer *termRenderer) inlineStyled(content string) string {
	style := renderer.newStyle().Foreground(renderer.theme.NormalText)
	if renderer.boldCount > 0 {
		style = style.Bold(true)
	}
	if renderer.italicCount > 0 {
		style = style.Italic(true)
	}
	if renderer.strikeCount > 0 {
		style = style.Strikethrough(true)
	}
	return style.Render(content)
}

// collectInline renders a node's children into a string, saving and
// restoring the accumulator and emphasis state around the walk.
func (renderer *termRenderer) collectInline(node ast.Node) string {
	savedInline := renderer.inline.String()
	savedBold := renderer.boldCount
	savedItalic := renderer.italicCount
	savedStrike := renderer.strikeCount

	renderer.inline.Reset()
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		ast.Walk(child, renderer.visit)
	}
	result := renderer.inline.String()

	renderer.inline.Reset()
	renderer.inline.WriteString(savedInline)
	renderer.boldCount = savedBold
	renderer.italicCount = savedItalic
	renderer.strikeCount = savedStrike
	return result
}

// --- AST dispatch ---

func (renderer *termRenderer) visit(node ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node.Kind() {

	case ast.KindDocument:
		// Nothing on enter or leave.

	case ast.KindParagraph, ast.KindTextBlock:
		if entering {
			renderer.inline.Reset()
		} else {
			flushed := renderer.flushInline()
			if flushed != "" {
				renderer.emit(flushed)
				renderer.ensureNewline()
				if !renderer.inTightList() {
					renderer.ensureBlankLine()
				}
			}
		}

	case ast.KindHeading:
		if entering {
			renderer.inline.Reset()
		} else {
			renderer.leaveHeading(node.(*ast.Heading))
		}

	case ast.KindFencedCodeBlock:
		if entering {
			renderer.renderFence(node.(*ast.FencedCodeBlock))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindCodeBlock:
		if entering {
			renderer.renderIndentedCode(node.(*ast.CodeBlock))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindBlockquote:
		if entering {
			renderer.pushIndent("│ ", 2)
		} else {
			renderer.popIndent()
			renderer.ensureBlankLine()
		}

	case ast.KindList:
		if entering {
			renderer.enterList(node.(*ast.List))
		} else {
			renderer.leaveList()
		}

	case ast.KindListItem:
		if entering {
			renderer.enterListItem()
		} else {
			renderer.leaveListItem()
		}

	case ast.KindThematicBreak:
		if entering {
			renderer.renderRule()
		}

	case ast.KindText:
		if entering {
			renderer.appendText(node.(*ast.Text))
		}

	case ast.KindString:
		if entering {
			renderer.inline.WriteString(renderer.inlineStyled(string(node.(*ast.String).Value)))
		}

	case ast.KindEmphasis:
		renderer.toggleEmphasis(node.(*ast.Emphasis), entering)

	case ast.KindCodeSpan:
		if entering {
			renderer.appendCodeSpan(node)
			return ast.WalkSkipChildren, nil
		}

	case ast.KindLink:
		if entering {
			renderer.appendLink(node.(*ast.Link))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindAutoLink:
		if entering {
			url := string(node.(*ast.AutoLink).URL(renderer.source))
			renderer.inline.WriteString(renderer.newStyle().Foreground(renderer.theme.FaintText).Render(url))
		}

	case extast.KindStrikethrough:
		if entering {
			renderer.strikeCount++
		} else {
			renderer.strikeCount--
		}

	case extast.KindTable:
		if entering {
			renderer.renderTable(node)
			return ast.WalkSkipChildren, nil
		}

	case extast.KindTaskCheckBox:
		if entering {
			checkbox := node.(*extast.TaskCheckBox)
			if checkbox.IsChecked {
				done := renderer.newStyle().Foreground(renderer.theme.StatusSuccess)
				renderer.inline.WriteString(done.Render("[x]") + " ")
			} else {
				renderer.inline.WriteString(renderer.inlineStyled("[ ] "))
			}
		}
	}

	return ast.WalkContinue, nil
}

// --- Block handlers ---

func (renderer *termRenderer) leaveHeading(heading *ast.Heading) {
	// The heading carries its own style; strip the NormalText styling
	// the inline walk applied so the two don't stack.
	content := ansi.Strip(renderer.inline.String())
	renderer.inline.Reset()
	if content == "" {
		return
	}

	style := renderer.newStyle().Bold(true)
	if heading.Level <= 2 {
		style = style.Foreground(renderer.theme.HeaderForeground)
	} else {
		style = style.Foreground(renderer.theme.NormalText)
	}

	wrapped := ansi.Wrap(style.Render(content), renderer.contentWidth(), " ,.;-+|")
	renderer.ensureBlankLine()
	renderer.emit(renderer.prefixed(wrapped))
	renderer.ensureNewline()
	renderer.ensureBlankLine()
}

func (renderer *termRenderer) renderFence(node *ast.FencedCodeBlock) {
	language := string(node.Language(renderer.source))
	var code strings.Builder
	lines := node.Lines()
	for index := 0; index < lines.Len(); index++ {
		segment := lines.At(index)
		code.Write(segment.Value(renderer.source))
	}

	renderer.ensureBlankLine()
	switch language {
	case "", "text":
		// Plain blocks are build output excerpts; render them as a
		// background panel so they read as one unit.
		renderer.renderCodePanel(code.String())
	default:
		var highlighted strings.Builder
		if err := quick.Highlight(&highlighted, code.String(), language, "terminal256", "monokai"); err != nil {
			renderer.renderCodePanel(code.String())
		} else {
			for _, line := range strings.Split(strings.TrimRight(highlighted.String(), "\n"), "\n") {
				renderer.emit(renderer.firstLinePrefix() + line)
				renderer.ensureNewline()
			}
		}
	}
	renderer.ensureBlankLine()
}

// renderCodePanel writes code as full-width background-tinted lines,
// hard-wrapped so long compiler lines stay inside the panel.
func (renderer *termRenderer) renderCodePanel(code string) {
	width := renderer.contentWidth()
	style := renderer.newStyle().
		Foreground(renderer.theme.CodeForeground).
		Background(renderer.theme.CodeBackground).
		Width(width)
	for _, line := range strings.Split(strings.TrimRight(code, "\n"), "\n") {
		for _, segment := range strings.Split(ansi.Hardwrap(line, width, true), "\n") {
			renderer.emit(renderer.firstLinePrefix() + style.Render(segment))
			renderer.ensureNewline()
		}
	}
}

func (renderer *termRenderer) renderIndentedCode(node *ast.CodeBlock) {
	var code strings.Builder
	lines := node.Lines()
	for index := 0; index < lines.Len(); index++ {
		segment := lines.At(index)
		code.Write(segment.Value(renderer.source))
	}
	renderer.ensureBlankLine()
	renderer.renderCodePanel(code.String())
	renderer.ensureBlankLine()
}

func (renderer *termRenderer) enterList(list *ast.List) {
	start := 0
	if list.IsOrdered() {
		start = list.Start
	}
	renderer.listStack = append(renderer.listStack, listState{
		ordered: list.IsOrdered(),
		counter: start,
		tight:   list.IsTight,
	})
}

func (renderer *termRenderer) leaveList() {
	if len(renderer.listStack) > 0 {
		renderer.listStack = renderer.listStack[:len(renderer.listStack)-1]
	}
	if !renderer.inTightList() {
		renderer.ensureBlankLine()
	}
}

func (renderer *termRenderer) enterListItem() {
	if len(renderer.listStack) == 0 {
		return
	}
	top := &renderer.listStack[len(renderer.listStack)-1]

	var bullet string
	if top.ordered {
		bullet = fmt.Sprintf("%d. ", top.counter)
		top.counter++
	} else {
		bullet = "- "
	}

	bulletWidth := len(bullet) // ASCII bullets, byte length == cell width.
	// The bullet replaces the whole prefix on the item's first line;
	// continuation lines indent under it.
	renderer.pendingBullet = renderer.linePrefix + bullet
	renderer.pushIndent(strings.Repeat(" ", bulletWidth), bulletWidth)
}

func (renderer *termRenderer) leaveListItem() {
	renderer.popIndent()
	if !renderer.inTightList() {
		renderer.ensureBlankLine()
	} else {
		renderer.ensureNewline()
	}
}

func (renderer *termRenderer) renderRule() {
	rule := strings.Repeat("─", renderer.contentWidth())
	style := renderer.newStyle().Foreground(renderer.theme.BorderColor)
	renderer.ensureBlankLine()
	renderer.emit(renderer.prefixed(style.Render(rule)))
	renderer.ensureNewline()
	renderer.ensureBlankLine()
}

// --- Inline handlers ---

func (renderer *termRenderer) appendText(node *ast.Text) {
	value := string(node.Segment.Value(renderer.source))
	renderer.inline.WriteString(renderer.inlineStyled(value))

	if node.SoftLineBreak() {
		// Soft breaks become spaces so source hard-wrapped at one
		// width reflows cleanly at the terminal's width.
		renderer.inline.WriteString(" ")
	}
	if node.HardLineBreak() {
		renderer.inline.WriteString("\n")
	}
}

func (renderer *termRenderer) toggleEmphasis(node *ast.Emphasis, entering bool) {
	if node.Level >= 2 {
		if entering {
			renderer.boldCount++
		} else {
			renderer.boldCount--
		}
	} else {
		if entering {
			renderer.italicCount++
		} else {
			renderer.italicCount--
		}
	}
}

func (renderer *termRenderer) appendCodeSpan(node ast.Node) {
	var code strings.Builder
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch typed := child.(type) {
		case *ast.Text:
			code.Write(typed.Segment.Value(renderer.source))
		case *ast.String:
			code.Write(typed.Value)
		}
	}
	style := renderer.newStyle().Foreground(renderer.theme.CodeForeground)
	renderer.inline.WriteString(style.Render(code.String()))
}

func (renderer *termRenderer) appendLink(node *ast.Link) {
	// collectInline already applied emphasis styling to the link
	// text; don't style it twice.
	display := renderer.collectInline(node)
	renderer.inline.WriteString(display)
	if url := string(node.Destination); url != "" {
		faint := renderer.newStyle().Foreground(renderer.theme.FaintText)
		renderer.inline.WriteString(" " + faint.Render("("+url+")"))
	}
}

// --- Tables ---

func (renderer *termRenderer) renderTable(node ast.Node) {
	table := node.(*extast.Table)
	alignments := table.Alignments

	var headerCells []string
	var bodyRows [][]string
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch child.Kind() {
		case extast.KindTableHeader:
			headerCells = renderer.tableRowCells(child)
		case extast.KindTableRow:
			bodyRows = append(bodyRows, renderer.tableRowCells(child))
		}
	}

	columnCount := len(headerCells)
	if columnCount == 0 && len(bodyRows) > 0 {
		columnCount = len(bodyRows[0])
	}
	if columnCount == 0 {
		return
	}

	// Natural column widths from the widest cell in each column.
	widths := make([]int, columnCount)
	measure := func(row []string) {
		for index, cell := range row {
			if index < columnCount {
				if width := lipgloss.Width(cell); width > widths[index] {
					widths[index] = width
				}
			}
		}
	}
	measure(headerCells)
	for _, row := range bodyRows {
		measure(row)
	}

	// Shrink proportionally when the table overflows the available
	// width, keeping every column at least 3 cells wide.
	const separator = "  "
	total := len(separator) * (columnCount - 1)
	for _, width := range widths {
		total += width
	}
	available := renderer.contentWidth()
	if total > available {
		usable := available - len(separator)*(columnCount-1)
		if usable < columnCount*3 {
			usable = columnCount * 3
		}
		for index := range widths {
			widths[index] = (widths[index] * usable) / total
			if widths[index] < 3 {
				widths[index] = 3
			}
		}
	}

	renderer.ensureBlankLine()

	if len(headerCells) > 0 {
		bold := renderer.newStyle().Bold(true).Foreground(renderer.theme.NormalText)
		renderer.emit(renderer.firstLinePrefix() +
			renderer.formatRow(headerCells, widths, alignments, bold, false))
		renderer.ensureNewline()

		ruleParts := make([]string, columnCount)
		for index, width := range widths {
			ruleParts[index] = strings.Repeat("─", width)
		}
		border := renderer.newStyle().Foreground(renderer.theme.BorderColor)
		renderer.emit(renderer.linePrefix + border.Render(strings.Join(ruleParts, separator)))
		renderer.ensureNewline()
	}

	for _, row := range bodyRows {
		renderer.emit(renderer.linePrefix +
			renderer.formatRow(row, widths, alignments, renderer.newStyle(), true))
		renderer.ensureNewline()
	}

	renderer.ensureBlankLine()
}

func (renderer *termRenderer) tableRowCells(row ast.Node) []string {
	var cells []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		if cell.Kind() == extast.KindTableCell {
			cells = append(cells, renderer.collectInline(cell))
		}
	}
	return cells
}

// formatRow pads and joins one table row. Body cells that are a bare
// status or conclusion word get that status's color, which is what
// makes the builds table scannable.
func (renderer *termRenderer) formatRow(
	cells []string,
	widths []int,
	alignments []extast.Alignment,
	baseStyle lipgloss.Style,
	colorStatus bool,
) string {
	const separator = "  "
	parts := make([]string, 0, len(widths))
	for index, width := range widths {
		var cell string
		if index < len(cells) {
			cell = cells[index]
		}

		if colorStatus {
			if color, ok := renderer.statusCellColor(ansi.Strip(cell)); ok {
				cell = renderer.newStyle().Foreground(color).Render(ansi.Strip(cell))
			}
		}

		visible := lipgloss.Width(cell)
		if visible > width {
			cell = ansi.Truncate(cell, width, "…")
			visible = lipgloss.Width(cell)
		}
		padding := width - visible
		if padding < 0 {
			padding = 0
		}

		var alignment extast.Alignment
		if index < len(alignments) {
			alignment = alignments[index]
		}
		switch alignment {
		case extast.AlignRight:
			cell = strings.Repeat(" ", padding) + cell
		case extast.AlignCenter:
			left := padding / 2
			cell = strings.Repeat(" ", left) + cell + strings.Repeat(" ", padding-left)
		default:
			cell = cell + strings.Repeat(" ", padding)
		}
		parts = append(parts, cell)
	}
	return baseStyle.Render(strings.Join(parts, separator))
}

func (renderer *termRenderer) statusCellColor(word string) (lipgloss.Color, bool) {
	switch word {
	case "success", "ok":
		return renderer.theme.StatusSuccess, true
	case "failure", "failed", "failed (optional)":
		return renderer.theme.StatusFailure, true
	case "aborted":
		return renderer.theme.StatusAborted, true
	case "running":
		return renderer.theme.StatusRunning, true
	case "queued":
		return renderer.theme.StatusQueued, true
	case "skipped", "incomplete":
		return renderer.theme.FaintText, true
	}
	return "", false
}
