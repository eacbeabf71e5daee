// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watchui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/junegunn/fzf/src/util"

	"github.com/bureau-foundation/conveyor/lib/logstore"
	"github.com/bureau-foundation/conveyor/lib/runlog"
	"github.com/bureau-foundation/conveyor/lib/runner"
	"github.com/bureau-foundation/conveyor/lib/tui"
)

// outputPollInterval is how often the output pane drains the selected
// instance's tail while a run is live. Polling also keeps the header's
// elapsed clock moving.
const outputPollInterval = 100 * time.Millisecond

// maxOutputLines caps the output pane's scrollback. The live tail
// itself holds 64 KB; this bounds what accumulates across polls over
// a long step.
const maxOutputLines = 2000

// Feed is the progress source the dashboard consumes.
// *runner.Events implements it.
type Feed interface {
	// Snapshot returns a copy of the current run progress.
	Snapshot() runner.Snapshot

	// Updated returns a channel that receives a wakeup after any
	// progress change. Notifications coalesce.
	Updated() <-chan struct{}

	// Tail returns the live output buffer for an instance, or nil for
	// an unknown ID.
	Tail(instanceID string) *logstore.Tail
}

// FocusRegion identifies which pane has keyboard focus.
type FocusRegion int

const (
	// FocusTable: arrow keys select instances.
	FocusTable FocusRegion = iota
	// FocusOutput: arrow keys scroll the output pane.
	FocusOutput
	// FocusFilter: keystrokes edit the filter query.
	FocusFilter
)

// updateMsg is delivered when the feed signals a progress change.
type updateMsg struct{}

// outputPollMsg drives the output pane drain and the elapsed clock.
type outputPollMsg struct{}

// heatTickMsg drives the row glow animation.
type heatTickMsg struct{}

// Model is the bubbletea model for the watch dashboard.
type Model struct {
	feed  Feed
	theme tui.Theme
	keys  KeyMap

	width  int
	height int
	ready  bool

	snapshot   runner.Snapshot
	rows       []Row
	cursor     int
	selectedID string

	// scrollOffset is the first visible table row index.
	scrollOffset int

	focusRegion FocusRegion
	filter      FilterModel
	slab        *util.Slab

	// Output pane state for the selected instance. outputScroll counts
	// lines scrolled up from the live edge; zero follows new output.
	outputID      string
	outputLines   []string
	outputPartial string
	outputOffset  uint64
	outputScroll  int

	heatTracker *tui.HeatTracker
	tickRunning bool
	pollRunning bool
}

// NewModel creates the dashboard model over a progress feed.
func NewModel(feed Feed) Model {
	model := Model{
		feed:        feed,
		theme:       tui.DefaultTheme,
		keys:        DefaultKeyMap,
		slab:        tui.NewSlab(),
		heatTracker: tui.NewHeatTracker(),
		pollRunning: true,
	}
	model.snapshot = feed.Snapshot()
	model.refreshRows()
	model.syncOutputTarget()
	return model
}

// Init implements tea.Model: start listening for feed updates and
// begin the output poll loop.
func (model Model) Init() tea.Cmd {
	return tea.Batch(listenForUpdate(model.feed.Updated()), scheduleOutputPoll())
}

// listenForUpdate blocks until the feed signals a change, then
// delivers an updateMsg. Re-issued after each delivery so exactly one
// listener is pending at a time.
func listenForUpdate(channel <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-channel
		return updateMsg{}
	}
}

// scheduleOutputPoll returns a tea.Cmd that sends an outputPollMsg
// after the poll interval.
func scheduleOutputPoll() tea.Cmd {
	return tea.Tick(outputPollInterval, func(time.Time) tea.Msg {
		return outputPollMsg{}
	})
}

// scheduleHeatTick returns a tea.Cmd that sends a heatTickMsg after
// the animation tick interval.
func scheduleHeatTick() tea.Cmd {
	return tea.Tick(tui.HeatTickInterval, func(time.Time) tea.Msg {
		return heatTickMsg{}
	})
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		// Filter mode consumes most keys, including 'q'.
		if model.focusRegion == FocusFilter {
			return model.handleFilterKeys(message)
		}

		switch {
		case key.Matches(message, model.keys.Quit):
			return model, tea.Quit

		case key.Matches(message, model.keys.FilterActivate):
			model.filter.Active = true
			model.focusRegion = FocusFilter
			return model, nil

		case key.Matches(message, model.keys.FilterClear):
			if model.filter.Input != "" {
				model.filter.Clear()
				model.refreshRows()
				model.syncOutputTarget()
			}
			model.focusRegion = FocusTable
			return model, nil

		case key.Matches(message, model.keys.FocusToggle):
			if model.focusRegion == FocusTable {
				model.focusRegion = FocusOutput
			} else {
				model.focusRegion = FocusTable
			}
			return model, nil

		case key.Matches(message, model.keys.Follow):
			model.outputScroll = 0
			return model, nil

		default:
			if model.focusRegion == FocusOutput {
				model.handleOutputKeys(message)
			} else {
				model.handleTableKeys(message)
			}
			return model, nil
		}

	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.ready = true
		model.ensureCursorVisible()
		return model, nil

	case updateMsg:
		return model.handleUpdate()

	case outputPollMsg:
		return model.handleOutputPoll()

	case heatTickMsg:
		return model.handleHeatTick()
	}

	return model, nil
}

// handleFilterKeys processes keystrokes while the filter input has
// focus. Regular characters go to the input, Esc clears/exits, Enter
// confirms and returns focus to the table.
func (model Model) handleFilterKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Quit):
		// ctrl+c always quits, even in filter mode.
		if message.Type == tea.KeyCtrlC {
			return model, tea.Quit
		}
		// 'q' is a regular character in filter mode.
		model.filter.HandleRune('q')
		model.refreshRows()
		model.syncOutputTarget()
		return model, nil

	case key.Matches(message, model.keys.FilterClear):
		// Esc: if there's filter text, clear it; if already empty,
		// exit filter mode.
		if model.filter.Input != "" {
			model.filter.Clear()
			model.refreshRows()
			model.syncOutputTarget()
		} else {
			model.filter.Active = false
		}
		model.focusRegion = FocusTable
		return model, nil

	case message.Type == tea.KeyEnter:
		// Confirm filter and return focus to the table.
		model.filter.Active = false
		model.focusRegion = FocusTable
		return model, nil

	case message.Type == tea.KeyBackspace:
		if model.filter.HandleBackspace() {
			model.refreshRows()
			model.syncOutputTarget()
		}
		return model, nil

	case message.Type == tea.KeyRunes || message.Type == tea.KeySpace:
		for _, character := range message.Runes {
			model.filter.HandleRune(character)
		}
		model.refreshRows()
		model.syncOutputTarget()
		return model, nil
	}

	return model, nil
}

// handleTableKeys processes navigation while the instance table has
// focus.
func (model *Model) handleTableKeys(message tea.KeyMsg) {
	switch {
	case key.Matches(message, model.keys.Up):
		model.moveCursor(-1)
	case key.Matches(message, model.keys.Down):
		model.moveCursor(1)
	case key.Matches(message, model.keys.PageUp):
		model.moveCursor(-pageStride(model.tableHeight()))
	case key.Matches(message, model.keys.PageDown):
		model.moveCursor(pageStride(model.tableHeight()))
	case key.Matches(message, model.keys.Home):
		model.moveCursor(-len(model.rows))
	case key.Matches(message, model.keys.End):
		model.moveCursor(len(model.rows))
	}
}

// handleOutputKeys processes scrolling while the output pane has
// focus. Scrolling up detaches from the live edge; G or f re-attach.
func (model *Model) handleOutputKeys(message tea.KeyMsg) {
	maxScroll := len(model.outputLines) - model.outputHeight()
	if maxScroll < 0 {
		maxScroll = 0
	}

	switch {
	case key.Matches(message, model.keys.Up):
		model.outputScroll++
	case key.Matches(message, model.keys.Down):
		model.outputScroll--
	case key.Matches(message, model.keys.PageUp):
		model.outputScroll += pageStride(model.outputHeight())
	case key.Matches(message, model.keys.PageDown):
		model.outputScroll -= pageStride(model.outputHeight())
	case key.Matches(message, model.keys.Home):
		model.outputScroll = maxScroll
	case key.Matches(message, model.keys.End):
		model.outputScroll = 0
	}

	if model.outputScroll > maxScroll {
		model.outputScroll = maxScroll
	}
	if model.outputScroll < 0 {
		model.outputScroll = 0
	}
}

// pageStride is the cursor movement for a half-page scroll.
func pageStride(visible int) int {
	stride := visible / 2
	if stride < 1 {
		stride = 1
	}
	return stride
}

// moveCursor moves the table selection by delta rows, clamped, and
// retargets the output pane.
func (model *Model) moveCursor(delta int) {
	if len(model.rows) == 0 {
		return
	}
	model.cursor += delta
	if model.cursor < 0 {
		model.cursor = 0
	}
	if model.cursor >= len(model.rows) {
		model.cursor = len(model.rows) - 1
	}
	model.selectedID = model.rows[model.cursor].Status.ID
	model.ensureCursorVisible()
	model.syncOutputTarget()
}

// handleUpdate processes a feed change notification: take a fresh
// snapshot, ignite heat for changed rows, and re-arm the listener.
func (model Model) handleUpdate() (tea.Model, tea.Cmd) {
	previous := model.snapshot
	model.snapshot = model.feed.Snapshot()
	now := time.Now()

	if model.snapshot.RunID != previous.RunID {
		// A new run replaced the feed contents (watch daemon mode):
		// reset selection, filter, and the output pane.
		model.cursor = 0
		model.scrollOffset = 0
		model.selectedID = ""
		model.filter.Clear()
		model.focusRegion = FocusTable
		model.resetOutput()
		model.heatTracker = tui.NewHeatTracker()
	} else {
		model.igniteChanges(previous, model.snapshot, now)
	}

	model.refreshRows()
	model.syncOutputTarget()
	model.drainOutput()

	commands := []tea.Cmd{listenForUpdate(model.feed.Updated())}
	if !model.tickRunning && model.heatTracker.HasHot(now) {
		model.tickRunning = true
		commands = append(commands, scheduleHeatTick())
	}
	if !model.pollRunning && model.snapshot.RunID != "" && model.snapshot.Conclusion == "" {
		model.pollRunning = true
		commands = append(commands, scheduleOutputPoll())
	}
	return model, tea.Batch(commands...)
}

// handleOutputPoll drains the selected tail and reschedules while the
// run is live. The chain stops once the run concludes; handleUpdate
// restarts it when a new run starts.
func (model Model) handleOutputPoll() (tea.Model, tea.Cmd) {
	model.drainOutput()
	if model.snapshot.RunID == "" || model.snapshot.Conclusion != "" {
		model.pollRunning = false
		return model, nil
	}
	return model, scheduleOutputPoll()
}

// handleHeatTick processes a heat animation tick. If any rows are
// still hot, schedules another tick; otherwise stops the timer.
func (model Model) handleHeatTick() (tea.Model, tea.Cmd) {
	now := time.Now()
	if model.heatTracker.HasHot(now) {
		return model, scheduleHeatTick()
	}
	model.tickRunning = false
	return model, nil
}

// igniteChanges compares two snapshots and ignites heat for every
// instance whose state, step, or conclusion changed. Fresh instances
// (run start) do not glow.
func (model *Model) igniteChanges(previous, current runner.Snapshot, now time.Time) {
	before := make(map[string]runner.InstanceStatus, len(previous.Instances))
	for _, instance := range previous.Instances {
		before[instance.ID] = instance
	}
	for _, instance := range current.Instances {
		former, seen := before[instance.ID]
		if !seen {
			continue
		}
		if former.State == instance.State &&
			former.StepIndex == instance.StepIndex &&
			former.Conclusion == instance.Conclusion {
			continue
		}
		kind := tui.HeatUpdate
		if instance.State == runner.StateFinished &&
			instance.Conclusion != runlog.ConclusionSuccess {
			kind = tui.HeatFailure
		}
		model.heatTracker.Ignite(instance.ID, kind, now)
	}
}

// refreshRows rebuilds the filtered row list from the current snapshot
// and restores the selection by instance ID where possible.
func (model *Model) refreshRows() {
	model.rows = model.filter.Apply(model.snapshot.Instances, model.slab)

	if model.selectedID != "" {
		for index, row := range model.rows {
			if row.Status.ID == model.selectedID {
				model.cursor = index
				model.ensureCursorVisible()
				return
			}
		}
	}

	// Previous selection filtered out, or first load: clamp and adopt
	// whatever lands under the cursor.
	if model.cursor >= len(model.rows) {
		model.cursor = len(model.rows) - 1
	}
	if model.cursor < 0 {
		model.cursor = 0
	}
	if len(model.rows) > 0 {
		model.selectedID = model.rows[model.cursor].Status.ID
	} else {
		model.selectedID = ""
	}
	model.ensureCursorVisible()
}

// ensureCursorVisible adjusts scrollOffset so the cursor is within the
// visible table window.
func (model *Model) ensureCursorVisible() {
	visible := model.tableHeight()
	if visible <= 0 {
		return
	}

	maxOffset := len(model.rows) - visible
	if maxOffset < 0 {
		maxOffset = 0
	}
	if model.scrollOffset > maxOffset {
		model.scrollOffset = maxOffset
	}

	if model.cursor < model.scrollOffset {
		model.scrollOffset = model.cursor
	}
	if model.cursor >= model.scrollOffset+visible {
		model.scrollOffset = model.cursor - visible + 1
	}
}

// syncOutputTarget points the output pane at the selected instance,
// resetting pane state when the selection changed.
func (model *Model) syncOutputTarget() {
	if len(model.rows) == 0 {
		model.outputID = ""
		model.outputLines = nil
		model.outputPartial = ""
		model.outputOffset = 0
		model.outputScroll = 0
		return
	}
	if model.cursor >= len(model.rows) {
		model.cursor = len(model.rows) - 1
	}
	id := model.rows[model.cursor].Status.ID
	if id == model.outputID {
		return
	}
	model.outputID = id
	model.outputLines = nil
	model.outputPartial = ""
	model.outputOffset = 0
	model.outputScroll = 0
	model.drainOutput()
}

// resetOutput clears the output pane entirely (new run).
func (model *Model) resetOutput() {
	model.outputID = ""
	model.outputLines = nil
	model.outputPartial = ""
	model.outputOffset = 0
	model.outputScroll = 0
}

// drainOutput pulls new bytes from the selected instance's tail into
// the output pane. Returns true if anything arrived.
func (model *Model) drainOutput() bool {
	if model.outputID == "" {
		return false
	}
	tail := model.feed.Tail(model.outputID)
	if tail == nil {
		return false
	}

	data, next := tail.Follow(model.outputOffset)
	if len(data) == 0 {
		model.outputOffset = next
		return false
	}

	if next-model.outputOffset > uint64(len(data)) {
		// The ring buffer lapped the viewer; the gap is gone.
		if model.outputPartial != "" {
			model.outputLines = append(model.outputLines, model.outputPartial)
			model.outputPartial = ""
		}
		model.outputLines = append(model.outputLines, "[earlier output truncated]")
	}
	model.outputOffset = next
	model.appendOutput(data)
	return true
}

// appendOutput splits raw tail bytes into display lines, keeping a
// trailing unterminated fragment for the next drain.
func (model *Model) appendOutput(data []byte) {
	text := model.outputPartial + string(data)
	lines := strings.Split(text, "\n")
	model.outputPartial = lines[len(lines)-1]

	for _, line := range lines[:len(lines)-1] {
		model.outputLines = append(model.outputLines, strings.TrimSuffix(line, "\r"))
	}

	if overflow := len(model.outputLines) - maxOutputLines; overflow > 0 {
		model.outputLines = model.outputLines[overflow:]
	}
}

// contentHeight is the vertical space shared by the table and output
// panes: everything except the header line, the output pane title, the
// bottom separator, and the help bar.
func (model Model) contentHeight() int {
	return model.height - 4
}

// tableHeight returns the instance table's row count: every row when
// they fit in half the content area, otherwise half the content area.
func (model Model) tableHeight() int {
	content := model.contentHeight()
	if content <= 0 {
		return 0
	}
	rows := len(model.rows)
	if rows < 1 {
		rows = 1
	}
	half := content / 2
	if half < 1 {
		half = 1
	}
	height := rows
	if height > half {
		height = half
	}
	if height > content {
		height = content
	}
	return height
}

// outputHeight returns the output pane's line count.
func (model Model) outputHeight() int {
	height := model.contentHeight() - model.tableHeight()
	if height < 0 {
		return 0
	}
	return height
}
