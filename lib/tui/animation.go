// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"time"
)

// HeatDecayDuration is how long a row glows after a change: intensity
// 1.0 at the change, 0.0 this much later, linear in between.
const HeatDecayDuration = 2 * time.Second

// HeatTickInterval is the re-render cadence while any row still
// glows. 100ms is enough for the decay to read as smooth.
const HeatTickInterval = 100 * time.Millisecond

// HeatKind selects the glow color for a change.
type HeatKind int

const (
	// HeatUpdate is progress — a build started, advanced a step, or
	// succeeded (amber glow).
	HeatUpdate HeatKind = iota
	// HeatFailure is a failed or aborted build (red glow).
	HeatFailure
)

// glow is one row's active highlight: when it goes dark, and in which
// color.
type glow struct {
	expires time.Time
	kind    HeatKind
}

// HeatTracker drives animated change highlighting: each change
// ignites its row, and the view reads back a decaying intensity until
// the glow expires.
type HeatTracker struct {
	rows map[string]glow
}

// NewHeatTracker creates an empty heat tracker.
func NewHeatTracker() *HeatTracker {
	return &HeatTracker{rows: make(map[string]glow)}
}

// Ignite lights a row for a change at time now, restarting the decay
// if the row was already lit. A live failure glow is never downgraded:
// progress on a sibling build must not cut the red flash short, so an
// update arriving before a failure glow expires is dropped.
func (tracker *HeatTracker) Ignite(rowID string, kind HeatKind, now time.Time) {
	if current, lit := tracker.rows[rowID]; lit {
		if current.kind == HeatFailure && kind == HeatUpdate && now.Before(current.expires) {
			return
		}
	}
	tracker.rows[rowID] = glow{expires: now.Add(HeatDecayDuration), kind: kind}
}

// Heat returns the row's intensity at time now: 1.0 right after
// ignition, falling linearly to 0.0 at expiry. Unknown and expired
// rows read 0.0.
func (tracker *HeatTracker) Heat(rowID string, now time.Time) float64 {
	entry, lit := tracker.rows[rowID]
	if !lit || !now.Before(entry.expires) {
		return 0.0
	}
	return float64(entry.expires.Sub(now)) / float64(HeatDecayDuration)
}

// Kind returns the glow color for a row. Only meaningful while
// Heat() > 0.
func (tracker *HeatTracker) Kind(rowID string) HeatKind {
	entry, lit := tracker.rows[rowID]
	if !lit {
		return HeatUpdate
	}
	return entry.kind
}

// HasHot reports whether any row still glows at time now, so the
// caller knows to keep the animation tick running. Expired rows are
// dropped on the way through.
func (tracker *HeatTracker) HasHot(now time.Time) bool {
	hot := false
	for rowID, entry := range tracker.rows {
		if now.Before(entry.expires) {
			hot = true
			continue
		}
		delete(tracker.rows, rowID)
	}
	return hot
}
