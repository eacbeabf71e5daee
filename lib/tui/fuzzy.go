// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"sort"
	"strings"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"
)

// FuzzyResult is the outcome of matching a pattern against one text.
// Score is fzf's match quality (higher is better, 0 means no match).
// Positions holds the rune indices of matched characters in ascending
// order, for highlight rendering.
type FuzzyResult struct {
	Score     int
	Positions []int
}

// FuzzyMatch scores pattern against text using fzf's FuzzyMatchV2
// algorithm — the same scoring interactive fzf uses, so filter
// behavior matches what fingers already know: non-contiguous
// characters match, word boundaries and camelCase humps score higher,
// gaps score lower.
//
// Matching is case-insensitive: the algorithm folds the text side and
// the pattern is folded here. An empty pattern or a failed match
// returns the zero FuzzyResult.
//
// The slab is optional reusable scratch memory. Pass nil for one-off
// calls; pass a NewSlab() result when matching many texts in a loop
// (once per keystroke across every row).
func FuzzyMatch(text string, pattern []rune, slab *util.Slab) FuzzyResult {
	if len(pattern) == 0 {
		return FuzzyResult{}
	}

	lowered := []rune(strings.ToLower(string(pattern)))

	chars := util.ToChars([]byte(text))
	result, positions := algo.FuzzyMatchV2(false, false, true, &chars, lowered, true, slab)
	if result.Start < 0 || positions == nil {
		return FuzzyResult{}
	}

	// fzf reports positions in traversal order (descending); sort so
	// callers can walk the text left to right.
	matched := make([]int, len(*positions))
	copy(matched, *positions)
	sort.Ints(matched)

	return FuzzyResult{Score: result.Score, Positions: matched}
}

// NewSlab allocates scratch memory for repeated FuzzyMatch calls. The
// sizes match fzf's own defaults and comfortably cover terminal-width
// texts.
func NewSlab() *util.Slab {
	return util.MakeSlab(100*1024, 2048)
}
