// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tui provides shared terminal user interface components for
// conveyor's interactive surfaces. Built on bubbletea (Elm
// architecture), these components handle the common patterns: a shared
// color theme, fuzzy match scoring for filter input, scrollbars, and
// change animation.
//
// The watch dashboard (lib/watchui) imports this package for
// consistent look and behavior; the report renderer (lib/report)
// shares the same theme so `history show` output matches the live
// view. Each surface owns its own data source, layout, and
// domain-specific rendering.
package tui
