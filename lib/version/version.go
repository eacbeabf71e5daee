// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports what build of conveyor is running.
//
// Release builds stamp the package variables through -ldflags:
//
//	go build -ldflags "\
//	  -X github.com/bureau-foundation/conveyor/lib/version.Release=1.2.0 \
//	  -X github.com/bureau-foundation/conveyor/lib/version.Commit=$(git rev-parse --short HEAD)"
//
// Unstamped builds (go install, plain go build) fall back to the VCS
// revision the Go toolchain embeds, when there is one.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Stamped through -ldflags; the zero values mark a development build.
var (
	// Release is the semantic version of a tagged release.
	Release = "0.1.0-dev"

	// Commit is the short git SHA the binary was built from.
	Commit = ""

	// BuildDate is the UTC build timestamp.
	BuildDate = ""
)

// Full returns the complete multi-line version report for the version
// command.
func Full() string {
	report := Release
	if commit := commit(); commit != "" {
		report += " (" + commit
		if BuildDate != "" {
			report += ", " + BuildDate
		}
		report += ")"
	}
	return fmt.Sprintf("%s\n  go: %s\n  platform: %s/%s",
		report, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// commit resolves the build's revision: the stamped value when the
// build was stamped, otherwise the toolchain-embedded VCS revision,
// shortened to the usual twelve characters with a -dirty marker for a
// modified tree.
func commit() string {
	if Commit != "" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	revision := ""
	dirty := false
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if revision != "" && dirty {
		revision += "-dirty"
	}
	return revision
}
