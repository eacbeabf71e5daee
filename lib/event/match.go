// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"path"
	"strings"
)

// MatchRef checks whether a branch name matches a glob pattern using
// the hierarchical conventions of git branch names:
//
//   - Exact match: "main" matches only "main"
//   - Single-segment wildcard: "release/*" matches "release/1.2" but
//     not "release/1.2/hotfix"
//   - Recursive wildcard: "feature/**" matches "feature/x" and
//     "feature/x/y"
//   - Universal: "**" matches any branch
//   - Interior recursive: "team/**/ci" matches "team/ci" and
//     "team/a/b/ci"
//   - Character wildcards: "?" matches a single non-slash character
//
// The single-segment wildcard "*" does not match "/", following
// path.Match and the gitignore convention. Use "**" to match across
// hierarchy boundaries.
//
// Returns false for malformed patterns (unmatched brackets, etc.)
// rather than propagating errors — a filter that cannot be evaluated
// should not fire builds.
func MatchRef(pattern, branch string) bool {
	// Universal match.
	if pattern == "**" {
		return true
	}

	// No ** in the pattern — path.Match handles single-segment * and ?
	// correctly (not matching /).
	if !strings.Contains(pattern, "**") {
		matched, err := path.Match(pattern, branch)
		if err != nil {
			return false
		}
		return matched
	}

	// Pattern contains **. Handle the three placements: suffix,
	// prefix, interior.

	// Suffix: "feature/**" — match the prefix (with glob wildcards),
	// then anything after.
	if rest, ok := strings.CutSuffix(pattern, "/**"); ok {
		// ** matches zero additional segments: the branch is exactly
		// the prefix.
		if matchGlob(rest, branch) {
			return true
		}
		return hasMatchingPrefix(rest, branch)
	}

	// Prefix: "**/hotfix" — match anything before, then the suffix.
	if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
		if matchGlob(rest, branch) {
			return true
		}
		return hasMatchingSuffix(rest, branch)
	}

	// Interior: "team/**/ci" — split on the first /**, match prefix
	// and suffix independently.
	separatorIndex := strings.Index(pattern, "/**/")
	if separatorIndex >= 0 {
		prefix := pattern[:separatorIndex]
		suffix := pattern[separatorIndex+4:]

		// Zero-segment case: prefix and suffix are adjacent.
		if matchGlob(prefix+"/"+suffix, branch) {
			return true
		}

		prefixDepth := strings.Count(prefix, "/") + 1
		suffixDepth := strings.Count(suffix, "/") + 1
		segments := strings.Split(branch, "/")

		if len(segments) < prefixDepth+1+suffixDepth {
			return false
		}
		if !matchGlob(prefix, strings.Join(segments[:prefixDepth], "/")) {
			return false
		}
		if !matchGlob(suffix, strings.Join(segments[len(segments)-suffixDepth:], "/")) {
			return false
		}
		// The segments ** consumed must all be non-empty.
		for _, segment := range segments[prefixDepth : len(segments)-suffixDepth] {
			if segment == "" {
				return false
			}
		}
		return true
	}

	// Multiple ** separators or other complex patterns — unsupported,
	// no match.
	return false
}

// MatchAnyRef checks whether a branch matches any of the given glob
// patterns. Returns true on the first match, false for an empty
// pattern list.
func MatchAnyRef(patterns []string, branch string) bool {
	for _, pattern := range patterns {
		if MatchRef(pattern, branch) {
			return true
		}
	}
	return false
}

// matchGlob matches with path.Match semantics (wildcards * and ? do
// not cross / boundaries). Returns false for malformed patterns.
func matchGlob(pattern, s string) bool {
	matched, err := path.Match(pattern, s)
	return err == nil && matched
}

// hasMatchingPrefix reports whether the branch starts with segments
// matching the pattern, with at least one additional segment after
// the matched portion.
func hasMatchingPrefix(pattern, branch string) bool {
	depth := strings.Count(pattern, "/") + 1
	segments := strings.SplitN(branch, "/", depth+1)
	if len(segments) <= depth {
		return false
	}
	return matchGlob(pattern, strings.Join(segments[:depth], "/"))
}

// hasMatchingSuffix reports whether the branch ends with segments
// matching the pattern, with at least one additional segment before
// the matched portion.
func hasMatchingSuffix(pattern, branch string) bool {
	depth := strings.Count(pattern, "/") + 1
	segments := strings.Split(branch, "/")
	if len(segments) <= depth {
		return false
	}
	return matchGlob(pattern, strings.Join(segments[len(segments)-depth:], "/"))
}
