// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"

	"github.com/spf13/pflag"
)

// suggestCommand returns the subcommand name closest to the unknown
// input, or "" when nothing is plausibly a typo of it.
func suggestCommand(unknown string, commands []*Command) string {
	names := make([]string, len(commands))
	for i, command := range commands {
		names[i] = command.Name
	}
	return closest(unknown, names)
}

// suggestFlag finds the first flag-shaped argument the flag set does
// not define and returns the closest defined flag, prefixed the way
// the user should type it. Empty when there is no near miss.
func suggestFlag(args []string, flagSet *pflag.FlagSet) string {
	var defined []string
	flagSet.VisitAll(func(f *pflag.Flag) {
		defined = append(defined, f.Name)
	})

	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name := flagName(arg)
		if flagSet.Lookup(name) != nil {
			continue
		}
		// First unknown flag is the one pflag tripped on; later args
		// were never parsed.
		match := closest(name, defined)
		switch {
		case match == "":
			return ""
		case len(match) == 1:
			return "-" + match
		default:
			return "--" + match
		}
	}
	return ""
}

// flagName strips the dashes and any =value tail from a flag argument.
func flagName(arg string) string {
	name := strings.TrimLeft(arg, "-")
	if eq := strings.IndexByte(name, '='); eq >= 0 {
		name = name[:eq]
	}
	return name
}

// closest picks the candidate with the smallest edit distance to the
// input. A candidate qualifies only when the distance is at most 3 and
// smaller than the input's own length; without the second bound a one-
// or two-letter input would "suggest" totally unrelated names.
func closest(input string, candidates []string) string {
	best := ""
	bound := min(3, len(input)-1)
	for _, candidate := range candidates {
		distance := editDistance(input, candidate)
		if distance <= bound {
			best = candidate
			bound = distance - 1
		}
	}
	return best
}

// editDistance is the Levenshtein distance between a and b: the number
// of single-character inserts, deletes, and substitutions separating
// them. One reusable row plus a saved diagonal, so O(len(b)) space.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}
	for i := 1; i <= len(a); i++ {
		diagonal := row[0]
		row[0] = i
		for j := 1; j <= len(b); j++ {
			substitution := diagonal
			if a[i-1] != b[j-1] {
				substitution++
			}
			diagonal = row[j]
			row[j] = min(row[j]+1, row[j-1]+1, substitution)
		}
	}
	return row[len(b)]
}
