// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the push events that trigger conveyor runs.
//
// A push event records what happened to a repository: which ref moved,
// from which commit to which commit, and who pushed. Events are
// authored as JSON (with JSONC tolerance, so hand-written test events
// may carry comments) and flow from the git hook through the spool to
// the planner.
//
// The typical flow:
//
//  1. ReadPushFile or ParsePush: JSONC bytes → Push
//  2. Validate: structural checks (repo and ref present, SHAs well formed)
//  3. Variables: the EVENT_* variable map fed into workflow expansion
package event

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// ZeroSHA is the all-zeros object name git uses for the missing side
// of a ref creation or deletion.
const ZeroSHA = "0000000000000000000000000000000000000000"

// Commit is a single commit carried by a push event.
type Commit struct {
	SHA       string `json:"sha"`
	Message   string `json:"message"`
	Author    string `json:"author"`    // "Name <email>"
	Timestamp string `json:"timestamp"` // RFC3339
}

// Title returns the first line of the commit message.
func (c Commit) Title() string {
	if i := strings.IndexByte(c.Message, '\n'); i >= 0 {
		return c.Message[:i]
	}
	return c.Message
}

// Push records a push to a repository ref. Repo is the filesystem path
// of the repository the push landed in; conveyor checks out from it.
type Push struct {
	Repo       string    `json:"repo"`
	Ref        string    `json:"ref"`    // "refs/heads/main"
	Before     string    `json:"before"` // previous tip SHA, ZeroSHA on create
	After      string    `json:"after"`  // new tip SHA, ZeroSHA on delete
	Commits    []Commit  `json:"commits,omitempty"`
	Pusher     string    `json:"pusher,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitzero"`
}

// ParsePush strips JSONC comments and trailing commas from data, then
// unmarshals the result into a Push.
func ParsePush(data []byte) (*Push, error) {
	stripped := jsonc.ToJSON(data)

	var push Push
	if err := json.Unmarshal(stripped, &push); err != nil {
		return nil, fmt.Errorf("parsing push event: %w", err)
	}
	return &push, nil
}

// ReadPushFile reads a push event file from disk and parses it.
func ReadPushFile(path string) (*Push, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	push, err := ParsePush(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return push, nil
}

// Encode renders the push event as indented JSON with a trailing
// newline, the format the spool stores on disk.
func (p *Push) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding push event: %w", err)
	}
	return append(data, '\n'), nil
}

// Validate returns a list of problems with the push event. An empty
// list means the event is usable. Issues are human-readable strings
// meant for CLI display.
func (p *Push) Validate() []string {
	var issues []string

	if p.Repo == "" {
		issues = append(issues, "push event has no repo path")
	}
	if p.Ref == "" {
		issues = append(issues, "push event has no ref")
	} else if !strings.HasPrefix(p.Ref, "refs/") {
		issues = append(issues, fmt.Sprintf("ref %q is not fully qualified (want refs/...)", p.Ref))
	}
	if problem := checkSHA("before", p.Before); problem != "" {
		issues = append(issues, problem)
	}
	if problem := checkSHA("after", p.After); problem != "" {
		issues = append(issues, problem)
	}
	if p.After == "" {
		issues = append(issues, "push event has no after SHA")
	}
	for i, commit := range p.Commits {
		if problem := checkSHA(fmt.Sprintf("commits[%d].sha", i), commit.SHA); problem != "" {
			issues = append(issues, problem)
		}
	}

	return issues
}

// checkSHA validates that a SHA field, when present, is a hex object
// name of plausible length (40 for SHA-1, 64 for SHA-256 repos).
func checkSHA(field, sha string) string {
	if sha == "" {
		return ""
	}
	if len(sha) != 40 && len(sha) != 64 {
		return fmt.Sprintf("%s %q has length %d (want 40 or 64)", field, sha, len(sha))
	}
	for _, r := range sha {
		validDigit := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
		if !validDigit {
			return fmt.Sprintf("%s %q is not hexadecimal", field, sha)
		}
	}
	return ""
}

// Branch returns the short branch name for branch pushes
// ("refs/heads/main" → "main") and the full ref otherwise.
func (p *Push) Branch() string {
	if name, ok := strings.CutPrefix(p.Ref, "refs/heads/"); ok {
		return name
	}
	return p.Ref
}

// IsDelete reports whether the push deleted the ref (the new tip is
// the zero SHA). Deletions trigger no builds; there is nothing to
// check out.
func (p *Push) IsDelete() bool {
	return isZeroSHA(p.After)
}

// IsCreate reports whether the push created the ref.
func (p *Push) IsCreate() bool {
	return isZeroSHA(p.Before)
}

func isZeroSHA(sha string) bool {
	if sha == "" {
		return false
	}
	for _, r := range sha {
		if r != '0' {
			return false
		}
	}
	return true
}

// ShortAfter returns the first 12 characters of the new tip SHA, for
// display.
func (p *Push) ShortAfter() string {
	if len(p.After) <= 12 {
		return p.After
	}
	return p.After[:12]
}

// Variables returns the EVENT_-prefixed variable map that workflow
// variable expansion resolves against. These are also exported into
// every step's environment.
func (p *Push) Variables() map[string]string {
	return map[string]string{
		"EVENT_REPO":    p.Repo,
		"EVENT_REF":     p.Ref,
		"EVENT_BRANCH":  p.Branch(),
		"EVENT_BEFORE":  p.Before,
		"EVENT_AFTER":   p.After,
		"EVENT_PUSHER":  p.Pusher,
		"EVENT_COMMITS": strconv.Itoa(len(p.Commits)),
	}
}
