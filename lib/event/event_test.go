// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validSHA = "a1b2c3d4e5f6a7b8c9d0a1b2c3d4e5f6a7b8c9d0"

func TestParsePushAcceptsJSONC(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		// pushed by the post-receive hook
		"repo": "/srv/git/widget.git",
		"ref": "refs/heads/main",
		"before": "` + validSHA + `",
		"after": "` + strings.Repeat("b", 40) + `",
		"commits": [
			{"sha": "` + strings.Repeat("b", 40) + `", "message": "fix build\n\ndetails", "author": "Dev <dev@example.com>"},
		],
	}`)

	push, err := ParsePush(data)
	if err != nil {
		t.Fatalf("ParsePush: %v", err)
	}
	if push.Repo != "/srv/git/widget.git" {
		t.Errorf("Repo = %q", push.Repo)
	}
	if push.Branch() != "main" {
		t.Errorf("Branch() = %q, want main", push.Branch())
	}
	if len(push.Commits) != 1 {
		t.Fatalf("len(Commits) = %d, want 1", len(push.Commits))
	}
	if got := push.Commits[0].Title(); got != "fix build" {
		t.Errorf("Title() = %q, want %q", got, "fix build")
	}
	if issues := push.Validate(); len(issues) != 0 {
		t.Errorf("Validate() = %v, want no issues", issues)
	}
}

func TestParsePushRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	if _, err := ParsePush([]byte(`{"repo": `)); err == nil {
		t.Fatal("ParsePush accepted malformed JSON")
	}
}

func TestValidateReportsProblems(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		push           Push
		expectedIssues int
		wantSubstrings []string
	}{
		{
			name: "valid event",
			push: Push{
				Repo:   "/srv/git/widget.git",
				Ref:    "refs/heads/main",
				Before: ZeroSHA,
				After:  validSHA,
			},
			expectedIssues: 0,
		},
		{
			name:           "missing everything",
			push:           Push{},
			expectedIssues: 3,
			wantSubstrings: []string{"no repo path", "no ref", "no after SHA"},
		},
		{
			name: "unqualified ref",
			push: Push{
				Repo:  "/srv/git/widget.git",
				Ref:   "main",
				After: validSHA,
			},
			expectedIssues: 1,
			wantSubstrings: []string{"not fully qualified"},
		},
		{
			name: "bad after SHA",
			push: Push{
				Repo:  "/srv/git/widget.git",
				Ref:   "refs/heads/main",
				After: "not-hex!",
			},
			expectedIssues: 1,
			wantSubstrings: []string{"length"},
		},
		{
			name: "bad commit SHA",
			push: Push{
				Repo:    "/srv/git/widget.git",
				Ref:     "refs/heads/main",
				After:   validSHA,
				Commits: []Commit{{SHA: "zzzz" + validSHA[4:]}},
			},
			expectedIssues: 1,
			wantSubstrings: []string{"commits[0].sha", "not hexadecimal"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			issues := test.push.Validate()
			if len(issues) != test.expectedIssues {
				t.Errorf("got %d issues %v, want %d", len(issues), issues, test.expectedIssues)
			}
			joined := strings.Join(issues, "\n")
			for _, want := range test.wantSubstrings {
				if !strings.Contains(joined, want) {
					t.Errorf("issues %v missing substring %q", issues, want)
				}
			}
		})
	}
}

func TestDeleteAndCreateDetection(t *testing.T) {
	t.Parallel()

	deletion := Push{Before: validSHA, After: ZeroSHA}
	if !deletion.IsDelete() {
		t.Error("IsDelete() = false for zero after SHA")
	}
	if deletion.IsCreate() {
		t.Error("IsCreate() = true for non-zero before SHA")
	}

	creation := Push{Before: ZeroSHA, After: validSHA}
	if !creation.IsCreate() {
		t.Error("IsCreate() = false for zero before SHA")
	}
	if creation.IsDelete() {
		t.Error("IsDelete() = true for non-zero after SHA")
	}
}

func TestVariables(t *testing.T) {
	t.Parallel()

	push := Push{
		Repo:    "/srv/git/widget.git",
		Ref:     "refs/heads/release/1.2",
		Before:  ZeroSHA,
		After:   validSHA,
		Pusher:  "dev",
		Commits: []Commit{{SHA: validSHA}},
	}

	variables := push.Variables()
	expectations := map[string]string{
		"EVENT_REPO":    "/srv/git/widget.git",
		"EVENT_REF":     "refs/heads/release/1.2",
		"EVENT_BRANCH":  "release/1.2",
		"EVENT_AFTER":   validSHA,
		"EVENT_PUSHER":  "dev",
		"EVENT_COMMITS": "1",
	}
	for key, want := range expectations {
		if got := variables[key]; got != want {
			t.Errorf("Variables()[%q] = %q, want %q", key, got, want)
		}
	}
}

func TestEncodeReadRoundTrip(t *testing.T) {
	t.Parallel()

	push := &Push{
		Repo:   "/srv/git/widget.git",
		Ref:    "refs/heads/main",
		Before: ZeroSHA,
		After:  validSHA,
		Pusher: "dev",
	}
	data, err := push.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	path := filepath.Join(t.TempDir(), "push.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing event file: %v", err)
	}

	loaded, err := ReadPushFile(path)
	if err != nil {
		t.Fatalf("ReadPushFile: %v", err)
	}
	if loaded.Repo != push.Repo || loaded.Ref != push.Ref || loaded.After != push.After {
		t.Errorf("round trip mismatch: got %+v, want %+v", loaded, push)
	}
}

func TestShortAfter(t *testing.T) {
	t.Parallel()

	push := Push{After: validSHA}
	if got := push.ShortAfter(); got != validSHA[:12] {
		t.Errorf("ShortAfter() = %q, want %q", got, validSHA[:12])
	}
	short := Push{After: "abc"}
	if got := short.ShortAfter(); got != "abc" {
		t.Errorf("ShortAfter() = %q, want %q", got, "abc")
	}
}
