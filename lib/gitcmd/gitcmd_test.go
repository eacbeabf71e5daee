// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gitcmd

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skipf("git not available: %v", err)
	}
}

// initWorkRepo creates a repository with one commit and returns it
// along with the commit SHA.
func initWorkRepo(t *testing.T) (*Repository, string) {
	t.Helper()
	ctx := context.Background()

	repo, err := Init(ctx, filepath.Join(t.TempDir(), "src"), false)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	for _, config := range [][2]string{
		{"user.name", "Test"},
		{"user.email", "test@test.local"},
	} {
		if _, err := repo.Run(ctx, "config", config[0], config[1]); err != nil {
			t.Fatalf("git config %s: %v", config[0], err)
		}
	}
	sha := commitFile(t, repo, "README", "test\n")
	return repo, sha
}

func commitFile(t *testing.T, repo *Repository, name, content string) string {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(repo.Dir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if _, err := repo.Run(ctx, "add", name); err != nil {
		t.Fatalf("git add: %v", err)
	}
	if _, err := repo.Run(ctx, "commit", "--quiet", "-m", "add "+name); err != nil {
		t.Fatalf("git commit: %v", err)
	}
	sha, err := repo.HeadSHA(ctx)
	if err != nil {
		t.Fatalf("HeadSHA: %v", err)
	}
	return sha
}

func TestInitAndHeadSHA(t *testing.T) {
	t.Parallel()
	requireGit(t)

	_, sha := initWorkRepo(t)
	if !regexp.MustCompile(`^[0-9a-f]{40,64}$`).MatchString(sha) {
		t.Errorf("HeadSHA = %q, want a full hex object name", sha)
	}
}

func TestCloneToAndCheckout(t *testing.T) {
	t.Parallel()
	requireGit(t)
	ctx := context.Background()

	source, firstSHA := initWorkRepo(t)
	secondSHA := commitFile(t, source, "main.rs", "fn main() {}\n")
	if firstSHA == secondSHA {
		t.Fatal("expected two distinct commits")
	}

	workspace, err := source.CloneTo(ctx, filepath.Join(t.TempDir(), "workspace"), CloneOptions{Shared: true})
	if err != nil {
		t.Fatalf("CloneTo: %v", err)
	}

	// The clone starts at the second commit; checking out the first
	// must move HEAD there, detached.
	if err := workspace.Checkout(ctx, firstSHA); err != nil {
		t.Fatalf("Checkout(%s): %v", firstSHA, err)
	}
	head, err := workspace.HeadSHA(ctx)
	if err != nil {
		t.Fatalf("HeadSHA: %v", err)
	}
	if head != firstSHA {
		t.Errorf("HEAD after checkout = %s, want %s", head, firstSHA)
	}
	if _, err := os.Stat(filepath.Join(workspace.Dir(), "main.rs")); !os.IsNotExist(err) {
		t.Errorf("main.rs should not exist at the first commit (stat err = %v)", err)
	}
}

func TestFetchBringsNewCommits(t *testing.T) {
	t.Parallel()
	requireGit(t)
	ctx := context.Background()

	source, _ := initWorkRepo(t)
	clone, err := source.CloneTo(ctx, filepath.Join(t.TempDir(), "clone"), CloneOptions{})
	if err != nil {
		t.Fatalf("CloneTo: %v", err)
	}

	newSHA := commitFile(t, source, "lib.rs", "pub fn noop() {}\n")

	if err := clone.Fetch(ctx, "origin"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if err := clone.Checkout(ctx, newSHA); err != nil {
		t.Errorf("Checkout of fetched commit: %v", err)
	}
}

func TestShowFileReadsHistoricalContent(t *testing.T) {
	t.Parallel()
	requireGit(t)
	ctx := context.Background()

	repo, firstSHA := initWorkRepo(t)
	commitFile(t, repo, "README", "rewritten\n")

	// The file at the first commit, not the working tree's version.
	content, err := repo.ShowFile(ctx, firstSHA, "README")
	if err != nil {
		t.Fatalf("ShowFile: %v", err)
	}
	if string(content) != "test\n" {
		t.Errorf("ShowFile = %q, want %q", content, "test\n")
	}

	if _, err := repo.ShowFile(ctx, firstSHA, "no/such/file"); err == nil {
		t.Error("ShowFile of a missing path should fail")
	}
}

func TestRunErrorNamesDirAndStderr(t *testing.T) {
	t.Parallel()
	requireGit(t)

	repo, _ := initWorkRepo(t)
	_, err := repo.Run(context.Background(), "not-a-real-command")
	if err == nil {
		t.Fatal("expected error for invalid git subcommand")
	}
	if !strings.Contains(err.Error(), repo.Dir()) {
		t.Errorf("error = %v, want to contain repository dir %q", err, repo.Dir())
	}
	if !strings.Contains(err.Error(), "stderr:") {
		t.Errorf("error = %v, want to carry captured stderr", err)
	}
}

func TestRevParseUnknownRevision(t *testing.T) {
	t.Parallel()
	requireGit(t)

	repo, _ := initWorkRepo(t)
	if _, err := repo.RevParse(context.Background(), "no-such-rev"); err == nil {
		t.Fatal("expected error for unknown revision")
	}
}

func TestCommand(t *testing.T) {
	t.Parallel()

	repo := NewRepository("/some/dir")
	cmd := repo.Command(context.Background(), "status", "--porcelain")

	// exec.Cmd.Args includes the program name as Args[0].
	expectedArgs := []string{"git", "-C", "/some/dir", "status", "--porcelain"}
	if len(cmd.Args) != len(expectedArgs) {
		t.Fatalf("cmd.Args = %v, want %v", cmd.Args, expectedArgs)
	}
	for i, want := range expectedArgs {
		if cmd.Args[i] != want {
			t.Errorf("cmd.Args[%d] = %q, want %q", i, cmd.Args[i], want)
		}
	}
}

func TestDir(t *testing.T) {
	t.Parallel()

	repo := NewRepository("/path/to/repo")
	if repo.Dir() != "/path/to/repo" {
		t.Errorf("Dir() = %q, want %q", repo.Dir(), "/path/to/repo")
	}
}

func TestInstallHook(t *testing.T) {
	t.Parallel()
	requireGit(t)
	ctx := context.Background()

	repo, err := Init(ctx, filepath.Join(t.TempDir(), "hooks.git"), true)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	script := []byte("#!/bin/sh\nexec conveyor event emit\n")
	hookPath, err := repo.InstallHook(ctx, "post-receive", script)
	if err != nil {
		t.Fatalf("InstallHook: %v", err)
	}

	info, err := os.Stat(hookPath)
	if err != nil {
		t.Fatalf("stat hook: %v", err)
	}
	if info.Mode().Perm()&0o111 == 0 {
		t.Errorf("hook mode = %v, want executable", info.Mode())
	}
	written, err := os.ReadFile(hookPath)
	if err != nil {
		t.Fatalf("read hook: %v", err)
	}
	if string(written) != string(script) {
		t.Errorf("hook content = %q, want %q", written, script)
	}

	// Installing again replaces the existing hook.
	if _, err := repo.InstallHook(ctx, "post-receive", []byte("#!/bin/sh\n")); err != nil {
		t.Errorf("reinstall: %v", err)
	}
}
