// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hookcmd

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/conveyor/lib/gitcmd"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skipf("git not available: %v", err)
	}
}

func TestInstallIntoBareRepo(t *testing.T) {
	t.Parallel()
	requireGit(t)
	ctx := context.Background()

	repoDir := filepath.Join(t.TempDir(), "app.git")
	if _, err := gitcmd.Init(ctx, repoDir, true); err != nil {
		t.Fatalf("Init: %v", err)
	}

	cmd := installCommand()
	if err := cmd.Flags().Parse([]string{"--binary", "/opt/conveyor/bin/conveyor"}); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	if err := cmd.Run(ctx, []string{repoDir}, nil); err != nil {
		t.Fatalf("install: %v", err)
	}

	hookPath := filepath.Join(repoDir, "hooks", "post-receive")
	script, err := os.ReadFile(hookPath)
	if err != nil {
		t.Fatalf("reading installed hook: %v", err)
	}
	if !strings.HasPrefix(string(script), "#!/bin/sh\n") {
		t.Errorf("hook missing shebang:\n%s", script)
	}
	if !strings.Contains(string(script), `"/opt/conveyor/bin/conveyor" event emit`) {
		t.Errorf("hook does not invoke emit:\n%s", script)
	}

	info, err := os.Stat(hookPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&0o111 == 0 {
		t.Errorf("hook mode = %v, want executable", info.Mode())
	}
}

func TestInstallNotARepository(t *testing.T) {
	t.Parallel()
	requireGit(t)

	cmd := installCommand()
	if err := cmd.Flags().Parse([]string{"--binary", "/usr/bin/conveyor"}); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	err := cmd.Run(context.Background(), []string{t.TempDir()}, nil)
	if err == nil {
		t.Fatal("expected error for non-repository directory")
	}
}

func TestPostReceiveScript(t *testing.T) {
	t.Parallel()

	plain := string(postReceiveScript("/usr/local/bin/conveyor", ""))
	if strings.Contains(plain, "--config") {
		t.Errorf("script should omit --config when unset:\n%s", plain)
	}
	if !strings.Contains(plain, `--repo "$PWD"`) {
		t.Errorf("script should pass the repository path:\n%s", plain)
	}

	pinned := string(postReceiveScript("/usr/local/bin/conveyor", "/etc/conveyor.yaml"))
	if !strings.Contains(pinned, `--config "/etc/conveyor.yaml"`) {
		t.Errorf("script should embed the config path:\n%s", pinned)
	}
}
