// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gitcmd provides typed access to the git CLI for the
// repository operations conveyor performs: materializing the pushed
// commit into a per-instance workspace and installing the post-receive
// hook that feeds the event spool. All commands target a specific
// repository directory via the -C flag, which is automatically injected
// by all Repository methods.
package gitcmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Repository represents a git repository at a specific directory. All
// operations target this directory via "git -C <dir>". There is no
// default directory — callers must always specify which repository
// they mean.
type Repository struct {
	dir string
}

// NewRepository returns a Repository targeting the given directory.
// The directory may be a bare repository or a working tree.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command targeting this repository and returns
// stdout. Stderr is captured separately and included in error messages
// on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", r.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Command returns an *exec.Cmd for a git command without running it.
// The caller gets full control over Stdin, Stdout, Stderr, and
// SysProcAttr before starting the process. The -C flag targeting
// this repository is automatically prepended.
func (r *Repository) Command(ctx context.Context, args ...string) *exec.Cmd {
	fullArgs := append([]string{"-C", r.dir}, args...)
	return exec.CommandContext(ctx, "git", fullArgs...)
}

// runGit executes a git command that does not target an existing
// repository (init, clone). Same error shape as Repository.Run minus
// the directory.
func runGit(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", args...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w (stderr: %s)",
			strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Init creates a new repository at dir and returns a Repository
// targeting it. With bare set the repository has no working tree.
func Init(ctx context.Context, dir string, bare bool) (*Repository, error) {
	args := []string{"init", "--quiet"}
	if bare {
		args = append(args, "--bare")
	}
	args = append(args, dir)
	if _, err := runGit(ctx, args...); err != nil {
		return nil, err
	}
	return NewRepository(dir), nil
}

// CloneOptions control how CloneTo materializes a copy.
type CloneOptions struct {
	// Depth, when positive, requests a shallow clone with that many
	// commits of history.
	Depth int

	// Branch, when set, clones only the named branch.
	Branch string

	// Shared borrows objects from the source repository instead of
	// copying them. Only safe when the clone is discarded before the
	// source can be repacked, which holds for per-run workspaces.
	Shared bool
}

// CloneTo clones this repository into dest and returns a Repository
// targeting the clone. dest must not exist or must be empty.
func (r *Repository) CloneTo(ctx context.Context, dest string, opts CloneOptions) (*Repository, error) {
	args := []string{"clone", "--quiet"}
	if opts.Shared {
		args = append(args, "--shared")
	}
	if opts.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(opts.Depth))
	}
	if opts.Branch != "" {
		args = append(args, "--branch", opts.Branch)
	}
	args = append(args, r.dir, dest)
	if _, err := runGit(ctx, args...); err != nil {
		return nil, err
	}
	return NewRepository(dest), nil
}

// Fetch updates refs from the named remote. Additional refspecs are
// passed through unchanged.
func (r *Repository) Fetch(ctx context.Context, remote string, refspecs ...string) error {
	args := append([]string{"fetch", "--quiet", remote}, refspecs...)
	_, err := r.Run(ctx, args...)
	return err
}

// Checkout moves the working tree to the given commit, detached. Local
// modifications are discarded; workspaces are disposable.
func (r *Repository) Checkout(ctx context.Context, sha string) error {
	_, err := r.Run(ctx, "checkout", "--quiet", "--force", "--detach", sha)
	return err
}

// ShowFile returns the contents of path (relative to the repository
// root) at the given revision. Works on bare repositories: the file
// comes from the object store, not a working tree.
func (r *Repository) ShowFile(ctx context.Context, rev, path string) ([]byte, error) {
	output, err := r.Run(ctx, "show", rev+":"+path)
	if err != nil {
		return nil, err
	}
	return []byte(output), nil
}

// RevParse resolves a revision expression to its full object name.
func (r *Repository) RevParse(ctx context.Context, rev string) (string, error) {
	output, err := r.Run(ctx, "rev-parse", "--verify", rev)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(output), nil
}

// HeadSHA returns the commit currently checked out.
func (r *Repository) HeadSHA(ctx context.Context) (string, error) {
	return r.RevParse(ctx, "HEAD")
}

// InstallHook writes an executable script into the repository's hooks
// directory under the given name, replacing any existing hook, and
// returns the hook path. The hooks directory is resolved through git
// so bare repositories and core.hooksPath overrides both work.
func (r *Repository) InstallHook(ctx context.Context, name string, script []byte) (string, error) {
	output, err := r.Run(ctx, "rev-parse", "--git-path", "hooks")
	if err != nil {
		return "", err
	}
	hooksDir := strings.TrimSpace(output)
	if !filepath.IsAbs(hooksDir) {
		// --git-path answers relative to the repository directory
		// because Run targets it with -C.
		hooksDir = filepath.Join(r.dir, hooksDir)
	}
	if err := os.MkdirAll(hooksDir, 0o755); err != nil {
		return "", fmt.Errorf("creating hooks directory: %w", err)
	}
	hookPath := filepath.Join(hooksDir, name)
	if err := os.WriteFile(hookPath, script, 0o755); err != nil {
		return "", fmt.Errorf("writing hook %s: %w", name, err)
	}
	return hookPath, nil
}
