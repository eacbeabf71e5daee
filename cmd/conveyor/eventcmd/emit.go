// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventcmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/event"
	"github.com/bureau-foundation/conveyor/lib/gitcmd"
	"github.com/bureau-foundation/conveyor/lib/spool"
)

// commitLimit caps how many commits an event carries. A force-push of
// a long-lived branch can span thousands of commits; the event only
// needs enough for reporting.
const commitLimit = 20

// emitCommand returns the "emit" subcommand for spooling push events.
func emitCommand() *cli.Command {
	var configPath string
	var repoPath string
	var ref string
	var before string
	var after string
	var pusher string

	return &cli.Command{
		Name:    "emit",
		Summary: "Spool a push event for the runner",
		Description: `Spool a push event. With --ref, one event is built for that ref
(resolving the tip via git when --after is not given). Without
--ref, git post-receive lines ("<old> <new> <refname>", one per
updated ref) are read from stdin — the form the installed hook
uses:

  conveyor event emit --repo "$PWD" < /dev/stdin

Only branch refs (refs/heads/...) are spooled; tag pushes and ref
deletions produce no build and are skipped. Each event carries the
pushed commit range's subjects and authors when the repository can
provide them.`,
		Usage: "conveyor event emit [flags]",
		Examples: []cli.Example{
			{
				Description: "Manually queue a run for a branch tip",
				Command:     "conveyor event emit --repo /srv/repos/app.git --ref refs/heads/main",
			},
			{
				Description: "Queue a specific commit range",
				Command:     "conveyor event emit --repo . --ref refs/heads/main --before 4f2c91d --after 8a31be0",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("emit", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file")
			flagSet.StringVar(&repoPath, "repo", "", "repository path (default: current directory)")
			flagSet.StringVar(&ref, "ref", "", "full ref name to emit for (skips stdin)")
			flagSet.StringVar(&before, "before", "", "previous tip SHA (default: unknown)")
			flagSet.StringVar(&after, "after", "", "new tip SHA (default: resolve ref)")
			flagSet.StringVar(&pusher, "pusher", "", "pusher name recorded on the event (default: $USER)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("usage: conveyor event emit [flags]")
			}

			cfg, err := cli.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if err := cfg.EnsurePaths(); err != nil {
				return err
			}
			logger = logger.With("command", "event emit")

			sp, err := spool.New(cfg.Paths.Spool, logger)
			if err != nil {
				return err
			}

			if repoPath == "" {
				repoPath, err = os.Getwd()
				if err != nil {
					return fmt.Errorf("resolving repository path: %w", err)
				}
			}
			repoPath, err = filepath.Abs(repoPath)
			if err != nil {
				return fmt.Errorf("resolving repository path: %w", err)
			}
			if pusher == "" {
				pusher = os.Getenv("USER")
			}

			emitter := &emitter{
				spool:  sp,
				repo:   gitcmd.NewRepository(repoPath),
				pusher: pusher,
				logger: logger,
			}

			if ref != "" {
				return emitter.emitRef(ctx, ref, before, after)
			}
			return emitter.emitReceiveLines(ctx, os.Stdin)
		},
	}
}

// emitter spools push events for one repository.
type emitter struct {
	spool  *spool.Spool
	repo   *gitcmd.Repository
	pusher string
	logger *slog.Logger
}

// emitRef builds and spools a single event for an explicitly named
// ref. An empty after resolves the ref's current tip; an empty before
// marks the range as unknown (treated like a created ref).
func (e *emitter) emitRef(ctx context.Context, ref, before, after string) error {
	if after == "" {
		resolved, err := e.repo.RevParse(ctx, ref)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", ref, err)
		}
		after = resolved
	}
	if before == "" {
		before = event.ZeroSHA
	}
	return e.emit(ctx, ref, before, after)
}

// emitReceiveLines reads git post-receive lines ("<old> <new>
// <refname>") and spools one event per updated branch. Lines for
// tags, notes, and ref deletions are skipped. A malformed line is an
// error: it means the input is not post-receive output.
func (e *emitter) emitReceiveLines(ctx context.Context, input io.Reader) error {
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		before, after, ref, err := parseReceiveLine(line)
		if err != nil {
			return err
		}
		if !strings.HasPrefix(ref, "refs/heads/") {
			e.logger.Debug("skipping non-branch ref", "ref", ref)
			continue
		}
		if after == event.ZeroSHA {
			e.logger.Info("branch deleted, nothing to run", "ref", ref)
			continue
		}

		if err := e.emit(ctx, ref, before, after); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading post-receive input: %w", err)
	}
	return nil
}

// emit assembles the event, validates it, and writes it to the spool.
func (e *emitter) emit(ctx context.Context, ref, before, after string) error {
	push := &event.Push{
		Repo:       e.repo.Dir(),
		Ref:        ref,
		Before:     before,
		After:      after,
		Commits:    recentCommits(ctx, e.repo, before, after),
		Pusher:     e.pusher,
		ReceivedAt: time.Now().UTC(),
	}

	if issues := push.Validate(); len(issues) > 0 {
		return fmt.Errorf("push event for %s: %s", ref, strings.Join(issues, "; "))
	}

	path, err := e.spool.Write(push)
	if err != nil {
		return err
	}
	e.logger.Debug("event spooled", "path", path)

	// Under a post-receive hook git relays stdout to the pusher.
	fmt.Printf("conveyor: queued %s %s\n", push.Branch(), push.ShortAfter())
	return nil
}

// parseReceiveLine splits one post-receive line into its three fields.
func parseReceiveLine(line string) (before, after, ref string, err error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return "", "", "", fmt.Errorf("malformed post-receive line %q (want \"<old> <new> <refname>\")", line)
	}
	return fields[0], fields[1], fields[2], nil
}

// recentCommits asks the repository for the commits in the pushed
// range, capped at commitLimit, oldest first. This is enrichment
// only: any failure (shallow clone, unknown before, no git) yields
// nil and the event is spooled without commits.
func recentCommits(ctx context.Context, repo *gitcmd.Repository, before, after string) []event.Commit {
	rangeSpec := after
	if before != "" && before != event.ZeroSHA {
		rangeSpec = before + ".." + after
	}

	// Unit separator between fields; one commit per line.
	out, err := repo.Run(ctx, "log", "--reverse", "-n", strconv.Itoa(commitLimit),
		"--format=%H%x1f%s%x1f%aN <%aE>%x1f%aI", rangeSpec)
	if err != nil {
		return nil
	}

	var commits []event.Commit
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\x1f")
		if len(fields) != 4 {
			continue
		}
		commits = append(commits, event.Commit{
			SHA:       fields[0],
			Message:   fields[1],
			Author:    fields[2],
			Timestamp: fields[3],
		})
	}
	return commits
}
