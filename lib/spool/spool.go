// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package spool provides the on-disk queue between the git hook and
// the runner.
//
// The hook (via `conveyor event emit`) writes one JSON file per push
// into the spool directory; a watching conveyor process claims the
// oldest pending file, runs the workflow, and removes the file when
// done. Writes are atomic (temporary file, fsync, rename), so a
// claimer never sees a partial event. Claims are renames to a
// .claimed suffix, so two watchers racing for the same event cannot
// both win: the loser's rename fails and it moves on.
//
// Crash safety: a claim that is never resolved (the claiming process
// died mid-run) is reclaimed once its file is old enough. Events that
// cannot be processed at all are set aside with a .failed suffix
// rather than retried forever.
package spool

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bureau-foundation/conveyor/lib/clock"
	"github.com/bureau-foundation/conveyor/lib/event"
)

// DefaultStaleClaim is how old a claimed file must be before another
// watcher may assume its owner died and reclaim it. Generous on
// purpose: a claim legitimately stays open for an entire run.
const DefaultStaleClaim = 6 * time.Hour

const (
	pendingSuffix = ".json"
	claimedSuffix = ".json.claimed"
	failedSuffix  = ".json.failed"
)

// Spool is a directory of spooled push events.
type Spool struct {
	dir        string
	staleAfter time.Duration
	logger     *slog.Logger
}

// New opens the spool directory, creating it if needed.
func New(dir string, logger *slog.Logger) (*Spool, error) {
	if dir == "" {
		return nil, fmt.Errorf("spool: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating spool directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Spool{
		dir:        dir,
		staleAfter: DefaultStaleClaim,
		logger:     logger,
	}, nil
}

// Dir returns the spool directory.
func (s *Spool) Dir() string { return s.dir }

// Write spools a push event atomically and returns the path of the
// pending file. File names embed the write time, so claim order is
// arrival order.
func (s *Spool) Write(push *event.Push) (string, error) {
	data, err := push.Encode()
	if err != nil {
		return "", err
	}

	name, err := fileName(time.Now())
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, name)

	temporary, err := os.CreateTemp(s.dir, ".spool-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temporary spool file: %w", err)
	}
	temporaryPath := temporary.Name()

	// Write, sync, close, rename — readers never see a partial event.
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return "", fmt.Errorf("writing temporary spool file: %w", err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		os.Remove(temporaryPath)
		return "", fmt.Errorf("syncing temporary spool file: %w", err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporaryPath)
		return "", fmt.Errorf("closing temporary spool file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return "", fmt.Errorf("renaming spool file into place: %w", err)
	}

	s.logger.Debug("push event spooled", "path", path, "ref", push.Ref, "after", push.ShortAfter())
	return path, nil
}

// fileName mints a pending file name: hex nanosecond timestamp (so
// lexicographic order is chronological) plus a random tail against
// same-instant collisions.
func fileName(now time.Time) (string, error) {
	tail := make([]byte, 3)
	if _, err := rand.Read(tail); err != nil {
		return "", fmt.Errorf("generating spool file name: %w", err)
	}
	return fmt.Sprintf("e-%016x-%s%s", now.UnixNano(), hex.EncodeToString(tail), pendingSuffix), nil
}

// Claim takes ownership of the oldest pending event. Returns nil with
// no error when the spool is empty. The caller must resolve the claim
// with exactly one of Done, Fail, or Release.
func (s *Spool) Claim() (*Claim, error) {
	for {
		pending, err := s.scan()
		if err != nil {
			return nil, err
		}
		if len(pending) == 0 {
			return nil, nil
		}

		path := pending[0]
		claimedPath := strings.TrimSuffix(path, pendingSuffix) + claimedSuffix
		if err := os.Rename(path, claimedPath); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Another watcher claimed it first; try the next scan.
				continue
			}
			return nil, fmt.Errorf("claiming %s: %w", path, err)
		}

		push, err := event.ReadPushFile(claimedPath)
		if err != nil {
			// A corrupt event would otherwise wedge the queue head.
			failedPath := strings.TrimSuffix(claimedPath, claimedSuffix) + failedSuffix
			s.logger.Warn("unreadable push event set aside", "path", path, "error", err)
			if renameErr := os.Rename(claimedPath, failedPath); renameErr != nil {
				return nil, fmt.Errorf("setting aside unreadable event: %w", renameErr)
			}
			continue
		}

		s.logger.Debug("push event claimed", "path", path, "ref", push.Ref)
		return &Claim{Push: push, spool: s, path: claimedPath}, nil
	}
}

// scan lists pending event paths oldest-first, reclaiming stale
// claimed files along the way so they rejoin the queue.
func (s *Spool) scan() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading spool directory: %w", err)
	}

	var pending []string
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case entry.IsDir() || !strings.HasPrefix(name, "e-"):
		case strings.HasSuffix(name, pendingSuffix):
			pending = append(pending, filepath.Join(s.dir, name))
		case strings.HasSuffix(name, claimedSuffix):
			if reclaimed := s.reclaim(entry); reclaimed != "" {
				pending = append(pending, reclaimed)
			}
		}
	}

	sort.Strings(pending)
	return pending, nil
}

// reclaim returns a stale claim to the pending queue and returns the
// restored path, or "" when the claim is still fresh (or vanished
// because its owner resolved it mid-scan).
func (s *Spool) reclaim(entry fs.DirEntry) string {
	info, err := entry.Info()
	if err != nil {
		return ""
	}
	if time.Since(info.ModTime()) <= s.staleAfter {
		return ""
	}

	claimedPath := filepath.Join(s.dir, entry.Name())
	path := strings.TrimSuffix(claimedPath, claimedSuffix) + pendingSuffix
	if err := os.Rename(claimedPath, path); err != nil {
		return ""
	}
	s.logger.Info("stale claim returned to spool", "path", path, "age", time.Since(info.ModTime()))
	return path
}

// Pending lists pending event paths, oldest first. Stale claims are
// reclaimed as a side effect, exactly as Claim would.
func (s *Spool) Pending() ([]string, error) {
	return s.scan()
}

// Failed lists events set aside by Fail or by unreadable-event
// handling, oldest first.
func (s *Spool) Failed() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading spool directory: %w", err)
	}

	var failed []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, "e-") && strings.HasSuffix(name, failedSuffix) {
			failed = append(failed, filepath.Join(s.dir, name))
		}
	}
	sort.Strings(failed)
	return failed, nil
}

// Watch polls the spool and delivers claims on the returned channel
// until ctx ends, at which point the channel closes. Pending events
// are drained completely before each wait, so the interval bounds only
// the idle latency, not the throughput.
func (s *Spool) Watch(ctx context.Context, clk clock.Clock, interval time.Duration) <-chan *Claim {
	claims := make(chan *Claim)

	go func() {
		defer close(claims)
		ticker := clk.NewTicker(interval)
		defer ticker.Stop()

		for {
			for {
				claim, err := s.Claim()
				if err != nil {
					s.logger.Warn("spool scan failed", "error", err)
					break
				}
				if claim == nil {
					break
				}
				select {
				case claims <- claim:
				case <-ctx.Done():
					// Nobody will resolve this claim; put it back now
					// rather than waiting out the staleness window.
					if err := claim.Release(); err != nil {
						s.logger.Warn("releasing claim on shutdown", "error", err)
					}
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return claims
}

// Claim is ownership of one spooled event.
type Claim struct {
	// Push is the claimed event.
	Push *event.Push

	spool *Spool
	path  string
}

// Path returns the claimed file's path, for logging.
func (c *Claim) Path() string { return c.path }

// Done removes the spooled event: processing finished, whatever the
// run's conclusion was. Idempotent.
func (c *Claim) Done() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing claimed event: %w", err)
	}
	return nil
}

// Fail sets the event aside with a .failed suffix: kept on disk for
// inspection, never claimed again. For events that cannot be
// processed (unparseable workflow, no matching runners), where
// retrying would fail identically.
func (c *Claim) Fail() error {
	failedPath := strings.TrimSuffix(c.path, claimedSuffix) + failedSuffix
	if err := os.Rename(c.path, failedPath); err != nil {
		return fmt.Errorf("setting claimed event aside: %w", err)
	}
	return nil
}

// Release returns the event to the pending queue, undoing the claim.
// Used on shutdown so an unprocessed event is picked up promptly by
// the next watcher instead of aging through the staleness window.
func (c *Claim) Release() error {
	path := strings.TrimSuffix(c.path, claimedSuffix) + pendingSuffix
	if err := os.Rename(c.path, path); err != nil {
		return fmt.Errorf("returning claimed event to spool: %w", err)
	}
	return nil
}
