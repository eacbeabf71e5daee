// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"fmt"
	"io"

	"github.com/bureau-foundation/conveyor/lib/event"
	"github.com/bureau-foundation/conveyor/lib/gitcmd"
)

// checkout materializes the pushed commit into the workspace: a clone
// of the source repository followed by a detached checkout of the
// pushed SHA. The workspace root becomes the repository root, so
// relative working_dir paths in steps resolve inside the checkout.
//
// With depth zero the clone shares objects with the source — cheap
// for local repositories, and safe because the workspace is discarded
// before the source could be repacked. A positive depth makes a
// shallow clone of the pushed branch instead; the pushed commit must
// still be within depth of the branch tip when the clone happens.
func checkout(ctx context.Context, push *event.Push, workspace string, depth int, output io.Writer) error {
	source := gitcmd.NewRepository(push.Repo)

	opts := gitcmd.CloneOptions{Shared: true}
	if depth > 0 {
		opts = gitcmd.CloneOptions{Depth: depth, Branch: push.Branch()}
	}

	clone, err := source.CloneTo(ctx, workspace, opts)
	if err != nil {
		return err
	}
	if err := clone.Checkout(ctx, push.After); err != nil {
		return err
	}

	fmt.Fprintf(output, "checked out %s at %s\n", push.Repo, push.After)
	return nil
}
