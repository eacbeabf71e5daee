// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/bureau-foundation/conveyor/lib/gitcmd"
	"github.com/bureau-foundation/conveyor/lib/workflow"
)

// LoadWorkflow reads, parses, and validates the workflow definition
// stored in the repository at the pushed commit. An empty path means
// workflow.DefaultPath. The definition comes from the commit itself,
// so every push builds with the workflow it carried — editing the
// workflow takes effect on the next push, not retroactively.
func LoadWorkflow(ctx context.Context, repoDir, sha, path string) (*workflow.Workflow, error) {
	if path == "" {
		path = workflow.DefaultPath
	}

	data, err := gitcmd.NewRepository(repoDir).ShowFile(ctx, sha, path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow %s at %s: %w", path, sha, err)
	}

	wf, err := workflow.Parse(data, workflow.FormatForPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s at %s: %w", path, sha, err)
	}
	if wf.Name == "" {
		wf.Name = workflow.NameFromPath(path)
	}

	if issues := workflow.Validate(wf); len(issues) > 0 {
		return nil, fmt.Errorf("workflow %s is invalid:\n  %s", path, strings.Join(issues, "\n  "))
	}
	return wf, nil
}
