// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError carries an exit code for outcomes that are results, not
// errors: "run" returns one after printing the summary of a failed
// run, "workflow validate" after listing a definition's issues. The
// command has already said everything there is to say, so main exits
// with the code and prints nothing further.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}
