// SPDX-License-Identifier: MPL-2.0

package cmd

import "strconv"

// Process exit codes.
const (
	// ExitDeployFailed: at least one environment failed, or the report
	// could not be written or published.
	ExitDeployFailed = 1
	// ExitConfigError: the run never started (invalid fleet, unreadable
	// configuration, no container engine).
	ExitConfigError = 2
)

// ExitError carries an exit code out of a RunE handler so Execute can
// return it instead of calling os.Exit mid-command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return "exit status " + strconv.Itoa(e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func configError(err error) *ExitError {
	return &ExitError{Code: ExitConfigError, Err: err}
}
