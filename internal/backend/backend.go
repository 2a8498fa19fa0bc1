// SPDX-License-Identifier: MPL-2.0

package backend

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnreachable is returned when the environment cannot accept commands:
	// the container is gone or stopped, the engine failed, or the call timed out.
	ErrUnreachable = errors.New("environment unreachable")

	// ErrFileNotFound is returned by ReadFile when the remote file is absent.
	ErrFileNotFound = errors.New("file not found in environment")
)

type (
	// Backend is the provisioning backend capability the deployer needs.
	// Environments are referenced by name.
	Backend interface {
		// Execute runs argv inside env. A non-zero exit status is reported
		// in ExecResult; the error is reserved for failures to run at all.
		Execute(ctx context.Context, env string, argv []string) (ExecResult, error)
		// CopyIn copies the local file to remote, overwriting it.
		CopyIn(ctx context.Context, env, local, remote string) error
		// EnsureDir creates dir and its parents; an existing dir is success.
		EnsureDir(ctx context.Context, env, dir string) error
		// ReadFile returns the content of remote.
		ReadFile(ctx context.Context, env, remote string) ([]byte, error)
		// WriteFile replaces the content of remote.
		WriteFile(ctx context.Context, env, remote string, data []byte) error
	}

	// ExecResult is the outcome of a command that ran.
	ExecResult struct {
		ExitCode int
		Stdout   string
		Stderr   string
	}

	// UnreachableError carries the environment and the underlying cause.
	UnreachableError struct {
		Env   string
		Cause error
	}
)

// Error implements the error interface.
func (e *UnreachableError) Error() string {
	return fmt.Sprintf("environment %s unreachable: %v", e.Env, e.Cause)
}

// Unwrap returns both ErrUnreachable and the cause.
func (e *UnreachableError) Unwrap() []error { return []error{ErrUnreachable, e.Cause} }

// Unreachable wraps cause as an UnreachableError for env.
func Unreachable(env string, cause error) error {
	return &UnreachableError{Env: env, Cause: cause}
}

// Succeeded reports whether the command exited with status 0.
func (r ExecResult) Succeeded() bool { return r.ExitCode == 0 }

// Output returns stdout followed by stderr.
func (r ExecResult) Output() string { return r.Stdout + r.Stderr }
