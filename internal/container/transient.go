// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// transientMarkers are output fragments of failures that may succeed on retry:
// resolver and network errors of the engine or of a package manager running
// inside the container, package database locks, and storage driver races.
var transientMarkers = []string{
	"OCI runtime error",
	"Temporary failure resolving",
	"Could not resolve host",
	"connection timed out",
	"connection refused",
	"Failed to fetch",
	"Unable to fetch some archives",
	"Could not get lock",
	"Cannot download repomd.xml",
	"Curl error",
	"error creating overlay mount",
	"error mounting layer",
}

// IsTransientError reports whether err is a transient container engine error
// that may succeed on retry. Exit code 125 is the generic engine failure of
// both Docker and Podman.
//
// Context cancellation and deadline errors are never transient.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 125 {
		return true
	}

	return containsTransientMarker(err.Error())
}

// IsTransientExit reports whether a finished exec session failed in a way
// worth retrying. 125 and 126 mean the engine could not start the command;
// other non-zero codes count only when the output names a transient cause.
func IsTransientExit(exitCode int, output string) bool {
	switch exitCode {
	case 0:
		return false
	case 125, 126:
		return true
	default:
		return containsTransientMarker(output)
	}
}

func containsTransientMarker(s string) bool {
	for _, m := range transientMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
