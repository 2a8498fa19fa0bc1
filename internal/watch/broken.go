// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"errors"
	"fmt"
)

// ErrWatcherBroken is returned by Run when the OS notification mechanism
// fails in a way that no further events can be expected.
var ErrWatcherBroken = errors.New("file watcher broken")

// BrokenError wraps the notification error that stopped a Watcher.
type BrokenError struct {
	Cause error
}

// Error implements the error interface.
func (e *BrokenError) Error() string {
	return fmt.Sprintf("%s: %v (raise the watch or file descriptor limit and restart)", ErrWatcherBroken, e.Cause)
}

// Unwrap returns ErrWatcherBroken and the cause.
func (e *BrokenError) Unwrap() []error { return []error{ErrWatcherBroken, e.Cause} }

// resourcesExhausted reports whether err is one of the platform errors after
// which the watcher stops delivering events.
func resourcesExhausted(err error) bool {
	for _, errno := range exhaustionErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
