// SPDX-License-Identifier: MPL-2.0

//go:build windows

package watch

import "syscall"

// exhaustionErrnos break ReadDirectoryChangesW for good: ERROR_TOO_MANY_OPEN_FILES,
// ERROR_INVALID_HANDLE (the watched directory went away) and
// ERROR_NOT_ENOUGH_MEMORY.
var exhaustionErrnos = []syscall.Errno{4, 6, 8}
