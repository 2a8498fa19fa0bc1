// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package watch

import "syscall"

// exhaustionErrnos break inotify for good: the user watch limit
// (fs.inotify.max_user_watches) and the process and system descriptor limits.
var exhaustionErrnos = []syscall.Errno{syscall.ENOSPC, syscall.EMFILE, syscall.ENFILE}
