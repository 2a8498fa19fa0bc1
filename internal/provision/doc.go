// SPDX-License-Identifier: MPL-2.0

// Package provision creates and removes the environments of a fleet: an
// optional user-defined network and one long-lived container per environment,
// named after it. Both directions are idempotent.
//
// A Baker can derive a cached image from the fleet image with the fleet
// packages preinstalled, which Up then runs instead of the fleet image.
package provision
