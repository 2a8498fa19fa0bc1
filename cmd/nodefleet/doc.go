// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the nodefleet CLI commands.
//
// Every command receives an *App, the composition root holding the config
// provider and the factories that reach the container engine. Tests replace
// those factories to run commands against an in-memory backend.
package cmd
