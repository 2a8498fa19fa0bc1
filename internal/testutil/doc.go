// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers shared by tests: writing fixture trees
// and gating tests that need a real container engine.
package testutil
