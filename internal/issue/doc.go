// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors and a catalog of Markdown guidance
// for the failure kinds a deployment run can report.
//
// ActionableError carries the failed operation, the resource involved and a
// list of suggestions; the CLI formats it for the terminal. The catalog maps an
// Id to a Markdown page rendered with glamour when verbose output is requested.
package issue
