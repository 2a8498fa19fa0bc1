// SPDX-License-Identifier: MPL-2.0

// Package cueutil checks user CUE documents against an embedded schema
// definition and decodes them. The fleet loader and the config loader share
// it.
//
// Errors are reported as "<file>: <json.path>: <message>" so that users can
// locate the offending field without knowing CUE's internal path syntax.
package cueutil
