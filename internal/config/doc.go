// SPDX-License-Identifier: MPL-2.0

// Package config handles nodefleet's application configuration using Viper with
// CUE as the file format.
//
// Values come from, in increasing precedence: built-in defaults, the CUE config
// file, NODEFLEET_* environment variables (NODEFLEET_DEPLOY_PARALLELISM for
// deploy.parallelism) and explicit overrides such as command-line flags.
//
// The config file is looked up in the platform configuration directory
// (~/.config/nodefleet/config.cue on Linux) and then as .nodefleet.cue in the
// working directory. It is validated against the embedded #Config schema
// (config_schema.cue) before it is merged.
package config
