// SPDX-License-Identifier: MPL-2.0

// Package fleet models the fleet description: the environments to deploy to,
// the artifacts each role receives, the address rewrite rules, and the
// packages every environment needs.
//
// A fleet is loaded from a CUE file validated against the embedded #Fleet
// schema (see fleet_schema.cue), then checked for consistency by Validate.
// Plan resolves the description into one EnvironmentPlan per environment,
// which is everything the deployer needs to act on that environment.
package fleet
