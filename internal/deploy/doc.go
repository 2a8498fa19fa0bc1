// SPDX-License-Identifier: MPL-2.0

// Package deploy installs a fleet: packages, role artifacts and address
// bindings, one pipeline per environment.
//
// Each environment goes through the same strictly ordered steps:
//
//  1. ensure the install directory exists
//  2. install packages (Installer)
//  3. copy the role's artifacts (Distributor)
//  4. rewrite address placeholders in place (Rewriter)
//  5. write the structured endpoint config (Injector), depending on the
//     fleet's binding mode
//
// A failing step stops its environment's pipeline only. Deployer runs the
// pipelines on a bounded worker pool and returns one Result per environment
// in fleet declaration order. Every step is safe to repeat, so re-running a
// deployment converges.
package deploy
