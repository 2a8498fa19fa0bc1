// SPDX-License-Identifier: MPL-2.0

// Package backend defines how the deployer talks to an environment.
//
// A Backend runs commands inside a named environment and moves files into
// it. ContainerBackend implements it on top of a container engine, bounding
// every call with a timeout; Throttle bounds how many calls run at once.
// Tests use the in-memory implementation in package backendtest.
package backend
