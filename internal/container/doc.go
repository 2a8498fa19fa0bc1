// SPDX-License-Identifier: MPL-2.0

// Package container drives the Docker and Podman command line clients.
//
// The Engine interface covers what a fleet needs from a container engine:
// long-lived containers started detached, commands executed inside them,
// files copied in with "cp", and user-defined networks. DockerEngine and
// PodmanEngine both embed BaseCLIEngine, which builds the argument lists and
// runs the binary through an injectable ExecCommandFunc so tests can replace
// the real process.
//
// NewEngine picks the preferred engine and falls back to the other one; with
// no preference Podman is tried first.
//
// Only Linux containers are supported. Use debian:stable-slim as the reference
// image in tests and examples.
package container
