// SPDX-License-Identifier: MPL-2.0

package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mvdan.cc/sh/v3/syntax"

	"github.com/invowk/nodefleet/internal/backend"
	"github.com/invowk/nodefleet/internal/container"
	"github.com/invowk/nodefleet/internal/fleet"
)

const (
	// DefaultInstallAttempts bounds the attempts per package manager command.
	DefaultInstallAttempts = 3
	// DefaultRetryBackoff is the wait before the second attempt; it doubles after.
	DefaultRetryBackoff = 2 * time.Second
)

type (
	// Installer ensures packages are present inside an environment.
	Installer struct {
		backend  backend.Backend
		manager  fleet.PackageManager
		attempts int
		backoff  time.Duration
	}

	// InstallerOption configures an Installer.
	InstallerOption func(*Installer)

	packageCommands struct {
		update  string
		install string
	}
)

var managerCommands = map[fleet.PackageManager]packageCommands{
	fleet.PackageManagerApt: {
		update:  "apt-get update -q",
		install: "DEBIAN_FRONTEND=noninteractive apt-get install -y -q --no-install-recommends",
	},
	fleet.PackageManagerDnf: {
		update:  "dnf makecache -q",
		install: "dnf install -y -q",
	},
}

// WithAttempts sets the attempt budget per command. Values below 1 mean 1.
func WithAttempts(n int) InstallerOption {
	return func(i *Installer) {
		i.attempts = max(n, 1)
	}
}

// WithBackoff sets the base retry backoff.
func WithBackoff(d time.Duration) InstallerOption {
	return func(i *Installer) {
		i.backoff = d
	}
}

// NewInstaller creates an Installer for the given package manager; an empty
// manager means apt.
func NewInstaller(b backend.Backend, manager fleet.PackageManager, opts ...InstallerOption) *Installer {
	if manager == "" {
		manager = fleet.PackageManagerApt
	}
	i := &Installer{
		backend:  b,
		manager:  manager,
		attempts: DefaultInstallAttempts,
		backoff:  DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ensure refreshes the package index once, then installs every spec with one
// package manager invocation each, so a failure names its package. Packages
// that are already installed are left alone by the package manager.
func (i *Installer) Ensure(ctx context.Context, env string, packages []fleet.PackageSpec) error {
	if len(packages) == 0 {
		return ErrNoPackages
	}
	cmds, ok := managerCommands[i.manager]
	if !ok {
		return newError(PackageInstallFailed, env, StepInstall, fmt.Errorf("unsupported package manager %q", i.manager))
	}

	if err := i.run(ctx, env, cmds.update); err != nil {
		e := newError(PackageInstallFailed, env, StepInstall, err)
		e.Package = "(index update)"
		return e
	}

	for _, spec := range packages {
		script, err := InstallScript(i.manager, spec)
		if err != nil {
			e := newError(PackageInstallFailed, env, StepInstall, err)
			e.Package = spec.String()
			return e
		}
		if err := i.run(ctx, env, script); err != nil {
			e := newError(PackageInstallFailed, env, StepInstall, err)
			e.Package = spec.String()
			return e
		}
	}
	return nil
}

// UpdateScript returns the shell command refreshing the package index.
func UpdateScript(manager fleet.PackageManager) (string, error) {
	cmds, ok := managerCommands[manager]
	if !ok {
		return "", fmt.Errorf("unsupported package manager %q", manager)
	}
	return cmds.update, nil
}

// InstallScript returns the shell command installing spec.
func InstallScript(manager fleet.PackageManager, spec fleet.PackageSpec) (string, error) {
	cmds, ok := managerCommands[manager]
	if !ok {
		return "", fmt.Errorf("unsupported package manager %q", manager)
	}
	var b strings.Builder
	b.WriteString(cmds.install)
	for _, name := range spec.PackageNames() {
		quoted, err := syntax.Quote(name, syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("package name %q: %w", name, err)
		}
		b.WriteString(" ")
		b.WriteString(quoted)
	}
	return b.String(), nil
}

// run executes script with "sh -c", retrying transient failures.
func (i *Installer) run(ctx context.Context, env, script string) error {
	argv := []string{"sh", "-c", script}
	return container.RetryWithBackoff(ctx, i.attempts, i.backoff, func(int) (bool, error) {
		res, err := i.backend.Execute(ctx, env, argv)
		if err != nil {
			return errors.Is(err, backend.ErrUnreachable), err
		}
		if res.Succeeded() {
			return false, nil
		}
		return container.IsTransientExit(res.ExitCode, res.Output()),
			fmt.Errorf("%s: exit %d: %s", script, res.ExitCode, lastLines(res.Stderr, 3))
	})
}

// lastLines returns up to n trailing non-empty lines of s, joined by "; ".
func lastLines(s string, n int) string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "; ")
}
