// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

type (
	// DockerEngine drives the docker CLI.
	DockerEngine struct {
		*BaseCLIEngine
	}

	// PodmanEngine drives the podman CLI.
	PodmanEngine struct {
		*BaseCLIEngine
	}
)

// NewDockerEngine returns an engine for the docker binary on PATH unless
// WithBinaryPath overrides it.
func NewDockerEngine(opts ...BaseCLIEngineOption) *DockerEngine {
	return &DockerEngine{BaseCLIEngine: newCLI(EngineTypeDocker, opts)}
}

// NewPodmanEngine returns an engine for the podman binary on PATH unless
// WithBinaryPath overrides it.
func NewPodmanEngine(opts ...BaseCLIEngineOption) *PodmanEngine {
	return &PodmanEngine{BaseCLIEngine: newCLI(EngineTypePodman, opts)}
}

func newCLI(kind EngineType, opts []BaseCLIEngineOption) *BaseCLIEngine {
	path, _ := exec.LookPath(string(kind)) //nolint:errcheck // empty path means unavailable
	return NewBaseCLIEngine(path, append([]BaseCLIEngineOption{WithName(string(kind))}, opts...)...)
}

func (e *DockerEngine) Name() string { return string(EngineTypeDocker) }
func (e *PodmanEngine) Name() string { return string(EngineTypePodman) }

// Available reports whether the docker daemon answers, not just whether the
// client is installed.
func (e *DockerEngine) Available() bool {
	return e.answers(dockerVersionFormat)
}

func (e *PodmanEngine) Available() bool {
	return e.answers(podmanVersionFormat)
}

func (e *DockerEngine) Version(ctx context.Context) (string, error) {
	return e.version(ctx, dockerVersionFormat)
}

func (e *PodmanEngine) Version(ctx context.Context) (string, error) {
	return e.version(ctx, podmanVersionFormat)
}

// Docker has no "exists" subcommands; any inspect failure counts as absent.
func (e *DockerEngine) ImageExists(ctx context.Context, image ImageTag) (bool, error) {
	return e.RunCommandStatus(ctx, "image", "inspect", string(image)) == nil, nil
}

func (e *DockerEngine) NetworkExists(ctx context.Context, name NetworkName) (bool, error) {
	return e.RunCommandStatus(ctx, "network", "inspect", string(name)) == nil, nil
}

func (e *PodmanEngine) ImageExists(ctx context.Context, image ImageTag) (bool, error) {
	return e.probe(ctx, "image", string(image))
}

func (e *PodmanEngine) NetworkExists(ctx context.Context, name NetworkName) (bool, error) {
	return e.probe(ctx, "network", string(name))
}

const (
	dockerVersionFormat = "{{.Server.Version}}"
	podmanVersionFormat = "{{.Version}}"
)

func (e *BaseCLIEngine) answers(format string) bool {
	if e.BinaryPath() == "" {
		return false
	}
	return e.CreateCommand(context.Background(), "version", "--format", format).Run() == nil
}

func (e *BaseCLIEngine) version(ctx context.Context, format string) (string, error) {
	out, err := e.RunCommandWithOutput(ctx, "version", "--format", format)
	if err != nil {
		return "", fmt.Errorf("%s version: %w", e.name, err)
	}
	return strings.TrimSpace(out), nil
}

// probe runs "podman <kind> exists <name>", which exits 1 when the object is
// absent and with another code when the engine itself fails.
func (e *PodmanEngine) probe(ctx context.Context, kind, name string) (bool, error) {
	err := e.CreateCommand(ctx, kind, "exists", name).Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
		return false, nil
	default:
		return false, fmt.Errorf("podman %s exists %s: %w", kind, name, err)
	}
}
