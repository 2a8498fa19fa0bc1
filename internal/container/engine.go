// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"io"
)

const (
	EngineTypePodman EngineType = "podman"
	EngineTypeDocker EngineType = "docker"
	// EngineTypeAuto selects whichever engine is available, Podman first.
	EngineTypeAuto EngineType = "auto"
)

type (
	// Engine defines the container operations used to provision and deploy a fleet.
	Engine interface {
		// Name returns the engine name (docker or podman).
		Name() string
		// Available checks if the engine is usable on this system.
		Available() bool
		// Version returns the engine version.
		Version(ctx context.Context) (string, error)

		// Run starts a container. With Detach set the call returns once the
		// container is created and RunResult.ContainerID holds its ID.
		Run(ctx context.Context, opts RunOptions) (*RunResult, error)
		// Exec runs a command in a running container. A non-zero exit status
		// is reported in RunResult.ExitCode, not as an error.
		Exec(ctx context.Context, containerID ContainerID, command []string, opts ExecOptions) (*RunResult, error)
		// CopyTo copies a host file into a container.
		CopyTo(ctx context.Context, containerID ContainerID, hostPath, containerPath string) error
		// Remove removes a container.
		Remove(ctx context.Context, containerID ContainerID, force bool) error
		// State returns the container state ("running", "exited", ...).
		// The boolean is false when no such container exists.
		State(ctx context.Context, containerID ContainerID) (string, bool, error)
		// Label returns the value of one container label, empty when unset.
		Label(ctx context.Context, containerID ContainerID, key string) (string, error)

		// Build builds an image from a Dockerfile.
		Build(ctx context.Context, opts BuildOptions) error
		// ImageExists checks if an image is present locally.
		ImageExists(ctx context.Context, image ImageTag) (bool, error)
		// ImageID returns the local ID of an image.
		ImageID(ctx context.Context, image ImageTag) (string, error)
		// NetworkExists checks if a network with the given name exists.
		NetworkExists(ctx context.Context, name NetworkName) (bool, error)
		// CreateNetwork creates a user-defined bridge network.
		CreateNetwork(ctx context.Context, opts NetworkOptions) error
		// RemoveNetwork removes a network.
		RemoveNetwork(ctx context.Context, name NetworkName) error
	}

	// EngineType identifies the container engine type.
	EngineType string

	// ContainerID is a container name or ID.
	ContainerID string

	// ImageTag is an image reference such as "debian:stable-slim".
	ImageTag string

	// NetworkName is the name of a user-defined network.
	NetworkName string

	// RunOptions describes a container to start. Stdout and Stderr are used
	// only when Detach is false.
	RunOptions struct {
		Image      ImageTag
		Command    []string
		Name       ContainerID
		Hostname   string
		Network    NetworkName
		IP         string // static address on Network
		ExtraHosts []string
		Labels     map[string]string
		Env        map[string]string
		WorkDir    string
		Detach     bool
		Remove     bool
		Stdout     io.Writer
		Stderr     io.Writer
	}

	// ExecOptions describes a command run inside a running container.
	ExecOptions struct {
		WorkDir string
		Env     map[string]string
		Stdin   io.Reader
		Stdout  io.Writer
		Stderr  io.Writer
	}

	// BuildOptions describes an image build. Dockerfile is relative to
	// ContextDir.
	BuildOptions struct {
		ContextDir string
		Dockerfile string
		Tag        ImageTag
		Labels     map[string]string
		Stdout     io.Writer
		Stderr     io.Writer
	}

	// NetworkOptions describes a user-defined bridge network. Subnet is
	// required for static container addresses.
	NetworkOptions struct {
		Name    NetworkName
		Subnet  string
		Gateway string
		Labels  map[string]string
	}

	// RunResult is the outcome of a container run or exec session. Error
	// holds failures to start the process at all.
	RunResult struct {
		ContainerID ContainerID
		ExitCode    int
		Error       error
	}

	// ErrEngineNotAvailable is returned when a container engine is not available.
	ErrEngineNotAvailable struct {
		Engine string
		Reason string
	}
)

func (t EngineType) String() string { return string(t) }

func (id ContainerID) String() string { return string(id) }

func (i ImageTag) String() string { return string(i) }

func (n NetworkName) String() string { return string(n) }

func (e *ErrEngineNotAvailable) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// NewEngine returns the preferred engine when it answers, otherwise the
// other one. Auto and the empty type prefer Podman.
func NewEngine(preferred EngineType, opts ...BaseCLIEngineOption) (Engine, error) {
	podman := func() Engine { return NewPodmanEngine(opts...) }
	docker := func() Engine { return NewDockerEngine(opts...) }

	var order []func() Engine
	switch preferred {
	case EngineTypePodman, EngineTypeAuto, "":
		order = []func() Engine{podman, docker}
	case EngineTypeDocker:
		order = []func() Engine{docker, podman}
	default:
		return nil, fmt.Errorf("unknown container engine type: %s", preferred)
	}

	for _, candidate := range order {
		if e := candidate(); e.Available() {
			return e, nil
		}
	}

	want := string(preferred)
	if preferred == EngineTypeAuto || preferred == "" {
		want = "any"
	}
	return nil, &ErrEngineNotAvailable{
		Engine: want,
		Reason: "neither podman nor docker is installed and answering",
	}
}
