// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/invowk/nodefleet/internal/issue"
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine provides the implementation shared by CLI-based engines.
	// Docker and Podman embed it; the engine-specific methods (Available,
	// Version, ImageExists, NetworkExists) stay on the concrete types.
	BaseCLIEngine struct {
		name        string
		binaryPath  string
		execCommand ExecCommandFunc
	}
)

// WithName sets the engine name used in error messages.
func WithName(name string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.name = name
	}
}

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.execCommand = fn
	}
}

// WithBinaryPath overrides the binary resolved from PATH.
func WithBinaryPath(path string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.binaryPath = path
	}
}

// NewBaseCLIEngine creates a new base engine with the given binary path.
func NewBaseCLIEngine(binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		binaryPath:  binaryPath,
		execCommand: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BinaryPath returns the path to the container engine binary.
func (e *BaseCLIEngine) BinaryPath() string {
	return e.binaryPath
}

// argv accumulates engine CLI arguments. Empty values leave the flag out.
type argv []string

func (a *argv) add(args ...string) { *a = append(*a, args...) }

func (a *argv) opt(flag, value string) {
	if value != "" {
		a.add(flag, value)
	}
}

func (a *argv) when(cond bool, flag string) {
	if cond {
		a.add(flag)
	}
}

// pairs adds "flag k=v" for every entry, in key order.
func (a *argv) pairs(flag string, kv map[string]string) {
	for _, k := range slices.Sorted(maps.Keys(kv)) {
		a.add(flag, k+"="+kv[k])
	}
}

// RunArgs returns: run [options] <image> [command...]
func (e *BaseCLIEngine) RunArgs(opts RunOptions) []string {
	a := argv{"run"}
	a.when(opts.Detach, "-d")
	a.when(opts.Remove, "--rm")
	a.opt("--name", string(opts.Name))
	a.opt("--hostname", opts.Hostname)
	a.opt("--network", string(opts.Network))
	a.opt("--ip", opts.IP)
	for _, h := range opts.ExtraHosts {
		a.add("--add-host", h)
	}
	a.pairs("--label", opts.Labels)
	a.opt("-w", opts.WorkDir)
	a.pairs("-e", opts.Env)
	a.add(string(opts.Image))
	a.add(opts.Command...)
	return a
}

// ExecArgs returns: exec [-i] [options] <container> <command...>
func (e *BaseCLIEngine) ExecArgs(containerID ContainerID, command []string, opts ExecOptions) []string {
	a := argv{"exec"}
	a.when(opts.Stdin != nil, "-i")
	a.opt("-w", opts.WorkDir)
	a.pairs("-e", opts.Env)
	a.add(string(containerID))
	a.add(command...)
	return a
}

// CopyArgs returns: cp <host path> <container>:<container path>
func (e *BaseCLIEngine) CopyArgs(containerID ContainerID, hostPath, containerPath string) []string {
	return argv{"cp", hostPath, string(containerID) + ":" + containerPath}
}

func (e *BaseCLIEngine) RemoveArgs(containerID ContainerID, force bool) []string {
	a := argv{"rm"}
	a.when(force, "-f")
	a.add(string(containerID))
	return a
}

// BuildArgs returns: build [-f dockerfile] [-t tag] [--label k=v...] <context>
// A relative Dockerfile is resolved against the context directory.
func (e *BaseCLIEngine) BuildArgs(opts BuildOptions) []string {
	dockerfile := opts.Dockerfile
	if dockerfile != "" && opts.ContextDir != "" && !filepath.IsAbs(dockerfile) {
		dockerfile = filepath.Join(opts.ContextDir, dockerfile)
	}
	a := argv{"build"}
	a.opt("-f", dockerfile)
	a.opt("-t", string(opts.Tag))
	a.pairs("--label", opts.Labels)
	a.add(opts.ContextDir)
	return a
}

func (e *BaseCLIEngine) StateArgs(containerID ContainerID) []string {
	return argv{"container", "inspect", "--format", "{{.State.Status}}", string(containerID)}
}

// LabelArgs prints one label; Go templates yield an empty value for a
// missing map key.
func (e *BaseCLIEngine) LabelArgs(containerID ContainerID, key string) []string {
	return argv{"container", "inspect", "--format", fmt.Sprintf("{{index .Config.Labels %q}}", key), string(containerID)}
}

// NetworkCreateArgs returns: network create [--subnet s] [--gateway g] <name>
func (e *BaseCLIEngine) NetworkCreateArgs(opts NetworkOptions) []string {
	a := argv{"network", "create"}
	a.opt("--subnet", opts.Subnet)
	a.opt("--gateway", opts.Gateway)
	a.pairs("--label", opts.Labels)
	a.add(string(opts.Name))
	return a
}

func (e *BaseCLIEngine) NetworkRemoveArgs(name NetworkName) []string {
	return argv{"network", "rm", string(name)}
}

// commandError describes a failed engine invocation, with the engine's own
// output when there is any.
func (e *BaseCLIEngine) commandError(args []string, output []byte, err error) error {
	if msg := strings.TrimSpace(string(output)); msg != "" {
		return fmt.Errorf("%s %s: %s: %w", e.binaryPath, strings.Join(args, " "), msg, err)
	}
	return fmt.Errorf("%s %s: %w", e.binaryPath, strings.Join(args, " "), err)
}

// RunCommand returns the stdout of a successful invocation.
func (e *BaseCLIEngine) RunCommand(ctx context.Context, args ...string) ([]byte, error) {
	out, err := e.CreateCommand(ctx, args...).Output()
	if err != nil {
		return nil, e.commandError(args, nil, err)
	}
	return out, nil
}

// RunCommandCombined returns stdout and stderr interleaved. The output is
// returned on failure too, for callers that inspect the engine's message.
func (e *BaseCLIEngine) RunCommandCombined(ctx context.Context, args ...string) ([]byte, error) {
	out, err := e.CreateCommand(ctx, args...).CombinedOutput()
	if err != nil {
		return out, e.commandError(args, out, err)
	}
	return out, nil
}

// RunCommandStatus discards all output.
func (e *BaseCLIEngine) RunCommandStatus(ctx context.Context, args ...string) error {
	if err := e.CreateCommand(ctx, args...).Run(); err != nil {
		return e.commandError(args, nil, err)
	}
	return nil
}

// RunCommandWithOutput is RunCommand returning a string.
func (e *BaseCLIEngine) RunCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	out, err := e.RunCommand(ctx, args...)
	return string(out), err
}

// CreateCommand returns the unstarted command for args.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	return e.execCommand(ctx, e.binaryPath, args...)
}

// Run starts a container. A non-zero exit code is captured in
// RunResult.ExitCode; only infrastructure failures set RunResult.Error.
// In detached mode the container ID printed by the engine is returned and a
// non-zero exit is reported as an error.
func (e *BaseCLIEngine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if opts.Image == "" {
		return nil, errors.New("run container: image must not be empty")
	}

	args := e.RunArgs(opts)

	if opts.Detach {
		out, err := e.RunCommandCombined(ctx, args...)
		if err != nil {
			return nil, runContainerError(e.name, opts, err)
		}
		return &RunResult{ContainerID: ContainerID(lastLine(out))}, nil
	}

	cmd := e.CreateCommand(ctx, args...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	return resultFromRun(&RunResult{ContainerID: opts.Name}, cmd.Run()), nil
}

// Build builds an image from a Dockerfile.
func (e *BaseCLIEngine) Build(ctx context.Context, opts BuildOptions) error {
	if opts.ContextDir == "" {
		return errors.New("build image: context directory must not be empty")
	}

	cmd := e.CreateCommand(ctx, e.BuildArgs(opts)...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	if err := cmd.Run(); err != nil {
		return buildError(e.name, opts, err)
	}
	return nil
}

// ImageID returns the ID of a local image.
func (e *BaseCLIEngine) ImageID(ctx context.Context, image ImageTag) (string, error) {
	out, err := e.RunCommandWithOutput(ctx, "image", "inspect", "--format", "{{.Id}}", string(image))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Exec runs a command in a running container.
func (e *BaseCLIEngine) Exec(ctx context.Context, containerID ContainerID, command []string, opts ExecOptions) (*RunResult, error) {
	if len(command) == 0 {
		return nil, errors.New("exec: command must not be empty")
	}

	args := e.ExecArgs(containerID, command, opts)

	cmd := e.CreateCommand(ctx, args...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	return resultFromRun(&RunResult{ContainerID: containerID}, cmd.Run()), nil
}

// CopyTo copies a host file into a container, overwriting any existing file.
func (e *BaseCLIEngine) CopyTo(ctx context.Context, containerID ContainerID, hostPath, containerPath string) error {
	if _, err := e.RunCommandCombined(ctx, e.CopyArgs(containerID, hostPath, containerPath)...); err != nil {
		return copyError(e.name, containerID, hostPath, err)
	}
	return nil
}

// Remove removes a container.
func (e *BaseCLIEngine) Remove(ctx context.Context, containerID ContainerID, force bool) error {
	_, err := e.RunCommandCombined(ctx, e.RemoveArgs(containerID, force)...)
	return err
}

// State returns the container state, or false when the container is unknown.
func (e *BaseCLIEngine) State(ctx context.Context, containerID ContainerID) (string, bool, error) {
	out, err := e.RunCommandCombined(ctx, e.StateArgs(containerID)...)
	if err != nil {
		if IsNoSuchContainer(string(out)) {
			return "", false, nil
		}
		return "", false, err
	}
	return lastLine(out), true, nil
}

// Label returns the value of key on the container.
func (e *BaseCLIEngine) Label(ctx context.Context, containerID ContainerID, key string) (string, error) {
	out, err := e.RunCommandCombined(ctx, e.LabelArgs(containerID, key)...)
	if err != nil {
		return "", err
	}
	if v := lastLine(out); v != "<no value>" {
		return v, nil
	}
	return "", nil
}

// CreateNetwork creates a user-defined network.
func (e *BaseCLIEngine) CreateNetwork(ctx context.Context, opts NetworkOptions) error {
	if opts.Name == "" {
		return errors.New("create network: name must not be empty")
	}
	_, err := e.RunCommandCombined(ctx, e.NetworkCreateArgs(opts)...)
	return err
}

// RemoveNetwork removes a network.
func (e *BaseCLIEngine) RemoveNetwork(ctx context.Context, name NetworkName) error {
	_, err := e.RunCommandCombined(ctx, e.NetworkRemoveArgs(name)...)
	return err
}

// IsNoSuchContainer reports whether engine output says the container does not
// exist or is not running. Docker and Podman word this differently.
func IsNoSuchContainer(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "no such container") ||
		strings.Contains(lower, "no container with name or id") ||
		strings.Contains(lower, "is not running") ||
		strings.Contains(lower, "container state improper")
}

func resultFromRun(result *RunResult, err error) *RunResult {
	if err == nil {
		return result
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	} else {
		result.ExitCode = 1
		result.Error = err
	}
	return result
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// runContainerError creates an actionable error for container run failures.
func runContainerError(engine string, opts RunOptions, cause error) error {
	ctx := issue.NewErrorContext().
		WithOperation("run container").
		WithResource(string(opts.Image))

	ctx.WithSuggestion("Verify the image exists (try: " + engine + " images)")
	if opts.Name != "" {
		ctx.WithSuggestion("Remove a stale container with the same name (try: " + engine + " rm -f " + string(opts.Name) + ")")
	}
	if opts.IP != "" {
		ctx.WithSuggestion("Static addresses need a network created with a matching --subnet")
	}

	return ctx.Wrap(cause).BuildError()
}

// buildError creates an actionable error for image build failures.
func buildError(engine string, opts BuildOptions, cause error) error {
	return issue.NewErrorContext().
		WithOperation("build image").
		WithResource(string(opts.Tag)).
		WithSuggestion("Check that the base image can be pulled (try: "+engine+" pull <image>)").
		WithSuggestion("Check that the package manager matches the base image distribution").
		Wrap(cause).
		BuildError()
}

// copyError creates an actionable error for cp failures.
func copyError(engine string, containerID ContainerID, hostPath string, cause error) error {
	return issue.NewErrorContext().
		WithOperation("copy file into container "+string(containerID)).
		WithResource(hostPath).
		WithSuggestion("Check that the container is running (try: "+engine+" ps)").
		WithSuggestion("Check that the destination directory exists inside the container").
		Wrap(cause).
		BuildError()
}
