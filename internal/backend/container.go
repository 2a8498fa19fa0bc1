// SPDX-License-Identifier: MPL-2.0

package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/invowk/nodefleet/internal/container"
)

const (
	// DefaultCallTimeout bounds a single backend call when none is configured.
	DefaultCallTimeout = 2 * time.Minute

	defaultFileMode os.FileMode = 0o644
)

type (
	// ContainerBackend runs environments as containers named after them.
	ContainerBackend struct {
		engine      container.Engine
		callTimeout time.Duration
		tempDir     string
	}

	// ContainerOption configures a ContainerBackend.
	ContainerOption func(*ContainerBackend)
)

// WithCallTimeout sets the per-call timeout. Zero or negative disables it.
func WithCallTimeout(d time.Duration) ContainerOption {
	return func(b *ContainerBackend) {
		b.callTimeout = d
	}
}

// WithTempDir sets the host directory for WriteFile staging files.
func WithTempDir(dir string) ContainerOption {
	return func(b *ContainerBackend) {
		b.tempDir = dir
	}
}

// NewContainerBackend creates a backend on top of engine.
func NewContainerBackend(engine container.Engine, opts ...ContainerOption) *ContainerBackend {
	b := &ContainerBackend{engine: engine, callTimeout: DefaultCallTimeout}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Engine returns the underlying container engine.
func (b *ContainerBackend) Engine() container.Engine {
	return b.engine
}

// Execute runs argv inside the container named env.
func (b *ContainerBackend) Execute(ctx context.Context, env string, argv []string) (ExecResult, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	var stdout, stderr bytes.Buffer
	res, err := b.engine.Exec(ctx, container.ContainerID(env), argv, container.ExecOptions{Stdout: &stdout, Stderr: &stderr})
	if err != nil {
		return ExecResult{}, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ExecResult{}, Unreachable(env, ctxErr)
	}
	if res.Error != nil {
		return ExecResult{}, Unreachable(env, res.Error)
	}

	out := ExecResult{ExitCode: res.ExitCode, Stdout: stdout.String(), Stderr: stderr.String()}
	if out.ExitCode != 0 && container.IsNoSuchContainer(out.Stderr) {
		return out, Unreachable(env, errors.New(strings.TrimSpace(out.Stderr)))
	}
	return out, nil
}

// CopyIn copies local into the container named env.
func (b *ContainerBackend) CopyIn(ctx context.Context, env, local, remote string) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	err := b.engine.CopyTo(ctx, container.ContainerID(env), local, remote)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Unreachable(env, ctxErr)
	}
	if container.IsNoSuchContainer(err.Error()) {
		return Unreachable(env, err)
	}
	return err
}

// EnsureDir runs "mkdir -p" inside the container.
func (b *ContainerBackend) EnsureDir(ctx context.Context, env, dir string) error {
	res, err := b.Execute(ctx, env, []string{"mkdir", "-p", "--", dir})
	if err != nil {
		return err
	}
	if !res.Succeeded() {
		return fmt.Errorf("mkdir -p %s: exit %d: %s", dir, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// ReadFile returns the content of remote via "cat".
func (b *ContainerBackend) ReadFile(ctx context.Context, env, remote string) ([]byte, error) {
	res, err := b.Execute(ctx, env, []string{"cat", "--", remote})
	if err != nil {
		return nil, err
	}
	if !res.Succeeded() {
		if strings.Contains(res.Stderr, "No such file or directory") {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, remote)
		}
		return nil, fmt.Errorf("read %s: exit %d: %s", remote, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return []byte(res.Stdout), nil
}

// WriteFile stages data in a host temp file and copies it in. An existing
// remote file keeps its permission bits; a new one gets 0644.
func (b *ContainerBackend) WriteFile(ctx context.Context, env, remote string, data []byte) error {
	mode, err := b.remoteMode(ctx, env, remote)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(b.tempDir, "nodefleet-*")
	if err != nil {
		return fmt.Errorf("stage %s: %w", remote, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("stage %s: %w", remote, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("stage %s: %w", remote, err)
	}
	// cp keeps the mode of the source; CreateTemp makes it 0600.
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return fmt.Errorf("stage %s: %w", remote, err)
	}

	return b.CopyIn(ctx, env, tmp.Name(), remote)
}

// remoteMode returns the permission bits of remote, 0644 when it does not
// exist or stat cannot report them.
func (b *ContainerBackend) remoteMode(ctx context.Context, env, remote string) (os.FileMode, error) {
	res, err := b.Execute(ctx, env, []string{"stat", "-c", "%a", "--", remote})
	if err != nil {
		return 0, err
	}
	if !res.Succeeded() {
		return defaultFileMode, nil
	}
	bits, err := strconv.ParseUint(strings.TrimSpace(res.Stdout), 8, 32)
	if err != nil {
		return defaultFileMode, nil //nolint:nilerr // unexpected stat output falls back to the default
	}
	return os.FileMode(bits) & os.ModePerm, nil
}

func (b *ContainerBackend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.callTimeout)
}
