// SPDX-License-Identifier: MPL-2.0

package backend

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConnections bounds concurrent backend calls when none is configured.
const DefaultMaxConnections = 8

// Throttle bounds the number of concurrent calls to the wrapped Backend.
type Throttle struct {
	next Backend
	sem  *semaphore.Weighted
}

// NewThrottle wraps next so that at most limit calls run at once.
// A limit below 1 means DefaultMaxConnections.
func NewThrottle(next Backend, limit int) *Throttle {
	if limit < 1 {
		limit = DefaultMaxConnections
	}
	return &Throttle{next: next, sem: semaphore.NewWeighted(int64(limit))}
}

func (t *Throttle) Execute(ctx context.Context, env string, argv []string) (ExecResult, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return ExecResult{}, err
	}
	defer t.sem.Release(1)
	return t.next.Execute(ctx, env, argv)
}

func (t *Throttle) CopyIn(ctx context.Context, env, local, remote string) error {
	return t.do(ctx, func() error { return t.next.CopyIn(ctx, env, local, remote) })
}

func (t *Throttle) EnsureDir(ctx context.Context, env, dir string) error {
	return t.do(ctx, func() error { return t.next.EnsureDir(ctx, env, dir) })
}

func (t *Throttle) ReadFile(ctx context.Context, env, remote string) ([]byte, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer t.sem.Release(1)
	return t.next.ReadFile(ctx, env, remote)
}

func (t *Throttle) WriteFile(ctx context.Context, env, remote string, data []byte) error {
	return t.do(ctx, func() error { return t.next.WriteFile(ctx, env, remote, data) })
}

func (t *Throttle) do(ctx context.Context, fn func() error) error {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer t.sem.Release(1)
	return fn()
}
