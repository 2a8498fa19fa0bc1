// SPDX-License-Identifier: MPL-2.0

// Package backendtest provides an in-memory backend.Backend for tests.
package backendtest

import (
	"context"
	"fmt"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/invowk/nodefleet/internal/backend"
)

type (
	// Call records one backend invocation.
	Call struct {
		Env string
		// Op is "execute", "copy", "mkdir", "read" or "write".
		Op string
		// Arg is the joined argv for execute and the remote path otherwise.
		Arg string
	}

	// ExecFunc decides the outcome of an Execute call.
	ExecFunc func(env string, argv []string) (backend.ExecResult, error)

	// Fake is an in-memory Backend. Each environment is a map of remote paths
	// to content. The zero value is not usable; call New.
	Fake struct {
		mu       sync.Mutex
		files    map[string]map[string][]byte
		dirs     map[string]map[string]bool
		calls    []Call
		inFlight int
		peak     int

		// Unreachable environments fail every call with backend.ErrUnreachable.
		Unreachable map[string]bool
		// FailCopy makes CopyIn of the given remote path fail, per environment.
		FailCopy map[string]string
		// FailWrite makes WriteFile of the given remote path fail, per environment.
		FailWrite map[string]string
		// Exec overrides Execute outcomes.
		Exec ExecFunc
		// Delay is slept inside every call, while counted as in flight.
		Delay time.Duration
		// OnCall runs at the start of every call, before the delay.
		OnCall func(Call)
	}
)

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		files:       make(map[string]map[string][]byte),
		dirs:        make(map[string]map[string]bool),
		Unreachable: make(map[string]bool),
		FailCopy:    make(map[string]string),
		FailWrite:   make(map[string]string),
	}
}

// Execute records the call. "test -f <path>" is answered from the stored
// files; otherwise, without an Exec override, every command succeeds.
func (f *Fake) Execute(ctx context.Context, env string, argv []string) (backend.ExecResult, error) {
	if err := f.begin(ctx, Call{Env: env, Op: "execute", Arg: strings.Join(argv, " ")}); err != nil {
		return backend.ExecResult{}, err
	}
	defer f.end()

	if len(argv) == 3 && argv[0] == "test" && argv[1] == "-f" {
		if _, ok := f.File(env, argv[2]); !ok {
			return backend.ExecResult{ExitCode: 1}, nil
		}
		return backend.ExecResult{}, nil
	}
	if f.Exec != nil {
		return f.Exec(env, argv)
	}
	return backend.ExecResult{}, nil
}

// CopyIn reads the local file and stores it under remote.
func (f *Fake) CopyIn(ctx context.Context, env, local, remote string) error {
	if err := f.begin(ctx, Call{Env: env, Op: "copy", Arg: remote}); err != nil {
		return err
	}
	defer f.end()

	if f.failing(f.FailCopy, env, remote) {
		return fmt.Errorf("copy %s: injected failure", remote)
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dirs[env][path.Dir(remote)] {
		return fmt.Errorf("copy %s: no such directory %s", remote, path.Dir(remote))
	}
	f.put(env, remote, data)
	return nil
}

// EnsureDir marks dir and its parents as existing.
func (f *Fake) EnsureDir(ctx context.Context, env, dir string) error {
	if err := f.begin(ctx, Call{Env: env, Op: "mkdir", Arg: dir}); err != nil {
		return err
	}
	defer f.end()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dirs[env] == nil {
		f.dirs[env] = make(map[string]bool)
	}
	for d := path.Clean(dir); ; d = path.Dir(d) {
		f.dirs[env][d] = true
		if d == "/" || d == "." {
			break
		}
	}
	return nil
}

// ReadFile returns the stored content or backend.ErrFileNotFound.
func (f *Fake) ReadFile(ctx context.Context, env, remote string) ([]byte, error) {
	if err := f.begin(ctx, Call{Env: env, Op: "read", Arg: remote}); err != nil {
		return nil, err
	}
	defer f.end()

	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[env][remote]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrFileNotFound, remote)
	}
	return slices.Clone(data), nil
}

// WriteFile stores data under remote.
func (f *Fake) WriteFile(ctx context.Context, env, remote string, data []byte) error {
	if err := f.begin(ctx, Call{Env: env, Op: "write", Arg: remote}); err != nil {
		return err
	}
	defer f.end()

	if f.failing(f.FailWrite, env, remote) {
		return fmt.Errorf("write %s: injected failure", remote)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put(env, remote, slices.Clone(data))
	return nil
}

// SetFile seeds a remote file.
func (f *Fake) SetFile(env, remote string, data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put(env, remote, []byte(data))
}

// File returns the content of a remote file.
func (f *Fake) File(env, remote string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[env][remote]
	return string(data), ok
}

// Calls returns a copy of the recorded calls, optionally filtered by env.
func (f *Fake) Calls(env string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	if env == "" {
		return slices.Clone(f.calls)
	}
	var out []Call
	for _, c := range f.calls {
		if c.Env == env {
			out = append(out, c)
		}
	}
	return out
}

// Ops returns the Op of every call for env, in order.
func (f *Fake) Ops(env string) []string {
	var out []string
	for _, c := range f.Calls(env) {
		out = append(out, c.Op)
	}
	return out
}

// PeakInFlight returns the highest number of concurrent calls observed.
func (f *Fake) PeakInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

func (f *Fake) begin(ctx context.Context, c Call) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	unreachable := f.Unreachable[c.Env]
	onCall := f.OnCall
	f.inFlight++
	f.peak = max(f.peak, f.inFlight)
	f.mu.Unlock()

	if onCall != nil {
		onCall(c)
	}
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			f.end()
			return backend.Unreachable(c.Env, ctx.Err())
		}
	}
	if unreachable {
		f.end()
		return backend.Unreachable(c.Env, fmt.Errorf("container %s is not running", c.Env))
	}
	return nil
}

func (f *Fake) end() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *Fake) failing(m map[string]string, env, remote string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return m[env] == remote
}

// put stores data; callers hold f.mu.
func (f *Fake) put(env, remote string, data []byte) {
	if f.files[env] == nil {
		f.files[env] = make(map[string][]byte)
	}
	f.files[env][remote] = data
}

var _ backend.Backend = (*Fake)(nil)
