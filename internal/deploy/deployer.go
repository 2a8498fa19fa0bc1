// SPDX-License-Identifier: MPL-2.0

package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"github.com/invowk/nodefleet/internal/backend"
	"github.com/invowk/nodefleet/internal/fleet"
	"github.com/invowk/nodefleet/internal/issue"
)

type (
	// Deployer drives the per-environment pipeline across a fleet.
	Deployer struct {
		backend         backend.Backend
		parallelism     int
		installAttempts int
		retryBackoff    time.Duration
		logger          *log.Logger
	}

	// Option configures a Deployer.
	Option func(*Deployer)

	step struct {
		name Step
		run  func(context.Context) error
	}
)

// WithParallelism bounds the number of environments deployed at once.
// Zero or less means one worker per environment.
func WithParallelism(n int) Option {
	return func(d *Deployer) {
		d.parallelism = n
	}
}

// WithInstallAttempts sets the attempt budget per package manager command.
func WithInstallAttempts(n int) Option {
	return func(d *Deployer) {
		d.installAttempts = n
	}
}

// WithRetryBackoff sets the base backoff between install attempts.
func WithRetryBackoff(backoff time.Duration) Option {
	return func(d *Deployer) {
		d.retryBackoff = backoff
	}
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *log.Logger) Option {
	return func(d *Deployer) {
		d.logger = l
	}
}

// New creates a Deployer on top of b.
func New(b backend.Backend, opts ...Option) *Deployer {
	d := &Deployer{
		backend:         b,
		installAttempts: DefaultInstallAttempts,
		retryBackoff:    DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = log.New(io.Discard)
	}
	return d
}

// Deploy runs every environment's pipeline and returns one Result per
// environment, in declaration order. The error is only non-nil when the fleet
// itself is invalid, in which case no environment is touched.
//
// Once ctx is cancelled no pipeline and no step starts; the step in flight
// completes. Environments stopped that way report the Cancelled kind.
func (d *Deployer) Deploy(ctx context.Context, f *fleet.Fleet) ([]Result, error) {
	if err := Preflight(f); err != nil {
		return nil, err
	}

	plans := f.Plan()
	results := make([]Result, len(plans))
	for i, p := range plans {
		results[i] = Result{
			Name:      p.Environment.Name,
			Role:      p.Environment.Role,
			Copied:    []string{},
			Rewritten: []Rewritten{},
		}
	}

	workers := d.parallelism
	if workers <= 0 || workers > len(plans) {
		workers = len(plans)
	}
	sem := semaphore.NewWeighted(int64(workers))

	d.logger.Info("deploying", "fleet", f.DisplayName(), "environments", len(plans), "workers", workers)
	started := time.Now()

	var wg sync.WaitGroup
	for i := range plans {
		env := plans[i].Environment.Name
		if err := ctx.Err(); err != nil {
			results[i].fail(cancelled(env, "", err))
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i].fail(cancelled(env, "", err))
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			d.run(ctx, f, plans[i], &results[i])
		}()
	}
	wg.Wait()

	failed := len(Failed(results))
	d.logger.Info("deployment finished",
		"fleet", f.DisplayName(),
		"succeeded", len(results)-failed,
		"failed", failed,
		"took", time.Since(started).Round(time.Millisecond))
	return results, nil
}

// Preflight returns the configuration errors of f as an actionable error, or
// nil. It only touches the local filesystem.
func Preflight(f *fleet.Fleet) error {
	if f == nil {
		return fmt.Errorf("%w: nil fleet", fleet.ErrInvalidFleet)
	}

	errs := f.Validate().Errors()
	errs = append(errs, f.CheckSources().Errors()...)
	if len(errs) == 0 {
		return nil
	}

	var cause error = errs
	ec := issue.NewErrorContext().
		WithOperation("validate fleet").
		WithResource(f.DisplayName())
	if errors.Is(errs, fleet.ErrArtifactSourceMissing) {
		cause = fmt.Errorf("%w: %w", ErrArtifactMissing, errs)
		ec = ec.WithSuggestion("Check that every artifact source exists relative to the fleet file")
	}
	return ec.
		WithSuggestion("Run 'nodefleet validate' to see every problem with the fleet description").
		Wrap(cause).
		BuildError()
}

// run executes the pipeline of one environment, recording progress in res.
func (d *Deployer) run(ctx context.Context, f *fleet.Fleet, p fleet.EnvironmentPlan, res *Result) {
	env := p.Environment.Name
	logger := d.logger.With("env", env, "role", p.Environment.Role)

	// Steps run detached from cancellation; cancellation is observed between
	// steps only, so no step is interrupted half-way.
	stepCtx := context.WithoutCancel(ctx)

	installer := NewInstaller(d.backend, f.PackageManager,
		WithAttempts(d.installAttempts), WithBackoff(d.retryBackoff))

	steps := []step{
		{StepEnsureDir, func(ctx context.Context) error {
			if err := d.backend.EnsureDir(ctx, env, p.InstallDir); err != nil {
				e := newError(CopyFailed, env, StepEnsureDir, err)
				e.Path = p.InstallDir
				return e
			}
			return nil
		}},
		{StepInstall, func(ctx context.Context) error {
			if len(f.Packages) == 0 {
				return nil
			}
			if err := installer.Ensure(ctx, env, f.Packages); err != nil {
				return err
			}
			res.Installed = true
			return nil
		}},
		{StepDistribute, func(ctx context.Context) error {
			dist := NewDistributor(d.backend, path.Join(p.InstallDir, ManifestFile))
			copied, err := dist.Deploy(ctx, env, CopiesFor(p))
			res.Copied = copied
			return err
		}},
	}
	if len(p.Rules) > 0 {
		steps = append(steps, step{StepRewrite, func(ctx context.Context) error {
			rewritten, err := NewRewriter(d.backend).Rewrite(ctx, env, p.Rules)
			if rewritten != nil {
				res.Rewritten = rewritten
			}
			return err
		}})
	}
	if f.BindingMode.Structured() {
		steps = append(steps, step{StepInject, func(ctx context.Context) error {
			written, err := NewInjector(d.backend).Inject(ctx, p, f.ConfigPath())
			if err != nil {
				return err
			}
			res.Injected = true
			logger.Debug("endpoint config", "path", f.ConfigPath(), "written", written)
			return nil
		}})
	}

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			res.fail(cancelled(env, s.name, err))
			logger.Warn("cancelled", "before", s.name)
			return
		}
		logger.Debug("step", "step", s.name)
		if err := s.run(stepCtx); err != nil {
			res.fail(err)
			logger.Error("step failed", "step", s.name, "err", err)
			return
		}
	}

	logger.Info("deployed",
		"copied", len(res.Copied),
		"bindings", totalBindings(res.Rewritten),
		"injected", res.Injected)
}

func cancelled(env string, s Step, cause error) *Error {
	return &Error{Kind: Cancelled, Env: env, Step: s, Cause: cause}
}

func totalBindings(rw []Rewritten) int {
	n := 0
	for _, r := range rw {
		n += r.Count
	}
	return n
}
