// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/invowk/nodefleet/internal/deploy"
	"github.com/invowk/nodefleet/internal/fleet"
	"github.com/invowk/nodefleet/internal/report"
	"github.com/invowk/nodefleet/internal/watch"
)

type deployFlags struct {
	fleetPath       string
	watch           bool
	reportPath      string
	amqpURL         string
	amqpQueue       string
	parallelism     int
	maxConnections  int
	installAttempts int
}

func newDeployCommand(app *App, root *rootFlags) *cobra.Command {
	flags := &deployFlags{}

	deployCmd := &cobra.Command{
		Use:   "deploy",
		Short: "Install packages, copy artifacts and rewrite addresses in every environment",
		Long: `Deploy the fleet described by a CUE file.

Each environment runs its own pipeline: ensure the install directory, install
packages, copy the role's artifacts, rewrite embedded addresses and, in
structured binding mode, inject the endpoint config. A failure stops that
environment only. The exit status is 1 when any environment failed and 2 when
the fleet description or configuration is invalid.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDeploy(cmd, app, root, flags)
		},
	}

	f := deployCmd.Flags()
	f.StringVarP(&flags.fleetPath, "fleet", "f", defaultFleetFile, "fleet description file")
	f.BoolVarP(&flags.watch, "watch", "w", false, "re-deploy when the fleet file or an artifact source changes")
	f.StringVar(&flags.reportPath, "report", "", "write the results to a .json or .yaml file")
	f.StringVar(&flags.amqpURL, "notify-amqp", "", "publish the JSON report to this AMQP broker URL")
	f.StringVar(&flags.amqpQueue, "notify-queue", "nodefleet.reports", "AMQP queue for --notify-amqp")
	f.IntVar(&flags.parallelism, "parallelism", 0, "environments deployed at once (0 = all)")
	f.IntVar(&flags.maxConnections, "max-connections", 0, "concurrent backend calls")
	f.IntVar(&flags.installAttempts, "install-attempts", 0, "attempts per package manager invocation")

	return deployCmd
}

// overrides returns the config keys set explicitly on the command line.
func (f *deployFlags) overrides(cmd *cobra.Command) map[string]any {
	out := make(map[string]any)
	if cmd.Flags().Changed("parallelism") {
		out["deploy.parallelism"] = f.parallelism
	}
	if cmd.Flags().Changed("max-connections") {
		out["deploy.max_connections"] = f.maxConnections
	}
	if cmd.Flags().Changed("install-attempts") {
		out["deploy.install_attempts"] = f.installAttempts
	}
	return out
}

func runDeploy(cmd *cobra.Command, app *App, root *rootFlags, flags *deployFlags) error {
	ctx := cmd.Context()

	s, err := app.newSession(ctx, root, flags.overrides(cmd))
	if err != nil {
		return err
	}

	if flags.reportPath != "" {
		if _, err := report.FormatFor(flags.reportPath); err != nil {
			return app.fail(s, ExitConfigError, err)
		}
	}

	var publisher report.Publisher
	if flags.amqpURL != "" {
		if publisher, err = app.Publishers(flags.amqpURL, flags.amqpQueue); err != nil {
			return app.fail(s, ExitConfigError, err)
		}
	}

	b, err := app.Backends(ctx, s.cfg)
	if err != nil {
		return app.fail(s, ExitConfigError, err)
	}

	d := deploy.New(b,
		deploy.WithParallelism(s.cfg.Deploy.Parallelism),
		deploy.WithInstallAttempts(s.cfg.Deploy.InstallAttempts),
		deploy.WithRetryBackoff(s.cfg.Deploy.RetryBackoff),
		deploy.WithLogger(s.logger),
	)

	run := func(ctx context.Context) error {
		f, err := fleet.Load(flags.fleetPath)
		if err != nil {
			return app.fail(s, ExitConfigError, err)
		}

		started := time.Now()
		results, err := d.Deploy(ctx, f)
		if err != nil {
			return app.fail(s, ExitConfigError, err)
		}

		fmt.Fprintln(app.stdout, report.Table(results))

		rep := report.New(f.DisplayName(), f.FilePath, started, results)
		if flags.reportPath != "" {
			if err := rep.WriteFile(flags.reportPath); err != nil {
				return app.fail(s, ExitDeployFailed, err)
			}
			s.logger.Info("report written", "path", flags.reportPath)
		}
		if publisher != nil {
			if err := publisher.Publish(ctx, rep); err != nil {
				return app.fail(s, ExitDeployFailed, fmt.Errorf("publish report: %w", err))
			}
			s.logger.Info("report published", "queue", flags.amqpQueue)
		}

		if rep.Failed > 0 {
			renderFailures(app.stderr, results, s)
			return &ExitError{
				Code: ExitDeployFailed,
				Err:  fmt.Errorf("%d of %d environments failed", rep.Failed, len(results)),
			}
		}
		fmt.Fprintln(app.stdout, SuccessStyle.Render("✓")+" "+f.Summary()+" deployed")
		return nil
	}

	if !flags.watch {
		return run(ctx)
	}
	return watchDeploy(ctx, app, s, flags.fleetPath, run)
}

// watchDeploy runs the deployment once, then again whenever the fleet file
// or a local artifact source changes. It returns when ctx is cancelled.
func watchDeploy(ctx context.Context, app *App, s *session, fleetPath string, run func(context.Context) error) error {
	if err := run(ctx); err != nil {
		s.logger.Warn("initial deployment failed", "err", err)
	}

	// An invalid fleet file still gets watched so that fixing it re-deploys.
	f, err := fleet.Load(fleetPath)
	if err != nil {
		f = &fleet.Fleet{FilePath: fleetPath, Dir: dirOf(fleetPath)}
	}

	cfg, unwatched := watch.ForFleet(f)
	for _, src := range unwatched {
		s.logger.Warn("artifact source outside the fleet directory is not watched", "path", src)
	}
	cfg.Logger = s.logger
	cfg.OnChange = func(ctx context.Context, changed []string) error {
		s.logger.Info("change detected, re-deploying", "files", len(changed))
		if err := run(ctx); err != nil {
			s.logger.Warn("deployment failed", "err", err)
		}
		return nil
	}

	w, err := watch.New(cfg)
	if err != nil {
		return app.fail(s, ExitConfigError, fmt.Errorf("start watcher: %w", err))
	}
	s.logger.Info("watching for changes (Ctrl+C to stop)", "dir", cfg.BaseDir)
	if err := w.Run(ctx); err != nil {
		return app.fail(s, ExitDeployFailed, err)
	}
	return nil
}
