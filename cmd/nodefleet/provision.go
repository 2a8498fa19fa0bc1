// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/invowk/nodefleet/internal/fleet"
	"github.com/invowk/nodefleet/internal/provision"
)

type provisionFlags struct {
	fleetPath string
	bake      bool
	rebuild   bool
}

func newUpCommand(app *App, root *rootFlags) *cobra.Command {
	flags := &provisionFlags{}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Create the fleet network and one container per environment",
		Long: `Create the fleet network and one long-lived container per environment.

Running containers are left alone and stopped ones are recreated, so 'up' can
be repeated safely.

With --bake the containers run an image derived from the fleet image with the
fleet packages preinstalled. Baked images are cached by the base image and the
package list; --rebuild ignores the cache.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProvision(cmd, app, root, flags, true)
		},
	}
	upCmd.Flags().StringVarP(&flags.fleetPath, "fleet", "f", defaultFleetFile, "fleet description file")
	upCmd.Flags().BoolVar(&flags.bake, "bake", false, "run a cached image with the fleet packages preinstalled")
	upCmd.Flags().BoolVar(&flags.rebuild, "rebuild", false, "rebuild the baked image even when cached (implies --bake)")
	return upCmd
}

func newDownCommand(app *App, root *rootFlags) *cobra.Command {
	flags := &provisionFlags{}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Remove the fleet containers and network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProvision(cmd, app, root, flags, false)
		},
	}
	downCmd.Flags().StringVarP(&flags.fleetPath, "fleet", "f", defaultFleetFile, "fleet description file")
	return downCmd
}

func runProvision(cmd *cobra.Command, app *App, root *rootFlags, flags *provisionFlags, up bool) error {
	ctx := cmd.Context()

	s, err := app.newSession(ctx, root, nil)
	if err != nil {
		return err
	}

	f, err := fleet.Load(flags.fleetPath)
	if err != nil {
		return app.fail(s, ExitConfigError, err)
	}

	engine, err := app.Engines(s.cfg)
	if err != nil {
		return app.fail(s, ExitConfigError, err)
	}

	var opts []provision.Option
	if flags.bake || flags.rebuild {
		baker := provision.NewBaker(engine,
			provision.WithForceRebuild(flags.rebuild),
			provision.WithBuildOutput(buildOutput(app, s)),
		)
		opts = append(opts, provision.WithBaker(baker))
	}

	p := provision.New(engine, s.logger, opts...)
	var statuses []provision.Status
	if up {
		statuses, err = p.Up(ctx, f)
	} else {
		statuses, err = p.Down(ctx, f)
	}
	printStatuses(app.stdout, statuses)
	if err != nil {
		return app.fail(s, ExitDeployFailed, err)
	}
	return nil
}

// buildOutput streams engine build output only in verbose mode.
func buildOutput(app *App, s *session) io.Writer {
	if s.verbose {
		return app.stderr
	}
	return io.Discard
}

func printStatuses(w io.Writer, statuses []provision.Status) {
	for _, st := range statuses {
		mark := SuccessStyle.Render("✓")
		switch st.Action {
		case provision.ActionExists, provision.ActionAbsent:
			mark = SubtitleStyle.Render("·")
		case provision.ActionSkipped:
			mark = WarningStyle.Render("!")
		}
		fmt.Fprintf(w, "%s %s %s\n", mark, CmdStyle.Render(st.Name), st.Action)
	}
}
