// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invowk/nodefleet/internal/deploy"
	"github.com/invowk/nodefleet/internal/fleet"
)

func newValidateCommand(app *App, root *rootFlags) *cobra.Command {
	var (
		fleetPath  string
		showSchema bool
	)

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the fleet description without touching any environment",
		Long: `Check the fleet description without touching any environment.

The file is validated against the fleet schema, then for consistency: every
role has artifacts, every rule targets an artifact its role receives, and
every artifact source exists. Likely mistakes, such as a placeholder that
never occurs in its artifact, are reported as warnings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showSchema {
				_, err := app.stdout.Write(fleet.Schema())
				return err
			}

			s, err := app.newSession(cmd.Context(), root, nil)
			if err != nil {
				return err
			}

			f, err := fleet.Load(fleetPath)
			if err != nil {
				return app.fail(s, ExitConfigError, err)
			}
			if err := deploy.Preflight(f); err != nil {
				return app.fail(s, ExitConfigError, err)
			}

			warnings := f.Validate().Warnings()
			warnings = append(warnings, f.CheckSources().Warnings()...)
			for _, w := range warnings {
				fmt.Fprintln(app.stderr, WarningStyle.Render("! ")+w.Error())
			}

			fmt.Fprintf(app.stdout, "%s %s is valid: %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(fleetPath), f.Summary())
			return nil
		},
	}

	validateCmd.Flags().StringVarP(&fleetPath, "fleet", "f", defaultFleetFile, "fleet description file")
	validateCmd.Flags().BoolVar(&showSchema, "schema", false, "print the fleet CUE schema and exit")

	return validateCmd
}
