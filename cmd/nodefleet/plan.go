// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/invowk/nodefleet/internal/fleet"
)

func newPlanCommand(app *App, root *rootFlags) *cobra.Command {
	var (
		fleetPath string
		plain     bool
	)

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the artifacts and rewrites each environment receives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := app.newSession(cmd.Context(), root, nil)
			if err != nil {
				return err
			}

			f, err := fleet.Load(fleetPath)
			if err != nil {
				return app.fail(s, ExitConfigError, err)
			}

			out, err := renderMarkdown(planMarkdown(f), s.cfg, plain)
			if err != nil {
				return err
			}
			fmt.Fprint(app.stdout, out)
			return nil
		},
	}

	planCmd.Flags().StringVarP(&fleetPath, "fleet", "f", defaultFleetFile, "fleet description file")
	planCmd.Flags().BoolVar(&plain, "plain", false, "print raw markdown")

	return planCmd
}

func planMarkdown(f *fleet.Fleet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s, install dir `%s`, binding mode `%s`.\n\n", f.DisplayName(), f.Summary(), f.InstallDir, f.BindingMode)
	if len(f.Packages) > 0 {
		names := make([]string, len(f.Packages))
		for i, p := range f.Packages {
			names[i] = p.String()
		}
		fmt.Fprintf(&b, "Packages (%s): %s\n\n", f.PackageManager, strings.Join(names, ", "))
	}
	for _, p := range f.Plan() {
		b.WriteString(p.Markdown())
		b.WriteString("\n")
	}
	return b.String()
}

func dirOf(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Dir(path)
	}
	return filepath.Dir(abs)
}
