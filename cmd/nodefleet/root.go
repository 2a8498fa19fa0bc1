// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

const defaultFleetFile = "fleet.cue"

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// rootFlags holds the persistent flags shared by every subcommand.
type rootFlags struct {
	verbose    bool
	configPath string
}

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "nodefleet",
		Short: "Deploy a distributed application to a fleet of environments",
		Long: TitleStyle.Render("nodefleet") + SubtitleStyle.Render(" - deploy one application to many environments") + `

nodefleet installs packages, copies each role's artifacts and rewrites the
network addresses they embed, in every environment of a fleet, concurrently.
The fleet is described by a CUE file.

` + SubtitleStyle.Render("Examples:") + `
  nodefleet up                     Create the network and environments
  nodefleet deploy                 Deploy fleet.cue from this directory
  nodefleet deploy --watch         Re-deploy when an artifact changes
  nodefleet plan                   Show what each environment receives
  nodefleet validate               Check the fleet description`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default is the user config directory, then ./.nodefleet.cue)")

	rootCmd.AddCommand(
		newDeployCommand(app, flags),
		newPlanCommand(app, flags),
		newValidateCommand(app, flags),
		newUpCommand(app, flags),
		newDownCommand(app, flags),
		newConfigCommand(app, flags),
	)
	return rootCmd
}

func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits with the code carried by an *ExitError.
func Execute() {
	app, err := NewApp(Dependencies{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitConfigError)
	}

	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
