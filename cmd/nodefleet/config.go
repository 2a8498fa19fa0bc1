// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/invowk/nodefleet/internal/config"
)

// newConfigCommand creates the `nodefleet config` command tree.
func newConfigCommand(app *App, root *rootFlags) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage nodefleet configuration",
		Long: `Manage nodefleet configuration.

The configuration file is read from, in order:
  - the --config flag
  - the user config directory (e.g. ~/.config/nodefleet/config.cue on Linux)
  - .nodefleet.cue in the working directory

NODEFLEET_* environment variables override file values, e.g.
NODEFLEET_DEPLOY_PARALLELISM=4.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	var asCUE bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := app.newSession(cmd.Context(), root, nil)
			if err != nil {
				return err
			}
			if asCUE {
				fmt.Fprint(app.stdout, config.GenerateCUE(s.cfg))
				return nil
			}
			path, _ := config.ResolvePath(config.LoadOptions{ConfigFilePath: root.configPath})
			showConfig(app.stdout, s.cfg, path)
			return nil
		},
	}
	showCmd.Flags().BoolVar(&asCUE, "cue", false, "print the configuration as CUE")

	cfgCmd.AddCommand(
		showCmd,
		&cobra.Command{
			Use:   "path",
			Short: "Show the configuration file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				opts := config.LoadOptions{ConfigFilePath: root.configPath}
				path, err := config.ResolvePath(opts)
				if err != nil {
					return err
				}
				if path == "" {
					if path, err = config.DefaultPath(opts); err != nil {
						return err
					}
					fmt.Fprintf(app.stdout, "%s %s\n", path, SubtitleStyle.Render("(not created)"))
					return nil
				}
				fmt.Fprintln(app.stdout, path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "init",
			Short: "Create a default configuration file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				path, created, err := config.CreateDefaultConfig(config.LoadOptions{})
				if err != nil {
					return fmt.Errorf("failed to create config: %w", err)
				}
				if !created {
					fmt.Fprintf(app.stdout, "%s Configuration already exists at %s\n", SubtitleStyle.Render("·"), path)
					return nil
				}
				fmt.Fprintf(app.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
				return nil
			},
		},
	)

	return cfgCmd
}

func showConfig(w io.Writer, cfg *config.Config, path string) {
	key := CmdStyle.Render
	value := SuccessStyle.Render

	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)
	if path == "" {
		fmt.Fprintf(w, "%s: %s\n", key("Config file"), SubtitleStyle.Render("(using defaults)"))
	} else {
		fmt.Fprintf(w, "%s: %s\n", key("Config file"), path)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s: %s\n", key("container_engine"), value(string(cfg.ContainerEngine)))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", key("deploy"))
	fmt.Fprintf(w, "  parallelism: %s\n", value(fmt.Sprint(cfg.Deploy.Parallelism)))
	fmt.Fprintf(w, "  max_connections: %s\n", value(fmt.Sprint(cfg.Deploy.MaxConnections)))
	fmt.Fprintf(w, "  call_timeout: %s\n", value(cfg.Deploy.CallTimeout.String()))
	fmt.Fprintf(w, "  install_attempts: %s\n", value(fmt.Sprint(cfg.Deploy.InstallAttempts)))
	fmt.Fprintf(w, "  retry_backoff: %s\n", value(cfg.Deploy.RetryBackoff.String()))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", key("ui"))
	fmt.Fprintf(w, "  color_scheme: %s\n", value(string(cfg.UI.ColorScheme)))
	fmt.Fprintf(w, "  verbose: %s\n", value(fmt.Sprint(cfg.UI.Verbose)))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", key("log"))
	fmt.Fprintf(w, "  level: %s\n", value(string(cfg.Log.Level)))
}
