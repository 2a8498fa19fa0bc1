// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/invowk/nodefleet/internal/cueutil"
	"github.com/invowk/nodefleet/internal/issue"
)

// EnvPrefix prefixes environment variable overrides.
const EnvPrefix = "NODEFLEET"

var (
	//go:embed config_schema.cue
	schemaSource []byte

	// Every field of #Config is optional.
	schema = cueutil.NewSchema(schemaSource, "#Config", cueutil.Partial())
)

// defaults lists the viper keys of every setting with its built-in value.
func defaults() map[string]any {
	d := DefaultConfig()
	return map[string]any{
		"container_engine":        d.ContainerEngine,
		"deploy.parallelism":      d.Deploy.Parallelism,
		"deploy.max_connections":  d.Deploy.MaxConnections,
		"deploy.call_timeout":     d.Deploy.CallTimeout,
		"deploy.install_attempts": d.Deploy.InstallAttempts,
		"deploy.retry_backoff":    d.Deploy.RetryBackoff,
		"ui.color_scheme":         d.UI.ColorScheme,
		"ui.verbose":              d.UI.Verbose,
		"log.level":               d.Log.Level,
	}
}

// load layers defaults, the config file, NODEFLEET_* variables and
// opts.Overrides, then validates the result. It returns the config file
// used, or "".
func load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("load config canceled: %w", err)
	}

	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFilePath != "" && !isFile(opts.ConfigFilePath) {
		return nil, "", issue.NewErrorContext().
			WithOperation("load configuration").
			WithResource(opts.ConfigFilePath).
			WithSuggestion("Verify the --config path").
			WithSuggestion("Run 'nodefleet config init' to create a config file").
			Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
			BuildError()
	}

	path, err := ResolvePath(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		if err := mergeFile(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Compare the file with the output of 'nodefleet config show --cue'").
				WithSuggestion("Remove the offending key to fall back to its default").
				Wrap(err).
				BuildError()
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("decode config: %w", err)
	}

	// Environment variables and overrides never went through the schema.
	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(path).
			WithSuggestion("Check NODEFLEET_* environment variables and command-line flags").
			Wrap(errs[0]).
			BuildError()
	}
	return &cfg, path, nil
}

// mergeFile checks the CUE file at path against #Config and merges it over
// the defaults held by v.
func mergeFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	values, err := cueutil.Decode[map[string]any](schema, data, path)
	if err != nil {
		return err
	}
	if err := v.MergeConfigMap(*values); err != nil {
		return fmt.Errorf("merge config: %w", err)
	}
	return nil
}
