// SPDX-License-Identifier: MPL-2.0

package config

import "context"

type (
	// LoadOptions are the inputs of one configuration load.
	LoadOptions struct {
		// ConfigFilePath, when set, is the only file considered and must exist.
		ConfigFilePath string
		// ConfigDirPath replaces the platform config directory.
		ConfigDirPath string
		// WorkDir is searched for LocalFileName; empty means the process
		// working directory.
		WorkDir string
		// Overrides win over every other source, keyed like "deploy.parallelism".
		Overrides map[string]any
	}

	// Provider loads configuration. The CLI receives one so tests can
	// substitute a static config.
	Provider interface {
		Load(ctx context.Context, opts LoadOptions) (*Config, error)
	}

	viperProvider struct{}
)

// NewProvider returns the Provider backed by defaults, the config file and
// the environment.
func NewProvider() Provider {
	return viperProvider{}
}

func (viperProvider) Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	cfg, _, err := load(ctx, opts)
	return cfg, err
}
