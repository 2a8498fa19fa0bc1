// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CreateDefaultConfig writes the defaults to the config directory unless a
// file is already there. It returns the path and whether it was written.
func CreateDefaultConfig(opts LoadOptions) (string, bool, error) {
	path, err := DefaultPath(opts)
	if err != nil {
		return "", false, err
	}
	if isFile(path) {
		return path, false, nil
	}
	if err := Save(DefaultConfig(), path); err != nil {
		return "", false, err
	}
	return path, true, nil
}

// Save writes cfg as CUE to path, creating its directory.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(cfg)), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// GenerateCUE renders cfg in the config file format.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// nodefleet configuration file\n")
	sb.WriteString("// Environment variables override these values, e.g. NODEFLEET_DEPLOY_PARALLELISM=4.\n\n")

	fmt.Fprintf(&sb, "container_engine: %q\n", cfg.ContainerEngine)

	sb.WriteString("\ndeploy: {\n")
	fmt.Fprintf(&sb, "\tparallelism:      %d\n", cfg.Deploy.Parallelism)
	fmt.Fprintf(&sb, "\tmax_connections:  %d\n", cfg.Deploy.MaxConnections)
	fmt.Fprintf(&sb, "\tcall_timeout:     %q\n", cfg.Deploy.CallTimeout)
	fmt.Fprintf(&sb, "\tinstall_attempts: %d\n", cfg.Deploy.InstallAttempts)
	fmt.Fprintf(&sb, "\tretry_backoff:    %q\n", cfg.Deploy.RetryBackoff)
	sb.WriteString("}\n")

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tcolor_scheme: %q\n", cfg.UI.ColorScheme)
	fmt.Fprintf(&sb, "\tverbose:      %v\n", cfg.UI.Verbose)
	sb.WriteString("}\n")

	sb.WriteString("\nlog: {\n")
	fmt.Fprintf(&sb, "\tlevel: %q\n", cfg.Log.Level)
	sb.WriteString("}\n")

	return sb.String()
}
