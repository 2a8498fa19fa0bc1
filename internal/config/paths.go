// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// AppName names the directory below the user config directory.
	AppName = "nodefleet"
	// FileName is the config file name inside that directory.
	FileName = "config.cue"
	// LocalFileName is looked up in the working directory when the config
	// directory holds no config file.
	LocalFileName = ".nodefleet.cue"
)

// Dir returns the nodefleet directory inside the platform user config
// directory: $XDG_CONFIG_HOME or ~/.config on Linux, ~/Library/Application
// Support on macOS and %AppData% on Windows.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config directory: %w", err)
	}
	return filepath.Join(base, AppName), nil
}

// DefaultPath returns where the config file of opts lives in the config
// directory, whether or not it exists.
func DefaultPath(opts LoadOptions) (string, error) {
	dir := opts.ConfigDirPath
	if dir == "" {
		var err error
		if dir, err = Dir(); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, FileName), nil
}

// ResolvePath returns the config file that loading with opts reads, or ""
// when there is none and defaults apply. The lookup order is the explicit
// path, the config directory, then LocalFileName in the working directory.
func ResolvePath(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		return opts.ConfigFilePath, nil
	}

	inDir, err := DefaultPath(opts)
	if err != nil {
		return "", err
	}
	for _, candidate := range []string{inDir, filepath.Join(opts.WorkDir, LocalFileName)} {
		if isFile(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
