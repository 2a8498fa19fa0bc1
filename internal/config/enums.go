// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

type (
	// ContainerEngine selects the container runtime.
	ContainerEngine string

	// ColorScheme selects the glamour style of rendered markdown.
	ColorScheme string

	// LogLevel is the minimum level written by the logger.
	LogLevel string

	// InvalidValueError reports a setting outside its allowed set. It wraps
	// the setting's sentinel, e.g. ErrInvalidLogLevel.
	InvalidValueError struct {
		Setting string
		Value   string
		Allowed []string
		kind    error
	}
)

const (
	ContainerEnginePodman ContainerEngine = "podman"
	ContainerEngineDocker ContainerEngine = "docker"
	// ContainerEngineAuto picks whichever engine is installed, Podman first.
	ContainerEngineAuto ContainerEngine = "auto"

	ColorSchemeAuto  ColorScheme = "auto"
	ColorSchemeDark  ColorScheme = "dark"
	ColorSchemeLight ColorScheme = "light"

	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var (
	ErrInvalidContainerEngine = errors.New("invalid container engine")
	ErrInvalidColorScheme     = errors.New("invalid color scheme")
	ErrInvalidLogLevel        = errors.New("invalid log level")
)

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid %s %q (valid: %s)", e.Setting, e.Value, strings.Join(e.Allowed, ", "))
}

func (e *InvalidValueError) Unwrap() error { return e.kind }

// oneOf validates v against allowed, in the (bool, []error) shape of IsValid.
func oneOf[T ~string](setting string, kind error, v T, allowed ...T) (bool, []error) {
	if slices.Contains(allowed, v) {
		return true, nil
	}
	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = string(a)
	}
	return false, []error{&InvalidValueError{Setting: setting, Value: string(v), Allowed: names, kind: kind}}
}

func (ce ContainerEngine) String() string { return string(ce) }

func (ce ContainerEngine) IsValid() (bool, []error) {
	return oneOf("container engine", ErrInvalidContainerEngine, ce,
		ContainerEnginePodman, ContainerEngineDocker, ContainerEngineAuto)
}

func (cs ColorScheme) String() string { return string(cs) }

func (cs ColorScheme) IsValid() (bool, []error) {
	return oneOf("color scheme", ErrInvalidColorScheme, cs,
		ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight)
}

func (l LogLevel) String() string { return string(l) }

func (l LogLevel) IsValid() (bool, []error) {
	return oneOf("log level", ErrInvalidLogLevel, l,
		LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError)
}
