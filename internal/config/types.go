// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidDeployConfig is wrapped by InvalidDeployConfigError.
	ErrInvalidDeployConfig = errors.New("invalid deploy config")
	// ErrInvalidConfig is wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// Config is the user configuration of nodefleet. Field tags name the
	// keys of the CUE file and, upper-cased, the NODEFLEET_ variables.
	Config struct {
		ContainerEngine ContainerEngine `json:"container_engine" mapstructure:"container_engine"`
		Deploy          DeployConfig    `json:"deploy" mapstructure:"deploy"`
		UI              UIConfig        `json:"ui" mapstructure:"ui"`
		Log             LogConfig       `json:"log" mapstructure:"log"`
	}

	// DeployConfig tunes concurrency, timeouts and retries of a deployment.
	DeployConfig struct {
		// Parallelism bounds the environments deployed at once; 0 means all.
		Parallelism int `json:"parallelism" mapstructure:"parallelism"`
		// MaxConnections bounds concurrent backend calls across environments.
		MaxConnections int           `json:"max_connections" mapstructure:"max_connections"`
		CallTimeout    time.Duration `json:"call_timeout" mapstructure:"call_timeout"`
		// InstallAttempts is the attempt budget per package manager command.
		InstallAttempts int `json:"install_attempts" mapstructure:"install_attempts"`
		// RetryBackoff is the wait before the second install attempt.
		RetryBackoff time.Duration `json:"retry_backoff" mapstructure:"retry_backoff"`
	}

	UIConfig struct {
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		Verbose     bool        `json:"verbose" mapstructure:"verbose"`
	}

	LogConfig struct {
		Level LogLevel `json:"level" mapstructure:"level"`
	}

	// InvalidDeployConfigError collects the field errors of a DeployConfig.
	InvalidDeployConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError collects every field error of a Config. errors.Is
	// matches ErrInvalidConfig as well as each field's sentinel.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		ContainerEngine: ContainerEngineAuto,
		Deploy: DeployConfig{
			MaxConnections:  8,
			CallTimeout:     2 * time.Minute,
			InstallAttempts: 3,
			RetryBackoff:    2 * time.Second,
		},
		UI:  UIConfig{ColorScheme: ColorSchemeAuto},
		Log: LogConfig{Level: LogLevelInfo},
	}
}

// IsValid checks every field and reports all problems at once.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	for _, check := range []func() (bool, []error){
		c.ContainerEngine.IsValid,
		c.Deploy.IsValid,
		c.UI.ColorScheme.IsValid,
		c.Log.Level.IsValid,
	} {
		if ok, fieldErrs := check(); !ok {
			errs = append(errs, fieldErrs...)
		}
	}
	if len(errs) == 0 {
		return true, nil
	}
	return false, []error{&InvalidConfigError{FieldErrors: errs}}
}

func (c DeployConfig) IsValid() (bool, []error) {
	var errs []error
	check := func(ok bool, format string, arg any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, arg))
		}
	}
	check(c.Parallelism >= 0, "parallelism must be >= 0, got %d", c.Parallelism)
	check(c.MaxConnections >= 1, "max_connections must be >= 1, got %d", c.MaxConnections)
	check(c.CallTimeout > 0, "call_timeout must be positive, got %s", c.CallTimeout)
	check(c.InstallAttempts >= 1, "install_attempts must be >= 1, got %d", c.InstallAttempts)
	check(c.RetryBackoff >= 0, "retry_backoff must not be negative, got %s", c.RetryBackoff)
	if len(errs) == 0 {
		return true, nil
	}
	return false, []error{&InvalidDeployConfigError{FieldErrors: errs}}
}

func (e *InvalidDeployConfigError) Error() string {
	return fmt.Sprintf("invalid deploy config: %s", errors.Join(e.FieldErrors...))
}

func (e *InvalidDeployConfigError) Unwrap() error { return ErrInvalidDeployConfig }

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %d field error(s): %s", len(e.FieldErrors), errors.Join(e.FieldErrors...))
}

func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}
