// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/invowk/nodefleet/internal/backend"
	"github.com/invowk/nodefleet/internal/config"
	"github.com/invowk/nodefleet/internal/container"
	"github.com/invowk/nodefleet/internal/issue"
	"github.com/invowk/nodefleet/internal/report"
)

type (
	// App wires CLI services and shared dependencies. All Cobra handlers
	// receive an App and reach the outside world only through it.
	App struct {
		Config     ConfigProvider
		Engines    EngineFactory
		Backends   BackendFactory
		Publishers PublisherFactory
		stdout     io.Writer
		stderr     io.Writer
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config     ConfigProvider
		Engines    EngineFactory
		Backends   BackendFactory
		Publishers PublisherFactory
		Stdout     io.Writer
		Stderr     io.Writer
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// EngineFactory opens the container engine selected by the configuration.
	EngineFactory func(cfg *config.Config) (container.Engine, error)

	// BackendFactory builds the backend a deployment runs against.
	BackendFactory func(ctx context.Context, cfg *config.Config) (backend.Backend, error)

	// PublisherFactory builds the report publisher for --notify-amqp.
	PublisherFactory func(url, queue string) (report.Publisher, error)

	// session is the per-invocation state shared by the commands: loaded
	// configuration, the logger built from it, and the effective verbosity.
	session struct {
		cfg     *config.Config
		logger  *log.Logger
		verbose bool
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) (*App, error) {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Engines == nil {
		deps.Engines = defaultEngine
	}
	if deps.Backends == nil {
		engines := deps.Engines
		deps.Backends = func(_ context.Context, cfg *config.Config) (backend.Backend, error) {
			engine, err := engines(cfg)
			if err != nil {
				return nil, err
			}
			return containerBackend(engine, cfg), nil
		}
	}
	if deps.Publishers == nil {
		deps.Publishers = func(url, queue string) (report.Publisher, error) {
			return report.NewAMQPPublisher(url, queue)
		}
	}

	return &App{
		Config:     deps.Config,
		Engines:    deps.Engines,
		Backends:   deps.Backends,
		Publishers: deps.Publishers,
		stdout:     deps.Stdout,
		stderr:     deps.Stderr,
	}, nil
}

// newSession loads configuration for one command invocation. Flag
// overrides win over the config file and NODEFLEET_* variables.
func (a *App) newSession(ctx context.Context, flags *rootFlags, overrides map[string]any) (*session, error) {
	cfg, err := a.Config.Load(ctx, config.LoadOptions{
		ConfigFilePath: flags.configPath,
		Overrides:      overrides,
	})
	if err != nil {
		renderHints(a.stderr, err, nil)
		if flags.verbose {
			renderIssue(a.stderr, issue.ConfigLoadFailedId, nil)
		}
		return nil, configError(err)
	}

	verbose := flags.verbose || cfg.UI.Verbose
	return &session{
		cfg:     cfg,
		logger:  newLogger(a.stderr, cfg, verbose),
		verbose: verbose,
	}, nil
}

// fail renders the hints for err and wraps it with an exit code.
func (a *App) fail(s *session, code int, err error) error {
	renderHints(a.stderr, err, s)
	return &ExitError{Code: code, Err: err}
}

func newLogger(w io.Writer, cfg *config.Config, verbose bool) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		Prefix:          "nodefleet",
		ReportTimestamp: verbose,
	})
	level, err := log.ParseLevel(string(cfg.Log.Level))
	if err != nil {
		level = log.InfoLevel
	}
	if verbose {
		level = log.DebugLevel
	}
	logger.SetLevel(level)
	return logger
}

func defaultEngine(cfg *config.Config) (container.Engine, error) {
	engine, err := container.NewEngine(container.EngineType(cfg.ContainerEngine))
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("open container engine").
			WithResource(string(cfg.ContainerEngine)).
			WithSuggestion("Install Docker or Podman, or set container_engine in the config file").
			WithSuggestion("Run 'nodefleet config show' to see the engine in use").
			Wrap(err).
			BuildError()
	}
	return engine, nil
}

// containerBackend stacks the per-call timeout and the connection limit on
// top of an engine.
func containerBackend(engine container.Engine, cfg *config.Config) backend.Backend {
	b := backend.NewContainerBackend(engine, backend.WithCallTimeout(cfg.Deploy.CallTimeout))
	return backend.NewThrottle(b, cfg.Deploy.MaxConnections)
}

// isEngineError reports whether err came from opening the container engine.
func isEngineError(err error) bool {
	var notAvailable *container.ErrEngineNotAvailable
	return errors.As(err, &notAvailable)
}
