// SPDX-License-Identifier: MPL-2.0

package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/pelletier/go-toml/v2"

	"github.com/invowk/nodefleet/internal/backend"
	"github.com/invowk/nodefleet/internal/fleet"
)

type (
	// EndpointConfig is the structured config file written into an
	// environment in structured and both binding modes.
	EndpointConfig struct {
		Environment string           `toml:"environment"`
		Role        fleet.Role       `toml:"role"`
		Address     string           `toml:"address,omitempty"`
		InstallDir  string           `toml:"install_dir"`
		Artifacts   []EndpointTarget `toml:"artifact"`
	}

	// EndpointTarget lists the bindings of one artifact, in application order.
	EndpointTarget struct {
		ID       string            `toml:"id"`
		Path     string            `toml:"path"`
		Bindings []EndpointBinding `toml:"binding"`
	}

	// EndpointBinding is one placeholder and the address it stands for.
	EndpointBinding struct {
		Placeholder string `toml:"placeholder"`
		Resolved    string `toml:"resolved"`
	}

	// Injector writes EndpointConfig files.
	Injector struct {
		backend backend.Backend
	}
)

// NewInjector creates an Injector.
func NewInjector(b backend.Backend) *Injector {
	return &Injector{backend: b}
}

// NewEndpointConfig builds the config of one environment from its plan.
// Rules targeting the same artifact are merged in order.
func NewEndpointConfig(p fleet.EnvironmentPlan) EndpointConfig {
	cfg := EndpointConfig{
		Environment: p.Environment.Name,
		Role:        p.Environment.Role,
		Address:     p.Environment.Address,
		InstallDir:  p.InstallDir,
		Artifacts:   []EndpointTarget{},
	}
	index := make(map[string]int)
	for _, rule := range p.Endpoints {
		i, ok := index[rule.Artifact]
		if !ok {
			i = len(cfg.Artifacts)
			index[rule.Artifact] = i
			cfg.Artifacts = append(cfg.Artifacts, EndpointTarget{ID: rule.Artifact, Path: rule.RemotePath})
		}
		for _, b := range rule.Bindings {
			cfg.Artifacts[i].Bindings = append(cfg.Artifacts[i].Bindings, EndpointBinding(b))
		}
	}
	return cfg
}

// Marshal encodes the config as TOML.
func (c EndpointConfig) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# Written by nodefleet. Changes are overwritten on the next deployment.\n\n")
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode endpoint config: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseEndpointConfig decodes a config written by Marshal.
func ParseEndpointConfig(data []byte) (EndpointConfig, error) {
	var cfg EndpointConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return EndpointConfig{}, fmt.Errorf("decode endpoint config: %w", err)
	}
	return cfg, nil
}

// Inject writes the config of plan to remote. An identical existing file is
// left untouched. It reports whether the file was written.
func (in *Injector) Inject(ctx context.Context, p fleet.EnvironmentPlan, remote string) (bool, error) {
	env := p.Environment.Name
	fail := func(err error) (bool, error) {
		e := newError(RewriteIOFailure, env, StepInject, err)
		e.Path = remote
		return false, e
	}

	data, err := NewEndpointConfig(p).Marshal()
	if err != nil {
		return fail(err)
	}

	current, err := in.backend.ReadFile(ctx, env, remote)
	switch {
	case err == nil && bytes.Equal(current, data):
		return false, nil
	case err != nil && !errors.Is(err, backend.ErrFileNotFound):
		return fail(err)
	}

	if err := in.backend.EnsureDir(ctx, env, path.Dir(remote)); err != nil {
		return fail(err)
	}
	if err := in.backend.WriteFile(ctx, env, remote, data); err != nil {
		return fail(err)
	}
	return true, nil
}
