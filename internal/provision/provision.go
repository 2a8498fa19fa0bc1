// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/charmbracelet/log"

	"github.com/invowk/nodefleet/internal/container"
	"github.com/invowk/nodefleet/internal/fleet"
	"github.com/invowk/nodefleet/internal/issue"
)

const (
	LabelFleet = "io.nodefleet.fleet"
	LabelEnv   = "io.nodefleet.environment"
	LabelRole  = "io.nodefleet.role"

	// HostGateway lets environments reach services on the host.
	HostGateway = "host.docker.internal:host-gateway"

	ActionCreated   Action = "created"
	ActionRecreated Action = "recreated"
	ActionExists    Action = "exists"
	ActionRemoved   Action = "removed"
	ActionAbsent    Action = "absent"
	// ActionSkipped marks a same-named container that belongs to no fleet
	// or to another one.
	ActionSkipped Action = "skipped"
)

// ErrForeignContainer is returned by Up when an environment name is taken by
// a container this fleet did not create.
var ErrForeignContainer = errors.New("container not created by this fleet")

// keepAlive keeps an environment running with nothing else to do.
var keepAlive = []string{"sleep", "infinity"}

type (
	// Action is what Up or Down did to one environment.
	Action string

	// Status reports the outcome for one environment.
	Status struct {
		Name   string
		Action Action
		// State is the container state before the action, if it existed.
		State string
	}

	// Provisioner drives a container engine.
	Provisioner struct {
		engine container.Engine
		logger *log.Logger
		baker  *Baker
	}

	// Option configures a Provisioner.
	Option func(*Provisioner)
)

// WithBaker makes Up run environments from a baked image that has the
// fleet packages preinstalled.
func WithBaker(b *Baker) Option {
	return func(p *Provisioner) { p.baker = b }
}

// New creates a Provisioner. A nil logger discards output.
func New(engine container.Engine, logger *log.Logger, opts ...Option) *Provisioner {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	p := &Provisioner{engine: engine, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Up creates the fleet network and starts one container per environment.
// Running containers are left alone; stopped ones are recreated.
func (p *Provisioner) Up(ctx context.Context, f *fleet.Fleet) ([]Status, error) {
	if err := p.ensureNetwork(ctx, f); err != nil {
		return nil, err
	}

	image, err := p.image(ctx, f)
	if err != nil {
		return nil, err
	}

	statuses := make([]Status, 0, len(f.Environments))
	for _, env := range f.Environments {
		id := container.ContainerID(env.Name)
		state, exists, err := p.engine.State(ctx, id)
		if err != nil {
			return statuses, upError(env.Name, err)
		}

		st := Status{Name: env.Name, Action: ActionCreated, State: state}
		if exists {
			owner, err := p.owner(ctx, id)
			if err != nil {
				return statuses, upError(env.Name, err)
			}
			if owner != f.DisplayName() {
				return statuses, foreignError(env.Name, owner)
			}
			if state == "running" {
				st.Action = ActionExists
				statuses = append(statuses, st)
				p.logger.Debug("environment already running", "env", env.Name)
				continue
			}
			if err := p.engine.Remove(ctx, id, true); err != nil {
				return statuses, upError(env.Name, err)
			}
			st.Action = ActionRecreated
		}

		opts := RunOptions(f, env)
		opts.Image = image
		if _, err := p.engine.Run(ctx, opts); err != nil {
			return statuses, upError(env.Name, err)
		}
		p.logger.Info("environment started", "env", env.Name, "role", env.Role, "action", st.Action)
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// Down removes every environment container, then the fleet network.
func (p *Provisioner) Down(ctx context.Context, f *fleet.Fleet) ([]Status, error) {
	statuses := make([]Status, 0, len(f.Environments))
	for _, env := range f.Environments {
		id := container.ContainerID(env.Name)
		state, exists, err := p.engine.State(ctx, id)
		if err != nil {
			return statuses, downError(env.Name, err)
		}
		if !exists {
			statuses = append(statuses, Status{Name: env.Name, Action: ActionAbsent})
			continue
		}
		owner, err := p.owner(ctx, id)
		if err != nil {
			return statuses, downError(env.Name, err)
		}
		if owner != f.DisplayName() {
			p.logger.Warn("leaving a container this fleet did not create", "env", env.Name, "fleet_label", owner)
			statuses = append(statuses, Status{Name: env.Name, Action: ActionSkipped, State: state})
			continue
		}
		if err := p.engine.Remove(ctx, id, true); err != nil {
			return statuses, downError(env.Name, err)
		}
		p.logger.Info("environment removed", "env", env.Name)
		statuses = append(statuses, Status{Name: env.Name, Action: ActionRemoved, State: state})
	}

	if f.Network != nil {
		name := container.NetworkName(f.Network.Name)
		exists, err := p.engine.NetworkExists(ctx, name)
		if err != nil {
			return statuses, downError(f.Network.Name, err)
		}
		if exists {
			if err := p.engine.RemoveNetwork(ctx, name); err != nil {
				return statuses, downError(f.Network.Name, err)
			}
			p.logger.Info("network removed", "network", f.Network.Name)
		}
	}
	return statuses, nil
}

// RunOptions returns the container options of one environment. A static IP
// is requested only when the fleet network declares a subnet containing the
// environment address.
func RunOptions(f *fleet.Fleet, env fleet.Environment) container.RunOptions {
	opts := container.RunOptions{
		Image:      container.ImageTag(f.Image),
		Command:    keepAlive,
		Name:       container.ContainerID(env.Name),
		Hostname:   env.Name,
		ExtraHosts: []string{HostGateway},
		Labels: map[string]string{
			LabelFleet: f.DisplayName(),
			LabelEnv:   env.Name,
			LabelRole:  env.Role.String(),
		},
		Detach: true,
	}
	if f.Network != nil {
		opts.Network = container.NetworkName(f.Network.Name)
		if inSubnet(f.Network.Subnet, env.Address) {
			opts.IP = env.Address
		}
	}
	return opts
}

// image returns the image environments run, baking it first when a Baker
// is configured.
func (p *Provisioner) image(ctx context.Context, f *fleet.Fleet) (container.ImageTag, error) {
	if p.baker == nil {
		if ok, err := p.engine.ImageExists(ctx, container.ImageTag(f.Image)); err == nil && !ok {
			p.logger.Info("image not present locally, the engine will pull it", "image", f.Image)
		}
		return container.ImageTag(f.Image), nil
	}

	res, err := p.baker.Bake(ctx, f)
	if err != nil {
		return "", issue.NewErrorContext().
			WithOperation("bake fleet image").
			WithResource(f.Image).
			WithSuggestion("Check that the package names exist for the fleet package manager").
			WithSuggestion("Run 'nodefleet up' without --bake to install packages at deploy time").
			Wrap(err).
			BuildError()
	}
	if res.Built {
		p.logger.Info("baked image built", "image", res.Image, "packages", len(f.Packages))
	} else {
		p.logger.Debug("using baked image", "image", res.Image)
	}
	return res.Image, nil
}

func (p *Provisioner) ensureNetwork(ctx context.Context, f *fleet.Fleet) error {
	if f.Network == nil {
		return nil
	}
	name := container.NetworkName(f.Network.Name)
	exists, err := p.engine.NetworkExists(ctx, name)
	if err != nil {
		return upError(f.Network.Name, err)
	}
	if exists {
		return nil
	}
	err = p.engine.CreateNetwork(ctx, container.NetworkOptions{
		Name:    name,
		Subnet:  f.Network.Subnet,
		Gateway: f.Network.Gateway,
		Labels:  map[string]string{LabelFleet: f.DisplayName()},
	})
	if err != nil {
		return upError(f.Network.Name, err)
	}
	p.logger.Info("network created", "network", f.Network.Name, "subnet", f.Network.Subnet)
	return nil
}

// owner returns the fleet label of a container, empty for containers not
// created by nodefleet.
func (p *Provisioner) owner(ctx context.Context, id container.ContainerID) (string, error) {
	return p.engine.Label(ctx, id, LabelFleet)
}

func inSubnet(subnet, address string) bool {
	if subnet == "" || address == "" {
		return false
	}
	_, ipnet, err := net.ParseCIDR(subnet)
	if err != nil {
		return false
	}
	ip := net.ParseIP(address)
	return ip != nil && ipnet.Contains(ip)
}

func upError(resource string, err error) error {
	return issue.NewErrorContext().
		WithOperation("provision environments").
		WithResource(resource).
		WithSuggestion("Check that the container engine is running").
		WithSuggestion("Run 'nodefleet down' and retry if a previous run left containers behind").
		Wrap(err).
		BuildError()
}

func foreignError(env, owner string) error {
	what := "has no nodefleet label"
	if owner != "" {
		what = fmt.Sprintf("belongs to fleet %q", owner)
	}
	return issue.NewErrorContext().
		WithOperation("provision environments").
		WithResource(env).
		WithSuggestion(fmt.Sprintf("The existing container %q %s; rename or remove it yourself", env, what)).
		WithSuggestion("Or rename the environment in the fleet description").
		Wrap(ErrForeignContainer).
		BuildError()
}

func downError(resource string, err error) error {
	return issue.NewErrorContext().
		WithOperation("remove environments").
		WithResource(resource).
		WithSuggestion("Check that the container engine is running").
		Wrap(err).
		BuildError()
}
