// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/invowk/nodefleet/internal/container"
	"github.com/invowk/nodefleet/internal/fleet"
	"github.com/invowk/nodefleet/internal/issue"
)

// fakeEngine keeps container states and networks in memory.
type fakeEngine struct {
	container.Engine

	states   map[container.ContainerID]string
	labels   map[container.ContainerID]map[string]string
	networks map[container.NetworkName]container.NetworkOptions
	runs     []container.RunOptions
	removed  []container.ContainerID
	runErr   error

	// images maps local tags to image IDs.
	images      map[container.ImageTag]string
	builds      []container.BuildOptions
	dockerfiles []string
	buildErr    error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		states:   make(map[container.ContainerID]string),
		labels:   make(map[container.ContainerID]map[string]string),
		networks: make(map[container.NetworkName]container.NetworkOptions),
		images:   map[container.ImageTag]string{"debian:stable-slim": "sha256:base"},
	}
}

func (e *fakeEngine) ImageExists(_ context.Context, image container.ImageTag) (bool, error) {
	_, ok := e.images[image]
	return ok, nil
}

func (e *fakeEngine) ImageID(_ context.Context, image container.ImageTag) (string, error) {
	id, ok := e.images[image]
	if !ok {
		return "", errors.New("no such image")
	}
	return id, nil
}

func (e *fakeEngine) Build(_ context.Context, opts container.BuildOptions) error {
	if e.buildErr != nil {
		return e.buildErr
	}
	data, err := os.ReadFile(filepath.Join(opts.ContextDir, opts.Dockerfile))
	if err != nil {
		return err
	}
	e.builds = append(e.builds, opts)
	e.dockerfiles = append(e.dockerfiles, string(data))
	e.images[opts.Tag] = "sha256:baked"
	return nil
}

func (e *fakeEngine) State(_ context.Context, id container.ContainerID) (string, bool, error) {
	s, ok := e.states[id]
	return s, ok, nil
}

func (e *fakeEngine) Run(_ context.Context, opts container.RunOptions) (*container.RunResult, error) {
	if e.runErr != nil {
		return nil, e.runErr
	}
	e.runs = append(e.runs, opts)
	e.states[opts.Name] = "running"
	e.labels[opts.Name] = opts.Labels
	return &container.RunResult{ContainerID: opts.Name}, nil
}

func (e *fakeEngine) Remove(_ context.Context, id container.ContainerID, _ bool) error {
	e.removed = append(e.removed, id)
	delete(e.states, id)
	delete(e.labels, id)
	return nil
}

func (e *fakeEngine) Label(_ context.Context, id container.ContainerID, key string) (string, error) {
	return e.labels[id][key], nil
}

func (e *fakeEngine) NetworkExists(_ context.Context, name container.NetworkName) (bool, error) {
	_, ok := e.networks[name]
	return ok, nil
}

func (e *fakeEngine) CreateNetwork(_ context.Context, opts container.NetworkOptions) error {
	e.networks[opts.Name] = opts
	return nil
}

func (e *fakeEngine) RemoveNetwork(_ context.Context, name container.NetworkName) error {
	delete(e.networks, name)
	return nil
}

func testFleet() *fleet.Fleet {
	return &fleet.Fleet{
		Name:    "subnet",
		Image:   "debian:stable-slim",
		Network: &fleet.Network{Name: "nodefleet", Subnet: "192.168.1.0/24"},
		Environments: []fleet.Environment{
			{Name: "h", Role: fleet.RoleHandler, Address: "192.168.1.1"},
			{Name: "n1", Role: fleet.RoleNode, Address: "10.0.0.5"},
			{Name: "n2", Role: fleet.RoleNode},
		},
	}
}

func actions(statuses []Status) []Action {
	var out []Action
	for _, s := range statuses {
		out = append(out, s.Action)
	}
	return out
}

func TestProvisioner_Up(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.states["n2"] = "exited"
	engine.labels["n2"] = map[string]string{LabelFleet: "subnet"}
	p := New(engine, nil)

	statuses, err := p.Up(t.Context(), testFleet())
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if want := []Action{ActionCreated, ActionCreated, ActionRecreated}; !slices.Equal(actions(statuses), want) {
		t.Errorf("actions = %v, want %v", actions(statuses), want)
	}
	if _, ok := engine.networks["nodefleet"]; !ok {
		t.Error("network not created")
	}
	if !slices.Equal(engine.removed, []container.ContainerID{"n2"}) {
		t.Errorf("removed = %v, want the stopped container", engine.removed)
	}

	statuses, err = p.Up(t.Context(), testFleet())
	if err != nil {
		t.Fatalf("second Up() error = %v", err)
	}
	if want := []Action{ActionExists, ActionExists, ActionExists}; !slices.Equal(actions(statuses), want) {
		t.Errorf("second run actions = %v, want %v", actions(statuses), want)
	}
	if len(engine.runs) != 3 {
		t.Errorf("runs = %d, want 3", len(engine.runs))
	}
}

func TestProvisioner_Up_Error(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.runErr = errors.New("image not found")

	_, err := New(engine, nil).Up(t.Context(), testFleet())
	var ae *issue.ActionableError
	if !errors.As(err, &ae) || ae.Resource != "h" {
		t.Fatalf("Up() error = %v, want actionable error for h", err)
	}
}

func TestProvisioner_Down(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	f := testFleet()
	p := New(engine, nil)
	if _, err := p.Up(t.Context(), f); err != nil {
		t.Fatal(err)
	}
	delete(engine.states, "n1")

	statuses, err := p.Down(t.Context(), f)
	if err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if want := []Action{ActionRemoved, ActionAbsent, ActionRemoved}; !slices.Equal(actions(statuses), want) {
		t.Errorf("actions = %v, want %v", actions(statuses), want)
	}
	if len(engine.states) != 0 || len(engine.networks) != 0 {
		t.Errorf("left behind: %v %v", engine.states, engine.networks)
	}

	if _, err := p.Down(t.Context(), f); err != nil {
		t.Errorf("second Down() error = %v", err)
	}
}

func TestProvisioner_ForeignContainer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		labels map[string]string
	}{
		{name: "unlabelled", labels: nil},
		{name: "other fleet", labels: map[string]string{LabelFleet: "staging"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			for _, state := range []string{"running", "exited"} {
				engine := newFakeEngine()
				engine.states["n1"] = state
				engine.labels["n1"] = tt.labels
				p := New(engine, nil)

				_, err := p.Up(t.Context(), testFleet())
				var ae *issue.ActionableError
				if !errors.Is(err, ErrForeignContainer) || !errors.As(err, &ae) || ae.Resource != "n1" {
					t.Fatalf("Up() with %s foreign n1: error = %v", state, err)
				}
				if slices.Contains(engine.removed, "n1") || engine.states["n1"] != state {
					t.Errorf("Up() touched the foreign %s container", state)
				}

				statuses, err := p.Down(t.Context(), testFleet())
				if err != nil {
					t.Fatalf("Down() error = %v", err)
				}
				if statuses[1].Action != ActionSkipped {
					t.Errorf("Down() n1 action = %s, want %s", statuses[1].Action, ActionSkipped)
				}
				if slices.Contains(engine.removed, "n1") {
					t.Error("Down() removed the foreign container")
				}
			}
		})
	}
}

func TestRunOptions(t *testing.T) {
	t.Parallel()

	f := testFleet()
	tests := []struct {
		env    fleet.Environment
		wantIP string
	}{
		{f.Environments[0], "192.168.1.1"},
		{f.Environments[1], ""},
		{f.Environments[2], ""},
	}

	for _, tt := range tests {
		opts := RunOptions(f, tt.env)
		if opts.IP != tt.wantIP {
			t.Errorf("%s: IP = %q, want %q", tt.env.Name, opts.IP, tt.wantIP)
		}
		if opts.Name != container.ContainerID(tt.env.Name) || opts.Hostname != tt.env.Name || opts.Network != "nodefleet" {
			t.Errorf("%s: opts = %+v", tt.env.Name, opts)
		}
		if !opts.Detach || !slices.Equal(opts.ExtraHosts, []string{HostGateway}) {
			t.Errorf("%s: opts = %+v", tt.env.Name, opts)
		}
		if opts.Labels[LabelRole] != tt.env.Role.String() || opts.Labels[LabelFleet] != "subnet" {
			t.Errorf("%s: labels = %v", tt.env.Name, opts.Labels)
		}
	}

	f.Network = nil
	if opts := RunOptions(f, f.Environments[0]); opts.Network != "" || opts.IP != "" {
		t.Errorf("without network: %+v", opts)
	}
}
