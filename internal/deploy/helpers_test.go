// SPDX-License-Identifier: MPL-2.0

package deploy

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/invowk/nodefleet/internal/backend/backendtest"
	"github.com/invowk/nodefleet/internal/fleet"
	"github.com/invowk/nodefleet/internal/testutil"
)

const (
	handlerSource = "HANDLER_HOST = '1.1.1.1'\nGUI_HOST = '1.1.1.2'\n"
	nodeSource    = "from node_base import NodeBase\n\nnode = NodeBase()\n"
	baseSource    = "HANDLER = ('1.1.1.1', 5566)\n"
)

// scenarioFleet returns the handler/node fleet h, n1, n2 with its sources
// written to a temporary directory.
func scenarioFleet(t *testing.T) *fleet.Fleet {
	t.Helper()

	dir := t.TempDir()
	writeSource(t, dir, "handler.py", handlerSource)
	writeSource(t, dir, "node.py", nodeSource)
	writeSource(t, dir, "node_base.py", baseSource)

	return &fleet.Fleet{
		Name:           "subnet",
		InstallDir:     "/app",
		PackageManager: fleet.PackageManagerApt,
		Packages:       []fleet.PackageSpec{{Name: "python3", Capability: "pip"}},
		BindingMode:    fleet.BindingModeLiteral,
		ConfigFile:     "nodefleet.toml",
		Environments: []fleet.Environment{
			{Name: "h", Role: fleet.RoleHandler, Address: "192.168.1.1"},
			{Name: "n1", Role: fleet.RoleNode, Address: "192.168.1.11"},
			{Name: "n2", Role: fleet.RoleNode, Address: "192.168.1.12"},
		},
		Artifacts: []fleet.Artifact{
			{ID: "handler", Source: "handler.py"},
			{ID: "node", Source: "node.py"},
			{ID: "base", Source: "node_base.py"},
		},
		Roles: fleet.RoleArtifactMap{
			fleet.RoleHandler: {"handler", "base"},
			fleet.RoleNode:    {"node", "base"},
		},
		Rewrites: []fleet.RewriteRule{
			{
				Scope:    fleet.ScopeHandler,
				Artifact: "handler",
				Bindings: []fleet.AddressBinding{
					{Placeholder: "1.1.1.1", Resolved: "2.2.2.2"},
					{Placeholder: "1.1.1.2", Resolved: "alias.local"},
				},
			},
			{
				Scope:    fleet.ScopeAll,
				Artifact: "base",
				Bindings: []fleet.AddressBinding{{Placeholder: "1.1.1.1", Resolved: "2.2.2.2"}},
			},
		},
		Dir: dir,
	}
}

func writeSource(t *testing.T, dir, name, content string) {
	t.Helper()
	testutil.MustWriteFile(t, filepath.Join(dir, name), content)
}

func newTestDeployer(fake *backendtest.Fake, opts ...Option) *Deployer {
	opts = append([]Option{WithRetryBackoff(time.Millisecond)}, opts...)
	return New(fake, opts...)
}

func readOps(fake *backendtest.Fake, env, remote string) int {
	n := 0
	for _, c := range fake.Calls(env) {
		if c.Op == "read" && c.Arg == remote {
			n++
		}
	}
	return n
}
