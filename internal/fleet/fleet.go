// SPDX-License-Identifier: MPL-2.0

package fleet

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

const (
	RoleHandler Role = "handler"
	RoleNode    Role = "node"

	ScopeAll     Scope = "all"
	ScopeHandler Scope = "handler"
	ScopeNode    Scope = "node"

	// BindingModeLiteral rewrites placeholders in the deployed files.
	BindingModeLiteral BindingMode = "literal"
	// BindingModeStructured writes the bindings to a config file instead.
	BindingModeStructured BindingMode = "structured"
	// BindingModeBoth does both.
	BindingModeBoth BindingMode = "both"

	PackageManagerApt PackageManager = "apt"
	PackageManagerDnf PackageManager = "dnf"

	// SelfAddress as a resolved value stands for the environment's own address.
	SelfAddress = "@self"
)

type (
	// Role determines which artifacts and rewrite rules apply to an environment.
	Role string

	// Scope limits a rewrite rule to one role or to all roles.
	Scope string

	// BindingMode selects how address bindings reach the deployed application.
	BindingMode string

	// PackageManager is the package manager inside the environments.
	PackageManager string

	// Environment is one isolated execution target, referenced by name.
	Environment struct {
		Name    string `json:"name"`
		Role    Role   `json:"role"`
		Address string `json:"address,omitempty"`
	}

	// Artifact is a logical file of the deployed application.
	Artifact struct {
		ID string `json:"id"`
		// Source is the local path; relative paths are resolved against the
		// directory of the fleet file.
		Source string `json:"source"`
		// Target is the file name under the install directory.
		Target string `json:"target,omitempty"`
	}

	// AddressBinding replaces every occurrence of Placeholder with Resolved.
	AddressBinding struct {
		Placeholder string `json:"placeholder"`
		Resolved    string `json:"resolved"`
	}

	// RewriteRule is an ordered list of bindings applied to one artifact.
	RewriteRule struct {
		Scope    Scope            `json:"scope"`
		Artifact string           `json:"artifact"`
		Bindings []AddressBinding `json:"bindings"`
	}

	// PackageSpec names a package and an optional sub-capability, which maps
	// to the distribution package "<name>-<capability>".
	PackageSpec struct {
		Name       string `json:"name"`
		Capability string `json:"capability,omitempty"`
	}

	// Network is the user-defined network "nodefleet up" attaches environments to.
	Network struct {
		Name    string `json:"name"`
		Subnet  string `json:"subnet,omitempty"`
		Gateway string `json:"gateway,omitempty"`
	}

	// RoleArtifactMap maps a role to its ordered artifact ids.
	RoleArtifactMap map[Role][]string

	// Fleet is a validated fleet description. It is passed by value to the
	// deployer; nothing in it is mutated by a deployment run.
	Fleet struct {
		Name           string
		InstallDir     string
		Image          string
		Network        *Network
		PackageManager PackageManager
		Packages       []PackageSpec
		Environments   []Environment
		Artifacts      []Artifact
		Roles          RoleArtifactMap
		Rewrites       []RewriteRule
		BindingMode    BindingMode
		ConfigFile     string

		// FilePath is the fleet file the description was loaded from.
		FilePath string
		// Dir resolves relative artifact sources.
		Dir string
	}
)

func (r Role) String() string { return string(r) }

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleHandler || r == RoleNode }

// Matches reports whether a rule with this scope applies to role.
func (s Scope) Matches(role Role) bool {
	return s == ScopeAll || string(s) == string(role)
}

// Literal reports whether placeholders are rewritten in the deployed files.
func (m BindingMode) Literal() bool { return m != BindingModeStructured }

// Structured reports whether a config file is written.
func (m BindingMode) Structured() bool { return m == BindingModeStructured || m == BindingModeBoth }

// PackageNames returns the distribution package names of p: the base
// package followed by the capability package, if any.
func (p PackageSpec) PackageNames() []string {
	if p.Capability == "" {
		return []string{p.Name}
	}
	return []string{p.Name, p.Name + "-" + p.Capability}
}

func (p PackageSpec) String() string {
	return strings.Join(p.PackageNames(), " ")
}

// TargetName returns the file name under the install directory.
func (a Artifact) TargetName() string {
	if a.Target != "" {
		return a.Target
	}
	return filepath.Base(a.Source)
}

// Resolve returns the binding with SelfAddress expanded to address.
func (b AddressBinding) Resolve(address string) AddressBinding {
	if b.Resolved == SelfAddress {
		b.Resolved = address
	}
	return b
}

// Artifact returns the artifact with the given id.
func (f *Fleet) Artifact(id string) (Artifact, bool) {
	for _, a := range f.Artifacts {
		if a.ID == id {
			return a, true
		}
	}
	return Artifact{}, false
}

// Environment returns the environment with the given name.
func (f *Fleet) Environment(name string) (Environment, bool) {
	for _, e := range f.Environments {
		if e.Name == name {
			return e, true
		}
	}
	return Environment{}, false
}

// ArtifactsFor returns the artifacts of role in declaration order.
func (f *Fleet) ArtifactsFor(role Role) []Artifact {
	ids := f.Roles[role]
	out := make([]Artifact, 0, len(ids))
	for _, id := range ids {
		if a, ok := f.Artifact(id); ok {
			out = append(out, a)
		}
	}
	return out
}

// RulesFor returns the rewrite rules that apply to role, in declaration order.
func (f *Fleet) RulesFor(role Role) []RewriteRule {
	var out []RewriteRule
	for _, r := range f.Rewrites {
		if r.Scope.Matches(role) {
			out = append(out, r)
		}
	}
	return out
}

// SourcePath returns the local path of an artifact source.
func (f *Fleet) SourcePath(a Artifact) string {
	if filepath.IsAbs(a.Source) || f.Dir == "" {
		return a.Source
	}
	return filepath.Join(f.Dir, a.Source)
}

// RemotePath returns the path of an artifact inside an environment.
func (f *Fleet) RemotePath(a Artifact) string {
	return path.Join(f.InstallDir, a.TargetName())
}

// ConfigPath returns the path of the structured config file inside an environment.
func (f *Fleet) ConfigPath() string {
	return path.Join(f.InstallDir, f.ConfigFile)
}

// DisplayName returns the fleet name, or the fleet file name when unnamed.
func (f *Fleet) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	if f.FilePath != "" {
		return filepath.Base(f.FilePath)
	}
	return "fleet"
}

// Summary returns a one-line description such as "3 environments (1 handler, 2 node)".
func (f *Fleet) Summary() string {
	var handlers, nodes int
	for _, e := range f.Environments {
		if e.Role == RoleHandler {
			handlers++
		} else {
			nodes++
		}
	}
	return fmt.Sprintf("%d environments (%d handler, %d node)", len(f.Environments), handlers, nodes)
}
