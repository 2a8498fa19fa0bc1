// SPDX-License-Identifier: MPL-2.0

package fleet

import (
	"fmt"
	"strings"
)

type (
	// Placement is one artifact copy: local source to path inside the environment.
	Placement struct {
		Artifact   Artifact
		LocalPath  string
		RemotePath string
	}

	// ResolvedRule is a rewrite rule bound to one environment: the remote file
	// is known and SelfAddress is expanded.
	ResolvedRule struct {
		Artifact   string
		RemotePath string
		Bindings   []AddressBinding
	}

	// EnvironmentPlan is everything the deployer does to one environment.
	EnvironmentPlan struct {
		Environment Environment
		InstallDir  string
		Placements  []Placement
		// Rules is empty when the binding mode skips literal rewriting.
		Rules []ResolvedRule
		// Endpoints holds every binding that applies to the environment,
		// keyed by artifact, for structured config injection.
		Endpoints []ResolvedRule
	}
)

// Plan resolves the fleet into one plan per environment, in declaration order.
func (f *Fleet) Plan() []EnvironmentPlan {
	plans := make([]EnvironmentPlan, 0, len(f.Environments))
	for _, env := range f.Environments {
		plans = append(plans, f.PlanFor(env))
	}
	return plans
}

// PlanFor resolves the artifact set and rewrite rules of a single environment.
func (f *Fleet) PlanFor(env Environment) EnvironmentPlan {
	p := EnvironmentPlan{Environment: env, InstallDir: f.InstallDir}

	for _, a := range f.ArtifactsFor(env.Role) {
		p.Placements = append(p.Placements, Placement{
			Artifact:   a,
			LocalPath:  f.SourcePath(a),
			RemotePath: f.RemotePath(a),
		})
	}

	for _, rule := range f.RulesFor(env.Role) {
		a, _ := f.Artifact(rule.Artifact)
		rr := ResolvedRule{Artifact: rule.Artifact, RemotePath: f.RemotePath(a)}
		for _, b := range rule.Bindings {
			rr.Bindings = append(rr.Bindings, b.Resolve(env.Address))
		}
		p.Endpoints = append(p.Endpoints, rr)
	}
	if f.BindingMode.Literal() {
		p.Rules = p.Endpoints
	}

	return p
}

// Markdown renders the plan as a Markdown document.
func (p EnvironmentPlan) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s (%s)\n\n", p.Environment.Name, p.Environment.Role)
	if p.Environment.Address != "" {
		fmt.Fprintf(&b, "Address: `%s`\n\n", p.Environment.Address)
	}

	b.WriteString("| Artifact | Source | Target |\n|---|---|---|\n")
	for _, pl := range p.Placements {
		fmt.Fprintf(&b, "| %s | `%s` | `%s` |\n", pl.Artifact.ID, pl.LocalPath, pl.RemotePath)
	}

	if len(p.Rules) > 0 {
		b.WriteString("\nRewrites, in order:\n\n")
		for _, r := range p.Rules {
			for _, bind := range r.Bindings {
				fmt.Fprintf(&b, "1. `%s`: `%s` → `%s`\n", r.Artifact, bind.Placeholder, bind.Resolved)
			}
		}
	}
	return b.String()
}
