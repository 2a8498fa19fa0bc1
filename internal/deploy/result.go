// SPDX-License-Identifier: MPL-2.0

package deploy

import (
	"errors"

	"github.com/invowk/nodefleet/internal/fleet"
)

const (
	StepEnsureDir  Step = "ensure-dir"
	StepInstall    Step = "install"
	StepDistribute Step = "distribute"
	StepRewrite    Step = "rewrite"
	StepInject     Step = "inject"
)

type (
	// Step names one stage of an environment's pipeline.
	Step string

	// Rewritten is the number of bindings applied to one artifact.
	Rewritten struct {
		Artifact string `json:"artifact" yaml:"artifact"`
		Count    int    `json:"count" yaml:"count"`
	}

	// Failure is the serializable form of an environment's error.
	Failure struct {
		Kind     ErrorKind `json:"kind" yaml:"kind"`
		Step     Step      `json:"step,omitempty" yaml:"step,omitempty"`
		Message  string    `json:"message" yaml:"message"`
		Artifact string    `json:"artifact,omitempty" yaml:"artifact,omitempty"`
		Package  string    `json:"package,omitempty" yaml:"package,omitempty"`
		Path     string    `json:"path,omitempty" yaml:"path,omitempty"`
	}

	// Result is the outcome of one environment's pipeline. Fields describe
	// what was completed before a failure, if any.
	Result struct {
		Name      string      `json:"name" yaml:"name"`
		Role      fleet.Role  `json:"role" yaml:"role"`
		Installed bool        `json:"installed" yaml:"installed"`
		Copied    []string    `json:"copied" yaml:"copied"`
		Rewritten []Rewritten `json:"rewritten" yaml:"rewritten"`
		Injected  bool        `json:"injected,omitempty" yaml:"injected,omitempty"`
		Error     *Failure    `json:"error,omitempty" yaml:"error,omitempty"`

		// Err is the typed error behind Error.
		Err error `json:"-" yaml:"-"`
	}
)

func (s Step) String() string { return string(s) }

// Failed reports whether the pipeline stopped on an error.
func (r Result) Failed() bool { return r.Err != nil }

// RewrittenCount returns the count recorded for artifact, or 0.
func (r Result) RewrittenCount(artifact string) int {
	for _, rw := range r.Rewritten {
		if rw.Artifact == artifact {
			return rw.Count
		}
	}
	return 0
}

// fail records err on the result.
func (r *Result) fail(err error) {
	r.Err = err
	f := &Failure{Kind: EnvironmentUnreachable, Message: err.Error()}
	var de *Error
	if errors.As(err, &de) {
		f.Kind, f.Step = de.Kind, de.Step
		f.Artifact, f.Package, f.Path = de.Artifact, de.Package, de.Path
	}
	r.Error = f
}

// Failed returns the results whose pipeline failed.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Failed() {
			out = append(out, r)
		}
	}
	return out
}
