// SPDX-License-Identifier: MPL-2.0

package fleet

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
)

const (
	// SeverityError indicates a problem that prevents deployment.
	SeverityError ValidationSeverity = iota
	// SeverityWarning indicates a likely mistake that does not prevent deployment.
	SeverityWarning
)

var (
	// ErrInvalidFleet is the sentinel every fleet validation failure unwraps to.
	ErrInvalidFleet = errors.New("invalid fleet description")

	ErrDuplicateEnvironment      = errors.New("duplicate environment name")
	ErrDuplicateArtifact         = errors.New("duplicate artifact id")
	ErrRoleWithoutArtifacts      = errors.New("role has no artifact set")
	ErrUnknownArtifact           = errors.New("unknown artifact")
	ErrRuleArtifactNotInRole     = errors.New("rewrite rule targets an artifact the role does not receive")
	ErrSelfContainingBinding     = errors.New("resolved address contains its own placeholder")
	ErrSelfWithoutAddress        = errors.New("@self binding used by an environment without address")
	ErrDuplicateTarget           = errors.New("two artifacts of a role share a target file")
	ErrArtifactSourceMissing     = errors.New("artifact source missing")
	ErrPlaceholderNeverOccurs    = errors.New("placeholder does not occur in the artifact source")
	ErrConfigFileShadowsArtifact = errors.New("config file name collides with an artifact target")
	ErrUnknownPackageManager     = errors.New("unknown package manager")
)

type (
	// ValidationSeverity indicates the severity level of a validation issue.
	ValidationSeverity int

	// ValidationError is a single problem found in a fleet description.
	ValidationError struct {
		// Field locates the problem, e.g. "environments[1]" or "rewrites[0].bindings[2]".
		Field string
		// Err is one of the package sentinels.
		Err error
		// Detail adds the offending value.
		Detail   string
		Severity ValidationSeverity
	}

	// ValidationErrors collects every problem found in one pass.
	ValidationErrors []ValidationError
)

func (s ValidationSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	var b strings.Builder
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	b.WriteString(e.Err.Error())
	if e.Detail != "" {
		b.WriteString(" (")
		b.WriteString(e.Detail)
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap returns the sentinel.
func (e ValidationError) Unwrap() error { return e.Err }

// Error joins all messages.
func (errs ValidationErrors) Error() string {
	if len(errs) == 1 {
		return errs[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d problems:", ErrInvalidFleet, len(errs))
	for _, e := range errs {
		b.WriteString("\n  - ")
		b.WriteString(e.Error())
	}
	return b.String()
}

// Unwrap exposes ErrInvalidFleet and every individual problem to errors.Is.
func (errs ValidationErrors) Unwrap() []error {
	out := make([]error, 0, len(errs)+1)
	out = append(out, ErrInvalidFleet)
	for _, e := range errs {
		out = append(out, e)
	}
	return out
}

// Err returns errs as an error when it holds at least one error-level
// problem, and nil otherwise.
func (errs ValidationErrors) Err() error {
	if len(errs.Errors()) == 0 {
		return nil
	}
	return errs
}

// Errors returns the error-level problems, or nil.
func (errs ValidationErrors) Errors() ValidationErrors {
	return errs.filter(SeverityError)
}

// Warnings returns the warning-level problems, or nil.
func (errs ValidationErrors) Warnings() ValidationErrors {
	return errs.filter(SeverityWarning)
}

func (errs ValidationErrors) filter(s ValidationSeverity) ValidationErrors {
	var out ValidationErrors
	for _, e := range errs {
		if e.Severity == s {
			out = append(out, e)
		}
	}
	return out
}

// Validate checks the consistency rules the schema cannot express. It does
// not touch the filesystem; see CheckSources.
func (f *Fleet) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field string, err error, detail string) {
		errs = append(errs, ValidationError{Field: field, Err: err, Detail: detail})
	}

	switch f.PackageManager {
	case "", PackageManagerApt, PackageManagerDnf:
	default:
		add("package_manager", ErrUnknownPackageManager, string(f.PackageManager))
	}

	ids := make(map[string]bool, len(f.Artifacts))
	for i, a := range f.Artifacts {
		if ids[a.ID] {
			add(fmt.Sprintf("artifacts[%d]", i), ErrDuplicateArtifact, a.ID)
		}
		ids[a.ID] = true
	}

	for _, role := range []Role{RoleHandler, RoleNode} {
		targets := make(map[string]string)
		for j, id := range f.Roles[role] {
			a, ok := f.Artifact(id)
			if !ok {
				add(fmt.Sprintf("roles.%s[%d]", role, j), ErrUnknownArtifact, id)
				continue
			}
			if prev, dup := targets[a.TargetName()]; dup && prev != id {
				add(fmt.Sprintf("roles.%s[%d]", role, j), ErrDuplicateTarget, a.TargetName())
			}
			targets[a.TargetName()] = id
			if f.BindingMode.Structured() && a.TargetName() == f.ConfigFile {
				add(fmt.Sprintf("roles.%s[%d]", role, j), ErrConfigFileShadowsArtifact, f.ConfigFile)
			}
		}
	}

	names := make(map[string]bool, len(f.Environments))
	usedRoles := make(map[Role]bool)
	for i, env := range f.Environments {
		field := fmt.Sprintf("environments[%d]", i)
		if names[env.Name] {
			add(field, ErrDuplicateEnvironment, env.Name)
		}
		names[env.Name] = true
		if !usedRoles[env.Role] && len(f.Roles[env.Role]) == 0 {
			add(field, ErrRoleWithoutArtifacts, string(env.Role))
		}
		usedRoles[env.Role] = true
	}

	for i, rule := range f.Rewrites {
		field := fmt.Sprintf("rewrites[%d]", i)
		if !ids[rule.Artifact] {
			add(field, ErrUnknownArtifact, rule.Artifact)
			continue
		}
		for _, role := range []Role{RoleHandler, RoleNode} {
			if usedRoles[role] && rule.Scope.Matches(role) && !slices.Contains(f.Roles[role], rule.Artifact) {
				add(field, ErrRuleArtifactNotInRole, fmt.Sprintf("%s not in roles.%s", rule.Artifact, role))
			}
		}
		for j, b := range rule.Bindings {
			bfield := fmt.Sprintf("%s.bindings[%d]", field, j)
			if b.Resolved != SelfAddress {
				if strings.Contains(b.Resolved, b.Placeholder) {
					add(bfield, ErrSelfContainingBinding, fmt.Sprintf("%q -> %q", b.Placeholder, b.Resolved))
				}
				continue
			}
			for _, env := range f.Environments {
				if !rule.Scope.Matches(env.Role) {
					continue
				}
				switch {
				case env.Address == "":
					add(bfield, ErrSelfWithoutAddress, env.Name)
				case strings.Contains(env.Address, b.Placeholder):
					add(bfield, ErrSelfContainingBinding, fmt.Sprintf("%s: %q -> %q", env.Name, b.Placeholder, env.Address))
				}
			}
		}
	}

	return errs
}

// CheckSources verifies that every artifact used by some environment exists
// locally. It also warns about bindings whose placeholder never occurs in the
// source of the artifact they target, which usually means a typo.
func (f *Fleet) CheckSources() ValidationErrors {
	var errs ValidationErrors

	used := make(map[string]bool)
	for _, env := range f.Environments {
		for _, id := range f.Roles[env.Role] {
			used[id] = true
		}
	}

	contents := make(map[string]string)
	for i, a := range f.Artifacts {
		if !used[a.ID] {
			continue
		}
		src := f.SourcePath(a)
		data, err := os.ReadFile(src)
		if err != nil {
			detail := src
			if !errors.Is(err, os.ErrNotExist) {
				detail = err.Error()
			}
			errs = append(errs, ValidationError{Field: fmt.Sprintf("artifacts[%d]", i), Err: ErrArtifactSourceMissing, Detail: detail})
			continue
		}
		contents[a.ID] = string(data)
	}

	for i, rule := range f.Rewrites {
		content, ok := contents[rule.Artifact]
		if !ok {
			continue
		}
		for j, b := range rule.Bindings {
			if !strings.Contains(content, b.Placeholder) && !producedEarlier(f.Rewrites[:i+1], rule.Artifact, b.Placeholder, j) {
				errs = append(errs, ValidationError{
					Field:    fmt.Sprintf("rewrites[%d].bindings[%d]", i, j),
					Err:      ErrPlaceholderNeverOccurs,
					Detail:   fmt.Sprintf("%q in %s", b.Placeholder, rule.Artifact),
					Severity: SeverityWarning,
				})
			}
		}
	}

	return errs
}

// producedEarlier reports whether an earlier binding on the same artifact
// resolves to something containing placeholder (chained substitution). The
// last rule in rules is the one being checked; only its bindings before upto
// count.
func producedEarlier(rules []RewriteRule, artifact, placeholder string, upto int) bool {
	last := len(rules) - 1
	for i, r := range rules {
		if r.Artifact != artifact {
			continue
		}
		for j, b := range r.Bindings {
			if i == last && j >= upto {
				break
			}
			if strings.Contains(b.Resolved, placeholder) || b.Resolved == SelfAddress {
				return true
			}
		}
	}
	return false
}
