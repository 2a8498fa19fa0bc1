// SPDX-License-Identifier: MPL-2.0

package deploy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/invowk/nodefleet/internal/backend"
	"github.com/invowk/nodefleet/internal/issue"
)

const (
	EnvironmentUnreachable   ErrorKind = "EnvironmentUnreachable"
	PackageInstallFailed     ErrorKind = "PackageInstallFailed"
	ArtifactMissing          ErrorKind = "ArtifactMissing"
	CopyFailed               ErrorKind = "CopyFailed"
	ArtifactNotFoundOnTarget ErrorKind = "ArtifactNotFoundOnTarget"
	RewriteIOFailure         ErrorKind = "RewriteIOFailure"
	// Cancelled marks environments whose pipeline never started, or stopped
	// between steps, because the run was cancelled.
	Cancelled ErrorKind = "Cancelled"
)

var (
	ErrEnvironmentUnreachable   = errors.New("environment unreachable")
	ErrPackageInstallFailed     = errors.New("package installation failed")
	ErrArtifactMissing          = errors.New("artifact source missing")
	ErrCopyFailed               = errors.New("artifact copy failed")
	ErrArtifactNotFoundOnTarget = errors.New("artifact not found on target")
	ErrRewriteIOFailure         = errors.New("address rewrite I/O failure")
	ErrCancelled                = errors.New("deployment cancelled")

	// ErrNoPackages is returned by Installer.Ensure for an empty package list.
	ErrNoPackages = errors.New("no packages to install")

	sentinels = map[ErrorKind]error{
		EnvironmentUnreachable:   ErrEnvironmentUnreachable,
		PackageInstallFailed:     ErrPackageInstallFailed,
		ArtifactMissing:          ErrArtifactMissing,
		CopyFailed:               ErrCopyFailed,
		ArtifactNotFoundOnTarget: ErrArtifactNotFoundOnTarget,
		RewriteIOFailure:         ErrRewriteIOFailure,
		Cancelled:                ErrCancelled,
	}

	issueIDs = map[ErrorKind]issue.Id{
		EnvironmentUnreachable:   issue.EnvironmentUnreachableId,
		PackageInstallFailed:     issue.PackageInstallFailedId,
		ArtifactMissing:          issue.ArtifactMissingId,
		CopyFailed:               issue.CopyFailedId,
		ArtifactNotFoundOnTarget: issue.ArtifactNotFoundOnTargetId,
		RewriteIOFailure:         issue.RewriteIOFailureId,
		Cancelled:                issue.DeploymentCancelledId,
	}
)

type (
	// ErrorKind classifies a per-environment failure.
	ErrorKind string

	// Error is a per-environment failure with enough context to retry the
	// pipeline by hand. It unwraps to the kind's sentinel and to the cause.
	Error struct {
		Kind ErrorKind
		Env  string
		Step Step
		// Artifact, Package and Path are set when relevant to the kind.
		Artifact string
		Package  string
		Path     string
		Cause    error
	}
)

func (k ErrorKind) String() string { return string(k) }

// Sentinel returns the sentinel error of the kind.
func (k ErrorKind) Sentinel() error { return sentinels[k] }

// IssueID returns the issue catalog entry that explains the kind.
func (k ErrorKind) IssueID() issue.Id { return issueIDs[k] }

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Env)
	b.WriteString(": ")
	b.WriteString(e.Kind.Sentinel().Error())
	switch {
	case e.Package != "":
		fmt.Fprintf(&b, ": package %s", e.Package)
	case e.Artifact != "":
		fmt.Fprintf(&b, ": artifact %s", e.Artifact)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind.Sentinel()}
	}
	return []error{e.Kind.Sentinel(), e.Cause}
}

// newError builds an Error of kind, unless cause shows the environment was
// unreachable, which takes precedence over the step-specific kind.
func newError(kind ErrorKind, env string, step Step, cause error) *Error {
	if errors.Is(cause, backend.ErrUnreachable) {
		kind = EnvironmentUnreachable
	}
	return &Error{Kind: kind, Env: env, Step: step, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}
