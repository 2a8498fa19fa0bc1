// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

// Id identifies a catalog entry.
type Id int

const (
	EnvironmentUnreachableId Id = iota + 1
	PackageInstallFailedId
	ArtifactMissingId
	CopyFailedId
	ArtifactNotFoundOnTargetId
	RewriteIOFailureId
	DeploymentCancelledId
	FleetInvalidId
	ContainerEngineNotFoundId
	ConfigLoadFailedId
)

type (
	// MarkdownMsg is Markdown text rendered for the user.
	MarkdownMsg string

	// HttpLink is an external reference shown under "See also".
	HttpLink string

	// Issue is one catalog entry.
	Issue struct {
		id       Id
		title    string
		mdMsg    MarkdownMsg
		extLinks []HttpLink
	}
)

// Id returns the catalog key.
func (i *Issue) Id() Id { return i.id }

// Title returns the one-line headline of the entry.
func (i *Issue) Title() string { return i.title }

// MarkdownMsg returns the raw Markdown body.
func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

// ExtLinks returns a copy of the external links.
func (i *Issue) ExtLinks() []HttpLink { return slices.Clone(i.extLinks) }

// Render renders the entry with the given glamour style ("dark", "light",
// "notty", or a path to a JSON style file).
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString("# ")
	md.WriteString(i.title)
	md.WriteString("\n")
	md.WriteString(string(i.mdMsg))
	if len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.extLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	environmentUnreachableIssue = &Issue{
		id:    EnvironmentUnreachableId,
		title: "Environment unreachable",
		mdMsg: `
The container engine could not run a command inside the environment, or the
call did not finish within the configured timeout.

## Things you can try
- Check that the container is running:
~~~
$ docker ps --filter name=<environment>
~~~
- Create missing environments with ` + "`nodefleet up`" + `
- Raise ` + "`deploy.call_timeout`" + ` in the config file for slow package mirrors`,
	}

	packageInstallFailedIssue = &Issue{
		id:    PackageInstallFailedId,
		title: "Package installation failed",
		mdMsg: `
The package manager inside the environment exited with a non-zero status after
all retry attempts.

## Things you can try
- Verify the package name exists for the environment's distribution
- Check that the environment has network access to its package mirrors
- Re-run the deployment; already installed packages are skipped`,
	}

	artifactMissingIssue = &Issue{
		id:    ArtifactMissingId,
		title: "Artifact source missing",
		mdMsg: `
A local artifact source listed in the fleet description does not exist. The
run was aborted before any environment was touched.

## Things you can try
- Check the ` + "`artifacts`" + ` section of the fleet description
- Relative sources are resolved against the directory of the fleet file`,
	}

	copyFailedIssue = &Issue{
		id:    CopyFailedId,
		title: "Artifact copy failed",
		mdMsg: `
Copying an artifact into the environment failed. Remaining artifacts for that
environment were not copied and no address rewrite was attempted.

## Things you can try
- Check that the install directory is writable inside the container
- Re-run the deployment once the environment is reachable`,
	}

	artifactNotFoundOnTargetIssue = &Issue{
		id:    ArtifactNotFoundOnTargetId,
		title: "Artifact not found on target",
		mdMsg: `
An address rewrite targets a file that is not present in the environment.

## Things you can try
- Make sure the rewrite rule's artifact belongs to the role's artifact set
- Re-run the full deployment so the distribution step runs first`,
	}

	rewriteIOFailureIssue = &Issue{
		id:    RewriteIOFailureId,
		title: "Address rewrite failed",
		mdMsg: `
Reading or writing a file during address rewriting failed.

## Things you can try
- Check free disk space and permissions inside the environment
- Re-run the deployment; rewriting is idempotent`,
	}

	deploymentCancelledIssue = &Issue{
		id:    DeploymentCancelledId,
		title: "Deployment cancelled",
		mdMsg: `
The run was interrupted. Steps already in flight were allowed to finish; no new
step was started afterwards.

## Things you can try
- Re-run the deployment; every step is safe to repeat`,
	}

	fleetInvalidIssue = &Issue{
		id:    FleetInvalidId,
		title: "Invalid fleet description",
		mdMsg: `
The fleet description failed schema or consistency checks.

## Common causes
- A role used by an environment has no artifact set
- A rewrite rule targets an artifact the role does not receive
- A binding's resolved address contains its own placeholder
- Two environments share a name

## Things you can try
~~~
$ nodefleet validate --fleet fleet.cue
~~~`,
	}

	containerEngineNotFoundIssue = &Issue{
		id:    ContainerEngineNotFoundId,
		title: "Container engine not found",
		mdMsg: `
Neither Docker nor Podman could be used.

## Things you can try
- Install Docker or Podman and make sure the daemon/socket is running
- Select the engine explicitly with ` + "`container_engine`" + ` in the config file`,
		extLinks: []HttpLink{"https://docs.docker.com/engine/install/", "https://podman.io/docs/installation"},
	}

	configLoadFailedIssue = &Issue{
		id:    ConfigLoadFailedId,
		title: "Configuration could not be loaded",
		mdMsg: `
The nodefleet configuration file is invalid.

## Things you can try
~~~
$ nodefleet config show
$ nodefleet config path
~~~`,
	}

	issues = map[Id]*Issue{
		environmentUnreachableIssue.Id():   environmentUnreachableIssue,
		packageInstallFailedIssue.Id():     packageInstallFailedIssue,
		artifactMissingIssue.Id():          artifactMissingIssue,
		copyFailedIssue.Id():               copyFailedIssue,
		artifactNotFoundOnTargetIssue.Id(): artifactNotFoundOnTargetIssue,
		rewriteIOFailureIssue.Id():         rewriteIOFailureIssue,
		deploymentCancelledIssue.Id():      deploymentCancelledIssue,
		fleetInvalidIssue.Id():             fleetInvalidIssue,
		containerEngineNotFoundIssue.Id():  containerEngineNotFoundIssue,
		configLoadFailedIssue.Id():         configLoadFailedIssue,
	}
)

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return out
}

// Get returns the entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
