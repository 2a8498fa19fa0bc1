// SPDX-License-Identifier: MPL-2.0

package fleet

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invowk/nodefleet/internal/cueutil"
	"github.com/invowk/nodefleet/internal/issue"
)

var (
	//go:embed fleet_schema.cue
	fleetSchemaSource []byte

	fleetSchema = cueutil.NewSchema(fleetSchemaSource, "#Fleet")

	// ErrFleetNotFound is returned when the fleet file does not exist.
	ErrFleetNotFound = errors.New("fleet file not found")
)

// document mirrors the CUE schema field names.
type document struct {
	Name           string              `json:"name"`
	InstallDir     string              `json:"install_dir"`
	Image          string              `json:"image"`
	Network        *Network            `json:"network,omitempty"`
	PackageManager string              `json:"package_manager"`
	Packages       []PackageSpec       `json:"packages"`
	Environments   []Environment       `json:"environments"`
	Artifacts      []Artifact          `json:"artifacts"`
	Roles          map[string][]string `json:"roles"`
	Rewrites       []RewriteRule       `json:"rewrites"`
	BindingMode    string              `json:"binding_mode"`
	ConfigFile     string              `json:"config_file"`
}

// Schema returns the embedded CUE schema.
func Schema() []byte {
	return fleetSchema.Source()
}

// Load reads, parses and validates the fleet file at path. Every failure is
// returned as an *issue.ActionableError.
func Load(path string) (*Fleet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%w: %w", ErrFleetNotFound, err)
		}
		return nil, loadError(path, err,
			"Pass the fleet file with --fleet, or run from the directory containing fleet.cue")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	f, err := ParseBytes(data, path)
	if err != nil {
		return nil, loadError(path, err, "Compare the file against the schema printed by 'nodefleet validate --schema'")
	}
	f.FilePath = path
	f.Dir = filepath.Dir(abs)

	if err := f.Validate().Err(); err != nil {
		return nil, loadError(path, err, "Run 'nodefleet validate' to list every problem")
	}
	return f, nil
}

// ParseBytes parses fleet content without consistency validation. Relative
// artifact sources stay relative to the working directory.
func ParseBytes(data []byte, filename string) (*Fleet, error) {
	doc, err := cueutil.Decode[document](fleetSchema, data, filename)
	if err != nil {
		return nil, err
	}

	roles := make(RoleArtifactMap, len(doc.Roles))
	for k, v := range doc.Roles {
		roles[Role(k)] = v
	}
	rewrites := doc.Rewrites
	for i := range rewrites {
		if rewrites[i].Scope == "" {
			rewrites[i].Scope = ScopeAll
		}
	}

	return &Fleet{
		Name:           doc.Name,
		InstallDir:     doc.InstallDir,
		Image:          doc.Image,
		Network:        doc.Network,
		PackageManager: PackageManager(doc.PackageManager),
		Packages:       doc.Packages,
		Environments:   doc.Environments,
		Artifacts:      doc.Artifacts,
		Roles:          roles,
		Rewrites:       rewrites,
		BindingMode:    BindingMode(doc.BindingMode),
		ConfigFile:     doc.ConfigFile,
		FilePath:       filename,
	}, nil
}

func loadError(path string, cause error, suggestion string) error {
	return issue.NewErrorContext().
		WithOperation("load fleet description").
		WithResource(path).
		WithSuggestion(suggestion).
		Wrap(cause).
		BuildError()
}
