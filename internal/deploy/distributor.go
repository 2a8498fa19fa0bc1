// SPDX-License-Identifier: MPL-2.0

package deploy

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/invowk/nodefleet/internal/backend"
	"github.com/invowk/nodefleet/internal/fleet"
)

// ManifestFile is the name of the digest manifest kept in the install directory.
const ManifestFile = ".nodefleet.sums"

type (
	// Copy is one artifact to place into an environment.
	Copy struct {
		Artifact string
		Local    string
		Remote   string
		// Stamp is mixed into the artifact digest. The deployer sets it to the
		// bindings applied to the file, so a rule change forces a fresh copy.
		Stamp string
	}

	// Distributor copies artifacts into an environment.
	Distributor struct {
		backend  backend.Backend
		manifest string
	}

	// manifest maps remote paths to the digest of what was copied there.
	manifest map[string]string
)

// NewDistributor creates a Distributor. When manifestPath is not empty the
// digest of every copied artifact is recorded there, and an artifact whose
// digest is unchanged and whose remote file still exists is not copied again.
// Re-running a deployment then leaves rewritten files alone.
func NewDistributor(b backend.Backend, manifestPath string) *Distributor {
	return &Distributor{backend: b, manifest: manifestPath}
}

// CopiesFor converts plan placements into copies stamped with the bindings
// of plan's rules.
func CopiesFor(p fleet.EnvironmentPlan) []Copy {
	out := make([]Copy, 0, len(p.Placements))
	for _, pl := range p.Placements {
		out = append(out, Copy{
			Artifact: pl.Artifact.ID,
			Local:    pl.LocalPath,
			Remote:   pl.RemotePath,
			Stamp:    stamp(p.Rules, pl.Artifact.ID),
		})
	}
	return out
}

// Deploy places every artifact in order and returns the ids placed. The
// parent directory of each remote path is ensured first. The first failure
// aborts the remaining copies; the ids placed before it are still returned.
func (d *Distributor) Deploy(ctx context.Context, env string, copies []Copy) ([]string, error) {
	copied := make([]string, 0, len(copies))
	ensured := make(map[string]bool)

	sums, err := d.readManifest(ctx, env)
	if err != nil {
		e := newError(CopyFailed, env, StepDistribute, err)
		e.Path = d.manifest
		return copied, e
	}
	dirty := false

	for _, c := range copies {
		digest, err := digestFile(c.Local, c.Stamp)
		if err != nil {
			kind := CopyFailed
			if errors.Is(err, os.ErrNotExist) {
				kind = ArtifactMissing
			}
			e := newError(kind, env, StepDistribute, err)
			e.Artifact, e.Path = c.Artifact, c.Local
			return copied, e
		}

		if sums[c.Remote] == digest {
			present, err := d.exists(ctx, env, c.Remote)
			if err != nil {
				e := newError(CopyFailed, env, StepDistribute, err)
				e.Artifact, e.Path = c.Artifact, c.Remote
				return copied, e
			}
			if present {
				copied = append(copied, c.Artifact)
				continue
			}
		}

		if dir := path.Dir(c.Remote); !ensured[dir] {
			if err := d.backend.EnsureDir(ctx, env, dir); err != nil {
				e := newError(CopyFailed, env, StepDistribute, err)
				e.Artifact, e.Path = c.Artifact, dir
				return copied, e
			}
			ensured[dir] = true
		}

		if err := d.backend.CopyIn(ctx, env, c.Local, c.Remote); err != nil {
			e := newError(CopyFailed, env, StepDistribute, err)
			e.Artifact, e.Path = c.Artifact, c.Remote
			return copied, e
		}
		copied = append(copied, c.Artifact)
		if sums != nil {
			sums[c.Remote] = digest
			dirty = true
		}
	}

	if dirty {
		if err := d.backend.WriteFile(ctx, env, d.manifest, sums.encode()); err != nil {
			e := newError(CopyFailed, env, StepDistribute, err)
			e.Path = d.manifest
			return copied, e
		}
	}
	return copied, nil
}

// readManifest returns nil when manifests are disabled and an empty manifest
// when the environment has none yet.
func (d *Distributor) readManifest(ctx context.Context, env string) (manifest, error) {
	if d.manifest == "" {
		return nil, nil
	}
	data, err := d.backend.ReadFile(ctx, env, d.manifest)
	if errors.Is(err, backend.ErrFileNotFound) {
		return manifest{}, nil
	}
	if err != nil {
		return nil, err
	}
	return parseManifest(string(data)), nil
}

func (d *Distributor) exists(ctx context.Context, env, remote string) (bool, error) {
	res, err := d.backend.Execute(ctx, env, []string{"test", "-f", remote})
	if err != nil {
		return false, err
	}
	return res.Succeeded(), nil
}

// digestFile hashes the file content followed by stamp.
func digestFile(local, stamp string) (string, error) {
	data, err := os.ReadFile(local)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(data)
	h.Write([]byte{0})
	h.Write([]byte(stamp))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// stamp serializes the bindings applied to artifact, in order.
func stamp(rules []fleet.ResolvedRule, artifact string) string {
	var b strings.Builder
	for _, r := range rules {
		if r.Artifact != artifact {
			continue
		}
		for _, bind := range r.Bindings {
			fmt.Fprintf(&b, "%s\x1f%s\x1e", bind.Placeholder, bind.Resolved)
		}
	}
	return b.String()
}

// parseManifest reads "<digest>  <path>" lines; malformed lines are ignored.
func parseManifest(s string) manifest {
	m := manifest{}
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		digest, p, ok := strings.Cut(sc.Text(), "  ")
		if ok && digest != "" && p != "" {
			m[p] = digest
		}
	}
	return m
}

func (m manifest) encode() []byte {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "%s  %s\n", m[p], p)
	}
	return []byte(b.String())
}
