// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/invowk/nodefleet/internal/container"
	"github.com/invowk/nodefleet/internal/deploy"
	"github.com/invowk/nodefleet/internal/fleet"
)

// BakedRepository is the image repository of baked fleet images.
const BakedRepository = "nodefleet-baked"

type (
	// Baker builds images that extend the fleet image with the fleet's
	// packages preinstalled, so the install step of a deployment finds them
	// present. Images are cached by a hash of the base image and the package
	// list.
	Baker struct {
		engine container.Engine
		force  bool
		output io.Writer
	}

	// BakeOption configures a Baker.
	BakeOption func(*Baker)

	// BakeResult describes the image an environment should run.
	BakeResult struct {
		Image container.ImageTag
		// Built is false when a cached image was reused.
		Built bool
	}
)

// WithForceRebuild rebuilds even when a cached image exists.
func WithForceRebuild(force bool) BakeOption {
	return func(b *Baker) { b.force = force }
}

// WithBuildOutput streams the engine's build output to w.
func WithBuildOutput(w io.Writer) BakeOption {
	return func(b *Baker) { b.output = w }
}

// NewBaker creates a Baker.
func NewBaker(engine container.Engine, opts ...BakeOption) *Baker {
	b := &Baker{engine: engine, output: io.Discard}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bake returns the image for f. A fleet without packages runs its image
// unchanged.
func (b *Baker) Bake(ctx context.Context, f *fleet.Fleet) (BakeResult, error) {
	base := container.ImageTag(f.Image)
	if len(f.Packages) == 0 {
		return BakeResult{Image: base}, nil
	}

	dockerfile, err := Dockerfile(f)
	if err != nil {
		return BakeResult{}, err
	}

	tag := BakedTag(b.cacheKey(ctx, base, dockerfile))
	if !b.force {
		if exists, _ := b.engine.ImageExists(ctx, tag); exists { //nolint:errcheck // an inspect error means "build it"
			return BakeResult{Image: tag}, nil
		}
	}

	buildCtx, err := os.MkdirTemp("", "nodefleet-bake-*")
	if err != nil {
		return BakeResult{}, fmt.Errorf("create build context: %w", err)
	}
	defer os.RemoveAll(buildCtx) //nolint:errcheck // temp dir cleanup

	if err := os.WriteFile(filepath.Join(buildCtx, "Dockerfile"), []byte(dockerfile), 0o644); err != nil {
		return BakeResult{}, fmt.Errorf("write Dockerfile: %w", err)
	}

	err = b.engine.Build(ctx, container.BuildOptions{
		ContextDir: buildCtx,
		Dockerfile: "Dockerfile",
		Tag:        tag,
		Labels:     map[string]string{LabelFleet: f.DisplayName()},
		Stdout:     b.output,
		Stderr:     b.output,
	})
	if err != nil {
		return BakeResult{}, err
	}
	return BakeResult{Image: tag, Built: true}, nil
}

// BakedTag returns the tag for a cache key.
func BakedTag(key string) container.ImageTag {
	return container.ImageTag(BakedRepository + ":" + key[:12])
}

// cacheKey hashes the base image ID, falling back to its name when the
// image is not local yet, together with the generated Dockerfile.
func (b *Baker) cacheKey(ctx context.Context, base container.ImageTag, dockerfile string) string {
	imageID, err := b.engine.ImageID(ctx, base)
	if err != nil || imageID == "" {
		imageID = string(base)
	}

	h := sha256.New()
	h.Write([]byte("image:" + imageID + "\n"))
	h.Write([]byte(dockerfile))
	return hex.EncodeToString(h.Sum(nil))
}

// Dockerfile renders the build file that installs the fleet packages with
// the same commands a deployment uses.
func Dockerfile(f *fleet.Fleet) (string, error) {
	update, err := deploy.UpdateScript(f.PackageManager)
	if err != nil {
		return "", err
	}

	steps := []string{update}
	for _, spec := range f.Packages {
		script, err := deploy.InstallScript(f.PackageManager, spec)
		if err != nil {
			return "", err
		}
		steps = append(steps, script)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "FROM %s\n\n", f.Image)
	sb.WriteString("# nodefleet baked image: fleet packages preinstalled\n")
	fmt.Fprintf(&sb, "RUN %s\n", strings.Join(steps, " \\\n && "))
	if f.InstallDir != "" {
		dir, err := syntax.Quote(f.InstallDir, syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("install dir %q: %w", f.InstallDir, err)
		}
		fmt.Fprintf(&sb, "RUN mkdir -p %s\n", dir)
	}
	return sb.String(), nil
}
