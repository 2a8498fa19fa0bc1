// SPDX-License-Identifier: MPL-2.0

package deploy

import (
	"context"
	"errors"
	"strings"

	"github.com/invowk/nodefleet/internal/backend"
	"github.com/invowk/nodefleet/internal/fleet"
)

// Rewriter applies address bindings to files already in an environment.
type Rewriter struct {
	backend backend.Backend
}

// NewRewriter creates a Rewriter.
func NewRewriter(b backend.Backend) *Rewriter {
	return &Rewriter{backend: b}
}

// ApplyBindings replaces every occurrence of each placeholder, in order, so
// a later binding sees the output of the earlier ones. It returns the new
// content and the number of bindings whose placeholder occurred.
func ApplyBindings(content string, bindings []fleet.AddressBinding) (string, int) {
	applied := 0
	for _, b := range bindings {
		if b.Placeholder == "" || !strings.Contains(content, b.Placeholder) {
			continue
		}
		content = strings.ReplaceAll(content, b.Placeholder, b.Resolved)
		applied++
	}
	return content, applied
}

// Rewrite applies rules in order. Rules targeting the same artifact see each
// other's output; each artifact is read once and written back once, only if
// its content changed. The returned counts are per artifact, in order of
// first appearance; an already rewritten file reports 0.
func (r *Rewriter) Rewrite(ctx context.Context, env string, rules []fleet.ResolvedRule) ([]Rewritten, error) {
	type file struct {
		artifact string
		path     string
		original string
		content  string
		count    int
	}

	var order []*file
	files := make(map[string]*file)

	for _, rule := range rules {
		f, ok := files[rule.RemotePath]
		if !ok {
			data, err := r.backend.ReadFile(ctx, env, rule.RemotePath)
			if err != nil {
				kind := RewriteIOFailure
				if errors.Is(err, backend.ErrFileNotFound) {
					kind = ArtifactNotFoundOnTarget
				}
				e := newError(kind, env, StepRewrite, err)
				e.Artifact, e.Path = rule.Artifact, rule.RemotePath
				return nil, e
			}
			f = &file{artifact: rule.Artifact, path: rule.RemotePath, original: string(data), content: string(data)}
			files[rule.RemotePath] = f
			order = append(order, f)
		}

		var n int
		f.content, n = ApplyBindings(f.content, rule.Bindings)
		f.count += n
	}

	out := make([]Rewritten, 0, len(order))
	for _, f := range order {
		if f.content != f.original {
			if err := r.backend.WriteFile(ctx, env, f.path, []byte(f.content)); err != nil {
				e := newError(RewriteIOFailure, env, StepRewrite, err)
				e.Artifact, e.Path = f.artifact, f.path
				return out, e
			}
		}
		out = append(out, Rewritten{Artifact: f.artifact, Count: f.count})
	}
	return out, nil
}
