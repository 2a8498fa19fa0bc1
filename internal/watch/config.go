// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"

	"github.com/invowk/nodefleet/internal/fleet"
)

const defaultDebounce = 500 * time.Millisecond

// ErrInvalidWatchConfig is returned when a Config fails validation.
var ErrInvalidWatchConfig = errors.New("invalid watch config")

// Version control metadata and editor scratch files. These are skipped even
// when a watch pattern matches them.
var defaultIgnores = []string{
	"**/.git/**",
	"**/.#*",
	"**/*.swp",
	"**/*.swo",
	"**/*~",
	"**/.DS_Store",
}

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// Patterns are doublestar globs relative to BaseDir. None means
		// every file that is not ignored.
		Patterns []string
		// Ignore adds to the default ignores.
		Ignore []string
		// Debounce is the quiet period before OnChange fires; 500ms when unset.
		Debounce time.Duration
		// BaseDir defaults to the working directory.
		BaseDir string
		// OnChange receives the sorted changed paths, relative to BaseDir.
		OnChange func(ctx context.Context, changed []string) error
		Logger   *log.Logger
	}

	// InvalidWatchConfigError lists every problem found in a Config.
	InvalidWatchConfigError struct {
		FieldErrors []error
	}
)

func (e *InvalidWatchConfigError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "invalid watch config (%d errors)", len(e.FieldErrors))
	for i, fe := range e.FieldErrors {
		if i == 0 {
			sb.WriteString(": ")
		} else {
			sb.WriteString("; ")
		}
		sb.WriteString(fe.Error())
	}
	return sb.String()
}

func (e *InvalidWatchConfigError) Unwrap() error { return ErrInvalidWatchConfig }

// Validate checks patterns and BaseDir. The zero Config is valid.
func (c Config) Validate() error {
	errs := slices.Concat(checkGlobs("watch", c.Patterns), checkGlobs("ignore", c.Ignore))
	if c.BaseDir != "" && strings.TrimSpace(c.BaseDir) == "" {
		errs = append(errs, errors.New("base directory is blank"))
	}
	if len(errs) == 0 {
		return nil
	}
	return &InvalidWatchConfigError{FieldErrors: errs}
}

// ForFleet builds a Config that watches the fleet file and every local
// artifact source. Sources outside the fleet directory cannot be matched by
// a relative pattern; they are returned as unwatched.
func ForFleet(f *fleet.Fleet) (cfg Config, unwatched []string) {
	cfg.BaseDir = f.Dir
	add := func(pattern string) {
		if !slices.Contains(cfg.Patterns, pattern) {
			cfg.Patterns = append(cfg.Patterns, pattern)
		}
	}
	if f.FilePath != "" {
		add(filepath.ToSlash(filepath.Base(f.FilePath)))
	}
	for _, a := range f.Artifacts {
		src := f.SourcePath(a)
		rel, ok := inside(f.Dir, src)
		if !ok {
			unwatched = append(unwatched, src)
			continue
		}
		add(literalGlob(rel))
	}
	return cfg, unwatched
}

// DefaultIgnores returns a copy of the built-in ignore patterns.
func DefaultIgnores() []string {
	return slices.Clone(defaultIgnores)
}

func isIgnoredByDefaults(rel string) bool {
	return matchAny(defaultIgnores, rel)
}

// inside returns path relative to dir in slash form, or false when path
// leaves dir.
func inside(dir, path string) (string, bool) {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func matchAny(patterns []string, rel string) bool {
	rel = filepath.ToSlash(rel)
	return slices.ContainsFunc(patterns, func(p string) bool {
		ok, err := doublestar.Match(p, rel)
		return err == nil && ok
	})
}

func checkGlobs(kind string, patterns []string) []error {
	var errs []error
	for i, p := range patterns {
		switch {
		case strings.TrimSpace(p) == "":
			errs = append(errs, fmt.Errorf("%s pattern %d is empty", kind, i))
		case !doublestar.ValidatePattern(p):
			errs = append(errs, fmt.Errorf("invalid %s pattern %q: %w", kind, p, doublestar.ErrBadPattern))
		}
	}
	return errs
}

// literalGlob escapes glob metacharacters so the pattern matches p only.
func literalGlob(p string) string {
	var b strings.Builder
	for _, r := range p {
		if strings.ContainsRune(`*?[]{}\`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
