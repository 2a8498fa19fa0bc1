// SPDX-License-Identifier: MPL-2.0

// Package watch re-runs a deployment when the files it depends on change.
//
// A Watcher monitors a directory tree for paths matching glob patterns and
// invokes a callback after a quiet period. Events inside the debounce window
// are coalesced so the callback fires once with every changed path.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

type (
	// Watcher fires a debounced callback when matching files under a
	// directory change. Run must be called exactly once.
	Watcher struct {
		cfg     Config
		fsw     *fsnotify.Watcher
		root    string
		ignores []string
		logger  *log.Logger
		started atomic.Bool
	}

	// batch collects changed paths until the debounce timer fires. At most
	// one callback runs at a time; a flush that finds one running re-arms
	// the timer instead. After stop no callback starts, and stop returns
	// only once the running one has.
	batch struct {
		mu       sync.Mutex
		paths    map[string]struct{}
		timer    *time.Timer
		delay    time.Duration
		stopped  bool
		busy     atomic.Bool
		inflight sync.WaitGroup
		flushFn  func(changed []string)
		onQueued func()
	}
)

// New validates cfg, resolves BaseDir and registers every directory under it
// that is not ignored.
func New(cfg Config) (*Watcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	root, err := resolveRoot(cfg.BaseDir)
	if err != nil {
		return nil, err
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:     cfg,
		fsw:     fsw,
		root:    root,
		ignores: slices.Concat(defaultIgnores, cfg.Ignore),
		logger:  logger,
	}
	if err := filepath.WalkDir(root, w.register); err != nil {
		_ = fsw.Close() //nolint:errcheck // the walk error is what matters
		return nil, fmt.Errorf("watch: walk directory tree: %w", err)
	}
	return w, nil
}

func resolveRoot(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("watch: determine working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("watch: resolve base directory: %w", err)
	}
	return abs, nil
}

// Run blocks until ctx is cancelled, dispatching debounced callbacks. It
// returns nil on cancellation and a *BrokenError when the OS watch breaks.
// A callback in progress is waited for before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watch: Run called more than once")
	}

	b := &batch{
		paths: make(map[string]struct{}),
		delay: w.cfg.Debounce,
		flushFn: func(changed []string) {
			if ctx.Err() != nil {
				return
			}
			w.logger.Debug("files changed", "paths", changed)
			if w.cfg.OnChange == nil {
				return
			}
			if err := w.cfg.OnChange(ctx, changed); err != nil {
				w.logger.Error("re-run failed", "err", err)
			}
		},
		onQueued: func() {
			w.logger.Info("change detected while a deployment is running; queued")
		},
	}
	defer func() {
		b.stop()
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("close watcher", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: fsnotify event channel closed unexpectedly")
			}
			if rel, ok := w.relevant(evt); ok {
				b.add(rel)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: fsnotify error channel closed unexpectedly")
			}
			if resourcesExhausted(err) {
				return &BrokenError{Cause: err}
			}
			w.logger.Warn("fsnotify error", "err", err)
		}
	}
}

// relevant extends the watch to new directories and reports the event path
// relative to the root when it should trigger a callback.
func (w *Watcher) relevant(evt fsnotify.Event) (string, bool) {
	if evt.Has(fsnotify.Create) {
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			w.addDir(evt.Name)
		}
	}

	rel, err := filepath.Rel(w.root, evt.Name)
	if err != nil {
		rel = evt.Name
	}
	rel = filepath.ToSlash(rel)
	if matchAny(w.ignores, rel) || !w.matchesPatterns(rel) {
		return "", false
	}
	return rel, true
}

// register is the WalkDir callback of New. Unreadable subtrees are skipped.
func (w *Watcher) register(path string, d fs.DirEntry, err error) error {
	if err != nil {
		w.logger.Warn("skipping inaccessible path", "path", path, "err", err)
		return nil //nolint:nilerr // keep walking
	}
	if !d.IsDir() {
		return nil
	}
	if w.dirIgnored(path) {
		return filepath.SkipDir
	}
	if err := w.fsw.Add(path); err != nil {
		return fmt.Errorf("watch: add directory %q: %w", path, err)
	}
	return nil
}

func (w *Watcher) addDir(path string) {
	if w.dirIgnored(path) {
		return
	}
	if err := w.fsw.Add(path); err != nil {
		w.logger.Warn("watch new directory", "path", path, "err", err)
	}
}

func (w *Watcher) dirIgnored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return true
	}
	return matchAny(w.ignores, rel) || matchAny(w.ignores, rel+"/")
}

// matchesPatterns reports whether rel matches a watch pattern; no patterns
// match everything.
func (w *Watcher) matchesPatterns(rel string) bool {
	return len(w.cfg.Patterns) == 0 || matchAny(w.cfg.Patterns, rel)
}

func (b *batch) add(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paths[path] = struct{}{}
	b.arm()
}

// arm starts or restarts the debounce timer. b.mu must be held.
func (b *batch) arm() {
	if b.timer == nil {
		b.timer = time.AfterFunc(b.delay, b.flush)
		return
	}
	b.timer.Reset(b.delay)
}

func (b *batch) flush() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	if !b.busy.CompareAndSwap(false, true) {
		b.arm()
		b.mu.Unlock()
		b.onQueued()
		return
	}
	b.inflight.Add(1)
	changed := slices.Sorted(maps.Keys(b.paths))
	clear(b.paths)
	b.mu.Unlock()

	defer b.inflight.Done()
	defer b.busy.Store(false)
	if len(changed) > 0 {
		b.flushFn(changed)
	}
}

// stop cancels the pending flush and waits for a running callback.
func (b *batch) stop() {
	b.mu.Lock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()
	b.inflight.Wait()
}
