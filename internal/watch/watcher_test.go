// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/invowk/nodefleet/internal/fleet"
	"github.com/invowk/nodefleet/internal/testutil"
)

const waitTimeout = 5 * time.Second

// running is a Watcher started by startWatcher. Every OnChange batch is
// forwarded to changes.
type running struct {
	changes chan []string
	logs    *bytes.Buffer
	stop    func()
}

// startWatcher fills in a short debounce, a buffered logger and a forwarding
// OnChange unless cfg sets them, then runs the watcher until stop is called.
// stop fails the test if Run returned an error.
func startWatcher(t *testing.T, cfg Config) *running {
	t.Helper()

	r := &running{changes: make(chan []string, 16), logs: &bytes.Buffer{}}
	if cfg.Debounce == 0 {
		cfg.Debounce = 50 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(r.logs)
	}
	if cfg.OnChange == nil {
		cfg.OnChange = func(_ context.Context, changed []string) error {
			r.changes <- changed
			return nil
		}
	}

	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	var once sync.Once
	r.stop = func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-errCh:
				if err != nil {
					t.Errorf("Run() error = %v", err)
				}
			case <-time.After(waitTimeout):
				t.Error("Run() did not return after cancellation")
			}
		})
	}
	t.Cleanup(r.stop)
	return r
}

func (r *running) next(t *testing.T) []string {
	t.Helper()
	select {
	case changed := <-r.changes:
		return changed
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for OnChange")
		return nil
	}
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	testutil.MustWriteFile(t, filepath.Join(dir, filepath.FromSlash(name)), content)
}

func TestWatcher_Debounce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := startWatcher(t, Config{BaseDir: dir, Debounce: 150 * time.Millisecond})

	for _, name := range []string{"handler.py", "node.py", "node_base.py"} {
		write(t, dir, name, "X = 1\n")
		time.Sleep(10 * time.Millisecond)
	}

	changed := r.next(t)
	for _, want := range []string{"handler.py", "node.py", "node_base.py"} {
		if !slices.Contains(changed, want) {
			t.Errorf("changed = %v, missing %s", changed, want)
		}
	}
	if !slices.IsSorted(changed) {
		t.Errorf("changed = %v, want sorted", changed)
	}

	time.Sleep(300 * time.Millisecond)
	r.stop()
	if extra := len(r.changes); extra != 0 {
		t.Errorf("%d extra OnChange calls after one burst", extra)
	}
}

func TestWatcher_Filtering(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		skipped string
		matched string
	}{
		{
			name:    "user ignore",
			cfg:     Config{Ignore: []string{"**/*.log"}},
			skipped: "deploy.log",
			matched: "handler.conf",
		},
		{
			name:    "pattern",
			cfg:     Config{Patterns: []string{"**/*.conf"}},
			skipped: "notes.txt",
			matched: "conf/handler.conf",
		},
		{
			name:    "default ignore wins over pattern",
			cfg:     Config{Patterns: []string{"**"}},
			skipped: "handler.conf.swp",
			matched: "handler.conf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			if err := os.Mkdir(filepath.Join(dir, "conf"), 0o755); err != nil {
				t.Fatal(err)
			}
			tt.cfg.BaseDir = dir
			r := startWatcher(t, tt.cfg)

			write(t, dir, tt.skipped, "x")
			time.Sleep(200 * time.Millisecond)
			write(t, dir, tt.matched, "listen 1.1.1.1")

			changed := r.next(t)
			if slices.Contains(changed, tt.skipped) {
				t.Errorf("changed = %v, should not contain %s", changed, tt.skipped)
			}
			if !slices.Contains(changed, tt.matched) {
				t.Errorf("changed = %v, want %s", changed, tt.matched)
			}
		})
	}
}

func TestWatcher_NewDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := startWatcher(t, Config{BaseDir: dir, Patterns: []string{"app/*.py"}})

	if err := os.Mkdir(filepath.Join(dir, "app"), 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	write(t, dir, "app/handler.py", "HOST = '1.1.1.1'\n")

	if changed := r.next(t); !slices.Contains(changed, "app/handler.py") {
		t.Errorf("changed = %v, want app/handler.py", changed)
	}
}

func TestWatcher_Cancel(t *testing.T) {
	t.Parallel()

	r := startWatcher(t, Config{BaseDir: t.TempDir()})
	time.Sleep(50 * time.Millisecond)
	r.stop()
}

func TestWatcher_QueuesWhileBusy(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	var (
		mu    sync.Mutex
		calls int
	)
	firstDone := make(chan struct{})
	r := startWatcher(t, Config{
		BaseDir: dir,
		OnChange: func(_ context.Context, _ []string) error {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n == 1 {
				time.Sleep(300 * time.Millisecond)
				close(firstDone)
			}
			return nil
		},
	})

	write(t, dir, "first.conf", "1")
	time.Sleep(100 * time.Millisecond)
	write(t, dir, "second.conf", "2")

	select {
	case <-firstDone:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for the first deployment")
	}
	time.Sleep(300 * time.Millisecond)
	r.stop()

	mu.Lock()
	defer mu.Unlock()
	// The queued change runs once the first callback returns.
	if calls != 2 {
		t.Errorf("OnChange calls = %d, want 2", calls)
	}
	if !strings.Contains(r.logs.String(), "queued") {
		t.Errorf("log does not mention the queued change:\n%s", r.logs)
	}
}

func TestWatcher_StopWaitsForCallback(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	var (
		finished atomic.Bool
		once     sync.Once
	)
	started := make(chan struct{})
	r := startWatcher(t, Config{
		BaseDir: dir,
		OnChange: func(_ context.Context, _ []string) error {
			once.Do(func() { close(started) })
			time.Sleep(500 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	})

	write(t, dir, "handler.py", "X = 1\n")
	select {
	case <-started:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for OnChange")
	}

	r.stop()
	if !finished.Load() {
		t.Error("Run() returned while OnChange was still running")
	}
}

func TestWatcher_RunTwice(t *testing.T) {
	t.Parallel()

	w, err := New(Config{BaseDir: t.TempDir(), Logger: log.New(&bytes.Buffer{})})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	if err := w.Run(ctx); err == nil || !strings.Contains(err.Error(), "more than once") {
		t.Errorf("second Run() error = %v", err)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("first Run() error = %v", err)
	}
}

func TestNew_InvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseDir: t.TempDir(), Patterns: []string{"[invalid"}})
	if err == nil || !strings.Contains(err.Error(), "invalid watch pattern") {
		t.Errorf("New() error = %v, want invalid watch pattern", err)
	}
}

func TestDefaultIgnores(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		".git/config":            true,
		".git/objects/ab/cd1234": true,
		"app/.#handler.py":       true,
		"handler.py.swp":         true,
		"handler.py.swo":         true,
		"fleet.cue~":             true,
		"app/.DS_Store":          true,
		"handler.py":             false,
		"app/node_base.py":       false,
		".gitignore":             false,
		"fleet.cue":              false,
	}

	for path, want := range tests {
		if got := isIgnoredByDefaults(path); got != want {
			t.Errorf("isIgnoredByDefaults(%q) = %v, want %v", path, got, want)
		}
	}

	got := DefaultIgnores()
	got[0] = "mutated"
	if defaultIgnores[0] == "mutated" {
		t.Error("DefaultIgnores() returned the package slice")
	}
}

func TestForFleet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "shared.conf")

	f := &fleet.Fleet{
		FilePath: filepath.Join(dir, "fleet.cue"),
		Dir:      dir,
		Artifacts: []fleet.Artifact{
			{ID: "handler", Source: "conf/handler.conf"},
			{ID: "node", Source: "conf/node[1].conf"},
			{ID: "node-dup", Source: "conf/handler.conf"},
			{ID: "shared", Source: outside},
		},
	}

	cfg, unwatched := ForFleet(f)

	wantPatterns := []string{"fleet.cue", "conf/handler.conf", `conf/node\[1\].conf`}
	if !slices.Equal(cfg.Patterns, wantPatterns) {
		t.Errorf("Patterns = %v, want %v", cfg.Patterns, wantPatterns)
	}
	if cfg.BaseDir != dir {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, dir)
	}
	if !slices.Equal(unwatched, []string{outside}) {
		t.Errorf("unwatched = %v, want [%s]", unwatched, outside)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}

	w := &Watcher{cfg: cfg}
	if !w.matchesPatterns("conf/node[1].conf") {
		t.Error("escaped pattern should match the literal source path")
	}
	if w.matchesPatterns("conf/node1.conf") {
		t.Error("escaped pattern should not match as a character class")
	}
}

func TestWatcher_FleetSourceChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, dir, "conf/handler.conf", "listen 1.1.1.1")

	cfg, _ := ForFleet(&fleet.Fleet{
		FilePath:  filepath.Join(dir, "fleet.cue"),
		Dir:       dir,
		Artifacts: []fleet.Artifact{{ID: "handler", Source: "conf/handler.conf"}},
	})
	r := startWatcher(t, cfg)

	write(t, dir, "conf/notes.txt", "x")
	time.Sleep(200 * time.Millisecond)
	write(t, dir, "conf/handler.conf", "listen 1.1.1.2")

	if changed := r.next(t); !slices.Equal(changed, []string{"conf/handler.conf"}) {
		t.Errorf("changed = %v, want [conf/handler.conf]", changed)
	}
}
