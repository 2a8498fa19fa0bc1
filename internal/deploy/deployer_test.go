// SPDX-License-Identifier: MPL-2.0

package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/invowk/nodefleet/internal/backend"
	"github.com/invowk/nodefleet/internal/backend/backendtest"
	"github.com/invowk/nodefleet/internal/fleet"
	"github.com/invowk/nodefleet/internal/issue"
)

func TestDeployer_Deploy_HandlerNodeScenario(t *testing.T) {
	t.Parallel()

	fake := backendtest.New()
	results, err := newTestDeployer(fake).Deploy(t.Context(), scenarioFleet(t))
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}

	want := []Result{
		{Name: "h", Role: fleet.RoleHandler, Installed: true, Copied: []string{"handler", "base"},
			Rewritten: []Rewritten{{Artifact: "handler", Count: 2}, {Artifact: "base", Count: 1}}},
		{Name: "n1", Role: fleet.RoleNode, Installed: true, Copied: []string{"node", "base"},
			Rewritten: []Rewritten{{Artifact: "base", Count: 1}}},
		{Name: "n2", Role: fleet.RoleNode, Installed: true, Copied: []string{"node", "base"},
			Rewritten: []Rewritten{{Artifact: "base", Count: 1}}},
	}
	assertResults(t, results, want)

	files := []struct {
		env, path, want string
	}{
		{"h", "/app/handler.py", "HANDLER_HOST = '2.2.2.2'\nGUI_HOST = 'alias.local'\n"},
		{"h", "/app/node_base.py", "HANDLER = ('2.2.2.2', 5566)\n"},
		{"n1", "/app/node.py", nodeSource},
		{"n1", "/app/node_base.py", "HANDLER = ('2.2.2.2', 5566)\n"},
		{"n2", "/app/node_base.py", "HANDLER = ('2.2.2.2', 5566)\n"},
	}
	for _, f := range files {
		if got, _ := fake.File(f.env, f.path); got != f.want {
			t.Errorf("%s:%s = %q, want %q", f.env, f.path, got, f.want)
		}
	}
	if _, ok := fake.File("n1", "/app/handler.py"); ok {
		t.Error("node received the handler artifact")
	}
}

func TestDeployer_Deploy_Idempotent(t *testing.T) {
	t.Parallel()

	fake := backendtest.New()
	f := scenarioFleet(t)
	d := newTestDeployer(fake)

	first, err := d.Deploy(t.Context(), f)
	if err != nil {
		t.Fatal(err)
	}
	snapshot, _ := fake.File("h", "/app/handler.py")

	second, err := d.Deploy(t.Context(), f)
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range second {
		if !r.Installed {
			t.Errorf("%s: installed = false", r.Name)
		}
		if !slices.Equal(r.Copied, first[i].Copied) {
			t.Errorf("%s: copied = %v, want %v", r.Name, r.Copied, first[i].Copied)
		}
		for _, rw := range r.Rewritten {
			if rw.Count != 0 {
				t.Errorf("%s: %s rewritten %d times on the second run", r.Name, rw.Artifact, rw.Count)
			}
		}
	}
	if got, _ := fake.File("h", "/app/handler.py"); got != snapshot {
		t.Errorf("second run changed handler.py: %q", got)
	}
}

func TestDeployer_Deploy_SourceChangeIsRedeployed(t *testing.T) {
	t.Parallel()

	fake := backendtest.New()
	f := scenarioFleet(t)
	d := newTestDeployer(fake)

	if _, err := d.Deploy(t.Context(), f); err != nil {
		t.Fatal(err)
	}
	writeSource(t, f.Dir, "handler.py", "HANDLER_HOST = '1.1.1.1'\nGUI_HOST = '1.1.1.2'\nDEBUG = True\n")

	results, err := d.Deploy(t.Context(), f)
	if err != nil {
		t.Fatal(err)
	}
	if got := results[0].RewrittenCount("handler"); got != 2 {
		t.Errorf("handler count = %d, want 2", got)
	}
	if got := results[0].RewrittenCount("base"); got != 0 {
		t.Errorf("base count = %d, want 0", got)
	}
	if got, _ := fake.File("h", "/app/handler.py"); !strings.Contains(got, "DEBUG = True") || strings.Contains(got, "1.1.1.1") {
		t.Errorf("handler.py = %q", got)
	}
}

func TestDeployer_Deploy_FailFastPerEnvironment(t *testing.T) {
	t.Parallel()

	fake := backendtest.New()
	fake.FailCopy["n1"] = "/app/node.py"

	results, err := newTestDeployer(fake).Deploy(t.Context(), scenarioFleet(t))
	if err != nil {
		t.Fatal(err)
	}

	n1 := results[1]
	if n1.Error == nil || n1.Error.Kind != CopyFailed || n1.Error.Artifact != "node" {
		t.Fatalf("n1 error = %+v, want CopyFailed on node", n1.Error)
	}
	if !errors.Is(n1.Err, ErrCopyFailed) {
		t.Errorf("n1 Err = %v", n1.Err)
	}
	if len(n1.Copied) != 0 || len(n1.Rewritten) != 0 {
		t.Errorf("n1 = %+v, want nothing copied or rewritten", n1)
	}
	if n := readOps(fake, "n1", "/app/node_base.py") + readOps(fake, "n1", "/app/node.py"); n != 0 {
		t.Errorf("rewriter invoked on n1 after a distribution failure (%d reads)", n)
	}
	for _, r := range []Result{results[0], results[2]} {
		if r.Failed() {
			t.Errorf("%s failed: %v", r.Name, r.Err)
		}
	}
}

func TestDeployer_Deploy_CrossEnvironmentIsolation(t *testing.T) {
	t.Parallel()

	baseline, err := newTestDeployer(backendtest.New()).Deploy(t.Context(), scenarioFleet(t))
	if err != nil {
		t.Fatal(err)
	}

	fake := backendtest.New()
	fake.Unreachable["n2"] = true
	results, err := newTestDeployer(fake, WithInstallAttempts(1)).Deploy(t.Context(), scenarioFleet(t))
	if err != nil {
		t.Fatal(err)
	}

	if kind := results[2].Error; kind == nil || kind.Kind != EnvironmentUnreachable {
		t.Fatalf("n2 error = %+v, want EnvironmentUnreachable", results[2].Error)
	}
	if results[2].Installed {
		t.Error("n2 installed = true")
	}
	assertResults(t, results[:2], baseline[:2])
}

func TestDeployer_Deploy_InstallFailureStopsEnvironment(t *testing.T) {
	t.Parallel()

	fake := backendtest.New()
	fake.Exec = func(env string, argv []string) (backend.ExecResult, error) {
		if env == "h" && strings.Contains(argv[len(argv)-1], "python3-pip") {
			return backend.ExecResult{ExitCode: 100, Stderr: "E: Package 'python3-pip' has no installation candidate"}, nil
		}
		return backend.ExecResult{}, nil
	}

	results, err := newTestDeployer(fake).Deploy(t.Context(), scenarioFleet(t))
	if err != nil {
		t.Fatal(err)
	}
	h := results[0]
	if h.Error == nil || h.Error.Kind != PackageInstallFailed || h.Error.Package != "python3 python3-pip" {
		t.Fatalf("h error = %+v", h.Error)
	}
	if h.Installed || len(h.Copied) != 0 {
		t.Errorf("h = %+v, want nothing installed or copied", h)
	}
	if slices.Contains(fake.Ops("h"), "copy") {
		t.Error("artifacts copied after the install failure")
	}
	if results[1].Failed() || results[2].Failed() {
		t.Error("node environments failed")
	}
}

func TestDeployer_Deploy_ConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*fleet.Fleet)
		is     error
	}{
		{
			name:   "missing artifact source",
			mutate: func(f *fleet.Fleet) { os.Remove(filepath.Join(f.Dir, "node_base.py")) },
			is:     ErrArtifactMissing,
		},
		{
			name:   "role without artifacts",
			mutate: func(f *fleet.Fleet) { delete(f.Roles, fleet.RoleNode) },
			is:     fleet.ErrRoleWithoutArtifacts,
		},
		{
			name: "rule artifact not in role",
			mutate: func(f *fleet.Fleet) {
				f.Rewrites = append(f.Rewrites, fleet.RewriteRule{
					Scope: fleet.ScopeNode, Artifact: "handler",
					Bindings: []fleet.AddressBinding{{Placeholder: "1.1.1.1", Resolved: "x"}},
				})
			},
			is: fleet.ErrRuleArtifactNotInRole,
		},
		{
			name: "self-containing binding",
			mutate: func(f *fleet.Fleet) {
				f.Rewrites[1].Bindings[0].Resolved = "1.1.1.1.nip.io"
			},
			is: fleet.ErrSelfContainingBinding,
		},
		{
			name: "duplicate environment",
			mutate: func(f *fleet.Fleet) {
				f.Environments = append(f.Environments, fleet.Environment{Name: "n1", Role: fleet.RoleNode})
			},
			is: fleet.ErrDuplicateEnvironment,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := scenarioFleet(t)
			tt.mutate(f)
			fake := backendtest.New()

			results, err := newTestDeployer(fake).Deploy(t.Context(), f)
			if err == nil {
				t.Fatal("Deploy() error = nil")
			}
			if results != nil {
				t.Errorf("results = %v, want nil", results)
			}
			if !errors.Is(err, tt.is) || !errors.Is(err, fleet.ErrInvalidFleet) {
				t.Errorf("error %v does not wrap %v and ErrInvalidFleet", err, tt.is)
			}
			var ae *issue.ActionableError
			if !errors.As(err, &ae) || !ae.HasSuggestions() {
				t.Errorf("error %v is not actionable", err)
			}
			if calls := fake.Calls(""); len(calls) != 0 {
				t.Errorf("backend called %d times before validation passed", len(calls))
			}
		})
	}
}

func TestDeployer_Deploy_CancelledBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	fake := backendtest.New()
	results, err := newTestDeployer(fake).Deploy(ctx, scenarioFleet(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for _, r := range results {
		if r.Error == nil || r.Error.Kind != Cancelled {
			t.Errorf("%s error = %+v, want Cancelled", r.Name, r.Error)
		}
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("%s Err = %v", r.Name, r.Err)
		}
	}
	if len(fake.Calls("")) != 0 {
		t.Error("backend called after cancellation")
	}
}

func TestDeployer_Deploy_CancelledBetweenSteps(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	fake := backendtest.New()
	fake.OnCall = func(c backendtest.Call) {
		if c.Env == "h" && c.Op == "mkdir" {
			cancel()
		}
	}

	results, err := newTestDeployer(fake, WithParallelism(1)).Deploy(ctx, scenarioFleet(t))
	if err != nil {
		t.Fatal(err)
	}

	h := results[0]
	if h.Error == nil || h.Error.Kind != Cancelled || h.Error.Step != StepInstall {
		t.Errorf("h error = %+v, want Cancelled before install", h.Error)
	}
	if ops := fake.Ops("h"); !slices.Equal(ops, []string{"mkdir"}) {
		t.Errorf("h ops = %v, want the in-flight step only", ops)
	}
	for _, r := range results[1:] {
		if r.Error == nil || r.Error.Kind != Cancelled {
			t.Errorf("%s error = %+v, want Cancelled", r.Name, r.Error)
		}
		if len(fake.Calls(r.Name)) != 0 {
			t.Errorf("%s started after cancellation", r.Name)
		}
	}
}

func TestDeployer_Deploy_ParallelismBound(t *testing.T) {
	t.Parallel()

	f := scenarioFleet(t)
	f.Environments = nil
	for i := range 6 {
		f.Environments = append(f.Environments, fleet.Environment{Name: fmt.Sprintf("n%d", i), Role: fleet.RoleNode})
	}
	f.Roles = fleet.RoleArtifactMap{fleet.RoleNode: {"node", "base"}}
	f.Rewrites = f.Rewrites[1:]

	fake := backendtest.New()
	fake.Delay = 2 * time.Millisecond

	results, err := newTestDeployer(fake, WithParallelism(2)).Deploy(t.Context(), f)
	if err != nil {
		t.Fatal(err)
	}
	if peak := fake.PeakInFlight(); peak > 2 {
		t.Errorf("peak concurrent calls = %d, want <= 2", peak)
	}
	for i, r := range results {
		if r.Name != fmt.Sprintf("n%d", i) || r.Failed() {
			t.Errorf("results[%d] = %s failed=%v", i, r.Name, r.Failed())
		}
	}
}

func TestDeployer_Deploy_ResultOrderIndependentOfCompletion(t *testing.T) {
	t.Parallel()

	fake := backendtest.New()
	var once sync.Once
	release := make(chan struct{})
	fake.OnCall = func(c backendtest.Call) {
		if c.Env == "h" {
			<-release
			return
		}
		if c.Env == "n2" && c.Op == "write" {
			once.Do(func() { close(release) })
		}
	}

	results, err := newTestDeployer(fake).Deploy(t.Context(), scenarioFleet(t))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, r := range results {
		names = append(names, r.Name)
	}
	if !slices.Equal(names, []string{"h", "n1", "n2"}) {
		t.Errorf("result order = %v", names)
	}
}

func TestDeployer_Deploy_SelfAddress(t *testing.T) {
	t.Parallel()

	f := scenarioFleet(t)
	writeSource(t, f.Dir, "handler.py", "LISTEN = ('0.0.0.0', 5566)\n")
	f.Rewrites[0].Bindings = []fleet.AddressBinding{{Placeholder: "0.0.0.0", Resolved: fleet.SelfAddress}}

	fake := backendtest.New()
	if _, err := newTestDeployer(fake).Deploy(t.Context(), f); err != nil {
		t.Fatal(err)
	}
	if got, _ := fake.File("h", "/app/handler.py"); got != "LISTEN = ('192.168.1.1', 5566)\n" {
		t.Errorf("handler.py = %q", got)
	}
}

func TestDeployer_Deploy_BindingModes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mode         fleet.BindingMode
		wantRewrite  bool
		wantInjected bool
	}{
		{fleet.BindingModeLiteral, true, false},
		{fleet.BindingModeStructured, false, true},
		{fleet.BindingModeBoth, true, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			t.Parallel()

			f := scenarioFleet(t)
			f.BindingMode = tt.mode
			fake := backendtest.New()

			results, err := newTestDeployer(fake).Deploy(t.Context(), f)
			if err != nil {
				t.Fatal(err)
			}
			h := results[0]
			if h.Failed() {
				t.Fatalf("h failed: %v", h.Err)
			}
			if got := h.RewrittenCount("handler") > 0; got != tt.wantRewrite {
				t.Errorf("rewritten = %v, want %v", got, tt.wantRewrite)
			}
			if h.Injected != tt.wantInjected {
				t.Errorf("injected = %v, want %v", h.Injected, tt.wantInjected)
			}

			data, ok := fake.File("h", "/app/nodefleet.toml")
			if ok != tt.wantInjected {
				t.Fatalf("config present = %v, want %v", ok, tt.wantInjected)
			}
			if !ok {
				return
			}
			cfg, err := ParseEndpointConfig([]byte(data))
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Environment != "h" || len(cfg.Artifacts) != 2 || cfg.Artifacts[0].Bindings[1].Resolved != "alias.local" {
				t.Errorf("config = %+v", cfg)
			}
		})
	}
}

func TestPreflight_Nil(t *testing.T) {
	t.Parallel()

	if err := Preflight(nil); !errors.Is(err, fleet.ErrInvalidFleet) {
		t.Errorf("Preflight(nil) = %v", err)
	}
}

func assertResults(t *testing.T, got, want []Result) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("got %d results, want %d", len(got), len(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.Name != w.Name || g.Role != w.Role || g.Installed != w.Installed || g.Failed() != w.Failed() {
			t.Errorf("results[%d] = %+v, want %+v", i, g, w)
		}
		if !slices.Equal(g.Copied, w.Copied) {
			t.Errorf("%s copied = %v, want %v", w.Name, g.Copied, w.Copied)
		}
		if !slices.Equal(g.Rewritten, w.Rewritten) {
			t.Errorf("%s rewritten = %v, want %v", w.Name, g.Rewritten, w.Rewritten)
		}
	}
}
