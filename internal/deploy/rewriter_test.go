// SPDX-License-Identifier: MPL-2.0

package deploy

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/invowk/nodefleet/internal/backend/backendtest"
	"github.com/invowk/nodefleet/internal/fleet"
)

func TestApplyBindings(t *testing.T) {
	t.Parallel()

	bind := func(pairs ...string) []fleet.AddressBinding {
		var out []fleet.AddressBinding
		for i := 0; i+1 < len(pairs); i += 2 {
			out = append(out, fleet.AddressBinding{Placeholder: pairs[i], Resolved: pairs[i+1]})
		}
		return out
	}

	tests := []struct {
		name      string
		content   string
		bindings  []fleet.AddressBinding
		want      string
		wantCount int
	}{
		{
			name:      "every occurrence",
			content:   "a=1.1.1.1 b=1.1.1.1 c=1.1.1.1",
			bindings:  bind("1.1.1.1", "2.2.2.2"),
			want:      "a=2.2.2.2 b=2.2.2.2 c=2.2.2.2",
			wantCount: 1,
		},
		{
			name:      "absent placeholder is a no-op",
			content:   "host = 'alias.local'",
			bindings:  bind("1.1.1.1", "2.2.2.2"),
			want:      "host = 'alias.local'",
			wantCount: 0,
		},
		{
			name:      "chained in declaration order",
			content:   "x=1.1.1.1",
			bindings:  bind("1.1.1.1", "2.2.2.2", "2.2.2.2", "3.3.3.3"),
			want:      "x=3.3.3.3",
			wantCount: 2,
		},
		{
			name:      "reverse order does not chain",
			content:   "x=1.1.1.1",
			bindings:  bind("2.2.2.2", "3.3.3.3", "1.1.1.1", "2.2.2.2"),
			want:      "x=2.2.2.2",
			wantCount: 1,
		},
		{
			name:      "independent bindings",
			content:   "h='1.1.1.1' g='1.1.1.2'",
			bindings:  bind("1.1.1.1", "2.2.2.2", "1.1.1.2", "alias.local"),
			want:      "h='2.2.2.2' g='alias.local'",
			wantCount: 2,
		},
		{
			name:      "empty placeholder ignored",
			content:   "abc",
			bindings:  bind("", "x"),
			want:      "abc",
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, n := ApplyBindings(tt.content, tt.bindings)
			if got != tt.want || n != tt.wantCount {
				t.Errorf("ApplyBindings() = %q, %d; want %q, %d", got, n, tt.want, tt.wantCount)
			}
		})
	}
}

func TestApplyBindings_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 7} {
		content := strings.Repeat("peer 10.0.0.1;\n", n)
		got, _ := ApplyBindings(content, []fleet.AddressBinding{{Placeholder: "10.0.0.1", Resolved: "node-1.local"}})
		if c := strings.Count(got, "node-1.local"); c != n {
			t.Errorf("n=%d: %d occurrences of resolved value", n, c)
		}
		if strings.Contains(got, "10.0.0.1") {
			t.Errorf("n=%d: placeholder left in %q", n, got)
		}
	}
}

func TestRewriter_Rewrite(t *testing.T) {
	t.Parallel()

	fake := backendtest.New()
	fake.SetFile("h", "/app/handler.py", handlerSource)
	fake.SetFile("h", "/app/node.py", nodeSource)

	rules := []fleet.ResolvedRule{
		{Artifact: "handler", RemotePath: "/app/handler.py", Bindings: []fleet.AddressBinding{{Placeholder: "1.1.1.1", Resolved: "2.2.2.2"}}},
		{Artifact: "node", RemotePath: "/app/node.py", Bindings: []fleet.AddressBinding{{Placeholder: "9.9.9.9", Resolved: "x"}}},
		{Artifact: "handler", RemotePath: "/app/handler.py", Bindings: []fleet.AddressBinding{{Placeholder: "2.2.2.2", Resolved: "3.3.3.3"}, {Placeholder: "1.1.1.2", Resolved: "alias.local"}}},
	}

	got, err := NewRewriter(fake).Rewrite(t.Context(), "h", rules)
	if err != nil {
		t.Fatalf("Rewrite() error = %v", err)
	}
	want := []Rewritten{{Artifact: "handler", Count: 3}, {Artifact: "node", Count: 0}}
	if !slices.Equal(got, want) {
		t.Errorf("Rewrite() = %v, want %v", got, want)
	}

	content, _ := fake.File("h", "/app/handler.py")
	if content != "HANDLER_HOST = '3.3.3.3'\nGUI_HOST = 'alias.local'\n" {
		t.Errorf("handler.py = %q", content)
	}

	var reads, writes []string
	for _, c := range fake.Calls("h") {
		switch c.Op {
		case "read":
			reads = append(reads, c.Arg)
		case "write":
			writes = append(writes, c.Arg)
		}
	}
	if !slices.Equal(reads, []string{"/app/handler.py", "/app/node.py"}) {
		t.Errorf("reads = %v, want one per file", reads)
	}
	if !slices.Equal(writes, []string{"/app/handler.py"}) {
		t.Errorf("writes = %v, want only the changed file", writes)
	}
}

func TestRewriter_Rewrite_Idempotent(t *testing.T) {
	t.Parallel()

	fake := backendtest.New()
	fake.SetFile("h", "/app/handler.py", handlerSource)
	rules := []fleet.ResolvedRule{{
		Artifact:   "handler",
		RemotePath: "/app/handler.py",
		Bindings:   []fleet.AddressBinding{{Placeholder: "1.1.1.1", Resolved: "2.2.2.2"}},
	}}

	rw := NewRewriter(fake)
	if _, err := rw.Rewrite(t.Context(), "h", rules); err != nil {
		t.Fatal(err)
	}
	first, _ := fake.File("h", "/app/handler.py")

	got, err := rw.Rewrite(t.Context(), "h", rules)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Count != 0 {
		t.Errorf("second run count = %d, want 0", got[0].Count)
	}
	if second, _ := fake.File("h", "/app/handler.py"); second != first {
		t.Errorf("second run changed the file: %q", second)
	}
}

func TestRewriter_Rewrite_Failures(t *testing.T) {
	t.Parallel()

	rules := []fleet.ResolvedRule{{
		Artifact:   "handler",
		RemotePath: "/app/handler.py",
		Bindings:   []fleet.AddressBinding{{Placeholder: "1.1.1.1", Resolved: "2.2.2.2"}},
	}}

	tests := []struct {
		name  string
		setup func(*backendtest.Fake)
		want  ErrorKind
	}{
		{
			name:  "file absent",
			setup: func(*backendtest.Fake) {},
			want:  ArtifactNotFoundOnTarget,
		},
		{
			name: "write failure",
			setup: func(f *backendtest.Fake) {
				f.SetFile("h", "/app/handler.py", handlerSource)
				f.FailWrite["h"] = "/app/handler.py"
			},
			want: RewriteIOFailure,
		},
		{
			name:  "unreachable",
			setup: func(f *backendtest.Fake) { f.Unreachable["h"] = true },
			want:  EnvironmentUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fake := backendtest.New()
			tt.setup(fake)

			_, err := NewRewriter(fake).Rewrite(t.Context(), "h", rules)
			var de *Error
			if !errors.As(err, &de) {
				t.Fatalf("Rewrite() error = %v, want *Error", err)
			}
			if de.Kind != tt.want || de.Artifact != "handler" || de.Step != StepRewrite {
				t.Errorf("error = %+v, want kind %s", de, tt.want)
			}
		})
	}
}
