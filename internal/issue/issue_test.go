// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"
	"testing"
)

func TestValues_CoversEveryId(t *testing.T) {
	t.Parallel()

	values := Values()
	if len(values) != int(ConfigLoadFailedId) {
		t.Fatalf("Values() returned %d entries, want %d", len(values), ConfigLoadFailedId)
	}
	for i, v := range values {
		if v.Id() != Id(i+1) {
			t.Errorf("Values()[%d].Id() = %d, want %d", i, v.Id(), i+1)
		}
		if v.Title() == "" || v.MarkdownMsg() == "" {
			t.Errorf("entry %d has empty title or body", v.Id())
		}
	}
}

func TestGet_Unknown(t *testing.T) {
	t.Parallel()

	if Get(0) != nil {
		t.Error("Get(0) should return nil")
	}
}

func TestIssue_ExtLinksIsCopy(t *testing.T) {
	t.Parallel()

	entry := Get(ContainerEngineNotFoundId)
	links := entry.ExtLinks()
	if len(links) == 0 {
		t.Fatal("expected links for ContainerEngineNotFoundId")
	}
	links[0] = "mutated"
	if entry.ExtLinks()[0] == "mutated" {
		t.Error("ExtLinks() must return a copy")
	}
}

func TestIssue_Render(t *testing.T) {
	t.Parallel()

	out, err := Get(FleetInvalidId).Render("notty")
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(out, "Invalid fleet description") {
		t.Errorf("rendered output missing title:\n%s", out)
	}
	if !strings.Contains(out, "nodefleet validate") {
		t.Errorf("rendered output missing suggestion:\n%s", out)
	}
}
