package infonav

import (
	"strings"
	"testing"
)

const markedPlan = "1. Find [book_title] that Bob likes.\n2. Find the [year] it was published."

func TestSetUnknownFromPlan(t *testing.T) {
	r := NewRegistry()
	r.SetUnknownFromPlan(markedPlan)

	unknown := r.Unknown()
	if len(unknown) != 2 || unknown[0] != "book_title" || unknown[1] != "year" {
		t.Errorf("Unknown() = %v", unknown)
	}
	if len(r.Known()) != 0 {
		t.Errorf("Known() should start empty, got %v", r.Known())
	}
}

func TestMergeResolvesSlot(t *testing.T) {
	r := NewRegistry()
	r.SetUnknownFromPlan(markedPlan)

	plan := r.Merge(markedPlan, map[string]string{"book_title": "Dune"})

	if !strings.Contains(plan, "[book_title](Solved, which is Dune)") {
		t.Errorf("plan not rewritten: %q", plan)
	}
	if r.Known()["book_title"] != "Dune" {
		t.Errorf("Known() = %v", r.Known())
	}
	for _, u := range r.Unknown() {
		if u == "book_title" {
			t.Error("resolved slot still unknown")
		}
	}
}

func TestMergeTentativeUnknownValue(t *testing.T) {
	r := NewRegistry()
	r.SetUnknownFromPlan(markedPlan)

	plan := r.Merge(markedPlan, map[string]string{"year": "still Unknown to Bob"})

	if plan != markedPlan {
		t.Errorf("plan must not be rewritten for tentative value: %q", plan)
	}
	if _, ok := r.Known()["year"]; ok {
		t.Error("tentative value must not become known")
	}
	found := false
	for _, u := range r.Unknown() {
		if u == "year" {
			found = true
		}
	}
	if !found {
		t.Error("slot with tentative value must stay unknown")
	}
}

func TestMergeIgnoresForeignKeys(t *testing.T) {
	r := NewRegistry()
	r.SetUnknownFromPlan(markedPlan)

	plan := r.Merge(markedPlan, map[string]string{"color": "blue"})
	if plan != markedPlan {
		t.Errorf("plan changed for a key absent from it: %q", plan)
	}
	if len(r.Known()) != 0 {
		t.Errorf("Known() = %v", r.Known())
	}
}

func TestMergeDisjointInvariant(t *testing.T) {
	r := NewRegistry()
	r.SetUnknownFromPlan(markedPlan)

	r.Merge(markedPlan, map[string]string{
		"book_title": "Dune",
		"year":       "unknown",
	})

	known := r.Known()
	for _, u := range r.Unknown() {
		if _, ok := known[u]; ok {
			t.Errorf("slot %q both known and unknown", u)
		}
	}
}

func TestMergeDoesNotResolveTwice(t *testing.T) {
	r := NewRegistry()
	r.SetUnknownFromPlan(markedPlan)

	plan := r.Merge(markedPlan, map[string]string{"book_title": "Dune"})
	again := r.Merge(plan, map[string]string{"book_title": "Foundation"})

	if again != plan {
		t.Errorf("resolved slot rewritten again: %q", again)
	}
	if r.Known()["book_title"] != "Dune" {
		t.Errorf("first resolution overwritten: %v", r.Known())
	}
}

func TestRenderDeterministic(t *testing.T) {
	r := NewRegistry()
	r.SetUnknownFromPlan("[b] [a] [c]")
	r.Merge("[b] [a] [c]", map[string]string{"b": "2", "a": "1"})

	wantKnown := "known fact: a --> 1\nknown fact: b --> 2\n"
	if got := r.RenderKnown(); got != wantKnown {
		t.Errorf("RenderKnown() = %q, want %q", got, wantKnown)
	}
	wantUnknown := "unknown fact: c\n"
	if got := r.RenderUnknown(); got != wantUnknown {
		t.Errorf("RenderUnknown() = %q, want %q", got, wantUnknown)
	}
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		StatusDraft:    "draft",
		StatusMarked:   "marked",
		StatusUpdating: "updating",
	}
	for status, want := range cases {
		if status.String() != want {
			t.Errorf("%d.String() = %q, want %q", status, status.String(), want)
		}
	}
}
