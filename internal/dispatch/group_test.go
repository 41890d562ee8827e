package dispatch

import (
	"testing"

	"github.com/mrenwl2001/playwright1/internal/fixture"
	"github.com/mrenwl2001/playwright1/internal/suite"
)

func testAt(s *suite.Suite, title, file string, reg *fixture.Registry) *suite.Test {
	t := &suite.Test{
		Title:    title,
		Location: fixture.Location{File: file, Line: 1, Column: 1},
		Registry: reg,
	}
	s.Add(t)
	return t
}

func TestBuildGroups(t *testing.T) {
	t.Parallel()

	reg := fixture.NewRegistry()
	s := suite.New()
	t1 := testAt(s, "one", "a_test.go", reg)
	t2 := testAt(s, "two", "a_test.go", reg)
	t3 := testAt(s, "three", "b_test.go", reg)

	entries := []Entry{
		{Test: t1, ProjectID: "p", WorkerHash: "h1"},
		{Test: t2, ProjectID: "p", WorkerHash: "h1"},
		{Test: t3, ProjectID: "p", WorkerHash: "h1"},
		{Test: t1, ProjectID: "q", WorkerHash: "h2"},
	}
	groups := BuildGroups(entries)
	if len(groups) != 3 {
		t.Fatalf("got %d groups, want 3", len(groups))
	}

	// First-seen key order, entry order preserved within a group.
	if groups[0].File != "a_test.go" || len(groups[0].Entries) != 2 {
		t.Errorf("groups[0] = %+v, want both a_test.go entries", groups[0])
	}
	if groups[0].Entries[0].TestID != t1.ID || groups[0].Entries[1].TestID != t2.ID {
		t.Errorf("entry order not preserved: %+v", groups[0].Entries)
	}
	if groups[1].File != "b_test.go" {
		t.Errorf("groups[1].File = %q, want b_test.go", groups[1].File)
	}
	if groups[2].ProjectID != "q" || groups[2].WorkerHash != "h2" {
		t.Errorf("groups[2] = %+v, want project q hash h2", groups[2])
	}
}

func TestEntriesFor(t *testing.T) {
	t.Parallel()

	shared, err := fixture.NewRegistry().Extend([]fixture.Input{
		workerOption("browser", "chromium"),
	})
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	s := suite.New()
	testAt(s, "one", "a_test.go", shared)
	testAt(s, "two", "a_test.go", shared)

	entries, err := EntriesFor(s, "default", map[string]any{"browser": "firefox"}, 0, 0)
	if err != nil {
		t.Fatalf("EntriesFor: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].WorkerHash != entries[1].WorkerHash {
		t.Error("tests with identical worker requirements should share a hash")
	}

	// Distinct project options change the partition.
	other, err := EntriesFor(s, "default", nil, 0, 0)
	if err != nil {
		t.Fatalf("EntriesFor: %v", err)
	}
	if other[0].WorkerHash == entries[0].WorkerHash {
		t.Error("option override should change the worker hash")
	}
}

func TestEntriesForUnknownOption(t *testing.T) {
	t.Parallel()

	s := suite.New()
	testAt(s, "one", "a_test.go", fixture.NewRegistry())
	if _, err := EntriesFor(s, "default", map[string]any{"ghost": 1}, 0, 0); err == nil {
		t.Error("expected an error for an unknown project option")
	}
}
