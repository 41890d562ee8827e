package suite

import (
	"testing"

	"github.com/mrenwl2001/playwright1/internal/fixture"
)

func TestAddAssignsOrdinalIDs(t *testing.T) {
	t.Parallel()

	s := New()
	for i := 0; i < 3; i++ {
		s.Add(&Test{Title: "t", Registry: fixture.NewRegistry()})
	}
	for i, want := range []string{"t0", "t1", "t2"} {
		if s.Tests[i].ID != want {
			t.Errorf("Tests[%d].ID = %q, want %q", i, s.Tests[i].ID, want)
		}
	}
}

func TestByID(t *testing.T) {
	t.Parallel()

	s := New()
	s.Add(&Test{Title: "first"})
	s.Add(&Test{Title: "second"})

	if got := s.ByID("t1"); got == nil || got.Title != "second" {
		t.Errorf("ByID(t1) = %+v, want second", got)
	}
	if s.ByID("t9") != nil {
		t.Error("ByID(t9) should be nil")
	}
}

func TestHooksOf(t *testing.T) {
	t.Parallel()

	s := New()
	s.AddHook(&Hook{Kind: BeforeEach})
	s.AddHook(&Hook{Kind: AfterEach})
	s.AddHook(&Hook{Kind: BeforeEach})

	if got := len(s.HooksOf(BeforeEach)); got != 2 {
		t.Errorf("HooksOf(BeforeEach) = %d hooks, want 2", got)
	}
	if got := len(s.HooksOf(AfterEach)); got != 1 {
		t.Errorf("HooksOf(AfterEach) = %d hooks, want 1", got)
	}
}

func TestStepWithoutRunner(t *testing.T) {
	t.Parallel()

	ran := false
	tt := &T{Title: "plain"}
	if err := tt.Step("inline", func() error { ran = true; return nil }); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !ran {
		t.Error("step body did not run")
	}
}
