package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/mrenwl2001/playwright1/internal/ipc"
)

func TestHostDiagnosticsRing(t *testing.T) {
	t.Parallel()

	describe := func(id string) string { return "a_test.go:1:1 › " + id }
	h := NewHost(HostSpec{Index: 0, Hash: "h1"}, describe, nil)

	for i := 0; i < 14; i++ {
		h.noteTestBegin(fmt.Sprintf("t%d", i))
	}

	d := h.Diagnostics()
	if !strings.Contains(d, "Failed worker ran 14 tests, last 10 were:") {
		t.Errorf("unexpected header: %q", d)
	}
	if strings.Contains(d, "› t3\n") {
		t.Error("entries older than the ring limit should be evicted")
	}
	if !strings.Contains(d, "  a_test.go:1:1 › t13\n") {
		t.Errorf("missing the newest entry: %q", d)
	}
}

func TestHostTeardownFailuresIncludeRecentTests(t *testing.T) {
	t.Parallel()

	describe := func(id string) string { return "srv_test.go:5:1 › " + id }
	h := NewHost(HostSpec{Index: 1, Hash: "h1"}, describe, nil)
	h.noteTestBegin("t0")
	h.noteTestBegin("t1")

	raw, err := json.Marshal(ipc.TeardownErrorsParams{FatalErrors: []ipc.TestError{
		{Message: `Worker teardown timeout of 50ms exceeded while tearing down "srv".`},
	}})
	if err != nil {
		t.Fatal(err)
	}
	h.handle(ipc.Envelope{Method: ipc.MethodTeardownErrors, Params: raw})

	errs := h.teardownFailures()
	if len(errs) != 1 {
		t.Fatalf("teardownFailures() returned %d errors, want 1", len(errs))
	}
	msg := errs[0].Message
	if !strings.Contains(msg, `while tearing down "srv".`) {
		t.Errorf("fixture identity missing: %q", msg)
	}
	if !strings.Contains(msg, "Failed worker ran 2 tests, last 2 were:") {
		t.Errorf("recent-tests listing missing: %q", msg)
	}
	if !strings.Contains(msg, "  srv_test.go:5:1 › t1\n") {
		t.Errorf("listing should name the newest test: %q", msg)
	}
	if again := h.teardownFailures(); again != nil {
		t.Errorf("second drain should be empty, got %v", again)
	}
}

func TestHostCurrentTestID(t *testing.T) {
	t.Parallel()

	h := NewHost(HostSpec{}, nil, nil)
	h.noteTestBegin("t0")
	if got := h.CurrentTestID(); got != "t0" {
		t.Errorf("CurrentTestID() = %q, want t0", got)
	}
}
