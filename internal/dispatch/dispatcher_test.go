package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mrenwl2001/playwright1/internal/ipc"
)

// fakeWorker is an in-process WorkerHandle. run is invoked per group; its
// result is returned from the next AwaitGroup.
type fakeWorker struct {
	hash string
	run  func(g *TestGroup) (ipc.DoneParams, error)

	mu      sync.Mutex
	groups  []*TestGroup
	pending *TestGroup
	stopped bool

	teardownErrs []ipc.TestError
}

func (f *fakeWorker) Hash() string { return f.hash }

func (f *fakeWorker) RunTestGroup(g *TestGroup) error {
	f.mu.Lock()
	f.groups = append(f.groups, g)
	f.pending = g
	f.mu.Unlock()
	return nil
}

func (f *fakeWorker) AwaitGroup(ctx context.Context) (ipc.DoneParams, error) {
	f.mu.Lock()
	g := f.pending
	f.pending = nil
	f.mu.Unlock()
	if f.run != nil {
		return f.run(g)
	}
	return ipc.DoneParams{}, nil
}

func (f *fakeWorker) Stop(ctx context.Context, timeout time.Duration) ([]ipc.TestError, error) {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return f.teardownErrs, nil
}

func (f *fakeWorker) Diagnostics() string { return "" }

// fakeSpawner tracks every spawned worker and the peak number alive.
type fakeSpawner struct {
	run func(w *fakeWorker, g *TestGroup) (ipc.DoneParams, error)

	mu      sync.Mutex
	workers []*fakeWorker
}

func (s *fakeSpawner) spawn(ctx context.Context, spec HostSpec) (WorkerHandle, error) {
	w := &fakeWorker{hash: spec.Hash}
	if s.run != nil {
		w.run = func(g *TestGroup) (ipc.DoneParams, error) { return s.run(w, g) }
	}
	s.mu.Lock()
	s.workers = append(s.workers, w)
	s.mu.Unlock()
	return w, nil
}

func (s *fakeSpawner) spawned() []*fakeWorker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeWorker(nil), s.workers...)
}

func group(hash, project, file string, ids ...string) *TestGroup {
	g := &TestGroup{WorkerHash: hash, ProjectID: project, File: file}
	for _, id := range ids {
		g.Entries = append(g.Entries, ipc.TestEntry{TestID: id})
	}
	return g
}

func testEndEnvelope(t *testing.T, testID, status string) ipc.Envelope {
	t.Helper()
	raw, err := json.Marshal(ipc.TestEndParams{TestID: testID, Status: status})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ipc.Envelope{Method: ipc.MethodTestEnd, Params: raw}
}

func TestDispatcherReusesMatchingWorker(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{}
	d := &Dispatcher{MaxWorkers: 4, Spawn: sp.spawn, Logger: io.Discard}
	groups := []*TestGroup{
		group("h1", "p", "a_test.go", "t0"),
		group("h1", "p", "b_test.go", "t1"),
		group("h1", "p", "c_test.go", "t2"),
	}
	report, err := d.Run(context.Background(), groups)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Ok() {
		t.Fatalf("report not ok: %+v", report)
	}

	workers := sp.spawned()
	if len(workers) != 1 {
		t.Fatalf("spawned %d workers, want 1 (same hash reuses the host)", len(workers))
	}
	if got := len(workers[0].groups); got != 3 {
		t.Errorf("worker ran %d groups, want 3", got)
	}
	if !workers[0].stopped {
		t.Error("worker was not stopped at end of run")
	}
}

func TestDispatcherSpawnsPerHash(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{}
	d := &Dispatcher{MaxWorkers: 4, Spawn: sp.spawn, Logger: io.Discard}
	groups := []*TestGroup{
		group("h1", "p", "a_test.go", "t0"),
		group("h2", "p", "a_test.go", "t1"),
	}
	if _, err := d.Run(context.Background(), groups); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(sp.spawned()); got != 2 {
		t.Errorf("spawned %d workers, want 2 (one per hash)", got)
	}
}

func TestDispatcherConcurrencyLimit(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	live, peak := 0, 0

	sp := &fakeSpawner{}
	sp.run = func(w *fakeWorker, g *TestGroup) (ipc.DoneParams, error) {
		mu.Lock()
		live++
		if live > peak {
			peak = live
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		live--
		mu.Unlock()
		return ipc.DoneParams{}, nil
	}
	d := &Dispatcher{MaxWorkers: 2, Spawn: sp.spawn, Logger: io.Discard}
	groups := []*TestGroup{
		group("h1", "p", "a_test.go", "t0"),
		group("h2", "p", "a_test.go", "t1"),
		group("h3", "p", "a_test.go", "t2"),
		group("h4", "p", "a_test.go", "t3"),
	}
	if _, err := d.Run(context.Background(), groups); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if peak > 2 {
		t.Errorf("peak concurrency %d exceeds MaxWorkers 2", peak)
	}
	if got := len(sp.spawned()); got != 4 {
		t.Errorf("spawned %d workers, want 4", got)
	}
}

func TestDispatcherCrashFailsRemainingEntries(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{}
	var d *Dispatcher
	sp.run = func(w *fakeWorker, g *TestGroup) (ipc.DoneParams, error) {
		// First entry completes, then the process dies.
		d.observe(g, testEndEnvelope(t, g.Entries[0].TestID, "passed"))
		return ipc.DoneParams{}, errors.New("signal: killed")
	}
	d = &Dispatcher{MaxWorkers: 1, Spawn: sp.spawn, Logger: io.Discard}

	report, err := d.Run(context.Background(), []*TestGroup{
		group("h1", "p", "a_test.go", "t0", "t1", "t2"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Failed) != 2 {
		t.Fatalf("failed = %+v, want the two entries that never completed", report.Failed)
	}
	ids := map[string]bool{}
	for _, f := range report.Failed {
		ids[f.TestID] = true
	}
	if ids["t0"] || !ids["t1"] || !ids["t2"] {
		t.Errorf("failed IDs = %v, want t1 and t2 only", ids)
	}
	if len(report.CrashErrors) == 0 {
		t.Error("a crash should surface a crash error")
	}
	if len(report.FatalErrors) != 0 {
		t.Errorf("FatalErrors = %+v; crashes are retryable and belong in CrashErrors", report.FatalErrors)
	}
}

func TestDispatcherCollectsFailedStatuses(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{}
	var d *Dispatcher
	sp.run = func(w *fakeWorker, g *TestGroup) (ipc.DoneParams, error) {
		d.observe(g, testEndEnvelope(t, "t0", "passed"))
		d.observe(g, testEndEnvelope(t, "t1", "failed"))
		return ipc.DoneParams{}, nil
	}
	d = &Dispatcher{MaxWorkers: 1, Spawn: sp.spawn, Logger: io.Discard}

	report, err := d.Run(context.Background(), []*TestGroup{
		group("h1", "p", "a_test.go", "t0", "t1"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0].TestID != "t1" {
		t.Errorf("failed = %+v, want exactly t1", report.Failed)
	}
}

func TestDispatcherUnknownTestIDsAreFatal(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{}
	sp.run = func(w *fakeWorker, g *TestGroup) (ipc.DoneParams, error) {
		return ipc.DoneParams{UnknownTestIDs: []string{"t9"}}, nil
	}
	d := &Dispatcher{MaxWorkers: 1, Spawn: sp.spawn, Logger: io.Discard}

	report, err := d.Run(context.Background(), []*TestGroup{
		group("h1", "p", "a_test.go", "t9"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.FatalErrors) != 1 {
		t.Fatalf("fatals = %+v, want one unknown-id error", report.FatalErrors)
	}
}

func TestDispatcherStopSurfacesTeardownErrors(t *testing.T) {
	t.Parallel()

	sp := &fakeSpawner{}
	spawnWithTeardownErr := func(ctx context.Context, spec HostSpec) (WorkerHandle, error) {
		w, _ := sp.spawn(ctx, spec)
		w.(*fakeWorker).teardownErrs = []ipc.TestError{{Message: "server did not shut down"}}
		return w, nil
	}
	d := &Dispatcher{MaxWorkers: 1, Spawn: spawnWithTeardownErr, Logger: io.Discard}

	report, err := d.Run(context.Background(), []*TestGroup{
		group("h1", "p", "a_test.go", "t0"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.FatalErrors) != 1 || report.FatalErrors[0].Message != "server did not shut down" {
		t.Errorf("fatals = %+v, want the worker teardown error", report.FatalErrors)
	}
}

func TestIndexAllocator(t *testing.T) {
	t.Parallel()
	var a indexAllocator
	for want := 0; want < 3; want++ {
		if got := a.Next(); got != want {
			t.Errorf("Next() = %d, want %d", got, want)
		}
	}
}
