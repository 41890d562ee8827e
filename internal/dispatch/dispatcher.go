package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mrenwl2001/playwright1/internal/ipc"
)

// WorkerHandle is the dispatcher's view of one worker process. *Host is the
// production implementation; tests substitute in-process fakes.
type WorkerHandle interface {
	Hash() string
	RunTestGroup(g *TestGroup) error
	AwaitGroup(ctx context.Context) (ipc.DoneParams, error)
	Stop(ctx context.Context, teardownTimeout time.Duration) ([]ipc.TestError, error)
	Diagnostics() string
}

// SpawnFunc creates and starts a worker for the given spec.
type SpawnFunc func(ctx context.Context, spec HostSpec) (WorkerHandle, error)

// EventFunc receives every worker event, annotated with the group coordinates
// the event belongs to.
type EventFunc func(g *TestGroup, env ipc.Envelope)

// FailedEntry identifies a test attempt that failed or was lost to a crash,
// with enough coordinates for the caller's retry policy.
type FailedEntry struct {
	TestID          string
	ProjectID       string
	RepeatEachIndex int
	Retry           int
}

// RunReport summarizes one dispatch round.
type RunReport struct {
	Failed      []FailedEntry
	FatalErrors []ipc.TestError
	// CrashErrors records worker crashes separately: the entries a crash
	// lost are in Failed and rerun under the retry policy, so a crash
	// alone must not doom a run whose retries pass.
	CrashErrors []ipc.TestError
}

// Ok reports whether the round finished with no failures or fatals.
func (r *RunReport) Ok() bool {
	return len(r.Failed) == 0 && len(r.FatalErrors) == 0 && len(r.CrashErrors) == 0
}

// Dispatcher assigns test groups to worker hosts. At most MaxWorkers hosts
// are alive at once; a group goes to an idle host with a matching hash, to a
// fresh host when a slot is free, and queues otherwise. Worker indices come
// from an allocator owned by the dispatcher.
type Dispatcher struct {
	MaxWorkers            int
	WorkerTeardownTimeout time.Duration
	Spawn                 SpawnFunc
	Describe              func(testID string) string
	OnEvent               EventFunc
	// InitFor builds the init parameters for a worker serving the given
	// group: project options, timeouts. Optional.
	InitFor func(g *TestGroup) ipc.InitParams
	Logger  io.Writer

	alloc indexAllocator

	mu       sync.Mutex
	statuses map[string]string // attempt key → status
	slots    map[int]*slot     // worker index → slot, for event attribution
}

func (d *Dispatcher) logger() io.Writer {
	if d.Logger != nil {
		return d.Logger
	}
	return os.Stderr
}

// slot pairs a live worker with the group it is currently running.
type slot struct {
	handle WorkerHandle
	spec   HostSpec

	mu      sync.Mutex
	current *TestGroup
}

func (s *slot) setCurrent(g *TestGroup) {
	s.mu.Lock()
	s.current = g
	s.mu.Unlock()
}

func (s *slot) currentGroup() *TestGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

type groupOutcome struct {
	worker *slot
	group  *TestGroup
	done   ipc.DoneParams
	err    error
}

// Run dispatches all groups and blocks until every one has completed or
// failed. Dispatch is continuous: whenever any group finishes, the loop
// immediately re-evaluates the queue; there are no batch barriers.
func (d *Dispatcher) Run(ctx context.Context, groups []*TestGroup) (*RunReport, error) {
	if d.MaxWorkers <= 0 {
		d.MaxWorkers = 1
	}
	if d.Spawn == nil {
		d.Spawn = d.spawnProcess
	}
	d.mu.Lock()
	d.statuses = map[string]string{}
	d.slots = map[int]*slot{}
	d.mu.Unlock()

	report := &RunReport{}
	queue := append([]*TestGroup(nil), groups...)
	idle := map[string][]*slot{}
	liveHosts := 0
	activeGroups := 0
	completion := make(chan *groupOutcome)

	for len(queue) > 0 || activeGroups > 0 {
		if err := ctx.Err(); err != nil {
			d.drain(ctx, completion, &activeGroups, report)
			d.stopAll(ctx, idle, report)
			return report, err
		}

		// Dispatch every queued group that can start right now.
		var waiting []*TestGroup
		for _, g := range queue {
			w := takeIdle(idle, g.WorkerHash)
			if w == nil && liveHosts < d.MaxWorkers {
				var err error
				w, err = d.newSlot(ctx, g)
				if err != nil {
					report.FatalErrors = append(report.FatalErrors, ipc.TestError{Message: err.Error()})
					d.failEntries(g, nil, report)
					continue
				}
				liveHosts++
			}
			if w == nil && liveHosts >= d.MaxWorkers {
				// All slots taken. Retire an idle host with a foreign hash,
				// if there is one, to make room on the next pass.
				if retired := takeAnyIdle(idle); retired != nil {
					d.stopSlot(ctx, retired, report)
					liveHosts--
					waiting = append(waiting, g)
					continue
				}
			}
			if w == nil {
				waiting = append(waiting, g)
				continue
			}
			activeGroups++
			w.setCurrent(g)
			go func(w *slot, g *TestGroup) {
				out := &groupOutcome{worker: w, group: g}
				if err := w.handle.RunTestGroup(g); err != nil {
					out.err = err
				} else {
					out.done, out.err = w.handle.AwaitGroup(ctx)
				}
				completion <- out
			}(w, g)
		}
		queue = waiting

		if activeGroups == 0 {
			continue
		}

		// Wait for any one group to finish, then re-evaluate immediately.
		out := <-completion
		activeGroups--
		out.worker.setCurrent(nil)
		if out.err != nil {
			// Crash: remaining entries of the group fail for this attempt,
			// the slot is released, and a fresh host will serve later groups
			// of that hash.
			fmt.Fprintf(d.logger(), "worker %d crashed: %v\n", out.worker.spec.Index, out.err)
			report.CrashErrors = append(report.CrashErrors, ipc.TestError{Message: out.err.Error()})
			d.failEntries(out.group, d.completedSet(out.group), report)
			liveHosts--
			continue
		}
		d.recordDone(out.group, out.done, report)
		idle[out.worker.handle.Hash()] = append(idle[out.worker.handle.Hash()], out.worker)
	}

	d.stopAll(ctx, idle, report)
	d.collectFailures(groups, report)
	return report, nil
}

// newSlot allocates an index and spawns a host for the group's coordinates.
func (d *Dispatcher) newSlot(ctx context.Context, g *TestGroup) (*slot, error) {
	idx := d.alloc.Next()
	init := ipc.InitParams{
		RepeatEachIndex: g.RepeatEachIndex,
		ProjectID:       g.ProjectID,
	}
	if d.InitFor != nil {
		init = d.InitFor(g)
	}
	init.WorkerIndex = idx
	init.ParallelIndex = idx % d.MaxWorkers
	init.WorkerTeardownMs = d.WorkerTeardownTimeout.Milliseconds()
	spec := HostSpec{
		Index:         idx,
		ParallelIndex: idx % d.MaxWorkers,
		Hash:          g.WorkerHash,
		Init:          init,
	}
	s := &slot{spec: spec}
	d.mu.Lock()
	d.slots[spec.Index] = s
	d.mu.Unlock()
	handle, err := d.Spawn(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("spawn worker for hash %s: %w", g.WorkerHash, err)
	}
	s.handle = handle
	return s, nil
}

// spawnProcess is the default SpawnFunc: a real worker subprocess. Events
// are attributed to whatever group the host's slot is running when they
// arrive; groups run strictly sequentially per worker, so the attribution
// is unambiguous.
func (d *Dispatcher) spawnProcess(ctx context.Context, spec HostSpec) (WorkerHandle, error) {
	h := NewHost(spec, d.Describe, func(env ipc.Envelope) {
		d.mu.Lock()
		s := d.slots[spec.Index]
		d.mu.Unlock()
		var g *TestGroup
		if s != nil {
			g = s.currentGroup()
		}
		d.observe(g, env)
	})
	if err := h.Start(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// observe records test statuses and forwards the event.
func (d *Dispatcher) observe(g *TestGroup, env ipc.Envelope) {
	if env.Method == ipc.MethodTestEnd {
		var p ipc.TestEndParams
		if ipc.Unmarshal(env, &p) == nil && g != nil {
			d.mu.Lock()
			d.statuses[attemptKey(g, p.TestID)] = p.Status
			d.mu.Unlock()
		}
	}
	if d.OnEvent != nil {
		d.OnEvent(g, env)
	}
}

func attemptKey(g *TestGroup, testID string) string {
	return fmt.Sprintf("%s|%d|%s", g.ProjectID, g.RepeatEachIndex, testID)
}

// completedSet returns the IDs of the group's entries that reported an end
// event before a crash.
func (d *Dispatcher) completedSet(g *TestGroup) map[string]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	done := map[string]bool{}
	for _, e := range g.Entries {
		if _, ok := d.statuses[attemptKey(g, e.TestID)]; ok {
			done[e.TestID] = true
		}
	}
	return done
}

// failEntries marks the group's not-yet-completed entries failed for this
// attempt, leaving them eligible for the caller's retry policy.
func (d *Dispatcher) failEntries(g *TestGroup, completed map[string]bool, report *RunReport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range g.Entries {
		if completed[e.TestID] {
			continue
		}
		d.statuses[attemptKey(g, e.TestID)] = "failed"
		report.Failed = append(report.Failed, FailedEntry{
			TestID:          e.TestID,
			ProjectID:       g.ProjectID,
			RepeatEachIndex: g.RepeatEachIndex,
			Retry:           e.Retry,
		})
	}
}

// recordDone folds a worker's terminal group report into the run report.
func (d *Dispatcher) recordDone(g *TestGroup, done ipc.DoneParams, report *RunReport) {
	report.FatalErrors = append(report.FatalErrors, done.FatalErrors...)
	for _, id := range done.UnknownTestIDs {
		report.FatalErrors = append(report.FatalErrors, ipc.TestError{
			Message: fmt.Sprintf("worker did not recognize test id %q", id),
		})
	}
	d.mu.Lock()
	for _, id := range done.SkippedTestIDs {
		d.statuses[attemptKey(g, id)] = "skipped"
	}
	d.mu.Unlock()
}

// collectFailures lifts failed statuses into retry-eligible entries, skipping
// those already recorded by crash handling.
func (d *Dispatcher) collectFailures(groups []*TestGroup, report *RunReport) {
	seen := map[string]bool{}
	for _, f := range report.Failed {
		seen[fmt.Sprintf("%s|%d|%s", f.ProjectID, f.RepeatEachIndex, f.TestID)] = true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, g := range groups {
		for _, e := range g.Entries {
			key := attemptKey(g, e.TestID)
			if d.statuses[key] == "failed" && !seen[key] {
				seen[key] = true
				report.Failed = append(report.Failed, FailedEntry{
					TestID:          e.TestID,
					ProjectID:       g.ProjectID,
					RepeatEachIndex: g.RepeatEachIndex,
					Retry:           e.Retry,
				})
			}
		}
	}
}

// stopAll shuts down every idle host under the worker-teardown timeout.
func (d *Dispatcher) stopAll(ctx context.Context, idle map[string][]*slot, report *RunReport) {
	for _, slots := range idle {
		for _, s := range slots {
			d.stopSlot(ctx, s, report)
		}
	}
}

// stopSlot stops one host, folding worker-scope teardown failures into the
// run's fatal errors. They are reported against the worker, not any test.
func (d *Dispatcher) stopSlot(ctx context.Context, s *slot, report *RunReport) {
	teardownErrs, err := s.handle.Stop(ctx, d.WorkerTeardownTimeout)
	report.FatalErrors = append(report.FatalErrors, teardownErrs...)
	if err != nil {
		report.FatalErrors = append(report.FatalErrors, ipc.TestError{Message: err.Error()})
	}
}

// drain waits out in-flight groups after cancellation.
func (d *Dispatcher) drain(ctx context.Context, completion chan *groupOutcome, active *int, report *RunReport) {
	for *active > 0 {
		out := <-completion
		*active--
		if out.err != nil {
			d.failEntries(out.group, d.completedSet(out.group), report)
		}
	}
}

// takeIdle pops an idle slot whose hash matches, or nil.
func takeIdle(idle map[string][]*slot, hash string) *slot {
	slots := idle[hash]
	if len(slots) == 0 {
		return nil
	}
	s := slots[len(slots)-1]
	idle[hash] = slots[:len(slots)-1]
	return s
}

// takeAnyIdle pops any idle slot, or nil.
func takeAnyIdle(idle map[string][]*slot) *slot {
	for hash := range idle {
		if s := takeIdle(idle, hash); s != nil {
			return s
		}
	}
	return nil
}
