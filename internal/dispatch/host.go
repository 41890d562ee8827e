package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrenwl2001/playwright1/internal/ipc"
)

// recentLimit bounds the rolling record of executed test identifiers kept
// for crash and timeout diagnostics.
const recentLimit = 10

// HostSpec fixes the identity a worker process is created with. A host
// serves only groups whose hash matches.
type HostSpec struct {
	Index         int
	ParallelIndex int
	Hash          string
	Init          ipc.InitParams
}

// CrashError reports a worker process that exited while a group was still
// in flight. Its text embeds the host's diagnostics.
type CrashError struct {
	Diagnostics string
	Err         error
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("worker process exited unexpectedly: %v\n%s", e.Err, e.Diagnostics)
}

func (e *CrashError) Unwrap() error { return e.Err }

// Host owns one worker process's lifecycle: spawn, group dispatch over the
// IPC channel, teardown-timeout enforcement, and crash diagnostics. A host
// runs many test groups sequentially, all under the hash it was created for.
type Host struct {
	spec     HostSpec
	describe func(testID string) string // renders "<file:line:col> › <title>"
	onEvent  func(env ipc.Envelope)

	cmd    *exec.Cmd
	enc    *ipc.Encoder
	stderr bytes.Buffer

	doneCh chan ipc.DoneParams
	exitCh chan error

	mu            sync.Mutex
	currentTestID string
	ran           int
	recent        []string
	teardownErrs  []ipc.TestError
}

// NewHost creates an unstarted host. describe resolves test IDs to display
// labels for diagnostics; onEvent receives every worker event (may be nil).
func NewHost(spec HostSpec, describe func(string) string, onEvent func(ipc.Envelope)) *Host {
	return &Host{
		spec:     spec,
		describe: describe,
		onEvent:  onEvent,
		doneCh:   make(chan ipc.DoneParams, 1),
		exitCh:   make(chan error, 1),
	}
}

// Hash returns the worker hash the host was created for.
func (h *Host) Hash() string { return h.spec.Hash }

// Index returns the host's worker index.
func (h *Host) Index() int { return h.spec.Index }

// Start spawns the worker process (a re-invocation of the current binary
// with the worker environment marker), wires the IPC pipes, and sends the
// init message.
func (h *Host) Start(ctx context.Context) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	cmd := exec.CommandContext(ctx, exe)
	cmd.Env = append(os.Environ(), ipc.WorkerEnv+"=1")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("worker stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn worker %d: %w", h.spec.Index, err)
	}
	h.cmd = cmd
	h.enc = ipc.NewEncoder(stdin)

	// Pump stdout events and capture stderr; the process exit surfaces on
	// exitCh once both pipes drain.
	var g errgroup.Group
	g.Go(func() error { return h.pumpEvents(stdout) })
	g.Go(func() error {
		_, err := io.Copy(&h.stderr, stderr)
		return err
	})
	go func() {
		pumpErr := g.Wait()
		waitErr := cmd.Wait()
		if waitErr == nil {
			waitErr = pumpErr
		}
		h.exitCh <- waitErr
	}()

	return h.enc.Send(ipc.MethodInit, h.spec.Init)
}

// pumpEvents forwards worker envelopes, tracking the rolling record of test
// identifiers along the way.
func (h *Host) pumpEvents(r io.Reader) error {
	dec := ipc.NewDecoder(r)
	for {
		env, err := dec.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		h.handle(env)
	}
}

func (h *Host) handle(env ipc.Envelope) {
	switch env.Method {
	case ipc.MethodTestBegin:
		var p ipc.TestBeginParams
		if ipc.Unmarshal(env, &p) == nil {
			h.noteTestBegin(p.TestID)
		}
	case ipc.MethodTestEnd:
		h.mu.Lock()
		h.currentTestID = ""
		h.mu.Unlock()
	case ipc.MethodDone:
		var p ipc.DoneParams
		if ipc.Unmarshal(env, &p) == nil {
			h.doneCh <- p
		}
	case ipc.MethodTeardownErrors:
		var p ipc.TeardownErrorsParams
		if ipc.Unmarshal(env, &p) == nil {
			h.mu.Lock()
			h.teardownErrs = append(h.teardownErrs, p.FatalErrors...)
			h.mu.Unlock()
		}
	}
	if h.onEvent != nil {
		h.onEvent(env)
	}
}

// noteTestBegin records a test start in the bounded recent-tests ring.
func (h *Host) noteTestBegin(testID string) {
	label := testID
	if h.describe != nil {
		label = h.describe(testID)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentTestID = testID
	h.ran++
	h.recent = append(h.recent, label)
	if len(h.recent) > recentLimit {
		h.recent = h.recent[len(h.recent)-recentLimit:]
	}
}

// CurrentTestID returns the test the worker is executing right now, if any.
func (h *Host) CurrentTestID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentTestID
}

// RunTestGroup dispatches one group over the process channel. The call does
// not wait for completion; pair it with AwaitGroup.
func (h *Host) RunTestGroup(g *TestGroup) error {
	return h.enc.Send(ipc.MethodRunTestGroup, ipc.RunTestGroupParams{
		File:    g.File,
		Entries: g.Entries,
	})
}

// AwaitGroup blocks until the worker reports the in-flight group done, the
// process exits (a crash), or ctx is canceled.
func (h *Host) AwaitGroup(ctx context.Context) (ipc.DoneParams, error) {
	select {
	case d := <-h.doneCh:
		return d, nil
	case err := <-h.exitCh:
		return ipc.DoneParams{}, &CrashError{Diagnostics: h.Diagnostics(), Err: err}
	case <-ctx.Done():
		return ipc.DoneParams{}, ctx.Err()
	}
}

// Stop asks the worker to tear down its worker-scope fixtures and exit,
// enforcing the worker-teardown timeout. An unresponsive process is killed
// and reported with the host's diagnostics. Teardown errors collected from
// the worker are returned either way.
func (h *Host) Stop(ctx context.Context, teardownTimeout time.Duration) ([]ipc.TestError, error) {
	_ = h.enc.Send(ipc.MethodStop, struct{}{})

	// Grace beyond the worker's own teardown budget: the worker reports
	// fixture-level timeouts itself; the host only kills a process that
	// never yields control back at all.
	var timerCh <-chan time.Time
	if teardownTimeout > 0 {
		timerCh = time.After(teardownTimeout + 2*time.Second)
	}
	select {
	case <-h.exitCh:
		return h.teardownFailures(), nil
	case <-timerCh:
		_ = h.cmd.Process.Kill()
		<-h.exitCh
		return h.takeTeardownErrors(), fmt.Errorf(
			"worker %d did not shut down within %dms and was killed\n%s",
			h.spec.Index, teardownTimeout.Milliseconds(), h.Diagnostics())
	case <-ctx.Done():
		_ = h.cmd.Process.Kill()
		<-h.exitCh
		return h.teardownFailures(), ctx.Err()
	}
}

// teardownFailures drains the collected worker teardown errors with the
// recent-tests listing attached, so a teardown failure names both the
// fixture and what the failed worker ran. A worker that timed out tearing
// down a fixture exits cleanly after reporting it, which is why the listing
// cannot wait for the force-kill path.
func (h *Host) teardownFailures() []ipc.TestError {
	errs := h.takeTeardownErrors()
	if len(errs) == 0 {
		return nil
	}
	diag := h.Diagnostics()
	for i := range errs {
		errs[i].Message += "\n" + diag
	}
	return errs
}

func (h *Host) takeTeardownErrors() []ipc.TestError {
	h.mu.Lock()
	defer h.mu.Unlock()
	errs := h.teardownErrs
	h.teardownErrs = nil
	return errs
}

// Diagnostics renders the bounded history of recently executed tests, used
// in crash and teardown-timeout reports.
func (h *Host) Diagnostics() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, "Failed worker ran %d tests, last %d were:\n", h.ran, len(h.recent))
	for _, label := range h.recent {
		fmt.Fprintf(&b, "  %s\n", label)
	}
	if h.stderr.Len() > 0 {
		fmt.Fprintf(&b, "worker stderr:\n%s", h.stderr.String())
	}
	return b.String()
}
