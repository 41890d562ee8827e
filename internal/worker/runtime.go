// Package worker implements the worker-process side of the engine: it
// receives init parameters and test groups over stdin, runs each entry
// strictly sequentially through the fixture engine, and emits lifecycle and
// step events over stdout.
//
// Worker-scope fixture instances live in a process-wide executor that
// survives across groups; they are torn down exactly once, at shutdown,
// under the worker-teardown timeout.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mrenwl2001/playwright1/internal/fixture"
	"github.com/mrenwl2001/playwright1/internal/ipc"
	"github.com/mrenwl2001/playwright1/internal/suite"
)

// Runtime is the state of one worker process.
type Runtime struct {
	Suite *suite.Suite

	enc  *ipc.Encoder
	init ipc.InitParams

	ctx        context.Context
	cancel     context.CancelFunc
	workerExec *fixture.Executor
	stepSeq    int
}

// Serve runs the worker loop until a stop message or EOF on in. The first
// message must be init.
func Serve(s *suite.Suite, in io.Reader, out io.Writer) error {
	dec := ipc.NewDecoder(in)
	rt := &Runtime{Suite: s, enc: ipc.NewEncoder(out)}

	env, err := dec.Next()
	if err != nil {
		return fmt.Errorf("worker: read init: %w", err)
	}
	if env.Method != ipc.MethodInit {
		return fmt.Errorf("worker: expected init, got %q", env.Method)
	}
	if err := ipc.Unmarshal(env, &rt.init); err != nil {
		return err
	}
	rt.ctx, rt.cancel = context.WithCancel(context.Background())
	defer rt.cancel()
	rt.workerExec = fixture.NewExecutor(rt.ctx, nil)

	for {
		env, err := dec.Next()
		if err == io.EOF {
			// Host went away; tear down as if stopped.
			return rt.shutdown()
		}
		if err != nil {
			return err
		}
		switch env.Method {
		case ipc.MethodRunTestGroup:
			var p ipc.RunTestGroupParams
			if err := ipc.Unmarshal(env, &p); err != nil {
				return err
			}
			rt.runGroup(p)
		case ipc.MethodStop:
			return rt.shutdown()
		}
	}
}

// shutdown tears down worker-scope fixtures under the worker-teardown
// timeout and reports any failures at the worker level.
func (rt *Runtime) shutdown() error {
	budget := fixture.StartBudget(time.Duration(rt.init.WorkerTeardownMs) * time.Millisecond)
	errs := rt.workerExec.TearDownAll(budget, "Worker teardown")
	rt.cancel()
	if len(errs) > 0 {
		fatal := make([]ipc.TestError, 0, len(errs))
		for _, err := range errs {
			fatal = append(fatal, toTestError(err))
		}
		return rt.enc.Send(ipc.MethodTeardownErrors, ipc.TeardownErrorsParams{FatalErrors: fatal})
	}
	return nil
}

// runGroup executes one group's entries in order and emits the terminal done
// message. Entries the suite does not recognize are reported, not guessed.
func (rt *Runtime) runGroup(p ipc.RunTestGroupParams) {
	var done ipc.DoneParams
	for _, e := range p.Entries {
		t := rt.Suite.ByID(e.TestID)
		if t == nil {
			done.UnknownTestIDs = append(done.UnknownTestIDs, e.TestID)
			continue
		}
		rt.runTest(t, e.Retry)
	}
	_ = rt.enc.Send(ipc.MethodDone, done)
}

// runTest drives one test attempt through the full lifecycle: fixture
// setup, skip predicate, beforeEach hooks, body, afterEach hooks, teardown.
func (rt *Runtime) runTest(t *suite.Test, retry int) {
	start := time.Now()
	_ = rt.enc.Send(ipc.MethodTestBegin, ipc.TestBeginParams{
		TestID:        t.ID,
		StartWallTime: start.UnixMilli(),
	})

	status, errs, annotations := rt.execute(t, retry)

	_ = rt.enc.Send(ipc.MethodTestEnd, ipc.TestEndParams{
		TestID:      t.ID,
		DurationMs:  time.Since(start).Milliseconds(),
		Status:      status,
		Errors:      errs,
		Annotations: append(append([]string(nil), t.Annotations...), annotations...),
	})
}

func (rt *Runtime) execute(t *suite.Test, retry int) (string, []ipc.TestError, []string) {
	reg, err := t.Registry.WithOptionValues(rt.init.Options)
	if err != nil {
		return "failed", []ipc.TestError{toTestError(err)}, nil
	}

	plan, err := rt.planFor(reg, t)
	if err != nil {
		return "failed", []ipc.TestError{toTestError(err)}, nil
	}

	timeout := time.Duration(rt.init.TimeoutMs) * time.Millisecond
	if t.Timeout > 0 {
		timeout = time.Duration(t.Timeout) * time.Millisecond
	}
	budget := fixture.StartBudget(timeout)

	testCtx, cancel := context.WithCancel(rt.ctx)
	defer cancel()
	exec := fixture.NewExecutor(testCtx, rt.workerExec)

	status := "passed"
	var errs []ipc.TestError
	var annotations []string
	sawTimeout := false
	record := func(err error) {
		if err != nil {
			status = "failed"
			if errors.Is(err, context.DeadlineExceeded) {
				sawTimeout = true
			}
			errs = append(errs, toTestError(err))
		}
	}

	setupErr := exec.SetUpPlan(plan, budget)
	record(setupErr)

	skipped := false
	if setupErr == nil && t.Skip != nil {
		if deps, derr := exec.BodyDeps(reg, t.SkipUses); derr == nil {
			if skip, reason := t.Skip(deps); skip {
				skipped = true
				status = "skipped"
				if reason != "" {
					annotations = append(annotations, "skip: "+reason)
				}
			}
		}
	}

	if setupErr == nil && !skipped {
		record(rt.runHooks(exec, reg, t, suite.BeforeEach, budget))
	}
	if setupErr == nil && !skipped && status == "passed" {
		deps, derr := exec.BodyDeps(reg, t.Uses)
		if derr != nil {
			record(derr)
		} else {
			tt := &suite.T{Title: t.Title, Deps: deps, Retry: retry, StepFunc: rt.stepRunner(t)}
			record(fixture.RunBody(testCtx, budget, deps, func(ctx context.Context, _ *fixture.Deps) error {
				return t.Fn(tt)
			}))
		}
	}
	if setupErr == nil && !skipped {
		// afterEach hooks run as dependents: only those whose fixtures all
		// reached Active are invoked, even when the body failed.
		record(rt.runHooks(exec, reg, t, suite.AfterEach, budget))
	}

	// A timed-out phase hands teardown a fresh remaining-time budget.
	if sawTimeout {
		budget.Reset()
	}
	tearErrs := exec.TearDownAll(budget, "Test")
	for _, terr := range tearErrs {
		record(terr)
	}
	if skipped && len(tearErrs) == 0 {
		// teardown failure outranks the skip
		status = "skipped"
	}
	return status, errs, annotations
}

// runHooks invokes the suite's hooks of one kind. A hook whose used fixtures
// did not all reach Active never runs.
func (rt *Runtime) runHooks(exec *fixture.Executor, reg *fixture.Registry, t *suite.Test, kind suite.HookKind, budget *fixture.Budget) error {
	for _, h := range rt.Suite.HooksOf(kind) {
		deps, err := exec.BodyDeps(reg, h.Uses)
		if err != nil {
			continue
		}
		hctx := suite.HookCtx{Deps: deps, Title: t.Title}
		hook := h
		if err := fixture.RunBody(rt.ctx, budget, deps, func(context.Context, *fixture.Deps) error {
			return hook.Fn(hctx)
		}); err != nil {
			return err
		}
	}
	return nil
}

// planFor resolves the test's plan: auto fixtures, the test's own
// parameters, the skip predicate's parameters, and every hook's parameters.
func (rt *Runtime) planFor(reg *fixture.Registry, t *suite.Test) (fixture.Plan, error) {
	params := append([]string(nil), t.Uses...)
	params = append(params, t.SkipUses...)
	for _, h := range rt.Suite.Hooks {
		params = append(params, h.Uses...)
	}
	return fixture.PlanFor(reg, t.Location, dedupe(params))
}

// stepRunner emits step begin/end events around a named step.
func (rt *Runtime) stepRunner(t *suite.Test) func(title string, fn func() error) error {
	return func(title string, fn func() error) error {
		rt.stepSeq++
		stepID := fmt.Sprintf("s%d", rt.stepSeq)
		p := ipc.StepParams{TestID: t.ID, StepID: stepID, Title: title, Location: t.Location}
		_ = rt.enc.Send(ipc.MethodStepBegin, p)
		err := fn()
		_ = rt.enc.Send(ipc.MethodStepEnd, p)
		return err
	}
}

// toTestError flattens an engine error into its wire form.
func toTestError(err error) ipc.TestError {
	if ferr, ok := err.(*fixture.Error); ok {
		return ipc.TestError{Message: ferr.Message, Location: ferr.Location}
	}
	return ipc.TestError{Message: err.Error()}
}

// dedupe preserves first occurrences.
func dedupe(names []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
