// Package harness is the public surface of the runner. A test binary
// declares fixtures and tests against an Env, then hands the suite to Main,
// which runs the CLI in the parent process and the worker protocol when the
// binary is re-invoked as a worker.
//
//	env := harness.New().Extend(
//		harness.Fixture{Name: "server", Scope: harness.ScopeWorker, Setup: startServer},
//	)
//	env.Test("responds", []string{"server"}, func(t *harness.T) error { ... })
//	harness.Main(env)
package harness

import (
	"context"

	"github.com/mrenwl2001/playwright1/internal/cli"
	"github.com/mrenwl2001/playwright1/internal/fixture"
	"github.com/mrenwl2001/playwright1/internal/suite"
)

// Fixture scopes.
const (
	// ScopeTest fixtures are set up and torn down around every test attempt.
	ScopeTest = string(fixture.ScopeTest)
	// ScopeWorker fixtures live for the worker process and are shared by the
	// tests it runs.
	ScopeWorker = string(fixture.ScopeWorker)
)

// Deps carries the active values of the fixtures a routine declared.
type Deps = fixture.Deps

// T is the context handed to a running test body.
type T = suite.T

// HookCtx is the context handed to beforeEach/afterEach hooks.
type HookCtx = suite.HookCtx

// Setup is a fixture routine. It must call provide exactly once with the
// fixture's value; provide blocks until the scope ends, and the code after
// it is the teardown.
type Setup func(ctx context.Context, deps *Deps, provide func(value any) error) error

// Fixture declares one fixture at an Extend site. An empty Scope inherits
// the overridden declaration's scope, or defaults to test scope for a new
// name. Listing the fixture's own name in Deps requests the overridden base
// value.
type Fixture struct {
	Name  string
	Scope string
	Deps  []string
	Setup Setup
	Auto  bool

	// set by the Value/Option constructors
	value    any
	isValue  bool
	isOption bool
}

// Value declares a fixture that is a plain constant: no setup routine, no
// teardown, active immediately.
func Value(name string, v any) Fixture {
	return Fixture{Name: name, value: v, isValue: true}
}

// Option declares a project-configurable fixture: a serializable default
// that project configuration may override by name.
func Option(name string, def any) Fixture {
	return Fixture{Name: name, value: def, isValue: true, isOption: true}
}

// WorkerOption declares a worker-scoped option. Distinct values yield
// distinct worker hashes, so tests under different values never share a
// worker process.
func WorkerOption(name string, def any) Fixture {
	return Fixture{Name: name, Scope: ScopeWorker, value: def, isValue: true, isOption: true}
}

// Env is an immutable fixture environment bound to a suite. Extend returns a
// descendant Env; tests registered on any descendant share one suite, each
// remembering the registry in effect where it was declared.
type Env struct {
	reg *fixture.Registry
	s   *suite.Suite
}

// New returns a root Env with an empty registry and a fresh suite.
func New() *Env {
	return &Env{reg: fixture.NewRegistry(), s: suite.New()}
}

// Extend returns a child Env with the given fixtures declared on top of the
// receiver's. Invalid declarations (scope conflicts, self-references without
// a base, unknown scopes) panic: they are registration-time programming
// errors and every test run would fail the same way.
func (e *Env) Extend(fixtures ...Fixture) *Env {
	loc := fixture.Here(1)
	inputs := make([]fixture.Input, 0, len(fixtures))
	for _, f := range fixtures {
		in := fixture.Input{
			Name:     f.Name,
			RawScope: f.Scope,
			DepNames: f.Deps,
			Auto:     f.Auto,
			Location: loc,
		}
		if f.isValue {
			in.Option = f.isOption
			in.OptionValue = f.value
		} else if f.Setup != nil {
			setup := f.Setup
			in.Setup = func(ctx context.Context, deps *fixture.Deps, provide fixture.ProvideFunc) error {
				return setup(ctx, deps, provide)
			}
		}
		inputs = append(inputs, in)
	}
	reg, err := e.reg.Extend(inputs)
	if err != nil {
		panic(err)
	}
	return &Env{reg: reg, s: e.s}
}

// Test registers a test. uses names the fixtures the body receives through
// t.Deps; opts tune timeout, skip conditions, and annotations.
func (e *Env) Test(title string, uses []string, fn func(t *T) error, opts ...TestOption) {
	t := &suite.Test{
		Title:    title,
		Uses:     uses,
		Fn:       suite.TestFunc(fn),
		Location: fixture.Here(1),
		Registry: e.reg,
	}
	for _, opt := range opts {
		opt(t)
	}
	e.s.Add(t)
}

// BeforeEach registers a hook that runs after fixture setup and before every
// test body. It only runs when all of its used fixtures set up successfully.
func (e *Env) BeforeEach(uses []string, fn func(hc HookCtx) error) {
	e.s.AddHook(&suite.Hook{
		Kind:     suite.BeforeEach,
		Uses:     uses,
		Fn:       fn,
		Location: fixture.Here(1),
	})
}

// AfterEach registers a hook that runs after every test body and before
// fixture teardown. Like BeforeEach, it is a dependent of its used fixtures.
func (e *Env) AfterEach(uses []string, fn func(hc HookCtx) error) {
	e.s.AddHook(&suite.Hook{
		Kind:     suite.AfterEach,
		Uses:     uses,
		Fn:       fn,
		Location: fixture.Here(1),
	})
}

// Validate resolves every registered test's fixture plan without running
// anything. It surfaces declaration mistakes that otherwise appear only at
// run time: unknown parameters, dependency cycles, and scope violations.
func (e *Env) Validate() error {
	for _, t := range e.s.Tests {
		params := append([]string(nil), t.Uses...)
		params = append(params, t.SkipUses...)
		for _, h := range e.s.Hooks {
			params = append(params, h.Uses...)
		}
		seen := make(map[string]bool, len(params))
		uniq := params[:0]
		for _, p := range params {
			if !seen[p] {
				seen[p] = true
				uniq = append(uniq, p)
			}
		}
		if _, err := fixture.PlanFor(t.Registry, t.Location, uniq); err != nil {
			return err
		}
	}
	return nil
}

// TestOption tunes one registered test.
type TestOption func(*suite.Test)

// WithTimeout overrides the project timeout for this test, in milliseconds.
func WithTimeout(ms int64) TestOption {
	return func(t *suite.Test) { t.Timeout = ms }
}

// WithAnnotations attaches free-form annotations reported with the test's
// result.
func WithAnnotations(notes ...string) TestOption {
	return func(t *suite.Test) { t.Annotations = append(t.Annotations, notes...) }
}

// WithSkip attaches a skip predicate evaluated after the used fixtures are
// active. When it returns true the body and hooks are skipped; fixtures
// still tear down normally.
func WithSkip(uses []string, pred func(deps *Deps) (bool, string)) TestOption {
	return func(t *suite.Test) {
		t.Skip = pred
		t.SkipUses = uses
	}
}

// Main runs the harness CLI for the Env's suite. It does not return when the
// process is a worker re-invocation or when a command exits non-zero.
func Main(env *Env) {
	cli.Execute(env.s)
}
