// Package suite holds the compiled model of a user test suite: an ordered
// set of test declarations, each bound to the fixture registry that was in
// effect at its registration site, plus beforeEach/afterEach hooks.
//
// Because worker processes are re-invocations of the same binary, the suite
// is rebuilt identically on both sides of the process boundary; test IDs are
// registration ordinals and therefore stable across it.
package suite

import (
	"fmt"

	"github.com/mrenwl2001/playwright1/internal/fixture"
)

// HookKind distinguishes beforeEach from afterEach hooks.
type HookKind int

const (
	// BeforeEach hooks run after fixture setup and before the test body.
	BeforeEach HookKind = iota
	// AfterEach hooks run after the test body and before fixture teardown.
	AfterEach
)

// Hook is a per-test callback with an explicit fixture parameter set. Hooks
// behave as dependents of the fixtures they use: if a used fixture failed to
// set up, the hook never runs.
type Hook struct {
	Kind     HookKind
	Uses     []string
	Fn       func(ctx HookCtx) error
	Location fixture.Location
}

// HookCtx is what a hook receives at run time.
type HookCtx struct {
	Deps  *fixture.Deps
	Title string // title of the test the hook wraps
}

// TestFunc is a test body. Deps carries the values of the test's requested
// fixtures.
type TestFunc func(t *T) error

// T is the per-attempt context handed to a test body.
type T struct {
	Title    string
	Deps     *fixture.Deps
	Retry    int
	StepFunc func(title string, fn func() error) error // emits step events when running under a worker
}

// Step runs fn as a named step, reporting begin/end events to the host when
// the test runs under a worker process.
func (t *T) Step(title string, fn func() error) error {
	if t.StepFunc != nil {
		return t.StepFunc(title, fn)
	}
	return fn()
}

// Test is one declared test.
type Test struct {
	ID          string
	Title       string
	Uses        []string // explicit fixture parameter names
	Fn          TestFunc
	Location    fixture.Location
	Timeout     int64 // per-test timeout override in ms; 0 = project default
	Skip        func(deps *fixture.Deps) (bool, string)
	SkipUses    []string // fixtures the skip predicate needs
	Annotations []string

	// Registry is the fixture registry in effect at the registration site.
	Registry *fixture.Registry
}

// Suite accumulates tests and hooks in registration order.
type Suite struct {
	Tests []*Test
	Hooks []*Hook
}

// New returns an empty suite.
func New() *Suite {
	return &Suite{}
}

// Add registers a test, assigning its ordinal ID.
func (s *Suite) Add(t *Test) {
	t.ID = fmt.Sprintf("t%d", len(s.Tests))
	s.Tests = append(s.Tests, t)
}

// AddHook registers a beforeEach or afterEach hook.
func (s *Suite) AddHook(h *Hook) {
	s.Hooks = append(s.Hooks, h)
}

// ByID returns the test with the given ID, or nil.
func (s *Suite) ByID(id string) *Test {
	for _, t := range s.Tests {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// HooksOf returns the hooks of one kind in registration order.
func (s *Suite) HooksOf(kind HookKind) []*Hook {
	var out []*Hook
	for _, h := range s.Hooks {
		if h.Kind == kind {
			out = append(out, h)
		}
	}
	return out
}
