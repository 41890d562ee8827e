package fixture

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle phase of a fixture instance.
type State int

const (
	// Uninstantiated is the initial state.
	Uninstantiated State = iota
	// SettingUp means the setup routine is running and has not provided a
	// value yet.
	SettingUp
	// Active means the value was provided; dependents and the test body may
	// use it.
	Active
	// TearingDown means the routine was resumed past its provide point.
	TearingDown
	// Torn is the clean terminal state.
	Torn
	// Failed is the terminal state after an error or timeout.
	Failed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Uninstantiated:
		return "uninstantiated"
	case SettingUp:
		return "setting up"
	case Active:
		return "active"
	case TearingDown:
		return "tearing down"
	case Torn:
		return "torn"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Instance is the runtime record of one fixture within its owning scope.
type Instance struct {
	Decl           *Declaration
	State          State
	Value          any
	InstantiatedAt time.Time

	provided chan any
	finished chan error
	release  chan struct{}

	mu           sync.Mutex
	provideCalls int
	fault        error // recorded once; later faults for this instance are dropped
	releaseOnce  sync.Once
}

// recordFault stores the first fault observed for the instance.
func (i *Instance) recordFault(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.fault == nil {
		i.fault = err
	}
}

// Fault returns the recorded fault, or nil.
func (i *Instance) Fault() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.fault
}

// Executor instantiates and tears down fixture instances for one scope. A
// test-scope executor may chain to a worker-scope outer executor: worker
// fixtures demanded by a test are created in and torn down by the outer
// one, which is how instances survive across the tests a worker runs.
type Executor struct {
	ctx   context.Context // scope lifetime; cancellation unblocks abandoned routines
	outer *Executor

	mu        sync.Mutex
	instances map[*Declaration]*Instance
	order     []*Instance // achieved instantiation order
	reported  map[string]bool
}

// NewExecutor creates an executor whose abandoned routines unblock when ctx
// is canceled. outer may be nil.
func NewExecutor(ctx context.Context, outer *Executor) *Executor {
	return &Executor{
		ctx:       ctx,
		outer:     outer,
		instances: map[*Declaration]*Instance{},
		reported:  map[string]bool{},
	}
}

// owner returns the executor that owns instances of the given declaration.
func (e *Executor) owner(d *Declaration) *Executor {
	if d.Scope == ScopeWorker && e.outer != nil {
		return e.outer
	}
	return e
}

// instance returns the existing instance for d across the chain, or nil.
func (e *Executor) instance(d *Declaration) *Instance {
	o := e.owner(d)
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.instances[d]
}

// Value returns the active value for a declaration, if any.
func (e *Executor) Value(d *Declaration) (any, bool) {
	inst := e.instance(d)
	if inst == nil || inst.State != Active {
		return nil, false
	}
	return inst.Value, true
}

// SetUpPlan instantiates every node of the plan in order against the budget.
// It stops at the first failure: nodes after the failed one are never
// invoked, while already-active nodes keep their values for teardown.
func (e *Executor) SetUpPlan(plan Plan, b *Budget) error {
	for _, node := range plan {
		if err := e.SetUp(node, b); err != nil {
			return err
		}
	}
	return nil
}

// SetUp instantiates one plan node. Reuses an existing active instance (the
// worker-scope sharing path); a previously failed instance fails fast with
// its recorded fault. Setup draws on the test's budget regardless of the
// fixture's scope.
func (e *Executor) SetUp(node *PlanNode, b *Budget) error {
	d := node.Decl
	o := e.owner(d)

	o.mu.Lock()
	if inst := o.instances[d]; inst != nil {
		o.mu.Unlock()
		switch inst.State {
		case Active:
			return nil
		default:
			return inst.Fault()
		}
	}
	inst := &Instance{
		Decl:     d,
		provided: make(chan any, 1),
		finished: make(chan error, 1),
		release:  make(chan struct{}),
	}
	o.instances[d] = inst
	o.mu.Unlock()

	deps, err := e.depsFor(node)
	if err != nil {
		inst.State = Failed
		inst.recordFault(err)
		return err
	}

	// Value and option fixtures have no routine: they are active the moment
	// their value is known.
	if d.Setup == nil {
		inst.Value = d.OptionValue
		inst.State = Active
		inst.InstantiatedAt = time.Now()
		o.appendOrder(inst)
		return nil
	}

	inst.State = SettingUp
	go o.runRoutine(inst, deps)

	select {
	case v := <-inst.provided:
		inst.Value = v
		inst.State = Active
		inst.InstantiatedAt = time.Now()
		o.appendOrder(inst)
		return nil
	case routineErr := <-inst.finished:
		inst.State = Failed
		fault := o.setupFinishFault(inst, routineErr)
		inst.recordFault(fault)
		return fault
	case <-budgetTimer(b):
		// The routine may still be running; it is abandoned, never torn down.
		inst.State = Failed
		fault := &Error{
			Category: CatTimeout,
			Name:     d.Name,
			Location: d.Location,
			Message:  fmt.Sprintf("Test timeout of %dms exceeded while setting up %q.", b.Millis(), d.Name),
			Err:      context.DeadlineExceeded,
		}
		inst.recordFault(fault)
		return fault
	case <-e.ctx.Done():
		inst.State = Failed
		inst.recordFault(e.ctx.Err())
		return e.ctx.Err()
	}
}

// runRoutine executes the setup routine with the blocking provide callback.
// provide hands the value to the engine and parks until teardown releases
// the routine; everything after the call is the fixture's teardown.
func (e *Executor) runRoutine(inst *Instance, deps *Deps) {
	provide := func(value any) error {
		inst.mu.Lock()
		inst.provideCalls++
		calls := inst.provideCalls
		inst.mu.Unlock()
		if calls > 1 {
			err := &Error{
				Category: CatRuntime,
				Name:     inst.Decl.Name,
				Location: inst.Decl.Location,
				Message:  "Cannot provide fixture value for the second time.",
				Err:      ErrDoubleProvide,
			}
			inst.recordFault(err)
			return err
		}
		select {
		case inst.provided <- value:
		case <-e.ctx.Done():
			return e.ctx.Err()
		}
		select {
		case <-inst.release:
			return nil
		case <-e.ctx.Done():
			return e.ctx.Err()
		}
	}
	inst.finished <- inst.Decl.Setup(e.ctx, deps, provide)
}

// setupFinishFault classifies a routine that returned before providing.
func (e *Executor) setupFinishFault(inst *Instance, routineErr error) error {
	d := inst.Decl
	if routineErr == nil {
		return &Error{
			Category: CatRuntime,
			Name:     d.Name,
			Location: d.Location,
			Message:  fmt.Sprintf("Fixture %q finished setup without providing a value.", d.Name),
			Err:      ErrNoValue,
		}
	}
	if ferr, ok := routineErr.(*Error); ok {
		return ferr
	}
	return &Error{
		Category: CatRuntime,
		Name:     d.Name,
		Location: d.Location,
		Message:  routineErr.Error(),
		Err:      routineErr,
	}
}

// depsFor assembles the dependency values for a node. Every edge target must
// already be active in this executor or its outer chain.
func (e *Executor) depsFor(node *PlanNode) (*Deps, error) {
	values := make(map[string]any, len(node.Edges))
	for _, edge := range node.Edges {
		v, ok := e.Value(edge.Target)
		if !ok {
			return nil, fmt.Errorf("fixture %q: dependency %q is not active", node.Decl.Name, edge.Name)
		}
		values[edge.Name] = v
	}
	return &Deps{values: values}, nil
}

// appendOrder records the achieved instantiation order under the lock.
func (e *Executor) appendOrder(inst *Instance) {
	e.mu.Lock()
	e.order = append(e.order, inst)
	e.mu.Unlock()
}

// TearDownAll resumes every active routine in exact reverse of the achieved
// instantiation order. label distinguishes "Test" from "Worker teardown" in
// timeout texts. Each distinct error is returned exactly once, even if a
// routine reports it again through another path.
func (e *Executor) TearDownAll(b *Budget, label string) []error {
	e.mu.Lock()
	order := make([]*Instance, len(e.order))
	copy(order, e.order)
	e.order = nil
	e.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		if err := e.tearDown(order[i], b, label); err != nil && e.firstReport(err) {
			errs = append(errs, err)
		}
	}
	return errs
}

// tearDown releases one instance's routine and awaits its remaining code.
// Instances that never reached Active are skipped: their setup never yielded
// a value to release.
func (e *Executor) tearDown(inst *Instance, b *Budget, label string) error {
	if inst.State != Active {
		return nil
	}
	if inst.Decl.Setup == nil {
		inst.State = Torn
		return nil
	}
	inst.State = TearingDown
	inst.releaseOnce.Do(func() { close(inst.release) })

	select {
	case routineErr := <-inst.finished:
		if fault := inst.Fault(); fault != nil {
			inst.State = Failed
			return fault
		}
		if routineErr != nil {
			inst.State = Failed
			return e.teardownFault(inst, routineErr)
		}
		inst.State = Torn
		return nil
	case <-budgetTimer(b):
		inst.State = Failed
		fault := &Error{
			Category: CatTimeout,
			Name:     inst.Decl.Name,
			Location: inst.Decl.Location,
			Message: fmt.Sprintf("%s timeout of %dms exceeded while tearing down %q.",
				label, b.Millis(), inst.Decl.Name),
			Err: context.DeadlineExceeded,
		}
		inst.recordFault(fault)
		return fault
	case <-e.ctx.Done():
		inst.State = Failed
		return e.ctx.Err()
	}
}

// teardownFault wraps an error raised by teardown code.
func (e *Executor) teardownFault(inst *Instance, routineErr error) error {
	if ferr, ok := routineErr.(*Error); ok {
		return ferr
	}
	return &Error{
		Category: CatRuntime,
		Name:     inst.Decl.Name,
		Location: inst.Decl.Location,
		Message:  routineErr.Error(),
		Err:      routineErr,
	}
}

// firstReport marks an error text as reported and reports whether this was
// its first occurrence. Dedup is the executor's job, not the reporter's.
func (e *Executor) firstReport(err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reported[err.Error()] {
		return false
	}
	e.reported[err.Error()] = true
	return true
}

// budgetTimer returns a channel that fires when the budget's remaining share
// is exhausted, or never for an unlimited budget.
func budgetTimer(b *Budget) <-chan time.Time {
	rem, limited := b.Remaining()
	if !limited {
		return nil
	}
	return time.After(rem)
}

// RunBody executes a test body once all requested instances are active. A
// timeout here names no fixture.
func RunBody(ctx context.Context, b *Budget, deps *Deps, body func(context.Context, *Deps) error) error {
	done := make(chan error, 1)
	go func() { done <- body(ctx, deps) }()
	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if ferr, ok := err.(*Error); ok {
			return ferr
		}
		return &Error{Category: CatRuntime, Message: err.Error(), Err: err}
	case <-budgetTimer(b):
		return &Error{
			Category: CatTimeout,
			Message:  fmt.Sprintf("Test timeout of %dms exceeded.", b.Millis()),
			Err:      context.DeadlineExceeded,
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BodyDeps assembles the dependency values a test body or hook sees for its
// requested parameter set.
func (e *Executor) BodyDeps(reg *Registry, params []string) (*Deps, error) {
	values := make(map[string]any, len(params))
	for _, name := range params {
		d := reg.Lookup(name)
		if d == nil {
			return nil, fmt.Errorf("unknown parameter %q", name)
		}
		v, ok := e.Value(d)
		if !ok {
			return nil, fmt.Errorf("fixture %q is not active", name)
		}
		values[name] = v
	}
	return &Deps{values: values}, nil
}
