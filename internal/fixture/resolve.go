package fixture

import (
	"fmt"
	"strings"
)

// Edge is one resolved dependency of a plan node. Name is the name under
// which the setup routine sees the value; for a self-referencing override it
// is the override's own name bound to the base declaration.
type Edge struct {
	Name   string
	Target *Declaration
}

// PlanNode is one instantiation step: a declaration plus its resolved
// dependency edges.
type PlanNode struct {
	Decl  *Declaration
	Edges []Edge
}

// Plan is an ordered instantiation plan. Dependencies always precede
// dependents; ties are broken by discovery order, so resolution is stable
// and deterministic for a given registry and request set.
type Plan []*PlanNode

// Node returns the plan node for the given declaration, or nil.
func (p Plan) Node(d *Declaration) *PlanNode {
	for _, n := range p {
		if n.Decl == d {
			return n
		}
	}
	return nil
}

// Request names a fixture demanded by a test or hook. Referrer is rendered
// in unknown-parameter diagnostics ("Test" for test bodies); Location points
// at the requesting site.
type Request struct {
	Name     string
	Referrer string
	Location Location
}

// Resolve computes the instantiation plan satisfying the given requests
// against the registry. It validates scopes, rejects unknown parameters, and
// detects dependency cycles, reporting the minimal cycle as an ordered chain
// of names annotated with the location of each introducing edge.
func Resolve(reg *Registry, requests []Request) (Plan, error) {
	r := &resolver{reg: reg, planned: map[*Declaration]*PlanNode{}}
	for _, req := range requests {
		target := reg.Lookup(req.Name)
		if target == nil {
			return nil, &Error{
				Category: CatResolution,
				Name:     req.Name,
				Location: req.Location,
				Message:  fmt.Sprintf("%s has unknown parameter %q.", req.Referrer, req.Name),
				Err:      ErrUnknownParameter,
			}
		}
		if err := r.visit(target); err != nil {
			return nil, err
		}
	}
	return r.plan, nil
}

// PlanFor resolves the plan for a single test: the registry's auto fixtures
// joined with the test's requested parameter set.
func PlanFor(reg *Registry, testLoc Location, params []string) (Plan, error) {
	var requests []Request
	for _, name := range reg.AutoNames() {
		d := reg.Lookup(name)
		requests = append(requests, Request{Name: name, Referrer: fmt.Sprintf("Fixture %q", name), Location: d.Location})
	}
	for _, name := range params {
		requests = append(requests, Request{Name: name, Referrer: "Test", Location: testLoc})
	}
	return Resolve(reg, requests)
}

// stackEntry is one frame of the depth-first visiting stack, recording the
// edge that led to the declaration.
type stackEntry struct {
	decl *Declaration
	via  Location
}

type resolver struct {
	reg     *Registry
	plan    Plan
	planned map[*Declaration]*PlanNode
	stack   []stackEntry
}

// visit resolves decl and, recursively, its dependencies, appending to the
// plan in postorder so dependencies land before dependents.
func (r *resolver) visit(d *Declaration) error {
	if _, done := r.planned[d]; done {
		return nil
	}
	for i, e := range r.stack {
		if e.decl == d {
			return r.cycleError(i, d)
		}
	}
	r.stack = append(r.stack, stackEntry{decl: d, via: d.Location})
	defer func() { r.stack = r.stack[:len(r.stack)-1] }()

	node := &PlanNode{Decl: d}
	for _, depName := range d.DepNames {
		target, err := r.resolveEdge(d, depName)
		if err != nil {
			return err
		}
		if err := r.visit(target); err != nil {
			return err
		}
		node.Edges = append(node.Edges, Edge{Name: depName, Target: target})
	}
	r.planned[d] = node
	r.plan = append(r.plan, node)
	return nil
}

// resolveEdge maps one declared dependency name to its target declaration. A
// dependency on the declaration's own name means the previous definition in
// the override chain. Worker-on-test violations are checked here, at the
// immediate edge, so indirect chains are caught as the plan builds.
func (r *resolver) resolveEdge(d *Declaration, depName string) (*Declaration, error) {
	var target *Declaration
	if depName == d.Name {
		target = d.prev // never nil: checked at registration
	} else {
		target = r.reg.Lookup(depName)
	}
	if target == nil {
		return nil, &Error{
			Category: CatResolution,
			Name:     d.Name,
			Location: d.Location,
			Message:  fmt.Sprintf("Fixture %q has unknown parameter %q.", d.Name, depName),
			Err:      ErrUnknownParameter,
		}
	}
	if d.Scope == ScopeWorker && target.Scope == ScopeTest {
		return nil, &Error{
			Category: CatResolution,
			Name:     d.Name,
			Location: d.Location,
			Message: fmt.Sprintf("worker fixture %q cannot depend on a test fixture %q defined at %s.",
				d.Name, target.Name, target.Location),
			Err: ErrScopeViolation,
		}
	}
	return target, nil
}

// cycleError renders the minimal cycle starting at the first stack
// occurrence of d, each hop annotated with the location of the declaration
// that introduced the edge.
func (r *resolver) cycleError(start int, d *Declaration) error {
	var hops []string
	for _, e := range r.stack[start:] {
		hops = append(hops, fmt.Sprintf("%q (%s)", e.decl.Name, e.decl.Location))
	}
	hops = append(hops, fmt.Sprintf("%q", d.Name))
	return &Error{
		Category: CatResolution,
		Name:     d.Name,
		Location: d.Location,
		Message:  "Fixtures form a dependency cycle: " + strings.Join(hops, " -> "),
		Err:      ErrDependencyCycle,
	}
}
