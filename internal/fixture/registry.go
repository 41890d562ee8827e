// Package fixture implements the fixture engine: an override-aware registry
// of scoped setup/teardown units, a dependency-graph resolver producing
// deterministic instantiation plans, and a lifecycle executor that runs
// setup, test body, and teardown phases under exact timeout budgets.
package fixture

import (
	"context"
	"fmt"
	"slices"
)

// Scope is the lifetime class of a fixture instance.
type Scope string

const (
	// ScopeTest fixtures are instantiated once per test attempt.
	ScopeTest Scope = "test"
	// ScopeWorker fixtures are instantiated once per worker process per
	// compatible worker hash and shared across the tests that worker runs.
	ScopeWorker Scope = "worker"
)

// Deps exposes the already-active dependency values to a setup routine or a
// test body. Lookups are by declared dependency name.
type Deps struct {
	values map[string]any
}

// Get returns the value of the named dependency, or nil if the name was not
// declared as a dependency.
func (d *Deps) Get(name string) any {
	if d == nil {
		return nil
	}
	return d.values[name]
}

// ProvideFunc hands the fixture's value to the engine. It blocks until the
// owning scope ends; the code after the call is the fixture's teardown.
type ProvideFunc func(value any) error

// SetupFunc is a fixture routine. It must call provide exactly once; the
// engine resumes it for teardown by unblocking that call.
type SetupFunc func(ctx context.Context, deps *Deps, provide ProvideFunc) error

// Declaration describes one registered definition of a fixture. Overrides of
// the same name form a singly-linked chain through prev; the head of the
// chain is the effective definition for the registry that produced it.
type Declaration struct {
	Name        string
	Scope       Scope
	DepNames    []string
	Setup       SetupFunc // nil for value/option fixtures
	Auto        bool      // instantiated for every test regardless of requests
	Option      bool      // carries a project-overridable serializable value
	OptionValue any
	Location    Location

	prev *Declaration
}

// Base returns the previous definition of this name in the override chain,
// or nil if this declaration is the first.
func (d *Declaration) Base() *Declaration {
	return d.prev
}

// selfReferential reports whether the declaration lists its own name as a
// dependency, meaning "the previous definition".
func (d *Declaration) selfReferential() bool {
	return slices.Contains(d.DepNames, d.Name)
}

// Registry is an immutable mapping from fixture name to its effective
// declaration. Extend produces a child that shares the parent's declarations
// by reference and only adds or overrides entries; ancestors are never
// mutated.
type Registry struct {
	parent *Registry
	decls  map[string]*Declaration
	order  []string // names first declared or overridden at this level
}

// NewRegistry returns an empty root registry.
func NewRegistry() *Registry {
	return &Registry{decls: map[string]*Declaration{}}
}

// Input is a declaration as written at the extension surface. RawScope is
// the scope string as declared: empty inherits the existing scope for
// overrides and defaults to test for new names.
type Input struct {
	Name        string
	RawScope    string
	DepNames    []string
	Setup       SetupFunc
	Auto        bool
	Option      bool
	OptionValue any
	Location    Location
}

// Extend returns a new registry containing the given declarations on top of
// the receiver. It fails on scope conflicts, self-references without a base,
// and malformed scope values.
func (r *Registry) Extend(inputs []Input) (*Registry, error) {
	child := &Registry{parent: r, decls: make(map[string]*Declaration, len(inputs))}
	for _, in := range inputs {
		prev := r.Lookup(in.Name)
		scope, err := effectiveScope(in, prev)
		if err != nil {
			return nil, err
		}
		if prev != nil && prev.Scope != scope {
			return nil, &Error{
				Category: CatConfiguration,
				Name:     in.Name,
				Location: in.Location,
				Message: fmt.Sprintf("Fixture %q has already been registered as a %s fixture defined at %s.",
					in.Name, prev.Scope, prev.Location),
				Err: ErrScopeConflict,
			}
		}
		d := &Declaration{
			Name:        in.Name,
			Scope:       scope,
			DepNames:    slices.Clone(in.DepNames),
			Setup:       in.Setup,
			Auto:        in.Auto,
			Option:      in.Option,
			OptionValue: in.OptionValue,
			Location:    in.Location,
			prev:        prev,
		}
		if d.selfReferential() && prev == nil {
			return nil, &Error{
				Category: CatConfiguration,
				Name:     in.Name,
				Location: in.Location,
				Message:  fmt.Sprintf("Fixture %q references itself, but does not have a base implementation.", in.Name),
				Err:      ErrNoBase,
			}
		}
		child.decls[d.Name] = d
		if !slices.Contains(child.order, d.Name) {
			child.order = append(child.order, d.Name)
		}
	}
	return child, nil
}

// effectiveScope validates the raw scope string against any previous
// declaration of the same name.
func effectiveScope(in Input, prev *Declaration) (Scope, error) {
	switch in.RawScope {
	case "":
		if prev != nil {
			return prev.Scope, nil
		}
		return ScopeTest, nil
	case string(ScopeTest):
		return ScopeTest, nil
	case string(ScopeWorker):
		return ScopeWorker, nil
	default:
		return "", &Error{
			Category: CatConfiguration,
			Name:     in.Name,
			Location: in.Location,
			Message:  fmt.Sprintf("Fixture %q has unsupported scope %q.", in.Name, in.RawScope),
			Err:      ErrBadScope,
		}
	}
}

// Lookup returns the effective declaration for name, walking the chain from
// the receiver toward the root. Returns nil if the name is not registered.
func (r *Registry) Lookup(name string) *Declaration {
	for reg := r; reg != nil; reg = reg.parent {
		if d, ok := reg.decls[name]; ok {
			return d
		}
	}
	return nil
}

// Names returns every registered fixture name in registration order,
// root-first. Overridden names keep their original position.
func (r *Registry) Names() []string {
	var chain []*Registry
	for reg := r; reg != nil; reg = reg.parent {
		chain = append(chain, reg)
	}
	var names []string
	seen := map[string]bool{}
	for i := len(chain) - 1; i >= 0; i-- {
		for _, n := range chain[i].order {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names
}

// AutoNames returns the names of auto fixtures in registration order. Auto
// fixtures join every instantiation plan alongside the requested set.
func (r *Registry) AutoNames() []string {
	var autos []string
	for _, n := range r.Names() {
		if r.Lookup(n).Auto {
			autos = append(autos, n)
		}
	}
	return autos
}

// WorkerDeclarations returns the effective worker-scope declarations in
// registration order. The dispatch layer hashes these to decide worker
// process reuse.
func (r *Registry) WorkerDeclarations() []*Declaration {
	var decls []*Declaration
	for _, n := range r.Names() {
		if d := r.Lookup(n); d.Scope == ScopeWorker {
			decls = append(decls, d)
		}
	}
	return decls
}

// WithOptionValues returns a child registry with the given option fixtures
// overridden to new values. Unknown names and non-option targets fail; this
// is how project-level configuration reaches the fixture graph.
func (r *Registry) WithOptionValues(values map[string]any) (*Registry, error) {
	if len(values) == 0 {
		return r, nil
	}
	names := make([]string, 0, len(values))
	for n := range values {
		names = append(names, n)
	}
	slices.Sort(names)
	inputs := make([]Input, 0, len(names))
	for _, n := range names {
		d := r.Lookup(n)
		if d == nil {
			return nil, &Error{
				Category: CatConfiguration,
				Name:     n,
				Message:  fmt.Sprintf("Project option %q does not match any registered fixture.", n),
				Err:      ErrUnknownParameter,
			}
		}
		if !d.Option {
			return nil, &Error{
				Category: CatConfiguration,
				Name:     n,
				Location: d.Location,
				Message:  fmt.Sprintf("Fixture %q is not an option and cannot be set from project configuration.", n),
				Err:      ErrBadScope,
			}
		}
		inputs = append(inputs, Input{
			Name:        n,
			RawScope:    string(d.Scope),
			Option:      true,
			OptionValue: values[n],
			Location:    d.Location,
		})
	}
	return r.Extend(inputs)
}
