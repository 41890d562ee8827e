package fixture

import "errors"

// Sentinel errors for registry construction and graph resolution.
var (
	// ErrScopeConflict indicates a name was redeclared with a different scope
	// than its first declaration.
	ErrScopeConflict = errors.New("fixture scope conflict")
	// ErrNoBase indicates an override lists itself as a dependency but no
	// earlier declaration of that name exists in the chain.
	ErrNoBase = errors.New("fixture has no base implementation")
	// ErrUnknownParameter indicates a fixture or test references a name that
	// is not registered.
	ErrUnknownParameter = errors.New("unknown parameter")
	// ErrDependencyCycle indicates a circular dependency among fixtures.
	ErrDependencyCycle = errors.New("fixture dependency cycle")
	// ErrScopeViolation indicates a worker fixture depends, directly or
	// transitively, on a test fixture.
	ErrScopeViolation = errors.New("worker fixture depends on test fixture")
	// ErrBadScope indicates a declaration carries an unrecognized scope value.
	ErrBadScope = errors.New("unsupported fixture scope")
	// ErrDoubleProvide indicates a setup routine invoked its provide callback
	// more than once.
	ErrDoubleProvide = errors.New("cannot provide fixture value for the second time")
	// ErrNoValue indicates a setup routine returned without ever providing a
	// value.
	ErrNoValue = errors.New("fixture finished setup without providing a value")
)

// Category classifies a fixture fault for programmatic handling.
type Category string

const (
	// CatConfiguration covers bad declarations: scope conflicts,
	// self-reference without a base, malformed scopes.
	CatConfiguration Category = "configuration"
	// CatResolution covers unknown parameters, cycles, and worker-on-test
	// scope violations.
	CatResolution Category = "resolution"
	// CatTimeout covers setup, body, teardown, and worker-teardown timeouts.
	CatTimeout Category = "timeout"
	// CatRuntime covers errors raised by user setup, body, or teardown code.
	CatRuntime Category = "runtime"
)

// Error records a fixture fault with source context. Name is the fixture (or
// test title) the fault is attributed to; Location points at the offending
// declaration or call.
type Error struct {
	Category Category
	Name     string
	Location Location
	Message  string // fully rendered, user-facing text
	Err      error  // sentinel for errors.Is
}

// Error returns the user-facing text, prefixed with the source location when
// one was captured.
func (e *Error) Error() string {
	if e.Location.IsZero() {
		return e.Message
	}
	return e.Location.String() + ": " + e.Message
}

// Unwrap returns the sentinel for use with errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}
