package fixture

import (
	"fmt"
	"runtime"
)

// Location records the source position of a fixture declaration, a test
// registration, or a dependency edge. Column is best-effort: Go's runtime
// does not expose it, so call sites captured at runtime report column 1.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// Here captures the caller's source position. skip follows the
// runtime.Caller convention: 0 is the caller of Here itself.
func Here(skip int) Location {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return Location{File: "unknown"}
	}
	return Location{File: file, Line: line, Column: 1}
}

// String renders the location as file:line:column.
func (l Location) String() string {
	if l.File == "" {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// IsZero reports whether the location was never captured.
func (l Location) IsZero() bool {
	return l.File == "" && l.Line == 0
}
