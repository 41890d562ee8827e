// Package dispatch partitions runnable test entries into groups keyed by a
// structural worker hash, assigns groups to persistent worker processes
// under a concurrency limit, and supervises those processes: spawn, IPC,
// teardown timeout, crash diagnostics.
package dispatch

import (
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mrenwl2001/playwright1/internal/fixture"
)

// ErrInconsistentOptions indicates a worker-scope option value could not be
// reduced to a canonical digest. This is a fatal configuration-consistency
// violation, never silently resolved.
var ErrInconsistentOptions = errors.New("inconsistent options")

// Hash computes the structural digest of the worker-scoped configuration
// visible to a registry under one project and repeat index. Two sites with
// value-equal worker overrides compute equal hashes and may share a worker
// process; any structural divergence yields a different hash.
//
// Equality rule: option values are compared by their canonical JSON
// serialization (encoding/json, which orders map keys); non-option worker
// fixtures contribute their declaration site. Values that canonical JSON
// cannot express raise ErrInconsistentOptions.
func Hash(reg *fixture.Registry, projectID string, repeatEachIndex int) (string, error) {
	decls := reg.WorkerDeclarations()
	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		if d.Option {
			raw, err := json.Marshal(d.OptionValue)
			if err != nil {
				return "", fmt.Errorf("%w: worker fixture %q has a non-serializable option value: %v",
					ErrInconsistentOptions, d.Name, err)
			}
			parts = append(parts, d.Name+"="+string(raw))
		} else {
			parts = append(parts, d.Name+"@"+d.Location.String())
		}
	}
	sort.Strings(parts)

	sum := sha1.Sum([]byte(fmt.Sprintf("%s#%d#%s", projectID, repeatEachIndex, strings.Join(parts, ";"))))
	return fmt.Sprintf("%x", sum[:8]), nil
}
