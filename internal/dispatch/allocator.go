package dispatch

import "sync"

// indexAllocator hands out monotonically increasing worker indices. It is
// owned by the Dispatcher; there is no package-level counter.
type indexAllocator struct {
	mu   sync.Mutex
	next int
}

// Next returns the next worker index, starting at 0.
func (a *indexAllocator) Next() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.next
	a.next++
	return n
}
