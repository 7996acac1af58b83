package filter

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/haukened/handlegate/internal/claims/domain"
)

// guard serializes writers over a shared filter structure and records a
// fault when a writer aborts mid-mutation. Readers take the shared lock.
type guard struct {
	mu      sync.RWMutex
	faulted atomic.Bool
}

// mutate runs fn under the write lock. A panic inside fn leaves the
// structure in an unknown state: the guard is marked faulted and the panic
// is returned as ErrFilterFaulted instead of unwinding the caller.
func (g *guard) mutate(fn func() error) (err error) {
	if g.faulted.Load() {
		return domain.ErrFilterFaulted
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			g.faulted.Store(true)
			err = fmt.Errorf("%w: writer aborted: %v", domain.ErrFilterFaulted, r)
		}
	}()
	return fn()
}

// read runs fn under the read lock. A faulted filter answers true
// ("maybe present") without consulting the structure.
func (g *guard) read(fn func() bool) bool {
	if g.faulted.Load() {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn()
}

// Faulted reports whether a writer has aborted mid-mutation.
func (g *guard) Faulted() bool {
	return g.faulted.Load()
}
