package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haukened/handlegate/internal/claims/services/bootstrap"
)

const dependencyTimeout = 2 * time.Second

var errBootstrapping = errors.New("bootstrapping")

// dependency is a named liveness check against an external backend.
type dependency struct {
	name  string
	check func(ctx context.Context) error
}

// readiness reports ready once bootstrap has finished or was skipped and
// every external dependency answers. A failed bootstrap still counts as
// finished; the cascade stays correct without warm tiers.
type readiness struct {
	ready  atomic.Bool
	handle atomic.Pointer[bootstrap.Handle]

	mu   sync.Mutex
	deps []dependency
}

func (r *readiness) watch(h *bootstrap.Handle) {
	r.handle.Store(h)
}

func (r *readiness) markReady() {
	r.ready.Store(true)
}

func (r *readiness) depend(name string, check func(ctx context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deps = append(r.deps, dependency{name: name, check: check})
}

// Ready returns nil when the service can take traffic.
func (r *readiness) Ready(ctx context.Context) error {
	if !r.bootstrapped() {
		return errBootstrapping
	}
	r.mu.Lock()
	deps := append([]dependency(nil), r.deps...)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, dependencyTimeout)
	defer cancel()
	for _, d := range deps {
		if err := d.check(ctx); err != nil {
			return fmt.Errorf("%s unavailable: %w", d.name, err)
		}
	}
	return nil
}

func (r *readiness) bootstrapped() bool {
	if r.ready.Load() {
		return true
	}
	if h := r.handle.Load(); h != nil {
		return h.Ready()
	}
	return false
}
