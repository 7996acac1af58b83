package filter

import (
	"sync/atomic"
	"time"

	"github.com/haukened/handlegate/internal/claims/domain"
)

// Cuckoo is a growable cuckoo filter. It starts with one segment sized for
// Options.Capacity; when an insert cannot be placed, a segment of twice the
// previous capacity is appended and the insert lands there. Lookups consult
// every segment, so the effective false-positive rate is roughly the target
// rate times the number of segments.
//
// Once growth is exhausted the filter is saturated: the rejected token is
// not stored, so every lookup answers "maybe present" from then on and
// callers fall through to the next tier.
type Cuckoo struct {
	guard
	saturated   atomic.Bool
	segments    []*segment
	fpBits      uint
	maxSegments int
	fpRate      float64
	seed        uint64
}

// NewCuckoo returns an empty Cuckoo filter sized from opts.
func NewCuckoo(opts Options) *Cuckoo {
	opts = opts.withDefaults()
	seed := uint64(time.Now().UnixNano())
	c := &Cuckoo{
		fpBits:      fingerprintBits(opts.FPRate),
		maxSegments: opts.MaxSegments,
		fpRate:      opts.FPRate,
		seed:        seed,
	}
	c.segments = []*segment{newSegment(opts.Capacity, c.fpBits, seed)}
	return c
}

// Insert adds token. It fails only with ErrCapacityExhausted or
// ErrFilterFaulted. A token whose fingerprint is already present is not
// stored twice.
func (c *Cuckoo) Insert(token string) error {
	h := hashToken(token)
	return c.mutate(func() error {
		return c.insertLocked(h)
	})
}

// InsertBatch adds every token under a single acquisition of the write lock.
// It stops at the first token that cannot be placed and returns
// ErrCapacityExhausted; the filter is saturated by then, so the tokens left
// out are still reported as maybe present.
func (c *Cuckoo) InsertBatch(tokens []string) error {
	return c.mutate(func() error {
		for _, t := range tokens {
			if err := c.insertLocked(hashToken(t)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Cuckoo) insertLocked(h uint64) error {
	if c.saturated.Load() {
		return domain.ErrCapacityExhausted
	}
	for _, s := range c.segments {
		if s.contains(h) {
			return nil
		}
	}
	last := c.segments[len(c.segments)-1]
	if last.insert(h) {
		return nil
	}
	if len(c.segments) < c.maxSegments {
		next := newSegment(last.capacity*2, c.fpBits, c.seed+uint64(len(c.segments)))
		c.segments = append(c.segments, next)
		if next.insert(h) {
			return nil
		}
	}
	c.saturated.Store(true)
	return domain.ErrCapacityExhausted
}

// MightContain reports false only if token was never inserted (or was removed).
// A saturated filter reports true for every token.
func (c *Cuckoo) MightContain(token string) bool {
	if c.saturated.Load() {
		return true
	}
	h := hashToken(token)
	return c.read(func() bool {
		for _, s := range c.segments {
			if s.contains(h) {
				return true
			}
		}
		return false
	})
}

// Remove deletes token's fingerprint, newest segment first. Tokens that
// share a fingerprint and bucket pair share one stored copy, so removing one
// of them removes the other too. Identifiers are never released; Remove is
// for operational repair only.
func (c *Cuckoo) Remove(token string) bool {
	h := hashToken(token)
	var removed bool
	_ = c.mutate(func() error {
		for i := len(c.segments) - 1; i >= 0; i-- {
			if c.segments[i].remove(h) {
				removed = true
				return nil
			}
		}
		return nil
	})
	return removed
}

// Stats returns a snapshot of occupancy and sizing.
func (c *Cuckoo) Stats() Stats {
	st := Stats{
		Kind:            KindCuckoo,
		FingerprintBits: c.fpBits,
		Faulted:         c.Faulted(),
		Saturated:       c.saturated.Load(),
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	var slots uint64
	for _, s := range c.segments {
		st.Capacity += s.capacity
		st.Count += s.count
		slots += s.slots()
	}
	st.Segments = len(c.segments)
	if slots > 0 {
		st.LoadFactor = float64(st.Count) / float64(slots)
	}
	st.EstimatedFPRate = c.fpRate * float64(st.Segments)
	if st.Saturated {
		st.EstimatedFPRate = 1
	}
	return st
}

var _ Membership = (*Cuckoo)(nil)
