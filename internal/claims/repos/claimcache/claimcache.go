// Package claimcache holds confirmed "claimed" markers for a fixed TTL.
// It never stores negatives: a miss means unknown, not available.
package claimcache

import "context"

// Cache is the positive-result tier.
type Cache interface {
	// MarkTaken records token as claimed. Marking a live entry again is a
	// no-op and keeps its original insertion time.
	MarkTaken(ctx context.Context, token string) error
	// IsTaken reports whether a live "claimed" marker exists for token.
	IsTaken(ctx context.Context, token string) (bool, error)
	Stats() Stats
}

// Stats captures cumulative counters for a cache backend.
type Stats struct {
	Backend     string
	Len         int
	Hits        uint64
	Misses      uint64
	Expirations uint64
	Evictions   uint64
}
