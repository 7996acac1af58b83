package resolver

import (
	"context"
	"time"

	"github.com/haukened/handlegate/internal/claims/domain"
)

// Filter is the approximate membership tier. An Insert that fails must
// leave the filter answering true for the token.
type Filter interface {
	Insert(token string) error
	MightContain(token string) bool
}

// Cache is the expiring positive cache tier.
type Cache interface {
	MarkTaken(ctx context.Context, token string) error
	IsTaken(ctx context.Context, token string) (bool, error)
}

// Store is the authoritative store. Insert must report a unique violation
// as domain.ErrConflict; Touch reports an unclaimed token as
// domain.ErrNotFound.
type Store interface {
	Exists(ctx context.Context, token string) (bool, error)
	Insert(ctx context.Context, c domain.Claim) error
	Touch(ctx context.Context, token string, at time.Time) error
}

// Metrics records resolver outcomes.
type Metrics interface {
	ObserveCheck(tier, outcome string, d time.Duration)
	IncClaim(result string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveCheck(string, string, time.Duration) {}
func (nopMetrics) IncClaim(string)                            {}
