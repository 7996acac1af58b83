// Package claimstore groups the authoritative store adapters. Each adapter
// enforces identifier uniqueness itself and reports a violated constraint as
// domain.ErrConflict and a missing claim as domain.ErrNotFound; every other
// failure wraps domain.ErrStoreUnavailable.
//
// Adapters expose the same method set:
//
//	Exists(ctx, token) (bool, error)
//	Insert(ctx, domain.Claim) error
//	Touch(ctx, token, at time.Time) error
//	StreamAll(ctx, visit func(token string) error) error
//	StreamActiveSince(ctx, since time.Time, visit func(token string) error) error
//	Close() error
package claimstore
