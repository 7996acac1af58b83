package domain

import (
	"time"

	"github.com/google/uuid"
)

// ClaimRequest is the input to a claim: the identifier as submitted and an
// opaque owner reference supplied by the caller.
type ClaimRequest struct {
	Identifier string
	Owner      string
}

// Claim is a claimed identifier as recorded by the authoritative store.
type Claim struct {
	ID           uuid.UUID
	Identifier   string // normalized token, unique
	Display      string // as submitted, trimmed
	Owner        string
	ClaimedAt    time.Time
	LastActiveAt time.Time
}

// NewClaim builds a Claim for req at the given time. It normalizes the
// identifier and fails with ErrInvalidIdentifier when nothing remains.
func NewClaim(req ClaimRequest, now time.Time) (Claim, error) {
	token, err := NormalizeIdentifier(req.Identifier)
	if err != nil {
		return Claim{}, err
	}
	now = now.UTC()
	return Claim{
		ID:           uuid.New(),
		Identifier:   token,
		Display:      DisplayIdentifier(req.Identifier),
		Owner:        req.Owner,
		ClaimedAt:    now,
		LastActiveAt: now,
	}, nil
}
