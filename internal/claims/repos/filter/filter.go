// Package filter implements the approximate membership tier: a structure
// that answers "definitely absent" or "maybe present" for claimed tokens and
// never reports an inserted token as absent.
package filter

import "fmt"

// Kind selects a filter implementation.
type Kind string

const (
	KindCuckoo Kind = "cuckoo"
	KindBloom  Kind = "bloom"
)

// Membership is the contract shared by all filter kinds.
type Membership interface {
	Insert(token string) error
	InsertBatch(tokens []string) error
	MightContain(token string) bool
	Remove(token string) bool
	Stats() Stats
}

// Stats is a point-in-time view of a filter.
type Stats struct {
	Kind            Kind
	Segments        int
	Capacity        uint64
	Count           uint64
	LoadFactor      float64
	FingerprintBits uint
	EstimatedFPRate float64
	// Saturated is set when the filter holds more tokens than it was sized
	// for and its false-positive rate exceeds the target. A saturated cuckoo
	// filter answers "maybe present" for everything.
	Saturated bool
	Faulted   bool
}

// New constructs a filter of the given kind.
func New(kind Kind, opts Options) (Membership, error) {
	switch kind {
	case KindCuckoo, "":
		return NewCuckoo(opts), nil
	case KindBloom:
		return NewBloom(opts), nil
	default:
		return nil, fmt.Errorf("unknown filter kind %q", kind)
	}
}
