package filter

import (
	"math"
	"math/bits"
)

const (
	// slotsPerBucket is the number of fingerprints held by one bucket.
	slotsPerBucket = 4
	// maxLoadFactor is the occupancy a cuckoo segment is sized for.
	maxLoadFactor = 0.95
	// maxKicks bounds relocation attempts for a single insert.
	maxKicks = 500

	minFingerprintBits = 8
	maxFingerprintBits = 16

	DefaultCapacity    = 100_000
	DefaultFPRate      = 0.001
	DefaultMaxSegments = 8
)

// Options sizes a membership filter.
type Options struct {
	// Capacity is the number of tokens the filter is expected to hold.
	Capacity uint64
	// FPRate is the target false-positive rate at Capacity.
	FPRate float64
	// MaxSegments bounds cuckoo growth. Each new segment doubles capacity.
	MaxSegments int
}

func (o Options) withDefaults() Options {
	if o.Capacity == 0 {
		o.Capacity = DefaultCapacity
	}
	if o.FPRate <= 0 || o.FPRate >= 1 {
		o.FPRate = DefaultFPRate
	}
	if o.MaxSegments <= 0 {
		o.MaxSegments = DefaultMaxSegments
	}
	return o
}

// fingerprintBits returns the fingerprint width needed for fpRate with
// 4-slot buckets: eps ~= 2b / 2^f.
func fingerprintBits(fpRate float64) uint {
	f := uint(math.Ceil(math.Log2(2 * slotsPerBucket / fpRate)))
	if f < minFingerprintBits {
		return minFingerprintBits
	}
	if f > maxFingerprintBits {
		return maxFingerprintBits
	}
	return f
}

// bucketCount returns the power-of-two bucket count for capacity tokens at
// maxLoadFactor.
func bucketCount(capacity uint64) uint64 {
	n := uint64(math.Ceil(float64(capacity) / (slotsPerBucket * maxLoadFactor)))
	if n < 1 {
		n = 1
	}
	return nextPow2(n)
}

func nextPow2(n uint64) uint64 {
	if n&(n-1) == 0 {
		return n
	}
	return 1 << bits.Len64(n)
}
