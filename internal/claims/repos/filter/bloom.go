package filter

import (
	"math"

	bitsbloom "github.com/bits-and-blooms/bloom/v3"
)

// Bloom wraps a bits-and-blooms filter. It never rejects an insert: past its
// configured capacity it keeps accepting tokens at a degraded false-positive
// rate, which Stats reports as Saturated. Bloom filters cannot delete, so
// Remove always returns false.
type Bloom struct {
	guard
	bf       *bitsbloom.BloomFilter
	capacity uint64
	fpRate   float64
	count    uint64
}

// NewBloom returns an empty Bloom filter sized from opts.
func NewBloom(opts Options) *Bloom {
	opts = opts.withDefaults()
	return &Bloom{
		bf:       bitsbloom.NewWithEstimates(uint(opts.Capacity), opts.FPRate),
		capacity: opts.Capacity,
		fpRate:   opts.FPRate,
	}
}

func (b *Bloom) Insert(token string) error {
	return b.mutate(func() error {
		b.bf.AddString(token)
		b.count++
		return nil
	})
}

func (b *Bloom) InsertBatch(tokens []string) error {
	return b.mutate(func() error {
		for _, t := range tokens {
			b.bf.AddString(t)
		}
		b.count += uint64(len(tokens))
		return nil
	})
}

func (b *Bloom) MightContain(token string) bool {
	return b.read(func() bool {
		return b.bf.TestString(token)
	})
}

func (b *Bloom) Remove(string) bool { return false }

func (b *Bloom) Stats() Stats {
	st := Stats{Kind: KindBloom, Segments: 1, Capacity: b.capacity, Faulted: b.Faulted()}
	b.mu.RLock()
	defer b.mu.RUnlock()
	st.Count = b.count
	st.LoadFactor = float64(b.count) / float64(b.capacity)
	st.Saturated = b.count > b.capacity
	st.EstimatedFPRate = math.Max(b.fpRate, fpEstimate(b.bf.Cap(), b.bf.K(), b.count))
	return st
}

// fpEstimate is the standard (1 - e^(-kn/m))^k approximation.
func fpEstimate(m, k uint, n uint64) float64 {
	if m == 0 {
		return 1
	}
	return math.Pow(1-math.Exp(-float64(k)*float64(n)/float64(m)), float64(k))
}

var _ Membership = (*Bloom)(nil)
