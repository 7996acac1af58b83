package filter

import "math/rand/v2"

type bucket [slotsPerBucket]uint16

// put stores fp in the first free slot.
func (b *bucket) put(fp uint16) bool {
	for i, v := range b {
		if v == 0 {
			b[i] = fp
			return true
		}
	}
	return false
}

func (b *bucket) has(fp uint16) bool {
	for _, v := range b {
		if v == fp {
			return true
		}
	}
	return false
}

// del clears one slot holding fp.
func (b *bucket) del(fp uint16) bool {
	for i, v := range b {
		if v == fp {
			b[i] = 0
			return true
		}
	}
	return false
}

// segment is a single fixed-size cuckoo table. It is not synchronized; the
// owning Cuckoo serializes writers.
type segment struct {
	buckets  []bucket
	mask     uint64
	fpMask   uint64
	capacity uint64
	count    uint64
	rng      *rand.Rand
}

// displacement records a slot overwritten during relocation so a failed
// insert can be unwound.
type displacement struct {
	bucket uint64
	slot   int
	prev   uint16
}

func newSegment(capacity uint64, fpBits uint, seed uint64) *segment {
	n := bucketCount(capacity)
	return &segment{
		buckets:  make([]bucket, n),
		mask:     n - 1,
		fpMask:   (1 << fpBits) - 1,
		capacity: capacity,
		rng:      rand.New(rand.NewPCG(seed, n)),
	}
}

// fingerprint takes the fingerprint from the upper half of h, away from the
// low bits used for the bucket index. Zero marks an empty slot.
func (s *segment) fingerprint(h uint64) uint16 {
	fp := uint16((h >> 32) & s.fpMask)
	if fp == 0 {
		fp = 1
	}
	return fp
}

func (s *segment) altIndex(i uint64, fp uint16) uint64 {
	return (i ^ fingerprintHash(fp)) & s.mask
}

func (s *segment) indices(h uint64) (uint64, uint64, uint16) {
	fp := s.fingerprint(h)
	i1 := h & s.mask
	return i1, s.altIndex(i1, fp), fp
}

// insert places the fingerprint of h, relocating residents up to maxKicks
// times. On failure every displacement is reverted, so no resident
// fingerprint is lost.
func (s *segment) insert(h uint64) bool {
	i1, i2, fp := s.indices(h)
	if s.buckets[i1].put(fp) || s.buckets[i2].put(fp) {
		s.count++
		return true
	}

	path := make([]displacement, 0, 16)
	i := i1
	if s.rng.IntN(2) == 1 {
		i = i2
	}
	cur := fp
	for k := 0; k < maxKicks; k++ {
		slot := s.rng.IntN(slotsPerBucket)
		prev := s.buckets[i][slot]
		s.buckets[i][slot] = cur
		path = append(path, displacement{bucket: i, slot: slot, prev: prev})
		cur = prev
		i = s.altIndex(i, cur)
		if s.buckets[i].put(cur) {
			s.count++
			return true
		}
	}

	for j := len(path) - 1; j >= 0; j-- {
		d := path[j]
		s.buckets[d.bucket][d.slot] = d.prev
	}
	return false
}

func (s *segment) contains(h uint64) bool {
	i1, i2, fp := s.indices(h)
	return s.buckets[i1].has(fp) || s.buckets[i2].has(fp)
}

func (s *segment) remove(h uint64) bool {
	i1, i2, fp := s.indices(h)
	if s.buckets[i1].del(fp) || s.buckets[i2].del(fp) {
		s.count--
		return true
	}
	return false
}

func (s *segment) slots() uint64 {
	return uint64(len(s.buckets)) * slotsPerBucket
}
