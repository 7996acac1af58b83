package filter

import "github.com/zeebo/xxh3"

// hashToken computes the 64-bit hash every segment derives its bucket
// indices and fingerprint from.
func hashToken(token string) uint64 {
	return xxh3.HashString(token)
}

// fingerprintHash spreads a fingerprint over 64 bits for alternate bucket
// computation (partial-key cuckoo hashing).
func fingerprintHash(fp uint16) uint64 {
	return uint64(fp) * 0x5bd1e995
}
