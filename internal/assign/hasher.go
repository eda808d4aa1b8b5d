package assign

import "crypto/sha256"

// Hasher produces a uniformly distributed digest of a string. Bucketing
// fairness depends on this uniformity; fast non-cryptographic hashes
// cluster and must not be used here.
type Hasher interface {
	Sum(s string) []byte
}

// SHA256Hasher is the default Hasher.
type SHA256Hasher struct{}

func (SHA256Hasher) Sum(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}
