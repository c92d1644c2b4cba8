package simd

import "math/bits"

// Popcount returns the population count (number of set bits) of x.
// math/bits.OnesCount64 is an intrinsic and lowers to POPCNT where available.
func Popcount(x uint64) int {
	return bits.OnesCount64(x)
}

// HammingDistance computes the Hamming distance between two packed bit vectors.
// a and b must have the same length.
func HammingDistance(a, b []uint64) int {
	dist := 0
	i := 0
	n := len(a)

	// Unroll 4 words at a time
	for ; i <= n-4; i += 4 {
		dist += bits.OnesCount64(a[i]^b[i]) +
			bits.OnesCount64(a[i+1]^b[i+1]) +
			bits.OnesCount64(a[i+2]^b[i+2]) +
			bits.OnesCount64(a[i+3]^b[i+3])
	}
	for ; i < n; i++ {
		dist += bits.OnesCount64(a[i] ^ b[i])
	}
	return dist
}

// MaskedHammingDistance counts differing bits among positions that are valid
// in both masks. It returns the differing count and the number of valid
// positions compared. A nil mask marks every bit of its vector valid; tail
// restricts the final word to its low tail bits (0 means the full word).
func MaskedHammingDistance(a, b, maskA, maskB []uint64, tail uint) (diff, valid int) {
	n := len(a)
	for i := 0; i < n; i++ {
		m := ^uint64(0)
		if maskA != nil {
			m &= maskA[i]
		}
		if maskB != nil {
			m &= maskB[i]
		}
		if i == n-1 && tail > 0 && tail < 64 {
			m &= (uint64(1) << tail) - 1
		}
		diff += bits.OnesCount64((a[i] ^ b[i]) & m)
		valid += bits.OnesCount64(m)
	}
	return diff, valid
}
