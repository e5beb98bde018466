/*
Package bitint provides the integer arithmetic used when negotiating
driver buffer sizes. Drivers express their permitted sizes as a range plus
a granularity, where a granularity of -1 means the size moves in powers of
two.

Design Principles:
- Zero Allocations: All operations use stack memory only
- Predictable Performance: O(1) constant time operations
- Real-Time Safe: No locks, syscalls, or blocking operations

Usage:

	// Round a requested size to something the driver accepts
	size := bitint.AlignBufferSize(1000, 64, 2048, 512, -1) // Returns 1024

	// Verify a power-of-two size
	ok := bitint.IsPowerOfTwo32(size)

----------------------------------------------------------------------

What this code does:

	NextPowerOfTwo32 returns the next power of 2 greater than or
	equal to size. The subtraction (size-1) keeps exact powers of
	2 unchanged:

	- For input 8: size-1 = 7 (0111), bits.Len32(7) = 3, 1 << 3 = 8
	- Without it: bits.Len32(8) = 4, 1 << 4 = 16 (doubled)

	PrevPowerOfTwo32 is the mirror image: the highest set bit of
	size is already the largest power of 2 not above it.
*/
package bitint

import "math/bits"

// NextPowerOfTwo32 returns the next power of 2 >= size.
//
// Examples:
//
//	Input  Output  Explanation
//	4      4       Already power of 2 (preserved)
//	5      8       Next power after 5
//	0      1       Handle zero case
//	-1     1       Handle negative case
func NextPowerOfTwo32(size int32) int32 {
	if size <= 0 {
		return 1
	}
	if size > 1<<30 {
		return 1 << 30
	}
	return int32(1 << bits.Len32(uint32(size-1)))
}

// PrevPowerOfTwo32 returns the largest power of 2 <= size, or 0 for
// non-positive input.
func PrevPowerOfTwo32(size int32) int32 {
	if size <= 0 {
		return 0
	}
	return int32(1 << (bits.Len32(uint32(size)) - 1))
}

// IsPowerOfTwo32 checks if n is a power of 2 using bit manipulation.
// The expression (n & (n-1)) == 0 works because:
//   - Powers of 2 have exactly one bit set
//   - Subtracting 1 from a power of 2 sets all lower bits
//   - AND operation will be 0 only for powers of 2
func IsPowerOfTwo32(n int32) bool {
	return n > 0 && (n&(n-1)) == 0
}

// Clamp32 limits v to [lo, hi].
func Clamp32(v, lo, hi int32) int32 {
	return max(lo, min(v, hi))
}

// AlignBufferSize maps want onto the closest size a driver permits.
// Granularity -1 rounds up to a power of two inside [lo, hi]; a positive
// granularity snaps down to lo + k*gran; 0 means only preferred is valid.
// A non-positive want selects preferred.
func AlignBufferSize(want, lo, hi, preferred, gran int32) int32 {
	if want <= 0 || lo > hi {
		return preferred
	}
	switch {
	case gran == -1:
		n := NextPowerOfTwo32(want)
		if n > hi {
			n = PrevPowerOfTwo32(hi)
		}
		if n < lo {
			return preferred
		}
		return n
	case gran > 0:
		w := Clamp32(want, lo, hi)
		return lo + (w-lo)/gran*gran
	default:
		return preferred
	}
}
