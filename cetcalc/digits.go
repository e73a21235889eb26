// Package cetcalc computes the minimal set of signable outcome groupings for
// a numeric contract: it splits the payout curve's outcome domain into
// compressible ranges, compresses each range into digit-prefix groupings, and
// resolves attested digit sequences back to their grouping. It also computes
// the covering groupings needed for bounded-error multi-oracle contracts.
// All computation is pure and chain-independent.
package cetcalc

import (
	"errors"
	"fmt"
)

// ErrPrecision is returned on tolerance or digit-length parameter mismatches
// (e.g. minFailExp >= maxErrorExp, or a digit vector of the wrong length).
var ErrPrecision = errors.New("precision parameters out of range")

// MaxNumDigits bounds base^numDigits to the uint64 range handled here.
const MaxNumDigits = 62

// DomainSize returns base^numDigits.
func DomainSize(base, numDigits int) (uint64, error) {
	if base < 2 {
		return 0, fmt.Errorf("base must be >= 2, got %d", base)
	}
	if numDigits < 1 || numDigits > MaxNumDigits {
		return 0, fmt.Errorf("numDigits must be in [1, %d], got %d", MaxNumDigits, numDigits)
	}
	size := uint64(1)
	for i := 0; i < numDigits; i++ {
		next := size * uint64(base)
		if next/uint64(base) != size {
			return 0, fmt.Errorf("base %d with %d digits overflows uint64", base, numDigits)
		}
		size = next
	}
	return size, nil
}

// Decompose writes value as numDigits digits in the given base, most
// significant first.
func Decompose(value uint64, base, numDigits int) []int {
	digits := make([]int, numDigits)
	for i := numDigits - 1; i >= 0; i-- {
		digits[i] = int(value % uint64(base))
		value /= uint64(base)
	}
	return digits
}

// Compose is the inverse of Decompose for full-length digit vectors.
func Compose(digits []int, base int) uint64 {
	var v uint64
	for _, d := range digits {
		v = v*uint64(base) + uint64(d)
	}
	return v
}

// PrefixInterval returns the inclusive index interval covered by a (possibly
// truncated) digit prefix within a numDigits-wide domain.
func PrefixInterval(prefix []int, base, numDigits int) (start, end uint64) {
	blockSize := uint64(1)
	for i := 0; i < numDigits-len(prefix); i++ {
		blockSize *= uint64(base)
	}
	start = Compose(prefix, base) * blockSize
	end = start + blockSize - 1
	return start, end
}

// CompareDigits orders digit vectors lexicographically; a proper prefix sorts
// before any of its completions.
func CompareDigits(a, b []int) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// IsPrefix reports whether prefix is a (non-strict) prefix of full.
func IsPrefix(prefix, full []int) bool {
	if len(prefix) > len(full) {
		return false
	}
	for i, d := range prefix {
		if full[i] != d {
			return false
		}
	}
	return true
}
