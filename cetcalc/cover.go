package cetcalc

import "fmt"

// CETCombination assigns one digit grouping per oracle for a single signable
// unit of a bounded-error multi-oracle contract. Index 0 is the primary
// oracle's grouping; the rest are the secondary oracles' covers.
type CETCombination struct {
	Groupings [][]int
}

// computeCETIntervalBinary returns the inclusive index interval a binary
// digit prefix covers in a numDigits-wide domain.
func computeCETIntervalBinary(digits []int, numDigits int) (start, end uint64) {
	return PrefixInterval(digits, 2, numDigits)
}

// alignedBlockDigits returns the binary prefix covering the aligned block of
// width 2^widthExp that starts at blockStart.
func alignedBlockDigits(blockStart uint64, widthExp, numDigits int) []int {
	return Decompose(blockStart, 2, numDigits)[:numDigits-widthExp]
}

// smallestAlignedCover returns the binary prefix of the smallest aligned
// power-of-two block containing [lo, hi].
func smallestAlignedCover(lo, hi uint64, numDigits int) []int {
	for exp := 0; exp <= numDigits; exp++ {
		width := uint64(1) << exp
		blockStart := lo - lo%width
		if hi <= blockStart+width-1 {
			return alignedBlockDigits(blockStart, exp, numDigits)
		}
	}
	// hi < 2^numDigits always fits the full-domain block.
	return nil
}

// secondaryCombos enumerates the combinations where each secondary oracle
// picks between the inner and outer cover. The all-inner combination is
// emitted only when includeAllInner is set; corner coverage of large CETs
// skips it because the fixed middle combination already settles agreement.
func secondaryCombos(primary, inner, outer []int, numOracles int, includeAllInner bool) []CETCombination {
	numSecondaries := numOracles - 1
	var out []CETCombination
	for mask := 0; mask < 1<<numSecondaries; mask++ {
		if mask == 0 && !includeAllInner {
			continue
		}
		groupings := make([][]int, 0, numOracles)
		groupings = append(groupings, primary)
		for i := 0; i < numSecondaries; i++ {
			if mask&(1<<i) != 0 {
				groupings = append(groupings, outer)
			} else {
				groupings = append(groupings, inner)
			}
		}
		out = append(out, CETCombination{Groupings: groupings})
	}
	return out
}

func allSame(primary, cover []int, numOracles int) CETCombination {
	groupings := make([][]int, 0, numOracles)
	groupings = append(groupings, primary)
	for i := 1; i < numOracles; i++ {
		groupings = append(groupings, cover)
	}
	return CETCombination{Groupings: groupings}
}

// ComputeCoveringCETsBinary generates the multi-oracle covering combinations
// for one primary CET over a base-2 digit domain. Secondary oracles may
// disagree with the primary by strictly less than 2^minFailExp while support
// is still guaranteed, and by 2^maxErrorExp or more only when the contract
// is allowed to fail. maximizeCoverage widens every cover to its maximal
// extent; otherwise covers are the smallest aligned blocks containing the
// guaranteed-support region.
func ComputeCoveringCETsBinary(numDigits int, cetDigits []int, maxErrorExp, minFailExp int,
	maximizeCoverage bool, numOracles int) ([]CETCombination, error) {

	if minFailExp >= maxErrorExp || minFailExp < 0 {
		return nil, fmt.Errorf("%w: minFailExp %d must be in [0, maxErrorExp %d)",
			ErrPrecision, minFailExp, maxErrorExp)
	}
	if maxErrorExp >= numDigits {
		return nil, fmt.Errorf("%w: maxErrorExp %d must be below numDigits %d",
			ErrPrecision, maxErrorExp, numDigits)
	}
	if numOracles < 2 {
		return nil, fmt.Errorf("%w: need more than one oracle, got %d", ErrPrecision, numOracles)
	}
	if len(cetDigits) == 0 || len(cetDigits) > numDigits {
		return nil, fmt.Errorf("%w: CET digit length %d outside [1, %d]",
			ErrPrecision, len(cetDigits), numDigits)
	}

	maxError := uint64(1) << maxErrorExp
	minFail := uint64(1) << minFailExp
	maxNum := (uint64(1) << numDigits) - 1

	start, end := computeCETIntervalBinary(cetDigits, numDigits)
	width := end - start + 1

	if width >= maxError {
		return largeCETCovers(numDigits, cetDigits, start, end, maxError, minFail,
			maxNum, maximizeCoverage, numOracles), nil
	}
	return smallCETCovers(numDigits, cetDigits, start, end, maxError, minFail,
		maxNum, maxErrorExp, maximizeCoverage, numOracles), nil
}

// smallCETCovers handles CETs narrower than the error bound. The CET sits
// inside a single maxError-aligned block; its position relative to the
// block's minFail-wide guaranteed-support margins decides Left, Middle or
// Right treatment.
func smallCETCovers(numDigits int, cetDigits []int, start, end, maxError, minFail, maxNum uint64,
	maxErrorExp int, maximizeCoverage bool, numOracles int) []CETCombination {

	blockStart := start - start%maxError
	blockEnd := blockStart + maxError - 1

	// Support is guaranteed for secondary values within minFail-1 of the
	// CET; escape means that guaranteed region leaves the block.
	leftEscape := start-blockStart < minFail-1 && blockStart > 0
	rightEscape := blockEnd-end < minFail-1 && blockEnd < maxNum

	inner := alignedBlockDigits(blockStart, maxErrorExp, numDigits)
	if !maximizeCoverage {
		supLo := blockStart
		if start-blockStart >= minFail-1 {
			supLo = start - (minFail - 1)
		}
		supHi := end + minFail - 1
		if supHi > blockEnd {
			supHi = blockEnd
		}
		inner = smallestAlignedCover(supLo, supHi, numDigits)
	}

	// The all-inner combination is always among the results: it is the one
	// that settles exact agreement, and no other small-CET combination
	// covers a secondary value inside the CET's own range.
	switch {
	case leftEscape:
		var outer []int
		if maximizeCoverage {
			outer = alignedBlockDigits(blockStart-maxError, maxErrorExp, numDigits)
		} else {
			outer = smallestAlignedCover(blockStart-minFail, blockStart-1, numDigits)
		}
		return secondaryCombos(cetDigits, inner, outer, numOracles, true)

	case rightEscape:
		var outer []int
		if maximizeCoverage {
			outer = alignedBlockDigits(blockEnd+1, maxErrorExp, numDigits)
		} else {
			outer = smallestAlignedCover(blockEnd+1, blockEnd+minFail, numDigits)
		}
		return secondaryCombos(cetDigits, inner, outer, numOracles, true)

	default:
		// Middle (or pinned against a domain edge): one combination,
		// every secondary covered by the containing block.
		return []CETCombination{allSame(cetDigits, inner, numOracles)}
	}
}

// largeCETCovers handles CETs at least as wide as the error bound. Their
// aligned edges make corner coverage independent: a fixed middle
// combination, plus left and right corner combinations where generated
// covers never extend past the domain edges.
func largeCETCovers(numDigits int, cetDigits []int, start, end, maxError, minFail, maxNum uint64,
	maximizeCoverage bool, numOracles int) []CETCombination {

	maxErrorExp := 0
	for uint64(1)<<maxErrorExp < maxError {
		maxErrorExp++
	}

	combos := []CETCombination{allSame(cetDigits, cetDigits, numOracles)}

	if start > 0 {
		innerLeft := alignedBlockDigits(start, maxErrorExp, numDigits)
		var outerLeft []int
		if maximizeCoverage {
			outerLeft = alignedBlockDigits(start-maxError, maxErrorExp, numDigits)
		} else {
			outerLeft = smallestAlignedCover(start-minFail, start-1, numDigits)
		}
		combos = append(combos,
			secondaryCombos(cetDigits, innerLeft, outerLeft, numOracles, false)...)
	}

	if end < maxNum {
		innerRight := alignedBlockDigits(end-maxError+1, maxErrorExp, numDigits)
		var outerRight []int
		if maximizeCoverage {
			outerRight = alignedBlockDigits(end+1, maxErrorExp, numDigits)
		} else {
			outerRight = smallestAlignedCover(end+1, end+minFail, numDigits)
		}
		combos = append(combos,
			secondaryCombos(cetDigits, innerRight, outerRight, numOracles, false)...)
	}

	return combos
}
