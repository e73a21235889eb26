package cetcalc

import "fmt"

// frontGroupings covers [start, block end] for the suffix digits of a
// range's start, walking outward from the least significant non-zero digit.
// The endpoint optimization drops trailing zeros so the literal start prefix
// covers its whole tail block.
func frontGroupings(digits []int, base int) [][]int {
	// Trailing zeros are unimportant: the endpoint grouping covers them.
	important := len(digits)
	for important > 0 && digits[important-1] == 0 {
		important--
	}
	if important == 0 {
		// All zeros: the whole first-digit block.
		return [][]int{{0}}
	}

	endpoint := make([]int, important)
	copy(endpoint, digits[:important])
	groupings := [][]int{endpoint}

	// For each varied position (least significant first), fix the digits
	// before it and round the varied digit up.
	for pos := important - 1; pos >= 1; pos-- {
		for d := digits[pos] + 1; d < base; d++ {
			g := make([]int, pos+1)
			copy(g, digits[:pos])
			g[pos] = d
			groupings = append(groupings, g)
		}
	}
	return groupings
}

// backGroupings mirrors frontGroupings for a range's end suffix, rounding
// the varied digit down and dropping trailing maximal digits.
func backGroupings(digits []int, base int) [][]int {
	important := len(digits)
	for important > 0 && digits[important-1] == base-1 {
		important--
	}
	if important == 0 {
		return [][]int{{base - 1}}
	}

	var groupings [][]int
	for pos := 1; pos < important; pos++ {
		for d := 0; d < digits[pos]; d++ {
			g := make([]int, pos+1)
			copy(g, digits[:pos])
			g[pos] = d
			groupings = append(groupings, g)
		}
	}
	endpoint := make([]int, important)
	copy(endpoint, digits[:important])
	return append(groupings, endpoint)
}

// middleGrouping emits one single-digit grouping per value strictly between
// the start's and end's first diverging digits.
func middleGrouping(firstDigitStart, firstDigitEnd int) [][]int {
	var groupings [][]int
	for d := firstDigitStart + 1; d < firstDigitEnd; d++ {
		groupings = append(groupings, []int{d})
	}
	return groupings
}

// GroupByIgnoringDigits compresses the inclusive index range [start, end]
// into the minimal sequence of digit-prefix groupings, in increasing index
// order. Each grouping stands for "any full outcome with this prefix"; the
// returned set exactly partitions [start, end].
func GroupByIgnoringDigits(start, end uint64, base, numDigits int) ([][]int, error) {
	if end < start {
		return nil, fmt.Errorf("inverted range [%d, %d]", start, end)
	}
	size, err := DomainSize(base, numDigits)
	if err != nil {
		return nil, err
	}
	if end >= size {
		return nil, fmt.Errorf("range end %d outside domain of size %d", end, size)
	}

	startDigits := Decompose(start, base, numDigits)
	endDigits := Decompose(end, base, numDigits)
	if start == end {
		return [][]int{startDigits}, nil
	}

	shared := 0
	for shared < numDigits && startDigits[shared] == endDigits[shared] {
		shared++
	}
	prefix := startDigits[:shared]

	startSuffix := startDigits[shared:]
	endSuffix := endDigits[shared:]

	allZero := true
	for _, d := range startSuffix {
		if d != 0 {
			allZero = false
			break
		}
	}
	allMax := true
	for _, d := range endSuffix {
		if d != base-1 {
			allMax = false
			break
		}
	}

	// Total optimization: the shared prefix alone covers the range.
	if allZero && allMax {
		out := make([]int, shared)
		copy(out, prefix)
		return [][]int{out}, nil
	}

	// One free digit position: enumerate it directly.
	if shared == numDigits-1 {
		var out [][]int
		for d := startSuffix[0]; d <= endSuffix[0]; d++ {
			g := make([]int, numDigits)
			copy(g, prefix)
			g[numDigits-1] = d
			out = append(out, g)
		}
		return out, nil
	}

	front := frontGroupings(startSuffix, base)
	middle := middleGrouping(startSuffix[0], endSuffix[0])
	back := backGroupings(endSuffix, base)

	var out [][]int
	for _, groups := range [][][]int{front, middle, back} {
		for _, g := range groups {
			full := make([]int, 0, shared+len(g))
			full = append(full, prefix...)
			full = append(full, g...)
			out = append(out, full)
		}
	}
	return out, nil
}
