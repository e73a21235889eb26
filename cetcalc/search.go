package cetcalc

import "sort"

// SearchForPrefix finds the element of the lexicographically ordered prefix
// set that is a prefix of the given full digit sequence. The binary search
// can land at index 0 or len(prefixes), where no match is guaranteed, so the
// candidate is always confirmed with an explicit prefix check. Returns
// (-1, false) when no prefix matches; callers treat that as the normal
// "not a contracted outcome" signal.
func SearchForPrefix(digits []int, prefixes [][]int) (int, bool) {
	idx := sort.Search(len(prefixes), func(i int) bool {
		return CompareDigits(prefixes[i], digits) > 0
	})
	// All prefixes sort after digits: nothing can prefix it.
	if idx == 0 {
		return -1, false
	}
	if IsPrefix(prefixes[idx-1], digits) {
		return idx - 1, true
	}
	return -1, false
}

// SearchForNumericOutcome resolves a full digit sequence to the contracted
// grouping covering it. Groupings must be in increasing index order, as
// produced by ComputeCETs.
func SearchForNumericOutcome(digits []int, outcomes []Grouping) (Grouping, bool) {
	prefixes := make([][]int, len(outcomes))
	for i := range outcomes {
		prefixes[i] = outcomes[i].Digits
	}
	idx, ok := SearchForPrefix(digits, prefixes)
	if !ok {
		return Grouping{}, false
	}
	return outcomes[idx], true
}
