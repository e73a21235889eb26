package cetcalc

import (
	"errors"
	"reflect"
	"testing"
)

func mustCurve(t *testing.T, points []CurvePoint) *PayoutCurve {
	t.Helper()
	c, err := NewPayoutCurve(points)
	if err != nil {
		t.Fatalf("NewPayoutCurve: %v", err)
	}
	return c
}

func TestDecomposeCompose(t *testing.T) {
	cases := []struct {
		value     uint64
		base      int
		numDigits int
		want      []int
	}{
		{0, 2, 4, []int{0, 0, 0, 0}},
		{6, 2, 4, []int{0, 1, 1, 0}},
		{15, 2, 4, []int{1, 1, 1, 1}},
		{542, 10, 3, []int{5, 4, 2}},
		{7, 10, 3, []int{0, 0, 7}},
	}
	for _, c := range cases {
		got := Decompose(c.value, c.base, c.numDigits)
		if !reflect.DeepEqual(got, c.want) {
			t.Fatalf("Decompose(%d, %d, %d) = %v, want %v", c.value, c.base, c.numDigits, got, c.want)
		}
		if back := Compose(got, c.base); back != c.value {
			t.Fatalf("Compose(%v, %d) = %d, want %d", got, c.base, back, c.value)
		}
	}
}

func TestPrefixInterval(t *testing.T) {
	start, end := PrefixInterval([]int{0, 1}, 2, 4)
	if start != 4 || end != 7 {
		t.Fatalf("PrefixInterval([0,1], 2, 4) = [%d, %d], want [4, 7]", start, end)
	}
	start, end = PrefixInterval([]int{5, 4, 2}, 10, 3)
	if start != 542 || end != 542 {
		t.Fatalf("full-length prefix = [%d, %d], want [542, 542]", start, end)
	}
}

func TestRounding(t *testing.T) {
	r := RoundingIntervals{Intervals: []RoundingInterval{
		{BeginOutcome: 100, RoundingMod: 50},
	}}
	cases := []struct {
		outcome uint64
		payout  int64
		want    int64
	}{
		{0, 73, 73},     // before first interval: no rounding
		{100, 73, 50},   // 73 → nearest 50
		{100, 75, 100},  // half rounds away from zero
		{100, 124, 100}, // down
		{200, 126, 150}, // up
	}
	for _, c := range cases {
		if got := r.Round(c.outcome, c.payout); got != c.want {
			t.Fatalf("Round(%d, %d) = %d, want %d", c.outcome, c.payout, got, c.want)
		}
	}
}

func TestCurveEvaluate(t *testing.T) {
	curve := mustCurve(t, []CurvePoint{
		{Outcome: 0, Payout: 0},
		{Outcome: 10, Payout: 100},
		{Outcome: 20, Payout: 100},
	})
	cases := []struct {
		x    uint64
		want int64
	}{
		{0, 0}, {5, 50}, {10, 100}, {15, 100}, {20, 100},
		{3, 30}, {7, 70},
	}
	for _, c := range cases {
		got, err := curve.Evaluate(c.x)
		if err != nil {
			t.Fatalf("Evaluate(%d): %v", c.x, err)
		}
		if got != c.want {
			t.Fatalf("Evaluate(%d) = %d, want %d", c.x, got, c.want)
		}
	}

	// Interpolation rounds to nearest.
	curve2 := mustCurve(t, []CurvePoint{
		{Outcome: 0, Payout: 0},
		{Outcome: 3, Payout: 2},
	})
	got, err := curve2.Evaluate(1)
	if err != nil {
		t.Fatalf("Evaluate(1): %v", err)
	}
	if got != 1 { // 2/3 rounds to 1
		t.Fatalf("Evaluate(1) = %d, want 1", got)
	}
}

func TestGroupByIgnoringDigitsExamples(t *testing.T) {
	// Single index: full digit vector.
	groups, err := GroupByIgnoringDigits(5, 5, 10, 3)
	if err != nil {
		t.Fatalf("GroupByIgnoringDigits: %v", err)
	}
	if !reflect.DeepEqual(groups, [][]int{{0, 0, 5}}) {
		t.Fatalf("single index: %v", groups)
	}

	// Whole domain collapses to per-first-digit groupings.
	groups, err = GroupByIgnoringDigits(0, 999, 10, 3)
	if err != nil {
		t.Fatalf("GroupByIgnoringDigits: %v", err)
	}
	if len(groups) != 10 || !reflect.DeepEqual(groups[0], []int{0}) || !reflect.DeepEqual(groups[9], []int{9}) {
		t.Fatalf("full domain: %v", groups)
	}

	// Aligned block collapses to its shared prefix.
	groups, err = GroupByIgnoringDigits(120, 129, 10, 3)
	if err != nil {
		t.Fatalf("GroupByIgnoringDigits: %v", err)
	}
	if !reflect.DeepEqual(groups, [][]int{{1, 2}}) {
		t.Fatalf("aligned block: %v", groups)
	}
}

// coveredIndices expands groupings into the set of full-length indices they
// cover, failing on overlap.
func coveredIndices(t *testing.T, groups [][]int, base, numDigits int) map[uint64]int {
	t.Helper()
	seen := make(map[uint64]int)
	for gi, g := range groups {
		start, end := PrefixInterval(g, base, numDigits)
		for v := start; ; v++ {
			if prev, dup := seen[v]; dup {
				t.Fatalf("index %d covered by groupings %d and %d", v, prev, gi)
			}
			seen[v] = gi
			if v == end {
				break
			}
		}
	}
	return seen
}

func TestGroupByIgnoringDigitsPartition(t *testing.T) {
	// Every subrange of a small domain must be exactly partitioned.
	const base, numDigits = 3, 3
	size, err := DomainSize(base, numDigits)
	if err != nil {
		t.Fatalf("DomainSize: %v", err)
	}
	for start := uint64(0); start < size; start += 5 {
		for end := start; end < size; end += 7 {
			groups, err := GroupByIgnoringDigits(start, end, base, numDigits)
			if err != nil {
				t.Fatalf("GroupByIgnoringDigits(%d, %d): %v", start, end, err)
			}
			seen := coveredIndices(t, groups, base, numDigits)
			if uint64(len(seen)) != end-start+1 {
				t.Fatalf("[%d, %d]: covered %d indices, want %d", start, end, len(seen), end-start+1)
			}
			for v := start; v <= end; v++ {
				if _, ok := seen[v]; !ok {
					t.Fatalf("[%d, %d]: index %d not covered", start, end, v)
				}
			}
		}
	}
}

func TestSplitIntoRangesClassification(t *testing.T) {
	// Curve: 0 until 10, rises to total at 20, stays there.
	total := int64(100)
	curve := mustCurve(t, []CurvePoint{
		{Outcome: 0, Payout: 0},
		{Outcome: 10, Payout: 0},
		{Outcome: 20, Payout: total},
		{Outcome: 30, Payout: total},
	})
	ranges, err := SplitIntoRanges(0, 30, total, curve, NoRounding())
	if err != nil {
		t.Fatalf("SplitIntoRanges: %v", err)
	}
	if len(ranges) < 3 {
		t.Fatalf("ranges: %+v", ranges)
	}
	if ranges[0].Kind != StartZero || ranges[0].IndexFrom != 0 {
		t.Fatalf("first range: %+v", ranges[0])
	}
	if last := ranges[len(ranges)-1]; last.Kind != StartTotal || last.IndexTo != 30 {
		t.Fatalf("last range: %+v", last)
	}
	for i, r := range ranges {
		if i > 0 && r.IndexFrom != ranges[i-1].IndexTo+1 {
			t.Fatalf("gap between ranges %d and %d: %+v", i-1, i, ranges)
		}
	}
}

func TestSplitIntoRangesConstantMerge(t *testing.T) {
	// Rounding makes the varying middle collapse into constant runs.
	total := int64(100)
	curve := mustCurve(t, []CurvePoint{
		{Outcome: 0, Payout: 40},
		{Outcome: 99, Payout: 60},
	})
	rounding := RoundingIntervals{Intervals: []RoundingInterval{
		{BeginOutcome: 0, RoundingMod: 10},
	}}
	ranges, err := SplitIntoRanges(0, 99, total, curve, rounding)
	if err != nil {
		t.Fatalf("SplitIntoRanges: %v", err)
	}
	for _, r := range ranges {
		if r.Kind == StartFunc && r.IndexTo > r.IndexFrom {
			// With mod 10 over a slope of 20/99, payouts repeat for long
			// runs; multi-index ranges must be constant.
			t.Fatalf("multi-index varying range survived rounding: %+v", r)
		}
	}
}

func TestComputeCETsPartitionAndSearch(t *testing.T) {
	const base, numDigits = 2, 6
	total := int64(10_000)
	size, err := DomainSize(base, numDigits)
	if err != nil {
		t.Fatalf("DomainSize: %v", err)
	}
	curve := mustCurve(t, []CurvePoint{
		{Outcome: 0, Payout: 0},
		{Outcome: size / 2, Payout: total},
		{Outcome: size - 1, Payout: total},
	})
	rounding := RoundingIntervals{Intervals: []RoundingInterval{
		{BeginOutcome: 0, RoundingMod: 1000},
	}}

	groupings, err := ComputeCETsDefault(base, numDigits, curve, total, rounding)
	if err != nil {
		t.Fatalf("ComputeCETsDefault: %v", err)
	}

	raw := make([][]int, len(groupings))
	for i, g := range groupings {
		raw[i] = g.Digits
	}
	seen := coveredIndices(t, raw, base, numDigits)
	if uint64(len(seen)) != size {
		t.Fatalf("groupings cover %d of %d indices", len(seen), size)
	}

	// Round-trip: every full outcome resolves to the grouping covering it,
	// and the payout matches the rounded curve.
	for v := uint64(0); v < size; v++ {
		digits := Decompose(v, base, numDigits)
		g, ok := SearchForNumericOutcome(digits, groupings)
		if !ok {
			t.Fatalf("outcome %d not resolved", v)
		}
		if !IsPrefix(g.Digits, digits) {
			t.Fatalf("outcome %d resolved to non-covering grouping %v", v, g.Digits)
		}
		want, err := curve.EvaluateRounded(v, rounding, total)
		if err != nil {
			t.Fatalf("EvaluateRounded(%d): %v", v, err)
		}
		if g.Payout != want {
			t.Fatalf("outcome %d: grouping pays %d, curve pays %d", v, g.Payout, want)
		}
	}
}

func TestSearchForPrefixMisses(t *testing.T) {
	prefixes := [][]int{{0, 1}, {1, 0, 1}}
	if _, ok := SearchForPrefix([]int{0, 0, 0}, prefixes); ok {
		t.Fatalf("matched below all prefixes")
	}
	if _, ok := SearchForPrefix([]int{1, 1, 0}, prefixes); ok {
		t.Fatalf("matched above all prefixes")
	}
	idx, ok := SearchForPrefix([]int{1, 0, 1}, prefixes)
	if !ok || idx != 1 {
		t.Fatalf("exact match: idx=%d ok=%v", idx, ok)
	}
}

func TestCoveringCETsSmallMiddle(t *testing.T) {
	// numDigits=4, maxErrorExp=2, minFailExp=1, two oracles, primary CET
	// at index 6: a Small-Middle case, so exactly one combination pairing
	// the primary digits with one cover.
	cetDigits := Decompose(6, 2, 4)
	combos, err := ComputeCoveringCETsBinary(4, cetDigits, 2, 1, true, 2)
	if err != nil {
		t.Fatalf("ComputeCoveringCETsBinary: %v", err)
	}
	if len(combos) != 1 {
		t.Fatalf("got %d combinations, want 1: %+v", len(combos), combos)
	}
	got := combos[0].Groupings
	if len(got) != 2 || !reflect.DeepEqual(got[0], cetDigits) {
		t.Fatalf("combination: %+v", got)
	}
	// The cover is the containing maxError-aligned block [4, 7].
	start, end := PrefixInterval(got[1], 2, 4)
	if start != 4 || end != 7 {
		t.Fatalf("cover interval [%d, %d], want [4, 7]", start, end)
	}
}

func TestCoveringCETsEdges(t *testing.T) {
	// Left-edge small CET: pinned against index 0, no escape possible.
	combos, err := ComputeCoveringCETsBinary(4, Decompose(0, 2, 4), 2, 1, true, 2)
	if err != nil {
		t.Fatalf("ComputeCoveringCETsBinary: %v", err)
	}
	if len(combos) != 1 {
		t.Fatalf("edge CET: %d combinations, want 1", len(combos))
	}

	// Large CET covering [4, 7] with maxError 4: middle plus both corner
	// combinations of one secondary picking inner/outer.
	combos, err = ComputeCoveringCETsBinary(4, []int{0, 1}, 2, 1, true, 2)
	if err != nil {
		t.Fatalf("ComputeCoveringCETsBinary: %v", err)
	}
	if len(combos) != 3 {
		t.Fatalf("large CET: %d combinations, want 3: %+v", len(combos), combos)
	}
}

// coverInterval resolves a combination's secondary cover to its inclusive
// index interval.
func coverInterval(t *testing.T, combo CETCombination, numDigits int) (uint64, uint64) {
	t.Helper()
	if len(combo.Groupings) != 2 {
		t.Fatalf("combination has %d groupings, want 2", len(combo.Groupings))
	}
	start, end := PrefixInterval(combo.Groupings[1], 2, numDigits)
	return start, end
}

func TestCoveringCETsRestrictedSmall(t *testing.T) {
	// numDigits=4, maxErrorExp=2, minFailExp=1: covers are the smallest
	// aligned blocks containing the guaranteed-support region.
	tests := []struct {
		name   string
		index  uint64
		covers [][2]uint64
	}{
		// Index 4 hugs its block's left edge: the all-inner combination
		// plus one reaching into the block below.
		{"left", 4, [][2]uint64{{4, 5}, {2, 3}}},
		// Index 7 hugs the right edge symmetrically.
		{"right", 7, [][2]uint64{{6, 7}, {8, 9}}},
		// Index 6 keeps its support inside the block: one combination.
		{"middle", 6, [][2]uint64{{4, 7}}},
	}
	for _, tc := range tests {
		cetDigits := Decompose(tc.index, 2, 4)
		combos, err := ComputeCoveringCETsBinary(4, cetDigits, 2, 1, false, 2)
		if err != nil {
			t.Fatalf("%s: ComputeCoveringCETsBinary: %v", tc.name, err)
		}
		if len(combos) != len(tc.covers) {
			t.Fatalf("%s: %d combinations, want %d: %+v", tc.name, len(combos), len(tc.covers), combos)
		}
		for i, want := range tc.covers {
			if !reflect.DeepEqual(combos[i].Groupings[0], cetDigits) {
				t.Fatalf("%s: combination %d primary %v", tc.name, i, combos[i].Groupings[0])
			}
			start, end := coverInterval(t, combos[i], 4)
			if start != want[0] || end != want[1] {
				t.Fatalf("%s: combination %d cover [%d, %d], want [%d, %d]",
					tc.name, i, start, end, want[0], want[1])
			}
		}
	}
}

func TestCoveringCETsRestrictedLarge(t *testing.T) {
	// Large CET [4, 7]: fixed middle combination plus one tight corner
	// cover on each side.
	combos, err := ComputeCoveringCETsBinary(4, []int{0, 1}, 2, 1, false, 2)
	if err != nil {
		t.Fatalf("ComputeCoveringCETsBinary: %v", err)
	}
	if len(combos) != 3 {
		t.Fatalf("%d combinations, want 3: %+v", len(combos), combos)
	}
	wantCovers := [][2]uint64{{4, 7}, {2, 3}, {8, 9}}
	for i, want := range wantCovers {
		start, end := coverInterval(t, combos[i], 4)
		if start != want[0] || end != want[1] {
			t.Fatalf("combination %d cover [%d, %d], want [%d, %d]", i, start, end, want[0], want[1])
		}
	}

	// Pinned against index 0: no left corner is generated.
	combos, err = ComputeCoveringCETsBinary(4, []int{0, 0}, 2, 1, false, 2)
	if err != nil {
		t.Fatalf("ComputeCoveringCETsBinary: %v", err)
	}
	if len(combos) != 2 {
		t.Fatalf("edge large CET: %d combinations, want 2: %+v", len(combos), combos)
	}
}

func TestCoveringCETsGuaranteedSupport(t *testing.T) {
	// Over the whole 4-digit domain, for both coverage modes: when both
	// oracles attest within minFail-1 of each other, some combination of
	// the exact primary CET covers the secondary value. In particular
	// exact agreement always settles.
	const numDigits, maxErrorExp, minFailExp = 4, 2, 1
	minFail := uint64(1) << minFailExp
	maxNum := uint64(1)<<numDigits - 1

	for _, maximize := range []bool{true, false} {
		for p := uint64(0); p <= maxNum; p++ {
			cetDigits := Decompose(p, 2, numDigits)
			combos, err := ComputeCoveringCETsBinary(numDigits, cetDigits,
				maxErrorExp, minFailExp, maximize, 2)
			if err != nil {
				t.Fatalf("maximize=%v p=%d: %v", maximize, p, err)
			}
			lo := uint64(0)
			if p >= minFail-1 {
				lo = p - (minFail - 1)
			}
			hi := p + minFail - 1
			if hi > maxNum {
				hi = maxNum
			}
			for s := lo; s <= hi; s++ {
				covered := false
				for _, combo := range combos {
					start, end := coverInterval(t, combo, numDigits)
					if s >= start && s <= end {
						covered = true
						break
					}
				}
				if !covered {
					t.Fatalf("maximize=%v: secondary %d uncovered for primary %d: %+v",
						maximize, s, p, combos)
				}
			}
		}
	}
}

func TestCoveringCETsParamErrors(t *testing.T) {
	digits := Decompose(6, 2, 4)
	if _, err := ComputeCoveringCETsBinary(4, digits, 2, 2, true, 2); !errors.Is(err, ErrPrecision) {
		t.Fatalf("minFailExp == maxErrorExp: %v", err)
	}
	if _, err := ComputeCoveringCETsBinary(4, digits, 4, 1, true, 2); !errors.Is(err, ErrPrecision) {
		t.Fatalf("maxErrorExp == numDigits: %v", err)
	}
	if _, err := ComputeCoveringCETsBinary(4, digits, 2, 1, true, 1); !errors.Is(err, ErrPrecision) {
		t.Fatalf("single oracle: %v", err)
	}
	if _, err := ComputeCoveringCETsBinary(4, nil, 2, 1, true, 2); !errors.Is(err, ErrPrecision) {
		t.Fatalf("empty digits: %v", err)
	}
}
