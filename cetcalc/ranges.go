package cetcalc

import "fmt"

// RangeKind tags the compression strategy a CETRange uses.
type RangeKind uint8

const (
	// StartZero ranges pay nothing and compress into prefix groupings.
	StartZero RangeKind = iota
	// StartTotal ranges pay the full collateral and compress likewise.
	StartTotal
	// StartFunc ranges follow a varying curve; every index needs its own
	// CET.
	StartFunc
	// StartFuncConst ranges hold one intermediate payout value and
	// compress into prefix groupings paying that value.
	StartFuncConst
)

func (k RangeKind) String() string {
	switch k {
	case StartZero:
		return "StartZero"
	case StartTotal:
		return "StartTotal"
	case StartFunc:
		return "StartFunc"
	case StartFuncConst:
		return "StartFuncConst"
	default:
		return fmt.Sprintf("RangeKind(%d)", uint8(k))
	}
}

// CETRange is a maximal contiguous sub-interval of the outcome domain
// sharing one compression strategy. Produced by SplitIntoRanges and consumed
// immediately by the grouping phase; never persisted.
type CETRange struct {
	Kind      RangeKind
	IndexFrom uint64
	IndexTo   uint64
}

// rangeAccum folds per-index classification decisions into maximal ranges.
// Keeping each close/open decision in one place makes the boundary rules
// independently testable.
type rangeAccum struct {
	ranges   []CETRange
	cur      *CETRange
	prev     int64
	havePrev bool
}

func (a *rangeAccum) closeCurrent() {
	if a.cur != nil {
		a.ranges = append(a.ranges, *a.cur)
		a.cur = nil
	}
}

func (a *rangeAccum) open(k RangeKind, from, to uint64) {
	a.cur = &CETRange{Kind: k, IndexFrom: from, IndexTo: to}
}

// classify maps a rounded, clamped payout to the range kind it belongs in,
// before constant-run detection.
func classify(v, total int64) RangeKind {
	switch {
	case v <= 0:
		return StartZero
	case v >= total:
		return StartTotal
	default:
		return StartFunc
	}
}

// step processes one index of a non-constant component.
func (a *rangeAccum) step(idx uint64, v, total int64) {
	k := classify(v, total)

	if a.cur == nil {
		a.open(k, idx, idx)
		a.prev, a.havePrev = v, true
		return
	}

	switch k {
	case StartZero, StartTotal:
		if a.cur.Kind == k {
			a.cur.IndexTo = idx
		} else {
			a.closeCurrent()
			a.open(k, idx, idx)
		}

	case StartFunc:
		repeated := a.havePrev && v == a.prev && a.cur.IndexTo == idx-1
		switch {
		case a.cur.Kind == StartFuncConst && repeated:
			a.cur.IndexTo = idx
		case a.cur.Kind == StartFunc && repeated:
			// A repeat inside a varying range promotes the repeated
			// pair into its own constant range.
			if a.cur.IndexFrom == idx-1 {
				a.cur.Kind = StartFuncConst
				a.cur.IndexTo = idx
			} else {
				a.cur.IndexTo = idx - 2
				a.closeCurrent()
				a.open(StartFuncConst, idx-1, idx)
			}
		case a.cur.Kind == StartFunc:
			a.cur.IndexTo = idx
		default:
			a.closeCurrent()
			a.open(StartFunc, idx, idx)
		}
	}
	a.prev, a.havePrev = v, true
}

// bulkConstant processes a whole constant component [from, to] holding
// payout v, merging with an already-open range of the same kind (and, for
// intermediate values, the same payout) or starting a new one.
func (a *rangeAccum) bulkConstant(from, to uint64, v, total int64) {
	k := classify(v, total)
	if k == StartFunc {
		k = StartFuncConst
	}

	mergeable := a.cur != nil && a.cur.Kind == k &&
		(k != StartFuncConst || (a.havePrev && a.prev == v))
	if mergeable {
		a.cur.IndexTo = to
	} else {
		a.closeCurrent()
		a.open(k, from, to)
	}
	a.prev, a.havePrev = v, true
}

// enterVaryingComponent applies the segment-boundary rule when the scan
// crosses into a non-constant component: function-shaped ranges close at the
// boundary while zero/total ranges extend across it.
func (a *rangeAccum) enterVaryingComponent() {
	if a.cur != nil && (a.cur.Kind == StartFunc || a.cur.Kind == StartFuncConst) {
		a.closeCurrent()
		a.havePrev = false
	}
}

// SplitIntoRanges scans outcome indices [min, max] left to right, tracking
// the active curve component, and emits maximal non-overlapping ranges that
// cover the domain in index order. Constant components are processed in one
// pass; varying components are scanned per index.
func SplitIntoRanges(min, max uint64, totalCollateral int64, curve *PayoutCurve, rounding RoundingIntervals) ([]CETRange, error) {
	if max < min {
		return nil, fmt.Errorf("empty domain [%d, %d]", min, max)
	}
	if totalCollateral <= 0 {
		return nil, fmt.Errorf("total collateral must be positive, got %d", totalCollateral)
	}
	if min < curve.MinOutcome() || max > curve.MaxOutcome() {
		return nil, fmt.Errorf("domain [%d, %d] outside curve [%d, %d]",
			min, max, curve.MinOutcome(), curve.MaxOutcome())
	}

	acc := &rangeAccum{}
	for i := 0; i < curve.NumComponents(); i++ {
		lo, hi := curve.ComponentInterval(i)
		if hi < min || lo > max {
			continue
		}
		if lo < min {
			lo = min
		}
		if hi > max {
			hi = max
		}

		if curve.ComponentConstant(i) {
			v, err := curve.EvaluateRounded(lo, rounding, totalCollateral)
			if err != nil {
				return nil, err
			}
			acc.bulkConstant(lo, hi, v, totalCollateral)
			continue
		}

		acc.enterVaryingComponent()
		for idx := lo; ; idx++ {
			v, err := curve.EvaluateRounded(idx, rounding, totalCollateral)
			if err != nil {
				return nil, err
			}
			acc.step(idx, v, totalCollateral)
			if idx == hi {
				break
			}
		}
	}
	acc.closeCurrent()

	if err := checkPartition(acc.ranges, min, max); err != nil {
		return nil, err
	}
	return acc.ranges, nil
}

// checkPartition asserts the central invariant: ranges exactly cover
// [min, max] with no gap and no overlap.
func checkPartition(ranges []CETRange, min, max uint64) error {
	if len(ranges) == 0 {
		return fmt.Errorf("no ranges produced for [%d, %d]", min, max)
	}
	if ranges[0].IndexFrom != min {
		return fmt.Errorf("first range starts at %d, want %d", ranges[0].IndexFrom, min)
	}
	for i, r := range ranges {
		if r.IndexTo < r.IndexFrom {
			return fmt.Errorf("range %d is inverted: [%d, %d]", i, r.IndexFrom, r.IndexTo)
		}
		if i > 0 && r.IndexFrom != ranges[i-1].IndexTo+1 {
			return fmt.Errorf("range %d begins at %d, want %d", i, r.IndexFrom, ranges[i-1].IndexTo+1)
		}
	}
	if last := ranges[len(ranges)-1]; last.IndexTo != max {
		return fmt.Errorf("last range ends at %d, want %d", last.IndexTo, max)
	}
	return nil
}
