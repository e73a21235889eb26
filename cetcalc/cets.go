package cetcalc

import "fmt"

// Grouping is the atomic signable unit: a digit-vector (possibly shorter
// than full length, meaning "any completion") paired with the payout its CET
// carries. The full grouping set for a contract exactly partitions the
// outcome domain.
type Grouping struct {
	Digits []int
	Payout int64
}

// ComputeCETs turns a payout curve over [min, max] into the minimal covering
// set of (digit-vector, payout) groupings, in increasing index order.
func ComputeCETs(base, numDigits int, curve *PayoutCurve, totalCollateral int64,
	rounding RoundingIntervals, min, max uint64) ([]Grouping, error) {

	ranges, err := SplitIntoRanges(min, max, totalCollateral, curve, rounding)
	if err != nil {
		return nil, err
	}

	var out []Grouping
	for _, r := range ranges {
		switch r.Kind {
		case StartZero, StartTotal, StartFuncConst:
			var payout int64
			switch r.Kind {
			case StartZero:
				payout = 0
			case StartTotal:
				payout = totalCollateral
			case StartFuncConst:
				payout, err = curve.EvaluateRounded(r.IndexFrom, rounding, totalCollateral)
				if err != nil {
					return nil, err
				}
			}
			groups, err := GroupByIgnoringDigits(r.IndexFrom, r.IndexTo, base, numDigits)
			if err != nil {
				return nil, err
			}
			for _, g := range groups {
				out = append(out, Grouping{Digits: g, Payout: payout})
			}

		case StartFunc:
			// No compression: one full-length outcome per index.
			for idx := r.IndexFrom; ; idx++ {
				payout, err := curve.EvaluateRounded(idx, rounding, totalCollateral)
				if err != nil {
					return nil, err
				}
				out = append(out, Grouping{Digits: Decompose(idx, base, numDigits), Payout: payout})
				if idx == r.IndexTo {
					break
				}
			}

		default:
			return nil, fmt.Errorf("unknown range kind %v", r.Kind)
		}
	}
	return out, nil
}

// ComputeCETsDefault spans the full base^numDigits domain.
func ComputeCETsDefault(base, numDigits int, curve *PayoutCurve, totalCollateral int64,
	rounding RoundingIntervals) ([]Grouping, error) {

	size, err := DomainSize(base, numDigits)
	if err != nil {
		return nil, err
	}
	return ComputeCETs(base, numDigits, curve, totalCollateral, rounding, 0, size-1)
}
