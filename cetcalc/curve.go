package cetcalc

import (
	"fmt"
	"math/big"
)

// CurvePoint anchors the payout curve at a specific outcome index.
type CurvePoint struct {
	Outcome uint64
	Payout  int64
}

// PayoutCurve is an ordered sequence of piecewise components between
// consecutive anchor points. Each component is valid on the closed-open
// interval [point_i.Outcome, point_{i+1}.Outcome); the final point closes the
// domain. A component whose endpoints share a payout is constant, otherwise
// it linearly interpolates.
type PayoutCurve struct {
	points []CurvePoint
}

// NewPayoutCurve validates that points are strictly increasing in outcome and
// that there are at least two of them.
func NewPayoutCurve(points []CurvePoint) (*PayoutCurve, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("payout curve needs at least 2 points, got %d", len(points))
	}
	for i := 1; i < len(points); i++ {
		if points[i].Outcome <= points[i-1].Outcome {
			return nil, fmt.Errorf("curve points must be strictly increasing: point %d outcome %d <= %d",
				i, points[i].Outcome, points[i-1].Outcome)
		}
	}
	cp := make([]CurvePoint, len(points))
	copy(cp, points)
	return &PayoutCurve{points: cp}, nil
}

// FlatCurve is a single constant component across [min, max].
func FlatCurve(min, max uint64, payout int64) *PayoutCurve {
	c, _ := NewPayoutCurve([]CurvePoint{{Outcome: min, Payout: payout}, {Outcome: max, Payout: payout}})
	return c
}

// Points returns a copy of the anchor points in outcome order.
func (c *PayoutCurve) Points() []CurvePoint {
	out := make([]CurvePoint, len(c.points))
	copy(out, c.points)
	return out
}

// MinOutcome returns the first anchored outcome.
func (c *PayoutCurve) MinOutcome() uint64 { return c.points[0].Outcome }

// MaxOutcome returns the last anchored outcome (inclusive).
func (c *PayoutCurve) MaxOutcome() uint64 { return c.points[len(c.points)-1].Outcome }

// NumComponents returns the number of piecewise components.
func (c *PayoutCurve) NumComponents() int { return len(c.points) - 1 }

// ComponentInterval returns the inclusive index interval governed by
// component i: the component owns its left anchor; the right anchor belongs
// to the next component except for the last, which owns it.
func (c *PayoutCurve) ComponentInterval(i int) (start, end uint64) {
	start = c.points[i].Outcome
	if i == len(c.points)-2 {
		end = c.points[i+1].Outcome
	} else {
		end = c.points[i+1].Outcome - 1
	}
	return start, end
}

// ComponentConstant reports whether component i holds a single payout value
// over its whole interval.
func (c *PayoutCurve) ComponentConstant(i int) bool {
	return c.points[i].Payout == c.points[i+1].Payout
}

// componentFor returns the component index governing outcome x.
func (c *PayoutCurve) componentFor(x uint64) (int, error) {
	if x < c.MinOutcome() || x > c.MaxOutcome() {
		return 0, fmt.Errorf("outcome %d outside curve domain [%d, %d]", x, c.MinOutcome(), c.MaxOutcome())
	}
	// Last anchor belongs to the final component.
	if x == c.MaxOutcome() {
		return len(c.points) - 2, nil
	}
	lo, hi := 0, len(c.points)-2
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if c.points[mid].Outcome <= x {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, nil
}

// Evaluate returns the raw interpolated payout at outcome x, rounded half up
// to the nearest whole unit. Exact integer arithmetic via big.Int keeps large
// domains safe.
func (c *PayoutCurve) Evaluate(x uint64) (int64, error) {
	i, err := c.componentFor(x)
	if err != nil {
		return 0, err
	}
	a, b := c.points[i], c.points[i+1]
	if a.Payout == b.Payout {
		return a.Payout, nil
	}

	// payout = a.Payout + (b.Payout-a.Payout) * (x-a.Outcome) / (b.Outcome-a.Outcome)
	num := new(big.Int).Mul(
		big.NewInt(b.Payout-a.Payout),
		new(big.Int).SetUint64(x-a.Outcome),
	)
	den := new(big.Int).SetUint64(b.Outcome - a.Outcome)
	quo, rem := new(big.Int).QuoRem(num, den, new(big.Int))

	// Round half away from zero.
	rem.Abs(rem)
	rem.Lsh(rem, 1)
	if rem.Cmp(den) >= 0 {
		if num.Sign() < 0 {
			quo.Sub(quo, big.NewInt(1))
		} else {
			quo.Add(quo, big.NewInt(1))
		}
	}
	return a.Payout + quo.Int64(), nil
}

// EvaluateRounded applies the rounding policy and clamps to [0, total]. This
// is the payout the CET for outcome x must carry.
func (c *PayoutCurve) EvaluateRounded(x uint64, rounding RoundingIntervals, total int64) (int64, error) {
	raw, err := c.Evaluate(x)
	if err != nil {
		return 0, err
	}
	v := rounding.Round(x, raw)
	if v < 0 {
		v = 0
	}
	if v > total {
		v = total
	}
	return v, nil
}
