package cetcalc

import "sort"

// RoundingInterval sets the payout granularity from BeginOutcome (inclusive)
// until the next interval begins.
type RoundingInterval struct {
	BeginOutcome uint64
	RoundingMod  int64
}

// RoundingIntervals is an ordered rounding policy over the outcome domain.
// Outcomes before the first interval round with mod 1 (no rounding).
type RoundingIntervals struct {
	Intervals []RoundingInterval
}

// NoRounding is the identity policy.
func NoRounding() RoundingIntervals {
	return RoundingIntervals{}
}

// modAt returns the rounding granularity in effect at the given outcome.
func (r RoundingIntervals) modAt(outcome uint64) int64 {
	idx := sort.Search(len(r.Intervals), func(i int) bool {
		return r.Intervals[i].BeginOutcome > outcome
	})
	if idx == 0 {
		return 1
	}
	mod := r.Intervals[idx-1].RoundingMod
	if mod <= 0 {
		return 1
	}
	return mod
}

// Round snaps payout to the nearest allowed multiple at the given outcome,
// rounding half away from zero.
func (r RoundingIntervals) Round(outcome uint64, payout int64) int64 {
	mod := r.modAt(outcome)
	if mod == 1 {
		return payout
	}
	rem := payout % mod
	if rem == 0 {
		return payout
	}
	if rem < 0 {
		rem += mod
		payout -= mod
	}
	payout -= rem
	if 2*rem >= mod {
		payout += mod
	}
	return payout
}
