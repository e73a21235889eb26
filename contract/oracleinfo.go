package contract

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"

	"github.com/dcrdlc/dcrdlc"
	"github.com/dcrdlc/dcrdlc/cetcalc"
	"github.com/dcrdlc/dcrdlc/oracle"
)

// OracleInfo is the contract's oracle arrangement. Implementations are
// SingleOracle and MultiOracle.
type OracleInfo interface {
	// Announcements returns the committed events, primary oracle first.
	Announcements() []*oracle.Announcement

	validate() error
	enumOutcomes(d *EnumDescriptor) ([]Outcome, error)
	numericOutcomes(d *NumericDescriptor, total dcrutil.Amount) ([]Outcome, error)
}

// SingleOracle trusts one oracle's attestation outright.
type SingleOracle struct {
	Ann *oracle.Announcement
}

func (s *SingleOracle) Announcements() []*oracle.Announcement {
	return []*oracle.Announcement{s.Ann}
}

func (s *SingleOracle) validate() error {
	if s.Ann == nil {
		return fmt.Errorf("single oracle arrangement needs an announcement")
	}
	return s.Ann.Validate()
}

func (s *SingleOracle) enumOutcomes(d *EnumDescriptor) ([]Outcome, error) {
	out := make([]Outcome, 0, len(d.Payouts))
	for _, p := range d.Payouts {
		T, err := s.Ann.EnumAnticipationPoint(p.Label)
		if err != nil {
			return nil, err
		}
		out = append(out, Outcome{
			Label:        p.Label,
			OfferPayout:  p.OfferPayout,
			AdaptorPoint: T,
		})
	}
	return out, nil
}

func (s *SingleOracle) numericOutcomes(d *NumericDescriptor, total dcrutil.Amount) ([]Outcome, error) {
	groupings, err := cetcalc.ComputeCETsDefault(d.Base, d.NumDigits, d.Curve,
		int64(total), d.Rounding)
	if err != nil {
		return nil, err
	}
	out := make([]Outcome, 0, len(groupings))
	for _, g := range groupings {
		T, err := s.Ann.NumericAnticipationPoint(g.Digits)
		if err != nil {
			return nil, err
		}
		out = append(out, Outcome{
			Groupings:    [][]int{g.Digits},
			OfferPayout:  dcrutil.Amount(g.Payout),
			AdaptorPoint: T,
		})
	}
	return out, nil
}

// MultiOracle requires agreeing attestations from several oracles. For
// numeric events the oracles may disagree by a bounded amount: secondary
// oracles support a primary CET when their value lies within 2^MaxErrorExp
// of it, and are guaranteed to support it when within 2^MinFailExp.
// Adaptor points require every oracle's attestation, so Threshold must
// equal the oracle count.
type MultiOracle struct {
	Anns      []*oracle.Announcement
	Threshold int

	// Bounded-error parameters for numeric events. Base must be 2.
	MaxErrorExp      int
	MinFailExp       int
	MaximizeCoverage bool
}

func (m *MultiOracle) Announcements() []*oracle.Announcement {
	return m.Anns
}

func (m *MultiOracle) validate() error {
	if len(m.Anns) < 2 {
		return fmt.Errorf("multi oracle arrangement needs at least 2 announcements, have %d",
			len(m.Anns))
	}
	if m.Threshold != len(m.Anns) {
		return fmt.Errorf("threshold %d must equal oracle count %d: adaptor points aggregate every oracle's attestation",
			m.Threshold, len(m.Anns))
	}
	first := m.Anns[0]
	for i, ann := range m.Anns {
		if ann == nil {
			return fmt.Errorf("nil announcement at index %d", i)
		}
		if err := ann.Validate(); err != nil {
			return fmt.Errorf("announcement %d: %w", i, err)
		}
		if ann.Kind != first.Kind || ann.Base != first.Base || ann.NumDigits != first.NumDigits {
			return fmt.Errorf("announcement %d attests a different event shape than the primary", i)
		}
	}
	if first.Kind == oracle.NumericEvent && first.Base != 2 {
		return fmt.Errorf("bounded-error multi oracle contracts require base 2, got %d", first.Base)
	}
	return nil
}

// sumEnumPoints aggregates each oracle's anticipation point for the same
// label.
func (m *MultiOracle) enumOutcomes(d *EnumDescriptor) ([]Outcome, error) {
	out := make([]Outcome, 0, len(d.Payouts))
	for _, p := range d.Payouts {
		var sum *secp256k1.PublicKey
		for _, ann := range m.Anns {
			T, err := ann.EnumAnticipationPoint(p.Label)
			if err != nil {
				return nil, err
			}
			if sum == nil {
				sum = T
				continue
			}
			sum, err = dcrdlc.AddPoints(sum, T)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, Outcome{
			Label:        p.Label,
			OfferPayout:  p.OfferPayout,
			AdaptorPoint: sum,
		})
	}
	return out, nil
}

func (m *MultiOracle) numericOutcomes(d *NumericDescriptor, total dcrutil.Amount) ([]Outcome, error) {
	primary, err := cetcalc.ComputeCETsDefault(d.Base, d.NumDigits, d.Curve,
		int64(total), d.Rounding)
	if err != nil {
		return nil, err
	}

	var out []Outcome
	for _, g := range primary {
		combos, err := cetcalc.ComputeCoveringCETsBinary(d.NumDigits, g.Digits,
			m.MaxErrorExp, m.MinFailExp, m.MaximizeCoverage, len(m.Anns))
		if err != nil {
			return nil, err
		}
		for _, combo := range combos {
			var sum *secp256k1.PublicKey
			for i, prefix := range combo.Groupings {
				T, err := m.Anns[i].NumericAnticipationPoint(prefix)
				if err != nil {
					return nil, err
				}
				if sum == nil {
					sum = T
					continue
				}
				sum, err = dcrdlc.AddPoints(sum, T)
				if err != nil {
					return nil, err
				}
			}
			out = append(out, Outcome{
				Groupings:    combo.Groupings,
				OfferPayout:  dcrutil.Amount(g.Payout),
				AdaptorPoint: sum,
			})
		}
	}
	return out, nil
}
