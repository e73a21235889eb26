// Package contract defines the negotiated terms of a contract: the payout
// descriptor, the oracle arrangement, and the offer/accept/sign messages the
// two parties exchange. It turns those terms into the outcome table the
// transaction builder and signer consume, one adaptor point and payout per
// contract execution transaction.
package contract

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"

	"github.com/dcrdlc/dcrdlc/cetcalc"
	"github.com/dcrdlc/dcrdlc/oracle"
)

var (
	// ErrBadCollateral is returned when party collaterals do not sum to
	// the contract total.
	ErrBadCollateral = errors.New("collaterals do not sum to total")

	// ErrDescriptorMismatch is returned when a descriptor and its oracle
	// arrangement disagree on the event shape.
	ErrDescriptorMismatch = errors.New("descriptor does not match oracle event")
)

// ContractDescriptor describes how the total collateral splits across
// outcomes. Implementations are EnumDescriptor and NumericDescriptor.
type ContractDescriptor interface {
	validate(total dcrutil.Amount) error
	contractDescriptor()
}

// EnumPayout is one enumerated outcome and the offerer's payout should it
// be attested. The accepter receives the remainder of the collateral.
type EnumPayout struct {
	Label       string
	OfferPayout dcrutil.Amount
}

// EnumDescriptor splits collateral over a fixed label set.
type EnumDescriptor struct {
	Payouts []EnumPayout
}

func (d *EnumDescriptor) contractDescriptor() {}

func (d *EnumDescriptor) validate(total dcrutil.Amount) error {
	if len(d.Payouts) < 2 {
		return fmt.Errorf("enum descriptor needs at least 2 outcomes, have %d", len(d.Payouts))
	}
	seen := make(map[string]struct{}, len(d.Payouts))
	for _, p := range d.Payouts {
		if p.Label == "" {
			return fmt.Errorf("empty outcome label")
		}
		if _, dup := seen[p.Label]; dup {
			return fmt.Errorf("duplicate outcome label %q", p.Label)
		}
		seen[p.Label] = struct{}{}
		if p.OfferPayout < 0 || p.OfferPayout > total {
			return fmt.Errorf("payout %d for %q outside [0, %d]", p.OfferPayout, p.Label, total)
		}
	}
	return nil
}

// NumericDescriptor splits collateral over a digit-decomposed numeric
// outcome via a payout curve, with optional rounding to coarsen the curve
// and shrink the outcome table.
type NumericDescriptor struct {
	Base      int
	NumDigits int
	Curve     *cetcalc.PayoutCurve
	Rounding  cetcalc.RoundingIntervals
}

func (d *NumericDescriptor) contractDescriptor() {}

func (d *NumericDescriptor) validate(total dcrutil.Amount) error {
	if d.Base < 2 {
		return fmt.Errorf("base %d must be >= 2", d.Base)
	}
	if d.NumDigits < 1 || d.NumDigits > cetcalc.MaxNumDigits {
		return fmt.Errorf("numDigits %d outside [1, %d]", d.NumDigits, cetcalc.MaxNumDigits)
	}
	if d.Curve == nil {
		return fmt.Errorf("numeric descriptor needs a payout curve")
	}
	max, err := cetcalc.DomainSize(d.Base, d.NumDigits)
	if err != nil {
		return err
	}
	if d.Curve.MaxOutcome() > max-1 {
		return fmt.Errorf("curve extends to %d beyond domain max %d", d.Curve.MaxOutcome(), max-1)
	}
	_ = total
	return nil
}

// Outcome is one row of the contract's outcome table: the event condition a
// CET is locked to, the offerer's payout under it, and the aggregate adaptor
// point whose discrete log the matching attestations reveal.
type Outcome struct {
	// Label is set for enumerated contracts.
	Label string

	// Groupings holds one digit prefix per oracle for numeric contracts,
	// primary oracle first. Single-oracle contracts have one entry.
	Groupings [][]int

	OfferPayout  dcrutil.Amount
	AdaptorPoint *secp256k1.PublicKey
}

// ContractInfo is the full negotiated contract: collateral, payout
// structure, and oracle arrangement.
type ContractInfo struct {
	TotalCollateral dcrutil.Amount
	Descriptor      ContractDescriptor
	Oracles         OracleInfo
}

// Validate checks the contract terms for internal consistency, including
// that the descriptor shape matches the announced events.
func (c *ContractInfo) Validate() error {
	if c.TotalCollateral <= 0 {
		return fmt.Errorf("total collateral %d must be positive", c.TotalCollateral)
	}
	if c.Descriptor == nil || c.Oracles == nil {
		return fmt.Errorf("contract needs a descriptor and an oracle arrangement")
	}
	if err := c.Descriptor.validate(c.TotalCollateral); err != nil {
		return err
	}
	if err := c.Oracles.validate(); err != nil {
		return err
	}
	for _, ann := range c.Oracles.Announcements() {
		if err := c.matchAnnouncement(ann); err != nil {
			return err
		}
	}
	return nil
}

func (c *ContractInfo) matchAnnouncement(ann *oracle.Announcement) error {
	switch d := c.Descriptor.(type) {
	case *EnumDescriptor:
		if ann.Kind != oracle.EnumEvent {
			return fmt.Errorf("%w: enum descriptor over non-enum event %q",
				ErrDescriptorMismatch, ann.EventID)
		}
		announced := make(map[string]struct{}, len(ann.Labels))
		for _, l := range ann.Labels {
			announced[l] = struct{}{}
		}
		for _, p := range d.Payouts {
			if _, ok := announced[p.Label]; !ok {
				return fmt.Errorf("%w: label %q not announced by event %q",
					ErrDescriptorMismatch, p.Label, ann.EventID)
			}
		}
	case *NumericDescriptor:
		if ann.Kind != oracle.NumericEvent {
			return fmt.Errorf("%w: numeric descriptor over non-numeric event %q",
				ErrDescriptorMismatch, ann.EventID)
		}
		if ann.Base != d.Base || ann.NumDigits != d.NumDigits {
			return fmt.Errorf("%w: event %q attests base %d with %d digits, descriptor wants base %d with %d digits",
				ErrDescriptorMismatch, ann.EventID, ann.Base, ann.NumDigits, d.Base, d.NumDigits)
		}
	}
	return nil
}

// OutcomeTable expands the contract into its full outcome table. The table
// order is deterministic, so both parties derive identical CETs from the
// same ContractInfo.
func (c *ContractInfo) OutcomeTable() ([]Outcome, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch d := c.Descriptor.(type) {
	case *EnumDescriptor:
		return c.Oracles.enumOutcomes(d)
	case *NumericDescriptor:
		return c.Oracles.numericOutcomes(d, c.TotalCollateral)
	default:
		return nil, fmt.Errorf("unknown descriptor type %T", c.Descriptor)
	}
}
