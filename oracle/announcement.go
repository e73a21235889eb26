// Package oracle handles oracle announcements and attestations: validating
// an attestation against its announced nonce commitments, recovering the
// realized outcome by brute-force verification, deriving anticipation
// (adaptor) points from public announcement data, and aggregating the
// discrete-log completion secret an attestation reveals.
package oracle

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/dcrdlc/dcrdlc"
)

// ErrInvalidOutcome is returned when no contracted outcome matches an
// attestation or observed digit sequence.
var ErrInvalidOutcome = errors.New("no contracted outcome matches")

// EventKind distinguishes enumerated from digit-decomposition events.
type EventKind uint8

const (
	// EnumEvent events attest one of a fixed label set with a single
	// signature.
	EnumEvent EventKind = iota
	// NumericEvent events attest a fixed-length digit vector, one
	// signature per digit.
	NumericEvent
)

// Announcement is an oracle's pre-event commitment: its public key and one
// nonce point per signature it will produce. Created before contracting and
// immutable thereafter.
type Announcement struct {
	EventID   string
	PubKey    [33]byte
	Nonces    [][33]byte
	Kind      EventKind
	Labels    []string // enum events
	Base      int      // numeric events
	NumDigits int      // numeric events
}

// Validate checks internal consistency of the announcement.
func (a *Announcement) Validate() error {
	if _, err := secp256k1.ParsePubKey(a.PubKey[:]); err != nil {
		return fmt.Errorf("bad oracle pubkey: %w", err)
	}
	for i, n := range a.Nonces {
		if n[0] != secp256k1.PubKeyFormatCompressedEven {
			return fmt.Errorf("nonce %d must have even Y", i)
		}
		if _, err := secp256k1.ParsePubKey(n[:]); err != nil {
			return fmt.Errorf("bad nonce %d: %w", i, err)
		}
	}
	switch a.Kind {
	case EnumEvent:
		if len(a.Nonces) != 1 {
			return fmt.Errorf("enum event needs exactly 1 nonce, have %d", len(a.Nonces))
		}
		if len(a.Labels) < 2 {
			return fmt.Errorf("enum event needs at least 2 labels, have %d", len(a.Labels))
		}
	case NumericEvent:
		if a.Base < 2 {
			return fmt.Errorf("numeric event base must be >= 2, got %d", a.Base)
		}
		if a.NumDigits < 1 || len(a.Nonces) != a.NumDigits {
			return fmt.Errorf("numeric event needs one nonce per digit: %d nonces for %d digits",
				len(a.Nonces), a.NumDigits)
		}
	default:
		return fmt.Errorf("unknown event kind %d", a.Kind)
	}
	return nil
}

// LabelDigest is the 32-byte message an oracle signs for an enumerated
// label.
func LabelDigest(label string) [32]byte {
	return blake256.Sum256([]byte(label))
}

// DigitDigest is the 32-byte message an oracle signs for one digit value.
func DigitDigest(digit int) [32]byte {
	return blake256.Sum256([]byte(strconv.Itoa(digit)))
}

// anticipationPoint computes T = R - BLAKE256(R.x || m)*V. An attestation of
// m under nonce R reveals s with s*G == T, so T is the adaptor point binding
// a CET to that attestation.
func anticipationPoint(pubKey, nonce [33]byte, m [32]byte) (*secp256k1.PublicKey, error) {
	V, err := secp256k1.ParsePubKey(pubKey[:])
	if err != nil {
		return nil, fmt.Errorf("bad oracle pubkey: %w", err)
	}
	R, err := secp256k1.ParsePubKey(nonce[:])
	if err != nil {
		return nil, fmt.Errorf("bad nonce point: %w", err)
	}

	var rX [32]byte
	copy(rX[:], nonce[1:33])
	h := blake256.Sum256(append(rX[:], m[:]...))
	var e secp256k1.ModNScalar
	if overflow := e.SetByteSlice(h[:]); overflow {
		return nil, fmt.Errorf("challenge overflow for announced nonce")
	}

	eV, err := dcrdlc.ScalarMult(&e, V)
	if err != nil {
		return nil, err
	}
	return dcrdlc.SubtractPoints(R, eV)
}

// EnumAnticipationPoint returns the adaptor point for an enumerated label.
func (a *Announcement) EnumAnticipationPoint(label string) (*secp256k1.PublicKey, error) {
	if a.Kind != EnumEvent {
		return nil, fmt.Errorf("announcement %q is not an enum event", a.EventID)
	}
	return anticipationPoint(a.PubKey, a.Nonces[0], LabelDigest(label))
}

// DigitAnticipationPoint returns the adaptor point for one digit position
// taking one value.
func (a *Announcement) DigitAnticipationPoint(pos, digit int) (*secp256k1.PublicKey, error) {
	if a.Kind != NumericEvent {
		return nil, fmt.Errorf("announcement %q is not a numeric event", a.EventID)
	}
	if pos < 0 || pos >= len(a.Nonces) {
		return nil, fmt.Errorf("digit position %d outside [0, %d)", pos, len(a.Nonces))
	}
	if digit < 0 || digit >= a.Base {
		return nil, fmt.Errorf("digit %d outside base %d", digit, a.Base)
	}
	return anticipationPoint(a.PubKey, a.Nonces[pos], DigitDigest(digit))
}

// NumericAnticipationPoint sums the per-digit adaptor points for a (possibly
// truncated) digit prefix. The corresponding completion secret is the sum of
// the first len(digits) attested signature scalars.
func (a *Announcement) NumericAnticipationPoint(digits []int) (*secp256k1.PublicKey, error) {
	if len(digits) == 0 || len(digits) > len(a.Nonces) {
		return nil, fmt.Errorf("digit prefix length %d outside [1, %d]", len(digits), len(a.Nonces))
	}
	var sum *secp256k1.PublicKey
	for pos, d := range digits {
		T, err := a.DigitAnticipationPoint(pos, d)
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = T
			continue
		}
		sum, err = dcrdlc.AddPoints(sum, T)
		if err != nil {
			return nil, fmt.Errorf("anticipation point sum: %w", err)
		}
	}
	return sum, nil
}
