package oracle

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"

	"github.com/dcrdlc/dcrdlc/cetcalc"
)

// Attestation carries the oracle's post-event signatures: one 64-byte
// EC-Schnorr-DCRv0 signature (R.x || s) per announced nonce, in nonce order.
// The realized outcome is not carried explicitly; it is recovered by
// verifying the signatures against the announcement.
type Attestation struct {
	EventID    string
	Signatures [][64]byte
}

// matchesCommitment reports whether a signature reuses the announced nonce.
// The DCRv0 signature encodes R.x directly, so the check is equality with
// the nonce's x coordinate.
func matchesCommitment(sig [64]byte, nonce [33]byte) bool {
	for i := 0; i < 32; i++ {
		if sig[i] != nonce[1+i] {
			return false
		}
	}
	return true
}

// verifyOutcomeSig checks a single attestation signature against one
// candidate message.
func verifyOutcomeSig(sig [64]byte, pubKey [33]byte, m [32]byte) bool {
	parsed, err := schnorr.ParseSignature(sig[:])
	if err != nil {
		return false
	}
	pub, err := secp256k1.ParsePubKey(pubKey[:])
	if err != nil {
		return false
	}
	return parsed.Verify(m[:], pub)
}

// EnumOutcome recovers the attested label by brute-force verification
// against every announced label. Returns ErrInvalidOutcome when the
// signature matches no label or breaks the nonce commitment.
func (a *Announcement) EnumOutcome(att *Attestation) (string, error) {
	if a.Kind != EnumEvent {
		return "", fmt.Errorf("announcement %q is not an enum event", a.EventID)
	}
	if len(att.Signatures) != 1 {
		return "", fmt.Errorf("enum attestation needs exactly 1 signature, have %d",
			len(att.Signatures))
	}
	sig := att.Signatures[0]
	if !matchesCommitment(sig, a.Nonces[0]) {
		return "", fmt.Errorf("%w: signature does not use the announced nonce",
			ErrInvalidOutcome)
	}
	for _, label := range a.Labels {
		if verifyOutcomeSig(sig, a.PubKey, LabelDigest(label)) {
			return label, nil
		}
	}
	return "", fmt.Errorf("%w: event %q", ErrInvalidOutcome, a.EventID)
}

// NumericOutcome recovers the attested digit vector, one digit per
// signature, by brute-force verification over the base. Every signature must
// reuse its announced nonce and verify for exactly the digit returned.
func (a *Announcement) NumericOutcome(att *Attestation) ([]int, error) {
	if a.Kind != NumericEvent {
		return nil, fmt.Errorf("announcement %q is not a numeric event", a.EventID)
	}
	if len(att.Signatures) != a.NumDigits {
		return nil, fmt.Errorf("numeric attestation needs %d signatures, have %d",
			a.NumDigits, len(att.Signatures))
	}
	digits := make([]int, a.NumDigits)
	for pos, sig := range att.Signatures {
		if !matchesCommitment(sig, a.Nonces[pos]) {
			return nil, fmt.Errorf("%w: signature %d does not use the announced nonce",
				ErrInvalidOutcome, pos)
		}
		found := false
		for d := 0; d < a.Base; d++ {
			if verifyOutcomeSig(sig, a.PubKey, DigitDigest(d)) {
				digits[pos] = d
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: signature %d verifies for no digit",
				ErrInvalidOutcome, pos)
		}
	}
	return digits, nil
}

// sigScalar extracts the s component of a 64-byte signature.
func sigScalar(sig [64]byte) (*secp256k1.ModNScalar, error) {
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(sig[32:]); overflow {
		return nil, fmt.Errorf("signature scalar overflows group order")
	}
	return &s, nil
}

// CompletionSecret sums the first count signature scalars mod the group
// order. The result t satisfies t*G == NumericAnticipationPoint of the
// matching digit prefix, so it completes the adaptor signature of the CET
// covering that prefix. For enum events count must be 1.
func (att *Attestation) CompletionSecret(count int) (*secp256k1.ModNScalar, error) {
	if count < 1 || count > len(att.Signatures) {
		return nil, fmt.Errorf("scalar count %d outside [1, %d]", count, len(att.Signatures))
	}
	var sum secp256k1.ModNScalar
	for i := 0; i < count; i++ {
		s, err := sigScalar(att.Signatures[i])
		if err != nil {
			return nil, fmt.Errorf("signature %d: %w", i, err)
		}
		sum.Add(s)
	}
	return &sum, nil
}

// OutcomeGrouping recovers the attested digits and locates the contracted
// grouping that covers them. Returned alongside is the recovered digit
// vector so callers can size the completion secret to the grouping's prefix
// length.
func (a *Announcement) OutcomeGrouping(att *Attestation, outcomes []cetcalc.Grouping) (cetcalc.Grouping, []int, error) {
	digits, err := a.NumericOutcome(att)
	if err != nil {
		return cetcalc.Grouping{}, nil, err
	}
	g, ok := cetcalc.SearchForNumericOutcome(digits, outcomes)
	if !ok {
		return cetcalc.Grouping{}, nil, fmt.Errorf("%w: digits %v covered by no grouping",
			ErrInvalidOutcome, digits)
	}
	return g, digits, nil
}
