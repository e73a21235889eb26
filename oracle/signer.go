package oracle

import (
	"fmt"

	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Signer is an in-process oracle. It holds the oracle private key and the
// nonce secrets behind each announcement it has issued. Production contracts
// consume third-party announcements; Signer exists for simulations and
// integration tests that need both halves of the protocol.
type Signer struct {
	priv   *secp256k1.PrivateKey
	events map[string]*signerEvent
}

type signerEvent struct {
	ann    *Announcement
	nonces []*secp256k1.ModNScalar
}

// NewSigner wraps an oracle private key.
func NewSigner(priv *secp256k1.PrivateKey) *Signer {
	return &Signer{
		priv:   priv,
		events: make(map[string]*signerEvent),
	}
}

// PubKey returns the oracle public key in compressed form. EC-Schnorr-DCRv0
// keys carry their parity byte on the wire, so no even-Y normalization is
// applied here.
func (o *Signer) PubKey() [33]byte {
	var out [33]byte
	copy(out[:], o.priv.PubKey().SerializeCompressed())
	return out
}

// newNonce draws a fresh nonce secret, negating it as needed so the
// committed point has even Y.
func newNonce() (*secp256k1.ModNScalar, [33]byte, error) {
	kPriv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, [33]byte{}, fmt.Errorf("nonce generation: %w", err)
	}
	k := &kPriv.Key
	pub := kPriv.PubKey()
	comp := pub.SerializeCompressed()
	if comp[0] != secp256k1.PubKeyFormatCompressedEven {
		k.Negate()
		comp[0] = secp256k1.PubKeyFormatCompressedEven
	}
	var point [33]byte
	copy(point[:], comp)
	return k, point, nil
}

func (o *Signer) announce(id string, numNonces int, build func(nonces [][33]byte) *Announcement) (*Announcement, error) {
	if _, ok := o.events[id]; ok {
		return nil, fmt.Errorf("event %q already announced", id)
	}
	secrets := make([]*secp256k1.ModNScalar, numNonces)
	points := make([][33]byte, numNonces)
	for i := range secrets {
		k, point, err := newNonce()
		if err != nil {
			return nil, err
		}
		secrets[i] = k
		points[i] = point
	}
	ann := build(points)
	if err := ann.Validate(); err != nil {
		return nil, err
	}
	o.events[id] = &signerEvent{ann: ann, nonces: secrets}
	return ann, nil
}

// AnnounceEnum commits to a single-signature event over the given label set.
func (o *Signer) AnnounceEnum(id string, labels []string) (*Announcement, error) {
	return o.announce(id, 1, func(nonces [][33]byte) *Announcement {
		return &Announcement{
			EventID: id,
			PubKey:  o.PubKey(),
			Nonces:  nonces,
			Kind:    EnumEvent,
			Labels:  labels,
		}
	})
}

// AnnounceNumeric commits to a digit-decomposition event with one nonce per
// digit.
func (o *Signer) AnnounceNumeric(id string, base, numDigits int) (*Announcement, error) {
	return o.announce(id, numDigits, func(nonces [][33]byte) *Announcement {
		return &Announcement{
			EventID:   id,
			PubKey:    o.PubKey(),
			Nonces:    nonces,
			Kind:      NumericEvent,
			Base:      base,
			NumDigits: numDigits,
		}
	})
}

// signWithNonce produces the DCRv0 signature s = k - e*x under the
// pre-committed nonce k. The nonce is fixed by the announcement, so a
// challenge that overflows the group order cannot be retried and is
// reported as an error instead.
func (o *Signer) signWithNonce(k *secp256k1.ModNScalar, nonce [33]byte, m [32]byte) ([64]byte, error) {
	var sig [64]byte
	var rX [32]byte
	copy(rX[:], nonce[1:33])

	h := blake256.Sum256(append(rX[:], m[:]...))
	var e secp256k1.ModNScalar
	if overflow := e.SetByteSlice(h[:]); overflow {
		return sig, fmt.Errorf("challenge overflows group order for committed nonce")
	}

	ex := new(secp256k1.ModNScalar).Mul2(&e, &o.priv.Key)
	s := new(secp256k1.ModNScalar).NegateVal(ex).Add(k)

	copy(sig[:32], rX[:])
	s.PutBytesUnchecked(sig[32:])
	return sig, nil
}

// AttestEnum signs the realized label of an announced enum event.
func (o *Signer) AttestEnum(id, label string) (*Attestation, error) {
	ev, ok := o.events[id]
	if !ok {
		return nil, fmt.Errorf("unknown event %q", id)
	}
	if ev.ann.Kind != EnumEvent {
		return nil, fmt.Errorf("event %q is not an enum event", id)
	}
	valid := false
	for _, l := range ev.ann.Labels {
		if l == label {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("label %q was not announced for event %q", label, id)
	}
	sig, err := o.signWithNonce(ev.nonces[0], ev.ann.Nonces[0], LabelDigest(label))
	if err != nil {
		return nil, err
	}
	return &Attestation{EventID: id, Signatures: [][64]byte{sig}}, nil
}

// AttestNumeric signs every digit of the realized value of an announced
// numeric event.
func (o *Signer) AttestNumeric(id string, digits []int) (*Attestation, error) {
	ev, ok := o.events[id]
	if !ok {
		return nil, fmt.Errorf("unknown event %q", id)
	}
	if ev.ann.Kind != NumericEvent {
		return nil, fmt.Errorf("event %q is not a numeric event", id)
	}
	if len(digits) != ev.ann.NumDigits {
		return nil, fmt.Errorf("event %q needs %d digits, got %d", id, ev.ann.NumDigits, len(digits))
	}
	sigs := make([][64]byte, len(digits))
	for pos, d := range digits {
		if d < 0 || d >= ev.ann.Base {
			return nil, fmt.Errorf("digit %d at position %d outside base %d", d, pos, ev.ann.Base)
		}
		sig, err := o.signWithNonce(ev.nonces[pos], ev.ann.Nonces[pos], DigitDigest(d))
		if err != nil {
			return nil, err
		}
		sigs[pos] = sig
	}
	return &Attestation{EventID: id, Signatures: sigs}, nil
}
