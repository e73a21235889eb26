package dcrdlc

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// https://github.com/decred/dcrd/blob/master/dcrec/secp256k1/schnorr/README.md?plain=1#L249
var schnorrV0ExtraTag = func() [32]byte {
	// EC-Schnorr-DCRv0 nonce domain-sep tag.
	const tagHex = "0b75f97b60e8a5762876c004829ee9b926fa6f0d2eeaec3a4fd1446a768331cb"
	b, _ := hex.DecodeString(tagHex)
	var out [32]byte
	copy(out[:], b)
	return out
}()

// AdaptorSignature is a minus-variant EC-Schnorr-DCRv0 pre-signature bound to
// an adaptor point T. R is the full compressed R' = k*G + T with even Y
// enforced at signing time; SPrime is s' = k - e*x (mod n).
type AdaptorSignature struct {
	R      [33]byte
	SPrime [32]byte
}

// AdaptorSignatureSize is the serialized length: compressed R' followed by
// s'.
const AdaptorSignatureSize = 33 + 32

// Serialize returns R' || s'.
func (sig *AdaptorSignature) Serialize() [AdaptorSignatureSize]byte {
	var out [AdaptorSignatureSize]byte
	copy(out[:33], sig.R[:])
	copy(out[33:], sig.SPrime[:])
	return out
}

// ParseAdaptorSignature decodes a serialized pre-signature, checking that R'
// parses as an even-Y point.
func ParseAdaptorSignature(b []byte) (*AdaptorSignature, error) {
	if len(b) != AdaptorSignatureSize {
		return nil, fmt.Errorf("adaptor signature must be %d bytes, got %d",
			AdaptorSignatureSize, len(b))
	}
	if b[0] != secp256k1.PubKeyFormatCompressedEven {
		return nil, fmt.Errorf("%w: R' must have even Y", ErrInvalidSignature)
	}
	if _, err := secp256k1.ParsePubKey(b[:33]); err != nil {
		return nil, fmt.Errorf("%w: parse R': %v", ErrInvalidSignature, err)
	}
	sig := &AdaptorSignature{}
	copy(sig.R[:], b[:33])
	copy(sig.SPrime[:], b[33:])
	return sig, nil
}

// AddPoints returns R+S as a *secp256k1.PublicKey using Jacobian add and
// affine conversion.
func AddPoints(R, S *secp256k1.PublicKey) (*secp256k1.PublicKey, error) {
	var rj, sj, sum secp256k1.JacobianPoint
	R.AsJacobian(&rj)
	S.AsJacobian(&sj)

	secp256k1.AddNonConst(&rj, &sj, &sum)

	// Infinity if Z == 0 in Jacobian coords.
	if sum.Z.IsZero() {
		return nil, fmt.Errorf("point sum is point at infinity")
	}

	sum.ToAffine()

	var ax, ay secp256k1.FieldVal
	ax.Set(&sum.X)
	ay.Set(&sum.Y)

	return secp256k1.NewPublicKey(&ax, &ay), nil
}

// SubtractPoints returns R-S.
func SubtractPoints(R, S *secp256k1.PublicKey) (*secp256k1.PublicKey, error) {
	var sj secp256k1.JacobianPoint
	S.AsJacobian(&sj)
	sj.Y.Negate(1)
	sj.ToAffine()

	var nx, ny secp256k1.FieldVal
	nx.Set(&sj.X)
	ny.Set(&sj.Y)
	return AddPoints(R, secp256k1.NewPublicKey(&nx, &ny))
}

// ScalarMult returns v*P.
func ScalarMult(v *secp256k1.ModNScalar, P *secp256k1.PublicKey) (*secp256k1.PublicKey, error) {
	var pj, out secp256k1.JacobianPoint
	P.AsJacobian(&pj)
	secp256k1.ScalarMultNonConst(v, &pj, &out)
	if out.Z.IsZero() {
		return nil, fmt.Errorf("scalar product is point at infinity")
	}
	out.ToAffine()
	return secp256k1.NewPublicKey(&out.X, &out.Y), nil
}

// challenge computes e = BLAKE256(r_x || m) reduced mod n. The second return
// reports overflow; per EC-Schnorr-DCRv0 an overflowing e means the nonce
// must be retried.
func challenge(rX [32]byte, m []byte) (secp256k1.ModNScalar, bool) {
	h := blake256.Sum256(append(rX[:], m...))
	var e secp256k1.ModNScalar
	overflow := e.SetByteSlice(h[:])
	return e, overflow
}

// SignAdaptor produces a pre-signature over the 32-byte digest m, completable
// only with the discrete log of T. Nonces are deterministic per RFC6979 with
// T mixed into the extra data, retried until R' = k*G + T has even Y and the
// challenge fits in the scalar field.
func SignAdaptor(priv *secp256k1.PrivateKey, m []byte, T *secp256k1.PublicKey) (*AdaptorSignature, error) {
	if len(m) != 32 {
		return nil, fmt.Errorf("message digest must be 32 bytes, got %d", len(m))
	}
	privBytes := priv.Serialize()

	var x secp256k1.ModNScalar
	if overflow := x.SetByteSlice(privBytes); overflow || x.IsZero() {
		return nil, fmt.Errorf("invalid private key scalar")
	}

	// Domain separation for nonce derivation:
	// extra = BLAKE256(tag32 || Tcompressed)
	tComp := T.SerializeCompressed()
	extra := blake256.Sum256(append(schnorrV0ExtraTag[:], tComp...))

	// Deterministic retry loop: iterate the RFC6979 stream until all
	// constraints pass.
	for iter := uint32(0); ; iter++ {
		k := secp256k1.NonceRFC6979(privBytes, m, extra[:], nil, iter)
		if k == nil || k.IsZero() {
			continue
		}
		kb := k.Bytes()

		// R' = k*G + T, retry on infinity.
		R := secp256k1.PrivKeyFromBytes(kb[:]).PubKey()
		Rp, err := AddPoints(R, T)
		if err != nil {
			continue
		}
		cp := Rp.SerializeCompressed()
		// Even-Y on R' is required by DCRv0 verification of the
		// completed signature.
		if len(cp) != 33 || cp[0] != secp256k1.PubKeyFormatCompressedEven {
			continue
		}

		var r32 [32]byte
		copy(r32[:], cp[1:33])
		e, overflow := challenge(r32, m)
		if overflow {
			continue
		}

		// s' = k - e*x (mod n)
		var ex, negex, sPrime secp256k1.ModNScalar
		ex.Set(&e)
		ex.Mul(&x)
		negex.NegateVal(&ex)
		sPrime.Set(k)
		sPrime.Add(&negex)

		sig := &AdaptorSignature{}
		copy(sig.R[:], cp)
		sb := sPrime.Bytes()
		copy(sig.SPrime[:], sb[:])
		return sig, nil
	}
}

// VerifyAdaptor checks the adaptor relation s'*G + e*X == R' - T for the
// pre-signature over m under public key X and adaptor point T. A valid
// pre-signature completes into a valid plain signature for exactly the
// discrete log of T.
func VerifyAdaptor(sig *AdaptorSignature, X *secp256k1.PublicKey, m []byte, T *secp256k1.PublicKey) error {
	if len(m) != 32 {
		return fmt.Errorf("%w: message digest must be 32 bytes", ErrInvalidSignature)
	}
	if sig.R[0] != secp256k1.PubKeyFormatCompressedEven {
		return fmt.Errorf("%w: R' must have even Y", ErrInvalidSignature)
	}
	Rp, err := secp256k1.ParsePubKey(sig.R[:])
	if err != nil {
		return fmt.Errorf("%w: parse R': %v", ErrInvalidSignature, err)
	}

	var r32 [32]byte
	copy(r32[:], sig.R[1:33])
	e, overflow := challenge(r32, m)
	if overflow {
		return fmt.Errorf("%w: challenge overflow", ErrInvalidSignature)
	}

	var sPrime secp256k1.ModNScalar
	if overflow := sPrime.SetByteSlice(sig.SPrime[:]); overflow {
		return fmt.Errorf("%w: s' overflow", ErrInvalidSignature)
	}

	// lhs = s'*G + e*X
	spb := sPrime.Bytes()
	spG := secp256k1.PrivKeyFromBytes(spb[:]).PubKey()
	eX, err := ScalarMult(&e, X)
	if err != nil {
		return fmt.Errorf("%w: e*X infinity", ErrInvalidSignature)
	}
	lhs, err := AddPoints(spG, eX)
	if err != nil {
		return fmt.Errorf("%w: lhs infinity", ErrInvalidSignature)
	}

	// rhs = R' - T
	rhs, err := SubtractPoints(Rp, T)
	if err != nil {
		return fmt.Errorf("%w: R'-T infinity", ErrInvalidSignature)
	}

	if !bytes.Equal(lhs.SerializeCompressed(), rhs.SerializeCompressed()) {
		return fmt.Errorf("%w: adaptor relation failed", ErrInvalidSignature)
	}
	return nil
}

// Complete turns the pre-signature into an ordinary EC-Schnorr-DCRv0
// signature using the revealed secret t with t*G == T: s = s' + t (mod n).
func (sig *AdaptorSignature) Complete(t *secp256k1.ModNScalar) (*schnorr.Signature, error) {
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(sig.SPrime[:]); overflow {
		return nil, fmt.Errorf("%w: s' overflow", ErrInvalidSignature)
	}
	s.Add(t)
	sb := s.Bytes()

	sig64 := make([]byte, 0, 64)
	sig64 = append(sig64, sig.R[1:33]...)
	sig64 = append(sig64, sb[:]...)
	return schnorr.ParseSignature(sig64)
}

// RecoverSecret extracts the adaptor secret from a completed signature and
// its pre-signature: t = s - s' (mod n). The result satisfies t*G == T when
// both signatures are valid for the same message.
func (sig *AdaptorSignature) RecoverSecret(completed *schnorr.Signature) (*secp256k1.ModNScalar, error) {
	ser := completed.Serialize()
	if !bytes.Equal(ser[:32], sig.R[1:33]) {
		return nil, fmt.Errorf("%w: completed signature has different nonce", ErrInvalidSignature)
	}
	var s, sPrime, neg secp256k1.ModNScalar
	if overflow := s.SetByteSlice(ser[32:64]); overflow {
		return nil, fmt.Errorf("%w: s overflow", ErrInvalidSignature)
	}
	if overflow := sPrime.SetByteSlice(sig.SPrime[:]); overflow {
		return nil, fmt.Errorf("%w: s' overflow", ErrInvalidSignature)
	}
	neg.NegateVal(&sPrime)
	s.Add(&neg)
	return &s, nil
}
