// Package sign produces and verifies the signatures a contract needs: one
// adaptor signature per CET bound to that outcome's adaptor point, a plain
// Schnorr signature over the refund transaction, and ECDSA signature
// scripts for each party's funding inputs.
package sign

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/decred/dcrd/dcrec"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
	"github.com/decred/dcrd/txscript/v4"
	txsign "github.com/decred/dcrd/txscript/v4/sign"
	"github.com/decred/dcrd/wire"
	"golang.org/x/sync/errgroup"

	"github.com/dcrdlc/dcrdlc"
	"github.com/dcrdlc/dcrdlc/contract"
)

var (
	// ErrNoRedeemScript is returned when an empty redeem script is
	// supplied.
	ErrNoRedeemScript = errors.New("no redeem script")

	// ErrMalformedRedeemScript is returned when a redeem script does not
	// have the expected 2-of-2 Schnorr shape.
	ErrMalformedRedeemScript = errors.New("malformed redeem script")

	// ErrWrongPublicKey is returned when a signing key does not appear in
	// the redeem script.
	ErrWrongPublicKey = errors.New("public key not in redeem script")

	// ErrTooManySigners is returned when more funding keys are supplied
	// than funding inputs.
	ErrTooManySigners = errors.New("more signing keys than funding inputs")
)

// redeemScriptSize is the serialized length of the 2-of-2 redeem script:
// two 33-byte key pushes, two sig type pushes, and two checksig opcodes.
const redeemScriptSize = 72

// ParseFundRedeemScript extracts the two compressed funding keys from a
// 2-of-2 redeem script, offerer key first.
func ParseFundRedeemScript(redeem []byte) (keyA, keyB [33]byte, err error) {
	if len(redeem) == 0 {
		return keyA, keyB, ErrNoRedeemScript
	}
	if len(redeem) != redeemScriptSize ||
		redeem[0] != 33 || redeem[36] != 33 ||
		redeem[34] != txscript.OP_2 || redeem[70] != txscript.OP_2 ||
		redeem[35] != txscript.OP_CHECKSIGALTVERIFY ||
		redeem[71] != txscript.OP_CHECKSIGALT {
		return keyA, keyB, ErrMalformedRedeemScript
	}
	copy(keyA[:], redeem[1:34])
	copy(keyB[:], redeem[37:70])
	if _, err := secp256k1.ParsePubKey(keyA[:]); err != nil {
		return keyA, keyB, fmt.Errorf("%w: key A: %v", ErrMalformedRedeemScript, err)
	}
	if _, err := secp256k1.ParsePubKey(keyB[:]); err != nil {
		return keyA, keyB, fmt.Errorf("%w: key B: %v", ErrMalformedRedeemScript, err)
	}
	return keyA, keyB, nil
}

// Signer signs contract transactions for one party.
type Signer struct {
	fundPriv *secp256k1.PrivateKey
}

// NewSigner wraps a party's funding private key.
func NewSigner(fundPriv *secp256k1.PrivateKey) *Signer {
	return &Signer{fundPriv: fundPriv}
}

// FundPubKey returns the compressed funding public key.
func (s *Signer) FundPubKey() [33]byte {
	var out [33]byte
	copy(out[:], s.fundPriv.PubKey().SerializeCompressed())
	return out
}

// checkRedeemMembership verifies the signer's key is one of the two keys in
// the redeem script.
func (s *Signer) checkRedeemMembership(redeem []byte) error {
	keyA, keyB, err := ParseFundRedeemScript(redeem)
	if err != nil {
		return err
	}
	pub := s.FundPubKey()
	if pub != keyA && pub != keyB {
		return ErrWrongPublicKey
	}
	return nil
}

// SignCETs produces one adaptor signature per CET, each completable only by
// the matching outcome's attestation secret. CETs are independent, so the
// signatures are computed in parallel.
func (s *Signer) SignCETs(cets []*wire.MsgTx, outcomes []contract.Outcome, redeem []byte) ([]*dcrdlc.AdaptorSignature, error) {
	if len(cets) != len(outcomes) {
		return nil, fmt.Errorf("%d CETs for %d outcomes", len(cets), len(outcomes))
	}
	if err := s.checkRedeemMembership(redeem); err != nil {
		return nil, err
	}

	sigs := make([]*dcrdlc.AdaptorSignature, len(cets))
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i := range cets {
		i := i
		g.Go(func() error {
			m, err := dcrdlc.SigHashForRedeem(cets[i], 0, redeem)
			if err != nil {
				return fmt.Errorf("CET %d: %w", i, err)
			}
			sig, err := dcrdlc.SignAdaptor(s.fundPriv, m, outcomes[i].AdaptorPoint)
			if err != nil {
				return fmt.Errorf("CET %d: %w", i, err)
			}
			sigs[i] = sig
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sigs, nil
}

// SignRefund produces the plain Schnorr signature over the refund
// transaction.
func (s *Signer) SignRefund(refundTx *wire.MsgTx, redeem []byte) ([64]byte, error) {
	var out [64]byte
	if err := s.checkRedeemMembership(redeem); err != nil {
		return out, err
	}
	m, err := dcrdlc.SigHashForRedeem(refundTx, 0, redeem)
	if err != nil {
		return out, err
	}
	sig, err := schnorr.Sign(s.fundPriv, m)
	if err != nil {
		return out, fmt.Errorf("sign refund: %w", err)
	}
	copy(out[:], sig.Serialize())
	return out, nil
}

// SignRaw produces a plain 64-byte Schnorr signature over a 32-byte digest.
// Used at settlement time, where the local party signs the chosen CET
// directly rather than via an adaptor signature.
func (s *Signer) SignRaw(m []byte) ([]byte, error) {
	sig, err := schnorr.Sign(s.fundPriv, m)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	return sig.Serialize(), nil
}

// SignFundingInputs produces ECDSA P2PKH signature scripts for one party's
// funding inputs, in input order. keys[i] must control inputs[i]'s previous
// output script.
func SignFundingInputs(fundingTx *wire.MsgTx, inputs []contract.FundingInput,
	keys []*secp256k1.PrivateKey) ([][]byte, error) {

	if len(keys) > len(inputs) {
		return nil, ErrTooManySigners
	}
	if len(keys) < len(inputs) {
		return nil, fmt.Errorf("need %d signing keys, have %d", len(inputs), len(keys))
	}

	scripts := make([][]byte, len(inputs))
	for i, in := range inputs {
		idx, err := dcrdlc.FindInputIndex(fundingTx, in.PrevOut.Hash, in.PrevOut.Index)
		if err != nil {
			return nil, fmt.Errorf("funding input %d: %w", i, err)
		}
		sigScript, err := txsign.SignatureScript(fundingTx, idx, in.PkScript,
			txscript.SigHashAll, keys[i].Serialize(), dcrec.STEcdsaSecp256k1, true)
		if err != nil {
			return nil, fmt.Errorf("funding input %d: %w", i, err)
		}
		scripts[i] = sigScript
	}
	return scripts, nil
}
