package sign

import (
	"fmt"
	"runtime"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
	"github.com/decred/dcrd/wire"
	"golang.org/x/sync/errgroup"

	"github.com/dcrdlc/dcrdlc"
	"github.com/dcrdlc/dcrdlc/contract"
)

// Verifier checks the counterparty's signatures before a contract is
// considered established. Accepting an unverifiable adaptor signature would
// leave the local party unable to settle that outcome.
type Verifier struct {
	remotePub *secp256k1.PublicKey
}

// NewVerifier wraps the counterparty's funding public key.
func NewVerifier(remoteFundPub [33]byte) (*Verifier, error) {
	pub, err := secp256k1.ParsePubKey(remoteFundPub[:])
	if err != nil {
		return nil, fmt.Errorf("remote funding key: %w", err)
	}
	return &Verifier{remotePub: pub}, nil
}

// checkRedeemMembership verifies the remote key is one of the two keys in
// the redeem script. A signature from a key outside the script would never
// satisfy the fund output.
func (v *Verifier) checkRedeemMembership(redeem []byte) error {
	keyA, keyB, err := ParseFundRedeemScript(redeem)
	if err != nil {
		return err
	}
	var pub [33]byte
	copy(pub[:], v.remotePub.SerializeCompressed())
	if pub != keyA && pub != keyB {
		return fmt.Errorf("%w: remote key signs for neither script key", ErrWrongPublicKey)
	}
	return nil
}

// VerifyCETSigs checks every adaptor signature against its CET sighash and
// outcome adaptor point, in parallel. All must verify; a single bad
// signature makes that outcome unsettleable and fails the whole batch.
func (v *Verifier) VerifyCETSigs(cets []*wire.MsgTx, outcomes []contract.Outcome,
	sigs []*dcrdlc.AdaptorSignature, redeem []byte) error {

	if len(cets) != len(outcomes) || len(sigs) != len(cets) {
		return fmt.Errorf("%d CETs, %d outcomes, %d signatures", len(cets), len(outcomes), len(sigs))
	}
	if err := v.checkRedeemMembership(redeem); err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i := range cets {
		i := i
		g.Go(func() error {
			m, err := dcrdlc.SigHashForRedeem(cets[i], 0, redeem)
			if err != nil {
				return fmt.Errorf("CET %d: %w", i, err)
			}
			if err := dcrdlc.VerifyAdaptor(sigs[i], v.remotePub, m, outcomes[i].AdaptorPoint); err != nil {
				return fmt.Errorf("CET %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// VerifyRefundSig checks the counterparty's plain Schnorr signature over the
// refund transaction.
func (v *Verifier) VerifyRefundSig(refundTx *wire.MsgTx, sig [64]byte, redeem []byte) error {
	if err := v.checkRedeemMembership(redeem); err != nil {
		return err
	}
	m, err := dcrdlc.SigHashForRedeem(refundTx, 0, redeem)
	if err != nil {
		return err
	}
	parsed, err := schnorr.ParseSignature(sig[:])
	if err != nil {
		return fmt.Errorf("%w: parse refund signature: %v", dcrdlc.ErrInvalidSignature, err)
	}
	if !parsed.Verify(m, v.remotePub) {
		return fmt.Errorf("%w: refund signature", dcrdlc.ErrInvalidSignature)
	}
	return nil
}

// VerifyFundingScripts applies the counterparty's signature scripts to its
// funding inputs and runs each through the script engine against the
// committed previous output script.
func VerifyFundingScripts(fundingTx *wire.MsgTx, inputs []contract.FundingInput,
	sigScripts [][]byte) error {

	if len(sigScripts) != len(inputs) {
		return fmt.Errorf("need %d signature scripts, have %d", len(inputs), len(sigScripts))
	}
	for i, in := range inputs {
		idx, err := dcrdlc.FindInputIndex(fundingTx, in.PrevOut.Hash, in.PrevOut.Index)
		if err != nil {
			return fmt.Errorf("funding input %d: %w", i, err)
		}
		fundingTx.TxIn[idx].SignatureScript = sigScripts[i]
		if err := dcrdlc.VerifyInputScript(fundingTx, idx, in.PkScript); err != nil {
			return fmt.Errorf("funding input %d: %w", i, err)
		}
	}
	return nil
}
