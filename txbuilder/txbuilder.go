// Package txbuilder constructs the three transaction shapes of a contract:
// the funding transaction locking both collaterals in a 2-of-2 script hash
// output, one contract execution transaction (CET) per outcome row, and the
// refund transaction spendable after the refund lock time. Construction is
// fully deterministic so both parties derive byte-identical drafts from the
// negotiated terms.
package txbuilder

import (
	"errors"
	"fmt"
	"sort"

	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"

	"github.com/dcrdlc/dcrdlc"
	"github.com/dcrdlc/dcrdlc/contract"
)

var (
	// ErrInsufficientFunds is returned when a party's committed inputs
	// cannot cover its collateral plus fee share.
	ErrInsufficientFunds = errors.New("funding inputs cannot cover collateral and fees")
)

// dustLimit is the smallest output value worth creating. Outputs below it
// are dropped and their value left to fees.
const dustLimit = 6030

// Rough serialized sizes used for fee estimation, in bytes. Funding inputs
// are assumed P2PKH with a compressed-key ECDSA sigScript.
const (
	txOverheadSize   = 15
	p2pkhInputSize   = 166
	p2shOutputSize   = 35
	p2pkhOutputSize  = 38
	fundSpendSize    = 260
	settlementTxSize = txOverheadSize + fundSpendSize + 2*p2pkhOutputSize
)

// feeFor scales an estimated size by the atoms-per-kB rate, rounding up.
func feeFor(rate dcrutil.Amount, size int) dcrutil.Amount {
	return (rate*dcrutil.Amount(size) + 999) / 1000
}

// Builder derives the contract transactions from the negotiated terms.
type Builder struct {
	Offer   contract.PartyParams
	Accept  contract.PartyParams
	Total   dcrutil.Amount
	FeeRate dcrutil.Amount // atoms per kB

	RefundLockTime uint32
}

// NewBuilder assembles a Builder from an exchanged offer and accept pair.
func NewBuilder(offer *contract.DLCOffer, accept *contract.DLCAccept) (*Builder, error) {
	if accept.Accept.Collateral != offer.AcceptCollateral() {
		return nil, fmt.Errorf("%w: accept contributes %d, offer requires %d",
			contract.ErrBadCollateral, accept.Accept.Collateral, offer.AcceptCollateral())
	}
	return &Builder{
		Offer:          offer.Offer,
		Accept:         accept.Accept,
		Total:          offer.ContractInfo.TotalCollateral,
		FeeRate:        offer.FeeRate,
		RefundLockTime: offer.RefundLockTime,
	}, nil
}

// FundRedeemScript is the 2-of-2 Schnorr redeem script both collaterals are
// locked under, offerer key first.
func (b *Builder) FundRedeemScript() ([]byte, error) {
	return dcrdlc.FundRedeemScript(b.Offer.FundPubKey[:], b.Accept.FundPubKey[:])
}

// fundingFeeShare is one party's share of the funding transaction fee,
// proportional to its own inputs plus its change output plus half the
// shared overhead and fund output.
func (b *Builder) fundingFeeShare(numInputs int) dcrutil.Amount {
	shared := txOverheadSize + p2shOutputSize
	size := numInputs*p2pkhInputSize + p2pkhOutputSize + shared/2
	return feeFor(b.FeeRate, size)
}

// changeValues computes each party's change output value after collateral
// and fee shares.
func (b *Builder) changeValues() (offerChange, acceptChange dcrutil.Amount, err error) {
	offerFee := b.fundingFeeShare(len(b.Offer.FundingInputs))
	acceptFee := b.fundingFeeShare(len(b.Accept.FundingInputs))

	offerChange = b.Offer.InputSum() - b.Offer.Collateral - offerFee
	if offerChange < 0 {
		return 0, 0, fmt.Errorf("%w: offerer has %d for collateral %d plus fee %d",
			ErrInsufficientFunds, b.Offer.InputSum(), b.Offer.Collateral, offerFee)
	}
	acceptChange = b.Accept.InputSum() - b.Accept.Collateral - acceptFee
	if acceptChange < 0 {
		return 0, 0, fmt.Errorf("%w: accepter has %d for collateral %d plus fee %d",
			ErrInsufficientFunds, b.Accept.InputSum(), b.Accept.Collateral, acceptFee)
	}
	return offerChange, acceptChange, nil
}

// BuildFundingTx assembles the unsigned funding transaction. Inputs from
// both parties are ordered by (txid asc, vout asc); the fund output is
// always index 0, followed by the offerer's change then the accepter's,
// each omitted when below dust.
func (b *Builder) BuildFundingTx() (*wire.MsgTx, error) {
	redeem, err := b.FundRedeemScript()
	if err != nil {
		return nil, err
	}
	fundScript, err := dcrdlc.P2SHScript(redeem)
	if err != nil {
		return nil, err
	}

	ins := make([]contract.FundingInput, 0, len(b.Offer.FundingInputs)+len(b.Accept.FundingInputs))
	ins = append(ins, b.Offer.FundingInputs...)
	ins = append(ins, b.Accept.FundingInputs...)
	sort.Slice(ins, func(i, j int) bool {
		cmp := ins[i].PrevOut.Hash.String()
		cmpj := ins[j].PrevOut.Hash.String()
		if cmp == cmpj {
			return ins[i].PrevOut.Index < ins[j].PrevOut.Index
		}
		return cmp < cmpj
	})

	tx := wire.NewMsgTx()
	tx.Version = 1
	for _, in := range ins {
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: in.PrevOut,
			ValueIn:          int64(in.Value),
			Sequence:         wire.MaxTxInSequenceNum,
		})
	}

	tx.AddTxOut(&wire.TxOut{Value: int64(b.Total), PkScript: fundScript})

	offerChange, acceptChange, err := b.changeValues()
	if err != nil {
		return nil, err
	}
	if offerChange >= dustLimit {
		tx.AddTxOut(&wire.TxOut{Value: int64(offerChange), PkScript: b.Offer.ChangeScript})
	}
	if acceptChange >= dustLimit {
		tx.AddTxOut(&wire.TxOut{Value: int64(acceptChange), PkScript: b.Accept.ChangeScript})
	}
	return tx, nil
}

// FundingOutPoint locates the fund output of a built funding transaction.
func FundingOutPoint(fundingTx *wire.MsgTx) wire.OutPoint {
	return wire.OutPoint{
		Hash:  fundingTx.TxHash(),
		Index: 0,
		Tree:  wire.TxTreeRegular,
	}
}

// settlementPayouts splits a settlement fee half and half across the two
// payouts, flooring each side at zero with the remainder falling on the
// other side. A payout left below dust is dropped entirely.
func settlementPayouts(offerPayout, total, fee dcrutil.Amount) (offerOut, acceptOut dcrutil.Amount) {
	acceptPayout := total - offerPayout
	half := fee / 2

	offerOut = offerPayout - half
	acceptOut = acceptPayout - (fee - half)
	if offerOut < 0 {
		acceptOut += offerOut
		offerOut = 0
	}
	if acceptOut < 0 {
		offerOut += acceptOut
		acceptOut = 0
	}
	if offerOut < dustLimit {
		offerOut = 0
	}
	if acceptOut < dustLimit {
		acceptOut = 0
	}
	return offerOut, acceptOut
}

// buildSettlementTx spends the fund output into both parties' payout
// scripts. Offerer output first when present.
func (b *Builder) buildSettlementTx(fundOut wire.OutPoint, offerPayout dcrutil.Amount,
	sequence, lockTime uint32) (*wire.MsgTx, error) {

	tx := wire.NewMsgTx()
	tx.Version = 1
	tx.LockTime = lockTime
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: fundOut,
		ValueIn:          int64(b.Total),
		Sequence:         sequence,
	})

	fee := feeFor(b.FeeRate, settlementTxSize)
	offerOut, acceptOut := settlementPayouts(offerPayout, b.Total, fee)
	if offerOut == 0 && acceptOut == 0 {
		return nil, fmt.Errorf("settlement pays nobody: total %d below fee %d plus dust", b.Total, fee)
	}
	if offerOut > 0 {
		tx.AddTxOut(&wire.TxOut{Value: int64(offerOut), PkScript: b.Offer.PayoutScript})
	}
	if acceptOut > 0 {
		tx.AddTxOut(&wire.TxOut{Value: int64(acceptOut), PkScript: b.Accept.PayoutScript})
	}
	return tx, nil
}

// BuildCETs assembles one unsigned CET per outcome row, in table order.
func (b *Builder) BuildCETs(fundingTx *wire.MsgTx, outcomes []contract.Outcome) ([]*wire.MsgTx, error) {
	fundOut := FundingOutPoint(fundingTx)
	cets := make([]*wire.MsgTx, len(outcomes))
	for i, o := range outcomes {
		tx, err := b.buildSettlementTx(fundOut, o.OfferPayout, wire.MaxTxInSequenceNum, 0)
		if err != nil {
			return nil, fmt.Errorf("outcome %d: %w", i, err)
		}
		cets[i] = tx
	}
	return cets, nil
}

// BuildRefundTx assembles the unsigned refund transaction returning each
// collateral. The lock time keeps it unmineable until the contract is
// considered expired; the sequence must leave lock time enforcement on.
func (b *Builder) BuildRefundTx(fundingTx *wire.MsgTx) (*wire.MsgTx, error) {
	if b.RefundLockTime == 0 {
		return nil, fmt.Errorf("refund lock time not set")
	}
	fundOut := FundingOutPoint(fundingTx)
	return b.buildSettlementTx(fundOut, b.Offer.Collateral,
		wire.MaxTxInSequenceNum-1, b.RefundLockTime)
}
