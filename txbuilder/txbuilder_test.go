package txbuilder

import (
	"bytes"
	"testing"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"

	"github.com/dcrdlc/dcrdlc"
	"github.com/dcrdlc/dcrdlc/contract"
	"github.com/dcrdlc/dcrdlc/oracle"
)

func newKey(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return k
}

func partyParams(t *testing.T, collateral, inputValue dcrutil.Amount, hashSeed byte) contract.PartyParams {
	t.Helper()
	fund := newKey(t)
	script, err := dcrdlc.P2PKScript(fund.PubKey().SerializeCompressed())
	if err != nil {
		t.Fatalf("P2PKScript: %v", err)
	}
	var h chainhash.Hash
	h[31] = hashSeed
	var fundPub [33]byte
	copy(fundPub[:], fund.PubKey().SerializeCompressed())
	return contract.PartyParams{
		FundPubKey:   fundPub,
		PayoutScript: script,
		Collateral:   collateral,
		FundingInputs: []contract.FundingInput{{
			PrevOut:  wire.OutPoint{Hash: h, Index: 0, Tree: wire.TxTreeRegular},
			Value:    inputValue,
			PkScript: script,
		}},
		ChangeScript: script,
	}
}

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	signer := oracle.NewSigner(newKey(t))
	ann, err := signer.AnnounceEnum("match", []string{"WIN", "LOSE"})
	if err != nil {
		t.Fatalf("AnnounceEnum: %v", err)
	}
	total := dcrutil.Amount(100_000_000)
	offer := &contract.DLCOffer{
		ContractInfo: &contract.ContractInfo{
			TotalCollateral: total,
			Descriptor: &contract.EnumDescriptor{Payouts: []contract.EnumPayout{
				{Label: "WIN", OfferPayout: total},
				{Label: "LOSE", OfferPayout: 0},
			}},
			Oracles: &contract.SingleOracle{Ann: ann},
		},
		Offer:          partyParams(t, 60_000_000, 120_000_000, 0x02),
		FeeRate:        10_000,
		RefundLockTime: 820_000,
	}
	accept := &contract.DLCAccept{
		Accept: partyParams(t, 40_000_000, 80_000_000, 0x01),
	}
	b, err := NewBuilder(offer, accept)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	return b
}

func TestNewBuilderCollateralMismatch(t *testing.T) {
	b := testBuilder(t)
	offer := &contract.DLCOffer{
		ContractInfo: &contract.ContractInfo{TotalCollateral: b.Total},
		Offer:        b.Offer,
	}
	accept := &contract.DLCAccept{Accept: b.Accept}
	accept.Accept.Collateral++
	if _, err := NewBuilder(offer, accept); err == nil {
		t.Fatalf("mismatched collateral accepted")
	}
}

func TestBuildFundingTxShape(t *testing.T) {
	b := testBuilder(t)
	tx, err := b.BuildFundingTx()
	if err != nil {
		t.Fatalf("BuildFundingTx: %v", err)
	}

	if len(tx.TxIn) != 2 {
		t.Fatalf("funding tx has %d inputs, want 2", len(tx.TxIn))
	}
	// Inputs sort by txid. The accepter's input hash (…01) precedes the
	// offerer's (…02) in hash-string order only if its string sorts first;
	// assert the invariant directly instead.
	h0 := tx.TxIn[0].PreviousOutPoint.Hash.String()
	h1 := tx.TxIn[1].PreviousOutPoint.Hash.String()
	if h0 > h1 {
		t.Fatalf("inputs not sorted: %s before %s", h0, h1)
	}

	if len(tx.TxOut) != 3 {
		t.Fatalf("funding tx has %d outputs, want fund plus two change", len(tx.TxOut))
	}
	if tx.TxOut[0].Value != int64(b.Total) {
		t.Fatalf("fund output pays %d, want %d", tx.TxOut[0].Value, b.Total)
	}

	redeem, err := b.FundRedeemScript()
	if err != nil {
		t.Fatalf("FundRedeemScript: %v", err)
	}
	fundScript, err := dcrdlc.P2SHScript(redeem)
	if err != nil {
		t.Fatalf("P2SHScript: %v", err)
	}
	if !bytes.Equal(tx.TxOut[0].PkScript, fundScript) {
		t.Fatalf("fund output script mismatch")
	}

	// Change values: input sum minus collateral minus the fee share for one
	// P2PKH input, a change output, and half the shared overhead.
	wantFee := feeFor(b.FeeRate, p2pkhInputSize+p2pkhOutputSize+(txOverheadSize+p2shOutputSize)/2)
	wantOfferChange := b.Offer.InputSum() - b.Offer.Collateral - wantFee
	wantAcceptChange := b.Accept.InputSum() - b.Accept.Collateral - wantFee
	if tx.TxOut[1].Value != int64(wantOfferChange) {
		t.Fatalf("offer change %d, want %d", tx.TxOut[1].Value, wantOfferChange)
	}
	if tx.TxOut[2].Value != int64(wantAcceptChange) {
		t.Fatalf("accept change %d, want %d", tx.TxOut[2].Value, wantAcceptChange)
	}
	if !bytes.Equal(tx.TxOut[1].PkScript, b.Offer.ChangeScript) {
		t.Fatalf("offer change script mismatch")
	}

	fundOut := FundingOutPoint(tx)
	if fundOut.Index != 0 || fundOut.Hash != tx.TxHash() {
		t.Fatalf("funding outpoint %v", fundOut)
	}
}

func TestBuildFundingTxDeterministic(t *testing.T) {
	b := testBuilder(t)
	tx1, err := b.BuildFundingTx()
	if err != nil {
		t.Fatalf("BuildFundingTx: %v", err)
	}
	// Swapping which side is constructed first must not matter since the
	// builder orders inputs itself.
	b2 := &Builder{
		Offer: b.Offer, Accept: b.Accept,
		Total: b.Total, FeeRate: b.FeeRate,
		RefundLockTime: b.RefundLockTime,
	}
	tx2, err := b2.BuildFundingTx()
	if err != nil {
		t.Fatalf("second BuildFundingTx: %v", err)
	}
	if !bytes.Equal(dcrdlc.SerializeTx(tx1), dcrdlc.SerializeTx(tx2)) {
		t.Fatalf("funding tx not deterministic")
	}
}

func TestBuildFundingTxInsufficientFunds(t *testing.T) {
	b := testBuilder(t)
	b.Offer.FundingInputs[0].Value = b.Offer.Collateral // leaves nothing for fees
	if _, err := b.BuildFundingTx(); err == nil {
		t.Fatalf("insufficient inputs accepted")
	}
}

func TestSettlementPayouts(t *testing.T) {
	total := dcrutil.Amount(100_000_000)
	fee := dcrutil.Amount(3_510)

	// Split outcome: both sides pay half the fee.
	offerOut, acceptOut := settlementPayouts(60_000_000, total, fee)
	if offerOut != 60_000_000-1755 || acceptOut != 40_000_000-1755 {
		t.Fatalf("split payouts %d/%d", offerOut, acceptOut)
	}

	// Winner-take-all: the zero side cannot pay, so the winner absorbs the
	// whole fee.
	offerOut, acceptOut = settlementPayouts(total, total, fee)
	if acceptOut != 0 {
		t.Fatalf("losing side paid %d", acceptOut)
	}
	if offerOut != total-fee {
		t.Fatalf("winner keeps %d, want %d", offerOut, total-fee)
	}

	// A side left below dust is dropped entirely.
	offerOut, acceptOut = settlementPayouts(4_000, total, fee)
	if offerOut != 0 {
		t.Fatalf("dust payout kept: %d", offerOut)
	}
	if acceptOut != total-4_000-(fee-fee/2) {
		t.Fatalf("accept payout %d", acceptOut)
	}
}

func TestBuildCETs(t *testing.T) {
	b := testBuilder(t)
	fundingTx, err := b.BuildFundingTx()
	if err != nil {
		t.Fatalf("BuildFundingTx: %v", err)
	}
	outcomes := []contract.Outcome{
		{Label: "WIN", OfferPayout: b.Total},
		{Label: "LOSE", OfferPayout: 0},
	}
	cets, err := b.BuildCETs(fundingTx, outcomes)
	if err != nil {
		t.Fatalf("BuildCETs: %v", err)
	}
	if len(cets) != 2 {
		t.Fatalf("built %d CETs, want 2", len(cets))
	}

	fundOut := FundingOutPoint(fundingTx)
	fee := feeFor(b.FeeRate, settlementTxSize)
	for i, cet := range cets {
		if len(cet.TxIn) != 1 || cet.TxIn[0].PreviousOutPoint != fundOut {
			t.Fatalf("CET %d does not spend the fund output", i)
		}
		if cet.LockTime != 0 {
			t.Fatalf("CET %d has lock time %d", i, cet.LockTime)
		}
		if cet.TxIn[0].Sequence != wire.MaxTxInSequenceNum {
			t.Fatalf("CET %d sequence %d", i, cet.TxIn[0].Sequence)
		}
		if len(cet.TxOut) != 1 {
			t.Fatalf("CET %d has %d outputs, want the winner only", i, len(cet.TxOut))
		}
	}
	if cets[0].TxOut[0].Value != int64(b.Total)-int64(fee) {
		t.Fatalf("WIN CET pays %d", cets[0].TxOut[0].Value)
	}
	if !bytes.Equal(cets[0].TxOut[0].PkScript, b.Offer.PayoutScript) {
		t.Fatalf("WIN CET pays the wrong side")
	}
	if !bytes.Equal(cets[1].TxOut[0].PkScript, b.Accept.PayoutScript) {
		t.Fatalf("LOSE CET pays the wrong side")
	}
}

func TestBuildRefundTx(t *testing.T) {
	b := testBuilder(t)
	fundingTx, err := b.BuildFundingTx()
	if err != nil {
		t.Fatalf("BuildFundingTx: %v", err)
	}
	refund, err := b.BuildRefundTx(fundingTx)
	if err != nil {
		t.Fatalf("BuildRefundTx: %v", err)
	}
	if refund.LockTime != b.RefundLockTime {
		t.Fatalf("refund lock time %d, want %d", refund.LockTime, b.RefundLockTime)
	}
	if refund.TxIn[0].Sequence != wire.MaxTxInSequenceNum-1 {
		t.Fatalf("refund sequence %d leaves lock time unenforced", refund.TxIn[0].Sequence)
	}
	if len(refund.TxOut) != 2 {
		t.Fatalf("refund has %d outputs, want both collaterals", len(refund.TxOut))
	}
	fee := feeFor(b.FeeRate, settlementTxSize)
	if refund.TxOut[0].Value != int64(b.Offer.Collateral)-int64(fee/2) {
		t.Fatalf("refund returns %d to offerer", refund.TxOut[0].Value)
	}
	if refund.TxOut[1].Value != int64(b.Accept.Collateral)-int64(fee-fee/2) {
		t.Fatalf("refund returns %d to accepter", refund.TxOut[1].Value)
	}

	b.RefundLockTime = 0
	if _, err := b.BuildRefundTx(fundingTx); err == nil {
		t.Fatalf("zero lock time accepted")
	}
}
