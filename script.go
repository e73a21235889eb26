package dcrdlc

import (
	"bytes"
	"fmt"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/txscript/v4"
	"github.com/decred/dcrd/txscript/v4/stdaddr"
	"github.com/decred/dcrd/wire"
)

const (
	// schnorrSigHashType selects schnorr-secp256k1 for OP_CHECKSIGALT.
	schnorrSigType = 2
)

// FundRedeemScript builds the 2-of-2 Schnorr redeem script locking the
// contract collateral to both parties:
//
//	<A> 2 OP_CHECKSIGALTVERIFY <B> 2 OP_CHECKSIGALT
//
// Spends push <sigB> <sigA> <redeem>; both signatures are 65-byte Schnorr
// (r || s || hashtype). Key order is normative: A is the offerer's funding
// key, B the accepter's.
func FundRedeemScript(compA, compB []byte) ([]byte, error) {
	if len(compA) != 33 || len(compB) != 33 {
		return nil, fmt.Errorf("need 33-byte compressed pubkeys")
	}
	b := txscript.NewScriptBuilder()
	b.AddData(compA).
		AddInt64(schnorrSigType).
		AddOp(txscript.OP_CHECKSIGALTVERIFY).
		AddData(compB).
		AddInt64(schnorrSigType).
		AddOp(txscript.OP_CHECKSIGALT)
	return b.Script()
}

// P2SHScript wraps a redeem script in the standard pay-to-script-hash output
// script.
func P2SHScript(redeem []byte) ([]byte, error) {
	sh := dcrutil.Hash160(redeem)
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(sh).
		AddOp(txscript.OP_EQUAL).
		Script()
}

// P2SHAddress returns the P2SH pkScript and its human-readable address for
// the given redeem script and network params.
// NOTE: stdaddr wants (scriptVersion, redeem, params), then use
// addr.PaymentScript().
func P2SHAddress(redeem []byte, params stdaddr.AddressParams) ([]byte, string, error) {
	a, err := stdaddr.NewAddressScriptHash(0, redeem, params)
	if err != nil {
		return nil, "", err
	}
	_, pk := a.PaymentScript()
	return pk, a.String(), nil
}

// P2PKScript builds a payout script paying to a single compressed pubkey
// using OP_CHECKSIG.
func P2PKScript(comp33 []byte) ([]byte, error) {
	if len(comp33) != 33 {
		return nil, fmt.Errorf("need 33-byte compressed pubkey")
	}
	b := txscript.NewScriptBuilder()
	b.AddData(comp33).
		AddOp(txscript.OP_CHECKSIG)
	return b.Script()
}

// P2PKHScript builds a standard ECDSA pay-to-pubkey-hash output script.
func P2PKHScript(pubKeyHash160 []byte) ([]byte, error) {
	if len(pubKeyHash160) != 20 {
		return nil, fmt.Errorf("need 20-byte pubkey hash")
	}
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(pubKeyHash160).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// FundSpendSigScript assembles the signature script spending the contract
// funding output: <sigB> <sigA> <redeem>.
func FundSpendSigScript(sigA65, sigB65, redeem []byte) ([]byte, error) {
	if len(sigA65) != 65 || len(sigB65) != 65 {
		return nil, fmt.Errorf("need 65-byte schnorr signatures")
	}
	sb := txscript.NewScriptBuilder()
	sb.AddData(sigB65)
	sb.AddData(sigA65)
	sb.AddData(redeem)
	return sb.Script()
}

// SigHashForRedeem computes the 32-byte SIGHASH_ALL digest for spending input
// idx of tx against the given redeem script.
func SigHashForRedeem(tx *wire.MsgTx, idx int, redeem []byte) ([]byte, error) {
	m, err := txscript.CalcSignatureHash(redeem, txscript.SigHashAll, tx, idx, nil)
	if err != nil {
		return nil, fmt.Errorf("sighash for input %d: %w", idx, err)
	}
	if len(m) != 32 {
		return nil, fmt.Errorf("sighash for input %d: got %d bytes", idx, len(m))
	}
	return m, nil
}

// VerifyInputScript runs the script VM over input idx of tx against the
// output script it spends. Used to self-check every finalized transaction
// before it is handed to the broadcaster.
func VerifyInputScript(tx *wire.MsgTx, idx int, pkScript []byte) error {
	vm, err := txscript.NewEngine(pkScript, tx, idx, 0, 0, nil)
	if err != nil {
		return fmt.Errorf("engine init for input %d: %w", idx, err)
	}
	if err := vm.Execute(); err != nil {
		return fmt.Errorf("script verify failed on input %d: %w", idx, err)
	}
	return nil
}

// FindInputIndex locates the unique input of tx spending the given outpoint.
func FindInputIndex(tx *wire.MsgTx, prevHash chainhash.Hash, prevIndex uint32) (int, error) {
	matchCount := 0
	matchIdx := -1
	for i, ti := range tx.TxIn {
		if ti.PreviousOutPoint.Hash == prevHash && ti.PreviousOutPoint.Index == prevIndex {
			matchCount++
			matchIdx = i
		}
	}
	if matchCount == 0 {
		return -1, fmt.Errorf("input %s:%d not found in transaction", prevHash, prevIndex)
	}
	if matchCount > 1 {
		return -1, fmt.Errorf("input %s:%d matches %d inputs (ambiguous)", prevHash, prevIndex, matchCount)
	}
	return matchIdx, nil
}

// SerializeTx returns the canonical serialization of tx. Both parties must
// derive byte-identical unsigned transactions; this is the byte form that is
// compared.
func SerializeTx(tx *wire.MsgTx) []byte {
	var buf bytes.Buffer
	_ = tx.Serialize(&buf)
	return buf.Bytes()
}
