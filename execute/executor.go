// Package execute drives a contract through its lifecycle: offered,
// accepted, signed, then either executed against an attestation or refunded
// after the lock time. One Executor instance runs one side of one contract.
package execute

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/txscript/v4"
	"github.com/decred/dcrd/wire"
	"github.com/decred/slog"

	"github.com/dcrdlc/dcrdlc"
	"github.com/dcrdlc/dcrdlc/contract"
	"github.com/dcrdlc/dcrdlc/oracle"
	"github.com/dcrdlc/dcrdlc/sign"
	"github.com/dcrdlc/dcrdlc/txbuilder"
)

// State is the contract lifecycle position.
type State int

const (
	StateInit State = iota
	StateOffered
	StateAccepted
	StateSigned
	StateExecuted
	StateRefunded
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateOffered:
		return "offered"
	case StateAccepted:
		return "accepted"
	case StateSigned:
		return "signed"
	case StateExecuted:
		return "executed"
	case StateRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrBadState is returned when an operation is attempted out of lifecycle
// order.
var ErrBadState = errors.New("operation not valid in current state")

// Config configures one side of a contract.
type Config struct {
	// FundPriv is this party's funding key. Its public key must match the
	// offer or accept funding key, which also decides the local role.
	FundPriv *secp256k1.PrivateKey

	Log slog.Logger
}

// Executor holds one party's view of a contract as it moves through the
// handshake.
type Executor struct {
	signer *sign.Signer
	log    slog.Logger

	state   State
	offerer bool

	offer  *contract.DLCOffer
	accept *contract.DLCAccept

	builder   *txbuilder.Builder
	table     []contract.Outcome
	redeem    []byte
	fundingTx *wire.MsgTx
	cets      []*wire.MsgTx
	refundTx  *wire.MsgTx

	contractID      [32]byte
	remoteCETSigs   []*dcrdlc.AdaptorSignature
	remoteRefundSig [64]byte

	// Accepter side only: the fully signed funding transaction pieces.
	offerFundingScripts [][]byte
}

// New creates an idle executor.
func New(cfg Config) (*Executor, error) {
	if cfg.FundPriv == nil {
		return nil, fmt.Errorf("funding key required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	return &Executor{
		signer: sign.NewSigner(cfg.FundPriv),
		log:    log,
		state:  StateInit,
	}, nil
}

// State reports the current lifecycle position.
func (e *Executor) State() State { return e.state }

// ContractID returns the permanent contract id, valid once the funding
// transaction is built.
func (e *Executor) ContractID() [32]byte { return e.contractID }

// FundingTx returns the funding transaction draft. On the accepter side
// after OnSign it carries both parties' input scripts and is ready for
// broadcast.
func (e *Executor) FundingTx() *wire.MsgTx { return e.fundingTx }

// RefundTx returns the unsigned refund draft, valid once signed.
func (e *Executor) RefundTx() *wire.MsgTx { return e.refundTx }

// Outcomes returns the expanded outcome table, valid once accepted.
func (e *Executor) Outcomes() []contract.Outcome { return e.table }

// CETs returns the CET drafts in outcome table order, valid once accepted.
func (e *Executor) CETs() []*wire.MsgTx { return e.cets }

// Offer registers the contract offer on both sides. The offerer calls it
// with its own message, the accepter with the received one.
func (e *Executor) Offer(offer *contract.DLCOffer) error {
	if e.state != StateInit {
		return fmt.Errorf("%w: offer in state %v", ErrBadState, e.state)
	}
	if err := offer.Validate(); err != nil {
		return err
	}
	e.offerer = e.signer.FundPubKey() == offer.Offer.FundPubKey
	e.offer = offer
	e.state = StateOffered
	e.log.Debugf("contract offered: total %v, offerer role %v",
		offer.ContractInfo.TotalCollateral, e.offerer)
	return nil
}

// setup expands the outcome table and builds every transaction draft. Both
// sides run it when the accept parameters become known.
func (e *Executor) setup(acceptParams contract.PartyParams) error {
	table, err := e.offer.ContractInfo.OutcomeTable()
	if err != nil {
		return err
	}

	accept := &contract.DLCAccept{Accept: acceptParams}
	builder, err := txbuilder.NewBuilder(e.offer, accept)
	if err != nil {
		return err
	}
	redeem, err := builder.FundRedeemScript()
	if err != nil {
		return err
	}
	fundingTx, err := builder.BuildFundingTx()
	if err != nil {
		return err
	}
	cets, err := builder.BuildCETs(fundingTx, table)
	if err != nil {
		return err
	}
	refundTx, err := builder.BuildRefundTx(fundingTx)
	if err != nil {
		return err
	}

	e.builder = builder
	e.table = table
	e.redeem = redeem
	e.fundingTx = fundingTx
	e.cets = cets
	e.refundTx = refundTx
	e.contractID = contract.ComputeContractID(fundingTx.TxHash(), e.offer.TempContractID)
	e.log.Debugf("contract setup: %d CETs, funding tx %s", len(cets), fundingTx.TxHash())
	return nil
}

// Accept builds the accepter's reply: its funding contribution plus adaptor
// signatures over every CET and its refund signature. Accepter side only.
func (e *Executor) Accept(params contract.PartyParams) (*contract.DLCAccept, error) {
	if e.state != StateOffered {
		return nil, fmt.Errorf("%w: accept in state %v", ErrBadState, e.state)
	}
	if e.offerer {
		return nil, fmt.Errorf("%w: offerer cannot accept its own offer", ErrBadState)
	}
	if params.FundPubKey != e.signer.FundPubKey() {
		return nil, fmt.Errorf("accept params carry a different funding key")
	}
	if err := e.setup(params); err != nil {
		return nil, err
	}

	cetSigs, err := e.signer.SignCETs(e.cets, e.table, e.redeem)
	if err != nil {
		return nil, err
	}
	refundSig, err := e.signer.SignRefund(e.refundTx, e.redeem)
	if err != nil {
		return nil, err
	}

	e.accept = &contract.DLCAccept{
		TempContractID: e.offer.TempContractID,
		Accept:         params,
		CETSigs:        cetSigs,
		RefundSig:      refundSig,
	}
	e.state = StateAccepted
	return e.accept, nil
}

// OnAccept verifies the accepter's signatures and stores them. Offerer side
// only.
func (e *Executor) OnAccept(accept *contract.DLCAccept) error {
	if e.state != StateOffered {
		return fmt.Errorf("%w: on-accept in state %v", ErrBadState, e.state)
	}
	if !e.offerer {
		return fmt.Errorf("%w: only the offerer handles accept messages", ErrBadState)
	}
	if accept.TempContractID != e.offer.TempContractID {
		return fmt.Errorf("accept answers a different offer")
	}
	if err := e.setup(accept.Accept); err != nil {
		return err
	}

	verifier, err := sign.NewVerifier(accept.Accept.FundPubKey)
	if err != nil {
		return err
	}
	if err := verifier.VerifyCETSigs(e.cets, e.table, accept.CETSigs, e.redeem); err != nil {
		return err
	}
	if err := verifier.VerifyRefundSig(e.refundTx, accept.RefundSig, e.redeem); err != nil {
		return err
	}

	e.accept = accept
	e.remoteCETSigs = accept.CETSigs
	e.remoteRefundSig = accept.RefundSig
	e.state = StateAccepted
	e.log.Infof("contract %x accepted", e.contractID[:8])
	return nil
}

// Sign produces the offerer's closing message: its adaptor and refund
// signatures plus signature scripts for its funding inputs. Offerer side
// only. inputKeys must align with the offer's funding inputs.
func (e *Executor) Sign(inputKeys []*secp256k1.PrivateKey) (*contract.DLCSign, error) {
	if e.state != StateAccepted {
		return nil, fmt.Errorf("%w: sign in state %v", ErrBadState, e.state)
	}
	if !e.offerer {
		return nil, fmt.Errorf("%w: only the offerer sends the sign message", ErrBadState)
	}

	cetSigs, err := e.signer.SignCETs(e.cets, e.table, e.redeem)
	if err != nil {
		return nil, err
	}
	refundSig, err := e.signer.SignRefund(e.refundTx, e.redeem)
	if err != nil {
		return nil, err
	}
	fundingScripts, err := sign.SignFundingInputs(e.fundingTx, e.offer.Offer.FundingInputs, inputKeys)
	if err != nil {
		return nil, err
	}

	e.state = StateSigned
	return &contract.DLCSign{
		ContractID:     e.contractID,
		CETSigs:        cetSigs,
		RefundSig:      refundSig,
		FundingScripts: fundingScripts,
	}, nil
}

// OnSign verifies the offerer's signatures, applies its funding scripts,
// and signs the accepter's own funding inputs, leaving FundingTx ready for
// broadcast. Accepter side only. inputKeys must align with the accept's
// funding inputs.
func (e *Executor) OnSign(signMsg *contract.DLCSign, inputKeys []*secp256k1.PrivateKey) error {
	if e.state != StateAccepted {
		return fmt.Errorf("%w: on-sign in state %v", ErrBadState, e.state)
	}
	if e.offerer {
		return fmt.Errorf("%w: only the accepter handles sign messages", ErrBadState)
	}
	if signMsg.ContractID != e.contractID {
		return fmt.Errorf("sign message for a different contract")
	}

	verifier, err := sign.NewVerifier(e.offer.Offer.FundPubKey)
	if err != nil {
		return err
	}
	if err := verifier.VerifyCETSigs(e.cets, e.table, signMsg.CETSigs, e.redeem); err != nil {
		return err
	}
	if err := verifier.VerifyRefundSig(e.refundTx, signMsg.RefundSig, e.redeem); err != nil {
		return err
	}
	if err := sign.VerifyFundingScripts(e.fundingTx, e.offer.Offer.FundingInputs,
		signMsg.FundingScripts); err != nil {
		return err
	}

	ownScripts, err := sign.SignFundingInputs(e.fundingTx, e.accept.Accept.FundingInputs, inputKeys)
	if err != nil {
		return err
	}
	if err := sign.VerifyFundingScripts(e.fundingTx, e.accept.Accept.FundingInputs,
		ownScripts); err != nil {
		return err
	}

	e.remoteCETSigs = signMsg.CETSigs
	e.remoteRefundSig = signMsg.RefundSig
	e.offerFundingScripts = signMsg.FundingScripts
	e.state = StateSigned
	e.log.Infof("contract %x signed, funding tx %s ready", e.contractID[:8], e.fundingTx.TxHash())
	return nil
}

// assembleFundSpend completes a settlement transaction's input script from
// both 65-byte signatures in redeem key order and validates it against the
// fund output script.
func (e *Executor) assembleFundSpend(tx *wire.MsgTx, ownSig, remoteSig []byte) error {
	sigA, sigB := ownSig, remoteSig
	if !e.offerer {
		sigA, sigB = remoteSig, ownSig
	}
	sigScript, err := dcrdlc.FundSpendSigScript(sigA, sigB, e.redeem)
	if err != nil {
		return err
	}
	tx.TxIn[0].SignatureScript = sigScript

	fundScript, err := dcrdlc.P2SHScript(e.redeem)
	if err != nil {
		return err
	}
	return dcrdlc.VerifyInputScript(tx, 0, fundScript)
}

// Execute settles the contract from a full attestation set: it locates the
// matching CET, completes the counterparty's adaptor signature with the
// aggregate attestation secret, adds the local signature, and returns the
// broadcast-ready CET.
func (e *Executor) Execute(atts []*oracle.Attestation) (*wire.MsgTx, error) {
	if e.state != StateSigned {
		return nil, fmt.Errorf("%w: execute in state %v", ErrBadState, e.state)
	}

	idx, secret, err := contract.ResolveOutcome(e.offer.ContractInfo, e.table, atts)
	if err != nil {
		return nil, err
	}
	cet := e.cets[idx]

	remote, err := e.remoteCETSigs[idx].Complete(secret)
	if err != nil {
		return nil, err
	}
	m, err := dcrdlc.SigHashForRedeem(cet, 0, e.redeem)
	if err != nil {
		return nil, err
	}
	own, err := e.signer.SignRaw(m)
	if err != nil {
		return nil, err
	}

	remoteSig := append(remote.Serialize(), byte(txscript.SigHashAll))
	ownSig := append(own, byte(txscript.SigHashAll))
	if err := e.assembleFundSpend(cet, ownSig, remoteSig); err != nil {
		return nil, err
	}

	e.state = StateExecuted
	e.log.Infof("contract %x executed via outcome %d", e.contractID[:8], idx)
	return cet, nil
}

// Refund completes the refund transaction with both signatures. The result
// is only mineable once its lock time passes.
func (e *Executor) Refund() (*wire.MsgTx, error) {
	if e.state != StateSigned {
		return nil, fmt.Errorf("%w: refund in state %v", ErrBadState, e.state)
	}

	ownSig64, err := e.signer.SignRefund(e.refundTx, e.redeem)
	if err != nil {
		return nil, err
	}
	ownSig := append(ownSig64[:], byte(txscript.SigHashAll))
	remoteSig := append(e.remoteRefundSig[:], byte(txscript.SigHashAll))
	if err := e.assembleFundSpend(e.refundTx, ownSig, remoteSig); err != nil {
		return nil, err
	}

	e.state = StateRefunded
	e.log.Infof("contract %x refunded", e.contractID[:8])
	return e.refundTx, nil
}
