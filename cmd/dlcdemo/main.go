// dlcdemo runs a full contract between two in-process parties and a
// synthetic oracle: offer, accept, sign, attest, settle. With dcrd RPC
// flags set it additionally starts a chain watcher on the contract's fund
// script so the funding transaction can be tracked once broadcast by hand.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/rpcclient/v8"
	"github.com/decred/dcrd/wire"
	"github.com/decred/slog"

	"github.com/dcrdlc/dcrdlc"
	"github.com/dcrdlc/dcrdlc/cetcalc"
	"github.com/dcrdlc/dcrdlc/chainwatcher"
	"github.com/dcrdlc/dcrdlc/contract"
	"github.com/dcrdlc/dcrdlc/execute"
	"github.com/dcrdlc/dcrdlc/oracle"
)

type config struct {
	offerCollateral  int64
	acceptCollateral int64
	feeRate          int64
	refundLockTime   uint
	numDigits        int
	outcome          uint64
	debug            bool

	dcrdHost string
	dcrdUser string
	dcrdPass string
	dcrdCert string
}

func loadConfig() *config {
	cfg := &config{}
	flag.Int64Var(&cfg.offerCollateral, "collateral.offer", 60_000_000, "offerer collateral in atoms")
	flag.Int64Var(&cfg.acceptCollateral, "collateral.accept", 40_000_000, "accepter collateral in atoms")
	flag.Int64Var(&cfg.feeRate, "feerate", 10_000, "fee rate in atoms/kB")
	flag.UintVar(&cfg.refundLockTime, "refundlocktime", 820_000, "refund lock time (block height)")
	flag.IntVar(&cfg.numDigits, "digits", 10, "binary digits of the oracle event")
	flag.Uint64Var(&cfg.outcome, "outcome", 600, "numeric outcome the oracle attests")
	flag.BoolVar(&cfg.debug, "debug", false, "debug logging")
	flag.StringVar(&cfg.dcrdHost, "dcrd.host", "", "dcrd RPC host:port (optional)")
	flag.StringVar(&cfg.dcrdUser, "dcrd.user", "", "dcrd RPC user")
	flag.StringVar(&cfg.dcrdPass, "dcrd.pass", "", "dcrd RPC password")
	flag.StringVar(&cfg.dcrdCert, "dcrd.cert", "", "dcrd RPC TLS certificate path")
	flag.Parse()
	return cfg
}

// fakeInput fabricates a confirmed-looking P2PKH UTXO controlled by key.
// Offline demo only; with a real node the inputs would come from a wallet.
func fakeInput(key *secp256k1.PrivateKey, seed byte, value dcrutil.Amount) (contract.FundingInput, error) {
	var h chainhash.Hash
	for i := range h {
		h[i] = seed
	}
	pkh := dcrutil.Hash160(key.PubKey().SerializeCompressed())
	pkScript, err := dcrdlc.P2PKHScript(pkh)
	if err != nil {
		return contract.FundingInput{}, err
	}
	return contract.FundingInput{
		PrevOut:  wire.OutPoint{Hash: h, Index: 0, Tree: wire.TxTreeRegular},
		Value:    value,
		PkScript: pkScript,
	}, nil
}

func run(cfg *config, log slog.Logger) error {
	params := chaincfg.SimNetParams()

	// Keys for both parties: funding, payout, and one input each.
	keys := make([]*secp256k1.PrivateKey, 6)
	for i := range keys {
		k, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return err
		}
		keys[i] = k
	}
	offerFund, offerPayout, offerInput := keys[0], keys[1], keys[2]
	acceptFund, acceptPayout, acceptInput := keys[3], keys[4], keys[5]

	total := dcrutil.Amount(cfg.offerCollateral + cfg.acceptCollateral)

	// Synthetic oracle announcing a binary digit decomposition event.
	oraclePriv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return err
	}
	signer := oracle.NewSigner(oraclePriv)
	ann, err := signer.AnnounceNumeric("demo-price", 2, cfg.numDigits)
	if err != nil {
		return err
	}
	log.Infof("oracle announced event %q with %d nonces", ann.EventID, len(ann.Nonces))

	domain, err := cetcalc.DomainSize(2, cfg.numDigits)
	if err != nil {
		return err
	}
	if cfg.outcome >= domain {
		return fmt.Errorf("outcome %d outside domain [0, %d)", cfg.outcome, domain)
	}

	// Payout curve: offerer wins linearly up to the domain midpoint, then
	// keeps everything.
	mid := (domain - 1) / 2
	curve, err := cetcalc.NewPayoutCurve([]cetcalc.CurvePoint{
		{Outcome: 0, Payout: 0},
		{Outcome: mid, Payout: int64(total)},
		{Outcome: domain - 1, Payout: int64(total)},
	})
	if err != nil {
		return err
	}
	rounding := cetcalc.RoundingIntervals{Intervals: []cetcalc.RoundingInterval{
		{BeginOutcome: 0, RoundingMod: int64(total) / 100},
	}}

	info := &contract.ContractInfo{
		TotalCollateral: total,
		Descriptor: &contract.NumericDescriptor{
			Base:      2,
			NumDigits: cfg.numDigits,
			Curve:     curve,
			Rounding:  rounding,
		},
		Oracles: &contract.SingleOracle{Ann: ann},
	}

	offerPayoutScript, err := dcrdlc.P2PKScript(offerPayout.PubKey().SerializeCompressed())
	if err != nil {
		return err
	}
	acceptPayoutScript, err := dcrdlc.P2PKScript(acceptPayout.PubKey().SerializeCompressed())
	if err != nil {
		return err
	}

	offerIn, err := fakeInput(offerInput, 0x01, dcrutil.Amount(cfg.offerCollateral)+1_000_000)
	if err != nil {
		return err
	}
	acceptIn, err := fakeInput(acceptInput, 0x02, dcrutil.Amount(cfg.acceptCollateral)+1_000_000)
	if err != nil {
		return err
	}

	var offerFundPub, acceptFundPub [33]byte
	copy(offerFundPub[:], offerFund.PubKey().SerializeCompressed())
	copy(acceptFundPub[:], acceptFund.PubKey().SerializeCompressed())

	offer := &contract.DLCOffer{
		ContractInfo: info,
		Offer: contract.PartyParams{
			FundPubKey:    offerFundPub,
			PayoutScript:  offerPayoutScript,
			Collateral:    dcrutil.Amount(cfg.offerCollateral),
			FundingInputs: []contract.FundingInput{offerIn},
			ChangeScript:  offerPayoutScript,
		},
		FeeRate:        dcrutil.Amount(cfg.feeRate),
		RefundLockTime: uint32(cfg.refundLockTime),
	}
	if _, err := rand32(&offer.TempContractID); err != nil {
		return err
	}

	// Both sides of the handshake.
	alice, err := execute.New(execute.Config{FundPriv: offerFund, Log: log})
	if err != nil {
		return err
	}
	bob, err := execute.New(execute.Config{FundPriv: acceptFund, Log: log})
	if err != nil {
		return err
	}
	if err := alice.Offer(offer); err != nil {
		return err
	}
	if err := bob.Offer(offer); err != nil {
		return err
	}

	accept, err := bob.Accept(contract.PartyParams{
		FundPubKey:    acceptFundPub,
		PayoutScript:  acceptPayoutScript,
		Collateral:    offer.AcceptCollateral(),
		FundingInputs: []contract.FundingInput{acceptIn},
		ChangeScript:  acceptPayoutScript,
	})
	if err != nil {
		return err
	}
	log.Infof("accept carries %d CET adaptor signatures", len(accept.CETSigs))

	if err := alice.OnAccept(accept); err != nil {
		return err
	}
	signMsg, err := alice.Sign([]*secp256k1.PrivateKey{offerInput})
	if err != nil {
		return err
	}
	if err := bob.OnSign(signMsg, []*secp256k1.PrivateKey{acceptInput}); err != nil {
		return err
	}

	fundingTx := bob.FundingTx()
	redeem, err := dcrdlc.FundRedeemScript(offerFundPub[:], acceptFundPub[:])
	if err != nil {
		return err
	}
	_, addr, err := dcrdlc.P2SHAddress(redeem, params)
	if err != nil {
		return err
	}
	log.Infof("funding tx %s locks %v at %s", fundingTx.TxHash(), total, addr)
	fmt.Printf("funding tx: %x\n", dcrdlc.SerializeTx(fundingTx))

	// Optional: track the fund script on a real node.
	if cfg.dcrdHost != "" {
		if err := watchOnNode(cfg, log, bob.ContractID(), redeem, uint32(cfg.refundLockTime)); err != nil {
			return err
		}
	}

	// Oracle attests; Bob settles.
	att, err := signer.AttestNumeric("demo-price", cetcalc.Decompose(cfg.outcome, 2, cfg.numDigits))
	if err != nil {
		return err
	}
	cet, err := bob.Execute([]*oracle.Attestation{att})
	if err != nil {
		return err
	}
	log.Infof("outcome %d settles via CET %s", cfg.outcome, cet.TxHash())
	fmt.Printf("settlement tx: %x\n", dcrdlc.SerializeTx(cet))
	for i, out := range cet.TxOut {
		log.Infof("  payout %d: %v", i, dcrutil.Amount(out.Value))
	}
	return nil
}

func rand32(out *[32]byte) (int, error) {
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return 0, err
	}
	return copy(out[:], k.Serialize()), nil
}

// watchOnNode connects to dcrd and watches the contract fund script until
// interrupted.
func watchOnNode(cfg *config, log slog.Logger, contractID [32]byte, redeem []byte,
	refundLockTime uint32) error {

	cert, err := os.ReadFile(cfg.dcrdCert)
	if err != nil {
		return fmt.Errorf("read dcrd rpc cert: %w", err)
	}
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.dcrdHost,
		User:         cfg.dcrdUser,
		Pass:         cfg.dcrdPass,
		Endpoint:     "ws",
		Certificates: cert,
	}
	c, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return fmt.Errorf("dcrd rpc client: %w", err)
	}
	defer c.Shutdown()

	fundScript, err := dcrdlc.P2SHScript(redeem)
	if err != nil {
		return err
	}
	log.Infof("watching fund script %s on %s", hex.EncodeToString(fundScript), cfg.dcrdHost)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	w := chainwatcher.New(log, c)
	updates, unwatch := w.Watch(contractID, fundScript, refundLockTime)
	defer unwatch()
	go w.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-updates:
			log.Infof("contract %x: funded=%v confs=%d spent=%v refundMature=%v",
				u.ContractID[:8], u.Funded, u.Confs, u.Spent, u.RefundMature)
		}
	}
}

func main() {
	cfg := loadConfig()

	backend := slog.NewBackend(os.Stdout)
	log := backend.Logger("DEMO")
	if cfg.debug {
		log.SetLevel(slog.LevelDebug)
	} else {
		log.SetLevel(slog.LevelInfo)
	}

	if err := run(cfg, log); err != nil {
		fmt.Fprintf(os.Stderr, "dlcdemo: %v\n", err)
		os.Exit(1)
	}
}
