package contract

import (
	"bytes"
	"fmt"
	"io"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/lightningnetwork/lnd/tlv"

	"github.com/dcrdlc/dcrdlc"
)

// TLV types for the offer message.
const (
	offerTypeTempID         tlv.Type = 0
	offerTypeContractInfo   tlv.Type = 2
	offerTypeFundPubKey     tlv.Type = 4
	offerTypePayoutScript   tlv.Type = 6
	offerTypeCollateral     tlv.Type = 8
	offerTypeFundingInputs  tlv.Type = 10
	offerTypeChangeScript   tlv.Type = 12
	offerTypeFeeRate        tlv.Type = 14
	offerTypeRefundLockTime tlv.Type = 16
)

// TLV types for the accept message.
const (
	acceptTypeTempID        tlv.Type = 0
	acceptTypeFundPubKey    tlv.Type = 2
	acceptTypePayoutScript  tlv.Type = 4
	acceptTypeCollateral    tlv.Type = 6
	acceptTypeFundingInputs tlv.Type = 8
	acceptTypeChangeScript  tlv.Type = 10
	acceptTypeCETSigs       tlv.Type = 12
	acceptTypeRefundSig     tlv.Type = 14
)

// TLV types for the sign message.
const (
	signTypeContractID     tlv.Type = 0
	signTypeCETSigs        tlv.Type = 2
	signTypeRefundSig      tlv.Type = 4
	signTypeFundingScripts tlv.Type = 6
)

// PartyParams is the per-party contribution to the funding transaction and
// the payout destinations, common to offer and accept.
type PartyParams struct {
	FundPubKey    [33]byte
	PayoutScript  []byte
	Collateral    dcrutil.Amount
	FundingInputs []FundingInput
	ChangeScript  []byte
}

// InputSum totals the committed funding input values.
func (p *PartyParams) InputSum() dcrutil.Amount {
	var sum dcrutil.Amount
	for _, in := range p.FundingInputs {
		sum += in.Value
	}
	return sum
}

// DLCOffer opens negotiation: the full contract terms plus the offerer's
// funding contribution. The offerer signs nothing yet.
type DLCOffer struct {
	TempContractID [32]byte
	ContractInfo   *ContractInfo
	Offer          PartyParams
	FeeRate        dcrutil.Amount // atoms per kB
	RefundLockTime uint32
}

// DLCAccept answers an offer with the accepter's funding contribution and
// its adaptor signatures over every CET plus its refund signature.
type DLCAccept struct {
	TempContractID [32]byte
	Accept         PartyParams
	CETSigs        []*dcrdlc.AdaptorSignature
	RefundSig      [64]byte
}

// DLCSign completes negotiation: the offerer's adaptor and refund
// signatures plus its fully signed funding input scripts. On receipt the
// accepter can broadcast the funding transaction.
type DLCSign struct {
	ContractID     [32]byte
	CETSigs        []*dcrdlc.AdaptorSignature
	RefundSig      [64]byte
	FundingScripts [][]byte
}

// ComputeContractID derives the permanent contract id from the funding
// transaction hash and the temporary id chosen at offer time.
func ComputeContractID(fundingTxID chainhash.Hash, tempID [32]byte) [32]byte {
	return blake256.Sum256(append(fundingTxID[:], tempID[:]...))
}

func encodeCETSigs(sigs []*dcrdlc.AdaptorSignature) ([]byte, error) {
	var b bytes.Buffer
	var buf [8]byte
	if err := tlv.WriteVarInt(&b, uint64(len(sigs)), &buf); err != nil {
		return nil, err
	}
	for _, sig := range sigs {
		ser := sig.Serialize()
		if _, err := b.Write(ser[:]); err != nil {
			return nil, err
		}
	}
	return b.Bytes(), nil
}

func decodeCETSigs(b []byte) ([]*dcrdlc.AdaptorSignature, error) {
	r := bytes.NewReader(b)
	var buf [8]byte
	n, err := readListLen(r, &buf)
	if err != nil {
		return nil, err
	}
	sigs := make([]*dcrdlc.AdaptorSignature, n)
	raw := make([]byte, dcrdlc.AdaptorSignatureSize)
	for i := range sigs {
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, err
		}
		sigs[i], err = dcrdlc.ParseAdaptorSignature(raw)
		if err != nil {
			return nil, fmt.Errorf("adaptor signature %d: %w", i, err)
		}
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("decode adaptor signatures: %d trailing bytes", r.Len())
	}
	return sigs, nil
}

// Encode writes the offer as a TLV stream.
func (o *DLCOffer) Encode(w io.Writer) error {
	if o.ContractInfo == nil {
		return fmt.Errorf("offer has no contract info")
	}
	ciBytes, err := encodeContractInfo(o.ContractInfo)
	if err != nil {
		return err
	}
	inputBytes, err := encodeFundingInputs(o.Offer.FundingInputs)
	if err != nil {
		return err
	}
	collateral := uint64(o.Offer.Collateral)
	feeRate := uint64(o.FeeRate)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(offerTypeTempID, &o.TempContractID),
		tlv.MakePrimitiveRecord(offerTypeContractInfo, &ciBytes),
		tlv.MakePrimitiveRecord(offerTypeFundPubKey, &o.Offer.FundPubKey),
		tlv.MakePrimitiveRecord(offerTypePayoutScript, &o.Offer.PayoutScript),
		tlv.MakePrimitiveRecord(offerTypeCollateral, &collateral),
		tlv.MakePrimitiveRecord(offerTypeFundingInputs, &inputBytes),
		tlv.MakePrimitiveRecord(offerTypeChangeScript, &o.Offer.ChangeScript),
		tlv.MakePrimitiveRecord(offerTypeFeeRate, &feeRate),
		tlv.MakePrimitiveRecord(offerTypeRefundLockTime, &o.RefundLockTime),
	)
	if err != nil {
		return err
	}
	return stream.Encode(w)
}

// Decode reads an offer from a TLV stream.
func (o *DLCOffer) Decode(r io.Reader) error {
	var ciBytes, inputBytes []byte
	var collateral, feeRate uint64

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(offerTypeTempID, &o.TempContractID),
		tlv.MakePrimitiveRecord(offerTypeContractInfo, &ciBytes),
		tlv.MakePrimitiveRecord(offerTypeFundPubKey, &o.Offer.FundPubKey),
		tlv.MakePrimitiveRecord(offerTypePayoutScript, &o.Offer.PayoutScript),
		tlv.MakePrimitiveRecord(offerTypeCollateral, &collateral),
		tlv.MakePrimitiveRecord(offerTypeFundingInputs, &inputBytes),
		tlv.MakePrimitiveRecord(offerTypeChangeScript, &o.Offer.ChangeScript),
		tlv.MakePrimitiveRecord(offerTypeFeeRate, &feeRate),
		tlv.MakePrimitiveRecord(offerTypeRefundLockTime, &o.RefundLockTime),
	)
	if err != nil {
		return err
	}
	if err := stream.Decode(r); err != nil {
		return err
	}

	o.ContractInfo, err = decodeContractInfo(ciBytes)
	if err != nil {
		return err
	}
	o.Offer.FundingInputs, err = decodeFundingInputs(inputBytes)
	if err != nil {
		return err
	}
	o.Offer.Collateral = dcrutil.Amount(collateral)
	o.FeeRate = dcrutil.Amount(feeRate)
	return nil
}

// Validate checks an offer's terms. The accepter's collateral is implied:
// total minus the offerer's.
func (o *DLCOffer) Validate() error {
	if err := o.ContractInfo.Validate(); err != nil {
		return err
	}
	if o.Offer.Collateral <= 0 || o.Offer.Collateral >= o.ContractInfo.TotalCollateral {
		return fmt.Errorf("%w: offer collateral %d of total %d",
			ErrBadCollateral, o.Offer.Collateral, o.ContractInfo.TotalCollateral)
	}
	if len(o.Offer.FundingInputs) == 0 {
		return fmt.Errorf("offer commits no funding inputs")
	}
	if o.FeeRate <= 0 {
		return fmt.Errorf("fee rate must be positive")
	}
	if o.RefundLockTime == 0 {
		return fmt.Errorf("refund lock time must be set")
	}
	return nil
}

// AcceptCollateral is the collateral the accepter must contribute.
func (o *DLCOffer) AcceptCollateral() dcrutil.Amount {
	return o.ContractInfo.TotalCollateral - o.Offer.Collateral
}

// Encode writes the accept as a TLV stream.
func (a *DLCAccept) Encode(w io.Writer) error {
	inputBytes, err := encodeFundingInputs(a.Accept.FundingInputs)
	if err != nil {
		return err
	}
	sigBytes, err := encodeCETSigs(a.CETSigs)
	if err != nil {
		return err
	}
	collateral := uint64(a.Accept.Collateral)
	refundSig := a.RefundSig[:]

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(acceptTypeTempID, &a.TempContractID),
		tlv.MakePrimitiveRecord(acceptTypeFundPubKey, &a.Accept.FundPubKey),
		tlv.MakePrimitiveRecord(acceptTypePayoutScript, &a.Accept.PayoutScript),
		tlv.MakePrimitiveRecord(acceptTypeCollateral, &collateral),
		tlv.MakePrimitiveRecord(acceptTypeFundingInputs, &inputBytes),
		tlv.MakePrimitiveRecord(acceptTypeChangeScript, &a.Accept.ChangeScript),
		tlv.MakePrimitiveRecord(acceptTypeCETSigs, &sigBytes),
		tlv.MakePrimitiveRecord(acceptTypeRefundSig, &refundSig),
	)
	if err != nil {
		return err
	}
	return stream.Encode(w)
}

// Decode reads an accept from a TLV stream.
func (a *DLCAccept) Decode(r io.Reader) error {
	var inputBytes, sigBytes, refundSig []byte
	var collateral uint64

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(acceptTypeTempID, &a.TempContractID),
		tlv.MakePrimitiveRecord(acceptTypeFundPubKey, &a.Accept.FundPubKey),
		tlv.MakePrimitiveRecord(acceptTypePayoutScript, &a.Accept.PayoutScript),
		tlv.MakePrimitiveRecord(acceptTypeCollateral, &collateral),
		tlv.MakePrimitiveRecord(acceptTypeFundingInputs, &inputBytes),
		tlv.MakePrimitiveRecord(acceptTypeChangeScript, &a.Accept.ChangeScript),
		tlv.MakePrimitiveRecord(acceptTypeCETSigs, &sigBytes),
		tlv.MakePrimitiveRecord(acceptTypeRefundSig, &refundSig),
	)
	if err != nil {
		return err
	}
	if err := stream.Decode(r); err != nil {
		return err
	}

	a.Accept.FundingInputs, err = decodeFundingInputs(inputBytes)
	if err != nil {
		return err
	}
	a.CETSigs, err = decodeCETSigs(sigBytes)
	if err != nil {
		return err
	}
	if len(refundSig) != 64 {
		return fmt.Errorf("refund signature must be 64 bytes, got %d", len(refundSig))
	}
	copy(a.RefundSig[:], refundSig)
	a.Accept.Collateral = dcrutil.Amount(collateral)
	return nil
}

// Encode writes the sign message as a TLV stream.
func (s *DLCSign) Encode(w io.Writer) error {
	sigBytes, err := encodeCETSigs(s.CETSigs)
	if err != nil {
		return err
	}
	scriptBytes, err := encodeByteLists(s.FundingScripts)
	if err != nil {
		return err
	}
	refundSig := s.RefundSig[:]

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(signTypeContractID, &s.ContractID),
		tlv.MakePrimitiveRecord(signTypeCETSigs, &sigBytes),
		tlv.MakePrimitiveRecord(signTypeRefundSig, &refundSig),
		tlv.MakePrimitiveRecord(signTypeFundingScripts, &scriptBytes),
	)
	if err != nil {
		return err
	}
	return stream.Encode(w)
}

// Decode reads a sign message from a TLV stream.
func (s *DLCSign) Decode(r io.Reader) error {
	var sigBytes, refundSig, scriptBytes []byte

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(signTypeContractID, &s.ContractID),
		tlv.MakePrimitiveRecord(signTypeCETSigs, &sigBytes),
		tlv.MakePrimitiveRecord(signTypeRefundSig, &refundSig),
		tlv.MakePrimitiveRecord(signTypeFundingScripts, &scriptBytes),
	)
	if err != nil {
		return err
	}
	if err := stream.Decode(r); err != nil {
		return err
	}

	s.CETSigs, err = decodeCETSigs(sigBytes)
	if err != nil {
		return err
	}
	s.FundingScripts, err = decodeByteLists(scriptBytes)
	if err != nil {
		return err
	}
	if len(refundSig) != 64 {
		return fmt.Errorf("refund signature must be 64 bytes, got %d", len(refundSig))
	}
	copy(s.RefundSig[:], refundSig)
	return nil
}
