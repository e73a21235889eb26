package contract

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
	"github.com/lightningnetwork/lnd/tlv"

	"github.com/dcrdlc/dcrdlc/cetcalc"
	"github.com/dcrdlc/dcrdlc/oracle"
)

// Nested structures ride inside TLV records as opaque values with this
// fixed binary layout: integers big-endian, lists prefixed with
// BigSize varints, byte strings as varint length plus bytes.

const (
	descriptorKindEnum    = 0
	descriptorKindNumeric = 1

	oracleKindSingle = 0
	oracleKindMulti  = 1
)

// maxListLen bounds decoded list lengths so a corrupt varint cannot drive a
// huge allocation.
const maxListLen = 1 << 20

func writeBytes(w io.Writer, b []byte, buf *[8]byte) error {
	if err := tlv.WriteVarInt(w, uint64(len(b)), buf); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader, buf *[8]byte) ([]byte, error) {
	n, err := tlv.ReadVarInt(r, buf)
	if err != nil {
		return nil, err
	}
	if n > maxListLen {
		return nil, fmt.Errorf("byte string length %d too large", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeUint(w io.Writer, v uint64, width int, buf *[8]byte) error {
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[8-width:])
	return err
}

func readUint(r io.Reader, width int, buf *[8]byte) (uint64, error) {
	for i := range buf {
		buf[i] = 0
	}
	if _, err := io.ReadFull(r, buf[8-width:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func readListLen(r io.Reader, buf *[8]byte) (int, error) {
	n, err := tlv.ReadVarInt(r, buf)
	if err != nil {
		return 0, err
	}
	if n > maxListLen {
		return 0, fmt.Errorf("list length %d too large", n)
	}
	return int(n), nil
}

func encodeAnnouncement(w io.Writer, ann *oracle.Announcement, buf *[8]byte) error {
	if err := writeBytes(w, []byte(ann.EventID), buf); err != nil {
		return err
	}
	if _, err := w.Write(ann.PubKey[:]); err != nil {
		return err
	}
	if err := tlv.WriteVarInt(w, uint64(len(ann.Nonces)), buf); err != nil {
		return err
	}
	for i := range ann.Nonces {
		if _, err := w.Write(ann.Nonces[i][:]); err != nil {
			return err
		}
	}
	if err := writeUint(w, uint64(ann.Kind), 1, buf); err != nil {
		return err
	}
	switch ann.Kind {
	case oracle.EnumEvent:
		if err := tlv.WriteVarInt(w, uint64(len(ann.Labels)), buf); err != nil {
			return err
		}
		for _, l := range ann.Labels {
			if err := writeBytes(w, []byte(l), buf); err != nil {
				return err
			}
		}
	case oracle.NumericEvent:
		if err := writeUint(w, uint64(ann.Base), 2, buf); err != nil {
			return err
		}
		if err := writeUint(w, uint64(ann.NumDigits), 2, buf); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown event kind %d", ann.Kind)
	}
	return nil
}

func decodeAnnouncement(r io.Reader, buf *[8]byte) (*oracle.Announcement, error) {
	id, err := readBytes(r, buf)
	if err != nil {
		return nil, err
	}
	ann := &oracle.Announcement{EventID: string(id)}
	if _, err := io.ReadFull(r, ann.PubKey[:]); err != nil {
		return nil, err
	}
	numNonces, err := readListLen(r, buf)
	if err != nil {
		return nil, err
	}
	ann.Nonces = make([][33]byte, numNonces)
	for i := range ann.Nonces {
		if _, err := io.ReadFull(r, ann.Nonces[i][:]); err != nil {
			return nil, err
		}
	}
	kind, err := readUint(r, 1, buf)
	if err != nil {
		return nil, err
	}
	ann.Kind = oracle.EventKind(kind)
	switch ann.Kind {
	case oracle.EnumEvent:
		numLabels, err := readListLen(r, buf)
		if err != nil {
			return nil, err
		}
		ann.Labels = make([]string, numLabels)
		for i := range ann.Labels {
			l, err := readBytes(r, buf)
			if err != nil {
				return nil, err
			}
			ann.Labels[i] = string(l)
		}
	case oracle.NumericEvent:
		base, err := readUint(r, 2, buf)
		if err != nil {
			return nil, err
		}
		digits, err := readUint(r, 2, buf)
		if err != nil {
			return nil, err
		}
		ann.Base = int(base)
		ann.NumDigits = int(digits)
	default:
		return nil, fmt.Errorf("unknown event kind %d", kind)
	}
	return ann, nil
}

func encodeDescriptor(w io.Writer, d ContractDescriptor, buf *[8]byte) error {
	switch d := d.(type) {
	case *EnumDescriptor:
		if err := writeUint(w, descriptorKindEnum, 1, buf); err != nil {
			return err
		}
		if err := tlv.WriteVarInt(w, uint64(len(d.Payouts)), buf); err != nil {
			return err
		}
		for _, p := range d.Payouts {
			if err := writeBytes(w, []byte(p.Label), buf); err != nil {
				return err
			}
			if err := writeUint(w, uint64(p.OfferPayout), 8, buf); err != nil {
				return err
			}
		}
		return nil

	case *NumericDescriptor:
		if err := writeUint(w, descriptorKindNumeric, 1, buf); err != nil {
			return err
		}
		if err := writeUint(w, uint64(d.Base), 2, buf); err != nil {
			return err
		}
		if err := writeUint(w, uint64(d.NumDigits), 2, buf); err != nil {
			return err
		}
		points := d.Curve.Points()
		if err := tlv.WriteVarInt(w, uint64(len(points)), buf); err != nil {
			return err
		}
		for _, p := range points {
			if err := writeUint(w, p.Outcome, 8, buf); err != nil {
				return err
			}
			if err := writeUint(w, uint64(p.Payout), 8, buf); err != nil {
				return err
			}
		}
		if err := tlv.WriteVarInt(w, uint64(len(d.Rounding.Intervals)), buf); err != nil {
			return err
		}
		for _, iv := range d.Rounding.Intervals {
			if err := writeUint(w, iv.BeginOutcome, 8, buf); err != nil {
				return err
			}
			if err := writeUint(w, uint64(iv.RoundingMod), 8, buf); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown descriptor type %T", d)
	}
}

func decodeDescriptor(r io.Reader, buf *[8]byte) (ContractDescriptor, error) {
	kind, err := readUint(r, 1, buf)
	if err != nil {
		return nil, err
	}
	switch kind {
	case descriptorKindEnum:
		n, err := readListLen(r, buf)
		if err != nil {
			return nil, err
		}
		d := &EnumDescriptor{Payouts: make([]EnumPayout, n)}
		for i := range d.Payouts {
			label, err := readBytes(r, buf)
			if err != nil {
				return nil, err
			}
			payout, err := readUint(r, 8, buf)
			if err != nil {
				return nil, err
			}
			d.Payouts[i] = EnumPayout{
				Label:       string(label),
				OfferPayout: dcrutil.Amount(payout),
			}
		}
		return d, nil

	case descriptorKindNumeric:
		base, err := readUint(r, 2, buf)
		if err != nil {
			return nil, err
		}
		digits, err := readUint(r, 2, buf)
		if err != nil {
			return nil, err
		}
		numPoints, err := readListLen(r, buf)
		if err != nil {
			return nil, err
		}
		points := make([]cetcalc.CurvePoint, numPoints)
		for i := range points {
			outcome, err := readUint(r, 8, buf)
			if err != nil {
				return nil, err
			}
			payout, err := readUint(r, 8, buf)
			if err != nil {
				return nil, err
			}
			points[i] = cetcalc.CurvePoint{Outcome: outcome, Payout: int64(payout)}
		}
		curve, err := cetcalc.NewPayoutCurve(points)
		if err != nil {
			return nil, fmt.Errorf("decode payout curve: %w", err)
		}
		numIvs, err := readListLen(r, buf)
		if err != nil {
			return nil, err
		}
		rounding := cetcalc.RoundingIntervals{}
		if numIvs > 0 {
			rounding.Intervals = make([]cetcalc.RoundingInterval, numIvs)
		}
		for i := 0; i < numIvs; i++ {
			begin, err := readUint(r, 8, buf)
			if err != nil {
				return nil, err
			}
			mod, err := readUint(r, 8, buf)
			if err != nil {
				return nil, err
			}
			rounding.Intervals[i] = cetcalc.RoundingInterval{
				BeginOutcome: begin,
				RoundingMod:  int64(mod),
			}
		}
		return &NumericDescriptor{
			Base:      int(base),
			NumDigits: int(digits),
			Curve:     curve,
			Rounding:  rounding,
		}, nil

	default:
		return nil, fmt.Errorf("unknown descriptor kind %d", kind)
	}
}

func encodeOracleInfo(w io.Writer, info OracleInfo, buf *[8]byte) error {
	switch info := info.(type) {
	case *SingleOracle:
		if err := writeUint(w, oracleKindSingle, 1, buf); err != nil {
			return err
		}
		return encodeAnnouncement(w, info.Ann, buf)

	case *MultiOracle:
		if err := writeUint(w, oracleKindMulti, 1, buf); err != nil {
			return err
		}
		if err := tlv.WriteVarInt(w, uint64(len(info.Anns)), buf); err != nil {
			return err
		}
		for _, ann := range info.Anns {
			if err := encodeAnnouncement(w, ann, buf); err != nil {
				return err
			}
		}
		if err := writeUint(w, uint64(info.Threshold), 2, buf); err != nil {
			return err
		}
		if err := writeUint(w, uint64(info.MaxErrorExp), 1, buf); err != nil {
			return err
		}
		if err := writeUint(w, uint64(info.MinFailExp), 1, buf); err != nil {
			return err
		}
		var maximize uint64
		if info.MaximizeCoverage {
			maximize = 1
		}
		return writeUint(w, maximize, 1, buf)

	default:
		return fmt.Errorf("unknown oracle info type %T", info)
	}
}

func decodeOracleInfo(r io.Reader, buf *[8]byte) (OracleInfo, error) {
	kind, err := readUint(r, 1, buf)
	if err != nil {
		return nil, err
	}
	switch kind {
	case oracleKindSingle:
		ann, err := decodeAnnouncement(r, buf)
		if err != nil {
			return nil, err
		}
		return &SingleOracle{Ann: ann}, nil

	case oracleKindMulti:
		n, err := readListLen(r, buf)
		if err != nil {
			return nil, err
		}
		info := &MultiOracle{Anns: make([]*oracle.Announcement, n)}
		for i := range info.Anns {
			ann, err := decodeAnnouncement(r, buf)
			if err != nil {
				return nil, err
			}
			info.Anns[i] = ann
		}
		thresh, err := readUint(r, 2, buf)
		if err != nil {
			return nil, err
		}
		maxErr, err := readUint(r, 1, buf)
		if err != nil {
			return nil, err
		}
		minFail, err := readUint(r, 1, buf)
		if err != nil {
			return nil, err
		}
		maximize, err := readUint(r, 1, buf)
		if err != nil {
			return nil, err
		}
		info.Threshold = int(thresh)
		info.MaxErrorExp = int(maxErr)
		info.MinFailExp = int(minFail)
		info.MaximizeCoverage = maximize != 0
		return info, nil

	default:
		return nil, fmt.Errorf("unknown oracle info kind %d", kind)
	}
}

func encodeContractInfo(c *ContractInfo) ([]byte, error) {
	var b bytes.Buffer
	var buf [8]byte
	if err := writeUint(&b, uint64(c.TotalCollateral), 8, &buf); err != nil {
		return nil, err
	}
	if err := encodeDescriptor(&b, c.Descriptor, &buf); err != nil {
		return nil, err
	}
	if err := encodeOracleInfo(&b, c.Oracles, &buf); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func decodeContractInfo(b []byte) (*ContractInfo, error) {
	r := bytes.NewReader(b)
	var buf [8]byte
	total, err := readUint(r, 8, &buf)
	if err != nil {
		return nil, fmt.Errorf("decode contract info: %w", err)
	}
	desc, err := decodeDescriptor(r, &buf)
	if err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}
	oracles, err := decodeOracleInfo(r, &buf)
	if err != nil {
		return nil, fmt.Errorf("decode oracle info: %w", err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("decode contract info: %d trailing bytes", r.Len())
	}
	return &ContractInfo{
		TotalCollateral: dcrutil.Amount(total),
		Descriptor:      desc,
		Oracles:         oracles,
	}, nil
}

// FundingInput is one confirmed UTXO a party commits to the funding
// transaction.
type FundingInput struct {
	PrevOut  wire.OutPoint
	Value    dcrutil.Amount
	PkScript []byte
}

func encodeFundingInputs(inputs []FundingInput) ([]byte, error) {
	var b bytes.Buffer
	var buf [8]byte
	if err := tlv.WriteVarInt(&b, uint64(len(inputs)), &buf); err != nil {
		return nil, err
	}
	for _, in := range inputs {
		if _, err := b.Write(in.PrevOut.Hash[:]); err != nil {
			return nil, err
		}
		if err := writeUint(&b, uint64(in.PrevOut.Index), 4, &buf); err != nil {
			return nil, err
		}
		if err := writeUint(&b, uint64(in.PrevOut.Tree), 1, &buf); err != nil {
			return nil, err
		}
		if err := writeUint(&b, uint64(in.Value), 8, &buf); err != nil {
			return nil, err
		}
		if err := writeBytes(&b, in.PkScript, &buf); err != nil {
			return nil, err
		}
	}
	return b.Bytes(), nil
}

func decodeFundingInputs(b []byte) ([]FundingInput, error) {
	r := bytes.NewReader(b)
	var buf [8]byte
	n, err := readListLen(r, &buf)
	if err != nil {
		return nil, err
	}
	inputs := make([]FundingInput, n)
	for i := range inputs {
		var hash chainhash.Hash
		if _, err := io.ReadFull(r, hash[:]); err != nil {
			return nil, err
		}
		index, err := readUint(r, 4, &buf)
		if err != nil {
			return nil, err
		}
		tree, err := readUint(r, 1, &buf)
		if err != nil {
			return nil, err
		}
		value, err := readUint(r, 8, &buf)
		if err != nil {
			return nil, err
		}
		script, err := readBytes(r, &buf)
		if err != nil {
			return nil, err
		}
		inputs[i] = FundingInput{
			PrevOut:  wire.OutPoint{Hash: hash, Index: uint32(index), Tree: int8(tree)},
			Value:    dcrutil.Amount(value),
			PkScript: script,
		}
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("decode funding inputs: %d trailing bytes", r.Len())
	}
	return inputs, nil
}

func encodeByteLists(lists [][]byte) ([]byte, error) {
	var b bytes.Buffer
	var buf [8]byte
	if err := tlv.WriteVarInt(&b, uint64(len(lists)), &buf); err != nil {
		return nil, err
	}
	for _, l := range lists {
		if err := writeBytes(&b, l, &buf); err != nil {
			return nil, err
		}
	}
	return b.Bytes(), nil
}

func decodeByteLists(b []byte) ([][]byte, error) {
	r := bytes.NewReader(b)
	var buf [8]byte
	n, err := readListLen(r, &buf)
	if err != nil {
		return nil, err
	}
	lists := make([][]byte, n)
	for i := range lists {
		lists[i], err = readBytes(r, &buf)
		if err != nil {
			return nil, err
		}
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("decode byte lists: %d trailing bytes", r.Len())
	}
	return lists, nil
}
