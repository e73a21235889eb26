package contract

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/dcrdlc/dcrdlc/cetcalc"
	"github.com/dcrdlc/dcrdlc/oracle"
)

// ResolveOutcome matches a full set of attestations (one per contracted
// oracle, announcement order) against the outcome table and returns the
// matching row index together with the aggregate completion secret for that
// row's adaptor point. The secret satisfies t*G == table[idx].AdaptorPoint.
func ResolveOutcome(info *ContractInfo, table []Outcome, atts []*oracle.Attestation) (int, *secp256k1.ModNScalar, error) {
	anns := info.Oracles.Announcements()
	if len(atts) != len(anns) {
		return 0, nil, fmt.Errorf("need %d attestations, have %d", len(anns), len(atts))
	}

	switch info.Descriptor.(type) {
	case *EnumDescriptor:
		return resolveEnum(anns, table, atts)
	case *NumericDescriptor:
		return resolveNumeric(anns, table, atts)
	default:
		return 0, nil, fmt.Errorf("unknown descriptor type %T", info.Descriptor)
	}
}

func resolveEnum(anns []*oracle.Announcement, table []Outcome, atts []*oracle.Attestation) (int, *secp256k1.ModNScalar, error) {
	label, err := anns[0].EnumOutcome(atts[0])
	if err != nil {
		return 0, nil, err
	}
	// Every oracle must have attested the same label or the aggregate
	// secret will not match any adaptor point.
	for i := 1; i < len(anns); i++ {
		other, err := anns[i].EnumOutcome(atts[i])
		if err != nil {
			return 0, nil, err
		}
		if other != label {
			return 0, nil, fmt.Errorf("%w: oracle %d attested %q, primary attested %q",
				oracle.ErrInvalidOutcome, i, other, label)
		}
	}

	for idx, o := range table {
		if o.Label == label {
			secret, err := sumSecrets(atts, sigCounts(len(atts), 1))
			if err != nil {
				return 0, nil, err
			}
			return idx, secret, nil
		}
	}
	return 0, nil, fmt.Errorf("%w: label %q has no outcome row", oracle.ErrInvalidOutcome, label)
}

func resolveNumeric(anns []*oracle.Announcement, table []Outcome, atts []*oracle.Attestation) (int, *secp256k1.ModNScalar, error) {
	attested := make([][]int, len(anns))
	for i, ann := range anns {
		digits, err := ann.NumericOutcome(atts[i])
		if err != nil {
			return 0, nil, fmt.Errorf("oracle %d: %w", i, err)
		}
		attested[i] = digits
	}

	for idx, o := range table {
		if !rowCovers(o.Groupings, attested) {
			continue
		}
		counts := make([]int, len(atts))
		for i, prefix := range o.Groupings {
			counts[i] = len(prefix)
		}
		secret, err := sumSecrets(atts, counts)
		if err != nil {
			return 0, nil, err
		}
		return idx, secret, nil
	}
	return 0, nil, fmt.Errorf("%w: attested values %v covered by no outcome row",
		oracle.ErrInvalidOutcome, attested)
}

func rowCovers(groupings, attested [][]int) bool {
	if len(groupings) != len(attested) {
		return false
	}
	for i, prefix := range groupings {
		if !cetcalc.IsPrefix(prefix, attested[i]) {
			return false
		}
	}
	return true
}

func sigCounts(n, each int) []int {
	counts := make([]int, n)
	for i := range counts {
		counts[i] = each
	}
	return counts
}

// sumSecrets adds the first counts[i] signature scalars of each attestation.
func sumSecrets(atts []*oracle.Attestation, counts []int) (*secp256k1.ModNScalar, error) {
	var sum secp256k1.ModNScalar
	for i, att := range atts {
		s, err := att.CompletionSecret(counts[i])
		if err != nil {
			return nil, fmt.Errorf("attestation %d: %w", i, err)
		}
		sum.Add(s)
	}
	return &sum, nil
}
