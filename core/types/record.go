package types

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// MetricKind is the closed set of metrics the pipeline can prove. Adding a
// kind means adding a constant here and a computation in package metric.
type MetricKind uint8

const (
	CirculatingSupply MetricKind = iota + 1
	Inflation
	CompoundAPR
	Utilization
)

// AllKinds lists every supported metric kind in declaration order.
var AllKinds = []MetricKind{CirculatingSupply, Inflation, CompoundAPR, Utilization}

// String returns the canonical name of the kind.
func (k MetricKind) String() string {
	switch k {
	case CirculatingSupply:
		return "circulating-supply"
	case Inflation:
		return "inflation"
	case CompoundAPR:
		return "compound-apr"
	case Utilization:
		return "utilization"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the declared kinds.
func (k MetricKind) Valid() bool {
	return k >= CirculatingSupply && k <= Utilization
}

// TwoPoint reports whether the kind needs a past commitment.
func (k MetricKind) TwoPoint() bool {
	return k == Inflation || k == CompoundAPR
}

// ParseMetricKind resolves a kind from its canonical name.
func ParseMetricKind(s string) (MetricKind, error) {
	for _, k := range AllKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown metric kind %q", s)
}

// CommitmentRef is the part of a state commitment embedded in a record: the
// anchoring block root plus the digest over the reads.
type CommitmentRef struct {
	Root   BlockRoot
	Digest common.Hash
}

// NamedValue is one unsigned output of a metric.
type NamedValue struct {
	Name  string
	Value *uint256.Int
}

// MetricRecord is the public output of a metric computation. ParamsDigest
// binds the static parameters the values were computed with.
type MetricRecord struct {
	Kind         MetricKind
	ParamsDigest common.Hash
	Primary      CommitmentRef
	Past         *CommitmentRef `rlp:"nil"`
	Values       []NamedValue
}

// Value returns the named value, or nil if the record has none.
func (m *MetricRecord) Value(name string) *uint256.Int {
	for _, v := range m.Values {
		if v.Name == name {
			return v.Value
		}
	}
	return nil
}

// Equal reports whether both records have identical journal encodings.
func (m *MetricRecord) Equal(o *MetricRecord) bool {
	if m == nil || o == nil {
		return m == o
	}
	a, errA := m.EncodeJournal()
	b, errB := o.EncodeJournal()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// RequestKey identifies the logical request a record answers: kind,
// parameters and commitments. Two submissions with the same key are
// replays of each other.
func (m *MetricRecord) RequestKey() common.Hash {
	var past common.Hash
	if m.Past != nil {
		past = m.Past.Digest
	}
	return crypto.Keccak256Hash([]byte{byte(m.Kind)}, m.ParamsDigest[:], m.Primary.Digest[:], past[:])
}

// Journal encoding errors.
var (
	ErrJournalMalformed    = errors.New("journal: malformed encoding")
	ErrJournalNonCanonical = errors.New("journal: non-canonical encoding")
	ErrJournalValues       = errors.New("journal: names and values length mismatch")
)

var journalArgs = abi.Arguments{
	{Name: "kind", Type: mustType("uint8")},
	{Name: "paramsDigest", Type: mustType("bytes32")},
	{Name: "height", Type: mustType("uint64")},
	{Name: "blockHash", Type: mustType("bytes32")},
	{Name: "stateRoot", Type: mustType("bytes32")},
	{Name: "timestamp", Type: mustType("uint64")},
	{Name: "digest", Type: mustType("bytes32")},
	{Name: "hasPast", Type: mustType("bool")},
	{Name: "pastHeight", Type: mustType("uint64")},
	{Name: "pastBlockHash", Type: mustType("bytes32")},
	{Name: "pastStateRoot", Type: mustType("bytes32")},
	{Name: "pastTimestamp", Type: mustType("uint64")},
	{Name: "pastDigest", Type: mustType("bytes32")},
	{Name: "names", Type: mustType("string[]")},
	{Name: "values", Type: mustType("uint256[]")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// EncodeJournal ABI-encodes the record. The encoding is what the proof
// attests to and what the on-chain verifier decodes.
func (m *MetricRecord) EncodeJournal() ([]byte, error) {
	var past CommitmentRef
	if m.Past != nil {
		past = *m.Past
	}
	names := make([]string, len(m.Values))
	values := make([]*big.Int, len(m.Values))
	for i, v := range m.Values {
		if v.Value == nil {
			return nil, fmt.Errorf("journal: nil value %q", v.Name)
		}
		names[i] = v.Name
		values[i] = v.Value.ToBig()
	}
	return journalArgs.Pack(
		uint8(m.Kind),
		[32]byte(m.ParamsDigest),
		m.Primary.Root.Height,
		[32]byte(m.Primary.Root.Hash),
		[32]byte(m.Primary.Root.StateRoot),
		m.Primary.Root.Timestamp,
		[32]byte(m.Primary.Digest),
		m.Past != nil,
		past.Root.Height,
		[32]byte(past.Root.Hash),
		[32]byte(past.Root.StateRoot),
		past.Root.Timestamp,
		[32]byte(past.Digest),
		names,
		values,
	)
}

// DecodeJournal parses a journal and rejects any encoding that would not be
// reproduced byte-for-byte by EncodeJournal.
func DecodeJournal(data []byte) (*MetricRecord, error) {
	out, err := journalArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJournalMalformed, err)
	}
	if len(out) != len(journalArgs) {
		return nil, ErrJournalMalformed
	}
	names, ok1 := out[13].([]string)
	values, ok2 := out[14].([]*big.Int)
	if !ok1 || !ok2 {
		return nil, ErrJournalMalformed
	}
	if len(names) != len(values) {
		return nil, ErrJournalValues
	}
	m := &MetricRecord{
		Kind:         MetricKind(out[0].(uint8)),
		ParamsDigest: common.Hash(out[1].([32]byte)),
		Primary: CommitmentRef{
			Root: BlockRoot{
				Height:    out[2].(uint64),
				Hash:      common.Hash(out[3].([32]byte)),
				StateRoot: common.Hash(out[4].([32]byte)),
				Timestamp: out[5].(uint64),
			},
			Digest: common.Hash(out[6].([32]byte)),
		},
	}
	if out[7].(bool) {
		m.Past = &CommitmentRef{
			Root: BlockRoot{
				Height:    out[8].(uint64),
				Hash:      common.Hash(out[9].([32]byte)),
				StateRoot: common.Hash(out[10].([32]byte)),
				Timestamp: out[11].(uint64),
			},
			Digest: common.Hash(out[12].([32]byte)),
		}
	}
	for i := range names {
		v, overflow := uint256.FromBig(values[i])
		if overflow {
			return nil, ErrJournalMalformed
		}
		m.Values = append(m.Values, NamedValue{Name: names[i], Value: v})
	}
	again, err := m.EncodeJournal()
	if err != nil || !bytes.Equal(again, data) {
		return nil, ErrJournalNonCanonical
	}
	return m, nil
}
