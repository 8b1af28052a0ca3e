// Package types defines the data model shared by every stage of the metric
// proof pipeline: block roots, state commitments, metric records, proof
// artifacts and verified metrics.
package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// commitmentDomain separates commitment digests from every other keccak
// preimage produced by this module.
var commitmentDomain = []byte("metricproof/commitment/v1")

// BlockRoot identifies a chain state at a height. Hash is the identifying
// root compared against the block-hash oracle; StateRoot is the state trie
// root the header commits to.
type BlockRoot struct {
	Height    uint64
	Hash      common.Hash
	StateRoot common.Hash
	Timestamp uint64
}

// String implements fmt.Stringer.
func (r BlockRoot) String() string {
	return fmt.Sprintf("#%d(%s)", r.Height, r.Hash.TerminalString())
}

// ReadKey is a single (address, slot) storage location requested by a metric.
type ReadKey struct {
	Address common.Address
	Slot    common.Hash
}

// Less orders keys by address, then slot.
func (k ReadKey) Less(o ReadKey) bool {
	if c := bytes.Compare(k.Address[:], o.Address[:]); c != 0 {
		return c < 0
	}
	return bytes.Compare(k.Slot[:], o.Slot[:]) < 0
}

// StateRead is a storage value actually consulted, bound to its location.
type StateRead struct {
	Address common.Address
	Slot    common.Hash
	Value   common.Hash
}

// Key returns the location of the read.
func (r StateRead) Key() ReadKey {
	return ReadKey{Address: r.Address, Slot: r.Slot}
}

// StorageWitness is the MPT proof of one storage slot against the account's
// storage root.
type StorageWitness struct {
	Slot  common.Hash
	Proof [][]byte
}

// AccountWitness is the MPT proof of one account against the state root,
// followed by the proofs of the slots read from it.
type AccountWitness struct {
	Address common.Address
	Proof   [][]byte
	Storage []StorageWitness
}

// Witness carries the data needed to re-authenticate a commitment's reads
// from its block hash alone. It is not covered by the commitment digest.
type Witness struct {
	Header   []byte // RLP-encoded block header
	Accounts []AccountWitness
}

// StateCommitment binds a computation to an exact set of reads at one block.
type StateCommitment struct {
	Root    BlockRoot
	Reads   []StateRead
	Digest  common.Hash
	Witness *Witness `rlp:"nil"`
}

// NewStateCommitment canonicalises reads and derives the digest. Duplicate
// locations are rejected since they would make the digest ambiguous.
func NewStateCommitment(root BlockRoot, reads []StateRead, w *Witness) (*StateCommitment, error) {
	sorted := make([]StateRead, len(reads))
	copy(sorted, reads)
	SortReads(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Key() == sorted[i].Key() {
			return nil, fmt.Errorf("duplicate read %s/%s", sorted[i].Address.Hex(), sorted[i].Slot.Hex())
		}
	}
	return &StateCommitment{
		Root:    root,
		Reads:   sorted,
		Digest:  CommitmentDigest(root, sorted),
		Witness: w,
	}, nil
}

// SortReads orders reads canonically in place.
func SortReads(reads []StateRead) {
	sort.Slice(reads, func(i, j int) bool {
		return reads[i].Key().Less(reads[j].Key())
	})
}

// SortKeys orders keys canonically in place and drops duplicates.
func SortKeys(keys []ReadKey) []ReadKey {
	out := make([]ReadKey, len(keys))
	copy(out, keys)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}

// CommitmentDigest hashes the block root and the reads in the order given.
// Callers pass canonically sorted reads.
func CommitmentDigest(root BlockRoot, reads []StateRead) common.Hash {
	var u64 [8]byte
	h := sha3.NewLegacyKeccak256()
	h.Write(commitmentDomain)
	binary.BigEndian.PutUint64(u64[:], root.Height)
	h.Write(u64[:])
	h.Write(root.Hash[:])
	h.Write(root.StateRoot[:])
	binary.BigEndian.PutUint64(u64[:], root.Timestamp)
	h.Write(u64[:])
	binary.BigEndian.PutUint64(u64[:], uint64(len(reads)))
	h.Write(u64[:])
	for _, r := range reads {
		h.Write(r.Address[:])
		h.Write(r.Slot[:])
		h.Write(r.Value[:])
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// Verify recomputes the digest and checks the canonical ordering.
func (c *StateCommitment) Verify() error {
	for i := 1; i < len(c.Reads); i++ {
		if !c.Reads[i-1].Key().Less(c.Reads[i].Key()) {
			return fmt.Errorf("reads not in canonical order at %d", i)
		}
	}
	if got := CommitmentDigest(c.Root, c.Reads); got != c.Digest {
		return fmt.Errorf("commitment digest mismatch: have %s, want %s", c.Digest.Hex(), got.Hex())
	}
	return nil
}

// Lookup returns the value read at key, if present.
func (c *StateCommitment) Lookup(key ReadKey) (common.Hash, bool) {
	i := sort.Search(len(c.Reads), func(i int) bool {
		return !c.Reads[i].Key().Less(key)
	})
	if i < len(c.Reads) && c.Reads[i].Key() == key {
		return c.Reads[i].Value, true
	}
	return common.Hash{}, false
}

// Covers reports whether every key is present in the read set, returning
// the first missing one otherwise.
func (c *StateCommitment) Covers(keys []ReadKey) (ReadKey, bool) {
	for _, k := range keys {
		if _, ok := c.Lookup(k); !ok {
			return k, false
		}
	}
	return ReadKey{}, true
}

// Ref returns the reference embedded in metric records.
func (c *StateCommitment) Ref() CommitmentRef {
	return CommitmentRef{Root: c.Root, Digest: c.Digest}
}
